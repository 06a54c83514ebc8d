// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

package api

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// maxBodyBytes bounds POST bodies. A long "previous" history is the
// largest legitimate payload.
const maxBodyBytes = 1 << 20

// paramError is a malformed parameter, reported as BAD_REQUEST.
type paramError struct {
	key    string
	reason string
}

func (e *paramError) Error() string {
	return e.key + " " + e.reason
}

// values is the request's parameters as a multi-map, whichever way they
// arrived: query string, form body or JSON body.
type values map[string][]string

func readValues(w http.ResponseWriter, r *http.Request) (values, error) {
	if r.Method != http.MethodPost {
		return values(r.URL.Query()), nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct != "application/json" {
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("parse form: %w", err)
		}
		return values(r.Form), nil
	}

	var body map[string]any
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("decode JSON body: %w", err)
	}
	v := values(r.URL.Query())
	for k, raw := range body {
		list, err := flatten(raw)
		if err != nil {
			return nil, &paramError{key: k, reason: err.Error()}
		}
		v[k] = list
	}
	return v, nil
}

// flatten turns a JSON value into the string list a form field would
// carry. Nested arrays and objects are rejected.
func flatten(raw any) ([]string, error) {
	switch x := raw.(type) {
	case nil:
		return nil, nil
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			s, err := scalar(item)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	default:
		s, err := scalar(x)
		if err != nil {
			return nil, err
		}
		return []string{s}, nil
	}
}

func scalar(raw any) (string, error) {
	switch x := raw.(type) {
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case bool:
		if x {
			return "1", nil
		}
		return "0", nil
	default:
		return "", errors.New("must be a string, number or boolean")
	}
}

func (v values) str(key string) string {
	if s := v[key]; len(s) > 0 {
		return strings.TrimSpace(s[0])
	}
	return ""
}

// list merges every non-blank value of keys, in order.
func (v values) list(keys ...string) []string {
	var out []string
	for _, k := range keys {
		for _, s := range v[k] {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func (v values) flag(key string) bool {
	switch strings.ToLower(v.str(key)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func (v values) intOr(key string, def int) (int, error) {
	s := v.str(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		// JSON clients may send 10.0.
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || f != float64(int(f)) {
			return 0, &paramError{key: key, reason: "must be an integer"}
		}
		n = int(f)
	}
	return n, nil
}

func (v values) floatOr(key string, def float64) (float64, error) {
	s := v.str(key)
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &paramError{key: key, reason: "must be a number"}
	}
	return f, nil
}
