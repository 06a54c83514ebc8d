// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

package cue

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Marker separates a source file from its time range in the names of
// materialised sub-clips: "<file>.CUE_TRACK.<start>-<end>.mp3".
const Marker = ".CUE_TRACK."

const (
	fileScheme = "file://"
	tmpScheme  = "tmp://"
	clipExt    = ".mp3"
)

// Key joins a physical path and a range into a store key.
func Key(source, rng string) string {
	return source + "#" + rng
}

// SplitKey separates a store key into its physical path and range. ok is
// false for plain files.
func SplitKey(key string) (source, rng string, ok bool) {
	i := strings.LastIndexByte(key, '#')
	if i <= 0 {
		return key, "", false
	}
	if _, _, err := ParseRange(key[i+1:]); err != nil {
		return key, "", false
	}
	return key[:i], key[i+1:], true
}

// ParseRange parses "start-end" in seconds.
func ParseRange(rng string) (start, end float64, err error) {
	s, e, found := strings.Cut(rng, "-")
	if !found {
		return 0, 0, fmt.Errorf("cue range %q: missing '-'", rng)
	}
	if start, err = strconv.ParseFloat(s, 64); err != nil {
		return 0, 0, fmt.Errorf("cue range %q: %w", rng, err)
	}
	if end, err = strconv.ParseFloat(e, 64); err != nil {
		return 0, 0, fmt.Errorf("cue range %q: %w", rng, err)
	}
	if start < 0 || end <= start {
		return 0, 0, fmt.Errorf("cue range %q: empty or negative", rng)
	}
	return start, end, nil
}

// Codec converts between client-facing track URLs and store keys.
type Codec struct {
	// ClientRoot is the library root as clients see it. It is stripped
	// from inbound paths and prepended to outbound ones.
	ClientRoot string
}

// NewCodec returns a Codec for root.
func NewCodec(root string) Codec {
	return Codec{ClientRoot: strings.TrimSuffix(root, "/")}
}

// DecodeURL turns an inbound identifier into a store key. It accepts
// percent-encoded file:// and tmp:// URLs, absolute paths under the client
// root, relative paths, and materialised clip names.
func (c Codec) DecodeURL(s string) string {
	if unescaped, err := url.PathUnescape(s); err == nil {
		s = unescaped
	}
	switch {
	case strings.HasPrefix(s, fileScheme):
		s = s[len(fileScheme):]
	case strings.HasPrefix(s, tmpScheme):
		s = s[len(tmpScheme):]
	}
	if c.ClientRoot != "" {
		if rest, ok := strings.CutPrefix(s, c.ClientRoot+"/"); ok {
			s = rest
		}
	}
	s = strings.TrimPrefix(s, "./")
	if i := strings.LastIndex(s, Marker); i > 0 {
		rng := strings.TrimSuffix(s[i+len(Marker):], clipExt)
		if _, _, err := ParseRange(rng); err == nil {
			s = Key(s[:i], rng)
		}
	}
	return s
}

// EncodeURL is the inverse of DecodeURL for store keys. Without a client
// root the result is a bare escaped path, never "./"-prefixed, even when
// the first segment contains a colon.
func (c Codec) EncodeURL(key string) string {
	source, rng, ok := SplitKey(key)
	var out string
	if c.ClientRoot == "" {
		out = (&url.URL{Path: source}).EscapedPath()
	} else {
		out = (&url.URL{Scheme: "file", Path: c.ClientRoot + "/" + source}).String()
	}
	if ok {
		out += "#" + rng
	}
	return out
}

// ClipName returns the file name of a materialised sub-clip, relative to
// the scratch directory.
func ClipName(source, rng string) string {
	return source + Marker + rng + clipExt
}
