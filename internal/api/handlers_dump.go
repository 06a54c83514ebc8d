// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

package api

import (
	"fmt"
	"net/http"

	"github.com/tomtom215/timbre/internal/similar"
	"github.com/tomtom215/timbre/internal/validation"
)

type dumpParams struct {
	Tracks       []string `json:"track" validate:"required,len=1,dive,trackid"`
	Count        int      `json:"count" validate:"gte=0"`
	FilterArtist bool     `json:"filterartist"`
	Format       string   `json:"format" validate:"omitempty,oneof=json text text-url"`
}

func parseDump(v values) (*dumpParams, error) {
	p := &dumpParams{
		Tracks:       v.list("track"),
		FilterArtist: v.flag("filterartist"),
		Format:       v.str("format"),
	}
	var err error
	if p.Count, err = v.intOr("count", 0); err != nil {
		return nil, err
	}
	return p, nil
}

// Dump handles /api/dump: every neighbour of a single seed ranked by
// genre-adjusted score. format=json returns entries with metadata,
// format=text one tab-separated line per entry and format=text-url just
// the URLs.
func (h *Handler) Dump(w http.ResponseWriter, r *http.Request) {
	v, err := readValues(w, r)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	p, err := parseDump(v)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	if verr := validation.ValidateStruct(p); verr != nil {
		invalid(w, r, verr)
		return
	}

	ctx, cancel := h.queryContext(r)
	defer cancel()
	entries, err := h.similar.Dump(ctx, similar.DumpRequest{
		Seed:         h.codec.DecodeURL(p.Tracks[0]),
		Count:        p.Count,
		FilterArtist: p.FilterArtist,
	})
	if err != nil {
		queryFailed(w, r, err)
		return
	}
	for i := range entries {
		entries[i].File = h.codec.EncodeURL(entries[i].File)
	}

	switch p.Format {
	case formatText:
		lines := make([]string, len(entries))
		for i, e := range entries {
			lines[i] = fmt.Sprintf("%s\t%.6f\t%.6f\t%s\t%s\t%s", e.File, e.Score, e.Distance, e.Artist, e.Album, e.Title)
		}
		respondText(w, lines)
	case formatTextURL:
		lines := make([]string, len(entries))
		for i, e := range entries {
			lines[i] = e.File
		}
		respondText(w, lines)
	default:
		writeJSON(w, http.StatusOK, entries)
	}
}
