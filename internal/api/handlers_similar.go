// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

package api

import (
	"net/http"

	"github.com/tomtom215/timbre/internal/logging"
	"github.com/tomtom215/timbre/internal/similar"
	"github.com/tomtom215/timbre/internal/validation"
)

const (
	formatJSON    = "json"
	formatText    = "text"
	formatTextURL = "text-url"
)

// similarParams are the /api/similar parameters after parsing. Counts and
// repeat windows are clamped by the service rather than rejected.
type similarParams struct {
	Tracks         []string `json:"track" validate:"required,min=1,dive,trackid"`
	Previous       []string `json:"previous" validate:"dive,trackid"`
	Ignore         []string `json:"ignore" validate:"dive,trackid"`
	ExcludeArtists []string `json:"exclude"`
	ExcludeAlbums  []string `json:"excludealbum"`

	Count          int     `json:"count"`
	MinDuration    int     `json:"min" validate:"gte=0"`
	MaxDuration    int     `json:"max" validate:"gte=0"`
	MaxSimilarity  float64 `json:"maxsim" validate:"gte=0,lte=1"`
	NoRepeatArtist int     `json:"norepart"`
	NoRepeatAlbum  int     `json:"norepalb"`
	MatchGenre     bool    `json:"filtergenre"`
	FilterXmas     bool    `json:"filterxmas"`
	Shuffle        bool    `json:"shuffle"`
	Format         string  `json:"format" validate:"omitempty,oneof=json text"`
}

func (h *Handler) parseSimilar(v values) (*similarParams, error) {
	s := h.cfg.Similar
	p := &similarParams{
		Tracks:         v.list("track"),
		Previous:       v.list("previous"),
		Ignore:         v.list("ignore"),
		ExcludeArtists: v.list("exclude", "excludeartist"),
		ExcludeAlbums:  v.list("excludealbum"),
		MatchGenre:     v.flag("filtergenre"),
		FilterXmas:     v.flag("filterxmas"),
		Shuffle:        v.flag("shuffle"),
		Format:         v.str("format"),
	}
	var err error
	if p.Count, err = v.intOr("count", s.DefaultCount); err != nil {
		return nil, err
	}
	if p.MinDuration, err = v.intOr("min", 0); err != nil {
		return nil, err
	}
	if p.MaxDuration, err = v.intOr("max", 0); err != nil {
		return nil, err
	}
	if p.NoRepeatArtist, err = v.intOr("norepart", s.NoRepeatArtist); err != nil {
		return nil, err
	}
	if p.NoRepeatAlbum, err = v.intOr("norepalb", s.NoRepeatAlbum); err != nil {
		return nil, err
	}
	if p.MaxSimilarity, err = v.floatOr("maxsim", s.MaxSimilarity); err != nil {
		return nil, err
	}
	// Accept percentages as well as fractions.
	if p.MaxSimilarity > 1 && p.MaxSimilarity <= 100 {
		p.MaxSimilarity /= 100
	}
	return p, nil
}

func (h *Handler) similarRequest(p *similarParams) similar.Request {
	return similar.Request{
		Seeds:          h.decodeAll(p.Tracks),
		Previous:       h.decodeAll(p.Previous),
		Ignore:         h.decodeAll(p.Ignore),
		ExcludeArtists: p.ExcludeArtists,
		ExcludeAlbums:  p.ExcludeAlbums,
		Count:          p.Count,
		MatchGenre:     p.MatchGenre,
		FilterXmas:     p.FilterXmas,
		Shuffle:        p.Shuffle,
		MaxSimilarity:  p.MaxSimilarity,
		MinDuration:    p.MinDuration,
		MaxDuration:    p.MaxDuration,
		NoRepeatArtist: p.NoRepeatArtist,
		NoRepeatAlbum:  p.NoRepeatAlbum,
	}
}

// Similar handles /api/similar. The response is a bare JSON array of
// track URLs, or one URL per line with format=text.
func (h *Handler) Similar(w http.ResponseWriter, r *http.Request) {
	v, err := readValues(w, r)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	p, err := h.parseSimilar(v)
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
	tracks, err := h.similar.Similar(ctx, h.similarRequest(p))
	if err != nil {
		queryFailed(w, r, err)
		return
	}

	urls := make([]string, len(tracks))
	for i, t := range tracks {
		urls[i] = h.codec.EncodeURL(t.File)
	}
	logging.Ctx(r.Context()).Debug().
		Int("seeds", len(p.Tracks)).
		Int("count", p.Count).
		Int("returned", len(urls)).
		Msg("Similar tracks computed")

	if p.Format == formatText {
		respondText(w, urls)
		return
	}
	writeJSON(w, http.StatusOK, urls)
}
