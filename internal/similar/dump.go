// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

package similar

import (
	"cmp"
	"context"
	"slices"
)

// DumpRequest asks for the ranked neighbours of one seed.
type DumpRequest struct {
	Seed         string
	Count        int  // 0 returns every neighbour
	FilterArtist bool // only the seed's own artist
}

// DumpEntry is one ranked neighbour with its metadata.
type DumpEntry struct {
	File     string   `json:"file"`
	Distance float64  `json:"distance"`
	Score    float64  `json:"score"`
	Title    string   `json:"title,omitempty"`
	Artist   string   `json:"artist,omitempty"`
	Album    string   `json:"album,omitempty"`
	Genres   []string `json:"genres,omitempty"`
	Duration int      `json:"duration,omitempty"`
}

// Dump ranks every neighbour of req.Seed by genre-adjusted score, without
// any of the playlist filters. An unknown seed yields an empty result.
func (s *Service) Dump(ctx context.Context, req DumpRequest) ([]DumpEntry, error) {
	snap := s.snapshot()
	if snap == nil {
		return nil, ErrNotReady
	}
	ids := resolve(ctx, snap, []string{req.Seed}, "seed")
	if len(ids) == 0 {
		return []DumpEntry{}, nil
	}
	seed := ids[0]
	seedMeta, _ := snap.Catalog.Get(seed)
	allowed := s.taxonomy.Expand(seedMeta.Genres)

	list, err := s.lookup(snap, seed, true)
	if err != nil {
		return nil, err
	}

	out := make([]DumpEntry, 0, len(list.items))
	for _, n := range list.items {
		if n.ID == seed || !usable(n.Distance) {
			continue
		}
		m, ok := snap.Catalog.Get(n.ID)
		if !ok {
			continue
		}
		if req.FilterArtist && (seedMeta.Artist == "" || m.Artist != seedMeta.Artist) {
			continue
		}
		out = append(out, DumpEntry{
			File:     m.File,
			Distance: n.Distance,
			Score:    n.Distance + s.penalty(seedMeta, allowed, m),
			Title:    m.Title,
			Artist:   m.Artist,
			Album:    m.Album,
			Genres:   m.Genres,
			Duration: m.Duration,
		})
	}

	slices.SortStableFunc(out, func(a, b DumpEntry) int {
		if c := cmp.Compare(a.Score, b.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Distance, b.Distance)
	})
	if req.Count > 0 && len(out) > req.Count {
		out = out[:req.Count]
	}
	return out, nil
}
