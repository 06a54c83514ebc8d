// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

// Package genres implements the configured genre taxonomy: groups of
// interchangeable labels, and the matching and penalty rules built on them.
// All labels are compared lower-cased.
package genres

import (
	"slices"
	"strings"
)

// Penalties added to a raw distance when ranking candidates.
const (
	PenaltyMissing = 0.1
	PenaltyOutside = 0.05
	PenaltyNear    = 0.025
)

var christmasGenres = []string{"christmas", "xmas"}

// Taxonomy is immutable once built and safe for concurrent use.
type Taxonomy struct {
	groups [][]string
	all    map[string]struct{}
}

// New builds a taxonomy from configured groups.
func New(groups [][]string) *Taxonomy {
	t := &Taxonomy{all: make(map[string]struct{})}
	for _, g := range groups {
		var group []string
		for _, label := range g {
			label = strings.ToLower(strings.TrimSpace(label))
			if label == "" || slices.Contains(group, label) {
				continue
			}
			group = append(group, label)
			t.all[label] = struct{}{}
		}
		if len(group) > 0 {
			t.groups = append(t.groups, group)
		}
	}
	return t
}

// Known reports whether genre appears in any group.
func (t *Taxonomy) Known(genre string) bool {
	_, ok := t.all[genre]
	return ok
}

// Size is the number of distinct configured genres.
func (t *Taxonomy) Size() int {
	return len(t.all)
}

// Expand returns the union of every group containing one of genres, in
// group order. Genres outside all groups contribute nothing.
func (t *Taxonomy) Expand(genres []string) []string {
	var out []string
	for _, group := range t.groups {
		if !intersects(group, genres) {
			continue
		}
		for _, g := range group {
			if !slices.Contains(out, g) {
				out = append(out, g)
			}
		}
	}
	return out
}

// Matches reports whether a track with trackGenres passes the genre filter
// for the expanded seed set. A track without genres always passes. With
// an empty seed set, a track passes only if none of its genres is a
// configured one.
func (t *Taxonomy) Matches(seedGenres, trackGenres []string) bool {
	if len(trackGenres) == 0 {
		return true
	}
	if len(seedGenres) == 0 {
		for _, g := range trackGenres {
			if t.Known(g) {
				return false
			}
		}
		return true
	}
	return intersects(seedGenres, trackGenres)
}

// Penalty is the ranking adjustment for a candidate. seedOwn are the
// seed's own genres, allowed the expanded set.
func (t *Taxonomy) Penalty(seedOwn, allowed, trackGenres []string) float64 {
	if len(seedOwn) == 0 || len(trackGenres) == 0 {
		return PenaltyMissing
	}
	if intersects(seedOwn, trackGenres) {
		return 0
	}
	primary := trackGenres[0]
	var outside bool
	if len(allowed) == 0 {
		outside = t.Known(primary)
	} else {
		outside = !slices.Contains(allowed, primary)
	}
	if outside {
		return PenaltyOutside
	}
	return PenaltyNear
}

// IsChristmas reports whether any genre is a Christmas label.
func IsChristmas(genres []string) bool {
	return intersects(christmasGenres, genres)
}

func intersects(a, b []string) bool {
	for _, x := range a {
		if slices.Contains(b, x) {
			return true
		}
	}
	return false
}
