// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

package genres

import (
	"reflect"
	"testing"
)

func testTaxonomy() *Taxonomy {
	return New([][]string{
		{"Rock", "Hard Rock", "Metal"},
		{"Pop", "Dance", "rock"},
		{"Jazz", "Blues"},
	})
}

func TestExpand(t *testing.T) {
	t.Parallel()

	tx := testTaxonomy()
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"single group", []string{"metal"}, []string{"rock", "hard rock", "metal"}},
		{"member of two groups", []string{"rock"}, []string{"rock", "hard rock", "metal", "pop", "dance"}},
		{"unknown genre", []string{"polka"}, nil},
		{"empty", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tx.Expand(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Expand(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestMatches(t *testing.T) {
	t.Parallel()

	tx := testTaxonomy()
	seeds := tx.Expand([]string{"jazz"})
	tests := []struct {
		name  string
		seeds []string
		track []string
		want  bool
	}{
		{"no track genres", seeds, nil, true},
		{"overlap", seeds, []string{"blues"}, true},
		{"no overlap", seeds, []string{"metal"}, false},
		{"empty seeds, configured track genre", nil, []string{"metal"}, false},
		{"empty seeds, unconfigured track genre", nil, []string{"polka"}, true},
	}
	for _, tt := range tests {
		if got := tx.Matches(tt.seeds, tt.track); got != tt.want {
			t.Errorf("%s: Matches(%v, %v) = %v, want %v", tt.name, tt.seeds, tt.track, got, tt.want)
		}
	}
}

func TestPenalty(t *testing.T) {
	t.Parallel()

	tx := testTaxonomy()
	own := []string{"jazz"}
	allowed := tx.Expand(own)
	tests := []struct {
		name    string
		own     []string
		allowed []string
		track   []string
		want    float64
	}{
		{"seed lacks genres", nil, nil, []string{"jazz"}, PenaltyMissing},
		{"track lacks genres", own, allowed, nil, PenaltyMissing},
		{"exact overlap", own, allowed, []string{"pop", "jazz"}, 0},
		{"primary in group", own, allowed, []string{"blues"}, PenaltyNear},
		{"primary outside group", own, allowed, []string{"metal", "blues"}, PenaltyOutside},
		{"ungrouped seed, configured primary", []string{"polka"}, nil, []string{"metal"}, PenaltyOutside},
		{"ungrouped seed, unconfigured primary", []string{"polka"}, nil, []string{"ska"}, PenaltyNear},
	}
	for _, tt := range tests {
		if got := tx.Penalty(tt.own, tt.allowed, tt.track); got != tt.want {
			t.Errorf("%s: Penalty() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestIsChristmas(t *testing.T) {
	t.Parallel()

	if !IsChristmas([]string{"pop", "xmas"}) {
		t.Error("IsChristmas(pop, xmas) = false, want true")
	}
	if IsChristmas([]string{"pop"}) {
		t.Error("IsChristmas(pop) = true, want false")
	}
}
