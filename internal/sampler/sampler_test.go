// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

package sampler

import (
	"context"
	"math/rand/v2"
	"sort"
	"strings"
	"testing"

	"github.com/tomtom215/timbre/internal/config"
	"github.com/tomtom215/timbre/internal/library"
)

// fakeSource holds tracks as genre and album per engine id.
type fakeSource struct {
	genres []string
	albums []string
}

func (f *fakeSource) Count(context.Context) (int, error) { return len(f.genres), nil }

func (f *fakeSource) Albums(context.Context) ([]library.Album, error) {
	seen := map[string]bool{}
	var out []library.Album
	for _, a := range f.albums {
		if a != "" && !seen[a] {
			seen[a] = true
			out = append(out, library.Album{Artist: "x", Name: a})
		}
	}
	return out, nil
}

func (f *fakeSource) SampleTrack(_ context.Context, a library.Album) (int, bool, error) {
	for id, name := range f.albums {
		if name == a.Name {
			return id, true, nil
		}
	}
	return 0, false, nil
}

func (f *fakeSource) GenreHistogram(context.Context) ([]library.GenreCount, error) {
	counts := map[string]int{}
	for _, g := range f.genres {
		if g != "" {
			counts[g]++
		}
	}
	var out []library.GenreCount
	for g, n := range counts {
		out = append(out, library.GenreCount{Genre: g, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Genre < out[j].Genre
	})
	return out, nil
}

func (f *fakeSource) TracksWithGenre(_ context.Context, genre string) ([]int, error) {
	var out []int
	for id, g := range f.genres {
		if strings.EqualFold(g, genre) {
			out = append(out, id)
		}
	}
	return out, nil
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) //nolint:gosec // deterministic test RNG
}

func repeat(s string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s
	}
	return out
}

func TestSmallCatalogIsWholeSample(t *testing.T) {
	t.Parallel()

	src := &fakeSource{genres: repeat("rock", 7), albums: repeat("a", 7)}
	got, err := New(src, newRand(1)).SelectStyleSample(context.Background(), 10, config.StyleMethodGenres)
	if err != nil {
		t.Fatalf("SelectStyleSample() error = %v", err)
	}
	if len(got) != 7 {
		t.Fatalf("len = %d, want 7", len(got))
	}
	for i, id := range got {
		if id != i {
			t.Errorf("sample[%d] = %d, want %d", i, id, i)
		}
	}
}

func TestGenresProportional(t *testing.T) {
	t.Parallel()

	genres := append(repeat("rock", 80), repeat("jazz", 20)...)
	src := &fakeSource{genres: genres, albums: make([]string, 100)}

	for seed := uint64(1); seed <= 5; seed++ {
		got, err := New(src, newRand(seed)).SelectStyleSample(context.Background(), 10, config.StyleMethodGenres)
		if err != nil {
			t.Fatalf("SelectStyleSample() error = %v", err)
		}
		if len(got) != 10 {
			t.Fatalf("seed %d: len = %d, want 10", seed, len(got))
		}
		rock, jazz := 0, 0
		for _, id := range got {
			if genres[id] == "rock" {
				rock++
			} else {
				jazz++
			}
		}
		if rock != 8 || jazz != 2 {
			t.Errorf("seed %d: rock = %d, jazz = %d; want 8 and 2", seed, rock, jazz)
		}
	}
}

func TestGenresTopsUpUntagged(t *testing.T) {
	t.Parallel()

	// 5 of 50 tagged: two genre slots, the rest topped up.
	genres := append(repeat("ambient", 5), make([]string, 45)...)
	src := &fakeSource{genres: genres, albums: make([]string, 50)}

	got, err := New(src, newRand(3)).SelectStyleSample(context.Background(), 20, config.StyleMethodGenres)
	if err != nil {
		t.Fatalf("SelectStyleSample() error = %v", err)
	}
	if len(got) != 20 {
		t.Errorf("len = %d, want 20", len(got))
	}
	assertUniqueSorted(t, got, 50)
	ambient := 0
	for _, id := range got {
		if id < 5 {
			ambient++
		}
	}
	if ambient < 2 {
		t.Errorf("ambient tracks = %d, want at least 2", ambient)
	}
}

func TestAlbums(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		albums []string
		target int
	}{
		{"subsampled", []string{"a", "a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k"}, 5},
		{"topped up", []string{"a", "a", "a", "a", "b", "b", "b", "b", "", "", ""}, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			src := &fakeSource{genres: make([]string, len(tt.albums)), albums: tt.albums}
			got, err := New(src, newRand(7)).SelectStyleSample(context.Background(), tt.target, config.StyleMethodAlbums)
			if err != nil {
				t.Fatalf("SelectStyleSample() error = %v", err)
			}
			if len(got) != tt.target {
				t.Errorf("len = %d, want %d", len(got), tt.target)
			}
			assertUniqueSorted(t, got, len(tt.albums))
		})
	}
}

func TestAlbumsOnePerAlbumWhenSubsampling(t *testing.T) {
	t.Parallel()

	albums := []string{"a", "a", "a", "b", "b", "b", "c", "c", "c", "d", "d", "d"}
	src := &fakeSource{genres: make([]string, len(albums)), albums: albums}
	got, err := New(src, newRand(11)).SelectStyleSample(context.Background(), 3, config.StyleMethodAlbums)
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for _, id := range got {
		if seen[albums[id]] {
			t.Errorf("album %q sampled twice in %v", albums[id], got)
		}
		seen[albums[id]] = true
	}
}

func TestDeterministicForSeed(t *testing.T) {
	t.Parallel()

	genres := append(repeat("rock", 60), repeat("pop", 40)...)
	src := &fakeSource{genres: genres, albums: make([]string, 100)}
	a, _ := New(src, newRand(42)).SelectStyleSample(context.Background(), 10, config.StyleMethodGenres)
	b, _ := New(src, newRand(42)).SelectStyleSample(context.Background(), 10, config.StyleMethodGenres)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("samples differ for the same seed: %v vs %v", a, b)
		}
	}
}

func TestUnknownMethod(t *testing.T) {
	t.Parallel()

	src := &fakeSource{genres: make([]string, 20), albums: make([]string, 20)}
	if _, err := New(src, newRand(1)).SelectStyleSample(context.Background(), 5, "tempo"); err == nil {
		t.Error("SelectStyleSample(unknown) error = nil, want error")
	}
}

func assertUniqueSorted(t *testing.T, ids []int, n int) {
	t.Helper()
	for i, id := range ids {
		if id < 0 || id >= n {
			t.Errorf("id %d out of range [0,%d)", id, n)
		}
		if i > 0 && ids[i-1] >= id {
			t.Errorf("ids not strictly ascending at %d: %v", i, ids)
		}
	}
}
