// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

// Package sampler chooses the bounded, representative set of tracks the
// similarity engine's style model is fitted on.
package sampler

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/tomtom215/timbre/internal/config"
	"github.com/tomtom215/timbre/internal/library"
	"github.com/tomtom215/timbre/internal/logging"
)

// Source is the part of the metadata store the sampler reads.
type Source interface {
	Count(ctx context.Context) (int, error)
	Albums(ctx context.Context) ([]library.Album, error)
	SampleTrack(ctx context.Context, album library.Album) (int, bool, error)
	GenreHistogram(ctx context.Context) ([]library.GenreCount, error)
	TracksWithGenre(ctx context.Context, genre string) ([]int, error)
}

// Sampler is safe for concurrent use.
type Sampler struct {
	src Source

	mu  sync.Mutex
	rng *rand.Rand
}

// New returns a Sampler drawing from rng.
func New(src Source, rng *rand.Rand) *Sampler {
	return &Sampler{src: src, rng: rng}
}

// SelectStyleSample returns at most target engine ids, sorted ascending.
// The whole catalog is returned when it is no larger than target.
func (s *Sampler) SelectStyleSample(ctx context.Context, target int, method string) ([]int, error) {
	n, err := s.src.Count(ctx)
	if err != nil {
		return nil, err
	}
	if target <= 0 || n <= target {
		return seq(n), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var picked []int
	switch method {
	case config.StyleMethodAlbums:
		picked, err = s.byAlbum(ctx, target)
	case config.StyleMethodGenres:
		picked, err = s.byGenre(ctx, target, n)
	default:
		return nil, fmt.Errorf("unknown style method %q", method)
	}
	if err != nil {
		return nil, err
	}

	chosen := s.topUp(picked, n, target)
	logging.Debug().
		Str("method", method).
		Int("target", target).
		Int("selected", len(picked)).
		Int("sample", len(chosen)).
		Msg("Selected style sample")
	return chosen, nil
}

func (s *Sampler) byAlbum(ctx context.Context, target int) ([]int, error) {
	albums, err := s.src.Albums(ctx)
	if err != nil {
		return nil, err
	}
	var ids []int
	for _, a := range albums {
		id, ok, err := s.src.SampleTrack(ctx, a)
		if err != nil {
			return nil, err
		}
		if ok {
			ids = append(ids, id)
		}
	}
	if len(ids) > target {
		s.rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
		ids = ids[:target]
	}
	return ids, nil
}

// byGenre allocates slots to genres in proportion to their share of the
// n catalog tracks, most frequent genre first.
func (s *Sampler) byGenre(ctx context.Context, target, n int) ([]int, error) {
	hist, err := s.src.GenreHistogram(ctx)
	if err != nil {
		return nil, err
	}

	chosen := make(map[int]bool)
	var ids []int
	for _, gc := range hist {
		if len(ids) >= target {
			break
		}
		want := int(math.Round(float64(gc.Count) / float64(n) * float64(target)))
		want = min(max(want, 1), target-len(ids))

		tracks, err := s.src.TracksWithGenre(ctx, gc.Genre)
		if err != nil {
			return nil, err
		}
		s.rng.Shuffle(len(tracks), func(i, j int) { tracks[i], tracks[j] = tracks[j], tracks[i] })
		for _, id := range tracks {
			if want == 0 {
				break
			}
			if chosen[id] {
				continue
			}
			chosen[id] = true
			ids = append(ids, id)
			want--
		}
	}
	return ids, nil
}

// topUp fills picked to target with random unpicked ids and sorts.
func (s *Sampler) topUp(picked []int, n, target int) []int {
	chosen := make(map[int]bool, len(picked))
	out := make([]int, 0, target)
	for _, id := range picked {
		if !chosen[id] && id >= 0 && id < n {
			chosen[id] = true
			out = append(out, id)
		}
	}
	if len(out) < target {
		for _, id := range s.rng.Perm(n) {
			if len(out) == target {
				break
			}
			if !chosen[id] {
				chosen[id] = true
				out = append(out, id)
			}
		}
	}
	sort.Ints(out)
	return out
}

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
