// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

// Package similar turns raw nearest-neighbour lists into playlist
// suggestions.
//
// For every resolved seed the neighbour list is scanned in ascending
// distance order and each candidate passes through a fixed chain of
// filters. The first matching filter wins: a candidate is either discarded,
// parked in one of three fallback buckets, or accepted with a genre-adjusted
// score. Accepted tracks are collapsed per artist, topped up from the
// buckets when too few survive, sorted, truncated and optionally shuffled.
//
// Requests never mutate the snapshot; the only shared state is the
// neighbour cache and the random source, both safe for concurrent use.
package similar

import (
	"cmp"
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/tomtom215/timbre/internal/cache"
	"github.com/tomtom215/timbre/internal/config"
	"github.com/tomtom215/timbre/internal/engine"
	"github.com/tomtom215/timbre/internal/genres"
	"github.com/tomtom215/timbre/internal/index"
	"github.com/tomtom215/timbre/internal/library"
	"github.com/tomtom215/timbre/internal/logging"
	"github.com/tomtom215/timbre/internal/metrics"
	"github.com/tomtom215/timbre/internal/normalize"
)

// ErrNotReady is returned while no index snapshot is loaded.
var ErrNotReady = errors.New("similar: index not loaded")

// neighborDepth is how much of a neighbour list the cache keeps. Scans
// that run past it query the engine again.
const neighborDepth = 1024

// Request is one /api/similar call with keys already decoded.
type Request struct {
	Seeds          []string
	Previous       []string // oldest first
	Ignore         []string // oldest first
	ExcludeArtists []string
	ExcludeAlbums  []string // "albumartist - album"

	Count         int
	MatchGenre    bool
	FilterXmas    bool
	Shuffle       bool
	MaxSimilarity float64
	MinDuration   int // seconds, 0 = unbounded
	MaxDuration   int // seconds, 0 = unbounded

	NoRepeatArtist int
	NoRepeatAlbum  int
}

// Track is one suggestion. Score orders the results; Distance is the
// engine's raw value.
type Track struct {
	File     string  `json:"file"`
	Distance float64 `json:"distance"`
	Score    float64 `json:"score"`
}

type neighborKey struct {
	snap *index.Snapshot
	seed int
}

type neighborList struct {
	items    []engine.Neighbor
	complete bool
}

// Service answers similarity requests against the current snapshot.
type Service struct {
	cfg         config.SimilarConfig
	taxonomy    *genres.Taxonomy
	normalizer  *normalize.Normalizer
	ignoreGenre map[string]bool
	snapshot    func() *index.Snapshot
	neighbors   *cache.LRU[neighborKey, neighborList]
	now         func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRand replaces the random source used for collapsing and shuffling.
func WithRand(r *rand.Rand) Option {
	return func(s *Service) { s.rng = r }
}

// New returns a Service reading snapshots from snapshot.
func New(cfg config.SimilarConfig, taxonomy *genres.Taxonomy, n *normalize.Normalizer, snapshot func() *index.Snapshot, opts ...Option) *Service {
	s := &Service{
		cfg:         cfg,
		taxonomy:    taxonomy,
		normalizer:  n,
		ignoreGenre: make(map[string]bool, len(cfg.IgnoreGenreArtists)),
		snapshot:    snapshot,
		neighbors:   cache.NewLRU[neighborKey, neighborList](cfg.NeighborCacheSize),
		now:         time.Now,
	}
	for _, a := range cfg.IgnoreGenreArtists {
		if a = n.Artist(a); a != "" {
			s.ignoreGenre[a] = true
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		now := uint64(s.now().UnixNano()) //nolint:gosec // seed only
		s.rng = rand.New(rand.NewPCG(now, now>>32))
	}
	return s
}

// NewRequest returns a request for seeds with the configured defaults.
func (s *Service) NewRequest(seeds ...string) Request {
	return Request{
		Seeds:          seeds,
		Count:          s.cfg.DefaultCount,
		MaxSimilarity:  s.cfg.MaxSimilarity,
		NoRepeatArtist: s.cfg.NoRepeatArtist,
		NoRepeatAlbum:  s.cfg.NoRepeatAlbum,
	}
}

// clamp applies the configured bounds to req.
func (s *Service) clamp(req Request) Request {
	if req.Count <= 0 {
		req.Count = s.cfg.DefaultCount
	}
	req.Count = min(max(req.Count, s.cfg.MinCount), s.cfg.MaxCount)
	if req.MaxSimilarity <= 0 {
		req.MaxSimilarity = s.cfg.MaxSimilarity
	}
	req.NoRepeatArtist = min(max(req.NoRepeatArtist, 0), s.cfg.MaxNoRepeat)
	req.NoRepeatAlbum = min(max(req.NoRepeatAlbum, 0), s.cfg.MaxNoRepeat)
	// The Christmas filter only applies outside December.
	req.FilterXmas = req.FilterXmas && s.now().Month() != time.December
	return req
}

// Similar returns up to req.Count suggestions. Unknown keys are dropped;
// with no resolvable seed the result is empty.
func (s *Service) Similar(ctx context.Context, req Request) ([]Track, error) {
	snap := s.snapshot()
	if snap == nil {
		return nil, ErrNotReady
	}
	req = s.clamp(req)
	r := newRun(ctx, s, snap, req)

	budget := req.Count
	if req.Shuffle {
		budget = req.Count * max(s.cfg.ShuffleFactor, 1)
	}

	for i := range r.seeds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.scan(i, budget)
	}

	out := r.finish(budget)
	r.record()
	return out, nil
}

// lookup fetches the neighbours of seed, from the cache unless full is set.
func (s *Service) lookup(snap *index.Snapshot, seed int, full bool) (neighborList, error) {
	key := neighborKey{snap: snap, seed: seed}
	if !full {
		if l, ok := s.neighbors.Get(key); ok {
			metrics.NeighborCacheHits.Inc()
			return l, nil
		}
		metrics.NeighborCacheMisses.Inc()
	}
	items, err := snap.NeighborQuery(seed)
	if err != nil {
		return neighborList{}, err
	}
	l := neighborList{items: items, complete: true}
	if len(items) > neighborDepth {
		s.neighbors.Add(key, neighborList{items: slices.Clone(items[:neighborDepth])})
	} else {
		s.neighbors.Add(key, l)
	}
	return l, nil
}

// penalty is the genre adjustment shared by Similar and Dump.
func (s *Service) penalty(seed *library.Meta, allowed []string, track *library.Meta) float64 {
	if s.ignoreGenre[seed.Artist] {
		return 0
	}
	return s.taxonomy.Penalty(seed.Genres, allowed, track.Genres)
}

func (s *Service) shuffle(tracks []Track) {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	s.rng.Shuffle(len(tracks), func(i, j int) { tracks[i], tracks[j] = tracks[j], tracks[i] })
}

func (s *Service) intN(n int) int {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.IntN(n)
}

// resolve maps keys to engine ids, dropping unknown ones.
func resolve(ctx context.Context, snap *index.Snapshot, keys []string, kind string) []int {
	ids := make([]int, 0, len(keys))
	for _, k := range keys {
		id, ok := snap.Catalog.Lookup(k)
		if !ok {
			logging.Ctx(ctx).Warn().Str("track", k).Str("kind", kind).Msg("Track not in index, ignoring")
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// sortTracks orders by score, then raw distance, then file.
func sortTracks(tracks []Track) {
	slices.SortStableFunc(tracks, func(a, b Track) int {
		if c := cmp.Compare(a.Score, b.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.File, b.File)
	})
}

func usable(d float64) bool {
	return !math.IsNaN(d)
}
