// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

// Package timbre implements engine.SimilarityEngine with a single-Gaussian
// MFCC model compared by symmetrised Kullback-Leibler divergence and
// normalised by mutual proximity against a style sample.
package timbre

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/timbre/internal/engine"
)

// Method identifies this engine in Info and in persisted files.
const Method = "timbre-mfcc-gauss"

// queryChunk is the number of tracks scored per goroutine in Query.
const queryChunk = 2048

// Engine is safe for concurrent Query calls.
type Engine struct {
	decoder     Decoder
	parallelism int

	mu         sync.RWMutex
	fitted     bool
	style      []*gaussian
	styleBlobs [][]byte
	tracks     []*gaussian
	blobs      [][]byte
	stats      []stats
}

// Option configures an Engine.
type Option func(*Engine)

// WithDecoder replaces the ffmpeg decoder.
func WithDecoder(d Decoder) Option {
	return func(e *Engine) { e.decoder = d }
}

// WithParallelism bounds the goroutines used by Query and AddTracks.
func WithParallelism(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

// New creates an unfitted engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		decoder:     FFmpegDecoder{},
		parallelism: runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ engine.SimilarityEngine = (*Engine)(nil)

// AnalyzeFile decodes path and returns its feature blob.
func (e *Engine) AnalyzeFile(ctx context.Context, path string, excerpt engine.Excerpt) ([]byte, error) {
	samples, err := e.decoder.Decode(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	blob, err := analyzeSamples(selectExcerpt(samples, excerpt))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return blob, nil
}

func analyzeSamples(samples []float64) ([]byte, error) {
	frames := mfccFrames(samples)
	if len(frames) < minFrames {
		return nil, ErrTooShort
	}
	mean, cov := fitGaussian(frames)
	return encodeFeatures(mean, cov), nil
}

func parseBlobs(features [][]byte) ([]*gaussian, error) {
	out := make([]*gaussian, len(features))
	for i, b := range features {
		g, err := gaussianFromBlob(b)
		if err != nil {
			return nil, fmt.Errorf("features %d: %w", i, err)
		}
		if len(g.mean) != Coefficients {
			return nil, fmt.Errorf("features %d: %w: %d dimensions", i, ErrBadFeatures, len(g.mean))
		}
		out[i] = g
	}
	return out, nil
}

// FitStyle drops all tracks and fits the style model on features.
func (e *Engine) FitStyle(features [][]byte) error {
	if len(features) == 0 {
		return fmt.Errorf("timbre: empty style sample")
	}
	style, err := parseBlobs(features)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.style = style
	e.styleBlobs = cloneBlobs(features)
	e.tracks = nil
	e.blobs = nil
	e.stats = nil
	e.fitted = true
	return nil
}

// AddTracks appends tracks and computes their style statistics.
func (e *Engine) AddTracks(features [][]byte) ([]int, error) {
	models, err := parseBlobs(features)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.fitted {
		return nil, engine.ErrNotFitted
	}

	st := make([]stats, len(models))
	e.forChunks(len(models), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			st[i] = styleStats(models[i], e.style)
		}
	})

	base := len(e.tracks)
	ids := make([]int, len(models))
	for i := range ids {
		ids[i] = base + i
	}
	e.tracks = append(e.tracks, models...)
	e.blobs = append(e.blobs, cloneBlobs(features)...)
	e.stats = append(e.stats, st...)
	return ids, nil
}

// Query scores every track against seed.
func (e *Engine) Query(seed int) ([]engine.Neighbor, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.fitted {
		return nil, engine.ErrNotFitted
	}
	if seed < 0 || seed >= len(e.tracks) {
		return nil, fmt.Errorf("%w: %d", engine.ErrUnknownTrack, seed)
	}

	src := e.tracks[seed]
	srcStats := e.stats[seed]
	out := make([]engine.Neighbor, len(e.tracks))
	e.forChunks(len(e.tracks), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if i == seed {
				out[i] = engine.Neighbor{ID: i}
				continue
			}
			raw := skl(src, e.tracks[i])
			out[i] = engine.Neighbor{ID: i, Distance: mutualProximity(raw, srcStats, e.stats[i])}
		}
	})

	sortNeighbors(out, seed)
	return out, nil
}

// forChunks runs fn over [0,n) split across the configured parallelism.
func (e *Engine) forChunks(n int, fn func(lo, hi int)) {
	if n <= queryChunk || e.parallelism <= 1 {
		fn(0, n)
		return
	}
	var g errgroup.Group
	g.SetLimit(e.parallelism)
	for lo := 0; lo < n; lo += queryChunk {
		hi := min(lo+queryChunk, n)
		g.Go(func() error {
			fn(lo, hi)
			return nil
		})
	}
	_ = g.Wait()
}

// sortNeighbors orders by ascending distance with the seed first and NaN
// distances last. Equal distances keep id order.
func sortNeighbors(ns []engine.Neighbor, seed int) {
	sort.SliceStable(ns, func(i, j int) bool {
		a, b := ns[i], ns[j]
		if a.ID == seed || b.ID == seed {
			return a.ID == seed && b.ID != seed
		}
		an, bn := math.IsNaN(a.Distance), math.IsNaN(b.Distance)
		if an || bn {
			return !an && bn
		}
		return a.Distance < b.Distance
	})
}

// TrackCount returns the number of added tracks.
func (e *Engine) TrackCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.tracks)
}

// Info describes the engine state.
func (e *Engine) Info() engine.Info {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return engine.Info{
		Method:      Method,
		Version:     FeatureVersion,
		Dimensions:  Coefficients,
		StyleTracks: len(e.style),
		Tracks:      len(e.tracks),
	}
}

func cloneBlobs(in [][]byte) [][]byte {
	out := make([][]byte, len(in))
	for i, b := range in {
		out[i] = append([]byte(nil), b...)
	}
	return out
}
