// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

// Package enginetest provides an in-memory similarity engine for tests.
//
// Tracks are points on a line. A feature blob is the point's position as a
// little-endian float64, and the distance between two tracks is the gap
// between their positions, so tests can lay out a library by hand.
package enginetest

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"github.com/tomtom215/timbre/internal/engine"
)

// Blob encodes a position as a feature blob.
func Blob(pos float64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, math.Float64bits(pos))
	return b
}

// Position decodes a feature blob.
func Position(b []byte) (float64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("enginetest: blob of %d bytes", len(b))
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

// Fake implements engine.SimilarityEngine.
type Fake struct {
	// AnalyzeFunc overrides AnalyzeFile. By default the file's content is
	// parsed as the track position.
	AnalyzeFunc func(path string) ([]byte, error)
	// QueryErr is returned by every Query when set.
	QueryErr error

	mu        sync.RWMutex
	fitted    bool
	style     int
	positions []float64
	nan       map[[2]int]bool
	analyzed  []string
}

var _ engine.SimilarityEngine = (*Fake)(nil)

// SetNaN makes the distance between a and b NaN.
func (f *Fake) SetNaN(a, b int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nan == nil {
		f.nan = make(map[[2]int]bool)
	}
	f.nan[[2]int{a, b}] = true
	f.nan[[2]int{b, a}] = true
}

// Analyzed returns the paths passed to AnalyzeFile.
func (f *Fake) Analyzed() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]string(nil), f.analyzed...)
}

// AnalyzeFile implements engine.Analyzer.
func (f *Fake) AnalyzeFile(_ context.Context, path string, _ engine.Excerpt) ([]byte, error) {
	f.mu.Lock()
	f.analyzed = append(f.analyzed, path)
	f.mu.Unlock()

	if f.AnalyzeFunc != nil {
		return f.AnalyzeFunc(path)
	}
	data, err := os.ReadFile(path) //nolint:gosec // test helper
	if err != nil {
		return nil, err
	}
	pos, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return nil, fmt.Errorf("enginetest: %s: %w", path, err)
	}
	return Blob(pos), nil
}

// FitStyle implements engine.SimilarityEngine.
func (f *Fake) FitStyle(features [][]byte) error {
	if len(features) == 0 {
		return fmt.Errorf("enginetest: empty style sample")
	}
	for _, b := range features {
		if _, err := Position(b); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fitted = true
	f.style = len(features)
	f.positions = nil
	return nil
}

// AddTracks implements engine.SimilarityEngine.
func (f *Fake) AddTracks(features [][]byte) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.fitted {
		return nil, engine.ErrNotFitted
	}
	ids := make([]int, len(features))
	for i, b := range features {
		pos, err := Position(b)
		if err != nil {
			return nil, err
		}
		ids[i] = len(f.positions)
		f.positions = append(f.positions, pos)
	}
	return ids, nil
}

// Query implements engine.SimilarityEngine.
func (f *Fake) Query(seed int) ([]engine.Neighbor, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.QueryErr != nil {
		return nil, f.QueryErr
	}
	if !f.fitted {
		return nil, engine.ErrNotFitted
	}
	if seed < 0 || seed >= len(f.positions) {
		return nil, engine.ErrUnknownTrack
	}
	out := make([]engine.Neighbor, len(f.positions))
	for i, p := range f.positions {
		d := math.Abs(p - f.positions[seed])
		if f.nan[[2]int{seed, i}] {
			d = math.NaN()
		}
		if i == seed {
			d = 0
		}
		out[i] = engine.Neighbor{ID: i, Distance: d}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ID == seed || b.ID == seed {
			return a.ID == seed && b.ID != seed
		}
		if math.IsNaN(a.Distance) || math.IsNaN(b.Distance) {
			return !math.IsNaN(a.Distance) && math.IsNaN(b.Distance)
		}
		return a.Distance < b.Distance
	})
	return out, nil
}

type persisted struct {
	Style     int       `json:"style"`
	Positions []float64 `json:"positions"`
}

// Persist implements engine.SimilarityEngine.
func (f *Fake) Persist(path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.fitted {
		return engine.ErrNotFitted
	}
	data, err := json.Marshal(persisted{Style: f.style, Positions: f.positions})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Load implements engine.SimilarityEngine.
func (f *Fake) Load(path string) ([]int, error) {
	data, err := os.ReadFile(path) //nolint:gosec // test helper
	if err != nil {
		return nil, err
	}
	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fitted = true
	f.style = p.Style
	f.positions = p.Positions
	ids := make([]int, len(p.Positions))
	for i := range ids {
		ids[i] = i
	}
	return ids, nil
}

// TrackCount implements engine.SimilarityEngine.
func (f *Fake) TrackCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.positions)
}

// Info implements engine.SimilarityEngine.
func (f *Fake) Info() engine.Info {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return engine.Info{Method: "fake", Version: 1, Dimensions: 1, StyleTracks: f.style, Tracks: len(f.positions)}
}
