// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

// Package index ties the similarity engine to the metadata store: it loads
// or rebuilds the persisted jukebox, checks it against the store, and
// holds the immutable snapshot the server answers queries from.
package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/timbre/internal/engine"
	"github.com/tomtom215/timbre/internal/library"
	"github.com/tomtom215/timbre/internal/logging"
	"github.com/tomtom215/timbre/internal/metrics"
)

// ErrStale is returned by LoadFromDisk when the persisted index does not
// hold exactly the store's tracks.
var ErrStale = errors.New("index: persisted index does not match metadata store")

// Sources of a snapshot.
const (
	SourceDisk    = "disk"
	SourceRebuild = "rebuild"
)

// Snapshot is a loaded index. It is never mutated after construction;
// reloading builds a new one.
type Snapshot struct {
	Paths     []string // store keys, engine id order
	EngineIDs []int
	Catalog   *library.Catalog

	engine   engine.SimilarityEngine
	source   string
	loadedAt time.Time
}

// NewSnapshot validates that engine and catalog agree.
func NewSnapshot(eng engine.SimilarityEngine, ids []int, catalog *library.Catalog, source string) (*Snapshot, error) {
	if len(ids) != catalog.Len() || eng.TrackCount() != catalog.Len() {
		return nil, fmt.Errorf("%w: engine has %d tracks (%d ids), store has %d",
			ErrStale, eng.TrackCount(), len(ids), catalog.Len())
	}
	for i, id := range ids {
		if id != i {
			return nil, fmt.Errorf("%w: engine id %d at position %d", ErrStale, id, i)
		}
	}
	return &Snapshot{
		Paths:     catalog.Files(),
		EngineIDs: ids,
		Catalog:   catalog,
		engine:    eng,
		source:    source,
		loadedAt:  time.Now(),
	}, nil
}

// NeighborQuery returns every track ordered by ascending distance from
// seed, the seed itself first.
func (s *Snapshot) NeighborQuery(seed int) ([]engine.Neighbor, error) {
	return s.engine.Query(seed)
}

// Len is the number of indexed tracks.
func (s *Snapshot) Len() int { return len(s.EngineIDs) }

// Info describes the engine behind the snapshot.
func (s *Snapshot) Info() engine.Info { return s.engine.Info() }

// Source reports whether the snapshot was read from disk or rebuilt.
func (s *Snapshot) Source() string { return s.source }

// LoadedAt is when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// LoadFromDisk reads the jukebox at path into eng. A missing file is
// reported with an error matching os.ErrNotExist; a track count that
// differs from the catalog with ErrStale.
func LoadFromDisk(eng engine.SimilarityEngine, path string, catalog *library.Catalog) (*Snapshot, error) {
	ids, err := eng.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load index %s: %w", path, err)
	}
	return NewSnapshot(eng, ids, catalog, SourceDisk)
}

// Persist writes the snapshot's engine state to path.
func Persist(s *Snapshot, path string) error {
	if err := s.engine.Persist(path); err != nil {
		return fmt.Errorf("persist index %s: %w", path, err)
	}
	return nil
}

// FeatureStore is the store surface needed to rebuild an index.
type FeatureStore interface {
	Features(ctx context.Context) (files []string, features [][]byte, err error)
}

// RebuildFromStore fits eng on the style sample and adds every stored
// track in id order.
func RebuildFromStore(ctx context.Context, st FeatureStore, eng engine.SimilarityEngine, styleSample []int, catalog *library.Catalog) (*Snapshot, error) {
	start := time.Now()
	files, features, err := st.Features(ctx)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("rebuild index: metadata store is empty")
	}
	if len(files) != catalog.Len() {
		return nil, fmt.Errorf("%w: %d feature rows, %d catalog rows", ErrStale, len(files), catalog.Len())
	}

	style := make([][]byte, 0, len(styleSample))
	for _, id := range styleSample {
		if id < 0 || id >= len(features) {
			return nil, fmt.Errorf("rebuild index: style sample id %d out of range", id)
		}
		style = append(style, features[id])
	}
	if len(style) == 0 {
		style = features
	}

	if err := eng.FitStyle(style); err != nil {
		return nil, fmt.Errorf("fit style model: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids, err := eng.AddTracks(features)
	if err != nil {
		return nil, fmt.Errorf("add tracks: %w", err)
	}

	snap, err := NewSnapshot(eng, ids, catalog, SourceRebuild)
	if err != nil {
		return nil, err
	}
	logging.Info().
		Int("tracks", len(ids)).
		Int("style_tracks", len(style)).
		Dur("duration", time.Since(start)).
		Msg("Rebuilt similarity index")
	metrics.RecordIndexLoad(SourceRebuild, len(ids), len(style), time.Since(start))
	return snap, nil
}
