// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

package index

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/timbre/internal/engine"
	"github.com/tomtom215/timbre/internal/library"
	"github.com/tomtom215/timbre/internal/logging"
	"github.com/tomtom215/timbre/internal/metrics"
	"github.com/tomtom215/timbre/internal/normalize"
	"github.com/tomtom215/timbre/internal/sampler"
)

// ErrEmptyLibrary is returned when there is nothing to index yet.
var ErrEmptyLibrary = errors.New("index: no analysed tracks")

// Store is everything loading and rebuilding reads from the metadata store.
type Store interface {
	Count(ctx context.Context) (int, error)
	GenreHistogram(ctx context.Context) ([]library.GenreCount, error)
	TracksWithGenre(ctx context.Context, genre string) ([]int, error)
	FeatureStore
	LoadCatalog(ctx context.Context, n *normalize.Normalizer) (*library.Catalog, error)
	Close() error
}

// Settings select the jukebox file and style sample.
type Settings struct {
	JukeboxPath string
	StyleTracks int
	StyleMethod string
}

// Rebuild samples the style set from st, rebuilds a fresh engine and
// persists it. A persist failure is returned alongside the usable
// snapshot.
func Rebuild(ctx context.Context, st Store, eng engine.SimilarityEngine, catalog *library.Catalog, rng *rand.Rand, s Settings) (*Snapshot, error) {
	if catalog.Len() == 0 {
		return nil, ErrEmptyLibrary
	}
	sample, err := sampler.New(styleSource{st, catalog}, rng).SelectStyleSample(ctx, s.StyleTracks, s.StyleMethod)
	if err != nil {
		return nil, fmt.Errorf("select style sample: %w", err)
	}
	snap, err := RebuildFromStore(ctx, st, eng, sample, catalog)
	if err != nil {
		return nil, err
	}
	if err := Persist(snap, s.JukeboxPath); err != nil {
		return snap, err
	}
	return snap, nil
}

// styleSource counts and groups genres in the store and groups albums on
// the normalized catalog.
type styleSource struct {
	st      Store
	catalog *library.Catalog
}

func (s styleSource) Count(ctx context.Context) (int, error) { return s.st.Count(ctx) }

func (s styleSource) GenreHistogram(ctx context.Context) ([]library.GenreCount, error) {
	return s.st.GenreHistogram(ctx)
}

func (s styleSource) TracksWithGenre(ctx context.Context, genre string) ([]int, error) {
	return s.st.TracksWithGenre(ctx, genre)
}

func (s styleSource) Albums(ctx context.Context) ([]library.Album, error) {
	return s.catalog.Albums(ctx)
}

func (s styleSource) SampleTrack(ctx context.Context, a library.Album) (int, bool, error) {
	return s.catalog.SampleTrack(ctx, a)
}

// Manager owns the serving snapshot. Current never blocks; Load swaps in
// a complete new snapshot so in-flight queries finish on the old one.
type Manager struct {
	open       func() (Store, error)
	newEngine  func() engine.SimilarityEngine
	normalizer *normalize.Normalizer
	settings   Settings

	loadMu  sync.Mutex
	rngMu   sync.Mutex
	rng     *rand.Rand
	current atomic.Pointer[Snapshot]
}

// NewManager creates a Manager. open is called for each load and the store
// is closed again afterwards, leaving the database file free for ingestion.
func NewManager(open func() (Store, error), newEngine func() engine.SimilarityEngine, n *normalize.Normalizer, rng *rand.Rand, s Settings) *Manager {
	return &Manager{
		open:       open,
		newEngine:  newEngine,
		normalizer: n,
		settings:   s,
		rng:        rng,
	}
}

// Current returns the serving snapshot, or nil before the first load.
func (m *Manager) Current() *Snapshot {
	return m.current.Load()
}

// Ready reports whether a snapshot is being served.
func (m *Manager) Ready() bool {
	return m.current.Load() != nil
}

// Load reads the persisted index, rebuilding it from the store when it is
// missing or stale, and makes it current.
func (m *Manager) Load(ctx context.Context) (*Snapshot, error) {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	start := time.Now()
	st, err := m.open()
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logging.Warn().Err(cerr).Msg("Failed to close metadata store")
		}
	}()

	catalog, err := st.LoadCatalog(ctx, m.normalizer)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	if catalog.Len() == 0 {
		return nil, ErrEmptyLibrary
	}

	snap, err := LoadFromDisk(m.newEngine(), m.settings.JukeboxPath, catalog)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		logging.Info().Str("path", m.settings.JukeboxPath).Msg("No persisted index, rebuilding from metadata store")
	default:
		logging.Warn().Err(err).Msg("Persisted index unusable, rebuilding from metadata store")
	}

	if snap == nil {
		m.rngMu.Lock()
		snap, err = Rebuild(ctx, st, m.newEngine(), catalog, m.rng, m.settings)
		m.rngMu.Unlock()
		if snap == nil {
			return nil, err
		}
		if err != nil {
			logging.Error().Err(err).Msg("Serving rebuilt index that could not be persisted")
		}
	}

	m.current.Store(snap)
	metrics.RecordIndexLoad(snap.Source(), snap.Len(), snap.Info().StyleTracks, time.Since(start))
	logging.Info().
		Str("source", snap.Source()).
		Int("tracks", snap.Len()).
		Dur("duration", time.Since(start)).
		Msg("Similarity index ready")
	return snap, nil
}
