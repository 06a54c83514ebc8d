// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

package index

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/tomtom215/timbre/internal/config"
	"github.com/tomtom215/timbre/internal/engine"
	"github.com/tomtom215/timbre/internal/engine/enginetest"
	"github.com/tomtom215/timbre/internal/library"
	"github.com/tomtom215/timbre/internal/normalize"
)

var dbConfig = config.DatabaseConfig{MaxMemory: "256MB", Threads: 1}

// seedStore creates a store file holding one track per position.
func seedStore(t *testing.T, path string, positions map[string]float64, order []string) {
	t.Helper()
	st, err := library.Open(path, dbConfig)
	if err != nil {
		t.Fatalf("library.Open() error = %v", err)
	}
	defer func() { _ = st.Close() }()

	w := st.NewBatchWriter(context.Background(), 10)
	for _, f := range order {
		if _, err := w.Insert(f, enginetest.Blob(positions[f])); err != nil {
			t.Fatalf("Insert(%s) error = %v", f, err)
		}
		if err := w.UpdateTags(f, library.Tags{Artist: "artist " + f, Album: "album " + f, Genres: []string{"rock"}, Duration: 200}); err != nil {
			t.Fatalf("UpdateTags(%s) error = %v", f, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func newTestManager(dir string) *Manager {
	dbPath := filepath.Join(dir, "timbre.duckdb")
	open := func() (Store, error) { return library.Open(dbPath, dbConfig) }
	newEngine := func() engine.SimilarityEngine { return &enginetest.Fake{} }
	return NewManager(open, newEngine, normalize.New(nil, nil), rand.New(rand.NewPCG(1, 2)), Settings{ //nolint:gosec // test RNG
		JukeboxPath: filepath.Join(dir, "timbre.jukebox"),
		StyleTracks: 2,
		StyleMethod: config.StyleMethodGenres,
	})
}

func TestManagerRebuildThenLoad(t *testing.T) {
	dir := t.TempDir()
	files := []string{"a.mp3", "b.mp3", "c.mp3", "d.mp3"}
	seedStore(t, filepath.Join(dir, "timbre.duckdb"), map[string]float64{"a.mp3": 0, "b.mp3": 0.1, "c.mp3": 0.5, "d.mp3": 0.9}, files)

	m := newTestManager(dir)
	if m.Ready() {
		t.Fatal("Ready() = true before Load")
	}
	snap, err := m.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if snap.Source() != SourceRebuild {
		t.Errorf("Source() = %q, want %q", snap.Source(), SourceRebuild)
	}
	if snap.Len() != 4 || snap.Info().StyleTracks != 2 {
		t.Errorf("Len() = %d, StyleTracks = %d; want 4 and 2", snap.Len(), snap.Info().StyleTracks)
	}
	if !m.Ready() || m.Current() != snap {
		t.Error("Load() did not make the snapshot current")
	}
	for i, f := range files {
		if snap.Paths[i] != f || snap.EngineIDs[i] != i {
			t.Errorf("Paths[%d], EngineIDs[%d] = %q, %d; want %q, %d", i, i, snap.Paths[i], snap.EngineIDs[i], f, i)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "timbre.jukebox")); err != nil {
		t.Errorf("jukebox not persisted: %v", err)
	}

	ns, err := snap.NeighborQuery(0)
	if err != nil {
		t.Fatalf("NeighborQuery() error = %v", err)
	}
	if ns[0].ID != 0 || ns[1].ID != 1 {
		t.Errorf("NeighborQuery(0) = %+v, want self then b", ns)
	}

	again, err := newTestManager(dir).Load(context.Background())
	if err != nil {
		t.Fatalf("second Load() error = %v", err)
	}
	if again.Source() != SourceDisk {
		t.Errorf("second Load() Source() = %q, want %q", again.Source(), SourceDisk)
	}
}

func TestManagerRebuildsStaleIndex(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "timbre.duckdb")
	seedStore(t, dbPath, map[string]float64{"a.mp3": 0, "b.mp3": 1}, []string{"a.mp3", "b.mp3"})

	m := newTestManager(dir)
	if _, err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	seedStore(t, dbPath, map[string]float64{"c.mp3": 2}, []string{"c.mp3"})
	snap, err := m.Load(context.Background())
	if err != nil {
		t.Fatalf("reload error = %v", err)
	}
	if snap.Source() != SourceRebuild || snap.Len() != 3 {
		t.Errorf("reload = %s with %d tracks, want rebuild with 3", snap.Source(), snap.Len())
	}
}

func TestManagerEmptyLibrary(t *testing.T) {
	dir := t.TempDir()
	st, err := library.Open(filepath.Join(dir, "timbre.duckdb"), dbConfig)
	if err != nil {
		t.Fatal(err)
	}
	_ = st.Close()

	m := newTestManager(dir)
	if _, err := m.Load(context.Background()); !errors.Is(err, ErrEmptyLibrary) {
		t.Errorf("Load() error = %v, want ErrEmptyLibrary", err)
	}
	if m.Ready() {
		t.Error("Ready() = true after failed Load")
	}
}

func TestRemoveStaleThenRebuild(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "timbre.duckdb")
	files := []string{"a.mp3", "b.mp3", "c.mp3", "d.mp3", "e.mp3"}
	seedStore(t, dbPath, map[string]float64{"a.mp3": 0, "b.mp3": 1, "c.mp3": 2, "d.mp3": 3, "e.mp3": 4}, files)

	// Only b and d still exist on disk.
	root := filepath.Join(dir, "music")
	if err := os.MkdirAll(root, 0o750); err != nil {
		t.Fatal(err)
	}
	for _, f := range []string{"b.mp3", "d.mp3"} {
		if err := os.WriteFile(filepath.Join(root, f), nil, 0o600); err != nil {
			t.Fatal(err)
		}
	}

	st, err := library.Open(dbPath, dbConfig)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = st.Close() }()
	ctx := context.Background()

	removed, err := st.RemoveStale(ctx, root)
	if err != nil || removed != 3 {
		t.Fatalf("RemoveStale() = %d, %v; want 3", removed, err)
	}
	catalog, err := st.LoadCatalog(ctx, normalize.New(nil, nil))
	if err != nil {
		t.Fatal(err)
	}
	snap, err := RebuildFromStore(ctx, st, &enginetest.Fake{}, []int{0}, catalog)
	if err != nil {
		t.Fatalf("RebuildFromStore() error = %v", err)
	}
	n, _ := st.Count(ctx)
	if snap.Len() != n || n != 2 {
		t.Errorf("index tracks = %d, store rows = %d; want 2 and 2", snap.Len(), n)
	}
	if snap.Paths[0] != "b.mp3" || snap.Paths[1] != "d.mp3" {
		t.Errorf("Paths = %v, want [b.mp3 d.mp3]", snap.Paths)
	}
}

func TestNewSnapshotRejectsMismatch(t *testing.T) {
	t.Parallel()

	eng := &enginetest.Fake{}
	if err := eng.FitStyle([][]byte{enginetest.Blob(0)}); err != nil {
		t.Fatal(err)
	}
	ids, _ := eng.AddTracks([][]byte{enginetest.Blob(0), enginetest.Blob(1)})
	catalog := library.NewCatalog([]library.Track{{ID: 1, File: "a"}, {ID: 2, File: "b"}, {ID: 3, File: "c"}}, normalize.New(nil, nil))

	if _, err := NewSnapshot(eng, ids, catalog, SourceDisk); !errors.Is(err, ErrStale) {
		t.Errorf("NewSnapshot() error = %v, want ErrStale", err)
	}
}

func TestRebuildFromStoreRejectsBadSample(t *testing.T) {
	t.Parallel()

	st := featureStoreFunc(func(context.Context) ([]string, [][]byte, error) {
		return []string{"a"}, [][]byte{enginetest.Blob(0)}, nil
	})
	catalog := library.NewCatalog([]library.Track{{ID: 1, File: "a"}}, normalize.New(nil, nil))
	if _, err := RebuildFromStore(context.Background(), st, &enginetest.Fake{}, []int{5}, catalog); err == nil {
		t.Error("RebuildFromStore() with out-of-range sample error = nil")
	}
}

type featureStoreFunc func(context.Context) ([]string, [][]byte, error)

func (f featureStoreFunc) Features(ctx context.Context) ([]string, [][]byte, error) { return f(ctx) }
