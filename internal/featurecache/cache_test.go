// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

package featurecache

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tomtom215/timbre/internal/engine"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "cache"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestGetPut(t *testing.T) {
	t.Parallel()

	c := openTestCache(t)
	if _, ok, err := c.Get(42); err != nil || ok {
		t.Fatalf("Get(missing) = ok %v, err %v; want miss", ok, err)
	}

	blob := []byte{1, 2, 3, 4}
	if err := c.Put(42, blob); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, ok, err := c.Get(42)
	if err != nil || !ok {
		t.Fatalf("Get() = ok %v, err %v; want hit", ok, err)
	}
	if !bytes.Equal(got, blob) {
		t.Errorf("Get() = %v, want %v", got, blob)
	}
	if n, err := c.Len(); err != nil || n != 1 {
		t.Errorf("Len() = %d, %v; want 1", n, err)
	}
	if err := c.RunGC(); err != nil {
		t.Errorf("RunGC() error = %v", err)
	}
}

func TestClosed(t *testing.T) {
	t.Parallel()

	c, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, _, err := c.Get(1); !errors.Is(err, ErrClosed) {
		t.Errorf("Get() after Close error = %v, want ErrClosed", err)
	}
	if err := c.Put(1, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Put() after Close error = %v, want ErrClosed", err)
	}
}

func TestNilCache(t *testing.T) {
	t.Parallel()

	var c *Cache
	if err := c.Put(1, []byte{1}); err != nil {
		t.Errorf("Put() on nil cache error = %v", err)
	}
	if _, ok, err := c.Get(1); ok || err != nil {
		t.Errorf("Get() on nil cache = %v, %v; want miss", ok, err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil cache error = %v", err)
	}
}

func TestKey(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "a.flac")
	writeFile(t, path, "audio")
	ex := engine.Excerpt{Length: 120, Start: -48}

	base, err := Key(path, "", ex, "timbre-1")
	if err != nil {
		t.Fatalf("Key() error = %v", err)
	}
	again, _ := Key(path, "", ex, "timbre-1")
	if base != again {
		t.Errorf("Key() not stable: %x != %x", base, again)
	}

	variants := map[string]func() (uint64, error){
		"fragment": func() (uint64, error) { return Key(path, "0-60", ex, "timbre-1") },
		"excerpt":  func() (uint64, error) { return Key(path, "", engine.Excerpt{Length: 60}, "timbre-1") },
		"engine":   func() (uint64, error) { return Key(path, "", ex, "timbre-2") },
	}
	for name, fn := range variants {
		k, err := fn()
		if err != nil {
			t.Fatalf("%s: Key() error = %v", name, err)
		}
		if k == base {
			t.Errorf("%s: Key() unchanged", name)
		}
	}

	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
	touched, _ := Key(path, "", ex, "timbre-1")
	if touched == base {
		t.Error("Key() unchanged after mtime change")
	}

	if _, err := Key(filepath.Join(dir, "missing.flac"), "", ex, "timbre-1"); err == nil {
		t.Error("Key(missing) error = nil, want error")
	}
}
