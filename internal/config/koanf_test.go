// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	if cfg.Server.Port != 11000 {
		t.Errorf("Server.Port = %d, want 11000", cfg.Server.Port)
	}
	if cfg.Analysis.CommitEvery != 100 {
		t.Errorf("Analysis.CommitEvery = %d, want 100", cfg.Analysis.CommitEvery)
	}
	if cfg.Analysis.ExcerptStart != -48 {
		t.Errorf("Analysis.ExcerptStart = %d, want -48", cfg.Analysis.ExcerptStart)
	}
	if cfg.Similar.MaxSimilarity != 0.75 {
		t.Errorf("Similar.MaxSimilarity = %v, want 0.75", cfg.Similar.MaxSimilarity)
	}
	if cfg.Similar.BackfillFloor != 2 {
		t.Errorf("Similar.BackfillFloor = %d, want 2", cfg.Similar.BackfillFloor)
	}
	if cfg.Similar.QueryTimeout != 10*time.Second {
		t.Errorf("Similar.QueryTimeout = %v, want 10s", cfg.Similar.QueryTimeout)
	}
	if cfg.Analysis.StyleMethod != StyleMethodGenres {
		t.Errorf("Analysis.StyleMethod = %q, want genres", cfg.Analysis.StyleMethod)
	}
}

// writeConfig writes a minimal valid YAML config and returns its path.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	body := "paths:\n" +
		"  library: " + filepath.Join(dir, "music") + "\n" +
		"  db: " + filepath.Join(dir, "timbre.duckdb") + "\n" +
		"  jukebox: " + filepath.Join(dir, "timbre.jukebox") + "\n" + extra
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `genres:
  - [Rock, Hard Rock, metal]
  - [Pop, rock]
similar:
  max_similarity: 0.6
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Paths.ClientRoot != cfg.Paths.Library {
		t.Errorf("Paths.ClientRoot = %q, want %q", cfg.Paths.ClientRoot, cfg.Paths.Library)
	}
	if cfg.Similar.MaxSimilarity != 0.6 {
		t.Errorf("Similar.MaxSimilarity = %v, want 0.6", cfg.Similar.MaxSimilarity)
	}
	if cfg.Similar.NoRepeatAlbum != 25 {
		t.Errorf("Similar.NoRepeatAlbum = %d, want default 25", cfg.Similar.NoRepeatAlbum)
	}
	want := []string{"rock", "hard rock", "metal", "pop"}
	if got := cfg.AllGenres(); !reflect.DeepEqual(got, want) {
		t.Errorf("AllGenres() = %v, want %v", got, want)
	}
}

func TestLoadFile_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "")
	t.Setenv("HTTP_PORT", "12345")
	t.Setenv("SIMILAR_IGNORE_GENRE_ARTISTS", "Various Artists, The Beatles ,")
	t.Setenv("UNRELATED_VARIABLE", "x")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Server.Port != 12345 {
		t.Errorf("Server.Port = %d, want 12345", cfg.Server.Port)
	}
	want := []string{"Various Artists", "The Beatles"}
	if !reflect.DeepEqual(cfg.Similar.IgnoreGenreArtists, want) {
		t.Errorf("IgnoreGenreArtists = %v, want %v", cfg.Similar.IgnoreGenreArtists, want)
	}
}

func TestLoadFile_MissingRequired(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("paths:\n  library: /music\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := LoadFile(path)
	if err == nil {
		t.Fatal("LoadFile() error = nil, want missing paths.db")
	}
	if !strings.Contains(err.Error(), "paths.db") {
		t.Errorf("error = %v, want mention of paths.db", err)
	}
}

func TestLoadFile_NotFound(t *testing.T) {
	t.Parallel()

	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("LoadFile(absent) error = nil, want error")
	}
}

func TestEnvTransformFunc(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"TIMBRE_LIBRARY_PATH": "paths.library",
		"ANALYSIS_THREADS":    "analysis.threads",
		"log_level":           "logging.level",
		"PATH":                "",
	}
	for in, want := range tests {
		if got := envTransformFunc(in); got != want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", in, got, want)
		}
	}
}
