// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/tomtom215/timbre/internal/config"
)

func TestReadIgnoreFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ignore.txt")
	content := "# comments are skipped\nAudiobooks/\n\n  Comedy/  \n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := readIgnoreFile(path)
	if err != nil {
		t.Fatalf("readIgnoreFile: %v", err)
	}
	want := []string{"Audiobooks/", "Comedy/"}
	if !slices.Equal(got, want) {
		t.Errorf("readIgnoreFile() = %v, want %v", got, want)
	}
}

func TestReadIgnoreFileEmptyClearsFlags(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ignore.txt")
	if err := os.WriteFile(path, []byte("# nothing\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := readIgnoreFile(path)
	if err != nil {
		t.Fatalf("readIgnoreFile: %v", err)
	}
	// Non-nil empty means "clear every ignore flag".
	if got == nil || len(got) != 0 {
		t.Errorf("readIgnoreFile() = %#v, want empty non-nil slice", got)
	}
}

func TestReadIgnoreFileMissing(t *testing.T) {
	t.Parallel()

	if _, err := readIgnoreFile(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("readIgnoreFile(missing) = nil error, want error")
	}
}

func TestRootFlags(t *testing.T) {
	t.Parallel()

	cmd := newRootCmd()
	for _, name := range []string{"config", "path", "meta-only", "keep-stale", "progress", "ignore"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("flag --%s missing", name)
		}
	}
	worker, _, err := cmd.Find([]string{workerCmdName})
	if err != nil || worker.Name() != workerCmdName {
		t.Fatalf("Find(worker) = %v, %v", worker, err)
	}
	if !worker.Hidden {
		t.Error("worker command should be hidden")
	}
}

func TestWorkerArgs(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Analysis.FFmpegPath = "/usr/bin/ffmpeg"
	want := []string{"worker", "--ffmpeg", "/usr/bin/ffmpeg"}
	if got := workerArgs(cfg); !slices.Equal(got, want) {
		t.Errorf("workerArgs() = %v, want %v", got, want)
	}
}

func TestWorkerRejectsMissingFile(t *testing.T) {
	t.Parallel()

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"worker"})
	if err := cmd.Execute(); err == nil {
		t.Error("worker without a file succeeded, want an argument error")
	}
}

func TestBarProgress(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	p := newBarProgress(&out)
	p.Start("analyse", 3)
	p.Increment()
	p.Increment()
	p.Finish()
	p.Increment() // after Finish: ignored
	p.Start("tags", 1)
	p.Increment()
	p.Finish()
	p.Wait()
}
