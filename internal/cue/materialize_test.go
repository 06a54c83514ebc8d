// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

package cue

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	gobreaker "github.com/sony/gobreaker/v2"
)

type cut struct {
	src, dst      string
	start, length float64
}

type fakeTranscoder struct {
	mu   sync.Mutex
	cuts []cut
	err  error
}

func (f *fakeTranscoder) Cut(_ context.Context, src, dst string, start, length float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cuts = append(f.cuts, cut{src, dst, start, length})
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(dst, []byte("clip"), 0o600)
}

func TestMaterialize(t *testing.T) {
	t.Parallel()

	scratch := t.TempDir()
	ft := &fakeTranscoder{}
	m := NewMaterializer(ft, "/music", scratch)

	vt := VirtualTrack{Source: "A/B/disc.flac", Range: "60-180", Start: 60, End: 180}
	got, err := m.Materialize(context.Background(), vt)
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	want := filepath.Join(scratch, "A/B/disc.flac.CUE_TRACK.60-180.mp3")
	if got != want {
		t.Errorf("Materialize() = %q, want %q", got, want)
	}
	if _, err := os.Stat(got); err != nil {
		t.Errorf("clip not written: %v", err)
	}
	c := ft.cuts[0]
	if c.src != "/music/A/B/disc.flac" || c.start != 60 || c.length != 120 {
		t.Errorf("Cut() called with %+v", c)
	}

	rel, _ := filepath.Rel(scratch, got)
	if key := NewCodec("").DecodeURL("tmp://" + rel); key != vt.Key() {
		t.Errorf("DecodeURL(clip) = %q, want %q", key, vt.Key())
	}
}

func TestMaterializeBreakerOpens(t *testing.T) {
	t.Parallel()

	ft := &fakeTranscoder{err: errors.New("ffmpeg: not found")}
	m := NewMaterializer(ft, "/music", t.TempDir())
	vt := VirtualTrack{Source: "disc.flac", Range: "0-10", Start: 0, End: 10}

	for i := 0; i < 5; i++ {
		if _, err := m.Materialize(context.Background(), vt); err == nil {
			t.Fatal("Materialize() error = nil, want error")
		}
	}
	_, err := m.Materialize(context.Background(), vt)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("Materialize() after failures error = %v, want ErrOpenState", err)
	}
	if len(ft.cuts) != 5 {
		t.Errorf("transcoder called %d times, want 5", len(ft.cuts))
	}
}
