// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

package main

import (
	"io"
	"sync"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/tomtom215/timbre/internal/ingest"
)

var _ ingest.Progress = (*barProgress)(nil)

// barProgress draws one bar per ingestion phase.
type barProgress struct {
	p *mpb.Progress

	mu  sync.Mutex
	bar *mpb.Bar
}

func newBarProgress(w io.Writer) *barProgress {
	return &barProgress{p: mpb.New(mpb.WithOutput(w), mpb.WithWidth(64))}
}

func (b *barProgress) Start(phase string, total int) {
	bar := b.p.AddBar(int64(total),
		mpb.PrependDecorators(
			decor.Name(phase + ": "),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
			decor.EwmaETA(decor.ET_STYLE_GO, 60),
		),
	)
	b.mu.Lock()
	b.bar = bar
	b.mu.Unlock()
}

func (b *barProgress) Increment() {
	b.mu.Lock()
	bar := b.bar
	b.mu.Unlock()
	if bar != nil {
		bar.Increment()
	}
}

// Finish completes the current bar even if some units were skipped.
func (b *barProgress) Finish() {
	b.mu.Lock()
	bar := b.bar
	b.bar = nil
	b.mu.Unlock()
	if bar != nil {
		bar.SetTotal(-1, true)
	}
}

// Wait flushes the bars; call it once ingestion has returned.
func (b *barProgress) Wait() {
	b.p.Wait()
}
