// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

package ingest

// Progress receives phase progress. Phases are "split", "analyse" and
// "tags"; Increment may be called from several goroutines.
type Progress interface {
	Start(phase string, total int)
	Increment()
	Finish()
}

type nopProgress struct{}

func (nopProgress) Start(string, int) {}
func (nopProgress) Increment()        {}
func (nopProgress) Finish()           {}
