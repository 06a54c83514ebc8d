// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

// Package engine defines the boundary to the acoustic similarity engine.
//
// An engine turns audio files into opaque feature blobs, fits a style model
// on a sample of those blobs, and answers all-tracks distance queries. Track
// ids are 0-based and assigned in AddTracks order; the metadata store keeps
// the same order so that engine id == row id - 1.
package engine

import (
	"context"
	"errors"
)

// ErrNotFitted is returned by AddTracks and Query before FitStyle or Load.
var ErrNotFitted = errors.New("engine: style model not fitted")

// ErrUnknownTrack is returned by Query for an id outside [0, TrackCount).
var ErrUnknownTrack = errors.New("engine: unknown track id")

// Excerpt selects the part of a file that is analysed, in seconds. A
// negative Start counts back from the middle of the track. Tracks shorter
// than Length are analysed whole.
type Excerpt struct {
	Length float64
	Start  float64
}

// Neighbor is one query result.
type Neighbor struct {
	ID       int
	Distance float64 // NaN for incomparable pairs
}

// Info describes a loaded engine.
type Info struct {
	Method      string `json:"method"`
	Version     int    `json:"version"`
	Dimensions  int    `json:"dimensions"`
	StyleTracks int    `json:"style_tracks"`
	Tracks      int    `json:"tracks"`
}

// Analyzer extracts a feature blob from one audio file.
type Analyzer interface {
	AnalyzeFile(ctx context.Context, path string, excerpt Excerpt) ([]byte, error)
}

// SimilarityEngine is the full engine contract. Implementations must allow
// concurrent Query calls; FitStyle, AddTracks and Load are exclusive.
type SimilarityEngine interface {
	Analyzer

	// FitStyle discards all tracks and fits the style model.
	FitStyle(features [][]byte) error

	// AddTracks appends tracks, returning their ids in order.
	AddTracks(features [][]byte) ([]int, error)

	// Query returns every track ordered by ascending distance from seed.
	// The seed itself is first with distance 0.
	Query(seed int) ([]Neighbor, error)

	// Persist writes the fitted model and all tracks to path atomically.
	Persist(path string) error

	// Load replaces the engine state with the file at path and returns the
	// loaded track ids.
	Load(path string) ([]int, error)

	TrackCount() int
	Info() Info
}
