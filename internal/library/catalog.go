// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

package library

import (
	"context"

	"github.com/tomtom215/timbre/internal/normalize"
)

// Meta is a track's normalized metadata, the form every filter compares.
type Meta struct {
	EngineID    int
	File        string
	Title       string
	Artist      string
	Album       string
	AlbumArtist string
	Genres      []string
	Duration    int
	Ignore      bool
}

// Normalized returns t's metadata as seen by the filters.
func (t *Track) Normalized(n *normalize.Normalizer) Meta {
	m := Meta{
		EngineID:    t.EngineID(),
		File:        t.File,
		Title:       n.Title(t.Title),
		Artist:      n.Artist(t.Artist),
		Album:       n.Album(t.Album),
		AlbumArtist: n.Artist(t.AlbumArtist),
		Duration:    t.Duration,
		Ignore:      t.Ignore,
	}
	for _, g := range t.Genres {
		if g = n.Genre(g); g != "" {
			m.Genres = append(m.Genres, g)
		}
	}
	return m
}

// Catalog is an immutable, normalized snapshot of every track, indexed by
// engine id and by store key. Serving reads only from a Catalog.
type Catalog struct {
	tracks []Meta
	byFile map[string]int
	albums map[Album][]int
}

// NewCatalog builds a catalog from tracks ordered by id.
func NewCatalog(tracks []Track, n *normalize.Normalizer) *Catalog {
	c := &Catalog{
		tracks: make([]Meta, len(tracks)),
		byFile: make(map[string]int, len(tracks)),
		albums: make(map[Album][]int),
	}
	for i := range tracks {
		c.tracks[i] = tracks[i].Normalized(n)
		c.byFile[tracks[i].File] = i
		if a, ok := albumOf(&c.tracks[i]); ok {
			c.albums[a] = append(c.albums[a], i)
		}
	}
	return c
}

// LoadCatalog reads every track and normalizes it.
func (s *Store) LoadCatalog(ctx context.Context, n *normalize.Normalizer) (*Catalog, error) {
	tracks, err := s.Tracks(ctx)
	if err != nil {
		return nil, err
	}
	return NewCatalog(tracks, n), nil
}

// Len is the number of tracks.
func (c *Catalog) Len() int {
	return len(c.tracks)
}

// Get returns the metadata for an engine id.
func (c *Catalog) Get(engineID int) (*Meta, bool) {
	if engineID < 0 || engineID >= len(c.tracks) {
		return nil, false
	}
	return &c.tracks[engineID], true
}

// Lookup resolves a store key to its engine id.
func (c *Catalog) Lookup(file string) (int, bool) {
	id, ok := c.byFile[file]
	return id, ok
}

// Files returns the store keys in engine id order.
func (c *Catalog) Files() []string {
	out := make([]string, len(c.tracks))
	for i := range c.tracks {
		out[i] = c.tracks[i].File
	}
	return out
}
