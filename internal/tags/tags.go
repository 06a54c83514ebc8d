// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

// Package tags reads the metadata stored for each analysed track.
package tags

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dhowden/tag"
	"go.senan.xyz/taglib"

	"github.com/tomtom215/timbre/internal/library"
)

// Reader reads tags from an audio file.
type Reader interface {
	Read(path string) (library.Tags, error)
}

// ReaderFunc adapts a function to Reader.
type ReaderFunc func(path string) (library.Tags, error)

// Read implements Reader.
func (f ReaderFunc) Read(path string) (library.Tags, error) { return f(path) }

// FileReader uses TagLib, falling back to a pure Go parser when TagLib
// cannot open the file. The fallback has no duration.
type FileReader struct{}

// Read implements Reader.
func (FileReader) Read(path string) (library.Tags, error) {
	t, err := readTagLib(path)
	if err == nil {
		return t, nil
	}
	fallback, ferr := readFallback(path)
	if ferr != nil {
		return library.Tags{}, fmt.Errorf("read tags %s: %w", path, errors.Join(err, ferr))
	}
	return fallback, nil
}

func readTagLib(path string) (library.Tags, error) {
	m, err := taglib.ReadTags(path)
	if err != nil {
		return library.Tags{}, err
	}
	t := library.Tags{
		Title:       first(m, taglib.Title),
		Artist:      first(m, taglib.Artist),
		Album:       first(m, taglib.Album),
		AlbumArtist: first(m, taglib.AlbumArtist),
		Genres:      splitGenres(m[taglib.Genre]),
	}
	if props, err := taglib.ReadProperties(path); err == nil && props.Length > 0 {
		t.Duration = int(props.Length.Seconds())
	}
	return t, nil
}

func readFallback(path string) (library.Tags, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the library walk
	if err != nil {
		return library.Tags{}, err
	}
	defer func() { _ = f.Close() }()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return library.Tags{}, err
	}
	return library.Tags{
		Title:       strings.TrimSpace(m.Title()),
		Artist:      strings.TrimSpace(m.Artist()),
		Album:       strings.TrimSpace(m.Album()),
		AlbumArtist: strings.TrimSpace(m.AlbumArtist()),
		Genres:      splitGenres([]string{m.Genre()}),
	}, nil
}

func first(m map[string][]string, key string) string {
	for _, v := range m[key] {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// splitGenres flattens multi-valued genre tags. A single value holding
// several genres separated by ';' is split too.
func splitGenres(values []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, v := range values {
		for _, g := range strings.Split(v, library.GenreSeparator) {
			g = strings.TrimSpace(g)
			if g == "" || seen[strings.ToLower(g)] {
				continue
			}
			seen[strings.ToLower(g)] = true
			out = append(out, g)
		}
	}
	return out
}
