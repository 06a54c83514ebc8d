// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

package library

import (
	"context"
	"fmt"
	"sort"
)

// Album identifies an album by its normalized album artist (falling back
// to the track artist) and normalized title.
type Album struct {
	Artist string
	Name   string
}

// GenreCount is one row of the genre histogram.
type GenreCount struct {
	Genre string
	Count int
}

// Albums returns every distinct album of the normalized catalog, ordered
// for reproducible sampling. Editions that normalize to the same album
// name form one album.
func (c *Catalog) Albums(context.Context) ([]Album, error) {
	out := make([]Album, 0, len(c.albums))
	for a := range c.albums {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Artist != out[j].Artist {
			return out[i].Artist < out[j].Artist
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// SampleTrack picks one engine id from album, preferring tracks of 60s to
// 5min, then 5 to 7min, then anything longer or of unknown length. Tracks
// under 60s are never picked. ok is false when nothing qualifies.
func (c *Catalog) SampleTrack(_ context.Context, album Album) (engineID int, ok bool, err error) {
	best := -1
	bestBand := 3
	for _, id := range c.albums[album] {
		band := durationBand(c.tracks[id].Duration)
		if band < bestBand {
			best, bestBand = id, band
		}
	}
	if best < 0 || bestBand > 2 {
		return 0, false, nil
	}
	return best, true, nil
}

// durationBand ranks a duration for sampling; 3 means never sample.
// A zero duration is unknown.
func durationBand(d int) int {
	switch {
	case d == 0:
		return 2
	case d < 60:
		return 3
	case d <= 300:
		return 0
	case d <= 420:
		return 1
	default:
		return 2
	}
}

func albumOf(m *Meta) (Album, bool) {
	if m.Album == "" {
		return Album{}, false
	}
	artist := m.AlbumArtist
	if artist == "" {
		artist = m.Artist
	}
	return Album{Artist: artist, Name: m.Album}, true
}

// GenreHistogram counts tracks per lower-cased genre, most frequent first.
// Genres are stored trimmed, so splitting on the separator is exact.
func (s *Store) GenreHistogram(ctx context.Context) ([]GenreCount, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT g, COUNT(*) AS n FROM (
			SELECT unnest(string_split(lower(genre), ?)) AS g
			FROM tracks WHERE genre IS NOT NULL
		) WHERE g <> ''
		GROUP BY g
		ORDER BY n DESC, g`, GenreSeparator)
	if err != nil {
		return nil, fmt.Errorf("failed to query genre histogram: %w", err)
	}
	defer closeWithLog(rows, "rows")

	var out []GenreCount
	for rows.Next() {
		var gc GenreCount
		if err := rows.Scan(&gc.Genre, &gc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan genre count: %w", err)
		}
		out = append(out, gc)
	}
	return out, rows.Err()
}

// TracksWithGenre returns the engine ids of tracks tagged with genre
// (compared lower-cased), ordered by id.
func (s *Store) TracksWithGenre(ctx context.Context, genre string) ([]int, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id FROM tracks
		WHERE genre IS NOT NULL
		  AND list_contains(string_split(lower(genre), ?), lower(?))
		ORDER BY id`, GenreSeparator, genre)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks for genre %s: %w", genre, err)
	}
	defer closeWithLog(rows, "rows")

	var out []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan track id: %w", err)
		}
		out = append(out, id-1)
	}
	return out, rows.Err()
}
