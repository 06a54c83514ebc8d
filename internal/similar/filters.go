// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

package similar

import (
	"strings"

	"github.com/tomtom215/timbre/internal/library"
	"github.com/tomtom215/timbre/internal/normalize"
)

// variousArtists are album artist labels that never make two albums the
// same. Compared after normalization.
var variousArtists = map[string]bool{
	"various":         true,
	"various artists": true,
}

// durationOK reports whether a track of d seconds fits [lo, hi]. Zero
// bounds are open and an unknown duration always fits.
func durationOK(lo, hi, d int) bool {
	if d <= 0 {
		return true
	}
	if lo > 0 && d < lo {
		return false
	}
	if hi > 0 && d > hi {
		return false
	}
	return true
}

// sameArtist treats two untagged artists as the same artist, so untagged
// neighbours are limited like any other artist.
func sameArtist(list []*library.Meta, m *library.Meta) bool {
	for _, o := range list {
		if o.Artist == m.Artist {
			return true
		}
	}
	return false
}

// sameAlbum matches on album and album artist; compilations never match.
func sameAlbum(list []*library.Meta, m *library.Meta) bool {
	if m.Album == "" || m.AlbumArtist == "" || variousArtists[m.AlbumArtist] {
		return false
	}
	for _, o := range list {
		if o.Album == m.Album && o.AlbumArtist == m.AlbumArtist {
			return true
		}
	}
	return false
}

func sameArtistOrAlbum(list []*library.Meta, m *library.Meta) bool {
	return sameArtist(list, m) || sameAlbum(list, m)
}

func dedupKey(m *library.Meta) string {
	return m.Artist + "\x00" + m.Album + "\x00" + m.AlbumArtist
}

// exclusions are the request's excluded artists and albums, normalized.
type exclusions struct {
	artists map[string]bool
	albums  map[string]bool
}

func newExclusions(n *normalize.Normalizer, artists, albums []string) exclusions {
	e := exclusions{artists: make(map[string]bool), albums: make(map[string]bool)}
	for _, a := range artists {
		if a = n.Artist(a); a != "" {
			e.artists[a] = true
		}
	}
	for _, entry := range albums {
		artist, album, ok := strings.Cut(entry, " - ")
		if !ok {
			continue
		}
		artist, album = n.Artist(artist), n.Album(album)
		if artist != "" && album != "" {
			e.albums[artist+"\x00"+album] = true
		}
	}
	return e
}

func (e exclusions) artist(m *library.Meta) bool {
	return (m.Artist != "" && e.artists[m.Artist]) || (m.AlbumArtist != "" && e.artists[m.AlbumArtist])
}

func (e exclusions) album(m *library.Meta) bool {
	if len(e.albums) == 0 || m.Album == "" {
		return false
	}
	artist := m.AlbumArtist
	if artist == "" {
		artist = m.Artist
	}
	return artist != "" && e.albums[artist+"\x00"+m.Album]
}
