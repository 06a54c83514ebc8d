// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

// Package cue resolves cue-sheet virtual tracks through the LMS track
// database, cuts them out of their source files, and converts track
// identifiers between the client URL scheme and metadata store keys.
package cue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/tomtom215/timbre/internal/logging"
)

// ErrNoLMSDatabase is returned by ResolveCueTracks when no LMS database is
// configured.
var ErrNoLMSDatabase = errors.New("cue: no LMS database configured")

// VirtualTrack is one cue-sheet entry inside a physical file.
type VirtualTrack struct {
	Source string // physical path relative to the library root
	Range  string // "start-end" as stored by LMS
	Start  float64
	End    float64
}

// Key returns the store key of the virtual track.
func (v VirtualTrack) Key() string {
	return Key(v.Source, v.Range)
}

// Resolver looks up cue tracks in a read-only LMS SQLite database.
type Resolver struct {
	db *sql.DB
}

// OpenResolver opens the LMS database at path. An empty path yields a
// Resolver that reports ErrNoLMSDatabase for every lookup.
func OpenResolver(path string) (*Resolver, error) {
	if path == "" {
		return &Resolver{}, nil
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro&_pragma=query_only(1)")
	if err != nil {
		return nil, fmt.Errorf("open LMS database: %w", err)
	}
	db.SetMaxOpenConns(4)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping LMS database: %w", err)
	}
	return &Resolver{db: db}, nil
}

// NewResolver wraps an open database handle.
func NewResolver(db *sql.DB) *Resolver {
	return &Resolver{db: db}
}

// Enabled reports whether a database is attached.
func (r *Resolver) Enabled() bool {
	return r != nil && r.db != nil
}

// Close closes the database.
func (r *Resolver) Close() error {
	if !r.Enabled() {
		return nil
	}
	return r.db.Close()
}

// ResolveCueTracks returns the virtual tracks LMS knows for source, a path
// relative to the library root, ordered by start time. A file without cue
// entries yields an empty slice.
func (r *Resolver) ResolveCueTracks(ctx context.Context, source string) ([]VirtualTrack, error) {
	if !r.Enabled() {
		return nil, ErrNoLMSDatabase
	}

	escaped := (&url.URL{Path: source}).EscapedPath()
	pattern := "%" + escaped + "#%"
	rows, err := r.db.QueryContext(ctx, `SELECT url FROM tracks WHERE url LIKE ?`, pattern)
	if err != nil {
		return nil, fmt.Errorf("query LMS tracks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	seen := make(map[string]bool)
	var out []VirtualTrack
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan LMS url: %w", err)
		}
		vt, ok := parseLMSURL(raw, source)
		if !ok || seen[vt.Range] {
			continue
		}
		seen[vt.Range] = true
		out = append(out, vt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate LMS tracks: %w", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

// parseLMSURL accepts "file:///root/<source>#start-end" URLs whose path ends
// with source. LIKE wildcards can over-match, so the path is checked again.
func parseLMSURL(raw, source string) (VirtualTrack, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		logging.Debug().Err(err).Str("url", raw).Msg("Skipping unparseable LMS url")
		return VirtualTrack{}, false
	}
	if u.Path != source && !strings.HasSuffix(u.Path, "/"+source) {
		return VirtualTrack{}, false
	}
	start, end, err := ParseRange(u.Fragment)
	if err != nil {
		return VirtualTrack{}, false
	}
	return VirtualTrack{Source: source, Range: u.Fragment, Start: start, End: end}, true
}
