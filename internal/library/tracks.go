// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tomtom215/timbre/internal/cue"
)

// Track is a raw row, tags exactly as read from the file. Empty strings
// and a zero Duration mean the tag was absent.
type Track struct {
	ID          int // 1-based row id
	File        string
	Title       string
	Artist      string
	Album       string
	AlbumArtist string
	Genres      []string
	Duration    int // seconds
	Ignore      bool
}

// EngineID is the similarity engine's 0-based id for this track.
func (t *Track) EngineID() int {
	return t.ID - 1
}

// Tags is the metadata written in the second ingestion pass.
type Tags struct {
	Title       string
	Artist      string
	Album       string
	AlbumArtist string
	Genres      []string
	Duration    int
}

// SourcePath maps a store key to the physical file backing it: cue
// sub-tracks are keyed "file#start-end". A '#' not followed by a valid
// range is part of the file name.
func SourcePath(file string) string {
	src, _, _ := cue.SplitKey(file)
	return src
}

const trackColumns = `id, file, title, artist, album, albumartist, genre, duration, ignore`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrack(row rowScanner) (Track, error) {
	var (
		t                                      Track
		title, artist, album, albumArtist, gen sql.NullString
		duration                               sql.NullInt32
	)
	if err := row.Scan(&t.ID, &t.File, &title, &artist, &album, &albumArtist, &gen, &duration, &t.Ignore); err != nil {
		return Track{}, err
	}
	t.Title = title.String
	t.Artist = artist.String
	t.Album = album.String
	t.AlbumArtist = albumArtist.String
	t.Genres = SplitGenres(gen.String)
	t.Duration = int(duration.Int32)
	return t, nil
}

// SplitGenres splits a stored genre column, dropping empty entries.
func SplitGenres(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, g := range strings.Split(s, GenreSeparator) {
		if g = strings.TrimSpace(g); g != "" {
			out = append(out, g)
		}
	}
	return out
}

// JoinGenres is the inverse of SplitGenres.
func JoinGenres(genres []string) string {
	clean := make([]string, 0, len(genres))
	for _, g := range genres {
		if g = strings.TrimSpace(g); g != "" {
			clean = append(clean, g)
		}
	}
	return strings.Join(clean, GenreSeparator)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Count returns the number of tracks.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM tracks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tracks: %w", err)
	}
	return n, nil
}

// AlreadyAnalyzed reports whether file has a row (and therefore features).
func (s *Store) AlreadyAnalyzed(ctx context.Context, file string) (bool, error) {
	var one int
	err := s.conn.QueryRowContext(ctx, `SELECT 1 FROM tracks WHERE file = ?`, file).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("failed to look up %s: %w", file, err)
	}
	return true, nil
}

// Get returns the track with the given engine id.
func (s *Store) Get(ctx context.Context, engineID int) (*Track, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+trackColumns+` FROM tracks WHERE id = ?`, engineID+1)
	t, err := scanTrack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read track %d: %w", engineID, err)
	}
	return &t, nil
}

// Tracks returns every track ordered by id, without features.
func (s *Store) Tracks(ctx context.Context) ([]Track, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT `+trackColumns+` FROM tracks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks: %w", err)
	}
	defer closeWithLog(rows, "rows")

	var out []Track
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan track: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Features returns every file and its feature blob, ordered by id, which
// is the order tracks must be added to the engine.
func (s *Store) Features(ctx context.Context) (files []string, features [][]byte, err error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT file, features FROM tracks ORDER BY id`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query features: %w", err)
	}
	defer closeWithLog(rows, "rows")

	for rows.Next() {
		var (
			f string
			b []byte
		)
		if err := rows.Scan(&f, &b); err != nil {
			return nil, nil, fmt.Errorf("failed to scan features: %w", err)
		}
		files = append(files, f)
		features = append(features, b)
	}
	return files, features, rows.Err()
}

// UpdateTags writes metadata for an existing row (Upsert of the tag pass).
// Unknown files are reported as ErrNotFound.
func (s *Store) UpdateTags(ctx context.Context, file string, tags Tags) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateTags(ctx, s.conn, file, tags)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func updateTags(ctx context.Context, db execer, file string, tags Tags) error {
	duration := sql.NullInt32{Int32: int32(tags.Duration), Valid: tags.Duration > 0} //nolint:gosec // track lengths fit
	res, err := db.ExecContext(ctx,
		`UPDATE tracks SET title = ?, artist = ?, album = ?, albumartist = ?, genre = ?, duration = ? WHERE file = ?`,
		nullString(tags.Title), nullString(tags.Artist), nullString(tags.Album), nullString(tags.AlbumArtist),
		nullString(JoinGenres(tags.Genres)), duration, file)
	if err != nil {
		return fmt.Errorf("failed to update tags for %s: %w", file, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", file, ErrNotFound)
	}
	return nil
}

// SetIgnore clears every ignore flag, then sets it on tracks whose file
// starts with one of prefixes. It returns how many tracks are now ignored.
func (s *Store) SetIgnore(ctx context.Context, prefixes []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tracks SET ignore = false WHERE ignore`); err != nil {
		rollback(tx, err)
		return 0, fmt.Errorf("failed to clear ignore flags: %w", err)
	}
	var total int64
	for _, p := range prefixes {
		if p = strings.TrimSpace(p); p == "" {
			continue
		}
		res, err := tx.ExecContext(ctx, `UPDATE tracks SET ignore = true WHERE starts_with(file, ?) AND NOT ignore`, p)
		if err != nil {
			rollback(tx, err)
			return 0, fmt.Errorf("failed to mark %s ignored: %w", p, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit ignore flags: %w", err)
	}
	return int(total), nil
}

// RemoveStale deletes tracks whose backing file no longer exists under
// root, then renumbers the survivors so ids stay contiguous.
func (s *Store) RemoveStale(ctx context.Context, root string) (int, error) {
	tracks, err := s.Tracks(ctx)
	if err != nil {
		return 0, err
	}

	var stale []string
	for i := range tracks {
		src := filepath.Join(root, filepath.FromSlash(SourcePath(tracks[i].File)))
		if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
			stale = append(stale, tracks[i].File)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := s.Delete(ctx, stale); err != nil {
		return 0, err
	}
	return len(stale), nil
}

// Delete removes the given files and renumbers in one transaction.
func (s *Store) Delete(ctx context.Context, files []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, f := range files {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tracks WHERE file = ?`, f); err != nil {
			rollback(tx, err)
			return fmt.Errorf("failed to delete %s: %w", f, err)
		}
	}
	if err := renumber(ctx, tx); err != nil {
		rollback(tx, err)
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

// renumber rewrites ids as 1..N in existing id order. The table is rebuilt
// rather than updated in place: DuckDB rejects re-inserting a unique key
// that was deleted earlier in the same transaction.
func renumber(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TEMP TABLE tracks_renumbered AS
			SELECT CAST(row_number() OVER (ORDER BY id) AS INTEGER) AS id,
			       file, title, artist, album, albumartist, genre, duration, ignore, features
			FROM tracks`,
		`DROP TABLE tracks`,
		schema,
		`INSERT INTO tracks SELECT * FROM tracks_renumbered ORDER BY id`,
		`DROP TABLE tracks_renumbered`,
	}
	stmts = append(stmts, indexes...)
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to renumber tracks: %w", err)
		}
	}
	return nil
}
