// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

// Package library is the DuckDB-backed metadata store: one row per physical
// or cue sub-track, holding the raw tags and the engine feature blob.
//
// Row ids are 1-based and contiguous; a track's engine id is always id-1.
// Ingestion is the only writer. Every write path that removes rows
// renumbers the survivors before committing.
package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // DuckDB driver

	"github.com/tomtom215/timbre/internal/config"
	"github.com/tomtom215/timbre/internal/logging"
)

// ErrNotFound is returned when no track matches a lookup.
var ErrNotFound = errors.New("track not found")

// GenreSeparator joins multiple genres in the genre column.
const GenreSeparator = ";"

const schema = `
CREATE TABLE IF NOT EXISTS tracks (
	id          INTEGER NOT NULL,
	file        VARCHAR NOT NULL,
	title       VARCHAR,
	artist      VARCHAR,
	album       VARCHAR,
	albumartist VARCHAR,
	genre       VARCHAR,
	duration    INTEGER,
	ignore      BOOLEAN NOT NULL DEFAULT false,
	features    BLOB NOT NULL
);
`

// Indexes are created separately so renumbering can rebuild them.
var indexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS tracks_file_idx ON tracks(file)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS tracks_id_idx ON tracks(id)`,
}

// Store is the metadata store. Reads may run concurrently; writes are
// serialized by mu so MAX(id)+1 allocation is race free.
type Store struct {
	conn *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens (creating if needed) the store at path. Use ":memory:" in tests.
func Open(path string, cfg config.DatabaseConfig) (*Store, error) {
	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	maxMemory := cfg.MaxMemory
	if maxMemory == "" {
		maxMemory = "512MB"
	}

	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
			}
		}
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		path, threads, maxMemory)
	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(threads)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	s := &Store{conn: conn, path: path}
	if err := s.initialize(); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	ctx, cancel := schemaContext()
	defer cancel()

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create tracks table: %w", err)
	}
	for _, stmt := range indexes {
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Path is the database file this store was opened on.
func (s *Store) Path() string {
	return s.path
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// closeWithLog closes a resource and logs a failure.
func closeWithLog(closer io.Closer, resourceType string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logging.Warn().Str("type", resourceType).Err(err).Msg("Failed to close resource")
	}
}

// closeQuietly closes a resource on an error path where the close error
// is not actionable.
func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close()
	}
}

// rollback aborts tx after a failed write, logging if the rollback fails too.
func rollback(tx *sql.Tx, cause error) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		logging.Error().Err(err).AnErr("original_error", cause).Msg("Transaction rollback failed")
	}
}
