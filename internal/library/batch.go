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
)

// BatchWriter groups writes into transactions of at most every operations.
// It is owned by a single goroutine; the store lock is held while a
// transaction is open. A failed statement rolls back the whole open batch.
type BatchWriter struct {
	s       *Store
	ctx     context.Context //nolint:containedctx // writer lifetime is one ingest run
	every   int
	tx      *sql.Tx
	pending int
	total   int
}

// NewBatchWriter returns a writer committing every n operations (min 1).
func (s *Store) NewBatchWriter(ctx context.Context, every int) *BatchWriter {
	if every < 1 {
		every = 1
	}
	return &BatchWriter{s: s, ctx: ctx, every: every}
}

func (b *BatchWriter) begin() error {
	if b.tx != nil {
		return nil
	}
	b.s.mu.Lock()
	tx, err := b.s.conn.BeginTx(b.ctx, nil)
	if err != nil {
		b.s.mu.Unlock()
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	b.tx = tx
	return nil
}

// Insert adds a new track with features only and returns its row id.
func (b *BatchWriter) Insert(file string, features []byte) (int, error) {
	if err := b.begin(); err != nil {
		return 0, err
	}
	var id int
	err := b.tx.QueryRowContext(b.ctx,
		`INSERT INTO tracks (id, file, features)
		 SELECT COALESCE(MAX(id), 0) + 1, ?, ? FROM tracks
		 RETURNING id`, file, features).Scan(&id)
	if err != nil {
		b.abort(err)
		return 0, fmt.Errorf("failed to insert %s: %w", file, err)
	}
	return id, b.step()
}

// UpdateTags queues a metadata update for an existing row.
func (b *BatchWriter) UpdateTags(file string, tags Tags) error {
	if err := b.begin(); err != nil {
		return err
	}
	if err := updateTags(b.ctx, b.tx, file, tags); err != nil {
		if !errors.Is(err, ErrNotFound) {
			b.abort(err)
		}
		return err
	}
	return b.step()
}

func (b *BatchWriter) step() error {
	b.pending++
	b.total++
	if b.pending >= b.every {
		return b.Flush()
	}
	return nil
}

// Flush commits the open transaction, if any.
func (b *BatchWriter) Flush() error {
	if b.tx == nil {
		return nil
	}
	err := b.tx.Commit()
	b.tx = nil
	b.pending = 0
	b.s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// Close flushes remaining work.
func (b *BatchWriter) Close() error {
	return b.Flush()
}

// Total is the number of operations accepted so far.
func (b *BatchWriter) Total() int {
	return b.total
}

func (b *BatchWriter) abort(cause error) {
	if b.tx == nil {
		return
	}
	rollback(b.tx, cause)
	b.tx = nil
	b.total -= b.pending
	b.pending = 0
	b.s.mu.Unlock()
}
