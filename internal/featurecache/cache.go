// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

// Package featurecache keeps analysed feature blobs in a BadgerDB directory
// so that re-ingesting a library after losing the metadata store, or after a
// stale-file purge, does not decode unchanged audio again.
//
// Keys hash the file identity (absolute path, size, mtime), the cue range if
// any, the excerpt and the engine version. Any change to those produces a
// miss. Losing the cache directory only costs time.
package featurecache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/OneOfOne/xxhash"
	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/timbre/internal/engine"
)

const keyPrefix = "feat:"

// ErrClosed is returned after Close.
var ErrClosed = errors.New("featurecache: closed")

// Cache is a persistent feature blob cache. A nil *Cache is valid and
// behaves as an always-empty cache.
type Cache struct {
	mu     sync.RWMutex
	db     *badger.DB
	closed bool
}

// Open opens or creates the cache at dir.
func Open(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open feature cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// Key identifies one analysis of path. fragment is the cue range
// ("start-end") or empty; engineTag names the engine and its version.
func Key(path, fragment string, excerpt engine.Excerpt, engineTag string) (uint64, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return 0, err
	}

	var buf []byte
	for _, part := range []string{
		abs,
		strconv.FormatInt(fi.Size(), 10),
		strconv.FormatInt(fi.ModTime().UnixNano(), 10),
		fragment,
		strconv.FormatFloat(excerpt.Length, 'g', -1, 64),
		strconv.FormatFloat(excerpt.Start, 'g', -1, 64),
		engineTag,
	} {
		buf = append(buf, part...)
		buf = append(buf, 0)
	}
	return xxhash.Checksum64(buf), nil
}

func dbKey(key uint64) []byte {
	b := make([]byte, len(keyPrefix)+8)
	copy(b, keyPrefix)
	binary.BigEndian.PutUint64(b[len(keyPrefix):], key)
	return b
}

// Get returns the cached blob for key.
func (c *Cache) Get(key uint64) ([]byte, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, false, ErrClosed
	}

	var blob []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dbKey(key))
		if err != nil {
			return err
		}
		blob, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cached features: %w", err)
	}
	return blob, true, nil
}

// Put stores blob under key.
func (c *Cache) Put(key uint64, blob []byte) error {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}

	return c.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(dbKey(key), blob); err != nil {
			return fmt.Errorf("set cached features: %w", err)
		}
		return nil
	})
}

// Len counts cached entries.
func (c *Cache) Len() (int, error) {
	if c == nil {
		return 0, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return 0, ErrClosed
	}

	n := 0
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// RunGC reclaims value log space until nothing is left to rewrite.
func (c *Cache) RunGC() error {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	for {
		err := c.db.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run GC: %w", err)
		}
	}
}

// Close flushes and closes the cache. Closing twice is a no-op.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.db.Close()
}
