// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

package timbre

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/tomtom215/timbre/internal/engine"
)

// Jukebox file layout, all little-endian, zstd compressed:
//
//	magic "TMBJ" | uint16 version | uint16 dimensions
//	uint32 style count | style blobs
//	uint32 track count | track blobs | per track float64 mu, sigma
//
// Each blob is a uint32 length followed by the bytes.
const jukeboxVersion = 1

var jukeboxMagic = [4]byte{'T', 'M', 'B', 'J'}

// ErrBadJukebox is returned by Load for files it cannot parse.
var ErrBadJukebox = errors.New("timbre: malformed jukebox file")

// maxBlob guards Load against absurd lengths in corrupt files.
const maxBlob = 1 << 20

// Persist writes the engine state to path atomically.
func (e *Engine) Persist(path string) (err error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.fitted {
		return engine.ErrNotFitted
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create jukebox directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp jukebox: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	zw, err := zstd.NewWriter(tmp)
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	bw := bufio.NewWriter(zw)
	if err := e.writeJukebox(bw); err != nil {
		_ = zw.Close()
		return fmt.Errorf("write jukebox: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = zw.Close()
		return fmt.Errorf("flush jukebox: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zstd writer: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync jukebox: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close jukebox: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename jukebox: %w", err)
	}
	return nil
}

func (e *Engine) writeJukebox(w io.Writer) error {
	le := binary.LittleEndian
	header := struct {
		Magic   [4]byte
		Version uint16
		Dim     uint16
	}{jukeboxMagic, jukeboxVersion, Coefficients}
	if err := binary.Write(w, le, header); err != nil {
		return err
	}
	if err := writeBlobs(w, e.styleBlobs); err != nil {
		return err
	}
	if err := writeBlobs(w, e.blobs); err != nil {
		return err
	}
	for _, s := range e.stats {
		if err := binary.Write(w, le, [2]float64{s.Mu, s.Sigma}); err != nil {
			return err
		}
	}
	return nil
}

func writeBlobs(w io.Writer, blobs [][]byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(blobs))); err != nil { //nolint:gosec // bounded by track count
		return err
	}
	for _, b := range blobs {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil { //nolint:gosec // blob size
			return err
		}
		if _, err := w.Write(b); err != nil {
			return err
		}
	}
	return nil
}

// Load replaces the engine state with the jukebox at path.
func (e *Engine) Load(path string) ([]int, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from config
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadJukebox, err)
	}
	defer zr.Close()
	r := bufio.NewReader(zr)

	var header struct {
		Magic   [4]byte
		Version uint16
		Dim     uint16
	}
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrBadJukebox, err)
	}
	if header.Magic != jukeboxMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrBadJukebox)
	}
	if header.Version != jukeboxVersion || header.Dim != Coefficients {
		return nil, fmt.Errorf("%w: version %d with %d dimensions", ErrBadJukebox, header.Version, header.Dim)
	}

	styleBlobs, err := readBlobs(r)
	if err != nil {
		return nil, fmt.Errorf("%w: style: %v", ErrBadJukebox, err)
	}
	trackBlobs, err := readBlobs(r)
	if err != nil {
		return nil, fmt.Errorf("%w: tracks: %v", ErrBadJukebox, err)
	}
	st := make([]stats, len(trackBlobs))
	for i := range st {
		var v [2]float64
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return nil, fmt.Errorf("%w: stats: %v", ErrBadJukebox, err)
		}
		st[i] = stats{Mu: v[0], Sigma: v[1]}
	}

	style, err := parseBlobs(styleBlobs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadJukebox, err)
	}
	tracks, err := parseBlobs(trackBlobs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadJukebox, err)
	}
	if len(style) == 0 {
		return nil, fmt.Errorf("%w: empty style sample", ErrBadJukebox)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.style = style
	e.styleBlobs = styleBlobs
	e.tracks = tracks
	e.blobs = trackBlobs
	e.stats = st
	e.fitted = true

	ids := make([]int, len(tracks))
	for i := range ids {
		ids[i] = i
	}
	return ids, nil
}

func readBlobs(r io.Reader) ([][]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if n > math.MaxInt32 {
		return nil, fmt.Errorf("count %d out of range", n)
	}
	blobs := make([][]byte, 0, min(int(n), 1<<16))
	for i := uint32(0); i < n; i++ {
		var size uint32
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, err
		}
		if size > maxBlob {
			return nil, fmt.Errorf("blob %d: size %d out of range", i, size)
		}
		b := make([]byte, size)
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, err
		}
		blobs = append(blobs, b)
	}
	return blobs, nil
}
