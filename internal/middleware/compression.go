// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

package middleware

import (
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// minCompressSize is the smallest body worth gzipping. Similar-track
// lists stay below it; dumps of a large library run to megabytes.
const minCompressSize = 1024

var gzipWriterPool = sync.Pool{
	New: func() any {
		return gzip.NewWriter(io.Discard)
	},
}

// compressWriter holds the status and the first minCompressSize bytes
// back until it knows whether the body is large enough to compress.
type compressWriter struct {
	http.ResponseWriter
	status int
	buf    []byte
	gz     *gzip.Writer
	sent   bool
}

func (w *compressWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
}

func (w *compressWriter) Write(b []byte) (int, error) {
	if w.gz != nil {
		return w.gz.Write(b)
	}
	if w.sent {
		return w.ResponseWriter.Write(b)
	}
	w.buf = append(w.buf, b...)
	if len(w.buf) < minCompressSize {
		return len(b), nil
	}
	if err := w.start(w.ResponseWriter.Header().Get("Content-Encoding") == ""); err != nil {
		return 0, err
	}
	return len(b), nil
}

// start sends the header and the buffered bytes, through gzip when zip.
func (w *compressWriter) start(zip bool) error {
	w.sent = true
	if w.status == 0 {
		w.status = http.StatusOK
	}
	buf := w.buf
	w.buf = nil
	if !zip {
		w.ResponseWriter.WriteHeader(w.status)
		_, err := w.ResponseWriter.Write(buf)
		return err
	}

	h := w.ResponseWriter.Header()
	h.Set("Content-Encoding", "gzip")
	h.Del("Content-Length")
	w.ResponseWriter.WriteHeader(w.status)

	w.gz, _ = gzipWriterPool.Get().(*gzip.Writer)
	w.gz.Reset(w.ResponseWriter)
	_, err := w.gz.Write(buf)
	return err
}

// finish flushes a body that never reached the threshold uncompressed and
// closes the gzip stream otherwise.
func (w *compressWriter) finish() {
	if !w.sent {
		_ = w.start(false) // response already committed
		return
	}
	if w.gz != nil {
		_ = w.gz.Close()
		gzipWriterPool.Put(w.gz)
		w.gz = nil
	}
}

// Compression gzips response bodies of at least minCompressSize bytes for
// clients that accept it. Smaller bodies go out unchanged.
func Compression(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Accept-Encoding")
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}

		cw := &compressWriter{ResponseWriter: w}
		defer cw.finish()
		next.ServeHTTP(cw, r)
	})
}
