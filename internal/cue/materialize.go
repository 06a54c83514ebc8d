// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

package cue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/timbre/internal/logging"
	"github.com/tomtom215/timbre/internal/metrics"
)

const breakerName = "transcoder"

// Transcoder cuts [start, start+length) seconds of src into dst.
type Transcoder interface {
	Cut(ctx context.Context, src, dst string, start, length float64) error
}

// FFmpegTranscoder encodes clips as MP3 with ffmpeg.
type FFmpegTranscoder struct {
	Path    string // "ffmpeg" when empty
	Bitrate string // "128k" when empty
}

// Cut implements Transcoder.
func (f FFmpegTranscoder) Cut(ctx context.Context, src, dst string, start, length float64) error {
	bin := f.Path
	if bin == "" {
		bin = "ffmpeg"
	}
	bitrate := f.Bitrate
	if bitrate == "" {
		bitrate = "128k"
	}
	args := []string{
		"-hide_banner", "-loglevel", "panic",
		"-i", src,
		"-b:a", bitrate,
		"-ss", strconv.FormatFloat(start, 'f', -1, 64),
		"-t", strconv.FormatFloat(length, 'f', -1, 64),
		"-y", dst,
	}
	cmd := exec.CommandContext(ctx, bin, args...) //nolint:gosec // binary comes from config
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg cut %s: %w: %s", src, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Materializer writes virtual tracks into a scratch directory through a
// circuit breaker, so a broken transcoder fails fast instead of once per
// clip.
type Materializer struct {
	transcoder Transcoder
	root       string
	scratch    string
	cb         *gobreaker.CircuitBreaker[struct{}]
}

// NewMaterializer cuts clips from files under root into scratch.
func NewMaterializer(t Transcoder, root, scratch string) *Materializer {
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= 5 {
				logging.Warn().Uint32("failures", counts.ConsecutiveFailures).Msg("Transcoder failing, opening circuit")
				return true
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("from", from.String()).Str("to", to.String()).Msg("Transcoder circuit state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
	return &Materializer{transcoder: t, root: root, scratch: scratch, cb: cb}
}

// Scratch returns the scratch directory.
func (m *Materializer) Scratch() string {
	return m.scratch
}

// Materialize cuts vt into the scratch directory and returns the clip path.
func (m *Materializer) Materialize(ctx context.Context, vt VirtualTrack) (string, error) {
	dst := filepath.Join(m.scratch, ClipName(vt.Source, vt.Range))
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return "", fmt.Errorf("create clip directory: %w", err)
	}
	src := filepath.Join(m.root, vt.Source)

	_, err := m.cb.Execute(func() (struct{}, error) {
		return struct{}{}, m.transcoder.Cut(ctx, src, dst, vt.Start, vt.End-vt.Start)
	})
	switch {
	case err == nil:
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, metrics.BreakerResultSuccess).Inc()
		return dst, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, metrics.BreakerResultRejected).Inc()
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, metrics.BreakerResultFailure).Inc()
	}
	return "", fmt.Errorf("materialize %s: %w", vt.Key(), err)
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
