// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"slices"
	"strconv"
	"strings"

	"github.com/tomtom215/timbre/internal/config"
	"github.com/tomtom215/timbre/internal/engine"
)

// ErrEmptyFeatures is returned when a worker exits cleanly without output.
var ErrEmptyFeatures = errors.New("ingest: worker produced no features")

// SubprocessAnalyzer analyses each file in a fresh worker process so a
// crash in decoding or analysis only loses that file. The worker is
// Executable with Args, followed by the excerpt flags and the path; it
// must write the feature blob to stdout (see RunWorker).
type SubprocessAnalyzer struct {
	Executable string
	Args       []string
}

// AnalyzeFile runs one worker for path.
func (s SubprocessAnalyzer) AnalyzeFile(ctx context.Context, path string, excerpt engine.Excerpt) ([]byte, error) {
	args := append(slices.Clone(s.Args),
		"--excerpt-length", strconv.FormatFloat(excerpt.Length, 'g', -1, 64),
		"--excerpt-start", strconv.FormatFloat(excerpt.Start, 'g', -1, 64),
		"--", path)
	cmd := exec.CommandContext(ctx, s.Executable, args...) //nolint:gosec // executable is our own binary
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("worker %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("worker %s: %w", path, ErrEmptyFeatures)
	}
	return stdout.Bytes(), nil
}

// RunWorker is the worker side of SubprocessAnalyzer.
func RunWorker(ctx context.Context, a engine.Analyzer, path string, excerpt engine.Excerpt, w io.Writer) error {
	blob, err := a.AnalyzeFile(ctx, path, excerpt)
	if err != nil {
		return err
	}
	_, err = w.Write(blob)
	return err
}

// SelectAnalyzer picks the analyzer for cfg: the worker when subprocess
// isolation is requested with more than one thread, inproc otherwise.
func SelectAnalyzer(cfg config.AnalysisConfig, inproc engine.Analyzer, worker SubprocessAnalyzer) engine.Analyzer {
	if cfg.Isolation == config.IsolationSubprocess && cfg.Threads != 1 && worker.Executable != "" {
		return worker
	}
	return inproc
}
