// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

package main

import (
	"github.com/spf13/cobra"

	"github.com/tomtom215/timbre/internal/config"
	"github.com/tomtom215/timbre/internal/engine"
	"github.com/tomtom215/timbre/internal/engine/timbre"
	"github.com/tomtom215/timbre/internal/ingest"
)

const workerCmdName = "worker"

// workerArgs are the leading arguments SubprocessAnalyzer passes to this
// binary; it appends the excerpt flags and the file.
func workerArgs(cfg *config.Config) []string {
	return []string{workerCmdName, "--ffmpeg", cfg.Analysis.FFmpegPath}
}

// newWorkerCmd analyses exactly one file and writes its feature blob to
// stdout. It is started by the parent analyse process, one per file.
func newWorkerCmd() *cobra.Command {
	var (
		ffmpeg  string
		excerpt engine.Excerpt
	)
	cmd := &cobra.Command{
		Use:           workerCmdName + " FILE",
		Short:         "Analyse one file (internal)",
		Hidden:        true,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng := timbre.New(timbre.WithDecoder(timbre.FFmpegDecoder{Path: ffmpeg}), timbre.WithParallelism(1))
			return ingest.RunWorker(cmd.Context(), eng, args[0], excerpt, cmd.OutOrStdout())
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&ffmpeg, "ffmpeg", "ffmpeg", "ffmpeg binary")
	flags.Float64Var(&excerpt.Length, "excerpt-length", 0, "excerpt length in seconds (0 = whole file)")
	flags.Float64Var(&excerpt.Start, "excerpt-start", 0, "excerpt start in seconds; negative is relative to the middle")
	return cmd
}
