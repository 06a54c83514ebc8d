// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tomtom215/timbre/internal/config"
	"github.com/tomtom215/timbre/internal/cue"
	"github.com/tomtom215/timbre/internal/engine"
	"github.com/tomtom215/timbre/internal/engine/timbre"
	"github.com/tomtom215/timbre/internal/featurecache"
	"github.com/tomtom215/timbre/internal/ingest"
	"github.com/tomtom215/timbre/internal/library"
	"github.com/tomtom215/timbre/internal/logging"
)

type rootFlags struct {
	config    string
	path      string
	metaOnly  bool
	keepStale bool
	progress  bool
	ignore    string
}

func newRootCmd() *cobra.Command {
	var f rootFlags
	cmd := &cobra.Command{
		Use:           "analyse",
		Short:         "Analyse the music library and rebuild the similarity index",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAnalyse(cmd, f)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&f.config, "config", "c", "", "config file (default: CONFIG_PATH or the search list)")
	flags.StringVarP(&f.path, "path", "p", "", "sub-tree of the library to analyse (default: library root)")
	flags.BoolVarP(&f.metaOnly, "meta-only", "m", false, "only refresh tags of already analysed tracks")
	flags.BoolVarP(&f.keepStale, "keep-stale", "k", false, "keep tracks whose files no longer exist")
	flags.BoolVar(&f.progress, "progress", false, "show progress bars")
	flags.StringVarP(&f.ignore, "ignore", "i", "", "file of library-relative path prefixes to exclude from results, one per line")

	cmd.AddCommand(newWorkerCmd())
	return cmd
}

func runAnalyse(cmd *cobra.Command, f rootFlags) error {
	cfg, err := config.LoadFile(f.config)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := cfg.ValidateForAnalysis(); err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	var ignore []string
	if f.ignore != "" {
		if ignore, err = readIgnoreFile(f.ignore); err != nil {
			return err
		}
	}

	deps, cleanup, err := buildDeps(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	opts := ingest.Options{
		RemoveStale:  !f.keepStale,
		MetadataOnly: f.metaOnly,
		Ignore:       ignore,
	}
	var bars *barProgress
	if f.progress {
		bars = newBarProgress(cmd.ErrOrStderr())
		opts.Progress = bars
	}

	report, err := ingest.New(cfg, deps).Ingest(cmd.Context(), f.path, opts)
	if bars != nil {
		bars.Wait()
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(),
		"analysed %d, cached %d, failed %d, removed %d, tags updated %d, tracks %d\n",
		report.Analysed, report.Cached, report.Failed, report.Removed, report.TagsUpdated, report.Tracks)
	return nil
}

// buildDeps opens everything an ingestion run needs. cleanup closes them
// in reverse order.
func buildDeps(cfg *config.Config) (ingest.Deps, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	closeLogged := func(name string, fn func() error) func() {
		return func() {
			if err := fn(); err != nil {
				logging.Warn().Err(err).Str("resource", name).Msg("Failed to close")
			}
		}
	}

	store, err := library.Open(cfg.Paths.DB, cfg.Database)
	if err != nil {
		return ingest.Deps{}, cleanup, fmt.Errorf("open metadata store: %w", err)
	}
	closers = append(closers, closeLogged("store", store.Close))

	resolver, err := cue.OpenResolver(cfg.LMS.DB)
	if err != nil {
		cleanup()
		return ingest.Deps{}, func() {}, err
	}
	closers = append(closers, closeLogged("lms", resolver.Close))

	var cache *featurecache.Cache
	if cfg.Paths.Cache != "" {
		if cache, err = featurecache.Open(cfg.Paths.Cache); err != nil {
			// The cache only saves work; run without it.
			logging.Warn().Err(err).Str("dir", cfg.Paths.Cache).Msg("Feature cache unavailable")
			cache = nil
		} else {
			closers = append(closers, closeLogged("feature cache", cache.Close))
		}
	}

	decoder := timbre.FFmpegDecoder{Path: cfg.Analysis.FFmpegPath}
	inproc := timbre.New(timbre.WithDecoder(decoder))

	worker := ingest.SubprocessAnalyzer{}
	if exe, err := os.Executable(); err == nil {
		worker.Executable = exe
		worker.Args = workerArgs(cfg)
	} else {
		logging.Warn().Err(err).Msg("Cannot locate own executable, analysing in-process")
	}

	deps := ingest.Deps{
		Store:    store,
		Analyzer: ingest.SelectAnalyzer(cfg.Analysis, inproc, worker),
		NewEngine: func() engine.SimilarityEngine {
			return timbre.New(timbre.WithDecoder(decoder))
		},
		Resolver:   resolver,
		Transcoder: cue.FFmpegTranscoder{Path: cfg.Analysis.FFmpegPath, Bitrate: cfg.Analysis.CueBitrate},
		Cache:      cache,
		EngineTag:  fmt.Sprintf("%s/v%d", timbre.Method, timbre.FeatureVersion),
	}
	return deps, cleanup, nil
}

// readIgnoreFile returns the non-blank, non-comment lines of path.
func readIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("open ignore file: %w", err)
	}
	defer func() { _ = f.Close() }()

	prefixes := []string{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		prefixes = append(prefixes, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read ignore file: %w", err)
	}
	return prefixes, nil
}
