// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

package main

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/tomtom215/timbre/internal/api"
	"github.com/tomtom215/timbre/internal/config"
	"github.com/tomtom215/timbre/internal/engine"
	"github.com/tomtom215/timbre/internal/engine/timbre"
	"github.com/tomtom215/timbre/internal/genres"
	"github.com/tomtom215/timbre/internal/index"
	"github.com/tomtom215/timbre/internal/library"
	"github.com/tomtom215/timbre/internal/logging"
	"github.com/tomtom215/timbre/internal/metrics"
	"github.com/tomtom215/timbre/internal/normalize"
	"github.com/tomtom215/timbre/internal/similar"
	"github.com/tomtom215/timbre/internal/supervisor"
	"github.com/tomtom215/timbre/internal/supervisor/services"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

// indexRetryInterval is how often the server retries loading the index
// while the library has not been analysed yet.
const indexRetryInterval = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	metrics.AppInfo.WithLabelValues(Version, runtime.Version(), timbre.Method).Set(1)

	logging.Info().
		Str("version", Version).
		Str("library", cfg.Paths.Library).
		Str("db", cfg.Paths.DB).
		Str("jukebox", cfg.Paths.Jukebox).
		Str("listen", cfg.Server.ListenAddr()).
		Msg("Starting Timbre")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		logging.Fatal().Err(err).Msg("Server failed")
	}
	logging.Info().Msg("Timbre stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	n := normalize.New(cfg.Normalize.AlbumRemove, cfg.Normalize.TitleRemove)
	taxonomy := genres.New(cfg.Genres)

	mgr := index.NewManager(
		openStore(cfg),
		newEngine(cfg),
		n,
		rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)), //nolint:gosec // style sampling only
		index.Settings{
			JukeboxPath: cfg.Paths.Jukebox,
			StyleTracks: cfg.Analysis.StyleTracks,
			StyleMethod: cfg.Analysis.StyleMethod,
		},
	)

	svc := similar.New(cfg.Similar, taxonomy, n, mgr.Current)
	handler := api.NewHandler(cfg, svc, mgr.Current)
	router := api.NewRouter(handler, api.NewChiMiddleware(api.ChiMiddlewareConfigFrom(cfg.Security)))

	server := &http.Server{
		Addr:              cfg.Server.ListenAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       2 * cfg.Server.Timeout,
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		return err
	}
	tree.AddDataService(services.NewIndexService(mgr, reloadSignals(ctx), indexRetryInterval))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	errCh := tree.ServeBackground(ctx)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, s := range unstopped {
		logging.Warn().Str("service", s.Name).Msg("Service failed to stop within timeout")
	}
	return nil
}

// openStore opens the metadata store for one index load.
func openStore(cfg *config.Config) func() (index.Store, error) {
	return func() (index.Store, error) {
		st, err := library.Open(cfg.Paths.DB, cfg.Database)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
}

func newEngine(cfg *config.Config) func() engine.SimilarityEngine {
	return func() engine.SimilarityEngine {
		return timbre.New(timbre.WithDecoder(timbre.FFmpegDecoder{Path: cfg.Analysis.FFmpegPath}))
	}
}

// reloadSignals turns SIGHUP into reload requests. A burst of signals
// while a reload is pending collapses into one.
func reloadSignals(ctx context.Context) <-chan struct{} {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	reload := make(chan struct{}, 1)
	go func() {
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				logging.Info().Msg("Received SIGHUP, scheduling index reload")
				select {
				case reload <- struct{}{}:
				default:
				}
			}
		}
	}()
	return reload
}
