// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

package services

import (
	"context"
	"time"

	"github.com/tomtom215/timbre/internal/index"
	"github.com/tomtom215/timbre/internal/logging"
)

const defaultRetryInterval = 30 * time.Second

// IndexLoader loads and publishes a similarity index. *index.Manager
// satisfies it.
type IndexLoader interface {
	Load(ctx context.Context) (*index.Snapshot, error)
	Ready() bool
}

// IndexService brings the similarity index online and keeps it fresh.
//
// Until the first load succeeds it retries every retryInterval, so a
// server started before the first analysis run picks the library up
// once it exists. Afterwards each value on reload triggers a new load; a
// failed reload leaves the previous snapshot serving.
type IndexService struct {
	loader        IndexLoader
	reload        <-chan struct{}
	retryInterval time.Duration
}

// NewIndexService creates the service. reload may be nil.
func NewIndexService(loader IndexLoader, reload <-chan struct{}, retryInterval time.Duration) *IndexService {
	if retryInterval <= 0 {
		retryInterval = defaultRetryInterval
	}
	return &IndexService{loader: loader, reload: reload, retryInterval: retryInterval}
}

// Serve implements suture.Service. It only returns once ctx is done.
func (s *IndexService) Serve(ctx context.Context) error {
	if !s.loader.Ready() {
		if err := s.loadUntilReady(ctx); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.reload:
			logging.Info().Msg("Reloading similarity index")
			if _, err := s.loader.Load(ctx); err != nil {
				logging.Error().Err(err).Msg("Index reload failed, keeping current index")
			}
		}
	}
}

func (s *IndexService) loadUntilReady(ctx context.Context) error {
	ticker := time.NewTicker(s.retryInterval)
	defer ticker.Stop()

	for {
		_, err := s.loader.Load(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logging.Warn().Err(err).Dur("retry_in", s.retryInterval).Msg("Similarity index unavailable")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-s.reload:
		}
	}
}

func (s *IndexService) String() string {
	return "index-loader"
}
