// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

package config

import (
	"fmt"
	"os"
	"strings"
)

// Validate checks that required configuration is present and consistent.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateAnalysis(); err != nil {
		return err
	}
	if err := c.validateSimilar(); err != nil {
		return err
	}
	if err := c.validateSecurity(); err != nil {
		return err
	}
	return c.validateLogging()
}

// ValidateForAnalysis adds the checks only the analyse binary needs.
func (c *Config) ValidateForAnalysis() error {
	info, err := os.Stat(c.Paths.Library)
	if err != nil {
		return fmt.Errorf("paths.library %q does not exist: %w", c.Paths.Library, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("paths.library %q is not a directory", c.Paths.Library)
	}
	return nil
}

func (c *Config) validatePaths() error {
	required := []struct {
		key, val string
	}{
		{"paths.library", c.Paths.Library},
		{"paths.db", c.Paths.DB},
		{"paths.jukebox", c.Paths.Jukebox},
	}
	for _, r := range required {
		if strings.TrimSpace(r.val) == "" {
			return fmt.Errorf("%s is required", r.key)
		}
	}

	if c.Paths.Tmp != "" {
		if _, err := os.Stat(c.Paths.Tmp); err != nil {
			return fmt.Errorf("paths.tmp %q does not exist", c.Paths.Tmp)
		}
	}
	if c.LMS.DB != "" {
		if _, err := os.Stat(c.LMS.DB); err != nil {
			return fmt.Errorf("lms.db %q does not exist", c.LMS.DB)
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive")
	}
	return nil
}

func (c *Config) validateAnalysis() error {
	a := c.Analysis
	switch a.Isolation {
	case IsolationInProcess, IsolationSubprocess:
	default:
		return fmt.Errorf("analysis.isolation must be %q or %q, got %q", IsolationInProcess, IsolationSubprocess, a.Isolation)
	}
	switch a.StyleMethod {
	case StyleMethodAlbums, StyleMethodGenres:
	default:
		return fmt.Errorf("analysis.style_method must be %q or %q, got %q", StyleMethodAlbums, StyleMethodGenres, a.StyleMethod)
	}
	if a.Threads < 0 {
		return fmt.Errorf("analysis.threads must not be negative")
	}
	if a.CommitEvery < 1 {
		return fmt.Errorf("analysis.commit_every must be at least 1")
	}
	if a.ExcerptLength < 0 {
		return fmt.Errorf("analysis.excerpt_length must not be negative")
	}
	if a.StyleTracks < 1 {
		return fmt.Errorf("analysis.style_tracks must be at least 1")
	}
	if a.FFmpegPath == "" {
		return fmt.Errorf("analysis.ffmpeg_path is required")
	}
	return nil
}

func (c *Config) validateSimilar() error {
	s := c.Similar
	if s.MinCount < 1 || s.MaxCount < s.MinCount {
		return fmt.Errorf("similar.min_count/max_count out of order: %d/%d", s.MinCount, s.MaxCount)
	}
	if s.DefaultCount < s.MinCount || s.DefaultCount > s.MaxCount {
		return fmt.Errorf("similar.default_count %d outside [%d,%d]", s.DefaultCount, s.MinCount, s.MaxCount)
	}
	if s.MaxSimilarity <= 0 {
		return fmt.Errorf("similar.max_similarity must be positive")
	}
	if s.MaxNoRepeat < 0 || s.NoRepeatArtist < 0 || s.NoRepeatAlbum < 0 {
		return fmt.Errorf("similar no-repeat windows must not be negative")
	}
	if s.BackfillFloor < 0 {
		return fmt.Errorf("similar.backfill_floor must not be negative")
	}
	if s.ShuffleFactor < 1 {
		return fmt.Errorf("similar.shuffle_factor must be at least 1")
	}
	return nil
}

func (c *Config) validateSecurity() error {
	if c.Security.RateLimitDisabled {
		return nil
	}
	if c.Security.RateLimitReqs < 1 {
		return fmt.Errorf("security.rate_limit_reqs must be at least 1")
	}
	if c.Security.RateLimitWindow <= 0 {
		return fmt.Errorf("security.rate_limit_window must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("logging.level %q is not a valid level", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
