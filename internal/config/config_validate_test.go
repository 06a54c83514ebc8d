// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

package config

import (
	"path/filepath"
	"strings"
	"testing"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg := defaultConfig()
	cfg.Paths.Library = "/music"
	cfg.Paths.DB = "/data/timbre.duckdb"
	cfg.Paths.Jukebox = "/data/timbre.jukebox"
	cfg.applyDerived()
	return cfg
}

func TestValidate(t *testing.T) {
	t.Parallel()

	missing := filepath.Join(t.TempDir(), "nope")

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"no library", func(c *Config) { c.Paths.Library = "" }, "paths.library"},
		{"no jukebox", func(c *Config) { c.Paths.Jukebox = " " }, "paths.jukebox"},
		{"tmp missing", func(c *Config) { c.Paths.Tmp = missing }, "paths.tmp"},
		{"lms missing", func(c *Config) { c.LMS.DB = missing }, "lms.db"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"bad isolation", func(c *Config) { c.Analysis.Isolation = "thread" }, "analysis.isolation"},
		{"bad style method", func(c *Config) { c.Analysis.StyleMethod = "random" }, "analysis.style_method"},
		{"default count outside", func(c *Config) { c.Similar.DefaultCount = 100 }, "default_count"},
		{"zero shuffle factor", func(c *Config) { c.Similar.ShuffleFactor = 0 }, "shuffle_factor"},
		{"rate limit disabled skips checks", func(c *Config) {
			c.Security.RateLimitDisabled = true
			c.Security.RateLimitReqs = 0
		}, ""},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateForAnalysis(t *testing.T) {
	t.Parallel()

	cfg := validConfig(t)
	cfg.Paths.Library = t.TempDir()
	if err := cfg.ValidateForAnalysis(); err != nil {
		t.Errorf("ValidateForAnalysis() error = %v, want nil", err)
	}

	cfg.Paths.Library = filepath.Join(cfg.Paths.Library, "missing")
	if err := cfg.ValidateForAnalysis(); err == nil {
		t.Error("ValidateForAnalysis() error = nil, want error for missing library")
	}
}
