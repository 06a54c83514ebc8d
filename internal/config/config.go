// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

// Package config loads Timbre configuration for both binaries.
//
// Loading order (koanf v2), later layers win:
//  1. Built-in defaults (defaultConfig)
//  2. Optional YAML file (CONFIG_PATH, or the first of DefaultConfigPaths)
//  3. Environment variables listed in envMappings
//
// Example:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    logging.Fatal().Err(err).Msg("Invalid configuration")
//	}
//	store, err := library.Open(cfg.Paths.DB, cfg.Database)
package config

import (
	"net"
	"strconv"
	"strings"
	"time"
)

// Config is the complete Timbre configuration.
type Config struct {
	Paths     PathsConfig     `koanf:"paths"`
	LMS       LMSConfig       `koanf:"lms"`
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Analysis  AnalysisConfig  `koanf:"analysis"`
	Similar   SimilarConfig   `koanf:"similar"`
	Genres    [][]string      `koanf:"genres"`
	Normalize NormalizeConfig `koanf:"normalize"`
	Security  SecurityConfig  `koanf:"security"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// PathsConfig locates the library and every file Timbre owns.
type PathsConfig struct {
	Library    string `koanf:"library"`     // analysis root (required)
	ClientRoot string `koanf:"client_root"` // root as seen by HTTP clients; defaults to Library
	DB         string `koanf:"db"`          // metadata store file (required)
	Jukebox    string `koanf:"jukebox"`     // persisted index file (required)
	Tmp        string `koanf:"tmp"`         // parent of the cue scratch directory
	Cache      string `koanf:"cache"`       // feature cache directory; empty disables
}

// LMSConfig points at an external Lyrion/LMS track database. Only the
// tracks table is read, to discover cue sheet sub-tracks.
type LMSConfig struct {
	DB string `koanf:"db"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Timeout         time.Duration `koanf:"timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig tunes the embedded DuckDB metadata store.
type DatabaseConfig struct {
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = runtime.NumCPU()
}

// Isolation modes for per-file analysis.
const (
	IsolationInProcess  = "inprocess"
	IsolationSubprocess = "subprocess"
)

// Style sample selection methods.
const (
	StyleMethodAlbums = "albums"
	StyleMethodGenres = "genres"
)

// AnalysisConfig controls ingestion.
type AnalysisConfig struct {
	Threads       int    `koanf:"threads"`   // 0 = runtime.NumCPU()
	Isolation     string `koanf:"isolation"` // inprocess | subprocess
	CommitEvery   int    `koanf:"commit_every"`
	ExcerptLength int    `koanf:"excerpt_length"` // seconds
	ExcerptStart  int    `koanf:"excerpt_start"`  // seconds; negative is relative to the middle
	StyleTracks   int    `koanf:"style_tracks"`
	StyleMethod   string `koanf:"style_method"`
	FFmpegPath    string `koanf:"ffmpeg_path"`
	CueBitrate    string `koanf:"cue_bitrate"`
}

// SimilarConfig holds the query defaults and clamps.
type SimilarConfig struct {
	DefaultCount       int           `koanf:"default_count"`
	MinCount           int           `koanf:"min_count"`
	MaxCount           int           `koanf:"max_count"`
	MaxSimilarity      float64       `koanf:"max_similarity"`
	NoRepeatArtist     int           `koanf:"no_repeat_artist"`
	NoRepeatAlbum      int           `koanf:"no_repeat_album"`
	MaxNoRepeat        int           `koanf:"max_no_repeat"`
	BackfillFloor      int           `koanf:"backfill_floor"`
	MaxIgnoreMeta      int           `koanf:"max_ignore_meta"`
	ShuffleFactor      int           `koanf:"shuffle_factor"`
	IgnoreGenreArtists []string      `koanf:"ignore_genre_artists"`
	NeighborCacheSize  int           `koanf:"neighbor_cache_size"`
	QueryTimeout       time.Duration `koanf:"query_timeout"`
}

// NormalizeConfig lists the qualifiers stripped from albums and titles.
type NormalizeConfig struct {
	AlbumRemove []string `koanf:"album_remove"`
	TitleRemove []string `koanf:"title_remove"`
}

// SecurityConfig holds HTTP hardening settings.
type SecurityConfig struct {
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Load reads configuration from CONFIG_PATH or the default search list.
func Load() (*Config, error) {
	return LoadWithKoanf("")
}

// LoadFile reads configuration from an explicit file. An empty path
// behaves like Load.
func LoadFile(path string) (*Config, error) {
	return LoadWithKoanf(path)
}

// AllGenres returns every configured genre, lower-cased and de-duplicated,
// in first-seen order.
func (c *Config) AllGenres() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, group := range c.Genres {
		for _, g := range group {
			g = strings.ToLower(strings.TrimSpace(g))
			if g == "" {
				continue
			}
			if _, ok := seen[g]; ok {
				continue
			}
			seen[g] = struct{}{}
			out = append(out, g)
		}
	}
	return out
}

// ListenAddr is host:port for the HTTP server.
func (s ServerConfig) ListenAddr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}
