// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/timbre/config.yaml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultAlbumRemove are qualifiers dropped from album names before comparison.
var DefaultAlbumRemove = []string{
	"anniversary edition",
	"deluxe edition",
	"deluxe version",
	"expanded edition",
	"special edition",
	"bonus track version",
	"remastered",
	"remaster",
	"mono",
	"stereo",
}

// DefaultTitleRemove are qualifiers dropped from track titles before comparison.
var DefaultTitleRemove = []string{
	"radio edit",
	"single version",
	"album version",
	"remastered",
	"remaster",
	"mono",
	"stereo",
	"live",
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            11000,
			Timeout:         30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			MaxMemory: "512MB",
			Threads:   0,
		},
		Analysis: AnalysisConfig{
			Threads:       0,
			Isolation:     IsolationInProcess,
			CommitEvery:   100,
			ExcerptLength: 120,
			ExcerptStart:  -48,
			StyleTracks:   1000,
			StyleMethod:   StyleMethodGenres,
			FFmpegPath:    "ffmpeg",
			CueBitrate:    "128k",
		},
		Similar: SimilarConfig{
			DefaultCount:      5,
			MinCount:          5,
			MaxCount:          50,
			MaxSimilarity:     0.75,
			NoRepeatArtist:    15,
			NoRepeatAlbum:     25,
			MaxNoRepeat:       200,
			BackfillFloor:     2,
			MaxIgnoreMeta:     15,
			ShuffleFactor:     3,
			NeighborCacheSize: 256,
			QueryTimeout:      10 * time.Second,
		},
		Normalize: NormalizeConfig{
			AlbumRemove: append([]string(nil), DefaultAlbumRemove...),
			TitleRemove: append([]string(nil), DefaultTitleRemove...),
		},
		Security: SecurityConfig{
			RateLimitReqs:   600,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// sliceConfigPaths may arrive from the environment as comma-separated strings.
var sliceConfigPaths = []string{
	"similar.ignore_genre_artists",
	"normalize.album_remove",
	"normalize.title_remove",
	"security.cors_origins",
}

// LoadWithKoanf loads defaults, then the config file, then the environment.
// path overrides the file search when non-empty.
func LoadWithKoanf(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configPath := path
	if configPath == "" {
		configPath = findConfigFile()
	} else if _, err := os.Stat(configPath); err != nil {
		return nil, fmt.Errorf("config file %s: %w", configPath, err)
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	cfg.applyDerived()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// applyDerived fills values that default to other values.
func (c *Config) applyDerived() {
	if c.Paths.ClientRoot == "" {
		c.Paths.ClientRoot = c.Paths.Library
	}
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variables (lower-cased) to koanf paths.
// Variables not listed here are ignored.
var envMappings = map[string]string{
	"timbre_library_path": "paths.library",
	"timbre_client_root":  "paths.client_root",
	"timbre_db_path":      "paths.db",
	"timbre_jukebox_path": "paths.jukebox",
	"timbre_tmp_path":     "paths.tmp",
	"timbre_cache_path":   "paths.cache",
	"lms_db_path":         "lms.db",

	"http_host":             "server.host",
	"http_port":             "server.port",
	"http_timeout":          "server.timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",

	"duckdb_max_memory": "database.max_memory",
	"duckdb_threads":    "database.threads",

	"analysis_threads":        "analysis.threads",
	"analysis_isolation":      "analysis.isolation",
	"analysis_commit_every":   "analysis.commit_every",
	"analysis_excerpt_length": "analysis.excerpt_length",
	"analysis_excerpt_start":  "analysis.excerpt_start",
	"style_tracks":            "analysis.style_tracks",
	"style_method":            "analysis.style_method",
	"ffmpeg_path":             "analysis.ffmpeg_path",
	"cue_bitrate":             "analysis.cue_bitrate",

	"similar_default_count":        "similar.default_count",
	"similar_max_similarity":       "similar.max_similarity",
	"similar_no_repeat_artist":     "similar.no_repeat_artist",
	"similar_no_repeat_album":      "similar.no_repeat_album",
	"similar_backfill_floor":       "similar.backfill_floor",
	"similar_ignore_genre_artists": "similar.ignore_genre_artists",
	"similar_neighbor_cache_size":  "similar.neighbor_cache_size",
	"similar_query_timeout":        "similar.query_timeout",

	"normalize_album_remove": "normalize.album_remove",
	"normalize_title_remove": "normalize.title_remove",

	"rate_limit_requests": "security.rate_limit_reqs",
	"rate_limit_window":   "security.rate_limit_window",
	"disable_rate_limit":  "security.rate_limit_disabled",
	"cors_origins":        "security.cors_origins",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
