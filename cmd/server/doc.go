// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

// Command server answers similar-track queries over HTTP.
//
// At start it loads the persisted index from paths.jukebox, rebuilding it
// from the metadata store when the file is missing or out of date. Until
// the library has been analysed (see cmd/analyse) the API answers 503 and
// the load is retried every 30 seconds.
//
// Signals:
//
//	SIGHUP           reload the index after an analysis run
//	SIGINT, SIGTERM  drain in-flight requests and exit
//
// Endpoints:
//
//	GET|POST /api/similar      similar tracks for one or more seeds
//	GET|POST /api/dump         every neighbour of one seed, with scores
//	GET      /api/stats        index statistics
//	GET      /api/v1/health/*  liveness and readiness
//	GET      /metrics          Prometheus exposition
//
// Example:
//
//	TIMBRE_LIBRARY_PATH=/music TIMBRE_DB_PATH=/var/lib/timbre/timbre.db \
//	TIMBRE_JUKEBOX_PATH=/var/lib/timbre/timbre.jukebox ./server
package main
