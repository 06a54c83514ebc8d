// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

/*
Package middleware provides the HTTP middleware shared by every Timbre route.

  - RequestID: propagates X-Request-ID and attaches it to the logging context
  - PrometheusMetrics: request counters, latency histogram and in-flight gauge,
    labelled by chi route pattern
  - Compression: gzip via klauspost/compress for bodies of 1KB or more

All three have the chi signature func(http.Handler) http.Handler:

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.PrometheusMetrics)
	r.Use(middleware.Compression)

CORS and rate limiting come from go-chi/cors and go-chi/httprate and are
wired in the api package.
*/
package middleware
