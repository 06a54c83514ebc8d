// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

// Package services adapts Timbre components to suture.Service.
//
// HTTPServerService turns the ListenAndServe/Shutdown pair into a
// context-driven Serve. IndexService performs the initial index load with
// retries and reloads the index on demand, typically on SIGHUP.
package services
