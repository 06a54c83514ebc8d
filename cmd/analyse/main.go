// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

// Command analyse scans the music library, extracts timbre features for
// new files, refreshes tags and rebuilds the persisted similarity index.
//
//	analyse --config /etc/timbre/config.yaml --progress
//	analyse --path /music/Incoming --keep-stale
//	analyse --meta-only
//	analyse --ignore ignore.txt
//
// Send SIGHUP to a running server afterwards to pick up the new index.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
