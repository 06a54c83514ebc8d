// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

/*
Package supervisor runs the server's long-lived services under suture v4.

	timbre
	├── data-layer
	│   └── IndexService (initial load, retries, SIGHUP reloads)
	└── api-layer
	    └── HTTPServerService

A crashed service is restarted with exponential backoff. Supervisor events
are logged through sutureslog.

Typical wiring in main:

	tree, err := supervisor.NewSupervisorTree(logger, supervisor.DefaultTreeConfig())
	if err != nil {
	    return err
	}
	tree.AddDataService(services.NewIndexService(mgr, reload, 30*time.Second))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	errCh := tree.ServeBackground(ctx)

Return values decide restart behavior: nil means stopped for good, an
error means restart, ctx.Err() means shutdown was requested.
*/
package supervisor
