// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

// Package api is the HTTP surface of the Timbre server.
//
// /api/similar and /api/dump keep the parameter names of the original
// musly-server so existing Lyrion Music Server plugins work unchanged.
// Parameters may arrive as a query string, a form body or a JSON body;
// repeated keys (track, previous, ignore, exclude) become lists. Track
// identifiers are decoded with cue.Codec on the way in and encoded on the
// way out.
//
// Successful similarity responses are bare JSON arrays or plain text.
// Errors and the informational endpoints use the envelope
//
//	{"status":"error","error":{"code":"BAD_REQUEST","message":"..."},"metadata":{"timestamp":"..."}}
package api
