// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

// Package validation checks decoded API requests with go-playground/validator.
//
// A single validator instance is shared and caches struct metadata. Field
// names in messages are taken from the json tag so they match the query
// parameters clients send:
//
//	type dumpParams struct {
//	    Track  string `json:"track" validate:"required,trackid"`
//	    Count  int    `json:"count" validate:"gte=0"`
//	    Format string `json:"format" validate:"omitempty,oneof=json text text-url"`
//	}
//
//	if verr := validation.ValidateStruct(&p); verr != nil {
//	    apiErr := verr.ToAPIError()
//	    respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
//	    return
//	}
//
// Custom tags:
//   - trackid: non-blank, valid UTF-8, no NUL bytes, at most 4096 bytes
package validation
