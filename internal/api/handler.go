// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/tomtom215/timbre/internal/config"
	"github.com/tomtom215/timbre/internal/cue"
	"github.com/tomtom215/timbre/internal/index"
	"github.com/tomtom215/timbre/internal/logging"
	"github.com/tomtom215/timbre/internal/similar"
	"github.com/tomtom215/timbre/internal/validation"
)

// Handler serves the HTTP API. It holds no request state; everything
// mutable lives behind the snapshot accessor.
type Handler struct {
	cfg       *config.Config
	similar   *similar.Service
	snapshot  func() *index.Snapshot
	codec     cue.Codec
	startTime time.Time
}

// NewHandler returns a Handler answering from svc. snapshot reports the
// currently served index, nil while loading.
func NewHandler(cfg *config.Config, svc *similar.Service, snapshot func() *index.Snapshot) *Handler {
	return &Handler{
		cfg:       cfg,
		similar:   svc,
		snapshot:  snapshot,
		codec:     cue.NewCodec(cfg.Paths.ClientRoot),
		startTime: time.Now(),
	}
}

func (h *Handler) decodeAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = h.codec.DecodeURL(s)
	}
	return out
}

func (h *Handler) queryContext(r *http.Request) (context.Context, context.CancelFunc) {
	if d := h.cfg.Similar.QueryTimeout; d > 0 {
		return context.WithTimeout(r.Context(), d)
	}
	return context.WithCancel(r.Context())
}

// badRequest reports a request that could not be read.
func badRequest(w http.ResponseWriter, r *http.Request, err error) {
	var pe *paramError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &pe):
		respondError(w, r, http.StatusBadRequest, CodeBadRequest, pe.Error(), nil)
	case errors.As(err, &tooLarge):
		respondError(w, r, http.StatusRequestEntityTooLarge, CodeBadRequest, "Request body too large", nil)
	default:
		respondError(w, r, http.StatusBadRequest, CodeBadRequest, "Malformed request", err)
	}
}

// invalid reports failed validation.
func invalid(w http.ResponseWriter, r *http.Request, verr *validation.RequestValidationError) {
	apiErr := verr.ToAPIError()
	respondErrorDetails(w, r, http.StatusBadRequest, &APIError{
		Code:    apiErr.Code,
		Message: apiErr.Message,
		Details: apiErr.Details,
	}, nil)
}

// queryFailed maps errors from the similarity service.
func queryFailed(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, similar.ErrNotReady):
		respondError(w, r, http.StatusServiceUnavailable, CodeServiceUnavailable, "Index is still loading", nil)
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, r, http.StatusServiceUnavailable, CodeServiceUnavailable, "Query timed out", err)
	case errors.Is(err, context.Canceled):
		logging.Ctx(r.Context()).Debug().Msg("Client went away")
	default:
		respondError(w, r, http.StatusInternalServerError, CodeInternalError, "Query failed", err)
	}
}
