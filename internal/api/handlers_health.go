// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

package api

import (
	"net/http"
	"time"
)

// HealthLive always succeeds while the process serves HTTP.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, http.StatusOK, map[string]any{
		"alive":  true,
		"uptime": time.Since(h.startTime).Seconds(),
	})
}

// HealthReady returns 503 until an index snapshot is loaded.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	snap := h.snapshot()
	ready := snap != nil
	data := map[string]any{
		"index_loaded": ready,
		"uptime":       time.Since(h.startTime).Seconds(),
	}
	if ready {
		data["tracks"] = snap.Len()
	}

	status, body := http.StatusOK, &APIResponse{Status: "ready", Data: data}
	if !ready {
		status, body.Status = http.StatusServiceUnavailable, "not_ready"
	}
	body.Metadata = Metadata{Timestamp: time.Now()}
	writeJSON(w, status, body)
}

// StatsResponse is the data of /api/stats.
type StatsResponse struct {
	Tracks        int       `json:"tracks"`
	StyleTracks   int       `json:"style_tracks"`
	EngineMethod  string    `json:"engine_method"`
	EngineVersion int       `json:"engine_version"`
	Dimensions    int       `json:"dimensions"`
	Library       string    `json:"library"`
	Source        string    `json:"source"`
	LoadedAt      time.Time `json:"loaded_at"`
	Uptime        float64   `json:"uptime_seconds"`
}

// Stats summarises the served index.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	snap := h.snapshot()
	if snap == nil {
		respondError(w, r, http.StatusServiceUnavailable, CodeServiceUnavailable, "Index is still loading", nil)
		return
	}
	info := snap.Info()
	respondJSON(w, r, http.StatusOK, &StatsResponse{
		Tracks:        snap.Len(),
		StyleTracks:   info.StyleTracks,
		EngineMethod:  info.Method,
		EngineVersion: info.Version,
		Dimensions:    info.Dimensions,
		Library:       h.cfg.Paths.ClientRoot,
		Source:        snap.Source(),
		LoadedAt:      snap.LoadedAt(),
		Uptime:        time.Since(h.startTime).Seconds(),
	})
}
