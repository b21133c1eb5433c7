// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/localinfer/enginectl/internal/contextwind"
	"github.com/localinfer/enginectl/internal/pool"
)

// PoolHandler exposes worker-pool health and the context-wind monitor
// (§4.B, §4.D) over HTTP.
type PoolHandler struct {
	p   *pool.Pool
	mon *contextwind.Monitor
}

// NewPoolHandler creates a new pool handler.
func NewPoolHandler(p *pool.Pool, mon *contextwind.Monitor) *PoolHandler {
	return &PoolHandler{p: p, mon: mon}
}

// Health handles GET /v1/pool/health.
func (h *PoolHandler) Health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{"workers": h.p.HealthCheck()})
}

// ContextWindow handles GET /v1/sessions/{id}/context_window.
func (h *PoolHandler) ContextWindow(w http.ResponseWriter, r *http.Request) {
	sid := mux.Vars(r)["id"]

	resp := map[string]interface{}{
		"session_id":  sid,
		"utilization": h.mon.Utilization(sid),
		"history":     h.mon.CrossingHistory(sid),
	}
	if highest, ok := h.mon.Highest(sid); ok {
		resp["highest_threshold"] = highest
	}
	WriteJSON(w, http.StatusOK, resp)
}
