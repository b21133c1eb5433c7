// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/localinfer/enginectl/internal/apperr"
	"github.com/localinfer/enginectl/internal/kernel"
	"github.com/localinfer/enginectl/internal/scheduler"
)

// SessionHandler exposes the scheduler's session lifecycle and
// completion operations (§4.F) over HTTP.
type SessionHandler struct {
	sched *scheduler.Scheduler
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(sched *scheduler.Scheduler) *SessionHandler {
	return &SessionHandler{sched: sched}
}

type createSessionRequest struct {
	SystemPrompt *string          `json:"system_prompt"`
	RecentTurns  []kernel.Message `json:"recent_turns,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

// Create handles POST /v1/sessions.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body")
			return
		}
	}

	var (
		sid string
		err error
	)
	if len(req.RecentTurns) > 0 {
		systemPrompt := ""
		if req.SystemPrompt != nil {
			systemPrompt = *req.SystemPrompt
		}
		sid, err = h.sched.CreateSessionWithHistory(r.Context(), systemPrompt, req.RecentTurns)
	} else {
		sid, err = h.sched.CreateSession(r.Context(), req.SystemPrompt)
	}
	if err != nil {
		writeSchedulerError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, createSessionResponse{SessionID: sid})
}

// Evict handles DELETE /v1/sessions/{id}.
func (h *SessionHandler) Evict(w http.ResponseWriter, r *http.Request) {
	sid := mux.Vars(r)["id"]
	if err := h.sched.EvictSession(r.Context(), sid); err != nil {
		writeSchedulerError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"session_id": sid, "status": "evicted"})
}

// Info handles GET /v1/sessions/{id}.
func (h *SessionHandler) Info(w http.ResponseWriter, r *http.Request) {
	sid := mux.Vars(r)["id"]
	info, err := h.sched.SessionInfo(sid)
	if err != nil {
		writeSchedulerError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, info)
}

// List handles GET /v1/sessions.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{"sessions": h.sched.ActiveSessions()})
}

type completeRequest struct {
	Prompt          string                `json:"prompt"`
	Params          kernel.SamplingParams `json:"params"`
	SystemPrompt    string                `json:"system_prompt,omitempty"`
	RecentTurns     []kernel.Message      `json:"recent_turns,omitempty"`
	DocumentContext string                `json:"document_context,omitempty"`
	ManageMemory    bool                  `json:"manage_memory,omitempty"`
}

// Complete handles POST /v1/sessions/{id}/complete.
func (h *SessionHandler) Complete(w http.ResponseWriter, r *http.Request) {
	sid := mux.Vars(r)["id"]

	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body")
		return
	}

	var (
		result *kernel.DecodeResult
		err    error
	)
	if req.ManageMemory {
		result, err = h.sched.CompleteWithMemoryManagement(r.Context(), sid, req.Prompt, req.Params, req.SystemPrompt, req.RecentTurns, req.DocumentContext)
	} else {
		result, err = h.sched.Complete(r.Context(), sid, req.Prompt, req.Params)
	}
	if err != nil {
		writeSchedulerError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// CompleteStream handles GET /v1/sessions/{id}/complete_stream over a
// WebSocket, framing each kernel.StreamEvent as a JSON message.
func (h *SessionHandler) CompleteStream(w http.ResponseWriter, r *http.Request) {
	sid := mux.Vars(r)["id"]

	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var stream *scheduler.Stream
	if req.ManageMemory {
		stream, err = h.sched.CompleteStreamWithMemoryManagement(r.Context(), sid, req.Prompt, req.Params, req.SystemPrompt, req.RecentTurns, req.DocumentContext)
	} else {
		stream, err = h.sched.CompleteStream(r.Context(), sid, req.Prompt, req.Params)
	}
	if err != nil {
		conn.WriteJSON(kernel.StreamEvent{Event: kernel.EventError, Error: err.Error()})
		return
	}

	effectiveSID := stream.SessionID
	cancelled := make(chan struct{})
	go func() {
		defer close(cancelled)
		if _, _, err := conn.ReadMessage(); err != nil {
			stream.Cancel()
		}
	}()

	for ev := range stream.Chunks {
		if err := conn.WriteJSON(ev); err != nil {
			stream.Cancel()
			h.sched.FinalizeCancelledStream(effectiveSID)
			return
		}
		switch ev.Event {
		case kernel.EventDone:
			h.sched.FinalizeCompletedStream(effectiveSID, ev.PromptTokens, ev.CompletionTokens, ev.DecodeMs, ev.FinishReason)
			return
		case kernel.EventError:
			h.sched.FinalizeFailedStream(effectiveSID, ev.Error)
			return
		}
	}
}

// CompleteOneShot handles POST /v1/complete (no session: create, decode,
// evict in one call).
func (h *SessionHandler) CompleteOneShot(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body")
		return
	}

	var systemPrompt *string
	if req.SystemPrompt != "" {
		systemPrompt = &req.SystemPrompt
	}
	result, err := h.sched.CompleteOneShot(r.Context(), req.Prompt, req.Params, systemPrompt)
	if err != nil {
		writeSchedulerError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

type batchRequestItem struct {
	SessionID string                `json:"session_id"`
	Prompt    string                `json:"prompt"`
	Params    kernel.SamplingParams `json:"params"`
}

type batchRequest struct {
	Requests []batchRequestItem `json:"requests"`
}

type batchOutcome struct {
	Result *kernel.DecodeResult `json:"result,omitempty"`
	Error  string                `json:"error,omitempty"`
}

// CompleteBatch handles POST /v1/complete_batch: N independent
// completions, each failing or succeeding on its own (§4.F.6).
func (h *SessionHandler) CompleteBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body")
		return
	}

	requests := make([]scheduler.Request, len(req.Requests))
	for i, item := range req.Requests {
		requests[i] = scheduler.Request{SessionID: item.SessionID, Prompt: item.Prompt, Params: item.Params}
	}

	outcomes := h.sched.CompleteBatch(r.Context(), requests)
	resp := make([]batchOutcome, len(outcomes))
	for i, o := range outcomes {
		if o.Err != nil {
			resp[i] = batchOutcome{Error: publicError(o.Err)}
		} else {
			resp[i] = batchOutcome{Result: o.Result}
		}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"outcomes": resp})
}

type evictLRURequest struct {
	KeepMax int `json:"keep_max"`
}

// EvictLRU handles POST /v1/sessions/evict_lru.
func (h *SessionHandler) EvictLRU(w http.ResponseWriter, r *http.Request) {
	var req evictLRURequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body")
		return
	}
	evicted := h.sched.EvictLRU(r.Context(), req.KeepMax)
	WriteJSON(w, http.StatusOK, map[string]interface{}{"evicted": evicted})
}

type countTokensRequest struct {
	Text string `json:"text"`
}

// CountTokens handles POST /v1/count_tokens.
func (h *SessionHandler) CountTokens(w http.ResponseWriter, r *http.Request) {
	var req countTokensRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body")
		return
	}
	count := h.sched.CountTokens(r.Context(), req.Text)
	WriteJSON(w, http.StatusOK, map[string]int{"tokens": count})
}

// Stats handles GET /v1/scheduler/stats.
func (h *SessionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.sched.Stats())
}

// WorkerLoad handles GET /v1/scheduler/worker_load.
func (h *SessionHandler) WorkerLoad(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.sched.WorkerLoad())
}

// publicError renders err's user-facing text: apperr.Public() when it
// carries worker-internal detail, else its plain message.
func publicError(err error) string {
	var ae *apperr.Error
	if e, ok := err.(*apperr.Error); ok {
		ae = e
		return ae.Public()
	}
	return err.Error()
}

// writeSchedulerError maps a scheduler/pool error to an HTTP status and
// writes it using the control plane's error taxonomy (§7).
func writeSchedulerError(w http.ResponseWriter, err error) {
	kind, ok := apperr.KindOf(err)
	if !ok {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}

	status := http.StatusInternalServerError
	code := ErrInternalError
	switch kind {
	case apperr.KindSessionNotFound:
		status, code = http.StatusNotFound, ErrNotFound
	case apperr.KindContextOverflow, apperr.KindInvalidArgument:
		status, code = http.StatusBadRequest, ErrBadRequest
	case apperr.KindWorkerFull, apperr.KindPoolNotReady, apperr.KindPoolShuttingDown:
		status, code = http.StatusServiceUnavailable, ErrServiceError
	case apperr.KindTimeout:
		status, code = http.StatusGatewayTimeout, ErrServiceError
	case apperr.KindEvicted:
		status, code = http.StatusConflict, ErrConflict
	case apperr.KindPrefillFailed, apperr.KindDecodeFailed, apperr.KindDecodeFailedFrame,
		apperr.KindWorkerCrashed, apperr.KindPythonException, apperr.KindWorkerUnreachable,
		apperr.KindModelLoadFailed:
		status, code = http.StatusBadGateway, ErrServiceError
	}
	WriteErrorWithDetails(w, status, code, publicError(err), map[string]interface{}{"kind": kind.String()})
}
