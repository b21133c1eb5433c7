// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package scheduler implements the session scheduler: the session
// registry, worker-affinity selection, prefill/decode orchestration,
// streaming, batching, and memory-managed completion. It is the core of
// the control plane (§2, component F).
package scheduler

import (
	"time"

	"github.com/localinfer/enginectl/internal/kernel"
)

// Phase is a scheduled session's lifecycle phase (§3).
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhasePrefilling Phase = "prefilling"
	PhaseDecoding   Phase = "decoding"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
	PhaseEvicted    Phase = "evicted"
)

// session is the scheduler's exclusively-owned bookkeeping record for
// one conversational session (§3, "scheduled session").
type session struct {
	id               string
	worker           int
	phase            Phase
	tokenBudgetUsed  int // latest-turn occupancy, not cumulative
	createdAt        time.Time
	lastActivity     time.Time

	// prefillQueue/decodeQueue are reserved for future admission control
	// (§9 open question); the scheduler builds prefill→decode DAGs
	// directly and never dequeues from these.
	prefillQueue []string
	decodeQueue  []string
}

// Config is the subset of the inference configuration the scheduler
// needs directly (worker counts/caps live in pool.Config; this is the
// scheduler's own view of the same numbers plus context size).
type Config struct {
	ContextSize          int
	MaxSessionsPerWorker int
	UseSharedMemory      bool
}

// Counters are the scheduler's running totals, exposed via Stats.
type Counters struct {
	Scheduled        int64 `json:"scheduled"`
	Completed        int64 `json:"completed"`
	Failed           int64 `json:"failed"`
	TokensGenerated  int64 `json:"tokens_generated"`
	PrefillMs        int64 `json:"prefill_ms"`
	DecodeMs         int64 `json:"decode_ms"`
}

// Request is one entry of a batch completion.
type Request struct {
	SessionID string
	Prompt    string
	Params    kernel.SamplingParams
}

// Outcome is a batch completion's per-session result: exactly one of
// Result or Err is set.
type Outcome struct {
	Result *kernel.DecodeResult
	Err    error
}

// SessionInfo is the public introspection shape for one session.
type SessionInfo struct {
	SessionID       string    `json:"session_id"`
	Worker          int       `json:"worker"`
	Phase           Phase     `json:"phase"`
	TokenBudgetUsed int       `json:"token_budget_used"`
	CreatedAt       time.Time `json:"created_at"`
	LastActivity    time.Time `json:"last_activity"`
}
