// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import "time"

// Session mirrors scheduler.SessionInfo (internal/scheduler/types.go):
// the introspection shape for one conversational session.
type Session struct {
	SessionID       string    `json:"session_id"`
	Worker          int       `json:"worker"`
	Phase           string    `json:"phase"`
	TokenBudgetUsed int       `json:"token_budget_used"`
	CreatedAt       time.Time `json:"created_at"`
	LastActivity    time.Time `json:"last_activity"`
}

// SamplingParams controls one decode call. Mirrors kernel.SamplingParams.
type SamplingParams struct {
	MaxTokens     int      `json:"max_tokens"`
	Temperature   float64  `json:"temperature"`
	TopP          float64  `json:"top_p"`
	TopK          int      `json:"top_k"`
	RepeatPenalty float64  `json:"repeat_penalty"`
	Stop          []string `json:"stop,omitempty"`
}

// Message is one turn in a session's message log. Mirrors kernel.Message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// DecodeResult is a completed (non-streamed) generation.
type DecodeResult struct {
	SessionID        string `json:"session_id"`
	Text              string `json:"text"`
	Thinking          string `json:"thinking"`
	FinishReason      string `json:"finish_reason"`
	PromptTokens      int    `json:"prompt_tokens"`
	CompletionTokens  int    `json:"completion_tokens"`
	DecodeMs          int64  `json:"decode_ms"`
	PrefillMs         int64  `json:"prefill_ms,omitempty"`
}

// StreamEvent is one element of a completion stream.
type StreamEvent struct {
	Event            string `json:"event"`
	Delta            string `json:"delta,omitempty"`
	FinishReason     string `json:"finish_reason,omitempty"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
	Text             string `json:"text,omitempty"`
	Thinking         string `json:"thinking,omitempty"`
	Error            string `json:"error,omitempty"`
}

// CompletionRequest is the body of a session completion call.
type CompletionRequest struct {
	Prompt          string         `json:"prompt"`
	Params          SamplingParams `json:"params"`
	SystemPrompt    string         `json:"system_prompt,omitempty"`
	RecentTurns     []Message      `json:"recent_turns,omitempty"`
	DocumentContext string         `json:"document_context,omitempty"`
	ManageMemory    bool           `json:"manage_memory,omitempty"`
}

// CreateSessionRequest is the body of a session-creation call.
type CreateSessionRequest struct {
	SystemPrompt *string   `json:"system_prompt,omitempty"`
	RecentTurns  []Message `json:"recent_turns,omitempty"`
}

// BatchRequestItem is one entry of a batch completion call.
type BatchRequestItem struct {
	SessionID string         `json:"session_id"`
	Prompt    string         `json:"prompt"`
	Params    SamplingParams `json:"params"`
}

// BatchOutcome is one batch completion's per-session result.
type BatchOutcome struct {
	Result *DecodeResult `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// SchedulerStats mirrors scheduler.Counters.
type SchedulerStats struct {
	Scheduled       int64 `json:"scheduled"`
	Completed       int64 `json:"completed"`
	Failed          int64 `json:"failed"`
	TokensGenerated int64 `json:"tokens_generated"`
	PrefillMs       int64 `json:"prefill_ms"`
	DecodeMs        int64 `json:"decode_ms"`
}

// WorkerStatus mirrors pool.Status: one worker process's health.
type WorkerStatus struct {
	Index        int       `json:"index"`
	Role         string    `json:"role"`
	State        string    `json:"state"`
	PID          int       `json:"pid"`
	RestartCount int       `json:"restart_count"`
	StartedAt    time.Time `json:"started_at"`
}

// ContextWindowCrossing is one threshold-crossing history entry.
type ContextWindowCrossing struct {
	Threshold   float64   `json:"threshold"`
	Utilization float64   `json:"utilization"`
	At          time.Time `json:"at"`
}

// ContextWindow is a session's context-wind monitor snapshot.
type ContextWindow struct {
	SessionID        string                  `json:"session_id"`
	Utilization      float64                 `json:"utilization"`
	HighestThreshold float64                 `json:"highest_threshold,omitempty"`
	History          []ContextWindowCrossing `json:"history"`
}

// Event represents a control-plane event (session/worker/context/memory
// lifecycle, §6). Mirrors events.Event.
type Event struct {
	ID        string                 `json:"id"`
	Version   string                 `json:"version"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
	Payload   map[string]interface{} `json:"payload"`
}
