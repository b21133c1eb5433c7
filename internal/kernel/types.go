// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package kernel implements the in-worker session kernel: the object
// that holds one model replica plus the per-session message logs and
// token accounting. One Kernel instance lives inside each main worker
// process (see cmd/model-runtime-ref) and is driven entirely through the
// RPCs in internal/transport.
package kernel

import "time"

// Role identifies the speaker of a message in a session's log.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in a session's ordered message log.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SamplingParams controls one decode call.
type SamplingParams struct {
	MaxTokens     int      `json:"max_tokens"`
	Temperature   float64  `json:"temperature"`
	TopP          float64  `json:"top_p"`
	TopK          int      `json:"top_k"`
	RepeatPenalty float64  `json:"repeat_penalty"`
	Stop          []string `json:"stop,omitempty"`
}

// SessionStatus is returned by CreateSession.
type SessionStatus string

const (
	StatusCreated SessionStatus = "created"
	StatusExists  SessionStatus = "exists"
)

// DecodeResult is the return shape of decode/complete.
type DecodeResult struct {
	SessionID        string `json:"session_id"`
	Text             string `json:"text"`
	Thinking         string `json:"thinking"`
	FinishReason     string `json:"finish_reason"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	DecodeMs         int64  `json:"decode_ms"`
	PrefillMs        int64  `json:"prefill_ms,omitempty"`
}

// StreamEventKind discriminates decode_stream events.
type StreamEventKind string

const (
	EventDelta StreamEventKind = "delta"
	EventDone  StreamEventKind = "done"
	EventError StreamEventKind = "error"
)

// StreamEvent is one element of the lazy sequence produced by
// decode_stream: {delta} ∪ {done, ...} ∪ {error, ...}.
type StreamEvent struct {
	Event            StreamEventKind `json:"event"`
	Delta            string          `json:"delta,omitempty"`
	FinishReason     string          `json:"finish_reason,omitempty"`
	PromptTokens     int             `json:"prompt_tokens,omitempty"`
	CompletionTokens int             `json:"completion_tokens,omitempty"`
	PrefillMs        int64           `json:"prefill_ms,omitempty"`
	DecodeMs         int64           `json:"decode_ms,omitempty"`
	Text             string          `json:"text,omitempty"`
	Thinking         string          `json:"thinking,omitempty"`
	Error            string          `json:"error,omitempty"`
	Traceback        string          `json:"traceback,omitempty"`
}

// WorkerStats are per-kernel diagnostics.
type WorkerStats struct {
	SessionCount int `json:"session_count"`
}

// SessionInfo are per-session diagnostics.
type SessionInfo struct {
	SessionID        string    `json:"session_id"`
	MessageCount     int       `json:"message_count"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	LastActivity     time.Time `json:"last_activity"`
}

// charsPerToken is the load-bearing estimation constant used whenever
// the real tokeniser is unavailable. Never treat the estimate as
// authoritative for correctness; it is only used for pre-flight
// rejection and budget arithmetic.
const charsPerToken = 3.5

// EstimateTokens approximates a token count from character length.
func EstimateTokens(chars int) int {
	if chars <= 0 {
		return 0
	}
	return int(float64(chars) / charsPerToken)
}
