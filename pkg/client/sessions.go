// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// SessionClient provides access to session lifecycle and completion
// operations (§4.F).
//
// Access this client through [Client.Sessions]:
//
//	sid, err := client.Sessions.Create(ctx, &client.CreateSessionRequest{})
type SessionClient struct {
	c *Client
}

// List returns the ids of all active sessions.
func (s *SessionClient) List(ctx context.Context) ([]string, error) {
	data, err := s.c.get(ctx, "/v1/sessions")
	if err != nil {
		return nil, err
	}
	var resp struct {
		Sessions []string `json:"sessions"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse sessions: %w", err)
	}
	return resp.Sessions, nil
}

// Create starts a new session, optionally pre-populated with a system
// prompt and conversation history.
func (s *SessionClient) Create(ctx context.Context, req *CreateSessionRequest) (string, error) {
	if req == nil {
		req = &CreateSessionRequest{}
	}
	data, err := s.c.postJSON(ctx, "/v1/sessions", req)
	if err != nil {
		return "", err
	}
	var resp struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("failed to parse session: %w", err)
	}
	return resp.SessionID, nil
}

// Get returns a session's introspection record.
func (s *SessionClient) Get(ctx context.Context, sid string) (*Session, error) {
	data, err := s.c.get(ctx, "/v1/sessions/"+url.PathEscape(sid))
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to parse session: %w", err)
	}
	return &sess, nil
}

// Evict discards a session and its worker-side resources.
func (s *SessionClient) Evict(ctx context.Context, sid string) error {
	_, err := s.c.delete(ctx, "/v1/sessions/"+url.PathEscape(sid))
	return err
}

// Complete runs one prefill/decode cycle against sid and returns the
// full result. Set req.ManageMemory to drive automatic
// summarisation/rehydration when the session is near its context budget.
func (s *SessionClient) Complete(ctx context.Context, sid string, req *CompletionRequest) (*DecodeResult, error) {
	data, err := s.c.postJSON(ctx, "/v1/sessions/"+url.PathEscape(sid)+"/complete", req)
	if err != nil {
		return nil, err
	}
	var result DecodeResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse completion: %w", err)
	}
	return &result, nil
}

// CompleteOneShot creates a session, completes once, and evicts it in a
// single call.
func (s *SessionClient) CompleteOneShot(ctx context.Context, req *CompletionRequest) (*DecodeResult, error) {
	data, err := s.c.postJSON(ctx, "/v1/complete", req)
	if err != nil {
		return nil, err
	}
	var result DecodeResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse completion: %w", err)
	}
	return &result, nil
}

// CompleteBatch runs N independent completions concurrently; each
// entry fails or succeeds on its own (§4.F.6).
func (s *SessionClient) CompleteBatch(ctx context.Context, requests []BatchRequestItem) ([]BatchOutcome, error) {
	data, err := s.c.postJSON(ctx, "/v1/complete_batch", map[string]interface{}{"requests": requests})
	if err != nil {
		return nil, err
	}
	var resp struct {
		Outcomes []BatchOutcome `json:"outcomes"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse batch outcomes: %w", err)
	}
	return resp.Outcomes, nil
}

// EvictLRU evicts the least-recently-used sessions down to keepMax and
// returns the ids it evicted.
func (s *SessionClient) EvictLRU(ctx context.Context, keepMax int) ([]string, error) {
	data, err := s.c.postJSON(ctx, "/v1/sessions/evict_lru", map[string]int{"keep_max": keepMax})
	if err != nil {
		return nil, err
	}
	var resp struct {
		Evicted []string `json:"evicted"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse eviction result: %w", err)
	}
	return resp.Evicted, nil
}

// CountTokens returns the server's token count for text: worker 0's
// tokenizer, or the chars/3.5 estimate when that call fails.
func (s *SessionClient) CountTokens(ctx context.Context, text string) (int, error) {
	data, err := s.c.postJSON(ctx, "/v1/count_tokens", map[string]string{"text": text})
	if err != nil {
		return 0, err
	}
	var resp struct {
		Tokens int `json:"tokens"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return 0, fmt.Errorf("failed to parse token count: %w", err)
	}
	return resp.Tokens, nil
}

// Stats returns the scheduler's running counters.
func (s *SessionClient) Stats(ctx context.Context) (*SchedulerStats, error) {
	data, err := s.c.get(ctx, "/v1/scheduler/stats")
	if err != nil {
		return nil, err
	}
	var stats SchedulerStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("failed to parse scheduler stats: %w", err)
	}
	return &stats, nil
}

// WorkerLoad returns the number of sessions currently assigned to each
// worker index.
func (s *SessionClient) WorkerLoad(ctx context.Context) (map[int]int, error) {
	data, err := s.c.get(ctx, "/v1/scheduler/worker_load")
	if err != nil {
		return nil, err
	}
	var load map[int]int
	if err := json.Unmarshal(data, &load); err != nil {
		return nil, fmt.Errorf("failed to parse worker load: %w", err)
	}
	return load, nil
}
