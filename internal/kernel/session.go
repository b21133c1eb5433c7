// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/localinfer/enginectl/internal/transport"
)

type session struct {
	id               string
	messages         []Message
	promptTokens     int
	completionTokens int
	lastActivity     time.Time
}

// Kernel is the in-worker object holding one model replica plus the
// per-session message logs and token accounting. One Kernel lives per
// main worker process; auxiliary slots (summariser, …) run their own
// Kernel with a single shared session, driven by internal/summarize.
type Kernel struct {
	mu          sync.Mutex
	sessions    map[string]*session
	contextSize int
	gen         Generator
	now         func() time.Time
}

// NewKernel creates a kernel bound to a fixed context size and
// generator. contextSize mirrors the inference configuration's C.
func NewKernel(contextSize int, gen Generator) *Kernel {
	if gen == nil {
		gen = EstimatingGenerator{}
	}
	return &Kernel{
		sessions:    make(map[string]*session),
		contextSize: contextSize,
		gen:         gen,
		now:         time.Now,
	}
}

// CreateSession registers sid, appending a system message when provided.
func (k *Kernel) CreateSession(sid string, systemPrompt *string) SessionStatus {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.sessions[sid]; ok {
		return StatusExists
	}
	s := &session{id: sid, lastActivity: k.now()}
	if systemPrompt != nil {
		s.messages = append(s.messages, Message{Role: RoleSystem, Content: *systemPrompt})
	}
	k.sessions[sid] = s
	return StatusCreated
}

// AppendTurns replays turns directly into sid's message log without
// running a decode, used by create_session_with_history and
// reset-and-rehydrate's replay step.
func (k *Kernel) AppendTurns(sid string, turns []Message) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.sessions[sid]
	if !ok {
		return fmt.Errorf("session %s not found", sid)
	}
	s.messages = append(s.messages, turns...)
	s.lastActivity = k.now()
	return nil
}

// Prefill appends a user message. It does not tokenise or run the
// transformer; tokenisation happens inside the subsequent decode.
func (k *Kernel) Prefill(sid, prompt string) (promptTokens int, prefillMs int64, err error) {
	start := k.now()
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.sessions[sid]
	if !ok {
		return 0, 0, fmt.Errorf("session %s not found", sid)
	}
	s.messages = append(s.messages, Message{Role: RoleUser, Content: prompt})
	s.lastActivity = k.now()
	return 0, k.now().Sub(start).Milliseconds(), nil
}

// Decode runs non-streamed generation from the current message log.
func (k *Kernel) Decode(ctx context.Context, sid string, params SamplingParams) (*DecodeResult, error) {
	start := k.now()

	k.mu.Lock()
	s, ok := k.sessions[sid]
	if !ok {
		k.mu.Unlock()
		return nil, fmt.Errorf("session %s not found", sid)
	}
	pruned := PruneToBudget(s.messages, k.contextSize, params.MaxTokens)
	k.mu.Unlock()

	raw, finishReason, err := k.gen.Generate(ctx, pruned, params)
	if err != nil {
		return nil, err
	}
	cleaned, thinking := SplitThinking(raw)

	promptTokens := k.countTokens(pruned)
	completionTokens := k.tokensFor(cleaned)

	k.mu.Lock()
	s.messages = append(s.messages, Message{Role: RoleAssistant, Content: cleaned})
	s.promptTokens = promptTokens
	s.completionTokens = completionTokens
	s.lastActivity = k.now()
	k.mu.Unlock()

	return &DecodeResult{
		SessionID:        sid,
		Text:             cleaned,
		Thinking:         thinking,
		FinishReason:     finishReason,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		DecodeMs:         k.now().Sub(start).Milliseconds(),
	}, nil
}

// DecodeStream runs a streamed decode. The returned channel yields
// {delta} events; a decode that runs to completion ends with exactly one
// {done} event, then the channel closes. The returned cancel function
// requests the generator to stop; already-buffered chunks may still
// arrive, and the channel then closes without a terminal event. No
// {error} event is produced here.
func (k *Kernel) DecodeStream(ctx context.Context, sid string, params SamplingParams) (<-chan StreamEvent, func(), error) {
	k.mu.Lock()
	s, ok := k.sessions[sid]
	if !ok {
		k.mu.Unlock()
		return nil, nil, fmt.Errorf("session %s not found", sid)
	}
	pruned := PruneToBudget(s.messages, k.contextSize, params.MaxTokens)
	k.mu.Unlock()

	genCtx, cancel := context.WithCancel(ctx)
	deltas, err := k.gen.GenerateStream(genCtx, pruned, params)
	if err != nil {
		cancel()
		return nil, nil, err
	}

	out := make(chan StreamEvent, 8)
	go func() {
		defer close(out)
		start := k.now()
		var firstTokenAt time.Time
		var raw []byte
		for delta := range deltas {
			if firstTokenAt.IsZero() {
				firstTokenAt = k.now()
			}
			raw = append(raw, delta...)
			select {
			case out <- StreamEvent{Event: EventDelta, Delta: delta}:
			case <-genCtx.Done():
				return
			}
		}
		if genCtx.Err() != nil {
			return
		}
		if firstTokenAt.IsZero() {
			firstTokenAt = k.now()
		}
		cleaned, thinking := SplitThinking(string(raw))

		promptTokens := k.countTokens(pruned)
		completionTokens := k.tokensFor(cleaned)

		k.mu.Lock()
		if live, ok := k.sessions[sid]; ok {
			live.messages = append(live.messages, Message{Role: RoleAssistant, Content: cleaned})
			live.promptTokens = promptTokens
			live.completionTokens = completionTokens
			live.lastActivity = k.now()
		}
		k.mu.Unlock()

		out <- StreamEvent{
			Event:            EventDone,
			FinishReason:     "stop",
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			PrefillMs:        firstTokenAt.Sub(start).Milliseconds(),
			DecodeMs:         k.now().Sub(firstTokenAt).Milliseconds(),
			Text:             cleaned,
			Thinking:         thinking,
		}
	}()

	return out, cancel, nil
}

// Complete runs prefill then decode in a single call.
func (k *Kernel) Complete(ctx context.Context, sid, prompt string, params SamplingParams) (*DecodeResult, error) {
	if _, _, err := k.Prefill(sid, prompt); err != nil {
		return nil, err
	}
	return k.Decode(ctx, sid, params)
}

// DecodeToSHM runs Decode and writes the JSON payload into buf as
// [u32 length][UTF-8]; it returns the total byte count written.
func (k *Kernel) DecodeToSHM(ctx context.Context, sid string, buf []byte, params SamplingParams) (int, error) {
	result, err := k.Decode(ctx, sid, params)
	if err != nil {
		return 0, err
	}
	return encodeResultToBuf(buf, result)
}

// CompleteToSHM runs Complete and writes the JSON payload into buf.
func (k *Kernel) CompleteToSHM(ctx context.Context, sid, prompt string, buf []byte, params SamplingParams) (int, error) {
	result, err := k.Complete(ctx, sid, prompt, params)
	if err != nil {
		return 0, err
	}
	return encodeResultToBuf(buf, result)
}

func encodeResultToBuf(buf []byte, result *DecodeResult) (int, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return 0, fmt.Errorf("marshal decode result: %w", err)
	}
	return transport.EncodeBuffer(buf, payload)
}

// CountTokens performs exact model tokenisation, falling back to the
// chars/3.5 estimate. Never returns a negative number; 0 for empty
// input.
func (k *Kernel) CountTokens(text string) int {
	return k.tokensFor(text)
}

func (k *Kernel) tokensFor(text string) int {
	if n, err := k.gen.CountTokens(text); err == nil && n >= 0 {
		return n
	}
	return EstimateTokens(len(text))
}

func (k *Kernel) countTokens(messages []Message) int {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.Content)
	}
	return k.tokensFor(b.String())
}

// Evict frees session state.
func (k *Kernel) Evict(sid string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.sessions, sid)
}

// WorkerStats returns per-kernel diagnostics.
func (k *Kernel) WorkerStats() WorkerStats {
	k.mu.Lock()
	defer k.mu.Unlock()
	return WorkerStats{SessionCount: len(k.sessions)}
}

// SessionInfo returns per-session diagnostics.
func (k *Kernel) SessionInfo(sid string) (SessionInfo, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.sessions[sid]
	if !ok {
		return SessionInfo{}, fmt.Errorf("session %s not found", sid)
	}
	return SessionInfo{
		SessionID:        sid,
		MessageCount:     len(s.messages),
		PromptTokens:     s.promptTokens,
		CompletionTokens: s.completionTokens,
		LastActivity:     s.lastActivity,
	}, nil
}

// EvictLRU repeatedly removes the session with the oldest last-activity
// until the count is at most max. It returns the evicted session ids.
func (k *Kernel) EvictLRU(max int) []string {
	k.mu.Lock()
	defer k.mu.Unlock()

	if max < 0 || len(k.sessions) <= max {
		return nil
	}

	ids := make([]string, 0, len(k.sessions))
	for id := range k.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return k.sessions[ids[i]].lastActivity.Before(k.sessions[ids[j]].lastActivity)
	})

	toEvict := len(ids) - max
	evicted := make([]string, 0, toEvict)
	for i := 0; i < toEvict; i++ {
		evicted = append(evicted, ids[i])
		delete(k.sessions, ids[i])
	}
	return evicted
}
