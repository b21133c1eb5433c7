// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"context"
	"encoding/json"

	"github.com/localinfer/enginectl/internal/apperr"
	"github.com/localinfer/enginectl/internal/kernel"
	"github.com/localinfer/enginectl/internal/transport"
)

// Stream is an opaque, cancellable decode stream returned by
// CompleteStream. The caller must drain Chunks to completion or call
// Cancel, then invoke exactly one of FinalizeCompletedStream,
// FinalizeCancelledStream, or FinalizeFailedStream so the scheduler's
// counters, session phase, and the context monitor stay consistent
// (§4.F.4).
type Stream struct {
	SessionID string
	Chunks    <-chan kernel.StreamEvent
	Cancel    func()
}

// CompleteStream prefills synchronously, then opens a decode stream
// pinned to sid's worker.
func (s *Scheduler) CompleteStream(ctx context.Context, sid, prompt string, params kernel.SamplingParams) (*Stream, error) {
	sess, err := s.get(sid)
	if err != nil {
		return nil, err
	}
	if err := s.preflight(sess, prompt, params); err != nil {
		s.failIfOverflow(sid, err)
		return nil, err
	}

	s.setPhase(sid, PhasePrefilling)
	h := s.p.Handle(sess.worker)

	if _, err := s.p.Call(ctx, h, "prefill", prefillArgs{SID: sid, Prompt: prompt}); err != nil {
		s.fail(sid, err)
		return nil, translatePoolErr(err, sid)
	}

	s.setPhase(sid, PhaseDecoding)
	chunks, cancel, err := s.p.Stream(ctx, h, "decode_stream", decodeArgs{SID: sid, Params: params})
	if err != nil {
		s.fail(sid, err)
		return nil, translatePoolErr(err, sid)
	}

	out := make(chan kernel.StreamEvent, 8)
	go func() {
		defer close(out)
		for c := range chunks {
			if c.Err != nil {
				out <- kernel.StreamEvent{Event: kernel.EventError, Error: c.Err.Error()}
				return
			}
			var ev kernel.StreamEvent
			if err := decodeStreamValue(c.Value, &ev); err != nil {
				out <- kernel.StreamEvent{Event: kernel.EventError, Error: err.Error()}
				return
			}
			out <- ev
			if ev.Event == kernel.EventDone || ev.Event == kernel.EventError {
				return
			}
		}
	}()

	return &Stream{SessionID: sid, Chunks: out, Cancel: cancel}, nil
}

func decodeStreamValue(env transport.Envelope, ev *kernel.StreamEvent) error {
	switch env.Kind {
	case transport.KindStreamDone:
		ev.Event = kernel.EventDone
	case transport.KindStreamChunk:
		ev.Event = kernel.EventDelta
	}
	if len(env.Value) == 0 {
		return nil
	}
	return json.Unmarshal(env.Value, ev)
}

// FinalizeCompletedStream records a successfully drained stream's
// totals against the session's bookkeeping and the context monitor.
func (s *Scheduler) FinalizeCompletedStream(sid string, promptTokens, completionTokens int, decodeMs int64, finishReason string) {
	s.recordBudget(sid, promptTokens, completionTokens)
	s.mon.Report(sid, promptTokens, completionTokens)
	s.setPhase(sid, PhaseCompleted)

	s.mu.Lock()
	s.counters.Completed++
	s.counters.DecodeMs += decodeMs
	s.mu.Unlock()
	_ = finishReason
}

// FinalizeCancelledStream returns the session to idle without recording
// a failure; cancellation is a caller decision, not an error.
func (s *Scheduler) FinalizeCancelledStream(sid string) {
	s.setPhase(sid, PhaseIdle)
}

// FinalizeFailedStream records a decode failure.
func (s *Scheduler) FinalizeFailedStream(sid, reason string) {
	s.fail(sid, apperr.DecodeFailed(sid, reason))
}
