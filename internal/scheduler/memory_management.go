// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"context"
	"fmt"
	"log"

	"github.com/localinfer/enginectl/internal/contextwind"
	"github.com/localinfer/enginectl/internal/kernel"
)

// managedPlan is the outcome of §4.F.7's memory-management decision: the
// session id and prompt to actually decode against, after any rehydration.
type managedPlan struct {
	sid    string
	prompt string
}

// CompleteWithMemoryManagement is the caller-facing entry point for
// completion with automatic summarisation/rehydration; callers never
// invoke ResetAndRehydrate directly.
func (s *Scheduler) CompleteWithMemoryManagement(ctx context.Context, sid, prompt string, params kernel.SamplingParams, systemPrompt string, recentTurns []kernel.Message, documentContext string) (*kernel.DecodeResult, error) {
	plan, err := s.planMemoryManagement(ctx, sid, prompt, systemPrompt, recentTurns, documentContext)
	if err != nil {
		return nil, err
	}
	return s.Complete(ctx, plan.sid, plan.prompt, params)
}

// CompleteStreamWithMemoryManagement is the streaming counterpart. It
// additionally runs the projected-headroom check before the threshold
// policy, since a long streamed output can overflow a session that
// looked safe at prefill time.
func (s *Scheduler) CompleteStreamWithMemoryManagement(ctx context.Context, sid, prompt string, params kernel.SamplingParams, systemPrompt string, recentTurns []kernel.Message, documentContext string) (*Stream, error) {
	sess, err := s.get(sid)
	if err != nil {
		return nil, err
	}

	maxTokens := params.MaxTokens
	decodeCeiling := maxTokens
	if c := int(0.25 * float64(s.cfg.ContextSize)); c > 256 {
		if decodeCeiling > c || decodeCeiling <= 0 {
			decodeCeiling = c
		}
	} else if decodeCeiling > 256 || decodeCeiling <= 0 {
		decodeCeiling = 256
	}

	s.mu.Lock()
	used := sess.tokenBudgetUsed
	s.mu.Unlock()
	projected := used + kernel.EstimateTokens(len(prompt)+len(documentContext)) + decodeCeiling

	effectiveSid := sid
	if projected >= s.cfg.ContextSize {
		newSid, err := s.ResetAndRehydrate(ctx, sid, systemPrompt, recentTurns, "", documentContext)
		if err != nil {
			return nil, err
		}
		effectiveSid = newSid
	}

	plan, err := s.planMemoryManagement(ctx, effectiveSid, prompt, systemPrompt, recentTurns, documentContext)
	if err != nil {
		return nil, err
	}
	return s.CompleteStream(ctx, plan.sid, plan.prompt, params)
}

// planMemoryManagement runs the three-branch threshold policy and
// returns the session id and prompt to decode against.
func (s *Scheduler) planMemoryManagement(ctx context.Context, sid, prompt, systemPrompt string, recentTurns []kernel.Message, documentContext string) (managedPlan, error) {
	if _, err := s.get(sid); err != nil {
		return managedPlan{}, err
	}

	u := s.mon.Utilization(sid)
	effectiveSid := sid

	switch {
	case u >= float64(contextwind.Commit):
		stripped := StripAttachmentsFromTurns(recentTurns)
		narrative := ""
		if result, err := s.sum.Summarize(ctx, s.cfg.ContextSize, stripped, 0); err == nil {
			narrative = result.Text
		} else {
			log.Printf("scheduler: narrative summariser failed for session %s: %v", sid, err)
		}

		newSid, err := s.ResetAndRehydrate(ctx, sid, systemPrompt, stripped, narrative, documentContext)
		if err != nil && narrative != "" {
			log.Printf("scheduler: rehydrate with narrative failed for session %s: %v, retrying without narrative", sid, err)
			newSid, err = s.ResetAndRehydrate(ctx, sid, systemPrompt, stripped, "", documentContext)
		}
		if err != nil {
			log.Printf("scheduler: rehydrate without narrative failed for session %s: %v, falling back to bare last-two-turns rehydration", sid, err)
			bare := stripped
			if len(bare) > 2 {
				bare = bare[len(bare)-2:]
			}
			newSid, err = s.ResetAndRehydrate(ctx, sid, systemPrompt, bare, "", "")
			if err != nil {
				return managedPlan{}, err
			}
		}
		effectiveSid = newSid

	case u >= float64(contextwind.Prepare):
		log.Printf("scheduler: session %s at %.2f utilisation, summarisation will trigger at commit", sid, u)
	}

	effectivePrompt := prompt
	if effectiveSid == sid && documentContext != "" {
		effectivePrompt = fmt.Sprintf("<current_attachment_context>%s</current_attachment_context>\n%s", documentContext, prompt)
	}
	return managedPlan{sid: effectiveSid, prompt: effectivePrompt}, nil
}
