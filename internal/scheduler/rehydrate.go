// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/localinfer/enginectl/internal/events"
	"github.com/localinfer/enginectl/internal/kernel"
)

const (
	charsPerToken       = 3.5
	rehydrateBudgetFrac = 0.40
	lastTwoShareFrac    = 0.5
	documentShareFrac   = 0.30
	narrativeShareFrac  = 2.0 / 3.0
)

// Budget is the output of a budgeted-rehydration computation (§4.F.5).
type Budget struct {
	SystemPrompt    string
	TurnsToReplay   []kernel.Message
	EstimatedTokens int
}

// Rehydrate allocates a character budget B = context_size × 0.40 × 3.5
// across the system prompt, the last two turns, document context, a
// narrative summary, and as many older turns as fit, in that priority
// order, then composes the rehydrated system prompt.
func Rehydrate(contextSize int, systemPrompt string, recentTurns []kernel.Message, narrative, documentContext string) Budget {
	total := int(float64(contextSize) * rehydrateBudgetFrac * charsPerToken)

	remaining := total - len(systemPrompt)
	if remaining < 0 {
		remaining = 0
	}

	lastTwo, older := splitLastTwo(recentTurns)

	lastTwoBudget := int(float64(remaining) * lastTwoShareFrac)
	replayedLastTwo, usedLastTwo := truncateTurns(lastTwo, lastTwoBudget)
	remaining -= usedLastTwo

	docBudget := int(float64(total) * documentShareFrac)
	if docBudget > remaining {
		docBudget = remaining
	}
	doc, usedDoc := truncateDocument(documentContext, docBudget)
	remaining -= usedDoc

	narrativeBudget := int(float64(remaining) * narrativeShareFrac)
	summary, usedNarrative := truncateNarrativeTail(narrative, narrativeBudget)
	remaining -= usedNarrative

	replayedOlder := fillOlderTurns(older, remaining)

	rehydratedPrompt := composeSystemPrompt(systemPrompt, summary, doc)

	turnsToReplay := append(append([]kernel.Message{}, replayedOlder...), replayedLastTwo...)

	estimated := kernel.EstimateTokens(len(rehydratedPrompt))
	for _, t := range turnsToReplay {
		estimated += kernel.EstimateTokens(len(t.Content))
	}
	if estimated < 0 {
		estimated = 0
	}
	if estimated > contextSize {
		estimated = contextSize
	}

	return Budget{SystemPrompt: rehydratedPrompt, TurnsToReplay: turnsToReplay, EstimatedTokens: estimated}
}

func splitLastTwo(turns []kernel.Message) (lastTwo, older []kernel.Message) {
	if len(turns) <= 2 {
		return turns, nil
	}
	n := len(turns)
	return turns[n-2:], turns[:n-2]
}

// truncateTurns splits budget evenly across turns, truncating each to
// its per-turn slice with a "..." suffix when truncated, and returns
// the actual character count consumed.
func truncateTurns(turns []kernel.Message, budget int) ([]kernel.Message, int) {
	if len(turns) == 0 || budget <= 0 {
		return nil, 0
	}
	perTurn := budget / len(turns)
	out := make([]kernel.Message, len(turns))
	used := 0
	for i, t := range turns {
		content := t.Content
		if len(content) > perTurn {
			if perTurn > 3 {
				content = content[:perTurn-3] + "..."
			} else {
				content = content[:max0(perTurn)]
			}
		}
		out[i] = kernel.Message{Role: t.Role, Content: content}
		used += len(content)
	}
	return out, used
}

// truncateDocument keeps the first N characters of doc and appends a
// "[truncated — first N of M chars]" marker when truncated.
func truncateDocument(doc string, budget int) (string, int) {
	if doc == "" {
		return "", 0
	}
	if budget <= 0 {
		return "", 0
	}
	if len(doc) <= budget {
		return doc, len(doc)
	}
	marker := fmt.Sprintf("[truncated — first %d of %d chars]", budget, len(doc))
	truncated := doc[:budget] + marker
	return truncated, len(truncated)
}

// truncateNarrativeTail keeps the most recent (tail) characters of the
// narrative when it exceeds budget, prefixed with "... ".
func truncateNarrativeTail(narrative string, budget int) (string, int) {
	if narrative == "" {
		return "", 0
	}
	if budget <= 0 {
		return "", 0
	}
	if len(narrative) <= budget {
		return narrative, len(narrative)
	}
	kept := "... " + narrative[len(narrative)-budget:]
	return kept, len(kept)
}

// fillOlderTurns walks older from newest to oldest, including each
// turn whole while it fits the remaining budget, and returns the
// included turns in original chronological order.
func fillOlderTurns(older []kernel.Message, budget int) []kernel.Message {
	var kept []kernel.Message
	remaining := budget
	for i := len(older) - 1; i >= 0; i-- {
		t := older[i]
		if len(t.Content) > remaining {
			break
		}
		kept = append([]kernel.Message{t}, kept...)
		remaining -= len(t.Content)
	}
	return kept
}

func composeSystemPrompt(systemPrompt, narrative, documentContext string) string {
	out := systemPrompt
	if narrative != "" {
		out += "\n[CONVERSATION SUMMARY]: " + narrative
	}
	if documentContext != "" {
		out += "\n[DOCUMENT CONTEXT]: " + documentContext
	}
	return out
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// ResetAndRehydrate creates a new session on sid's current worker,
// replays the budgeted turns into its log, evicts the old session, and
// registers the new one in the context monitor. It returns the new
// session id (§4.F.6).
func (s *Scheduler) ResetAndRehydrate(ctx context.Context, sid, systemPrompt string, recentTurns []kernel.Message, narrative, documentContext string) (string, error) {
	oldSess, err := s.get(sid)
	if err != nil {
		return "", err
	}
	worker := oldSess.worker
	budget := Rehydrate(s.cfg.ContextSize, systemPrompt, recentTurns, narrative, documentContext)

	newSid := uuid.NewString()
	h := s.p.Handle(worker)
	sp := budget.SystemPrompt
	if _, err := s.p.Call(ctx, h, "create_session", createSessionArgs{SID: newSid, SystemPrompt: &sp}); err != nil {
		return "", translatePoolErr(err, newSid)
	}

	if len(budget.TurnsToReplay) > 0 {
		if _, err := s.p.Call(ctx, h, "append_turns", appendTurnsArgs{SID: newSid, Turns: budget.TurnsToReplay}); err != nil {
			_, _ = s.p.Call(ctx, h, "evict", evictArgs{SID: newSid})
			return "", translatePoolErr(err, newSid)
		}
	}

	now := time.Now()
	s.mu.Lock()
	s.sessions[newSid] = &session{id: newSid, worker: worker, phase: PhaseIdle, createdAt: now, lastActivity: now}
	delete(s.sessions, sid)
	s.mu.Unlock()

	if _, err := s.p.Call(ctx, h, "evict", evictArgs{SID: sid}); err != nil {
		_, _ = s.p.Call(ctx, h, "evict", evictArgs{SID: newSid})
		s.mu.Lock()
		delete(s.sessions, newSid)
		s.mu.Unlock()
		return "", translatePoolErr(err, sid)
	}

	s.mon.Evict(sid)
	s.mon.Register(newSid)
	s.mon.ResetSession(newSid, budget.EstimatedTokens)
	s.p.ReleaseSharedBuffer(sid)

	s.publish(ctx, events.EventSessionRehydrated, newSid, map[string]interface{}{"previous_session_id": sid, "worker": worker})
	return newSid, nil
}
