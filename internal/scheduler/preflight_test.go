// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localinfer/enginectl/internal/apperr"
	"github.com/localinfer/enginectl/internal/kernel"
)

// newTestScheduler builds a Scheduler whose pool/monitor/summariser
// collaborators are left nil; preflight touches only cfg and the
// session record, so it is safe to exercise without a live worker pool.
func newTestScheduler(contextSize int) *Scheduler {
	return &Scheduler{
		cfg:        Config{ContextSize: contextSize, MaxSessionsPerWorker: 8},
		sessions:   make(map[string]*session),
		workerLoad: make(map[int]int),
	}
}

// TestPreflight_RejectsWhenBudgetAlreadyExhausted mirrors §8 scenario S1's
// first reject branch: token_budget_used already at or above context_size.
func TestPreflight_RejectsWhenBudgetAlreadyExhausted(t *testing.T) {
	s := newTestScheduler(256)
	sess := &session{id: "S", phase: PhaseIdle, tokenBudgetUsed: 256}

	err := s.preflight(sess, "anything", kernel.SamplingParams{MaxTokens: 64})

	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperr.KindContextOverflow, ae.Kind)
	assert.Equal(t, "S", ae.Session)
	assert.Equal(t, 256, ae.Used)
	assert.Equal(t, 256, ae.Max)
}

// TestPreflight_RejectsWhenEstimatedPromptAloneExceedsRemaining mirrors
// §8 scenario S1's second reject branch: a prompt whose estimated token
// count alone will not fit in the remaining budget, independent of
// max_tokens (§4.F.3: max_tokens is a ceiling, never a guarantee).
func TestPreflight_RejectsWhenEstimatedPromptAloneExceedsRemaining(t *testing.T) {
	s := newTestScheduler(256)
	sess := &session{id: "S", phase: PhaseIdle, tokenBudgetUsed: 0}

	oversized := strings.Repeat("x", 5000) // ~1428 estimated tokens at 3.5 chars/token
	err := s.preflight(sess, oversized, kernel.SamplingParams{MaxTokens: 64})

	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperr.KindContextOverflow, ae.Kind)
	assert.Equal(t, 0, ae.Used)
	assert.Equal(t, 256, ae.Max)
}

// TestPreflight_LargeMaxTokensAloneIsNotARejection asserts max_tokens is
// a ceiling, never a guarantee: a huge max_tokens with a small prompt
// must not trip the overflow check by itself (§4.F.3).
func TestPreflight_LargeMaxTokensAloneIsNotARejection(t *testing.T) {
	s := newTestScheduler(256)
	sess := &session{id: "S", phase: PhaseIdle, tokenBudgetUsed: 0}

	err := s.preflight(sess, "short prompt", kernel.SamplingParams{MaxTokens: 1 << 20})
	assert.NoError(t, err)
}

// TestPreflight_RejectsWrongPhase asserts the phase precondition: only
// idle or completed sessions accept a new completion.
func TestPreflight_RejectsWrongPhase(t *testing.T) {
	s := newTestScheduler(4096)
	for _, phase := range []Phase{PhasePrefilling, PhaseDecoding, PhaseFailed, PhaseEvicted} {
		sess := &session{id: "S", phase: phase}
		err := s.preflight(sess, "hi", kernel.SamplingParams{MaxTokens: 16})
		assert.Error(t, err, "phase %s should be rejected", phase)
	}
	for _, phase := range []Phase{PhaseIdle, PhaseCompleted} {
		sess := &session{id: "S", phase: phase}
		err := s.preflight(sess, "hi", kernel.SamplingParams{MaxTokens: 16})
		assert.NoError(t, err, "phase %s should be accepted", phase)
	}
}

// TestRecordBudget_ClampsToContextSizeAndIsNotCumulative asserts §8
// property 3: token_budget_used == min(C, p+c) after the call, and a
// second call reflects only the latest turn, never a running sum.
func TestRecordBudget_ClampsToContextSizeAndIsNotCumulative(t *testing.T) {
	s := newTestScheduler(4096)
	s.sessions["S"] = &session{id: "S"}

	s.recordBudget("S", 2300, 100)
	assert.Equal(t, 2400, s.sessions["S"].tokenBudgetUsed)

	s.recordBudget("S", 2300, 100)
	assert.Equal(t, 2400, s.sessions["S"].tokenBudgetUsed, "budget must reflect the latest turn only")

	s.recordBudget("S", 3000, 2000) // 5000 > context size 4096
	assert.Equal(t, 4096, s.sessions["S"].tokenBudgetUsed)
}
