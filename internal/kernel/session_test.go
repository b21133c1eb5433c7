// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSession_FirstCallCreatedThenExists(t *testing.T) {
	k := NewKernel(4096, nil)
	assert.Equal(t, StatusCreated, k.CreateSession("s1", nil))
	assert.Equal(t, StatusExists, k.CreateSession("s1", nil))
}

func TestCreateSession_SystemPromptIsPositionZeroAndNeverMutated(t *testing.T) {
	sp := "be terse"
	k := NewKernel(4096, nil)
	k.CreateSession("s1", &sp)
	require.NoError(t, k.AppendTurns("s1", []Message{{Role: RoleUser, Content: "hi"}}))

	info, err := k.SessionInfo("s1")
	require.NoError(t, err)
	assert.Equal(t, 2, info.MessageCount)
}

func TestPrefill_AppendsUserMessageWithoutTokenizing(t *testing.T) {
	k := NewKernel(4096, nil)
	k.CreateSession("s1", nil)

	promptTokens, _, err := k.Prefill("s1", "hello there")
	require.NoError(t, err)
	assert.Equal(t, 0, promptTokens)
}

func TestDecode_AppendsAssistantMessageAndSplitsThinking(t *testing.T) {
	k := NewKernel(4096, EstimatingGenerator{})
	k.CreateSession("s1", nil)
	k.Prefill("s1", "what is the plan")

	result, err := k.Decode(context.Background(), "s1", SamplingParams{MaxTokens: 64})
	require.NoError(t, err)
	assert.NotContains(t, result.Text, "<think>")
	assert.NotEmpty(t, result.Thinking)
	assert.Equal(t, "stop", result.FinishReason)

	info, err := k.SessionInfo("s1")
	require.NoError(t, err)
	assert.Equal(t, 2, info.MessageCount) // user + assistant
}

func TestDecode_UnknownSessionErrors(t *testing.T) {
	k := NewKernel(4096, EstimatingGenerator{})
	_, err := k.Decode(context.Background(), "missing", SamplingParams{})
	assert.Error(t, err)
}

func TestComplete_PrefillsThenDecodesInOneCall(t *testing.T) {
	k := NewKernel(4096, EstimatingGenerator{})
	k.CreateSession("s1", nil)

	result, err := k.Complete(context.Background(), "s1", "tell me something", SamplingParams{MaxTokens: 64})
	require.NoError(t, err)
	assert.Equal(t, "s1", result.SessionID)
}

func TestDecodeStream_ConcatenatedDeltasEqualDoneText(t *testing.T) {
	k := NewKernel(4096, EstimatingGenerator{})
	k.CreateSession("s1", nil)
	k.Prefill("s1", "stream this please")

	chunks, cancel, err := k.DecodeStream(context.Background(), "s1", SamplingParams{MaxTokens: 64})
	require.NoError(t, err)
	defer cancel()

	var deltas strings.Builder
	var done StreamEvent
	for ev := range chunks {
		switch ev.Event {
		case EventDelta:
			deltas.WriteString(ev.Delta)
		case EventDone:
			done = ev
		}
	}

	require.Equal(t, EventDone, done.Event)
	cleaned, _ := SplitThinking(deltas.String())
	assert.Equal(t, done.Text, cleaned)
	if done.Text != "" {
		assert.Greater(t, done.CompletionTokens, 0)
	}
}

func TestDecodeStream_CancellationStopsGeneration(t *testing.T) {
	k := NewKernel(4096, EstimatingGenerator{})
	k.CreateSession("s1", nil)
	k.Prefill("s1", "a very long prompt that would stream many chunks")

	chunks, cancel, err := k.DecodeStream(context.Background(), "s1", SamplingParams{MaxTokens: 4096})
	require.NoError(t, err)
	cancel()

	// Draining after cancellation must terminate; already-buffered chunks
	// may still arrive, but the channel must eventually close.
	for range chunks {
	}
}

func TestCountTokens_NeverNegativeZeroForEmpty(t *testing.T) {
	k := NewKernel(4096, EstimatingGenerator{})
	assert.Equal(t, 0, k.CountTokens(""))
	assert.True(t, k.CountTokens("hello world") >= 0)
}

func TestEvict_RemovesSessionState(t *testing.T) {
	k := NewKernel(4096, EstimatingGenerator{})
	k.CreateSession("s1", nil)
	k.Evict("s1")
	_, err := k.SessionInfo("s1")
	assert.Error(t, err)
}

func TestEvictLRU_KeepsAtMostMax(t *testing.T) {
	k := NewKernel(4096, EstimatingGenerator{})
	for _, id := range []string{"a", "b", "c"} {
		k.CreateSession(id, nil)
	}
	evicted := k.EvictLRU(1)
	assert.Len(t, evicted, 2)
	stats := k.WorkerStats()
	assert.Equal(t, 1, stats.SessionCount)
}

func TestEvictLRU_NoopWhenUnderLimit(t *testing.T) {
	k := NewKernel(4096, EstimatingGenerator{})
	k.CreateSession("a", nil)
	evicted := k.EvictLRU(5)
	assert.Empty(t, evicted)
}

func TestDecodeToSHM_WritesLengthPrefixedFrame(t *testing.T) {
	k := NewKernel(4096, EstimatingGenerator{})
	k.CreateSession("s1", nil)
	k.Prefill("s1", "write this to shared memory")

	buf := make([]byte, 65536)
	n, err := k.DecodeToSHM(context.Background(), "s1", buf, SamplingParams{MaxTokens: 64})
	require.NoError(t, err)
	assert.Greater(t, n, 4)
}
