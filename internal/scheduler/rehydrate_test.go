// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/localinfer/enginectl/internal/kernel"
)

func TestRehydrate_SystemPromptAlwaysKeptInFullEvenIfItExhaustsBudget(t *testing.T) {
	contextSize := 100 // budget = 100 * 0.40 * 3.5 = 140 chars
	sp := strings.Repeat("S", 500)

	budget := Rehydrate(contextSize, sp, nil, "narrative that would be dropped", "doc context that would be dropped")

	assert.True(t, strings.HasPrefix(budget.SystemPrompt, sp))
	assert.Empty(t, budget.TurnsToReplay)
}

func TestRehydrate_LastTwoTurnsTruncatedWithEllipsisSuffix(t *testing.T) {
	contextSize := 1000 // budget = 1400 chars
	turns := []kernel.Message{
		{Role: kernel.RoleUser, Content: strings.Repeat("a", 2000)},
	}

	budget := Rehydrate(contextSize, "", turns, "", "")

	assert.Len(t, budget.TurnsToReplay, 1)
	assert.True(t, strings.HasSuffix(budget.TurnsToReplay[0].Content, "..."))
	assert.Less(t, len(budget.TurnsToReplay[0].Content), len(turns[0].Content))
}

func TestRehydrate_ShortTurnsAreNotTruncated(t *testing.T) {
	contextSize := 4096
	turns := []kernel.Message{
		{Role: kernel.RoleUser, Content: "short question"},
		{Role: kernel.RoleAssistant, Content: "short answer"},
	}

	budget := Rehydrate(contextSize, "system", turns, "", "")

	require := assert.New(t)
	require.Len(budget.TurnsToReplay, 2)
	require.Equal("short question", budget.TurnsToReplay[0].Content)
	require.Equal("short answer", budget.TurnsToReplay[1].Content)
}

func TestRehydrate_DocumentContextTruncatedWithMarker(t *testing.T) {
	contextSize := 1000
	doc := strings.Repeat("d", 5000)

	budget := Rehydrate(contextSize, "", nil, "", doc)

	assert.Contains(t, budget.SystemPrompt, "[DOCUMENT CONTEXT]:")
	assert.Contains(t, budget.SystemPrompt, "truncated")
}

func TestRehydrate_NarrativeTruncatedByTailWithPrefix(t *testing.T) {
	contextSize := 50 // budget = 70 chars; narrative share = two-thirds ≈ 46
	narrative := strings.Repeat("x", 100) + "KEEP-THE-TAIL"

	budget := Rehydrate(contextSize, "", nil, narrative, "")

	assert.Contains(t, budget.SystemPrompt, "[CONVERSATION SUMMARY]: ... ")
	assert.Contains(t, budget.SystemPrompt, "KEEP-THE-TAIL")
}

func TestRehydrate_OlderTurnsFilledNewestToOldestWhileTheyFit(t *testing.T) {
	contextSize := 4096
	turns := []kernel.Message{
		{Role: kernel.RoleUser, Content: "oldest"},
		{Role: kernel.RoleAssistant, Content: "middle"},
		{Role: kernel.RoleUser, Content: "second-to-last"},
		{Role: kernel.RoleAssistant, Content: "last"},
	}

	budget := Rehydrate(contextSize, "system", turns, "", "")

	// All four turns are tiny relative to the budget, so everything
	// should survive in original chronological order.
	assert.Len(t, budget.TurnsToReplay, 4)
	assert.Equal(t, "oldest", budget.TurnsToReplay[0].Content)
	assert.Equal(t, "last", budget.TurnsToReplay[3].Content)
}

func TestRehydrate_EstimatedTokensClampedToContextSize(t *testing.T) {
	contextSize := 10
	sp := strings.Repeat("s", 1000)

	budget := Rehydrate(contextSize, sp, nil, "", "")

	assert.LessOrEqual(t, budget.EstimatedTokens, contextSize)
	assert.GreaterOrEqual(t, budget.EstimatedTokens, 0)
}

func TestRehydrate_ComposesSystemPromptWithSummaryAndDocumentSections(t *testing.T) {
	budget := Rehydrate(4096, "base prompt", nil, "a narrative", "a document")

	assert.True(t, strings.HasPrefix(budget.SystemPrompt, "base prompt"))
	assert.Contains(t, budget.SystemPrompt, "[CONVERSATION SUMMARY]: a narrative")
	assert.Contains(t, budget.SystemPrompt, "[DOCUMENT CONTEXT]: a document")
}
