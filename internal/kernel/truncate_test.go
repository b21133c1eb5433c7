// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPruneToBudget_PreservesSystemMessageAtPositionZero(t *testing.T) {
	messages := []Message{
		{Role: RoleSystem, Content: "you are helpful"},
		{Role: RoleUser, Content: strings.Repeat("x", 5000)},
		{Role: RoleAssistant, Content: strings.Repeat("y", 5000)},
		{Role: RoleUser, Content: "short"},
	}
	out := PruneToBudget(messages, 64, 8)
	require.NotEmpty(t, out)
	assert.Equal(t, RoleSystem, out[0].Role)
	assert.Equal(t, "you are helpful", out[0].Content)
}

func TestPruneToBudget_DropsOldestNonSystemTurnsFirst(t *testing.T) {
	messages := []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "oldest"},
		{Role: RoleAssistant, Content: "middle"},
		{Role: RoleUser, Content: "newest"},
	}
	// A tiny budget forces pruning down to the floor of 2 non-system turns.
	out := PruneToBudget(messages, 1, 0)
	assert.Len(t, out, 3) // system + 2 most recent turns
	assert.Equal(t, "middle", out[1].Content)
	assert.Equal(t, "newest", out[2].Content)
}

func TestPruneToBudget_StopsAtTwoNonSystemTurnsEvenIfStillOverBudget(t *testing.T) {
	messages := []Message{
		{Role: RoleUser, Content: strings.Repeat("a", 10000)},
		{Role: RoleAssistant, Content: strings.Repeat("b", 10000)},
	}
	out := PruneToBudget(messages, 1, 0)
	assert.Len(t, out, 2)
}

func TestPruneToBudget_NoSystemMessageStillWorks(t *testing.T) {
	messages := []Message{
		{Role: RoleUser, Content: "one"},
		{Role: RoleAssistant, Content: "two"},
	}
	out := PruneToBudget(messages, 4096, 64)
	assert.Equal(t, messages, out)
}

func TestPruneToBudget_FitsWithinBudgetKeepsEverything(t *testing.T) {
	messages := []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
	}
	out := PruneToBudget(messages, 4096, 64)
	assert.Equal(t, messages, out)
}

func TestEstimateTokens_NeverNegativeAndZeroForEmpty(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(0))
	assert.Equal(t, 0, EstimateTokens(-5))
	assert.True(t, EstimateTokens(7) >= 0)
}
