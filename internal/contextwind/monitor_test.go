// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package contextwind

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReport_CrossesThresholdsInAscendingOrder(t *testing.T) {
	m := New(1000)
	m.Register("s1")

	crossings := m.Report("s1", 650, 0)
	require.Len(t, crossings, 1)
	assert.Equal(t, Prepare, crossings[0].Threshold)

	crossings = m.Report("s1", 750, 0)
	require.Len(t, crossings, 1)
	assert.Equal(t, Commit, crossings[0].Threshold)

	crossings = m.Report("s1", 850, 0)
	require.Len(t, crossings, 1)
	assert.Equal(t, Reset, crossings[0].Threshold)
}

func TestReport_SingleCallCanCrossMultipleThresholds(t *testing.T) {
	m := New(1000)
	m.Register("s1")

	crossings := m.Report("s1", 900, 0)
	require.Len(t, crossings, 3)
	assert.Equal(t, []Threshold{Prepare, Commit, Reset}, []Threshold{crossings[0].Threshold, crossings[1].Threshold, crossings[2].Threshold})
}

func TestReport_RepeatingSameUtilizationProducesNoNewCrossing(t *testing.T) {
	m := New(1000)
	m.Register("s1")

	first := m.Report("s1", 700, 0)
	require.Len(t, first, 2)

	second := m.Report("s1", 700, 0)
	assert.Empty(t, second)
}

func TestReport_IsNotCumulative(t *testing.T) {
	m := New(1000)
	m.Register("s1")

	m.Report("s1", 900, 0)
	// A later report with a smaller pair reflects the latest turn, not a
	// running sum; utilisation must drop back down.
	m.Report("s1", 100, 50)
	assert.InDelta(t, 0.15, m.Utilization("s1"), 1e-9)
}

func TestHighest_ReturnsFalseBeforeAnyCrossing(t *testing.T) {
	m := New(1000)
	m.Register("s1")
	_, ok := m.Highest("s1")
	assert.False(t, ok)

	m.Report("s1", 650, 0)
	th, ok := m.Highest("s1")
	assert.True(t, ok)
	assert.Equal(t, Prepare, th)
}

func TestResetSession_ClearsHistoryAndSeedsUtilization(t *testing.T) {
	m := New(1000)
	m.Register("s1")
	m.Report("s1", 900, 0)

	m.ResetSession("s1", 200)

	_, ok := m.Highest("s1")
	assert.False(t, ok)
	assert.Empty(t, m.CrossingHistory("s1"))
	assert.InDelta(t, 0.2, m.Utilization("s1"), 1e-9)
}

func TestEvict_RemovesTrackingState(t *testing.T) {
	m := New(1000)
	m.Register("s1")
	m.Report("s1", 900, 0)

	m.Evict("s1")
	assert.Equal(t, float64(0), m.Utilization("s1"))
	_, ok := m.Highest("s1")
	assert.False(t, ok)
}

func TestRegister_IsIdempotent(t *testing.T) {
	m := New(1000)
	m.Register("s1")
	m.Report("s1", 700, 0)
	m.Register("s1")
	// re-registering must not wipe the existing state
	assert.InDelta(t, 0.7, m.Utilization("s1"), 1e-9)
}
