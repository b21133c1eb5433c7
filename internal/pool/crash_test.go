// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyCrash_CleanExitIsNone(t *testing.T) {
	reason, detail := classifyCrash(nil, 0)
	assert.Equal(t, crashNone, reason)
	assert.Empty(t, detail)
}

func TestClassifyCrash_PanicTakesPriorityOverEverythingElse(t *testing.T) {
	lines := []string{
		"loading model weights",
		"panic: runtime error: index out of range",
		"fatal error: also present, should be ignored",
	}
	reason, detail := classifyCrash(lines, 2)
	assert.Equal(t, crashPanic, reason)
	assert.Equal(t, "runtime error: index out of range", detail)
}

func TestClassifyCrash_OOMBeatsFatalAndSignal(t *testing.T) {
	lines := []string{
		"fatal error: runtime: out of memory",
		"Killed process 1234 (worker) total-vm:...",
	}
	reason, _ := classifyCrash(lines, 137)
	assert.Equal(t, crashOOM, reason)
}

func TestClassifyCrash_FatalBeatsSignal(t *testing.T) {
	lines := []string{
		"fatal error: concurrent map writes",
		"signal: terminated",
	}
	reason, detail := classifyCrash(lines, 1)
	assert.Equal(t, crashFatal, reason)
	assert.Equal(t, "concurrent map writes", detail)
}

func TestClassifyCrash_SignalDetection(t *testing.T) {
	cases := []struct {
		line   string
		detail string
	}{
		{"process received SIGTERM", "SIGTERM"},
		{"signal: killed", "SIGKILL"},
		{"Segmentation fault (core dumped)", "SIGSEGV"},
	}
	for _, c := range cases {
		reason, detail := classifyCrash([]string{c.line}, 1)
		assert.Equal(t, crashSignal, reason)
		assert.Equal(t, c.detail, detail)
	}
}

func TestClassifyCrash_UnknownFallsBackToExitCodeTail(t *testing.T) {
	lines := []string{"", "starting up", "listening on socket"}
	reason, detail := classifyCrash(lines, 1)
	assert.Equal(t, crashUnknown, reason)
	assert.Equal(t, "starting up | listening on socket", detail)
}

func TestClassifyCrash_HighExitCodeMapsToSignalName(t *testing.T) {
	reason, detail := classifyCrash(nil, 139) // 128 + SIGSEGV(11)
	assert.Equal(t, crashUnknown, reason)
	assert.Equal(t, "killed by signal SIGSEGV", detail)
}

func TestSignalName_KnownAndUnknown(t *testing.T) {
	assert.Equal(t, "SIGKILL", signalName(9))
	assert.Equal(t, "SIGTERM", signalName(15))
	assert.Equal(t, "signal 42", signalName(42))
}
