// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localinfer/enginectl/internal/apperr"
)

func decodeErrorResponse(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	return resp
}

func TestWriteSchedulerError_MapsKindsToHTTPStatus(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"session not found", apperr.SessionNotFound("s1"), 404, ErrNotFound},
		{"context overflow", apperr.ContextOverflow("s1", 256, 256), 400, ErrBadRequest},
		{"invalid argument", apperr.InvalidArgument("bad max_tokens"), 400, ErrBadRequest},
		{"worker full", apperr.WorkerFull(0), 503, ErrServiceError},
		{"pool not ready", apperr.PoolNotReady(), 503, ErrServiceError},
		{"pool shutting down", apperr.PoolShuttingDown(), 503, ErrServiceError},
		{"timeout", apperr.Timeout("s1"), 504, ErrServiceError},
		{"evicted", apperr.Evicted("s1"), 409, ErrConflict},
		{"prefill failed", apperr.PrefillFailed("s1", "boom"), 502, ErrServiceError},
		{"decode failed", apperr.DecodeFailed("s1", "boom"), 502, ErrServiceError},
		{"decode frame invalid", apperr.DecodeFrameInvalid("short frame"), 502, ErrServiceError},
		{"worker crashed", apperr.WorkerCrashed(2, 139), 502, ErrServiceError},
		{"python exception", apperr.PythonException("ValueError", "bad", "trace"), 502, ErrServiceError},
		{"worker unreachable", apperr.WorkerUnreachable(), 502, ErrServiceError},
		{"model load failed", apperr.ModelLoadFailed("oom"), 502, ErrServiceError},
		{"unknown error falls back to internal", errors.New("unmapped"), 500, ErrInternalError},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeSchedulerError(rec, c.err)
			assert.Equal(t, c.wantStatus, rec.Code)
			resp := decodeErrorResponse(t, rec)
			assert.Equal(t, c.wantCode, resp.Error.Code)
		})
	}
}

func TestWriteSchedulerError_DetailsCarryTheKindString(t *testing.T) {
	rec := httptest.NewRecorder()
	writeSchedulerError(rec, apperr.ContextOverflow("s1", 10, 20))

	resp := decodeErrorResponse(t, rec)
	require.NotNil(t, resp.Error.Details)
	assert.Equal(t, "context-overflow", resp.Error.Details["kind"])
}

func TestPublicError_StripsWorkerInternalDetailForCrashKinds(t *testing.T) {
	// Public() must not leak the raw crash/python detail string that
	// file logs retain (§7); it collapses to the bare kind name.
	msg := publicError(apperr.PythonException("ValueError", "tensor shape mismatch", "traceback..."))
	assert.Equal(t, "python-exception", msg)
	assert.NotContains(t, msg, "tensor shape mismatch")
}

func TestPublicError_PreservesSessionScopedDetailForContextOverflow(t *testing.T) {
	msg := publicError(apperr.ContextOverflow("s1", 256, 256))
	assert.Contains(t, msg, "s1")
}

func TestPublicError_NonAppErrFallsBackToPlainErrorString(t *testing.T) {
	msg := publicError(errors.New("plain failure"))
	assert.Equal(t, "plain failure", msg)
}
