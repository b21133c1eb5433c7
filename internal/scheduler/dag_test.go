// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localinfer/enginectl/internal/apperr"
	"github.com/localinfer/enginectl/internal/kernel"
	"github.com/localinfer/enginectl/internal/pool"
)

func TestRunBatch_OneFailureDoesNotCancelSiblings(t *testing.T) {
	boom := errors.New("boom")
	jobs := []func(context.Context) (*kernel.DecodeResult, error){
		func(ctx context.Context) (*kernel.DecodeResult, error) {
			return &kernel.DecodeResult{SessionID: "a"}, nil
		},
		func(ctx context.Context) (*kernel.DecodeResult, error) {
			return nil, boom
		},
		func(ctx context.Context) (*kernel.DecodeResult, error) {
			return &kernel.DecodeResult{SessionID: "c"}, nil
		},
	}

	outcomes := runBatch(context.Background(), jobs)

	require.Len(t, outcomes, 3)
	assert.NoError(t, outcomes[0].Err)
	assert.Equal(t, "a", outcomes[0].Result.SessionID)

	assert.Error(t, outcomes[1].Err)
	assert.Nil(t, outcomes[1].Result)

	assert.NoError(t, outcomes[2].Err)
	assert.Equal(t, "c", outcomes[2].Result.SessionID)
}

func TestRunBatch_EmptyJobsReturnsEmptySlice(t *testing.T) {
	outcomes := runBatch(context.Background(), nil)
	assert.Empty(t, outcomes)
}

func TestTranslatePoolErr_MapsPoolTimeoutToSessionScopedTimeout(t *testing.T) {
	err := translatePoolErr(pool.ErrTimeout, "sess-1")

	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindTimeout, appErr.Kind)
	assert.Equal(t, "sess-1", appErr.Session)
}

func TestTranslatePoolErr_PassesOtherErrorsThrough(t *testing.T) {
	original := errors.New("some other transport fault")
	err := translatePoolErr(original, "sess-1")
	assert.Same(t, original, err)
}
