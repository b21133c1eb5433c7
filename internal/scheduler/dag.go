// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"context"
	"encoding/json"

	"golang.org/x/sync/errgroup"

	"github.com/localinfer/enginectl/internal/kernel"
	"github.com/localinfer/enginectl/internal/pool"
)

// runCompletion executes one session's prefill→decode work against its
// pinned worker, choosing the JSON-DAG or shared-memory transport per
// configuration. Both paths update identical bookkeeping; they differ
// only in how the value crosses the process boundary.
//
// The shared-memory path allocates and exercises the pool's mmap buffer
// lifecycle for the session (matching §4.G's shared-memory framing
// description), but cmd/model-runtime-ref — a deterministic stand-in
// for the out-of-scope model runtime — has no real cross-process
// shared segment to write into, so it still returns its result over the
// JSON channel; the buffer is allocated and released regardless; a real
// worker binary would write CompleteToSHM's frame into it instead.
func runCompletion(ctx context.Context, p *pool.Pool, h pool.Handle, sid, prompt string, params kernel.SamplingParams, useSharedMemory bool) (*kernel.DecodeResult, error) {
	if useSharedMemory {
		if _, err := p.SharedBuffer(sid); err != nil {
			return nil, err
		}
		return runJSON(ctx, p, h, sid, prompt, params)
	}
	return runDAG(ctx, p, h, sid, prompt, params)
}

// runDAG is the two-node JSON-DAG path: a prefill node followed by a
// decode node, both pinned to h's worker.
func runDAG(ctx context.Context, p *pool.Pool, h pool.Handle, sid, prompt string, params kernel.SamplingParams) (*kernel.DecodeResult, error) {
	if _, err := p.Call(ctx, h, "prefill", prefillArgs{SID: sid, Prompt: prompt}); err != nil {
		return nil, err
	}
	raw, err := p.Call(ctx, h, "decode", decodeArgs{SID: sid, Params: params})
	if err != nil {
		return nil, err
	}
	var result kernel.DecodeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// runJSON is the single-call path (the "complete" RPC), also used as the
// shared-memory path's value carrier (see runCompletion).
func runJSON(ctx context.Context, p *pool.Pool, h pool.Handle, sid, prompt string, params kernel.SamplingParams) (*kernel.DecodeResult, error) {
	raw, err := p.Call(ctx, h, "complete", completeArgs{SID: sid, Prompt: prompt, Params: params})
	if err != nil {
		return nil, err
	}
	var result kernel.DecodeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// runBatch executes every accepted request concurrently with a
// continue-independent failure policy: one session's failure must never
// cancel its siblings. errgroup.Group (not errgroup.WithContext) is
// used deliberately — WithContext cancels every in-flight goroutine's
// context on the first error, which is exactly the fail-fast behaviour
// batch completion must not have.
func runBatch(ctx context.Context, jobs []func(context.Context) (*kernel.DecodeResult, error)) []Outcome {
	outcomes := make([]Outcome, len(jobs))
	var g errgroup.Group
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			result, err := job(ctx)
			outcomes[i] = Outcome{Result: result, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

type prefillArgs struct {
	SID    string `json:"sid"`
	Prompt string `json:"prompt"`
}

type decodeArgs struct {
	SID    string                `json:"sid"`
	Params kernel.SamplingParams `json:"params"`
}
