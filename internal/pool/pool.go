// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/localinfer/enginectl/internal/apperr"
	"github.com/localinfer/enginectl/internal/events"
	"github.com/localinfer/enginectl/internal/transport"
)

// ErrTimeout is returned by Call/Stream when the per-call timeout
// elapses. The pool has no notion of sessions, so callers (the
// scheduler) translate this into apperr.Timeout(sid).
var ErrTimeout = fmt.Errorf("pool: call timed out")

// Pool spawns, health-checks, warms up, and routes calls/streams to N
// main workers plus auxiliary slots. It is the only component in the
// control plane that crosses a process boundary.
type Pool struct {
	cfg Config
	bus events.EventBus

	mu      sync.RWMutex
	workers []*worker
	buffers map[string]*transport.SharedBuffer // keyed by session id

	inflight chan struct{} // nil when MaxInFlight <= 0 (unbounded)
	shutdown chan struct{}
}

// New constructs a pool from cfg; call Start to spawn workers.
func New(cfg Config, bus events.EventBus) *Pool {
	cfg = cfg.withDefaults()
	p := &Pool{
		cfg:     cfg,
		bus:     bus,
		buffers: make(map[string]*transport.SharedBuffer),
		shutdown: make(chan struct{}),
	}
	if cfg.MaxInFlight > 0 {
		p.inflight = make(chan struct{}, cfg.MaxInFlight)
	}
	return p
}

// Start spawns W main workers plus auxiliary slots (a dedicated
// summariser worker when configured, and two reserved placeholders for
// the out-of-scope vision-language and code-sandbox collaborators),
// installing each main kernel concurrently. It fails with
// model-load-failed if any main kernel fails to install.
func (p *Pool) Start(ctx context.Context) error {
	var specs []struct {
		role Role
	}
	for i := 0; i < p.cfg.WorkerCount; i++ {
		specs = append(specs, struct{ role Role }{RoleMain})
	}
	if p.cfg.SummarizerModelPath != "" {
		specs = append(specs, struct{ role Role }{RoleSummarizer})
	}
	specs = append(specs, struct{ role Role }{RoleReserved}, struct{ role Role }{RoleReserved})

	workers := make([]*worker, len(specs))
	for i, s := range specs {
		workers[i] = newWorker(i, s.role, p.cfg)
		workers[i].onCrash = p.handleWorkerCrash
	}

	var wg sync.WaitGroup
	errs := make([]error, len(workers))
	for i, w := range workers {
		wg.Add(1)
		go func(i int, w *worker) {
			defer wg.Done()
			errs[i] = w.spawn(ctx)
		}(i, w)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil && workers[i].role == RoleMain {
			return apperr.ModelLoadFailed(fmt.Sprintf("worker %d: %v", i, err))
		}
	}

	p.mu.Lock()
	p.workers = workers
	p.mu.Unlock()

	for _, w := range workers {
		if w.role == RoleMain {
			p.publish(ctx, events.EventWorkerReady, map[string]interface{}{"worker": w.index})
		}
	}
	return nil
}

// MainWorkerCount returns the number of RoleMain workers, used by the
// scheduler's worker-selection policy.
func (p *Pool) MainWorkerCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, w := range p.workers {
		if w.role == RoleMain {
			n++
		}
	}
	return n
}

// Handle returns the session-kernel handle on the given main worker.
func (p *Pool) Handle(workerIndex int) Handle {
	return Handle{Worker: workerIndex, Object: "kernel"}
}

// SummarizerHandle returns the handle of the installed summariser
// kernel: worker 0's kernel when no dedicated summariser worker was
// spawned, or the dedicated RoleSummarizer worker's kernel otherwise.
func (p *Pool) SummarizerHandle() Handle {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, w := range p.workers {
		if w.role == RoleSummarizer {
			return Handle{Worker: w.index, Object: "kernel"}
		}
	}
	return Handle{Worker: 0, Object: "kernel"}
}

func (p *Pool) workerAt(idx int) (*worker, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if idx < 0 || idx >= len(p.workers) {
		return nil, apperr.WorkerUnreachable()
	}
	return p.workers[idx], nil
}

// Call RPCs method on handle, pinned to its worker, returning the
// decoded JSON value. Fails with worker-crashed, timeout,
// python-exception, or pool-shutting-down.
func (p *Pool) Call(ctx context.Context, h Handle, method string, args interface{}) (json.RawMessage, error) {
	select {
	case <-p.shutdown:
		return nil, apperr.PoolShuttingDown()
	default:
	}
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	defer p.release()

	w, err := p.workerAt(h.Worker)
	if err != nil {
		return nil, err
	}
	if !w.alive() {
		return nil, apperr.WorkerCrashed(w.index, w.exitCodeSnapshot())
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()

	v, err := w.call(callCtx, h, method, args)
	if err != nil {
		if callCtx.Err() != nil {
			// The caller (scheduler) knows the session id and wraps this
			// as apperr.Timeout(sid); the pool has no notion of sessions.
			return nil, ErrTimeout
		}
		if !w.alive() {
			return nil, apperr.WorkerCrashed(w.index, w.exitCodeSnapshot())
		}
		return nil, err
	}
	raw, _ := v.(json.RawMessage)
	return raw, nil
}

// Stream opens a streamed RPC pinned to handle's worker. The returned
// cancel function must be invoked exactly once by the caller when
// stream consumption ends.
func (p *Pool) Stream(ctx context.Context, h Handle, method string, args interface{}) (<-chan Chunk, func(), error) {
	select {
	case <-p.shutdown:
		return nil, nil, apperr.PoolShuttingDown()
	default:
	}
	if err := p.acquire(ctx); err != nil {
		return nil, nil, err
	}

	w, err := p.workerAt(h.Worker)
	if err != nil {
		p.release()
		return nil, nil, err
	}
	if !w.alive() {
		p.release()
		return nil, nil, apperr.WorkerCrashed(w.index, w.exitCodeSnapshot())
	}

	ch, cancel, err := w.stream(ctx, h, method, args)
	if err != nil {
		p.release()
		return nil, nil, err
	}
	wrapped := func() {
		cancel()
		p.release()
	}
	return ch, wrapped, nil
}

// SharedBuffer allocates a shared-memory region sized per the pool's
// configured slot size, keyed by sessionID for later lookup.
func (p *Pool) SharedBuffer(sessionID string) (*transport.SharedBuffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.buffers[sessionID]; ok {
		return b, nil
	}
	size := p.cfg.sharedMemorySlotSizeOrDefault()
	b, err := transport.NewSharedBuffer(size)
	if err != nil {
		return nil, err
	}
	p.buffers[sessionID] = b
	return b, nil
}

// ReleaseSharedBuffer unmaps and forgets sessionID's shared buffer, on
// eviction.
func (p *Pool) ReleaseSharedBuffer(sessionID string) {
	p.mu.Lock()
	b, ok := p.buffers[sessionID]
	delete(p.buffers, sessionID)
	p.mu.Unlock()
	if ok {
		_ = b.Close()
	}
}

// WithSharedBuffer runs f against sessionID's shared region under a
// scoped borrow.
func (p *Pool) WithSharedBuffer(sessionID string, f func(buf []byte)) error {
	p.mu.RLock()
	b, ok := p.buffers[sessionID]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no shared buffer for session %s", sessionID)
	}
	b.WithBorrow(f)
	return nil
}

// RestartAllMainWorkers deliberately stops and respawns every RoleMain
// worker, used when the binary watcher detects the worker executable
// changed on disk. Restarts run one worker at a time, same as
// handleWorkerCrash's respawn path, and publish the same worker.crashed
// notification so the scheduler releases whatever sessions were pinned
// to each worker before it comes back empty.
func (p *Pool) RestartAllMainWorkers(ctx context.Context) {
	p.mu.RLock()
	var targets []*worker
	for _, w := range p.workers {
		if w.role == RoleMain {
			targets = append(targets, w)
		}
	}
	p.mu.RUnlock()

	for _, w := range targets {
		w.stop()
		p.publish(ctx, events.EventWorkerCrashed, map[string]interface{}{
			"worker": w.index,
			"reason": "binary-changed",
			"detail": "deliberate restart after worker binary change",
		})
		p.respawnWorker(w.index, w.role, w.status().RestartCount)
	}
}

// HealthCheck returns per-worker liveness status.
func (p *Pool) HealthCheck() []Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Status, len(p.workers))
	for i, w := range p.workers {
		out[i] = w.status()
	}
	return out
}

// Shutdown releases all outstanding shared buffers, then terminates
// workers.
func (p *Pool) Shutdown(ctx context.Context) {
	close(p.shutdown)
	p.mu.Lock()
	for sid, b := range p.buffers {
		_ = b.Close()
		delete(p.buffers, sid)
	}
	workers := p.workers
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			w.stop()
		}(w)
	}
	wg.Wait()
}

// handleWorkerCrash runs off w's connMu lock once waitForExit observes an
// unexpected exit. It classifies the crash from the exit code and the
// worker's captured log tail, publishes worker.crashed so the scheduler can
// release sessions pinned to w's index, and — honouring cfg.RestartPolicy —
// schedules a respawn after RestartDelay, mirroring the teacher's
// ServiceManager.handleExit/restartTimer policy.
func (p *Pool) handleWorkerCrash(w *worker) {
	select {
	case <-p.shutdown:
		return
	default:
	}

	w.connMu.Lock()
	code := w.exitCode
	lines := w.logs.tail(50)
	w.connMu.Unlock()

	reason, detail := classifyCrash(lines, code)
	ctx := context.Background()
	p.publish(ctx, events.EventWorkerCrashed, map[string]interface{}{
		"worker":    w.index,
		"exit_code": code,
		"reason":    string(reason),
		"detail":    detail,
	})

	if w.role == RoleReserved {
		return // no kernel to restore; nothing depends on this slot being ready
	}

	shouldRestart := false
	switch p.cfg.RestartPolicy {
	case "always":
		shouldRestart = w.restarts < p.cfg.MaxWorkerRestarts
	case "on-failure":
		shouldRestart = code != 0 && w.restarts < p.cfg.MaxWorkerRestarts
	case "never":
		shouldRestart = false
	}
	if !shouldRestart {
		log.Printf("pool: worker %d crashed (%s: %s), not restarting (policy=%s, restarts=%d)",
			w.index, string(reason), detail, p.cfg.RestartPolicy, w.restarts)
		return
	}

	w.connMu.Lock()
	w.restarts++
	restarts := w.restarts
	w.connMu.Unlock()

	log.Printf("pool: worker %d crashed (%s: %s), restarting in %s (attempt %d/%d)",
		w.index, string(reason), detail, p.cfg.RestartDelay, restarts, p.cfg.MaxWorkerRestarts)
	time.AfterFunc(p.cfg.RestartDelay, func() {
		p.respawnWorker(w.index, w.role, restarts)
	})
}

// respawnWorker replaces the worker at index with a freshly spawned
// process, preserving the prior restart count. The replaced worker's
// in-memory sessions are gone; handleWorkerCrash's worker.crashed event is
// the scheduler's signal to release whatever was pinned to this index.
func (p *Pool) respawnWorker(index int, role Role, restarts int) {
	select {
	case <-p.shutdown:
		return
	default:
	}

	nw := newWorker(index, role, p.cfg)
	nw.restarts = restarts
	nw.onCrash = p.handleWorkerCrash

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.StartTimeout)
	defer cancel()
	if err := nw.spawn(ctx); err != nil {
		log.Printf("pool: worker %d restart failed: %v", index, err)
		p.publish(context.Background(), events.EventWorkerCrashed, map[string]interface{}{
			"worker": index,
			"detail": fmt.Sprintf("restart failed: %v", err),
		})
		return
	}

	p.mu.Lock()
	if index < len(p.workers) {
		p.workers[index] = nw
	}
	p.mu.Unlock()

	p.publish(context.Background(), events.EventWorkerRestarted, map[string]interface{}{
		"worker":   index,
		"restarts": restarts,
	})
}

func (p *Pool) acquire(ctx context.Context) error {
	if p.inflight == nil {
		return nil
	}
	select {
	case p.inflight <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) release() {
	if p.inflight == nil {
		return
	}
	<-p.inflight
}

func (p *Pool) publish(ctx context.Context, typ string, payload map[string]interface{}) {
	if p.bus == nil {
		return
	}
	_ = p.bus.Publish(ctx, events.Event{Type: typ, Source: "pool", Payload: payload})
}

func (c Config) sharedMemorySlotSizeOrDefault() int {
	if c.SharedMemorySlotSize > 0 {
		return c.SharedMemorySlotSize
	}
	return 65536
}

func (w *worker) exitCodeSnapshot() int {
	w.connMu.Lock()
	defer w.connMu.Unlock()
	return w.exitCode
}
