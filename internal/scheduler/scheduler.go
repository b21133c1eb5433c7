// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/localinfer/enginectl/internal/apperr"
	"github.com/localinfer/enginectl/internal/contextwind"
	"github.com/localinfer/enginectl/internal/events"
	"github.com/localinfer/enginectl/internal/kernel"
	"github.com/localinfer/enginectl/internal/pool"
	"github.com/localinfer/enginectl/internal/summarize"
)

// Scheduler is the control plane's actor for session lifecycle: it owns
// the session registry and worker-load counts exclusively (§3), and
// everything it does that crosses a process boundary goes through the
// pool — it never talks to a worker socket directly (§5).
type Scheduler struct {
	cfg Config
	p   *pool.Pool
	mon *contextwind.Monitor
	sum *summarize.Client
	bus events.EventBus

	mu          sync.Mutex
	sessions    map[string]*session
	workerLoad  map[int]int
	counters    Counters
}

// New constructs a scheduler bound to its collaborators. p must already
// be started. It subscribes to worker.crashed so a worker process that
// dies out-of-band (the pool's own monitoring, not a call the scheduler
// made) immediately fails whatever sessions were pinned to it, rather
// than leaving them stuck in whatever phase they were last observed in.
func New(cfg Config, p *pool.Pool, mon *contextwind.Monitor, sum *summarize.Client, bus events.EventBus) *Scheduler {
	s := &Scheduler{
		cfg:        cfg,
		p:          p,
		mon:        mon,
		sum:        sum,
		bus:        bus,
		sessions:   make(map[string]*session),
		workerLoad: make(map[int]int),
	}
	if bus != nil {
		_, _ = bus.Subscribe(events.EventWorkerCrashed, func(ctx context.Context, evt events.Event) error {
			s.onWorkerCrashed(evt)
			return nil
		})
	}
	return s
}

// onWorkerCrashed fails every session still pinned to the crashed
// worker's index; its in-memory kernel state (KV cache, message log) is
// gone regardless of whether the pool later respawns the process.
func (s *Scheduler) onWorkerCrashed(evt events.Event) {
	idx, ok := evt.Payload["worker"].(int)
	if !ok {
		return
	}
	s.mu.Lock()
	var affected []string
	for sid, sess := range s.sessions {
		if sess.worker == idx && sess.phase != PhaseFailed {
			affected = append(affected, sid)
		}
	}
	s.mu.Unlock()
	for _, sid := range affected {
		s.fail(sid, apperr.WorkerCrashed(idx, 0))
	}
}

// --- §4.F.1 worker selection -----------------------------------------

// selectWorker picks the worker with the smallest current session
// count, ties broken by lowest index, and reserves a slot for it before
// any async call is made (so concurrent creations see the updated
// count). The reservation must be released on failure by the caller.
func (s *Scheduler) selectWorker() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.p.MainWorkerCount()
	best := -1
	bestCount := -1
	for i := 0; i < n; i++ {
		c := s.workerLoad[i]
		if best == -1 || c < bestCount {
			best, bestCount = i, c
		}
	}
	if best == -1 {
		return 0, apperr.PoolNotReady()
	}
	if bestCount >= s.cfg.MaxSessionsPerWorker {
		return 0, apperr.WorkerFull(best)
	}
	s.workerLoad[best]++
	return best, nil
}

func (s *Scheduler) releaseWorkerSlot(worker int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.workerLoad[worker] > 0 {
		s.workerLoad[worker]--
	}
}

// --- §4.F.2 session creation -------------------------------------------

// CreateSession pins a new session to the least-loaded worker and
// registers it on that worker's kernel.
func (s *Scheduler) CreateSession(ctx context.Context, systemPrompt *string) (string, error) {
	worker, err := s.selectWorker()
	if err != nil {
		return "", err
	}

	sid := uuid.NewString()
	h := s.p.Handle(worker)
	if _, err := s.p.Call(ctx, h, "create_session", createSessionArgs{SID: sid, SystemPrompt: systemPrompt}); err != nil {
		s.releaseWorkerSlot(worker)
		return "", translatePoolErr(err, sid)
	}

	now := time.Now()
	s.mu.Lock()
	s.sessions[sid] = &session{id: sid, worker: worker, phase: PhaseIdle, createdAt: now, lastActivity: now}
	s.counters.Scheduled++
	s.mu.Unlock()

	s.mon.Register(sid)
	s.publish(ctx, events.EventSessionCreated, sid, map[string]interface{}{"worker": worker})
	return sid, nil
}

// CreateSessionWithHistory cold-starts a resumed conversation: it
// computes a budgeted rehydration, creates the session with the
// rehydrated system prompt, then replays remaining turns directly into
// the in-worker log (no decode), seeding D's utilisation from the
// estimated token count.
func (s *Scheduler) CreateSessionWithHistory(ctx context.Context, systemPrompt string, recentTurns []kernel.Message) (string, error) {
	worker, err := s.selectWorker()
	if err != nil {
		return "", err
	}

	budget := Rehydrate(s.cfg.ContextSize, systemPrompt, recentTurns, "", "")

	sid := uuid.NewString()
	h := s.p.Handle(worker)
	sp := budget.SystemPrompt
	if _, err := s.p.Call(ctx, h, "create_session", createSessionArgs{SID: sid, SystemPrompt: &sp}); err != nil {
		s.releaseWorkerSlot(worker)
		return "", translatePoolErr(err, sid)
	}
	if len(budget.TurnsToReplay) > 0 {
		if _, err := s.p.Call(ctx, h, "append_turns", appendTurnsArgs{SID: sid, Turns: budget.TurnsToReplay}); err != nil {
			s.releaseWorkerSlot(worker)
			return "", translatePoolErr(err, sid)
		}
	}

	now := time.Now()
	s.mu.Lock()
	s.sessions[sid] = &session{id: sid, worker: worker, phase: PhaseIdle, createdAt: now, lastActivity: now}
	s.counters.Scheduled++
	s.mu.Unlock()

	s.mon.Register(sid)
	s.mon.ResetSession(sid, budget.EstimatedTokens)
	s.publish(ctx, events.EventSessionCreated, sid, map[string]interface{}{"worker": worker, "rehydrated": true})
	return sid, nil
}

// EvictSession frees session state on its worker and drops the
// registry entry.
func (s *Scheduler) EvictSession(ctx context.Context, sid string) error {
	sess, err := s.get(sid)
	if err != nil {
		return err
	}
	h := s.p.Handle(sess.worker)
	if _, err := s.p.Call(ctx, h, "evict", evictArgs{SID: sid}); err != nil {
		return translatePoolErr(err, sid)
	}
	s.mon.Evict(sid)
	s.p.ReleaseSharedBuffer(sid)

	s.mu.Lock()
	delete(s.sessions, sid)
	s.mu.Unlock()
	s.releaseWorkerSlot(sess.worker)
	s.publish(ctx, events.EventSessionEvicted, sid, nil)
	return nil
}

func (s *Scheduler) get(sid string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sid]
	if !ok {
		return nil, apperr.SessionNotFound(sid)
	}
	return sess, nil
}

func (s *Scheduler) setPhase(sid string, phase Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sid]; ok {
		sess.phase = phase
		sess.lastActivity = time.Now()
	}
}

func (s *Scheduler) recordBudget(sid string, promptTokens, completionTokens int) {
	used := promptTokens + completionTokens
	if used > s.cfg.ContextSize {
		used = s.cfg.ContextSize
	}
	s.mu.Lock()
	if sess, ok := s.sessions[sid]; ok {
		sess.tokenBudgetUsed = used
		sess.lastActivity = time.Now()
	}
	s.counters.TokensGenerated += int64(completionTokens)
	s.mu.Unlock()
}

// --- §4.F.3 single completion ------------------------------------------

// Complete runs a prefill→decode DAG (or the shared-memory equivalent,
// chosen by the caller's transport mode — both update the scheduler's
// bookkeeping identically) against sid, rejecting overflow requests
// before touching the worker.
func (s *Scheduler) Complete(ctx context.Context, sid, prompt string, params kernel.SamplingParams) (*kernel.DecodeResult, error) {
	sess, err := s.get(sid)
	if err != nil {
		return nil, err
	}
	if err := s.preflight(sess, prompt, params); err != nil {
		s.failIfOverflow(sid, err)
		return nil, err
	}

	s.setPhase(sid, PhasePrefilling)
	h := s.p.Handle(sess.worker)

	result, err := runCompletion(ctx, s.p, h, sid, prompt, params, s.cfg.UseSharedMemory)
	if err != nil {
		s.fail(sid, err)
		return nil, translatePoolErr(err, sid)
	}

	s.setPhase(sid, PhaseDecoding)
	s.recordBudget(sid, result.PromptTokens, result.CompletionTokens)
	s.mon.Report(sid, result.PromptTokens, result.CompletionTokens)
	s.setPhase(sid, PhaseCompleted)

	s.mu.Lock()
	s.counters.Completed++
	s.counters.PrefillMs += result.PrefillMs
	s.counters.DecodeMs += result.DecodeMs
	s.mu.Unlock()

	return result, nil
}

// preflight enforces the two pre-worker rejects in §4.F.3. max_tokens is
// treated as a ceiling, never a guarantee, so a large max_tokens alone
// never trips the second check.
func (s *Scheduler) preflight(sess *session, prompt string, params kernel.SamplingParams) error {
	s.mu.Lock()
	used := sess.tokenBudgetUsed
	phase := sess.phase
	s.mu.Unlock()

	if phase != PhaseIdle && phase != PhaseCompleted {
		return apperr.InvalidArgument(fmt.Sprintf("session %s is in phase %s, not idle or completed", sess.id, phase))
	}
	if used >= s.cfg.ContextSize {
		return apperr.ContextOverflow(sess.id, used, s.cfg.ContextSize)
	}
	promptTokens := kernel.EstimateTokens(len(prompt))
	remaining := s.cfg.ContextSize - used
	if promptTokens > remaining {
		return apperr.ContextOverflow(sess.id, used, s.cfg.ContextSize)
	}
	return nil
}

// failIfOverflow transitions sid to PhaseFailed when preflight's error is
// a context-overflow reject (§8 scenario S6). The other preflight reject
// (wrong phase — a session that is already busy prefilling/decoding)
// means "try again later", not "broken": failing it would incorrectly
// release a worker slot still backing an in-flight completion.
func (s *Scheduler) failIfOverflow(sid string, err error) {
	if kind, ok := apperr.KindOf(err); ok && kind == apperr.KindContextOverflow {
		s.fail(sid, err)
	}
}

// fail transitions sid to PhaseFailed and releases its worker-load
// reservation: a failed session no longer counts toward worker capacity
// (§8 property 2 only counts non-evicted, non-failed sessions).
func (s *Scheduler) fail(sid string, err error) {
	s.mu.Lock()
	sess, ok := s.sessions[sid]
	if ok {
		sess.phase = PhaseFailed
		sess.lastActivity = time.Now()
	}
	s.counters.Failed++
	s.mu.Unlock()
	if ok {
		s.releaseWorkerSlot(sess.worker)
	}
	s.publish(context.Background(), events.EventSessionFailed, sid, map[string]interface{}{"error": err.Error()})
}

// CountTokens performs exact tokenisation via worker 0's kernel,
// falling back to the chars/3.5 estimate (the kernel itself applies
// that fallback internally); never negative, 0 for empty input.
func (s *Scheduler) CountTokens(ctx context.Context, text string) int {
	if text == "" {
		return 0
	}
	h := s.p.Handle(0)
	raw, err := s.p.Call(ctx, h, "count_tokens", countTokensArgs{Text: text})
	if err != nil {
		return kernel.EstimateTokens(len(text))
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil || n < 0 {
		return kernel.EstimateTokens(len(text))
	}
	return n
}

// --- §4.F.8 batch completion --------------------------------------------

// CompleteBatch validates every request as Complete would (§4.F.3); a
// rejected request produces a per-sid failure without affecting its
// siblings, which are executed concurrently with a continue-independent
// failure policy (§8 scenario S6).
func (s *Scheduler) CompleteBatch(ctx context.Context, requests []Request) []Outcome {
	outcomes := make([]Outcome, len(requests))
	var jobs []func(context.Context) (*kernel.DecodeResult, error)
	var jobIdx []int

	for i, req := range requests {
		sess, err := s.get(req.SessionID)
		if err != nil {
			outcomes[i] = Outcome{Err: err}
			continue
		}
		if err := s.preflight(sess, req.Prompt, req.Params); err != nil {
			s.failIfOverflow(req.SessionID, err)
			outcomes[i] = Outcome{Err: err}
			continue
		}

		i, req, sess := i, req, sess
		jobs = append(jobs, func(ctx context.Context) (*kernel.DecodeResult, error) {
			s.setPhase(req.SessionID, PhasePrefilling)
			h := s.p.Handle(sess.worker)
			result, err := runCompletion(ctx, s.p, h, req.SessionID, req.Prompt, req.Params, s.cfg.UseSharedMemory)
			if err != nil {
				s.fail(req.SessionID, err)
				return nil, translatePoolErr(err, req.SessionID)
			}
			s.setPhase(req.SessionID, PhaseDecoding)
			s.recordBudget(req.SessionID, result.PromptTokens, result.CompletionTokens)
			s.mon.Report(req.SessionID, result.PromptTokens, result.CompletionTokens)
			s.setPhase(req.SessionID, PhaseCompleted)

			s.mu.Lock()
			s.counters.Completed++
			s.counters.PrefillMs += result.PrefillMs
			s.counters.DecodeMs += result.DecodeMs
			s.mu.Unlock()
			return result, nil
		})
		jobIdx = append(jobIdx, i)
	}

	results := runBatch(ctx, jobs)
	for k, idx := range jobIdx {
		outcomes[idx] = results[k]
	}
	return outcomes
}

// CompleteOneShot creates a throwaway session, completes a single
// prompt against it, and evicts it regardless of outcome — for
// fire-and-forget requests that need no persistent session.
func (s *Scheduler) CompleteOneShot(ctx context.Context, prompt string, params kernel.SamplingParams, systemPrompt *string) (*kernel.DecodeResult, error) {
	sid, err := s.CreateSession(ctx, systemPrompt)
	if err != nil {
		return nil, err
	}
	defer s.EvictSession(context.Background(), sid)

	return s.Complete(ctx, sid, prompt, params)
}

// --- §4.F.9 LRU eviction -------------------------------------------------

// EvictLRU evicts sessions by ascending last-activity until the
// non-evicting session count is at most keepMax, never evicting a
// session currently prefilling or decoding.
func (s *Scheduler) EvictLRU(ctx context.Context, keepMax int) []string {
	s.mu.Lock()
	type cand struct {
		id   string
		last time.Time
	}
	var candidates []cand
	total := 0
	for id, sess := range s.sessions {
		total++
		if sess.phase == PhasePrefilling || sess.phase == PhaseDecoding {
			continue
		}
		candidates = append(candidates, cand{id, sess.lastActivity})
	}
	s.mu.Unlock()

	if keepMax < 0 || total <= keepMax {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].last.Before(candidates[j].last) })

	toEvict := total - keepMax
	if toEvict > len(candidates) {
		toEvict = len(candidates)
	}
	var evicted []string
	for i := 0; i < toEvict; i++ {
		if err := s.EvictSession(ctx, candidates[i].id); err == nil {
			evicted = append(evicted, candidates[i].id)
		}
	}
	return evicted
}

// --- introspection -------------------------------------------------------

func (s *Scheduler) SessionInfo(sid string) (SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sid]
	if !ok {
		return SessionInfo{}, apperr.SessionNotFound(sid)
	}
	return SessionInfo{
		SessionID:       sess.id,
		Worker:          sess.worker,
		Phase:           sess.phase,
		TokenBudgetUsed: sess.tokenBudgetUsed,
		CreatedAt:       sess.createdAt,
		LastActivity:    sess.lastActivity,
	}, nil
}

func (s *Scheduler) ActiveSessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Scheduler) WorkerLoad() map[int]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]int, len(s.workerLoad))
	for k, v := range s.workerLoad {
		out[k] = v
	}
	return out
}

func (s *Scheduler) Stats() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

func (s *Scheduler) publish(ctx context.Context, typ, sid string, payload map[string]interface{}) {
	if s.bus == nil {
		return
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["session_id"] = sid
	_ = s.bus.Publish(ctx, events.Event{Type: typ, Source: "scheduler", Payload: payload})
}

// translatePoolErr turns a pool transport fault that carries no session
// context into a session-scoped apperr where the spec names one
// (timeout(sid)); apperr.Error values from the kernel pass through
// unchanged.
func translatePoolErr(err error, sid string) error {
	if err == pool.ErrTimeout {
		return apperr.Timeout(sid)
	}
	return err
}

type createSessionArgs struct {
	SID          string  `json:"sid"`
	SystemPrompt *string `json:"system_prompt,omitempty"`
}

type appendTurnsArgs struct {
	SID   string            `json:"sid"`
	Turns []kernel.Message `json:"turns"`
}

type evictArgs struct {
	SID string `json:"sid"`
}

type completeArgs struct {
	SID    string                `json:"sid"`
	Prompt string                `json:"prompt"`
	Params kernel.SamplingParams `json:"params"`
}

type countTokensArgs struct {
	Text string `json:"text"`
}
