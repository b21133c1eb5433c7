// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Command model-runtime-ref is a deterministic stand-in for the
// out-of-scope model runtime (§ the kernel.Generator seam). It is the
// binary internal/pool spawns as a worker process: it opens the
// Unix-domain socket the pool dials, installs one internal/kernel.Kernel
// on first request, and serves install_kernel/create_session/
// append_turns/prefill/decode/decode_stream/complete/evict/count_tokens
// over the length-prefixed JSON envelope protocol in internal/transport.
//
// It never loads model weights; internal/kernel.EstimatingGenerator
// echoes a synthesized reply long enough to exercise prompt truncation,
// token accounting, and streaming end to end, so the control plane can
// be developed and tested without a GPU or real weights.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/localinfer/enginectl/internal/kernel"
	"github.com/localinfer/enginectl/internal/transport"
)

func main() {
	socketPath := flag.String("socket", "", "Unix-domain socket path to listen on")
	contextSize := flag.Int("context-size", 4096, "context window size in tokens")
	role := flag.String("role", "main", "worker role: main, summarizer, or reserved")
	workerIndex := flag.Int("worker-index", 0, "pool-assigned worker index")
	modelPath := flag.String("model-path", "", "path to the model weights (unused by this stand-in)")
	_ = flag.Int("n-gpu-layers", 0, "GPU offload layer count (unused by this stand-in)")
	_ = flag.Int("blas-threads", 0, "BLAS thread count (unused by this stand-in)")
	flag.Parse()

	if *socketPath == "" {
		log.Fatal("model-runtime-ref: -socket is required")
	}

	if err := run(*socketPath, *contextSize, *role, *workerIndex, *modelPath); err != nil {
		log.Fatalf("model-runtime-ref: %v", err)
	}
}

func run(socketPath string, contextSize int, role string, workerIndex int, modelPath string) error {
	ln, err := transport.Listen(socketPath)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer ln.Close()

	log.Printf("model-runtime-ref: worker %d (%s) listening on %s, model=%q", workerIndex, role, socketPath, modelPath)

	conn, err := ln.Accept()
	if err != nil {
		return fmt.Errorf("accept: %w", err)
	}
	defer conn.Close()

	s := &server{
		kern: kernel.NewKernel(contextSize, kernel.EstimatingGenerator{}),
		conn: conn,
	}
	s.serve()
	return nil
}

// server dispatches one worker connection's request envelopes onto its
// single session kernel. Requests are handled sequentially except for
// decode_stream, whose cancel frame must be observable while the
// stream's own handler is still running.
type server struct {
	kern *kernel.Kernel
	conn *transport.Conn

	sendMu sync.Mutex

	cancelMu sync.Mutex
	cancels  map[uint64]func()
}

func (s *server) send(env transport.Envelope) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := s.conn.Send(env); err != nil {
		log.Printf("model-runtime-ref: send failed: %v", err)
	}
}

func (s *server) serve() {
	s.cancels = make(map[uint64]func())
	for {
		env, err := s.conn.Recv()
		if err != nil {
			return
		}
		switch env.Kind {
		case transport.KindRequest:
			s.handleRequest(env)
		case transport.KindCancel:
			s.handleCancel(env.ID)
		}
	}
}

func (s *server) handleCancel(id uint64) {
	s.cancelMu.Lock()
	cancel, ok := s.cancels[id]
	s.cancelMu.Unlock()
	if ok {
		cancel()
	}
}

func (s *server) registerCancel(id uint64, cancel func()) {
	s.cancelMu.Lock()
	s.cancels[id] = cancel
	s.cancelMu.Unlock()
}

func (s *server) unregisterCancel(id uint64) {
	s.cancelMu.Lock()
	delete(s.cancels, id)
	s.cancelMu.Unlock()
}

func (s *server) handleRequest(env transport.Envelope) {
	if env.Method == "decode_stream" {
		go s.handleDecodeStream(env)
		return
	}

	value, err := s.dispatch(env)
	if err != nil {
		s.send(errorEnvelope(env.ID, err))
		return
	}
	s.send(transport.Envelope{ID: env.ID, Kind: transport.KindResponse, Value: value})
}

// dispatch runs every non-streaming method and returns its JSON-encoded
// result. install_kernel is a no-op: the kernel is constructed once in
// run() rather than lazily, so there is nothing left to do but
// acknowledge the handshake the pool waits on before marking the worker
// ready.
func (s *server) dispatch(env transport.Envelope) (json.RawMessage, error) {
	switch env.Method {
	case "install_kernel":
		return json.Marshal(map[string]string{"status": "installed"})

	case "create_session":
		var args struct {
			SID          string  `json:"sid"`
			SystemPrompt *string `json:"system_prompt"`
		}
		if err := unmarshalArgs(env.Args, &args); err != nil {
			return nil, err
		}
		status := s.kern.CreateSession(args.SID, args.SystemPrompt)
		return json.Marshal(map[string]string{"status": string(status)})

	case "append_turns":
		var args struct {
			SID   string           `json:"sid"`
			Turns []kernel.Message `json:"turns"`
		}
		if err := unmarshalArgs(env.Args, &args); err != nil {
			return nil, err
		}
		if err := s.kern.AppendTurns(args.SID, args.Turns); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]bool{"ok": true})

	case "prefill":
		var args struct {
			SID    string `json:"sid"`
			Prompt string `json:"prompt"`
		}
		if err := unmarshalArgs(env.Args, &args); err != nil {
			return nil, err
		}
		promptTokens, prefillMs, err := s.kern.Prefill(args.SID, args.Prompt)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]int64{"prompt_tokens": int64(promptTokens), "prefill_ms": prefillMs})

	case "decode":
		var args struct {
			SID    string                `json:"sid"`
			Params kernel.SamplingParams `json:"params"`
		}
		if err := unmarshalArgs(env.Args, &args); err != nil {
			return nil, err
		}
		result, err := s.kern.Decode(context.Background(), args.SID, args.Params)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)

	case "complete":
		var args struct {
			SID    string                `json:"sid"`
			Prompt string                `json:"prompt"`
			Params kernel.SamplingParams `json:"params"`
		}
		if err := unmarshalArgs(env.Args, &args); err != nil {
			return nil, err
		}
		result, err := s.kern.Complete(context.Background(), args.SID, args.Prompt, args.Params)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)

	case "evict":
		var args struct {
			SID string `json:"sid"`
		}
		if err := unmarshalArgs(env.Args, &args); err != nil {
			return nil, err
		}
		s.kern.Evict(args.SID)
		return json.Marshal(map[string]bool{"ok": true})

	case "count_tokens":
		var args struct {
			Text string `json:"text"`
		}
		if err := unmarshalArgs(env.Args, &args); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]int{"tokens": s.kern.CountTokens(args.Text)})

	default:
		return nil, fmt.Errorf("unknown method %q", env.Method)
	}
}

// handleDecodeStream runs a streamed decode, forwarding each delta as a
// stream_chunk envelope and terminating with exactly one
// stream_done/stream_error frame, matching internal/pool/stream.go's
// expectations.
func (s *server) handleDecodeStream(env transport.Envelope) {
	var args struct {
		SID    string                `json:"sid"`
		Params kernel.SamplingParams `json:"params"`
	}
	if err := unmarshalArgs(env.Args, &args); err != nil {
		s.send(streamErrorEnvelope(env.ID, err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.registerCancel(env.ID, cancel)
	defer s.unregisterCancel(env.ID)
	defer cancel()

	events, streamCancel, err := s.kern.DecodeStream(ctx, args.SID, args.Params)
	if err != nil {
		s.send(streamErrorEnvelope(env.ID, err))
		return
	}
	defer streamCancel()

	for ev := range events {
		value, err := json.Marshal(ev)
		if err != nil {
			s.send(streamErrorEnvelope(env.ID, err))
			return
		}
		switch ev.Event {
		case kernel.EventDelta:
			s.send(transport.Envelope{ID: env.ID, Kind: transport.KindStreamChunk, Value: value})
		case kernel.EventDone:
			s.send(transport.Envelope{ID: env.ID, Kind: transport.KindStreamDone, Value: value})
		case kernel.EventError:
			s.send(transport.Envelope{ID: env.ID, Kind: transport.KindStreamError, ErrMsg: ev.Error, ErrTrace: ev.Traceback})
		}
	}
}

func unmarshalArgs(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshal args: %w", err)
	}
	return nil
}

func errorEnvelope(id uint64, err error) transport.Envelope {
	return transport.Envelope{
		ID:      id,
		Kind:    transport.KindError,
		ErrType: errorKind(err),
		ErrMsg:  err.Error(),
	}
}

func streamErrorEnvelope(id uint64, err error) transport.Envelope {
	return transport.Envelope{
		ID:      id,
		Kind:    transport.KindStreamError,
		ErrType: errorKind(err),
		ErrMsg:  err.Error(),
	}
}

// errorKind derives a coarse exception type name from the error text,
// since this stand-in kernel returns plain errors rather than a typed
// exception hierarchy; a real model runtime would report its own
// exception class here.
func errorKind(err error) string {
	msg := err.Error()
	if strings.Contains(msg, "not found") {
		return "SessionNotFoundError"
	}
	return "RuntimeError"
}
