// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"context"
	"fmt"

	"github.com/localinfer/enginectl/internal/apperr"
	"github.com/localinfer/enginectl/internal/transport"
)

// Chunk is one decoded element of a pool-level stream: either a value
// (a stream_chunk frame's Value) or a terminal error.
type Chunk struct {
	Value transport.Envelope
	Err   error
}

// stream opens a streamed RPC and forwards decoded chunks on the
// returned channel until a stream_done/stream_error frame arrives or the
// caller invokes the returned cancel function. It holds callMu for the
// stream's entire lifetime: only one call or stream may be in flight on
// a worker at once, matching the in-worker kernel's single model
// replica. The cancel function MUST be invoked exactly once when stream
// consumption ends, whether by natural completion or early
// cancellation — it both stops the remote generator (best-effort, per
// §5) and releases the worker for the next request.
func (w *worker) stream(ctx context.Context, h Handle, method string, args interface{}) (<-chan Chunk, func(), error) {
	w.callMu.Lock()
	ch, cancel, err := w.streamLocked(ctx, h, method, args)
	if err != nil {
		w.callMu.Unlock()
		return nil, nil, err
	}
	return ch, cancel, nil
}

func (w *worker) streamLocked(ctx context.Context, h Handle, method string, args interface{}) (<-chan Chunk, func(), error) {
	w.connMu.Lock()
	conn := w.conn
	w.connMu.Unlock()
	if conn == nil {
		return nil, nil, fmt.Errorf("worker %d has no connection", w.index)
	}

	id := w.newID()
	in := w.register(id)

	argsJSON, err := marshalArgs(args)
	if err != nil {
		w.unregister(id)
		return nil, nil, err
	}
	if err := conn.Send(newRequestEnvelope(id, h, method, argsJSON)); err != nil {
		w.unregister(id)
		return nil, nil, err
	}

	out := make(chan Chunk, 8)
	streamCtx, cancelCtx := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(out)
		defer close(done)
		defer w.unregister(id)
		for {
			select {
			case env, ok := <-in:
				if !ok {
					emit(out, streamCtx, Chunk{Err: fmt.Errorf("worker %d connection closed mid-stream", w.index)})
					return
				}
				switch env.Kind {
				case transport.KindStreamChunk:
					if !emit(out, streamCtx, Chunk{Value: env}) {
						return
					}
				case transport.KindStreamDone:
					emit(out, streamCtx, Chunk{Value: env})
					return
				case transport.KindStreamError:
					emit(out, streamCtx, Chunk{Err: apperr.PythonException(env.ErrType, env.ErrMsg, env.ErrTrace)})
					return
				default:
					emit(out, streamCtx, Chunk{Err: fmt.Errorf("unexpected envelope kind %q mid-stream", env.Kind)})
					return
				}
			case <-streamCtx.Done():
				return
			}
		}
	}()

	cancelFn := func() {
		cancelCtx()
		select {
		case <-done:
			// Stream already reached a terminal frame; nothing to cancel
			// remotely.
		default:
			_ = conn.Send(transport.Envelope{ID: id, Kind: transport.KindCancel})
			<-done
		}
		w.callMu.Unlock()
	}
	return out, cancelFn, nil
}

// emit delivers c on out unless streamCtx is already cancelled; it
// reports whether the chunk was delivered.
func emit(out chan<- Chunk, streamCtx context.Context, c Chunk) bool {
	select {
	case out <- c:
		return true
	case <-streamCtx.Done():
		return false
	}
}
