// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"encoding/json"
	"fmt"

	"github.com/localinfer/enginectl/internal/apperr"
	"github.com/localinfer/enginectl/internal/transport"
)

func marshalArgs(args interface{}) (json.RawMessage, error) {
	if args == nil {
		return nil, nil
	}
	b, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal RPC args: %w", err)
	}
	return b, nil
}

func newRequestEnvelope(id uint64, h Handle, method string, args json.RawMessage) transport.Envelope {
	return transport.Envelope{
		ID:     id,
		Kind:   transport.KindRequest,
		Handle: fmt.Sprintf("%d:%s", h.Worker, h.Object),
		Method: method,
		Args:   args,
	}
}

// decodeEnvelope turns a response envelope into either its decoded value
// (as json.RawMessage, for the caller to unmarshal into a concrete type)
// or a typed *apperr.Error describing the transport/remote fault.
func decodeEnvelope(env transport.Envelope) (interface{}, error) {
	switch env.Kind {
	case transport.KindResponse:
		return env.Value, nil
	case transport.KindError:
		return nil, apperr.PythonException(env.ErrType, env.ErrMsg, env.ErrTrace)
	default:
		return nil, fmt.Errorf("unexpected envelope kind %q for a non-streaming call", env.Kind)
	}
}
