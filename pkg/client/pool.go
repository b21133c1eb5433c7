// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// PoolClient provides access to worker-pool health and per-session
// context-window introspection (§4.B, §4.D).
type PoolClient struct {
	c *Client
}

// Health returns the current state of every worker process in the pool.
func (p *PoolClient) Health(ctx context.Context) ([]WorkerStatus, error) {
	data, err := p.c.get(ctx, "/v1/pool/health")
	if err != nil {
		return nil, err
	}
	var resp struct {
		Workers []WorkerStatus `json:"workers"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse pool health: %w", err)
	}
	return resp.Workers, nil
}

// ContextWindow returns a session's context-wind monitor snapshot:
// current utilisation and its threshold-crossing history.
func (p *PoolClient) ContextWindow(ctx context.Context, sid string) (*ContextWindow, error) {
	data, err := p.c.get(ctx, "/v1/sessions/"+url.PathEscape(sid)+"/context_window")
	if err != nil {
		return nil, err
	}
	var cw ContextWindow
	if err := json.Unmarshal(data, &cw); err != nil {
		return nil, fmt.Errorf("failed to parse context window: %w", err)
	}
	return &cw, nil
}
