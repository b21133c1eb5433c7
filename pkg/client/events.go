// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// EventClient provides access to the control plane's event log.
//
// Events track session/worker/context/memory lifecycle activity (§6).
//
// Access this client through [Client.Events]:
//
//	events, err := client.Events.List(ctx, &client.ListOptions{Limit: 50})
type EventClient struct {
	c *Client
}

// ListOptions configures event listing.
type ListOptions struct {
	// Limit is the maximum number of events to return.
	Limit int

	// Types filters to only these event types (e.g., "session.created").
	Types []string

	// Source filters to events from this originating component
	// ("scheduler", "pool", "monitor", ...).
	Source string

	// Since filters to events after this time.
	Since time.Time

	// Until filters to events before this time.
	Until time.Time
}

// List returns recent events from the event log.
//
// Events are returned in chronological order (oldest first).
func (e *EventClient) List(ctx context.Context, opts *ListOptions) ([]Event, error) {
	path := "/v1/events"

	if opts != nil {
		params := url.Values{}
		if opts.Limit > 0 {
			params.Set("limit", fmt.Sprintf("%d", opts.Limit))
		}
		for _, t := range opts.Types {
			params.Add("type", t)
		}
		if opts.Source != "" {
			params.Set("source", opts.Source)
		}
		if !opts.Since.IsZero() {
			params.Set("since", opts.Since.Format(time.RFC3339))
		}
		if !opts.Until.IsZero() {
			params.Set("until", opts.Until.Format(time.RFC3339))
		}
		if len(params) > 0 {
			path += "?" + params.Encode()
		}
	}

	data, err := e.c.get(ctx, path)
	if err != nil {
		return nil, err
	}

	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("failed to parse events: %w", err)
	}

	return events, nil
}
