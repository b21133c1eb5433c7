// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package events provides the event bus for the inference control plane.
package events

import (
	"context"
	"time"
)

// Event represents an immutable event record.
type Event struct {
	ID        string                 `json:"id"`
	Version   string                 `json:"version"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"` // originating component: "scheduler", "pool", "monitor", ...
	Payload   map[string]interface{} `json:"payload"`
}

// EventHandler processes received events.
type EventHandler func(ctx context.Context, event Event) error

// SubscriptionID uniquely identifies a subscription.
type SubscriptionID string

// EventFilter for querying event history.
type EventFilter struct {
	Types  []string  // Event types to match (supports wildcards)
	Source string    // Filter by originating component
	Since  time.Time // Events after this time
	Until  time.Time // Events before this time
	Limit  int       // Maximum events to return
}

// EventBus is the core event pub/sub system.
type EventBus interface {
	// Publish emits an event to all matching subscribers.
	Publish(ctx context.Context, event Event) error

	// Subscribe registers a synchronous handler for events matching pattern.
	Subscribe(pattern string, handler EventHandler) (SubscriptionID, error)

	// SubscribeAsync registers an async handler with buffered channel.
	SubscribeAsync(pattern string, handler EventHandler, bufferSize int) (SubscriptionID, error)

	// Unsubscribe removes a subscription.
	Unsubscribe(id SubscriptionID) error

	// History retrieves past events matching filter.
	History(filter EventFilter) ([]Event, error)

	// SetDefaultSource sets the default source tag for events that don't specify one.
	SetDefaultSource(source string)

	// Close shuts down the event bus gracefully.
	Close() error
}

// Event type vocabulary for the control plane.
const (
	// Session lifecycle, published by the scheduler.
	EventSessionCreated  = "session.created"
	EventSessionEvicted  = "session.evicted"
	EventSessionFailed   = "session.failed"
	EventSessionRehydrated = "session.rehydrated"

	// Worker pool lifecycle. The pool publishes ready, crashed and
	// restarted; worker.started is defined but not published.
	EventWorkerStarted = "worker.started"
	EventWorkerReady   = "worker.ready"
	EventWorkerCrashed = "worker.crashed"
	EventWorkerRestarted = "worker.restarted"

	// Context-wind threshold crossing. No component publishes it; crossings
	// are kept in the monitor's per-session history.
	EventContextThresholdCrossed = "context.threshold_crossed"

	// Memory management. Neither is published; a rehydration publishes
	// session.rehydrated instead.
	EventMemorySummarized = "memory.summarized"
	EventMemoryRehydrated = "memory.rehydrated"

	// Worker binary change, published by the watcher.
	EventBinaryChanged = "binary.changed"
)

// RestartTrigger indicates why a worker was restarted.
type RestartTrigger string

const (
	RestartTriggerBinaryChange RestartTrigger = "binary_change"
	RestartTriggerManual       RestartTrigger = "manual"
	RestartTriggerCrash        RestartTrigger = "crash"
)
