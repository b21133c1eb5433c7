// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"
)

// Validator validates configuration against schema rules.
type Validator struct{}

// NewValidator creates a new config validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidationError contains multiple validation failures.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single field validation error.
type FieldError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	var msgs []string
	for _, fe := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return strings.Join(msgs, "; ")
}

// IsEmpty returns true if there are no validation errors.
func (e *ValidationError) IsEmpty() bool {
	return len(e.Errors) == 0
}

// Add adds a field error.
func (e *ValidationError) Add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

// Validate checks configuration validity.
func (v *Validator) Validate(cfg *Config) error {
	errs := &ValidationError{}

	v.validateEngine(cfg, errs)
	v.validateServer(cfg, errs)
	v.validateLogging(cfg, errs)

	if errs.IsEmpty() {
		return nil
	}
	return errs
}

func (v *Validator) validateEngine(cfg *Config, errs *ValidationError) {
	e := cfg.Engine
	if e.ModelPath == "" {
		errs.Add("engine.model_path", "is required")
	}
	if e.ContextSize < 0 {
		errs.Add("engine.context_size", "must be non-negative")
	}
	if e.WorkerCount < 1 {
		errs.Add("engine.worker_count", "must be at least 1")
	}
	if e.MaxSessionsPerWorker < 1 {
		errs.Add("engine.max_sessions_per_worker", "must be at least 1")
	}
	if e.MaxInFlight < 0 {
		errs.Add("engine.max_in_flight", "must be non-negative")
	}
	if e.UseSharedMemory && e.SharedMemorySlotSize <= 4 {
		errs.Add("engine.shared_memory_slot_size", "must be greater than the 4-byte frame header")
	}
	switch e.RestartPolicy {
	case "", "always", "on-failure", "never":
	default:
		errs.Add("engine.restart_policy", fmt.Sprintf("unrecognized policy %q", e.RestartPolicy))
	}
	if e.MaxWorkerRestarts < 0 {
		errs.Add("engine.max_worker_restarts", "must be non-negative")
	}
}

func (v *Validator) validateServer(cfg *Config, errs *ValidationError) {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs.Add("server.port", "must be between 0 and 65535")
	}
}

func (v *Validator) validateLogging(cfg *Config, errs *ValidationError) {
	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs.Add("logging.level", fmt.Sprintf("unrecognized level %q", cfg.Logging.Level))
	}
}
