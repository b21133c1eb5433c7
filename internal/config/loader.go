// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hjson/hjson-go/v4"
)

// Loader handles configuration file loading.
type Loader struct{}

// NewLoader creates a new config loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads and parses the configuration from the given path.
func (l *Loader) Load(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var raw map[string]interface{}
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse hjson: %w", err)
	}

	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert to json: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config with default values applied.
func (l *Loader) LoadWithDefaults(ctx context.Context, path string) (*Config, error) {
	cfg, err := l.Load(ctx, path)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	return cfg, nil
}

// FindConfig searches for a config file in the current directory. It
// looks for engine.hjson first, then engine.json.
func (l *Loader) FindConfig() (string, error) {
	candidates := []string{
		"engine.hjson",
		"engine.json",
	}

	for _, name := range candidates {
		path := filepath.Join(".", name)
		if _, err := os.Stat(path); err == nil {
			abs, err := filepath.Abs(path)
			if err != nil {
				return path, nil
			}
			return abs, nil
		}
	}

	return "", fmt.Errorf("config file not found (looked for engine.hjson, engine.json)")
}

// applyDefaults sets default values for missing config fields, matching
// the defaults named in the engine configuration surface.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8700
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.Watch.Debounce == "" {
		cfg.Watch.Debounce = "100ms"
	}

	if cfg.Events.History.MaxEvents == 0 {
		cfg.Events.History.MaxEvents = 10000
	}
	if cfg.Events.History.MaxAge == "" {
		cfg.Events.History.MaxAge = "1h"
	}

	e := &cfg.Engine
	if e.ContextSize == 0 {
		e.ContextSize = 4096
	}
	if e.NGPULayers == 0 {
		e.NGPULayers = -1
	}
	if e.WorkerCount == 0 {
		e.WorkerCount = 2
	}
	if e.MaxSessionsPerWorker == 0 {
		e.MaxSessionsPerWorker = 8
	}
	if e.MaxInFlight == 0 {
		e.MaxInFlight = 16
	}
	if e.BlasThreads == 0 {
		e.BlasThreads = 1
	}
	if e.SharedMemorySlotSize == 0 {
		e.SharedMemorySlotSize = 65536
	}
	if e.WorkerExecutablePath == "" {
		e.WorkerExecutablePath = "./model-runtime-ref"
	}
	if e.IdleSweepInterval == "" {
		e.IdleSweepInterval = "30s"
	}
	if e.IdleSweepKeepMax == 0 {
		e.IdleSweepKeepMax = e.WorkerCount * e.MaxSessionsPerWorker
	}
	if e.RestartPolicy == "" {
		e.RestartPolicy = "on-failure"
	}
	if e.MaxWorkerRestarts == 0 {
		e.MaxWorkerRestarts = 5
	}
	if e.RestartDelay == "" {
		e.RestartDelay = "2s"
	}
}
