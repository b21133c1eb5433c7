// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config handles HJSON configuration loading for the engine.
package config

// Config is the root configuration structure for the engine.
type Config struct {
	Version string        `json:"version"`
	Project ProjectConfig `json:"project"`
	Server  ServerConfig  `json:"server"`
	Engine  EngineConfig  `json:"engine"`
	Events  EventsConfig  `json:"events"`
	Watch   WatchConfig   `json:"watch"`
	Logging LoggingConfig `json:"logging"`
}

// ProjectConfig contains project metadata.
type ProjectConfig struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port    int    `json:"port"`
	Host    string `json:"host"`
	TLSCert string `json:"tls_cert"`
	TLSKey  string `json:"tls_key"`
}

// EngineConfig configures the inference engine: model paths, the worker
// pool shape, and the transport mode. This is the inference configuration
// value type of the control-plane data model.
type EngineConfig struct {
	ModelPath               string `json:"model_path"`
	SummarizerModelPath     string `json:"summarizer_model_path"`
	ContextSize             int    `json:"context_size"`
	NGPULayers              int    `json:"n_gpu_layers"`
	WorkerCount             int    `json:"worker_count"`
	MaxSessionsPerWorker    int    `json:"max_sessions_per_worker"`
	MaxMemoryBytesPerWorker int64  `json:"max_memory_bytes_per_worker"`
	MaxInFlight             int    `json:"max_in_flight"`
	BlasThreads             int    `json:"blas_threads"`
	UseSharedMemory         bool   `json:"use_shared_memory"`
	SharedMemorySlotSize    int    `json:"shared_memory_slot_size"`
	WorkerExecutablePath    string `json:"worker_executable_path"`
	VenvPath                string `json:"venv_path"`
	// IdleSweepInterval controls how often the daemon's background
	// sweep calls evict_lru; zero disables the sweep.
	IdleSweepInterval string `json:"idle_sweep_interval"`
	IdleSweepKeepMax  int    `json:"idle_sweep_keep_max"`
	// RestartPolicy governs whether a crashed worker process is
	// automatically respawned: "always", "on-failure" (non-zero exit
	// only), or "never".
	RestartPolicy     string `json:"restart_policy"`
	MaxWorkerRestarts int    `json:"max_worker_restarts"`
	RestartDelay      string `json:"restart_delay"`
}

// EventsConfig configures event history retention.
type EventsConfig struct {
	History HistoryConfig `json:"history"`
}

// HistoryConfig configures event history retention.
type HistoryConfig struct {
	MaxEvents int    `json:"max_events"`
	MaxAge    string `json:"max_age"`
}

// WatchConfig configures file watching of the worker executable.
type WatchConfig struct {
	Debounce          string `json:"debounce"`
	WatchWorkerBinary bool   `json:"watch_worker_binary"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level  string `json:"level"`  // "debug", "info", "warn", "error"
	Format string `json:"format"` // "json", "text"
}
