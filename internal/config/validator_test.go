// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidator_RequiresModelPath(t *testing.T) {
	cfg := &Config{}
	err := NewValidator().Validate(cfg)
	assert.Error(t, err)
	verr, ok := err.(*ValidationError)
	assert.True(t, ok)
	found := false
	for _, fe := range verr.Errors {
		if fe.Field == "engine.model_path" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidator_ValidConfig(t *testing.T) {
	cfg := &Config{
		Engine: EngineConfig{
			ModelPath:            "/models/llama.gguf",
			ContextSize:          4096,
			WorkerCount:          2,
			MaxSessionsPerWorker: 8,
		},
		Server: ServerConfig{Port: 8700},
	}
	err := NewValidator().Validate(cfg)
	assert.NoError(t, err)
}

func TestValidator_RejectsTinySharedMemorySlot(t *testing.T) {
	cfg := &Config{
		Engine: EngineConfig{
			ModelPath:            "/models/llama.gguf",
			WorkerCount:          1,
			MaxSessionsPerWorker: 1,
			UseSharedMemory:      true,
			SharedMemorySlotSize: 2,
		},
	}
	err := NewValidator().Validate(cfg)
	assert.Error(t, err)
}
