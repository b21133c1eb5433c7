// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"context"
	"fmt"
	"strings"
)

// Generator is the seam between the session kernel's bookkeeping
// (message log, truncation, token accounting, thinking-split) and the
// actual model runtime, which is out of scope for this module. The
// control plane's responsibility ends at this interface; a real
// implementation loads model weights and runs the transformer, while
// cmd/model-runtime-ref provides a deterministic stand-in for tests and
// local development.
type Generator interface {
	// Generate runs one non-streamed decode over messages and returns the
	// raw model output, think tags included (the kernel performs the
	// thinking-split itself so the policy lives in one place).
	Generate(ctx context.Context, messages []Message, params SamplingParams) (text string, finishReason string, err error)

	// GenerateStream runs one streamed decode, emitting raw text deltas
	// (think tags included) on the returned channel, which is closed when
	// generation ends. ctx cancellation must stop generation promptly.
	GenerateStream(ctx context.Context, messages []Message, params SamplingParams) (<-chan string, error)

	// CountTokens performs exact model tokenisation. Kernels fall back to
	// the chars/3.5 estimate when this returns an error.
	CountTokens(text string) (int, error)
}

// EstimatingGenerator is a deterministic stand-in for a real model
// runtime. It never touches a GPU or loads weights; it echoes a
// synthesized reply long enough to exercise the kernel's truncation and
// token-accounting logic end to end. cmd/model-runtime-ref wires this in
// by default; tests may supply a smaller fake implementing Generator
// directly.
type EstimatingGenerator struct{}

func (EstimatingGenerator) Generate(_ context.Context, messages []Message, params SamplingParams) (string, string, error) {
	last := lastUserContent(messages)
	reply := fmt.Sprintf("<think>considering: %s</think>Acknowledged: %s", truncateForEcho(last), truncateForEcho(last))
	if params.MaxTokens > 0 {
		maxChars := int(float64(params.MaxTokens) * charsPerToken)
		if len(reply) > maxChars && maxChars > 0 {
			reply = reply[:maxChars]
		}
	}
	return reply, "stop", nil
}

func (g EstimatingGenerator) GenerateStream(ctx context.Context, messages []Message, params SamplingParams) (<-chan string, error) {
	text, _, err := g.Generate(ctx, messages, params)
	if err != nil {
		return nil, err
	}
	ch := make(chan string, 1)
	go func() {
		defer close(ch)
		// Emit in small chunks to exercise streaming concatenation
		// properties; a single chunk would trivially satisfy them.
		const chunkSize = 8
		for i := 0; i < len(text); i += chunkSize {
			end := i + chunkSize
			if end > len(text) {
				end = len(text)
			}
			select {
			case ch <- text[i:end]:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (EstimatingGenerator) CountTokens(text string) (int, error) {
	return EstimateTokens(len(text)), nil
}

func lastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

func truncateForEcho(s string) string {
	s = strings.TrimSpace(s)
	const max = 120
	if len(s) > max {
		return s[:max]
	}
	return s
}
