// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package summarize implements the summarisation kernel: narrative
// summaries and short titles produced from a conversation history,
// installed either shared on worker 0 (reusing the main model) or on a
// dedicated worker with its own smaller model (see internal/pool's
// RoleSummarizer).
package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/localinfer/enginectl/internal/kernel"
	"github.com/localinfer/enginectl/internal/pool"
)

const (
	charsPerToken = 3.5

	narrativeSystemPrompt = "You are a precise note-taker. Summarise the conversation below " +
		"factually and concisely, covering: the user's intent, decisions made, " +
		"open questions, and constraints. Do not add commentary or opinions."

	titleSystemPrompt = "Produce a short title (at most a few words) for the conversation " +
		"below. Respond with the title only, no punctuation at the end."
)

// Result is the shape returned by summarize and suggest_title, per §4.E
// and §6's kernel JSON shapes.
type Result struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

// Client drives the summariser kernel installed by the pool, over the
// same RPC path as every other kernel call.
type Client struct {
	p *pool.Pool
}

// New wraps p; Summarize/SuggestTitle always target p.SummarizerHandle().
func New(p *pool.Pool) *Client {
	return &Client{p: p}
}

// Summarize truncates the formatted history to at most half the context
// window (by the chars/token estimate), prepends the fixed narrative
// system prompt, and calls the model at low temperature. Returned
// {narrative_summary, metadata}. Any <think> content is stripped.
func (c *Client) Summarize(ctx context.Context, contextSize int, history []kernel.Message, maxTokens int) (Result, error) {
	return c.run(ctx, contextSize, history, maxTokens, narrativeSystemPrompt, false)
}

// SuggestTitle is the same shape with a tighter prompt (max_tokens≈24)
// and trims trailing punctuation from the result.
func (c *Client) SuggestTitle(ctx context.Context, contextSize int, history []kernel.Message, maxTokens int) (Result, error) {
	if maxTokens <= 0 {
		maxTokens = 24
	}
	return c.run(ctx, contextSize, history, maxTokens, titleSystemPrompt, true)
}

func (c *Client) run(ctx context.Context, contextSize int, history []kernel.Message, maxTokens int, systemPrompt string, isTitle bool) (Result, error) {
	formatted := formatHistory(history)
	budgetChars := int(float64(contextSize) * 0.5 * charsPerToken)
	if budgetChars > 0 && len(formatted) > budgetChars {
		formatted = formatted[len(formatted)-budgetChars:]
	}

	sid := "__summarizer__"
	h := c.p.SummarizerHandle()

	if _, err := c.p.Call(ctx, h, "create_session", createSessionArgs{SID: sid, SystemPrompt: &systemPrompt}); err != nil {
		return Result{}, fmt.Errorf("summariser create_session: %w", err)
	}
	defer c.p.Call(context.Background(), h, "evict", evictArgs{SID: sid})

	params := kernel.SamplingParams{MaxTokens: maxTokens, Temperature: 0.1, TopP: 1, RepeatPenalty: 1.0}
	raw, err := c.p.Call(ctx, h, "complete", completeArgs{SID: sid, Prompt: formatted, Params: params})
	if err != nil {
		return Result{}, fmt.Errorf("summariser complete: %w", err)
	}

	var decoded kernel.DecodeResult
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Result{}, fmt.Errorf("decode summariser response: %w", err)
	}

	text := strings.TrimSpace(decoded.Text)
	if isTitle {
		text = strings.TrimRight(text, ".!?,; \t\n")
	}

	return Result{
		Text: text,
		Metadata: map[string]any{
			"prompt_tokens":     decoded.PromptTokens,
			"completion_tokens": decoded.CompletionTokens,
			"decode_ms":         decoded.DecodeMs,
		},
	}, nil
}

func formatHistory(history []kernel.Message) string {
	var b strings.Builder
	for _, m := range history {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}

type createSessionArgs struct {
	SID          string  `json:"sid"`
	SystemPrompt *string `json:"system_prompt,omitempty"`
}

type evictArgs struct {
	SID string `json:"sid"`
}

type completeArgs struct {
	SID    string                 `json:"sid"`
	Prompt string                 `json:"prompt"`
	Params kernel.SamplingParams `json:"params"`
}
