// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"regexp"
	"strings"
)

// closedThinkRe matches every <think>...</think> pair, dot-matches-newline,
// non-greedy so adjacent pairs are extracted individually.
var closedThinkRe = regexp.MustCompile(`(?s)<think>(.*?)</think>`)

const (
	openThinkTag  = "<think>"
	closeThinkTag = "</think>"
)

// SplitThinking extracts every <think>…</think> block from text into a
// separate "thinking" string, handling the three edge cases the model
// runtime is known to produce:
//
//  1. one or more properly closed <think>...</think> blocks;
//  2. an unclosed trailing <think> (the model was cut off mid-thought);
//  3. an orphan closing </think> with no opening tag at all (some model
//     families omit the opening tag entirely).
//
// The returned text contains only the cleaned, published content.
func SplitThinking(text string) (cleaned string, thinking string) {
	if !strings.Contains(text, openThinkTag) {
		if idx := strings.Index(text, closeThinkTag); idx >= 0 {
			return text[idx+len(closeThinkTag):], text[:idx]
		}
		return text, ""
	}

	var thinkParts []string
	remaining := closedThinkRe.ReplaceAllStringFunc(text, func(match string) string {
		groups := closedThinkRe.FindStringSubmatch(match)
		if len(groups) == 2 {
			thinkParts = append(thinkParts, groups[1])
		}
		return ""
	})

	if idx := strings.Index(remaining, openThinkTag); idx >= 0 {
		thinkParts = append(thinkParts, remaining[idx+len(openThinkTag):])
		remaining = remaining[:idx]
	}

	return remaining, strings.Join(thinkParts, "\n\n")
}
