// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"regexp"
	"strings"

	"github.com/localinfer/enginectl/internal/kernel"
)

// attachmentMarker matches a line starting an attachment block:
// "[Attached file: ...]" or "[Image: ...]".
var attachmentMarker = regexp.MustCompile(`(?m)^\[(Attached file|Image):[^\]]*\]`)

// blankThenCapital matches the blank-line-then-capitalised-word
// terminator for an attachment block's content.
var blankThenCapital = regexp.MustCompile(`\n\s*\n[A-Z]`)

// StripAttachmentBlocks removes every attachment block from text: a
// marker line followed by arbitrary content up to the next marker, a
// blank line followed by a capitalised word, or end of string. It is
// idempotent and leaves non-block content untouched.
func StripAttachmentBlocks(text string) string {
	locs := attachmentMarker.FindAllStringIndex(text, -1)
	if locs == nil {
		return text
	}

	var b strings.Builder
	cursor := 0
	for i, loc := range locs {
		start, markerEnd := loc[0], loc[1]
		b.WriteString(text[cursor:start])

		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		if bl := blankThenCapital.FindStringIndex(text[markerEnd:end]); bl != nil {
			// bl ends just past the capital letter that terminates the
			// block; resume the surviving text at that letter, not at
			// the blank-line separator.
			end = markerEnd + bl[1] - 1
		}
		cursor = end
	}
	b.WriteString(text[cursor:])
	return strings.TrimRight(b.String(), "\n")
}

// StripAttachmentsFromTurns returns a copy of turns with attachment
// blocks stripped from every message's content, used before handing
// history to the narrative summariser (§4.F.7).
func StripAttachmentsFromTurns(turns []kernel.Message) []kernel.Message {
	out := make([]kernel.Message, len(turns))
	for i, m := range turns {
		out[i] = kernel.Message{Role: m.Role, Content: StripAttachmentBlocks(m.Content)}
	}
	return out
}
