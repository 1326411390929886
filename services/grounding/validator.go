// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package grounding

import (
	"regexp"
	"strings"
)

// GroundingValidator is the post-generation check that every claim in a
// produced answer is traceable to an excerpt actually supplied to the LLM.
//
// The contract with generation is a bullet list where each bullet's final
// line ends with a citation tag of the form "[doc_id|doc_name#chunkN]".
// Only tags built from the excerpts handed to generation are allowed; a
// tag referencing anything else, or a bullet with no tag at all, fails
// the whole answer. Partial grounding is not accepted.
//
// The validator is pure pattern-matching and safe for concurrent use.
type GroundingValidator struct{}

// NewGroundingValidator creates a validator.
func NewGroundingValidator() *GroundingValidator {
	return &GroundingValidator{}
}

// ValidationOutcome reports the validator's verdict with enough detail
// for logging. Grounded and DeliberateRefusal are mutually exclusive.
type ValidationOutcome struct {
	// Grounded is true when every bullet carries a valid citation tag.
	Grounded bool

	// DeliberateRefusal is true when the answer equals the cannot-answer
	// sentinel. The LLM declining is expected behavior, not a grounding
	// failure.
	DeliberateRefusal bool

	// BulletCount is the number of bullet blocks found.
	BulletCount int

	// FirstFailure is the tail line of the first failing bullet, kept
	// short for log lines. Empty when Grounded or DeliberateRefusal.
	FirstFailure string
}

// bulletStartPattern recognizes the start of a bullet block: "-", "*",
// "•", or a numbered marker like "3." / "3)". Continuation lines (anything
// else non-empty) belong to the preceding bullet.
var bulletStartPattern = regexp.MustCompile(`^\s*(?:[-*•]\s+|\d+[.)]\s+)`)

// trailingPunctuation may legally follow a citation tag at the end of a
// bullet. Anything else after the tag fails the bullet.
const trailingPunctuation = ".,;:!?)\"'* \t"

// Validate checks answerText against the allowed citation tags.
func (v *GroundingValidator) Validate(answerText string, allowedTags []string) ValidationOutcome {
	if strings.TrimSpace(answerText) == CannotAnswerSentinel {
		return ValidationOutcome{DeliberateRefusal: true}
	}

	blocks := splitBulletBlocks(answerText)
	if len(blocks) == 0 {
		return ValidationOutcome{FirstFailure: "no bullet blocks found"}
	}

	for _, block := range blocks {
		tail := finalNonEmptyLine(block)
		if !endsWithAllowedTag(tail, allowedTags) {
			return ValidationOutcome{
				BulletCount:  len(blocks),
				FirstFailure: truncate(tail, 120),
			}
		}
	}
	return ValidationOutcome{Grounded: true, BulletCount: len(blocks)}
}

// IsFullyGrounded is the boolean form of Validate. A deliberate refusal
// is not grounded; the pipeline handles that case before calling this.
func (v *GroundingValidator) IsFullyGrounded(answerText string, allowedTags []string) bool {
	return v.Validate(answerText, allowedTags).Grounded
}

// splitBulletBlocks groups the answer's lines into bullet blocks. Lines
// before the first bullet marker (a preamble sentence, for instance) are
// not claims and are ignored; an answer consisting only of such lines has
// zero blocks and fails validation upstream.
func splitBulletBlocks(answerText string) [][]string {
	var blocks [][]string
	for _, line := range strings.Split(answerText, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if bulletStartPattern.MatchString(line) {
			blocks = append(blocks, []string{line})
			continue
		}
		if len(blocks) > 0 {
			last := len(blocks) - 1
			blocks[last] = append(blocks[last], line)
		}
	}
	return blocks
}

// finalNonEmptyLine returns the last line of a block. Blocks are built
// from non-empty lines only, so this is the block's tail.
func finalNonEmptyLine(block []string) string {
	if len(block) == 0 {
		return ""
	}
	return block[len(block)-1]
}

// endsWithAllowedTag reports whether the line ends with one of the tags
// verbatim, optionally followed only by punctuation.
func endsWithAllowedTag(line string, allowedTags []string) bool {
	trimmed := strings.TrimRight(line, trailingPunctuation)
	for _, tag := range allowedTags {
		if tag != "" && strings.HasSuffix(trimmed, tag) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
