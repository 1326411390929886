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

// stopwords are dropped before computing question/evidence token overlap
// on the general path. The list deliberately includes procedural filler
// ("required", "steps", "procedure") that would otherwise inflate overlap
// on almost any SOP chunk.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "to": true,
	"of": true, "in": true, "on": true, "for": true, "with": true,
	"before": true, "after": true, "during": true, "what": true, "is": true,
	"are": true, "was": true, "were": true, "be": true, "being": true,
	"been": true, "do": true, "does": true, "did": true, "how": true,
	"when": true, "required": true, "requirements": true, "controls": true,
	"steps": true, "procedure": true, "process": true, "like": true,
	"please": true, "must": true, "should": true, "can": true, "could": true,
	"would": true, "your": true, "our": true, "their": true, "it": true,
	"this": true, "that": true,
}

// tokenPattern matches lowercase alphanumeric words, allowing internal
// dashes so terms like "try-start" and "tie-off" survive as one token.
var tokenPattern = regexp.MustCompile(`[a-z0-9]+(?:-[a-z0-9]+)*`)

// minTokenLength filters out short noise tokens ("a", "of", "hv" passes
// through containsAny instead) on the overlap path.
const minTokenLength = 3

func normalize(s string) string {
	return strings.ToLower(s)
}

// tokenize splits text into lowercase tokens, dropping stopwords and
// tokens shorter than minTokenLength. Order follows the input text.
func tokenize(text string) []string {
	toks := tokenPattern.FindAllString(normalize(text), -1)
	out := make([]string, 0, len(toks))
	for _, t := range toks {
		if len(t) >= minTokenLength && !stopwords[t] {
			out = append(out, t)
		}
	}
	return out
}

// uniqueStrings removes duplicates while preserving first-seen order.
func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// containsAny returns the subset of terms present as substrings of text,
// in term order. Matching is case-insensitive; terms are expected to be
// pre-lowercased by the RuleSet.
func containsAny(text string, terms []string) []string {
	t := normalize(text)
	var hits []string
	for _, term := range terms {
		if strings.Contains(t, term) {
			hits = append(hits, term)
		}
	}
	return hits
}

// combinedText joins the text of all excerpts into one lowercase corpus
// for term matching.
func combinedText(excerpts []Excerpt) string {
	parts := make([]string, 0, len(excerpts))
	for _, e := range excerpts {
		parts = append(parts, normalize(e.Text))
	}
	return strings.Join(parts, " ")
}
