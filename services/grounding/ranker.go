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

import "sort"

// EvidenceRanker orders and prunes raw retrieval candidates before the
// PolicyGate sees them.
//
// The retrieval backend promises no ordering; the ranker imposes one:
//
//  1. Drop excerpts with empty text.
//  2. Stable sort descending by relevance score (ties keep input order,
//     which keeps the whole pipeline deterministic).
//  3. Deduplicate by (DocID, ChunkID), keeping the highest-scored copy.
//  4. Tier restriction: if any CRITICAL excerpts exist, keep CRITICAL
//     only; else if any MEDIUM exist, keep MEDIUM only; else keep all.
//     A high-risk match must never be diluted with unrelated low-risk
//     material in the generation context.
//  5. Diversify: at most one excerpt per document in score order, then
//     fill remaining slots with the next-highest unused excerpts.
//
// Select never mutates its input and is idempotent on its own output.
// The ranker is stateless and safe for concurrent use.
type EvidenceRanker struct{}

// NewEvidenceRanker creates a ranker. It carries no configuration today;
// the constructor exists so wiring matches the other pipeline components.
func NewEvidenceRanker() *EvidenceRanker {
	return &EvidenceRanker{}
}

// Select returns the at-most-k excerpts that generation should see.
func (r *EvidenceRanker) Select(candidates []Excerpt, k int) []Excerpt {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}

	// Work on a copy; callers keep their slice untouched.
	pool := make([]Excerpt, 0, len(candidates))
	for _, e := range candidates {
		if e.Text != "" {
			pool = append(pool, e)
		}
	}
	if len(pool) == 0 {
		return nil
	}

	sort.SliceStable(pool, func(i, j int) bool {
		return pool[i].RelevanceScore > pool[j].RelevanceScore
	})

	seen := make(map[ExcerptKey]bool, len(pool))
	deduped := pool[:0]
	for _, e := range pool {
		if seen[e.Key()] {
			continue
		}
		seen[e.Key()] = true
		deduped = append(deduped, e)
	}

	pool = restrictToTopTier(deduped)
	return diversify(pool, k)
}

// restrictToTopTier keeps only the highest tier present in the pool.
// LOW-only pools pass through unchanged.
func restrictToTopTier(pool []Excerpt) []Excerpt {
	top := MaxRiskTier(pool)
	if top == TierLow {
		return pool
	}
	out := make([]Excerpt, 0, len(pool))
	for _, e := range pool {
		if e.RiskTier == top {
			out = append(out, e)
		}
	}
	return out
}

// diversify greedily takes at most one excerpt per DocID in score order,
// then fills any remaining slots with the next-highest unused excerpts,
// allowing repeated documents.
func diversify(pool []Excerpt, k int) []Excerpt {
	if len(pool) == 0 {
		return nil
	}

	out := make([]Excerpt, 0, k)
	used := make(map[ExcerptKey]bool, k)
	docTaken := make(map[string]bool)

	for _, e := range pool {
		if len(out) >= k {
			break
		}
		if docTaken[e.DocID] {
			continue
		}
		docTaken[e.DocID] = true
		used[e.Key()] = true
		out = append(out, e)
	}

	for _, e := range pool {
		if len(out) >= k {
			break
		}
		if used[e.Key()] {
			continue
		}
		used[e.Key()] = true
		out = append(out, e)
	}
	return out
}
