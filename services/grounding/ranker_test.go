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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func excerpt(docID string, chunkID int, text string, tier RiskTier, score float64) Excerpt {
	return Excerpt{
		DocID:          docID,
		DocName:        "Doc " + docID,
		ChunkID:        chunkID,
		Text:           text,
		RiskTier:       tier,
		RelevanceScore: score,
	}
}

// TestSelect_DropsEmptyText tests that excerpts with empty text never
// reach the output.
func TestSelect_DropsEmptyText(t *testing.T) {
	r := NewEvidenceRanker()

	out := r.Select([]Excerpt{
		excerpt("A", 1, "", TierLow, 0.9),
		excerpt("B", 1, "lockout devices", TierLow, 0.5),
	}, 5)

	require.Len(t, out, 1)
	assert.Equal(t, "B", out[0].DocID)
}

// TestSelect_SortsByScoreDescending tests relevance-score ordering with
// stable ties.
func TestSelect_SortsByScoreDescending(t *testing.T) {
	r := NewEvidenceRanker()

	out := r.Select([]Excerpt{
		excerpt("A", 1, "a", TierLow, 0.2),
		excerpt("B", 1, "b", TierLow, 0.9),
		excerpt("C", 1, "c", TierLow, 0.9), // tie with B, must stay after B
		excerpt("D", 1, "d", TierLow, 0.5),
	}, 10)

	require.Len(t, out, 4)
	assert.Equal(t, []string{"B", "C", "D", "A"}, []string{out[0].DocID, out[1].DocID, out[2].DocID, out[3].DocID})
}

// TestSelect_DeduplicatesByIdentity tests that (DocID, ChunkID) pairs
// appear at most once, keeping the highest-scored copy.
func TestSelect_DeduplicatesByIdentity(t *testing.T) {
	r := NewEvidenceRanker()

	out := r.Select([]Excerpt{
		excerpt("A", 1, "low copy", TierLow, 0.3),
		excerpt("A", 1, "high copy", TierLow, 0.8),
		excerpt("A", 2, "other chunk", TierLow, 0.5),
	}, 10)

	require.Len(t, out, 2)
	assert.Equal(t, "high copy", out[0].Text)

	seen := map[ExcerptKey]bool{}
	for _, e := range out {
		assert.False(t, seen[e.Key()], "duplicate identity %v", e.Key())
		seen[e.Key()] = true
	}
}

// TestSelect_CriticalTierExcludesLower tests the tier restriction: any
// CRITICAL excerpt in the candidate set removes all LOW/MEDIUM excerpts
// from the output.
func TestSelect_CriticalTierExcludesLower(t *testing.T) {
	r := NewEvidenceRanker()

	out := r.Select([]Excerpt{
		excerpt("A", 1, "low", TierLow, 0.99),
		excerpt("B", 1, "medium", TierMedium, 0.98),
		excerpt("C", 1, "critical", TierCritical, 0.10),
	}, 10)

	require.Len(t, out, 1)
	assert.Equal(t, TierCritical, out[0].RiskTier)
}

// TestSelect_MediumTierExcludesLow tests the same restriction one tier
// down when no CRITICAL excerpts exist.
func TestSelect_MediumTierExcludesLow(t *testing.T) {
	r := NewEvidenceRanker()

	out := r.Select([]Excerpt{
		excerpt("A", 1, "low", TierLow, 0.99),
		excerpt("B", 1, "medium one", TierMedium, 0.4),
		excerpt("C", 1, "medium two", TierMedium, 0.6),
	}, 10)

	require.Len(t, out, 2)
	for _, e := range out {
		assert.Equal(t, TierMedium, e.RiskTier)
	}
}

// TestSelect_DiversifiesAcrossDocuments tests that with at least k
// distinct documents, the first k results hold at most one excerpt per
// document.
func TestSelect_DiversifiesAcrossDocuments(t *testing.T) {
	r := NewEvidenceRanker()

	out := r.Select([]Excerpt{
		excerpt("A", 1, "a1", TierLow, 0.9),
		excerpt("A", 2, "a2", TierLow, 0.8),
		excerpt("B", 1, "b1", TierLow, 0.7),
		excerpt("C", 1, "c1", TierLow, 0.6),
	}, 3)

	require.Len(t, out, 3)
	docs := map[string]int{}
	for _, e := range out {
		docs[e.DocID]++
	}
	for doc, n := range docs {
		assert.Equal(t, 1, n, "doc %s appears %d times in the first k", doc, n)
	}
}

// TestSelect_FillsRemainingSlotsAfterDiversifying tests that when fewer
// than k distinct documents exist, the remaining slots are filled with
// the next-highest excerpts from already-used documents.
func TestSelect_FillsRemainingSlotsAfterDiversifying(t *testing.T) {
	r := NewEvidenceRanker()

	out := r.Select([]Excerpt{
		excerpt("A", 1, "a1", TierLow, 0.9),
		excerpt("A", 2, "a2", TierLow, 0.8),
		excerpt("B", 1, "b1", TierLow, 0.7),
	}, 3)

	require.Len(t, out, 3)
	assert.Equal(t, "a1", out[0].Text)
	assert.Equal(t, "b1", out[1].Text)
	assert.Equal(t, "a2", out[2].Text)
}

// TestSelect_RespectsK tests the result-length bound.
func TestSelect_RespectsK(t *testing.T) {
	r := NewEvidenceRanker()

	candidates := []Excerpt{
		excerpt("A", 1, "a", TierLow, 0.9),
		excerpt("B", 1, "b", TierLow, 0.8),
		excerpt("C", 1, "c", TierLow, 0.7),
	}
	assert.Len(t, r.Select(candidates, 2), 2)
	assert.Empty(t, r.Select(candidates, 0))
	assert.Empty(t, r.Select(nil, 3))
}

// TestSelect_Idempotent tests that re-ranking an already-ranked,
// already-deduplicated list returns the same list.
func TestSelect_Idempotent(t *testing.T) {
	r := NewEvidenceRanker()

	first := r.Select([]Excerpt{
		excerpt("A", 1, "a1", TierMedium, 0.9),
		excerpt("B", 1, "b1", TierMedium, 0.8),
		excerpt("A", 2, "a2", TierMedium, 0.7),
		excerpt("C", 1, "c1", TierLow, 0.95),
	}, 3)
	second := r.Select(first, 3)

	assert.Equal(t, first, second)
}

// TestSelect_DoesNotMutateInput tests that the caller's slice is left
// untouched.
func TestSelect_DoesNotMutateInput(t *testing.T) {
	r := NewEvidenceRanker()

	in := []Excerpt{
		excerpt("A", 1, "a", TierLow, 0.1),
		excerpt("B", 1, "b", TierLow, 0.9),
	}
	_ = r.Select(in, 2)

	assert.Equal(t, "A", in[0].DocID)
	assert.Equal(t, "B", in[1].DocID)
}
