// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/AleutianAI/AleutianSOP/services/grounding"
	"github.com/AleutianAI/AleutianSOP/services/orchestrator/datatypes"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// retrievalTracer is the OpenTelemetry tracer for retrieval operations.
var retrievalTracer = otel.Tracer("aleutian.orchestrator.services.retrieval")

// Compile-time interface implementation check.
var _ Retriever = (*WeaviateRetriever)(nil)

// Retriever defines the contract for fetching candidate SOP excerpts for
// a question. The pipeline treats retrieval as a black box: whatever comes
// back is re-ranked, deduplicated and policy-gated before it influences an
// answer, so implementations do not need to be precise, only recall-y.
//
// Implementations must be safe for concurrent use.
type Retriever interface {
	// Retrieve returns up to limit candidate excerpts for the question.
	// An empty result is not an error; the gate turns it into a refusal.
	Retrieve(ctx context.Context, question string, limit int) ([]grounding.Excerpt, error)
}

// WeaviateRetriever retrieves SOP chunks from the SOPChunk class using
// BM25 keyword search over the chunk content.
//
// BM25 rather than vector search keeps the whole pipeline deterministic
// and auditable: the same question against the same corpus always yields
// the same candidates, which the policy tests rely on.
type WeaviateRetriever struct {
	client *weaviate.Client
}

// NewWeaviateRetriever creates a retriever over the given client.
// The client must not be nil.
func NewWeaviateRetriever(client *weaviate.Client) *WeaviateRetriever {
	return &WeaviateRetriever{client: client}
}

// Retrieve implements the Retriever interface.
func (r *WeaviateRetriever) Retrieve(ctx context.Context, question string, limit int) ([]grounding.Excerpt, error) {
	ctx, span := retrievalTracer.Start(ctx, "WeaviateRetriever.Retrieve")
	defer span.End()
	span.SetAttributes(attribute.Int("retrieval.limit", limit))

	if limit <= 0 {
		return nil, nil
	}

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "doc_id"},
		{Name: "doc_name"},
		{Name: "chunk_id"},
		{Name: "topic"},
		{Name: "risk_tier"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}, {Name: "score"}}},
	}

	bm25 := r.client.GraphQL().Bm25ArgBuilder().
		WithQuery(question).
		WithProperties("content")

	result, err := r.client.GraphQL().Get().
		WithClassName("SOPChunk").
		WithBM25(bm25).
		WithLimit(limit).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("failed to query Weaviate for SOP chunks", "error", err)
		return nil, fmt.Errorf("query SOP chunks: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.SOPChunkQueryResponse](result)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("parse SOP chunk response: %w", err)
	}

	excerpts := make([]grounding.Excerpt, 0, len(parsed.Get.SOPChunk))
	for _, chunk := range parsed.Get.SOPChunk {
		chunkID := 0
		if chunk.ChunkID != nil {
			chunkID = *chunk.ChunkID
		}
		// Weaviate returns BM25 scores as strings in _additional.
		score, perr := strconv.ParseFloat(chunk.Additional.Score, 64)
		if perr != nil {
			score = 0
		}
		excerpts = append(excerpts, grounding.Excerpt{
			DocID:          chunk.DocID,
			DocName:        chunk.DocName,
			ChunkID:        chunkID,
			Text:           chunk.Content,
			Topic:          chunk.Topic,
			RiskTier:       grounding.ParseRiskTier(chunk.RiskTier),
			RelevanceScore: score,
		})
	}

	span.SetAttributes(attribute.Int("retrieval.candidates", len(excerpts)))
	return excerpts, nil
}

// EmptyRetriever serves lightweight mode: no vector store is configured,
// so every question retrieves nothing and the gate refuses or downgrades
// to advice on its own.
type EmptyRetriever struct{}

// NewEmptyRetriever creates a retriever that always returns no excerpts.
func NewEmptyRetriever() *EmptyRetriever {
	return &EmptyRetriever{}
}

var _ Retriever = (*EmptyRetriever)(nil)

// Retrieve returns an empty excerpt slice.
func (r *EmptyRetriever) Retrieve(_ context.Context, _ string, _ int) ([]grounding.Excerpt, error) {
	return []grounding.Excerpt{}, nil
}
