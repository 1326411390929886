// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// GetSOPChunkSchema returns the Weaviate class for approved SOP excerpts.
// Chunks are ingested by the document pipeline with their topic and risk
// tier already assigned; the orchestrator only ever reads this class.
func GetSOPChunkSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       "SOPChunk",
		Description: "A chunk of an approved standard operating procedure document.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			Bm25:                   nil,
			CleanupIntervalSeconds: 0,
			IndexNullState:         true,
			IndexPropertyLength:    false,
			IndexTimestamps:        true,
			Stopwords:              nil,
			UsingBlockMaxWAND:      false,
		},
		Properties: []*models.Property{
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The excerpt text.",
				Tokenization: "word",
			},
			{
				Name:            "doc_id",
				DataType:        []string{"text"},
				Description:     "Stable identifier of the source SOP document.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "doc_name",
				DataType:        []string{"text"},
				Description:     "Human-readable document name for citation tags.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "chunk_id",
				DataType:        []string{"int"},
				Description:     "Chunk index within the document.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "topic",
				DataType:        []string{"text"},
				Description:     "Rule-table topic this chunk was tagged with on ingest.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "risk_tier",
				DataType:        []string{"text"},
				Description:     "Risk tier of the procedure (LOW, MEDIUM, CRITICAL).",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "ingested_at",
				DataType:        []string{"number"},
				Description:     "Timestamp (Unix ms) of when the chunk was ingested.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// GetAuditRecordSchema returns the Weaviate class for the pipeline audit
// trail. Every request writes one record.
func GetAuditRecordSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       "AuditRecord",
		Description: "Per-request audit record of the SOP policy pipeline.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "request_id",
				DataType:        []string{"text"},
				Description:     "Unique ID of the request.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "session_id",
				DataType:        []string{"text"},
				Description:     "Session the request belonged to.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "question",
				DataType:     []string{"text"},
				Description:  "The user's question.",
				Tokenization: "word",
			},
			{
				Name:            "topic",
				DataType:        []string{"text"},
				Description:     "Final (post-rescue) topic of the decision.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "risk_tier",
				DataType:        []string{"text"},
				Description:     "Highest risk tier across retrieved excerpts.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "mode",
				DataType:        []string{"text"},
				Description:     "Decision mode: grounded, advice, or refusal.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:        "allow_generation",
				DataType:    []string{"boolean"},
				Description: "Whether the gate allowed generation.",
			},
			{
				Name:        "reason",
				DataType:    []string{"text"},
				Description: "Decision reason, sufficient to reproduce the branch taken.",
			},
			{
				Name:        "grounded",
				DataType:    []string{"boolean"},
				Description: "Whether the final answer passed grounding validation.",
			},
			{
				Name:        "refused",
				DataType:    []string{"boolean"},
				Description: "Whether the user received refusal text.",
			},
			{
				Name:            "guard_category",
				DataType:        []string{"text"},
				Description:     "Guard verdict category (none, injection, smalltalk).",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:        "latency_ms",
				DataType:    []string{"number"},
				Description: "End-to-end request latency in milliseconds.",
			},
			{
				Name:            "timestamp",
				DataType:        []string{"number"},
				Description:     "Timestamp (Unix ms) of the request.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

func EnsureWeaviateSchema(client *weaviate.Client) {
	// A list of functions that return our schema definitions.
	schemaGetters := []func() *models.Class{
		GetSOPChunkSchema,
		GetAuditRecordSchema,
	}

	for _, getSchema := range schemaGetters {
		class := getSchema()
		slog.Info("Checking schema", "class", class.Class)

		// Check if the class already exists.
		_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(context.Background())
		if err != nil {
			// If it doesn't exist, the client returns an error. We can now create it.
			slog.Info("Schema not found, creating it...", "class", class.Class)
			err := client.Schema().ClassCreator().WithClass(class).Do(context.Background())
			if err != nil {
				// If we fail to create it, it's a fatal error.
				log.Fatalf("Failed to create schema for class %s: %v", class.Class, err)
			}
			slog.Info("Successfully created schema", "class", class.Class)
		} else {
			slog.Info("Schema already exists", "class", class.Class)
		}
	}
}

// =============================================================================
// GraphQL Response Parsing
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target
// type. The target type T must have json tags matching the response shape;
// type mismatches produce zero values, not errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// SOPChunkQueryResponse represents the response from querying the SOPChunk
// class.
type SOPChunkQueryResponse struct {
	Get struct {
		SOPChunk []SOPChunkResult `json:"SOPChunk"`
	} `json:"Get"`
}

// SOPChunkResult is a single SOP chunk from a query. BM25 scores come back
// from Weaviate's _additional block as strings.
type SOPChunkResult struct {
	Content    string `json:"content"`
	DocID      string `json:"doc_id"`
	DocName    string `json:"doc_name"`
	ChunkID    *int   `json:"chunk_id"`
	Topic      string `json:"topic"`
	RiskTier   string `json:"risk_tier"`
	Additional struct {
		ID    string `json:"id"`
		Score string `json:"score"`
	} `json:"_additional"`
}
