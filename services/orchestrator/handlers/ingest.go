// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/AleutianSOP/services/grounding"
)

var (
	chunkSize         = 1000
	chunkOverlap      = chunkSize / 10
	defaultSeparators = []string{"\n\n", "\n", " ", ""}

	// SOP documents are usually markdown or numbered-procedure text;
	// splitting on headings keeps one procedure step per chunk.
	markdownSeparators = []string{
		"\n# ", "\n## ", "\n### ", "\n#### ", "\n##### ", "\n###### ",
		"\n\n", "\n", " ", "",
	}
)

// IngestSOPRequest is the body of POST /v1/sop/documents: one SOP
// document to chunk and index. Topic and RiskTier apply to every chunk;
// they come from the document's controlled header, not from the model.
type IngestSOPRequest struct {
	Content  string `json:"content"`
	DocID    string `json:"doc_id"`
	DocName  string `json:"doc_name"`
	Topic    string `json:"topic"`
	RiskTier string `json:"risk_tier"`
}

// IngestSOPDocument chunks an SOP document and batch-imports the chunks
// into the SOPChunk class.
func IngestSOPDocument(client *weaviate.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req IngestSOPRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if strings.TrimSpace(req.Content) == "" || strings.TrimSpace(req.DocID) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "content and doc_id are required"})
			return
		}

		chunksCreated, err := RunSOPIngestion(c.Request.Context(), client, req)
		if err != nil {
			slog.Error("SOP ingestion failed", "doc_id", req.DocID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		slog.Info("Ingested SOP document", "doc_id", req.DocID, "chunks_processed", chunksCreated)
		c.JSON(http.StatusCreated, gin.H{
			"status":           "success",
			"doc_id":           req.DocID,
			"chunks_processed": chunksCreated,
		})
	}
}

// ListSOPDocuments returns the distinct doc_ids in the SOP corpus.
//
// GET /v1/sop/documents
func ListSOPDocuments(client *weaviate.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		agg, err := client.GraphQL().Aggregate().
			WithClassName("SOPChunk").
			WithGroupBy("doc_id").
			Do(c.Request.Context())
		if err != nil {
			slog.Error("Failed to aggregate SOP documents from Weaviate", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query documents"})
			return
		}

		var docList []string
		if agg.Data["Aggregate"] != nil {
			aggMap, ok := agg.Data["Aggregate"].(map[string]interface{})
			if ok && aggMap["SOPChunk"] != nil {
				groups, ok := aggMap["SOPChunk"].([]interface{})
				if ok {
					for _, groupItem := range groups {
						groupMap, ok := groupItem.(map[string]interface{})
						if ok && groupMap["groupedBy"] != nil {
							groupedByMap, ok := groupMap["groupedBy"].(map[string]interface{})
							if ok && groupedByMap["value"] != nil {
								if docID, ok := groupedByMap["value"].(string); ok {
									docList = append(docList, docID)
								}
							}
						}
					}
				}
			}
		}

		c.JSON(http.StatusOK, gin.H{"documents": docList})
	}
}

// DeleteSOPDocument removes every chunk of one doc_id from the corpus.
//
// DELETE /v1/sop/document?doc_id=SOP-014
func DeleteSOPDocument(client *weaviate.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		docID := c.Query("doc_id")
		if docID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "doc_id query parameter is required"})
			return
		}

		where := filters.Where().
			WithPath([]string{"doc_id"}).
			WithOperator(filters.Equal).
			WithValueText(docID)

		resp, err := client.Batch().ObjectsBatchDeleter().
			WithClassName("SOPChunk").
			WithWhere(where).
			Do(c.Request.Context())
		if err != nil {
			slog.Error("Failed to delete SOP document", "doc_id", docID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete document"})
			return
		}

		deleted := int64(0)
		if resp != nil && resp.Results != nil {
			deleted = resp.Results.Successful
		}
		slog.Info("Deleted SOP document", "doc_id", docID, "chunks_deleted", deleted)
		c.JSON(http.StatusOK, gin.H{"doc_id": docID, "chunks_deleted": deleted})
	}
}

// RunSOPIngestion is the reusable chunk-and-import logic. BM25 retrieval
// needs no vectors, so chunks go to Weaviate as plain objects.
func RunSOPIngestion(ctx context.Context, client *weaviate.Client, req IngestSOPRequest) (int, error) {
	splitter := splitterForDoc(req.DocName)

	chunks, err := splitter.SplitText(req.Content)
	if err != nil {
		return 0, fmt.Errorf("failed to split content: %w", err)
	}
	if len(chunks) == 0 {
		slog.Warn("No chunks produced after splitting", "doc_id", req.DocID)
		return 0, nil
	}

	tier := grounding.ParseRiskTier(req.RiskTier)
	docName := req.DocName
	if docName == "" {
		docName = req.DocID
	}

	objects := make([]*models.Object, len(chunks))
	for i, chunk := range chunks {
		// Deterministic IDs make re-ingestion of a revised SOP an
		// upsert instead of a duplicate.
		hash := sha256.Sum256([]byte(req.DocID + chunk))
		chunkUUID, _ := uuid.FromBytes(hash[:16])

		objects[i] = &models.Object{
			Class: "SOPChunk",
			ID:    strfmt.UUID(chunkUUID.String()),
			Properties: map[string]interface{}{
				"content":     chunk,
				"doc_id":      req.DocID,
				"doc_name":    docName,
				"chunk_id":    i + 1,
				"topic":       req.Topic,
				"risk_tier":   string(tier),
				"ingested_at": time.Now().UnixMilli(),
			},
		}
	}

	resp, err := client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to save chunks to Weaviate: %w", err)
	}

	chunksCreated := 0
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			chunksCreated++
			continue
		}
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			for _, errItem := range item.Result.Errors.Error {
				slog.Warn("Error in Weaviate batch item", "doc_id", req.DocID, "error", errItem.Message)
			}
		} else {
			slog.Warn("Failed Weaviate batch item, no error provided", "doc_id", req.DocID)
		}
	}

	return chunksCreated, nil
}

func splitterForDoc(docName string) textsplitter.TextSplitter {
	seps := defaultSeparators
	if filepath.Ext(docName) == ".md" {
		seps = markdownSeparators
	}
	return textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
		textsplitter.WithSeparators(seps),
	)
}
