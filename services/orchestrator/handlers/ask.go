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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianSOP/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianSOP/services/orchestrator/services"
)

var askTracer = otel.Tracer("aleutian.orchestrator.handlers")

// HandleAsk answers an SOP question through the policy-gated pipeline.
//
// POST /v1/sop/ask
//
// Request body: datatypes.AskRequest
// Response: datatypes.AskResponse (refusals are 200s with refused policy,
// not errors; only malformed requests and infrastructure failures map to
// 4xx/5xx).
func HandleAsk(pipeline *services.SOPPipelineService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := askTracer.Start(c.Request.Context(), "HandleAsk")
		defer span.End()

		var request datatypes.AskRequest
		if err := c.BindJSON(&request); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to bind ask request JSON", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		resp, err := pipeline.Ask(ctx, &request)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if datatypes.IsValidationError(err) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			// Retrieval/LLM failures are upstream problems, not ours.
			slog.Error("Pipeline failed", "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "Pipeline failed"})
			return
		}

		span.SetAttributes(
			attribute.String("request_id", resp.RequestId),
			attribute.String("mode", string(resp.Policy.Mode)),
			attribute.Bool("grounded", resp.Grounded),
		)
		c.JSON(http.StatusOK, resp)
	}
}
