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
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
)

// HealthCheck reports service liveness, plus Weaviate readiness when the
// service is wired to one. In lightweight mode (no vector store) the
// client is nil and only liveness is reported.
//
// GET /health
func HealthCheck(client *weaviate.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := gin.H{"status": "ok"}
		if client != nil {
			ready, err := client.Misc().ReadyChecker().Do(c.Request.Context())
			if err != nil || !ready {
				status["status"] = "degraded"
				status["weaviate"] = "unreachable"
				c.JSON(http.StatusServiceUnavailable, status)
				return
			}
			status["weaviate"] = "ready"
		}
		c.JSON(http.StatusOK, status)
	}
}
