// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/AleutianAI/AleutianSOP/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianSOP/services/orchestrator/services"
)

func SetupRoutes(router *gin.Engine, client *weaviate.Client, pipeline *services.SOPPipelineService) {

	router.GET("/health", handlers.HealthCheck(client))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		sop := v1.Group("/sop")
		{
			sop.POST("/ask", handlers.HandleAsk(pipeline))
			sop.GET("/topics", handlers.HandleTopics(pipeline))
			sop.POST("/selftest", handlers.HandleSelfTest(pipeline))
			// Corpus administration needs the vector store.
			if client != nil {
				sop.POST("/documents", handlers.IngestSOPDocument(client))
				sop.GET("/documents", handlers.ListSOPDocuments(client))
				sop.DELETE("/document", handlers.DeleteSOPDocument(client))
			}
		}
	}
}
