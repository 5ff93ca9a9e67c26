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

	"github.com/AleutianAI/TurnGate/services/turngate/handlers"
	"github.com/AleutianAI/TurnGate/services/turngate/middleware"
	"github.com/AleutianAI/TurnGate/services/turngate/policy"
	"github.com/AleutianAI/TurnGate/services/turngate/retrieval"
	"github.com/AleutianAI/TurnGate/services/turngate/telemetry"
	"github.com/AleutianAI/TurnGate/services/turngate/writeback"
)

// Deps carries everything the route table wires into handlers.
type Deps struct {
	Turn      handlers.TurnHandler
	Weaviate  *weaviate.Client
	Router    *retrieval.Router
	Inventory *retrieval.Inventory
	Policy    *policy.Engine
	Recorder  *telemetry.Recorder
	Packs     writeback.StatePackRepository
	Limiter   *middleware.ConversationLimiter
}

// SetupRoutes registers the service's HTTP surface.
func SetupRoutes(router *gin.Engine, d Deps) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.Use(middleware.EvidenceMiddleware())
	{
		turn := v1.Group("")
		turn.Use(middleware.RateLimitMiddleware(d.Limiter))
		turn.POST("/turn", d.Turn.HandleTurn)

		v1.POST("/documents", handlers.CreateDocument(d.Weaviate, d.Router, d.Policy))
		v1.GET("/stores/:storeId/documents", handlers.ListStoreDocuments(d.Inventory))

		inspect := v1.Group("/inspect")
		{
			inspect.GET("/turns/:turnId/taps", handlers.InspectTurnTaps(d.Recorder))
			inspect.GET("/conversations/:conversationId/statepack", handlers.InspectStatePack(d.Packs))
			inspect.GET("/ws", handlers.InspectTapFeed(d.Recorder))
		}
	}
}
