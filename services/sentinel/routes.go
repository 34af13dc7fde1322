// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sentinel

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all Sentinel routes with the router.
//
// Description:
//
//	Registers all /v1/sentinel/* endpoints with the given Gin router
//	group. The router group should already have any required middleware
//	applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Report Endpoints:
//
//	POST /v1/sentinel/reports - Submit a question, start a run
//	GET  /v1/sentinel/reports/:id - Get run status and report
//	POST /v1/sentinel/reports/:id/abort - Abort a running session
//	GET  /v1/sentinel/reports/:id/events - Stream run events (WebSocket)
//
// Aggregate Endpoints:
//
//	GET  /v1/sentinel/aggregates/daily - Per-day case counts
//	GET  /v1/sentinel/aggregates/monthly - Per-month case counts
//
// Introspection Endpoints:
//
//	GET  /v1/sentinel/tools - Tool schemas offered to the model
//	GET  /v1/sentinel/health - Health check
//
// Example:
//
//	svc := sentinel.NewService(cfg, schema, cases, runner, tools)
//	handlers := sentinel.NewHandlers(svc)
//
//	v1 := router.Group("/v1")
//	sentinel.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	RegisterRoutesWithMiddleware(rg, handlers, nil)
}

// RegisterRoutesWithMiddleware registers Sentinel routes with optional middleware.
//
// Description:
//
//	Same as RegisterRoutes but allows applying middleware (e.g., auth or
//	rate limiting) to all Sentinel endpoints. If middleware is nil, no
//	additional middleware is applied.
//
// Inputs:
//
//	rg - The router group to register routes under.
//	handlers - The handlers instance.
//	middleware - Optional middleware for all Sentinel routes. Can be nil.
//
// Thread Safety: This function is safe for concurrent use.
func RegisterRoutesWithMiddleware(rg *gin.RouterGroup, handlers *Handlers, middleware gin.HandlerFunc) {
	var sentinel *gin.RouterGroup
	if middleware != nil {
		sentinel = rg.Group("/sentinel", middleware)
	} else {
		sentinel = rg.Group("/sentinel")
	}
	{
		// Run lifecycle
		sentinel.POST("/reports", handlers.HandleRunReport)
		sentinel.GET("/reports/:id", handlers.HandleRunStatus)
		sentinel.POST("/reports/:id/abort", handlers.HandleAbortRun)
		sentinel.GET("/reports/:id/events", handlers.HandleRunEvents)

		// Dashboard aggregates
		aggregates := sentinel.Group("/aggregates")
		{
			aggregates.GET("/daily", handlers.HandleDailyAggregates)
			aggregates.GET("/monthly", handlers.HandleMonthlyAggregates)
		}

		// Introspection
		sentinel.GET("/tools", handlers.HandleListTools)
		sentinel.GET("/health", handlers.HandleHealth)
	}
}
