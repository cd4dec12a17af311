// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package asyncgen

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RegisterRoutes registers all asyncgen routes with the router.
//
// Description:
//
//	Registers all /v1/asyncgen/* endpoints with the given Gin router group.
//	Every route records HTTP metrics; the analyze endpoint is additionally
//	rate limited according to the service configuration.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	POST   /v1/asyncgen/analyze - Analyze a project
//	GET    /v1/asyncgen/snapshots - List snapshots
//	GET    /v1/asyncgen/snapshots/diff - Compare two snapshots
//	GET    /v1/asyncgen/snapshots/:id - Get a snapshot
//	GET    /v1/asyncgen/snapshots/:id/methods - List the methods of a snapshot
//	DELETE /v1/asyncgen/snapshots/:id - Delete a snapshot
//	GET    /v1/asyncgen/health - Health check
//
// Example:
//
//	svc := asyncgen.NewService(asyncgen.DefaultServiceConfig(), asyncgen.WithSnapshotManager(mgr))
//	v1 := router.Group("/v1")
//	asyncgen.RegisterRoutes(v1, asyncgen.NewHandlers(svc))
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	api := rg.Group("/asyncgen")
	api.Use(MetricsMiddleware())
	{
		cfg := handlers.svc.Config()
		analyze := []gin.HandlerFunc{handlers.HandleAnalyze}
		if cfg.AnalyzeRate > 0 {
			limiter := rate.NewLimiter(rate.Limit(cfg.AnalyzeRate), max(cfg.AnalyzeBurst, 1))
			analyze = append([]gin.HandlerFunc{RateLimitMiddleware(limiter)}, analyze...)
		}
		api.POST("/analyze", analyze...)

		// Diff must be registered before the :id wildcard.
		api.GET("/snapshots/diff", handlers.HandleDiffSnapshots)
		api.GET("/snapshots", handlers.HandleListSnapshots)
		api.GET("/snapshots/:id", handlers.HandleGetSnapshot)
		api.GET("/snapshots/:id/methods", handlers.HandleListMethods)
		api.DELETE("/snapshots/:id", handlers.HandleDeleteSnapshot)

		api.GET("/health", handlers.HandleHealth)
	}
}
