// Copyright (C) 2026 CoRATES (dev@corates.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/corates/docsync/services/docsync/actor"
	"github.com/corates/docsync/services/docsync/auth"
	"github.com/corates/docsync/services/docsync/handlers"
	"github.com/corates/docsync/services/docsync/middleware"
)

// SetupRoutes registers the engine's HTTP surface: liveness, metrics, the
// realtime document socket, and (dev builds only) the debug inspection group.
func SetupRoutes(router *gin.Engine, m *actor.Manager, provider auth.Provider,
	resolver auth.MembershipResolver) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		projects := v1.Group("/projects")
		projects.Use(middleware.RequireIdentity(provider))
		{
			projects.GET("/:projectId/doc/ws", handlers.ProjectDocWebSocket(m, resolver))
		}
	}

	debug := router.Group("/debug")
	handlers.RegisterDebugRoutes(debug, m)
}
