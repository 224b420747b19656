// Copyright (C) 2026 CoRATES (dev@corates.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

//go:build dev

package handlers

import (
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/corates/docsync/services/docsync/actor"
	"github.com/corates/docsync/services/docsync/datatypes"
)

// DebugRoutesEnabled reports whether the debug surface is compiled in.
const DebugRoutesEnabled = true

type patchRequest struct {
	Path   []string `json:"path" binding:"required,min=1"`
	Value  any      `json:"value"`
	Remove bool     `json:"remove"`
}

// RegisterDebugRoutes mounts the document inspection surface. Only compiled
// under the dev build tag; production binaries get the no-op variant.
func RegisterDebugRoutes(g *gin.RouterGroup, m *actor.Manager) {
	g.GET("/projects/:projectId/doc/export", func(c *gin.Context) {
		doc, err := m.Export(c.Request.Context(), c.Param("projectId"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, doc)
	})

	g.POST("/projects/:projectId/doc/import", func(c *gin.Context) {
		var doc datatypes.ProjectDocument
		if err := c.ShouldBindJSON(&doc); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		replace := c.Query("mode") != "merge"
		if err := m.Import(c.Request.Context(), c.Param("projectId"), doc, replace); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "imported", "replace": replace})
	})

	g.POST("/projects/:projectId/doc/patch", func(c *gin.Context) {
		var req patchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := m.Patch(c.Request.Context(), c.Param("projectId"), req.Path, req.Value, req.Remove); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "patched"})
	})

	g.POST("/projects/:projectId/doc/reset", func(c *gin.Context) {
		if err := m.Reset(c.Request.Context(), c.Param("projectId")); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "reset"})
	})

	g.GET("/projects/:projectId/doc/dump", func(c *gin.Context) {
		raw, err := m.Dump(c.Request.Context(), c.Param("projectId"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"encoding": "base64",
			"state":    base64.StdEncoding.EncodeToString(raw),
		})
	})
}
