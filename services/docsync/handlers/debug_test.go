// Copyright (C) 2026 CoRATES (dev@corates.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/corates/docsync/services/docsync/actor"
	"github.com/corates/docsync/services/docsync/auth"
	"github.com/corates/docsync/services/docsync/storage"
)

// Compiles under both build variants: the dev tag mounts the inspection
// surface, production binaries must not.
func TestDebugSurfaceMatchesBuildVariant(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := actor.NewManager(storage.NewMemoryStore(), auth.NewStaticResolver(), actor.DefaultConfig())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	router := gin.New()
	RegisterDebugRoutes(router.Group("/debug"), m)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/debug/projects/p1/doc/export", nil)
	router.ServeHTTP(w, req)

	if DebugRoutesEnabled {
		assert.NotEmpty(t, router.Routes())
		assert.Equal(t, http.StatusOK, w.Code)
	} else {
		assert.Empty(t, router.Routes(), "inspection surface must not exist in production builds")
		assert.Equal(t, http.StatusNotFound, w.Code)
	}
}
