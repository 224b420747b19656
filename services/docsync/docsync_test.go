// Copyright (C) 2026 CoRATES (dev@corates.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package docsync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) Service {
	t.Helper()
	svc, err := New(Config{
		StoreBackend: "memory",
		GinMode:      gin.TestMode,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = svc.Shutdown(context.Background())
	})
	return svc
}

func TestNewRejectsUnknownStoreBackend(t *testing.T) {
	_, err := New(Config{StoreBackend: "cassandra", GinMode: gin.TestMode})
	require.Error(t, err)
}

func TestNewRequiresRedisURLForRedisBackend(t *testing.T) {
	_, err := New(Config{StoreBackend: "redis", GinMode: gin.TestMode})
	require.Error(t, err)
}

func TestOperationalRoutes(t *testing.T) {
	svc := newTestService(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	svc.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/metrics", nil)
	svc.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "docsync_actors_active")
}

func TestRealtimeEndpointRequiresIdentity(t *testing.T) {
	svc := newTestService(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/v1/projects/p1/doc/ws", nil)
	svc.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
