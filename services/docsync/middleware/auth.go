// Copyright (C) 2026 CoRATES (dev@corates.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the document engine.
//
// The identity middleware extracts the caller's session credential
// (bearer token or session cookie), resolves it through the configured
// auth.Provider and stores the resulting Identity in the Gin context for
// downstream handlers. Project membership is NOT checked here; that is
// re-validated per connection attempt by the actor manager.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/corates/docsync/services/docsync/auth"
)

// SessionCookie is the credential cookie set by the surrounding CRUD
// layer.
const SessionCookie = "corates_session"

// identityKey is the gin context key holding the resolved Identity.
const identityKey = "docsync.identity"

// RequireIdentity resolves the request credential and aborts with 401
// when none resolves.
func RequireIdentity(provider auth.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		credential := bearerToken(c.Request)
		if credential == "" {
			if cookie, err := c.Cookie(SessionCookie); err == nil {
				credential = cookie
			}
		}
		identity, err := provider.Validate(c.Request.Context(), credential)
		if err != nil {
			status := http.StatusUnauthorized
			reason := "invalid credential"
			if errors.Is(err, auth.ErrNoIdentity) {
				reason = "no resolvable identity"
			}
			c.AbortWithStatusJSON(status, gin.H{"error": reason})
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

// GetIdentity retrieves the Identity stored by RequireIdentity.
func GetIdentity(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return auth.Identity{}, false
	}
	identity, ok := v.(auth.Identity)
	return identity, ok
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
