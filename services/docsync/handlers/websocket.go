// Copyright (C) 2026 CoRATES (dev@corates.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers contains the HTTP handlers of the document engine:
// the realtime WebSocket endpoint, health, and the dev-only debug
// surface.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/corates/docsync/services/docsync/actor"
	"github.com/corates/docsync/services/docsync/auth"
	"github.com/corates/docsync/services/docsync/crdt"
	"github.com/corates/docsync/services/docsync/datatypes"
	"github.com/corates/docsync/services/docsync/middleware"
)

const (
	// maxFrameSize bounds incoming wire frames.
	maxFrameSize = 10 * 1024 * 1024

	// pongWait is how long a connection may stay silent before the
	// read loop gives up on it; pings go out at a third of that.
	pongWait     = 60 * time.Second
	pingInterval = pongWait / 3
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Cross-origin policy is enforced by the fronting CRUD layer.
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// ProjectDocWebSocket serves the realtime endpoint for one project's
// document.
//
// Description:
//
//	Requires a resolved identity (middleware.RequireIdentity) and
//	current project membership. Membership is checked before the
//	upgrade so non-members get a clean 403 with a machine-readable
//	reason, and re-checked by the manager at registration time since
//	it can change mid-handshake. After the upgrade the handler runs
//	the read loop: every incoming update frame is applied through the
//	project's actor, and a ping keepalive rides alongside.
func ProjectDocWebSocket(m *actor.Manager, resolver auth.MembershipResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		projectID := c.Param("projectId")
		identity, ok := middleware.GetIdentity(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "no resolvable identity"})
			return
		}

		member, err := resolver.Member(c.Request.Context(), projectID, identity.UserID)
		if err != nil {
			slog.Error("membership check failed",
				"project_id", projectID, "user_id", identity.UserID, "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "membership check unavailable"})
			return
		}
		if !member {
			c.JSON(http.StatusForbidden, gin.H{"error": "not a project member"})
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("websocket upgrade failed", "project_id", projectID, "error", err)
			return
		}

		session, err := m.Connect(c.Request.Context(), projectID, identity.UserID, ws)
		if err != nil {
			// Membership may have been revoked between the check
			// above and registration.
			if errors.Is(err, auth.ErrNotMember) {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "not a project member"),
					time.Now().Add(time.Second))
			}
			_ = ws.Close()
			return
		}

		readLoop(c, m, session, ws)
	}
}

func readLoop(c *gin.Context, m *actor.Manager, session *actor.Session, ws *websocket.Conn) {
	ctx := c.Request.Context()
	defer func() {
		if err := m.Disconnect(ctx, session); err != nil {
			slog.Warn("disconnect failed", "session_id", session.ID, "error", err)
		}
	}()

	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	stopPings := make(chan struct{})
	defer close(stopPings)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopPings:
				return
			case <-ticker.C:
				deadline := time.Now().Add(5 * time.Second)
				if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			}
		}
	}()

	for {
		messageType, frame, err := ws.ReadMessage()
		if err != nil {
			slog.Info("websocket closed",
				"session_id", session.ID, "error", err.Error())
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		tag, payload, err := datatypes.DecodeFrame(frame)
		if err != nil {
			slog.Warn("discarding bad wire frame",
				"session_id", session.ID, "error", err)
			continue
		}
		if tag != datatypes.MessageUpdate {
			// Clients never legitimately send sync frames.
			continue
		}
		if err := m.ApplyDelta(ctx, session, payload); err != nil {
			if errors.Is(err, crdt.ErrMalformedDelta) {
				// Discard the delta, keep the connection.
				slog.Warn("discarding malformed delta",
					"session_id", session.ID, "error", err)
				continue
			}
			slog.Error("apply delta failed",
				"session_id", session.ID, "error", err)
			return
		}
	}
}
