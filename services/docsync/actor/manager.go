// Copyright (C) 2026 CoRATES (dev@corates.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package actor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/corates/docsync/services/docsync/auth"
	"github.com/corates/docsync/services/docsync/datatypes"
	"github.com/corates/docsync/services/docsync/storage"
)

// actorRetries bounds retries when an operation races actor eviction.
const actorRetries = 3

// Config tunes actor scheduling and persistence.
type Config struct {
	// FlushDebounce is how long after a client mutation the background
	// snapshot flush runs. Further mutations within the window coalesce
	// into the same flush. Default: 2s.
	FlushDebounce time.Duration

	// DrainGrace is how long an actor stays resident after its last
	// session disconnects. A reconnect within the window cancels
	// eviction. Default: 30s.
	DrainGrace time.Duration

	// SessionBuffer is the outbound frame queue depth per session.
	// Default: 64.
	SessionBuffer int

	// WriteTimeout bounds each transport write. Default: 10s.
	WriteTimeout time.Duration

	// Logger for actor lifecycle events. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		FlushDebounce: 2 * time.Second,
		DrainGrace:    30 * time.Second,
		SessionBuffer: 64,
		WriteTimeout:  10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.FlushDebounce <= 0 {
		c.FlushDebounce = def.FlushDebounce
	}
	if c.DrainGrace <= 0 {
		c.DrainGrace = def.DrainGrace
	}
	if c.SessionBuffer <= 0 {
		c.SessionBuffer = def.SessionBuffer
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Manager maps project ids to their document actors and exposes the sync
// RPC surface the CRUD layer calls directly.
//
// Thread Safety: Safe for concurrent use.
type Manager struct {
	cfg      Config
	store    storage.Store
	resolver auth.MembershipResolver

	mu     sync.Mutex
	actors map[string]*Actor
	group  singleflight.Group
	closed bool
}

// NewManager creates a manager over the given snapshot store and
// membership resolver.
func NewManager(store storage.Store, resolver auth.MembershipResolver, cfg Config) *Manager {
	m := &Manager{
		cfg:      cfg.withDefaults(),
		store:    store,
		resolver: resolver,
		actors:   make(map[string]*Actor),
	}
	return m
}

// getOrCreate returns the live actor for a project, creating it if
// needed. Creation is funneled through singleflight so a burst of first
// connections spawns exactly one actor (and therefore one snapshot
// load).
func (m *Manager) getOrCreate(projectID string) (*Actor, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if a, ok := m.actors[projectID]; ok {
		m.mu.Unlock()
		return a, nil
	}
	m.mu.Unlock()

	v, err, _ := m.group.Do(projectID, func() (any, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed {
			return nil, ErrManagerClosed
		}
		if a, ok := m.actors[projectID]; ok {
			return a, nil
		}
		a := newActor(projectID, m.store, m.cfg, m.evict)
		m.actors[projectID] = a
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Actor), nil
}

// evict removes the actor's mapping if it is still current. Called by
// the actor loop; returns false when another actor already took the
// slot.
func (m *Manager) evict(projectID string, a *Actor) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.actors[projectID]; ok && cur == a {
		delete(m.actors, projectID)
		return true
	}
	return false
}

// withActor runs op against the project's actor, retrying when the
// operation races an idle eviction.
func (m *Manager) withActor(projectID string, op func(a *Actor) error) error {
	var err error
	for range actorRetries {
		var a *Actor
		a, err = m.getOrCreate(projectID)
		if err != nil {
			return err
		}
		err = op(a)
		if !errors.Is(err, ErrActorClosed) {
			return err
		}
	}
	return err
}

// -----------------------------------------------------------------------------
// Connections
// -----------------------------------------------------------------------------

// Connect authorizes and registers a realtime connection.
//
// Description:
//
//	Re-validates project membership against the authoritative resolver
//	even though the HTTP layer checked before upgrading: membership can
//	change between handshake initiation and completion, and the answer
//	is never cached. On success the session is registered and its
//	initial full sync frame queued.
//
// Outputs:
//
//	*Session - The live session; the caller owns the read loop.
//	error    - auth.ErrNotMember for unauthorized users (no session is
//	           registered and no load is triggered), or a load failure.
func (m *Manager) Connect(ctx context.Context, projectID, userID string, t Transport) (*Session, error) {
	ok, err := m.resolver.Member(ctx, projectID, userID)
	if err != nil {
		connectionsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if !ok {
		connectionsTotal.WithLabelValues("denied").Inc()
		return nil, auth.ErrNotMember
	}

	var session *Session
	err = m.withActor(projectID, func(a *Actor) error {
		s, err := a.Connect(ctx, userID, t)
		if err != nil {
			return err
		}
		session = s
		return nil
	})
	if err != nil {
		connectionsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	connectionsTotal.WithLabelValues("accepted").Inc()
	return session, nil
}

// Disconnect removes a session after its transport closed.
func (m *Manager) Disconnect(ctx context.Context, s *Session) error {
	err := s.a.Disconnect(ctx, s)
	if errors.Is(err, ErrActorClosed) {
		return nil
	}
	return err
}

// ApplyDelta merges a delta received from a session's transport.
func (m *Manager) ApplyDelta(ctx context.Context, s *Session, delta []byte) error {
	return s.a.ApplyClientDelta(ctx, s, delta)
}

// -----------------------------------------------------------------------------
// Sync RPC surface
// -----------------------------------------------------------------------------

// SyncMember pushes one membership change from the CRUD layer into the
// live document. Returns once the transaction and its persistence write
// complete.
func (m *Manager) SyncMember(ctx context.Context, projectID string, req datatypes.SyncMemberRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return m.withActor(projectID, func(a *Actor) error {
		return a.SyncMember(ctx, req)
	})
}

// SyncProject pushes authoritative project meta and/or a full roster
// replacement into the live document.
func (m *Manager) SyncProject(ctx context.Context, projectID string, req datatypes.SyncProjectRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return m.withActor(projectID, func(a *Actor) error {
		return a.SyncProject(ctx, req)
	})
}

// SyncPdf pushes one attachment change into the live document.
func (m *Manager) SyncPdf(ctx context.Context, projectID string, req datatypes.SyncPdfRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return m.withActor(projectID, func(a *Actor) error {
		return a.SyncPdf(ctx, req)
	})
}

// -----------------------------------------------------------------------------
// Inspection and lifecycle
// -----------------------------------------------------------------------------

// Export materializes a project document. Debug surface.
func (m *Manager) Export(ctx context.Context, projectID string) (datatypes.ProjectDocument, error) {
	var doc datatypes.ProjectDocument
	err := m.withActor(projectID, func(a *Actor) error {
		var e error
		doc, e = a.Export(ctx)
		return e
	})
	return doc, err
}

// Import loads a structured snapshot into a project document. Debug
// surface.
func (m *Manager) Import(ctx context.Context, projectID string, doc datatypes.ProjectDocument, replace bool) error {
	return m.withActor(projectID, func(a *Actor) error {
		return a.Import(ctx, doc, replace)
	})
}

// Patch applies one keyed write or delete. Debug surface.
func (m *Manager) Patch(ctx context.Context, projectID string, path []string, value any, remove bool) error {
	return m.withActor(projectID, func(a *Actor) error {
		return a.Patch(ctx, path, value, remove)
	})
}

// Reset empties a project document. Debug surface.
func (m *Manager) Reset(ctx context.Context, projectID string) error {
	return m.withActor(projectID, func(a *Actor) error {
		return a.Reset(ctx)
	})
}

// Dump returns a project's raw binary state. Debug surface.
func (m *Manager) Dump(ctx context.Context, projectID string) ([]byte, error) {
	var raw []byte
	err := m.withActor(projectID, func(a *Actor) error {
		var e error
		raw, e = a.Dump(ctx)
		return e
	})
	return raw, err
}

// Shutdown flushes and stops every resident actor. The manager accepts
// no further operations afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	live := make([]*Actor, 0, len(m.actors))
	for _, a := range m.actors {
		live = append(live, a)
	}
	m.mu.Unlock()

	var firstErr error
	for _, a := range live {
		if err := a.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
