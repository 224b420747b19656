// Copyright (C) 2026 CoRATES (dev@corates.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package actor

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Transport is the write side of one realtime connection. Satisfied by
// *websocket.Conn; tests substitute an in-memory fake.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Session is one live realtime connection bound to an authenticated user
// within one project's actor.
//
// # Description
//
// Sessions are created by Actor.Connect and exclusively owned by the
// actor's registry. Outbound frames are queued on a buffered channel and
// written by a dedicated pump goroutine with a bounded write deadline, so
// a slow or dead transport never blocks the actor loop.
//
// Thread Safety: enqueue and Close are safe for concurrent use; all
// other access belongs to the actor goroutine.
type Session struct {
	// ID uniquely identifies the session.
	ID string

	// ProjectID is the owning project.
	ProjectID string

	// UserID is the authenticated user.
	UserID string

	// ConnectedAt is when the session registered (Unix milliseconds UTC).
	ConnectedAt int64

	a         *Actor
	transport Transport
	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newSession(a *Actor, userID string, t Transport, buffer int) *Session {
	return &Session{
		ID:          uuid.NewString(),
		ProjectID:   a.projectID,
		UserID:      userID,
		ConnectedAt: time.Now().UnixMilli(),
		a:           a,
		transport:   t,
		send:        make(chan []byte, buffer),
		closed:      make(chan struct{}),
	}
}

// enqueue hands a frame to the write pump without blocking.
//
// Outputs:
//
//	bool - False when the session is closed or its buffer is full; the
//	       caller treats the transport as not sendable.
func (s *Session) enqueue(frame []byte) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// close tears down the transport. Idempotent.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.transport.Close()
	})
}

// writePump drains the outbound queue onto the transport, applying a
// write deadline per message. Exits on the first write failure or when
// the session closes; the read side observes the closed transport and
// triggers disconnect through the normal path.
func (s *Session) writePump(writeTimeout time.Duration) {
	for {
		select {
		case <-s.closed:
			return
		case frame := <-s.send:
			_ = s.transport.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.transport.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				s.close()
				return
			}
		}
	}
}
