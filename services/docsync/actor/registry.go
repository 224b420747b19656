// Copyright (C) 2026 CoRATES (dev@corates.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package actor

// Registry tracks the live sessions of one project actor.
//
// Thread Safety: NOT safe for concurrent use. Exclusively owned by the
// actor goroutine; the actor's serialized mailbox is the lock.
type Registry struct {
	sessions map[string]*Session
}

func newRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// register adds a session.
func (r *Registry) register(s *Session) {
	r.sessions[s.ID] = s
}

// unregister removes a session.
//
// Outputs:
//
//	bool - False if the session was already removed (disconnect paths
//	       can race between member-removal and transport close).
func (r *Registry) unregister(s *Session) bool {
	if _, ok := r.sessions[s.ID]; !ok {
		return false
	}
	delete(r.sessions, s.ID)
	return true
}

// len returns the number of registered sessions.
func (r *Registry) len() int { return len(r.sessions) }

// byUser returns every session bound to the given user.
func (r *Registry) byUser(userID string) []*Session {
	var out []*Session
	for _, s := range r.sessions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out
}

// broadcast enqueues a frame to every registered session except the
// optionally excluded one.
//
// Description:
//
//	Sessions whose transport is not in a sendable state (closed, or
//	with a full outbound buffer) are skipped, not treated as an error;
//	they are returned so the actor can drop them from the registry.
//
// Outputs:
//
//	[]*Session - Sessions that could not accept the frame.
func (r *Registry) broadcast(frame []byte, exclude *Session) []*Session {
	var failed []*Session
	for _, s := range r.sessions {
		if exclude != nil && s.ID == exclude.ID {
			continue
		}
		if !s.enqueue(frame) {
			failed = append(failed, s)
		}
	}
	return failed
}
