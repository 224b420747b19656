// Copyright (C) 2026 CoRATES (dev@corates.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package storage defines the durable snapshot store contract consumed by
// the document engine: one opaque binary blob per project key.
//
// The engine reads a project's blob once at cold start and writes it on
// every committed mutation (debounced while sessions are live, awaited
// when none are). Implementations are shared across actors but the key
// space is partitioned by project, so there is no cross-project
// contention to manage here.
package storage

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by Get when no snapshot exists for a key.
var ErrNotFound = errors.New("snapshot not found")

// Store is the durable key-value collaborator holding one snapshot blob
// per project key.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the snapshot blob for a project key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put durably writes the snapshot blob for a project key. A nil
	// error means the write has landed; callers rely on that for the
	// awaited-persistence path.
	Put(ctx context.Context, key string, data []byte) error

	// Close releases the store's resources.
	Close() error
}

// -----------------------------------------------------------------------------
// In-memory store
// -----------------------------------------------------------------------------

// MemoryStore is a Store held entirely in process memory. Used in tests
// and for ephemeral development runs; nothing survives a restart.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// Put implements Store.
func (s *MemoryStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.mu.Lock()
	s.blobs[key] = cp
	s.mu.Unlock()
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
