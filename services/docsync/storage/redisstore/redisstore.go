// Copyright (C) 2026 CoRATES (dev@corates.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package redisstore implements the snapshot store on Redis, for
// deployments where engine replicas must share snapshot state or where
// durability is delegated to a managed Redis with AOF persistence.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/corates/docsync/services/docsync/storage"
)

// keyPrefix namespaces snapshot blobs in the Redis keyspace.
const keyPrefix = "docsync:snap:"

// Store is the Redis-backed snapshot store.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	client *redis.Client
}

// New creates a store from a Redis URL and verifies connectivity.
func New(redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Store{client: client}, nil
}

// NewWithClient creates a store from an existing Redis client. Used in
// tests and when the client is shared with the membership resolver.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Get implements storage.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", key, err)
	}
	return data, nil
}

// Put implements storage.Store. Snapshots have no TTL; they live until
// overwritten by the next flush.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if err := s.client.Set(ctx, keyPrefix+key, data, 0).Err(); err != nil {
		return fmt.Errorf("put snapshot %s: %w", key, err)
	}
	return nil
}

// Close implements storage.Store.
func (s *Store) Close() error {
	return s.client.Close()
}
