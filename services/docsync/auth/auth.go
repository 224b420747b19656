// Copyright (C) 2026 CoRATES (dev@corates.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package auth provides the engine's authorization boundary: resolving a
// caller's identity from its session credential, and re-checking project
// membership against the authoritative source at connection time.
//
// The engine never treats its own live document roster as authoritative.
// Membership can change between handshake initiation and completion, so
// the resolver is consulted on every connection attempt and the answer is
// never cached.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNoIdentity is returned when a request carries no resolvable
	// session credential.
	ErrNoIdentity = errors.New("no resolvable identity")

	// ErrNotMember is the explicit denial for connection attempts by
	// users who are not current project members.
	ErrNotMember = errors.New("not a project member")
)

// Identity is the authenticated caller as established by the surrounding
// request layer's credential.
type Identity struct {
	// UserID is the stable user identifier.
	UserID string

	// DisplayName is informational only.
	DisplayName string
}

// Provider validates a session credential and returns the caller's
// identity.
//
// The default LocalProvider trusts the credential as a literal user id,
// which suits development and in-process tests. Deployments supply an
// implementation backed by their identity stack.
type Provider interface {
	// Validate checks the credential and returns the identity, or
	// ErrNoIdentity (possibly wrapped) when it does not resolve.
	Validate(ctx context.Context, credential string) (Identity, error)
}

// MembershipResolver answers whether a user is currently a member of a
// project, consulting the CRUD layer's source of truth.
type MembershipResolver interface {
	// Member reports current membership. Implementations must not
	// cache across calls; revocations take effect immediately.
	Member(ctx context.Context, projectID, userID string) (bool, error)
}

// -----------------------------------------------------------------------------
// Local provider
// -----------------------------------------------------------------------------

// LocalProvider treats the credential as the user id itself. Development
// and test use only.
type LocalProvider struct{}

// Validate implements Provider.
func (LocalProvider) Validate(_ context.Context, credential string) (Identity, error) {
	if credential == "" {
		return Identity{}, ErrNoIdentity
	}
	return Identity{UserID: credential, DisplayName: credential}, nil
}

// -----------------------------------------------------------------------------
// Static resolver
// -----------------------------------------------------------------------------

// StaticResolver is an in-memory membership table. Used in tests and
// single-user development runs.
//
// Thread Safety: Safe for concurrent use.
type StaticResolver struct {
	mu      sync.RWMutex
	members map[string]map[string]struct{}
}

// NewStaticResolver creates an empty resolver.
func NewStaticResolver() *StaticResolver {
	return &StaticResolver{members: make(map[string]map[string]struct{})}
}

// Add grants membership.
func (r *StaticResolver) Add(projectID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.members[projectID] == nil {
		r.members[projectID] = make(map[string]struct{})
	}
	r.members[projectID][userID] = struct{}{}
}

// Remove revokes membership.
func (r *StaticResolver) Remove(projectID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members[projectID], userID)
}

// Member implements MembershipResolver.
func (r *StaticResolver) Member(_ context.Context, projectID, userID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[projectID][userID]
	return ok, nil
}

// -----------------------------------------------------------------------------
// Redis resolver
// -----------------------------------------------------------------------------

// membershipKey is the Redis set the CRUD layer keeps current for each
// project's membership.
func membershipKey(projectID string) string {
	return "docsync:members:" + projectID
}

// RedisResolver checks membership against Redis sets maintained by the
// CRUD layer on every relational membership change.
//
// Thread Safety: Safe for concurrent use.
type RedisResolver struct {
	client *redis.Client
}

// NewRedisResolver creates a resolver from an existing Redis client.
func NewRedisResolver(client *redis.Client) *RedisResolver {
	return &RedisResolver{client: client}
}

// Member implements MembershipResolver.
func (r *RedisResolver) Member(ctx context.Context, projectID, userID string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, membershipKey(projectID), userID).Result()
	if err != nil {
		return false, fmt.Errorf("membership lookup %s/%s: %w", projectID, userID, err)
	}
	return ok, nil
}

// -----------------------------------------------------------------------------
// Allow-all resolver
// -----------------------------------------------------------------------------

// AllowAllResolver grants every membership check. It exists so local
// development runs work without a membership backend; never deploy it.
type AllowAllResolver struct{}

// Member implements MembershipResolver.
func (AllowAllResolver) Member(_ context.Context, _, _ string) (bool, error) {
	return true, nil
}

var (
	_ Provider           = LocalProvider{}
	_ MembershipResolver = (*StaticResolver)(nil)
	_ MembershipResolver = (*RedisResolver)(nil)
	_ MembershipResolver = AllowAllResolver{}
)
