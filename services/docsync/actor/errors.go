// Copyright (C) 2026 CoRATES (dev@corates.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package actor

import "errors"

var (
	// ErrActorClosed is returned when an operation reaches an actor
	// that has been evicted or shut down. The manager retries such
	// operations against a fresh actor.
	ErrActorClosed = errors.New("document actor closed")

	// ErrPersistence wraps snapshot store failures surfaced to RPC
	// callers. The in-memory document remains correct; the write is
	// retried on the next mutation or flush opportunity.
	ErrPersistence = errors.New("persistence failure")

	// ErrManagerClosed is returned for operations after Shutdown.
	ErrManagerClosed = errors.New("actor manager closed")
)
