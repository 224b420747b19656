// Copyright (C) 2026 CoRATES (dev@corates.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package crdt

import "errors"

var (
	// ErrMalformedDelta is returned when a remote delta fails to decode or
	// fails structural validation. The local state is never mutated when
	// this error is returned.
	ErrMalformedDelta = errors.New("malformed delta")

	// ErrNestedTransaction is returned when Mutate is called from inside
	// an already-open transaction.
	ErrNestedTransaction = errors.New("nested transaction")

	// ErrActorEmpty is returned when a document is created without a
	// replica actor id.
	ErrActorEmpty = errors.New("actor id must not be empty")
)
