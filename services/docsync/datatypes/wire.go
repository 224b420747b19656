// Copyright (C) 2026 CoRATES (dev@corates.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"errors"
	"fmt"
)

// Realtime wire framing. Every post-upgrade WebSocket message is binary:
// a one-byte discriminator followed by an opaque CRDT payload.
//
//	[tag:1][payload:N]
//
// MessageSync carries the full document state and is sent exactly once,
// server to client, immediately after a successful upgrade. MessageUpdate
// carries an incremental delta and flows in both directions.

// MessageTag discriminates realtime wire messages.
type MessageTag byte

const (
	MessageSync   MessageTag = 0
	MessageUpdate MessageTag = 1
)

// ErrBadFrame is returned when a wire frame is empty or carries an
// unknown discriminator.
var ErrBadFrame = errors.New("bad wire frame")

// EncodeFrame prepends the discriminator to a payload.
func EncodeFrame(tag MessageTag, payload []byte) []byte {
	frame := make([]byte, 1+len(payload))
	frame[0] = byte(tag)
	copy(frame[1:], payload)
	return frame
}

// DecodeFrame splits a wire frame into discriminator and payload.
func DecodeFrame(frame []byte) (MessageTag, []byte, error) {
	if len(frame) < 1 {
		return 0, nil, fmt.Errorf("%w: empty", ErrBadFrame)
	}
	tag := MessageTag(frame[0])
	switch tag {
	case MessageSync, MessageUpdate:
		return tag, frame[1:], nil
	}
	return 0, nil, fmt.Errorf("%w: unknown tag %d", ErrBadFrame, frame[0])
}
