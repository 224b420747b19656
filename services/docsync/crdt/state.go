// Copyright (C) 2026 CoRATES (dev@corates.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package crdt implements the mergeable project document: a delta-state
// CRDT of last-writer-wins registers keyed by hierarchical path.
//
// Every register carries a Lamport clock and the id of the replica that
// wrote it. Merging takes, per key, the entry with the greater
// (clock, actor) pair, which makes merge commutative, associative and
// idempotent: replicas that have seen the same set of deltas hold
// identical state regardless of delivery order. Deletions are tombstones
// so that a delete observed on one replica wins over an older write
// arriving later from another.
//
// Snapshots and deltas share one binary encoding (deterministic CBOR), so
// loading a persisted snapshot is just a merge of a large delta and is
// naturally idempotent.
package crdt

import (
	"fmt"
	"net/url"
	"reflect"
	"sort"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// stateVersion tags the binary encoding so future layout changes can be
// detected at decode time.
const stateVersion = 1

// -----------------------------------------------------------------------------
// Encoding
// -----------------------------------------------------------------------------

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("crdt: encoder init: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("crdt: decoder init: %v", err))
	}
}

// -----------------------------------------------------------------------------
// Registers
// -----------------------------------------------------------------------------

// Entry is one last-writer-wins register.
//
// Thread Safety: Immutable once stored; the owning State is not safe for
// concurrent use and must be confined to a single goroutine.
type Entry struct {
	// Value is the register payload. Values are normalized through the
	// CBOR codec at write time so that all replicas hold byte-identical
	// representations.
	Value any `cbor:"v,omitempty"`

	// Clock is the Lamport timestamp of the write.
	Clock uint64 `cbor:"c"`

	// Actor is the replica that performed the write. Ties on Clock are
	// broken by comparing actor ids, so ordering is total.
	Actor string `cbor:"a"`

	// Deleted marks a tombstone. Tombstones are retained so deletions
	// survive merges with older concurrent writes.
	Deleted bool `cbor:"d,omitempty"`
}

// newer reports whether a supersedes b under the total LWW order.
func newer(a, b Entry) bool {
	if a.Clock != b.Clock {
		return a.Clock > b.Clock
	}
	return a.Actor > b.Actor
}

// Delta is the wire and storage form of a set of register writes. A full
// snapshot is simply a Delta containing every register.
type Delta struct {
	Version int              `cbor:"ver"`
	Entries map[string]Entry `cbor:"e"`
}

// Empty reports whether the delta carries no writes.
func (d Delta) Empty() bool { return len(d.Entries) == 0 }

// Encode serializes the delta with the canonical encoder.
func (d Delta) Encode() ([]byte, error) {
	if d.Version == 0 {
		d.Version = stateVersion
	}
	return encMode.Marshal(d)
}

// DecodeDelta parses and validates a binary delta.
//
// Outputs:
//
//	Delta - The decoded delta. Zero value on error.
//	error - ErrMalformedDelta (wrapped) if the payload cannot be decoded
//	        or fails structural validation.
func DecodeDelta(data []byte) (Delta, error) {
	var d Delta
	if err := decMode.Unmarshal(data, &d); err != nil {
		return Delta{}, fmt.Errorf("%w: %v", ErrMalformedDelta, err)
	}
	if d.Version != stateVersion {
		return Delta{}, fmt.Errorf("%w: unsupported version %d", ErrMalformedDelta, d.Version)
	}
	for key, e := range d.Entries {
		if key == "" {
			return Delta{}, fmt.Errorf("%w: empty register key", ErrMalformedDelta)
		}
		if !canonicalKey(key) {
			return Delta{}, fmt.Errorf("%w: non-canonical register key %q", ErrMalformedDelta, key)
		}
		if e.Actor == "" || e.Clock == 0 {
			return Delta{}, fmt.Errorf("%w: register %q missing clock or actor", ErrMalformedDelta, key)
		}
	}
	return d, nil
}

// -----------------------------------------------------------------------------
// State
// -----------------------------------------------------------------------------

// State is a single replica's register store. All writes stamp the local
// actor id and an incremented Lamport clock; all reads see only live
// (non-tombstoned) registers.
//
// Thread Safety: NOT safe for concurrent use. Ownership is confined to
// one document actor goroutine.
type State struct {
	actor   string
	clock   uint64
	entries map[string]Entry
	vv      map[string]uint64
	tx      map[string]Entry
	txUndo  map[string]*Entry
}

// NewState creates an empty replica owned by the given actor id.
func NewState(actor string) (*State, error) {
	if actor == "" {
		return nil, ErrActorEmpty
	}
	return &State{
		actor:   actor,
		entries: make(map[string]Entry),
		vv:      make(map[string]uint64),
	}, nil
}

// Merge folds a delta into local state. Per key, the entry with the
// greater (clock, actor) pair wins; everything else is discarded. Merge
// never fails and applying the same delta twice is a no-op.
//
// Outputs:
//
//	bool - True if any register changed.
func (s *State) Merge(d Delta) bool {
	changed := false
	for key, e := range d.Entries {
		cur, ok := s.entries[key]
		if !ok || newer(e, cur) {
			s.entries[key] = e
			changed = true
		}
		if e.Clock > s.vv[e.Actor] {
			s.vv[e.Actor] = e.Clock
		}
		if e.Clock > s.clock {
			s.clock = e.Clock
		}
	}
	return changed
}

// set writes a live register at the given path, stamping the local actor
// and the next Lamport tick. Inside a transaction the write is also
// recorded for the emitted delta.
func (s *State) set(value any, segs ...string) {
	s.write(Entry{Value: normalizeValue(value)}, segs...)
}

// delete tombstones the register at the given path if it is live.
func (s *State) delete(segs ...string) {
	key := joinPath(segs...)
	if cur, ok := s.entries[key]; !ok || cur.Deleted {
		return
	}
	s.write(Entry{Deleted: true}, segs...)
}

// deleteTree tombstones every live register at or under the given path.
func (s *State) deleteTree(segs ...string) {
	key := joinPath(segs...)
	prefix := childPrefix(segs...)
	for k, e := range s.entries {
		if e.Deleted {
			continue
		}
		if k == key || strings.HasPrefix(k, prefix) {
			s.write(Entry{Deleted: true}, splitPath(k)...)
		}
	}
}

// clearAll tombstones every live register.
func (s *State) clearAll() {
	for k, e := range s.entries {
		if !e.Deleted {
			s.write(Entry{Deleted: true}, splitPath(k)...)
		}
	}
}

func (s *State) write(e Entry, segs ...string) {
	s.clock++
	e.Clock = s.clock
	e.Actor = s.actor
	key := joinPath(segs...)
	if s.tx != nil {
		if _, tracked := s.txUndo[key]; !tracked {
			if prev, ok := s.entries[key]; ok {
				cp := prev
				s.txUndo[key] = &cp
			} else {
				s.txUndo[key] = nil
			}
		}
		s.tx[key] = e
	}
	s.entries[key] = e
	s.vv[s.actor] = s.clock
}

// get returns the live value at a path.
func (s *State) get(segs ...string) (any, bool) {
	e, ok := s.entries[joinPath(segs...)]
	if !ok || e.Deleted {
		return nil, false
	}
	return e.Value, true
}

// live reports whether any live register exists at or under the path.
func (s *State) live(segs ...string) bool {
	key := joinPath(segs...)
	prefix := childPrefix(segs...)
	for k, e := range s.entries {
		if e.Deleted {
			continue
		}
		if k == key || strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}

// children returns the distinct next path segment of every live register
// under the given path, sorted for deterministic iteration.
func (s *State) children(segs ...string) []string {
	prefix := childPrefix(segs...)
	seen := make(map[string]struct{})
	for k, e := range s.entries {
		if e.Deleted || !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			rest = rest[:i]
		}
		name, err := url.PathUnescape(rest)
		if err != nil {
			name = rest
		}
		seen[name] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// begin opens the single write transaction. The actor serializes all
// access, so nesting indicates a programming error.
func (s *State) begin() error {
	if s.tx != nil {
		return ErrNestedTransaction
	}
	s.tx = make(map[string]Entry)
	s.txUndo = make(map[string]*Entry)
	return nil
}

// commit closes the transaction and returns the delta describing exactly
// the writes performed inside it.
func (s *State) commit() Delta {
	d := Delta{Version: stateVersion, Entries: s.tx}
	s.tx = nil
	s.txUndo = nil
	return d
}

// rollback undoes every write performed inside the open transaction. The
// Lamport clock is left advanced; clocks only ever move forward.
func (s *State) rollback() {
	for key, prev := range s.txUndo {
		if prev == nil {
			delete(s.entries, key)
		} else {
			s.entries[key] = *prev
		}
	}
	s.tx = nil
	s.txUndo = nil
}

// Full returns a delta carrying every register, tombstones included.
// Used for snapshots and initial sync.
func (s *State) Full() Delta {
	entries := make(map[string]Entry, len(s.entries))
	for k, e := range s.entries {
		entries[k] = e
	}
	return Delta{Version: stateVersion, Entries: entries}
}

// Since returns a delta carrying every register the given version vector
// has not seen.
func (s *State) Since(vv map[string]uint64) Delta {
	entries := make(map[string]Entry)
	for k, e := range s.entries {
		if e.Clock > vv[e.Actor] {
			entries[k] = e
		}
	}
	return Delta{Version: stateVersion, Entries: entries}
}

// VersionVector returns a copy of the highest clock observed per actor.
func (s *State) VersionVector() map[string]uint64 {
	vv := make(map[string]uint64, len(s.vv))
	for a, c := range s.vv {
		vv[a] = c
	}
	return vv
}

// normalizeValue round-trips a value through the codec so every replica
// stores the same decoded representation. Values that cannot be encoded
// are stored as-is; they will fail loudly at snapshot time instead.
func normalizeValue(v any) any {
	if v == nil {
		return nil
	}
	raw, err := encMode.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := decMode.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}
