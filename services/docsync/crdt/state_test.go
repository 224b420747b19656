// Copyright (C) 2026 CoRATES (dev@corates.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package crdt

import (
	"errors"
	"reflect"
	"testing"
)

func mustState(t *testing.T, actor string) *State {
	t.Helper()
	s, err := NewState(actor)
	if err != nil {
		t.Fatalf("NewState(%q): %v", actor, err)
	}
	return s
}

func TestNewStateRequiresActor(t *testing.T) {
	if _, err := NewState(""); !errors.Is(err, ErrActorEmpty) {
		t.Fatalf("expected ErrActorEmpty, got %v", err)
	}
}

func TestMergeConvergesRegardlessOfOrder(t *testing.T) {
	a := mustState(t, "replica-a")
	b := mustState(t, "replica-b")

	a.set("Systematic Review of X", "meta", "title")
	a.set("active", "meta", "status")
	b.set("lead", "members", "u1", "role")
	b.delete("meta", "status")

	da := a.Full()
	db := b.Full()

	// a <- b then nothing more; b <- a. Both must hold identical registers.
	a.Merge(db)
	b.Merge(da)

	if !reflect.DeepEqual(a.entries, b.entries) {
		t.Fatalf("replicas diverged:\n a=%v\n b=%v", a.entries, b.entries)
	}

	// A third replica applying the deltas in the opposite order converges
	// to the same state.
	c := mustState(t, "replica-c")
	c.Merge(db)
	c.Merge(da)
	if !reflect.DeepEqual(c.entries, a.entries) {
		t.Fatalf("order-swapped replica diverged:\n c=%v\n a=%v", c.entries, a.entries)
	}
}

func TestMergeIdempotent(t *testing.T) {
	a := mustState(t, "replica-a")
	a.set("v", "meta", "title")
	d := a.Full()

	b := mustState(t, "replica-b")
	if !b.Merge(d) {
		t.Fatal("first merge should report a change")
	}
	if b.Merge(d) {
		t.Fatal("second merge of the same delta should be a no-op")
	}
}

func TestLWWTieBreaksOnActor(t *testing.T) {
	// Same clock, different actors: the greater actor id wins on every
	// replica, whichever delta arrives first.
	low := Delta{Version: stateVersion, Entries: map[string]Entry{
		"meta/title": {Value: "from-a", Clock: 5, Actor: "replica-a"},
	}}
	high := Delta{Version: stateVersion, Entries: map[string]Entry{
		"meta/title": {Value: "from-b", Clock: 5, Actor: "replica-b"},
	}}

	first := mustState(t, "x")
	first.Merge(low)
	first.Merge(high)

	second := mustState(t, "y")
	second.Merge(high)
	second.Merge(low)

	for _, s := range []*State{first, second} {
		v, ok := s.get("meta", "title")
		if !ok || v != "from-b" {
			t.Fatalf("expected winner from-b, got %v (ok=%v)", v, ok)
		}
	}
}

func TestTombstoneBeatsOlderWrite(t *testing.T) {
	s := mustState(t, "local")
	s.Merge(Delta{Version: stateVersion, Entries: map[string]Entry{
		"members/u1/role": {Deleted: true, Clock: 10, Actor: "replica-a"},
	}})
	// Older concurrent write arrives after the delete.
	s.Merge(Delta{Version: stateVersion, Entries: map[string]Entry{
		"members/u1/role": {Value: "lead", Clock: 4, Actor: "replica-b"},
	}})

	if _, ok := s.get("members", "u1", "role"); ok {
		t.Fatal("tombstone should suppress the older write")
	}
	if s.live("members", "u1") {
		t.Fatal("member should not be live after deletion")
	}
}

func TestMergeAdvancesClockPastRemote(t *testing.T) {
	s := mustState(t, "local")
	s.Merge(Delta{Version: stateVersion, Entries: map[string]Entry{
		"meta/title": {Value: "remote", Clock: 40, Actor: "replica-a"},
	}})

	// The next local write must order after everything merged so far.
	s.set("local-wins", "meta", "title")
	v, _ := s.get("meta", "title")
	if v != "local-wins" {
		t.Fatalf("local write should supersede merged register, got %v", v)
	}
}

func TestSinceFiltersByVersionVector(t *testing.T) {
	s := mustState(t, "local")
	s.set("one", "meta", "a")
	vv := s.VersionVector()
	s.set("two", "meta", "b")

	d := s.Since(vv)
	if len(d.Entries) != 1 {
		t.Fatalf("expected exactly the unseen register, got %v", d.Entries)
	}
	if _, ok := d.Entries["meta/b"]; !ok {
		t.Fatalf("expected meta/b in delta, got %v", d.Entries)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	s := mustState(t, "local")
	s.set("Review", "meta", "title")
	s.set(int64(2026), "reviews", "s1", "year")
	s.delete("meta", "title")

	raw, err := s.Full().Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	d, err := DecodeDelta(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(d.Entries, s.Full().Entries) {
		t.Fatalf("round trip mismatch:\n got %v\nwant %v", d.Entries, s.Full().Entries)
	}
}

func TestDecodeDeltaRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		data func(t *testing.T) []byte
	}{
		{"garbage bytes", func(t *testing.T) []byte {
			return []byte{0xff, 0x00, 0x13, 0x37}
		}},
		{"unsupported version", func(t *testing.T) []byte {
			raw, err := encMode.Marshal(Delta{Version: 99, Entries: map[string]Entry{
				"meta/title": {Value: "x", Clock: 1, Actor: "a"},
			}})
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			return raw
		}},
		{"empty register key", func(t *testing.T) []byte {
			raw, err := encMode.Marshal(Delta{Version: stateVersion, Entries: map[string]Entry{
				"": {Value: "x", Clock: 1, Actor: "a"},
			}})
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			return raw
		}},
		{"missing actor", func(t *testing.T) []byte {
			raw, err := encMode.Marshal(Delta{Version: stateVersion, Entries: map[string]Entry{
				"meta/title": {Value: "x", Clock: 1},
			}})
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			return raw
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeDelta(tc.data(t)); !errors.Is(err, ErrMalformedDelta) {
				t.Fatalf("expected ErrMalformedDelta, got %v", err)
			}
		})
	}
}

func TestDecodeDeltaRejectsNonCanonicalKeys(t *testing.T) {
	entry := Entry{Value: "x", Clock: 1, Actor: "a"}

	// Each of these merges fine but is invisible to prefix scans and
	// typed reads, so it would live in every snapshot forever.
	bad := []string{
		"members/u 1/role", // raw space instead of %20
		"members/%41dmin",  // escape of a character that needs none
		"pdfs/%zz",         // broken escape sequence
	}
	for _, key := range bad {
		raw, err := encMode.Marshal(Delta{Version: stateVersion, Entries: map[string]Entry{key: entry}})
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if _, err := DecodeDelta(raw); !errors.Is(err, ErrMalformedDelta) {
			t.Fatalf("key %q: expected ErrMalformedDelta, got %v", key, err)
		}
	}

	// A key spelled exactly as the escaper writes it still decodes.
	good := joinPath("pdfs", "a/b.pdf", "title")
	raw, err := encMode.Marshal(Delta{Version: stateVersion, Entries: map[string]Entry{good: entry}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := DecodeDelta(raw); err != nil {
		t.Fatalf("canonical key %q rejected: %v", good, err)
	}
}

func TestTransactionCommitCapturesWrites(t *testing.T) {
	s := mustState(t, "local")
	s.set("before", "meta", "title")

	if err := s.begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	s.set("after", "meta", "title")
	s.set("lead", "members", "u1", "role")
	d := s.commit()

	if len(d.Entries) != 2 {
		t.Fatalf("delta should carry exactly the transaction writes, got %v", d.Entries)
	}
	if d.Entries["meta/title"].Value != "after" {
		t.Fatalf("unexpected delta entry: %v", d.Entries["meta/title"])
	}
}

func TestTransactionRollbackRestoresState(t *testing.T) {
	s := mustState(t, "local")
	s.set("keep", "meta", "title")

	if err := s.begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	s.set("discard", "meta", "title")
	s.set("new", "meta", "status")
	s.rollback()

	if v, _ := s.get("meta", "title"); v != "keep" {
		t.Fatalf("rollback should restore prior value, got %v", v)
	}
	if _, ok := s.get("meta", "status"); ok {
		t.Fatal("rollback should remove registers created in the transaction")
	}
}

func TestNestedTransactionRejected(t *testing.T) {
	s := mustState(t, "local")
	if err := s.begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := s.begin(); !errors.Is(err, ErrNestedTransaction) {
		t.Fatalf("expected ErrNestedTransaction, got %v", err)
	}
}

func TestDeleteTreeRemovesDescendants(t *testing.T) {
	s := mustState(t, "local")
	s.set("lead", "members", "u1", "role")
	s.set("Ada", "members", "u1", "name")
	s.set("member", "members", "u2", "role")

	s.deleteTree("members", "u1")

	if s.live("members", "u1") {
		t.Fatal("u1 subtree should be gone")
	}
	if !s.live("members", "u2") {
		t.Fatal("sibling subtree must survive")
	}
}

func TestChildrenEscapesSegments(t *testing.T) {
	s := mustState(t, "local")
	// File names may contain the path separator; it must not split keys.
	s.set("k", "reviews", "s1", "pdfs", "a/b.pdf", "key")
	s.set("k", "reviews", "s1", "pdfs", "plain.pdf", "key")

	got := s.children("reviews", "s1", "pdfs")
	want := []string{"a/b.pdf", "plain.pdf"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("children = %v, want %v", got, want)
	}
}
