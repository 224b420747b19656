// Copyright (C) 2026 CoRATES (dev@corates.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"errors"
	"testing"
)

func TestSyncMemberRequestValidate(t *testing.T) {
	cases := []struct {
		name    string
		req     SyncMemberRequest
		wantErr bool
	}{
		{"add with role", SyncMemberRequest{
			Action: SyncActionAdd,
			Member: Member{UserID: "u1", Role: "lead"},
		}, false},
		{"remove without role", SyncMemberRequest{
			Action: SyncActionRemove,
			Member: Member{UserID: "u1"},
		}, false},
		{"unknown action", SyncMemberRequest{
			Action: "destroy",
			Member: Member{UserID: "u1", Role: "lead"},
		}, true},
		{"missing user id", SyncMemberRequest{
			Action: SyncActionAdd,
			Member: Member{Role: "lead"},
		}, true},
		{"update without role", SyncMemberRequest{
			Action: SyncActionUpdate,
			Member: Member{UserID: "u1"},
		}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidPayload) {
					t.Fatalf("expected ErrInvalidPayload, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestSyncProjectRequestValidate(t *testing.T) {
	members := func(ms ...Member) *[]Member { return &ms }

	cases := []struct {
		name    string
		req     SyncProjectRequest
		wantErr bool
	}{
		{"meta only", SyncProjectRequest{
			Meta: map[string]string{"title": "Review"},
		}, false},
		{"members replacement", SyncProjectRequest{
			Members: members(Member{UserID: "u1", Role: "lead"}),
		}, false},
		{"empty members clears roster", SyncProjectRequest{
			Members: members(),
		}, false},
		{"nothing supplied", SyncProjectRequest{}, true},
		{"duplicate member", SyncProjectRequest{
			Members: members(
				Member{UserID: "u1", Role: "lead"},
				Member{UserID: "u1", Role: "member"},
			),
		}, true},
		{"member without user id", SyncProjectRequest{
			Members: members(Member{Role: "lead"}),
		}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if tc.wantErr != (err != nil) {
				t.Fatalf("wantErr=%v, got %v", tc.wantErr, err)
			}
			if err != nil && !errors.Is(err, ErrInvalidPayload) {
				t.Fatalf("expected ErrInvalidPayload, got %v", err)
			}
		})
	}
}

func TestSyncPdfRequestValidate(t *testing.T) {
	cases := []struct {
		name    string
		req     SyncPdfRequest
		wantErr bool
	}{
		{"add", SyncPdfRequest{
			Action: SyncActionAdd, StudyID: "s1", StudyName: "Smith 2024",
			Pdf: Pdf{Name: "a.pdf", Key: "k"},
		}, false},
		{"remove", SyncPdfRequest{
			Action: SyncActionRemove, StudyID: "s1",
			Pdf: Pdf{Name: "a.pdf"},
		}, false},
		{"missing study id", SyncPdfRequest{
			Action: SyncActionAdd,
			Pdf:    Pdf{Name: "a.pdf"},
		}, true},
		{"missing pdf name", SyncPdfRequest{
			Action: SyncActionAdd, StudyID: "s1",
		}, true},
		{"unknown action", SyncPdfRequest{
			Action: "attach", StudyID: "s1",
			Pdf: Pdf{Name: "a.pdf"},
		}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if tc.wantErr != (err != nil) {
				t.Fatalf("wantErr=%v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestFrameRoundTrip(t *testing.T) {
	frame := EncodeFrame(MessageUpdate, []byte("payload"))
	tag, payload, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tag != MessageUpdate || string(payload) != "payload" {
		t.Fatalf("got tag=%d payload=%q", tag, payload)
	}

	if _, _, err := DecodeFrame(nil); !errors.Is(err, ErrBadFrame) {
		t.Fatalf("expected ErrBadFrame for empty frame, got %v", err)
	}
	if _, _, err := DecodeFrame([]byte{0x7f, 0x01}); !errors.Is(err, ErrBadFrame) {
		t.Fatalf("expected ErrBadFrame for unknown tag, got %v", err)
	}
}
