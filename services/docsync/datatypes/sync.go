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

	"github.com/go-playground/validator/v10"
)

// ErrInvalidPayload is returned when a sync RPC payload is malformed or
// missing required fields. Validation happens before any transaction
// begins, so a rejected payload never touches the document.
var ErrInvalidPayload = errors.New("invalid sync payload")

var validate = validator.New(validator.WithRequiredStructEnabled())

// SyncAction discriminates the mutation kind of a sync RPC call.
type SyncAction string

const (
	SyncActionAdd    SyncAction = "add"
	SyncActionUpdate SyncAction = "update"
	SyncActionRemove SyncAction = "remove"
)

func (a SyncAction) valid() bool {
	switch a {
	case SyncActionAdd, SyncActionUpdate, SyncActionRemove:
		return true
	}
	return false
}

// SyncMemberRequest upserts or removes one membership roster entry.
type SyncMemberRequest struct {
	Action SyncAction `json:"action" validate:"required"`
	Member Member     `json:"member"`
}

// Validate checks the payload before any transaction begins.
func (r SyncMemberRequest) Validate() error {
	if !r.Action.valid() {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidPayload, r.Action)
	}
	if err := validate.Struct(r.Member); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if r.Action != SyncActionRemove && r.Member.Role == "" {
		return fmt.Errorf("%w: role required for %s", ErrInvalidPayload, r.Action)
	}
	return nil
}

// SyncProjectRequest pushes authoritative project state into the live
// document. A nil Members leaves the roster untouched; a non-nil Members
// (including an empty slice) is a full replacement of the roster within
// one transaction. Meta keys are upserted.
type SyncProjectRequest struct {
	Meta    map[string]string `json:"meta,omitempty"`
	Members *[]Member         `json:"members,omitempty"`
}

// Validate checks the payload before any transaction begins.
func (r SyncProjectRequest) Validate() error {
	if r.Meta == nil && r.Members == nil {
		return fmt.Errorf("%w: neither meta nor members supplied", ErrInvalidPayload)
	}
	if r.Members != nil {
		seen := make(map[string]struct{}, len(*r.Members))
		for i, m := range *r.Members {
			if err := validate.Struct(m); err != nil {
				return fmt.Errorf("%w: members[%d]: %v", ErrInvalidPayload, i, err)
			}
			if _, dup := seen[m.UserID]; dup {
				return fmt.Errorf("%w: duplicate member %q", ErrInvalidPayload, m.UserID)
			}
			seen[m.UserID] = struct{}{}
		}
	}
	return nil
}

// SyncPdfRequest adds, updates or removes one file attachment on a study.
// The target study and its pdfs sub-map are created if this is the first
// attachment for that study.
type SyncPdfRequest struct {
	Action    SyncAction `json:"action" validate:"required"`
	StudyID   string     `json:"studyId" validate:"required"`
	StudyName string     `json:"studyName,omitempty"`
	Pdf       Pdf        `json:"pdf"`
}

// Validate checks the payload before any transaction begins.
func (r SyncPdfRequest) Validate() error {
	if !r.Action.valid() {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidPayload, r.Action)
	}
	if r.StudyID == "" {
		return fmt.Errorf("%w: studyId required", ErrInvalidPayload)
	}
	if err := validate.Struct(r.Pdf); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
