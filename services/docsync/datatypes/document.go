// Copyright (C) 2026 CoRATES (dev@corates.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the data shapes shared across the document
// engine: document records, the sync RPC payloads pushed in by the CRUD
// layer, and the realtime wire framing.
//
// All timestamps are Unix milliseconds UTC.
package datatypes

// Member is one entry in a project's membership roster. The roster in the
// live document mirrors the relational source of truth maintained by the
// CRUD layer; it is never authoritative for authorization.
type Member struct {
	// UserID is the authenticated user identifier and the roster key.
	UserID string `json:"userId" validate:"required"`

	// Role is the project role (owner, admin, member, ...). Roles are
	// opaque to the engine; the CRUD layer defines their meaning.
	Role string `json:"role,omitempty"`

	// JoinedAt is when the membership row was created.
	JoinedAt int64 `json:"joinedAt,omitempty"`

	Name        string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Image       string `json:"image,omitempty"`
}

// Reconciliation is the consensus sub-record of a study, tracking how
// disagreeing checklist answers are being resolved.
type Reconciliation struct {
	Status     string `json:"status,omitempty"`
	AssignedTo string `json:"assignedTo,omitempty"`
	UpdatedAt  int64  `json:"updatedAt,omitempty"`
}

// Checklist is one appraisal checklist attached to a study.
type Checklist struct {
	ID         string         `json:"id" validate:"required"`
	Type       string         `json:"type,omitempty"`
	Title      string         `json:"title,omitempty"`
	AssignedTo string         `json:"assignedTo,omitempty"`
	Status     string         `json:"status,omitempty"`
	CreatedAt  int64          `json:"createdAt,omitempty"`
	UpdatedAt  int64          `json:"updatedAt,omitempty"`
	Answers    map[string]any `json:"answers,omitempty"`
}

// Pdf is one file attachment on a study, keyed by file name.
type Pdf struct {
	Name       string `json:"name" validate:"required"`
	Key        string `json:"key,omitempty"`
	Size       int64  `json:"size,omitempty"`
	UploadedBy string `json:"uploadedBy,omitempty"`
	UploadedAt int64  `json:"uploadedAt,omitempty"`
}

// Study is one review item: scalar bibliographic fields plus the lazily
// created checklists and pdfs sub-maps.
type Study struct {
	ID             string               `json:"id"`
	Title          string               `json:"title,omitempty"`
	Authors        string               `json:"authors,omitempty"`
	Year           int64                `json:"year,omitempty"`
	DOI            string               `json:"doi,omitempty"`
	Abstract       string               `json:"abstract,omitempty"`
	PdfURL         string               `json:"pdfUrl,omitempty"`
	Reviewers      []string             `json:"reviewers,omitempty"`
	Reconciliation *Reconciliation      `json:"reconciliation,omitempty"`
	Checklists     map[string]Checklist `json:"checklists,omitempty"`
	Pdfs           map[string]Pdf       `json:"pdfs,omitempty"`
}

// ProjectDocument is the structured export of one project's live
// document. Used by the debug surface and by tests; the runtime
// representation lives in the crdt package.
type ProjectDocument struct {
	Meta    map[string]string `json:"meta"`
	Members map[string]Member `json:"members"`
	Reviews map[string]Study  `json:"reviews"`
}
