// Copyright (C) 2026 CoRATES (dev@corates.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package crdt

import (
	"fmt"

	"github.com/corates/docsync/services/docsync/datatypes"
)

// Top-level document maps.
const (
	rootMeta    = "meta"
	rootMembers = "members"
	rootReviews = "reviews"
)

// Study sub-maps.
const (
	subChecklists = "checklists"
	subPdfs       = "pdfs"
)

// -----------------------------------------------------------------------------
// Document
// -----------------------------------------------------------------------------

// Document is the typed facade over one project's register store: a tree
// of named maps (meta, members, reviews with nested checklists and pdfs).
//
// # Description
//
// All writes go through Mutate, which groups them into one transaction
// and emits a single delta, so external observers (the persistence flush,
// the broadcast fan-out) never see partial writes. Reads materialize
// typed records from the live registers.
//
// Thread Safety: NOT safe for concurrent use. A Document is exclusively
// owned by its project's actor goroutine.
type Document struct {
	st *State
}

// NewDocument creates an empty document whose local writes are stamped
// with the given replica actor id.
func NewDocument(actor string) (*Document, error) {
	st, err := NewState(actor)
	if err != nil {
		return nil, err
	}
	return &Document{st: st}, nil
}

// Load merges a persisted snapshot into the document. An empty snapshot
// is a no-op, and loading the same snapshot twice is equivalent to
// loading it once.
func (d *Document) Load(snapshot []byte) error {
	if len(snapshot) == 0 {
		return nil
	}
	delta, err := DecodeDelta(snapshot)
	if err != nil {
		return err
	}
	d.st.Merge(delta)
	return nil
}

// ApplyRemote merges an externally produced binary delta.
//
// Outputs:
//
//	bool  - True if any register changed (callers skip broadcast when false).
//	error - ErrMalformedDelta if the payload does not decode; local state
//	        is untouched in that case.
func (d *Document) ApplyRemote(delta []byte) (bool, error) {
	dec, err := DecodeDelta(delta)
	if err != nil {
		return false, err
	}
	return d.st.Merge(dec), nil
}

// EncodeFull serializes the complete document state, tombstones included,
// for snapshots and initial sync.
func (d *Document) EncodeFull() ([]byte, error) {
	return d.st.Full().Encode()
}

// EncodeDeltaSince serializes every register the given version vector has
// not observed.
func (d *Document) EncodeDeltaSince(vv map[string]uint64) ([]byte, error) {
	return d.st.Since(vv).Encode()
}

// VersionVector returns the highest clock observed per replica.
func (d *Document) VersionVector() map[string]uint64 {
	return d.st.VersionVector()
}

// Mutate runs fn inside a single grouped transaction.
//
// # Description
//
// Every write fn performs is collected into one delta, returned encoded.
// If fn returns an error the transaction is rolled back and the document
// is left exactly as it was. A nil return with no writes yields a nil
// delta, which callers treat as "nothing to persist or broadcast".
//
// Outputs:
//
//	[]byte - The encoded transaction delta, nil if fn wrote nothing.
//	error  - fn's error, or an encoding failure.
func (d *Document) Mutate(fn func(tx *Tx) error) ([]byte, error) {
	if err := d.st.begin(); err != nil {
		return nil, err
	}
	if err := fn(&Tx{st: d.st}); err != nil {
		d.st.rollback()
		return nil, err
	}
	delta := d.st.commit()
	if delta.Empty() {
		return nil, nil
	}
	encoded, err := delta.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode transaction delta: %w", err)
	}
	return encoded, nil
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

// Meta returns the flat metadata map.
func (d *Document) Meta() map[string]string {
	out := make(map[string]string)
	for _, key := range d.st.children(rootMeta) {
		if v, ok := d.st.get(rootMeta, key); ok {
			out[key] = asString(v)
		}
	}
	return out
}

// Members returns the membership roster keyed by user id.
func (d *Document) Members() map[string]datatypes.Member {
	out := make(map[string]datatypes.Member)
	for _, uid := range d.st.children(rootMembers) {
		if m, ok := d.Member(uid); ok {
			out[uid] = m
		}
	}
	return out
}

// Member returns one roster entry.
func (d *Document) Member(userID string) (datatypes.Member, bool) {
	if !d.st.live(rootMembers, userID) {
		return datatypes.Member{}, false
	}
	get := func(field string) any {
		v, _ := d.st.get(rootMembers, userID, field)
		return v
	}
	return datatypes.Member{
		UserID:      userID,
		Role:        asString(get("role")),
		JoinedAt:    asInt64(get("joinedAt")),
		Name:        asString(get("name")),
		Email:       asString(get("email")),
		DisplayName: asString(get("displayName")),
		Image:       asString(get("image")),
	}, true
}

// HasStudy reports whether a study exists (any live register under it).
func (d *Document) HasStudy(studyID string) bool {
	return d.st.live(rootReviews, studyID)
}

// Study returns one study with its nested maps materialized.
func (d *Document) Study(studyID string) (datatypes.Study, bool) {
	if !d.HasStudy(studyID) {
		return datatypes.Study{}, false
	}
	get := func(field string) any {
		v, _ := d.st.get(rootReviews, studyID, field)
		return v
	}
	s := datatypes.Study{
		ID:        studyID,
		Title:     asString(get("title")),
		Authors:   asString(get("authors")),
		Year:      asInt64(get("year")),
		DOI:       asString(get("doi")),
		Abstract:  asString(get("abstract")),
		PdfURL:    asString(get("pdfUrl")),
		Reviewers: asStringSlice(get("reviewers")),
	}
	if rec, ok := asStringMap(get("reconciliation")); ok {
		s.Reconciliation = &datatypes.Reconciliation{
			Status:     asString(rec["status"]),
			AssignedTo: asString(rec["assignedTo"]),
			UpdatedAt:  asInt64(rec["updatedAt"]),
		}
	}
	if cls := d.Checklists(studyID); len(cls) > 0 {
		s.Checklists = cls
	}
	if pdfs := d.Pdfs(studyID); len(pdfs) > 0 {
		s.Pdfs = pdfs
	}
	return s, true
}

// Studies returns every study keyed by study id.
func (d *Document) Studies() map[string]datatypes.Study {
	out := make(map[string]datatypes.Study)
	for _, sid := range d.st.children(rootReviews) {
		if s, ok := d.Study(sid); ok {
			out[sid] = s
		}
	}
	return out
}

// Checklists returns a study's checklist sub-map, nil when the sub-map
// was never created.
func (d *Document) Checklists(studyID string) map[string]datatypes.Checklist {
	ids := d.st.children(rootReviews, studyID, subChecklists)
	if len(ids) == 0 {
		return nil
	}
	out := make(map[string]datatypes.Checklist, len(ids))
	for _, cid := range ids {
		get := func(field string) any {
			v, _ := d.st.get(rootReviews, studyID, subChecklists, cid, field)
			return v
		}
		c := datatypes.Checklist{
			ID:         cid,
			Type:       asString(get("type")),
			Title:      asString(get("title")),
			AssignedTo: asString(get("assignedTo")),
			Status:     asString(get("status")),
			CreatedAt:  asInt64(get("createdAt")),
			UpdatedAt:  asInt64(get("updatedAt")),
		}
		if answers, ok := asStringMap(get("answers")); ok {
			c.Answers = answers
		}
		out[cid] = c
	}
	return out
}

// Pdfs returns a study's attachment sub-map keyed by file name, nil when
// the sub-map was never created.
func (d *Document) Pdfs(studyID string) map[string]datatypes.Pdf {
	names := d.st.children(rootReviews, studyID, subPdfs)
	if len(names) == 0 {
		return nil
	}
	out := make(map[string]datatypes.Pdf, len(names))
	for _, name := range names {
		get := func(field string) any {
			v, _ := d.st.get(rootReviews, studyID, subPdfs, name, field)
			return v
		}
		out[name] = datatypes.Pdf{
			Name:       name,
			Key:        asString(get("key")),
			Size:       asInt64(get("size")),
			UploadedBy: asString(get("uploadedBy")),
			UploadedAt: asInt64(get("uploadedAt")),
		}
	}
	return out
}

// Export materializes the whole document as a structured snapshot.
func (d *Document) Export() datatypes.ProjectDocument {
	return datatypes.ProjectDocument{
		Meta:    d.Meta(),
		Members: d.Members(),
		Reviews: d.Studies(),
	}
}

// -----------------------------------------------------------------------------
// Transaction writes
// -----------------------------------------------------------------------------

// Tx is the write handle passed to Mutate callbacks. All writes performed
// through it belong to one transaction and surface as one delta.
type Tx struct {
	st *State
}

// SetMeta upserts one metadata key.
func (tx *Tx) SetMeta(key, value string) {
	tx.st.set(value, rootMeta, key)
}

// PutMember upserts one roster entry, writing the record exactly as
// supplied (fields absent from the record are cleared).
func (tx *Tx) PutMember(m datatypes.Member) {
	tx.st.set(m.Role, rootMembers, m.UserID, "role")
	tx.st.set(m.JoinedAt, rootMembers, m.UserID, "joinedAt")
	tx.st.set(m.Name, rootMembers, m.UserID, "name")
	tx.st.set(m.Email, rootMembers, m.UserID, "email")
	tx.st.set(m.DisplayName, rootMembers, m.UserID, "displayName")
	tx.st.set(m.Image, rootMembers, m.UserID, "image")
}

// RemoveMember deletes one roster entry and all its fields.
func (tx *Tx) RemoveMember(userID string) {
	tx.st.deleteTree(rootMembers, userID)
}

// ReplaceMembers swaps the whole roster for the supplied list. Keys not
// present in the list are deleted; keys present are upserted. Because the
// caller runs inside one transaction, no observer ever sees a mixed
// roster.
func (tx *Tx) ReplaceMembers(members []datatypes.Member) {
	tx.st.deleteTree(rootMembers)
	for _, m := range members {
		tx.PutMember(m)
	}
}

// EnsureStudy creates the study if no live register exists for it yet.
// The title register doubles as the existence marker.
func (tx *Tx) EnsureStudy(studyID, title string) {
	if tx.st.live(rootReviews, studyID) {
		return
	}
	tx.st.set(title, rootReviews, studyID, "title")
}

// PutStudy upserts a study's scalar fields and any nested records carried
// on the value.
func (tx *Tx) PutStudy(s datatypes.Study) {
	tx.st.set(s.Title, rootReviews, s.ID, "title")
	tx.st.set(s.Authors, rootReviews, s.ID, "authors")
	tx.st.set(s.Year, rootReviews, s.ID, "year")
	tx.st.set(s.DOI, rootReviews, s.ID, "doi")
	tx.st.set(s.Abstract, rootReviews, s.ID, "abstract")
	tx.st.set(s.PdfURL, rootReviews, s.ID, "pdfUrl")
	if s.Reviewers != nil {
		tx.st.set(s.Reviewers, rootReviews, s.ID, "reviewers")
	}
	if s.Reconciliation != nil {
		tx.st.set(map[string]any{
			"status":     s.Reconciliation.Status,
			"assignedTo": s.Reconciliation.AssignedTo,
			"updatedAt":  s.Reconciliation.UpdatedAt,
		}, rootReviews, s.ID, "reconciliation")
	}
	for _, c := range s.Checklists {
		tx.PutChecklist(s.ID, c)
	}
	for _, p := range s.Pdfs {
		tx.PutPdf(s.ID, p)
	}
}

// RemoveStudy deletes a study and everything nested under it.
func (tx *Tx) RemoveStudy(studyID string) {
	tx.st.deleteTree(rootReviews, studyID)
}

// PutChecklist upserts one checklist on a study, creating the sub-map on
// first write.
func (tx *Tx) PutChecklist(studyID string, c datatypes.Checklist) {
	tx.st.set(c.Type, rootReviews, studyID, subChecklists, c.ID, "type")
	tx.st.set(c.Title, rootReviews, studyID, subChecklists, c.ID, "title")
	tx.st.set(c.AssignedTo, rootReviews, studyID, subChecklists, c.ID, "assignedTo")
	tx.st.set(c.Status, rootReviews, studyID, subChecklists, c.ID, "status")
	tx.st.set(c.CreatedAt, rootReviews, studyID, subChecklists, c.ID, "createdAt")
	tx.st.set(c.UpdatedAt, rootReviews, studyID, subChecklists, c.ID, "updatedAt")
	if c.Answers != nil {
		tx.st.set(c.Answers, rootReviews, studyID, subChecklists, c.ID, "answers")
	}
}

// RemoveChecklist deletes one checklist from a study.
func (tx *Tx) RemoveChecklist(studyID, checklistID string) {
	tx.st.deleteTree(rootReviews, studyID, subChecklists, checklistID)
}

// PutPdf upserts one attachment on a study, creating the pdfs sub-map on
// first write.
func (tx *Tx) PutPdf(studyID string, p datatypes.Pdf) {
	tx.st.set(p.Key, rootReviews, studyID, subPdfs, p.Name, "key")
	tx.st.set(p.Size, rootReviews, studyID, subPdfs, p.Name, "size")
	tx.st.set(p.UploadedBy, rootReviews, studyID, subPdfs, p.Name, "uploadedBy")
	tx.st.set(p.UploadedAt, rootReviews, studyID, subPdfs, p.Name, "uploadedAt")
}

// RemovePdf deletes one attachment from a study.
func (tx *Tx) RemovePdf(studyID, name string) {
	tx.st.deleteTree(rootReviews, studyID, subPdfs, name)
}

// SetPath writes an arbitrary register. Debug surface only.
func (tx *Tx) SetPath(segs []string, value any) {
	tx.st.set(value, segs...)
}

// DeletePath tombstones an arbitrary register and its descendants. Debug
// surface only.
func (tx *Tx) DeletePath(segs []string) {
	tx.st.deleteTree(segs...)
}

// Clear tombstones every live register in the document.
func (tx *Tx) Clear() {
	tx.st.clearAll()
}

// Import loads a structured snapshot into the document. When replace is
// true the current contents are cleared first; otherwise the snapshot is
// merged over the existing state.
func (tx *Tx) Import(doc datatypes.ProjectDocument, replace bool) {
	if replace {
		tx.Clear()
	}
	for k, v := range doc.Meta {
		tx.SetMeta(k, v)
	}
	for uid, m := range doc.Members {
		m.UserID = uid
		tx.PutMember(m)
	}
	for sid, s := range doc.Reviews {
		s.ID = sid
		tx.PutStudy(s)
	}
}

// -----------------------------------------------------------------------------
// Value coercion
// -----------------------------------------------------------------------------

// Registers hold CBOR-decoded values; integers may surface as uint64,
// int64 or float64 depending on encoding history.

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case uint64:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func asStringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func asStringMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}
