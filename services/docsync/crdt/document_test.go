// Copyright (C) 2026 CoRATES (dev@corates.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package crdt

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corates/docsync/services/docsync/datatypes"
)

func mustDoc(t *testing.T, actor string) *Document {
	t.Helper()
	d, err := NewDocument(actor)
	require.NoError(t, err)
	return d
}

func TestMutateEmitsSingleDelta(t *testing.T) {
	src := mustDoc(t, "replica-a")

	delta, err := src.Mutate(func(tx *Tx) error {
		tx.SetMeta("title", "Hypertension Review")
		tx.PutMember(datatypes.Member{UserID: "u1", Role: "lead", Name: "Ada"})
		tx.EnsureStudy("s1", "Smith 2024")
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, delta)

	// A second replica applying that one delta sees all of it at once.
	dst := mustDoc(t, "replica-b")
	changed, err := dst.ApplyRemote(delta)
	require.NoError(t, err)
	assert.True(t, changed)

	assert.Equal(t, "Hypertension Review", dst.Meta()["title"])
	m, ok := dst.Member("u1")
	require.True(t, ok)
	assert.Equal(t, "lead", m.Role)
	assert.Equal(t, "Ada", m.Name)
	assert.True(t, dst.HasStudy("s1"))
}

func TestMutateNoWritesYieldsNilDelta(t *testing.T) {
	d := mustDoc(t, "replica-a")
	delta, err := d.Mutate(func(tx *Tx) error { return nil })
	require.NoError(t, err)
	assert.Nil(t, delta)
}

func TestMutateErrorRollsBack(t *testing.T) {
	d := mustDoc(t, "replica-a")
	_, err := d.Mutate(func(tx *Tx) error {
		tx.SetMeta("title", "keep")
		return nil
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	delta, err := d.Mutate(func(tx *Tx) error {
		tx.SetMeta("title", "discard")
		tx.PutMember(datatypes.Member{UserID: "u9", Role: "member"})
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Nil(t, delta)

	assert.Equal(t, "keep", d.Meta()["title"])
	_, ok := d.Member("u9")
	assert.False(t, ok, "failed transaction must leave no trace")
}

func TestLoadIdempotent(t *testing.T) {
	src := mustDoc(t, "replica-a")
	_, err := src.Mutate(func(tx *Tx) error {
		tx.SetMeta("title", "Review")
		tx.PutMember(datatypes.Member{UserID: "u1", Role: "lead"})
		return nil
	})
	require.NoError(t, err)

	snap, err := src.EncodeFull()
	require.NoError(t, err)

	d := mustDoc(t, "replica-b")
	require.NoError(t, d.Load(nil)) // cold start with no snapshot
	require.NoError(t, d.Load(snap))
	require.NoError(t, d.Load(snap)) // loading twice equals loading once

	assert.Equal(t, src.Export(), d.Export())
}

func TestReplaceMembersIsFullReplacement(t *testing.T) {
	d := mustDoc(t, "replica-a")
	_, err := d.Mutate(func(tx *Tx) error {
		tx.PutMember(datatypes.Member{UserID: "u1", Role: "lead"})
		tx.PutMember(datatypes.Member{UserID: "u2", Role: "member"})
		return nil
	})
	require.NoError(t, err)

	_, err = d.Mutate(func(tx *Tx) error {
		tx.ReplaceMembers([]datatypes.Member{
			{UserID: "u2", Role: "lead"},
			{UserID: "u3", Role: "member"},
		})
		return nil
	})
	require.NoError(t, err)

	members := d.Members()
	assert.Len(t, members, 2)
	_, gone := members["u1"]
	assert.False(t, gone, "u1 was not in the replacement list")
	assert.Equal(t, "lead", members["u2"].Role)
	assert.Equal(t, "member", members["u3"].Role)
}

func TestReplaceMembersEmptyListClearsRoster(t *testing.T) {
	d := mustDoc(t, "replica-a")
	_, err := d.Mutate(func(tx *Tx) error {
		tx.PutMember(datatypes.Member{UserID: "u1", Role: "lead"})
		return nil
	})
	require.NoError(t, err)

	_, err = d.Mutate(func(tx *Tx) error {
		tx.ReplaceMembers(nil)
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, d.Members())
}

func TestPdfSubMapCreatedLazily(t *testing.T) {
	d := mustDoc(t, "replica-a")
	_, err := d.Mutate(func(tx *Tx) error {
		tx.EnsureStudy("s1", "Smith 2024")
		return nil
	})
	require.NoError(t, err)
	assert.Nil(t, d.Pdfs("s1"), "pdfs sub-map must not exist before first attachment")

	_, err = d.Mutate(func(tx *Tx) error {
		tx.EnsureStudy("s1", "Smith 2024") // no-op, study exists
		tx.PutPdf("s1", datatypes.Pdf{
			Name: "smith-2024.pdf", Key: "b/smith", Size: 1024,
			UploadedBy: "u1", UploadedAt: 1756300000000,
		})
		return nil
	})
	require.NoError(t, err)

	pdfs := d.Pdfs("s1")
	require.Len(t, pdfs, 1)
	assert.Equal(t, "b/smith", pdfs["smith-2024.pdf"].Key)
	assert.Equal(t, int64(1024), pdfs["smith-2024.pdf"].Size)

	// The lazy create did not clobber the study title.
	s, ok := d.Study("s1")
	require.True(t, ok)
	assert.Equal(t, "Smith 2024", s.Title)
}

func TestRemovePdfKeepsStudy(t *testing.T) {
	d := mustDoc(t, "replica-a")
	_, err := d.Mutate(func(tx *Tx) error {
		tx.EnsureStudy("s1", "Smith 2024")
		tx.PutPdf("s1", datatypes.Pdf{Name: "a.pdf", Key: "k"})
		return nil
	})
	require.NoError(t, err)

	_, err = d.Mutate(func(tx *Tx) error {
		tx.RemovePdf("s1", "a.pdf")
		return nil
	})
	require.NoError(t, err)

	assert.Nil(t, d.Pdfs("s1"))
	assert.True(t, d.HasStudy("s1"))
}

func TestStudyMaterializesNestedRecords(t *testing.T) {
	d := mustDoc(t, "replica-a")
	_, err := d.Mutate(func(tx *Tx) error {
		tx.PutStudy(datatypes.Study{
			ID:        "s1",
			Title:     "Smith 2024",
			Authors:   "Smith et al.",
			Year:      2024,
			Reviewers: []string{"u1", "u2"},
			Reconciliation: &datatypes.Reconciliation{
				Status: "pending", AssignedTo: "u1", UpdatedAt: 1756300000000,
			},
			Checklists: map[string]datatypes.Checklist{
				"c1": {ID: "c1", Type: "amstar2", Status: "in_progress",
					Answers: map[string]any{"q1": "yes"}},
			},
		})
		return nil
	})
	require.NoError(t, err)

	s, ok := d.Study("s1")
	require.True(t, ok)
	assert.Equal(t, int64(2024), s.Year)
	assert.Equal(t, []string{"u1", "u2"}, s.Reviewers)
	require.NotNil(t, s.Reconciliation)
	assert.Equal(t, "pending", s.Reconciliation.Status)
	require.Contains(t, s.Checklists, "c1")
	assert.Equal(t, "amstar2", s.Checklists["c1"].Type)
	assert.Equal(t, "yes", s.Checklists["c1"].Answers["q1"])
}

func TestImportReplaceResetsDocument(t *testing.T) {
	d := mustDoc(t, "replica-a")
	_, err := d.Mutate(func(tx *Tx) error {
		tx.SetMeta("title", "old")
		tx.PutMember(datatypes.Member{UserID: "gone", Role: "lead"})
		return nil
	})
	require.NoError(t, err)

	_, err = d.Mutate(func(tx *Tx) error {
		tx.Import(datatypes.ProjectDocument{
			Meta:    map[string]string{"title": "new"},
			Members: map[string]datatypes.Member{"u1": {Role: "lead"}},
		}, true)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, "new", d.Meta()["title"])
	members := d.Members()
	require.Len(t, members, 1)
	assert.Equal(t, "lead", members["u1"].Role)
}

func TestConcurrentEditsConvergeAcrossDocuments(t *testing.T) {
	a := mustDoc(t, "replica-a")
	b := mustDoc(t, "replica-b")

	da, err := a.Mutate(func(tx *Tx) error {
		tx.SetMeta("title", "from-a")
		return nil
	})
	require.NoError(t, err)
	db, err := b.Mutate(func(tx *Tx) error {
		tx.PutMember(datatypes.Member{UserID: "u1", Role: "lead"})
		return nil
	})
	require.NoError(t, err)

	_, err = a.ApplyRemote(db)
	require.NoError(t, err)
	_, err = b.ApplyRemote(da)
	require.NoError(t, err)

	assert.Equal(t, a.Export(), b.Export())
}

func TestEncodeDeltaSinceSkipsSeenState(t *testing.T) {
	d := mustDoc(t, "replica-a")
	_, err := d.Mutate(func(tx *Tx) error {
		tx.SetMeta("title", "v1")
		return nil
	})
	require.NoError(t, err)
	vv := d.VersionVector()

	_, err = d.Mutate(func(tx *Tx) error {
		tx.SetMeta("status", "active")
		return nil
	})
	require.NoError(t, err)

	raw, err := d.EncodeDeltaSince(vv)
	require.NoError(t, err)
	delta, err := DecodeDelta(raw)
	require.NoError(t, err)
	require.Len(t, delta.Entries, 1)
	assert.Contains(t, delta.Entries, "meta/status")
}
