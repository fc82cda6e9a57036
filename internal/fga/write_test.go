package fga

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lavente-care/ciam/internal/store"
)

// fakeWriter records applied changes and the final count adjustment.
type fakeWriter struct {
	written []store.RelationTuple
	deleted []store.RelationTuple
	delta   int64
}

func (f *fakeWriter) WriteTuple(_ context.Context, t store.RelationTuple) (bool, error) {
	f.written = append(f.written, t)
	return true, nil
}

func (f *fakeWriter) DeleteTuple(_ context.Context, t store.RelationTuple) (bool, error) {
	f.deleted = append(f.deleted, t)
	return true, nil
}

func (f *fakeWriter) AdjustFgaTupleCount(_ context.Context, _ uuid.UUID, delta int64) error {
	f.delta += delta
	return nil
}

func writePlaneSchema(t *testing.T) *fakeTuples {
	t.Helper()
	schema := Schema{Types: []TypeDef{
		{Name: "group", Relations: []RelationDef{
			{Name: "member", Rewrite: Rewrite{Kind: RewriteThis, SubjectTypes: []string{"user"}}},
		}},
		{Name: "document", Relations: []RelationDef{
			{Name: "viewer", Rewrite: Rewrite{Kind: RewriteThis, SubjectTypes: []string{"user", "group"}}},
		}},
	}}
	return &fakeTuples{model: schemaFor(t, schema)}
}

func TestApplyWrites_ValidBatchCountsRows(t *testing.T) {
	e := NewEngine(writePlaneSchema(t), 10, 0)
	fw := &fakeWriter{}
	storeID := uuid.New()

	err := e.ApplyWrites(context.Background(), fw, storeID,
		[]store.RelationTuple{
			{ObjectType: "document", ObjectID: "doc1", Relation: "viewer", SubjectType: store.SubjectUser, SubjectID: "alice"},
			{ObjectType: "group", ObjectID: "eng", Relation: "member", SubjectType: store.SubjectUser, SubjectID: "bob"},
		},
		[]store.RelationTuple{
			{ObjectType: "document", ObjectID: "doc0", Relation: "viewer", SubjectType: store.SubjectUser, SubjectID: "carol"},
		})
	require.NoError(t, err)
	assert.Len(t, fw.written, 2)
	assert.Len(t, fw.deleted, 1)
	assert.Equal(t, int64(1), fw.delta)
	for _, w := range fw.written {
		assert.Equal(t, storeID, w.StoreID, "store id is stamped server-side")
	}
}

func TestApplyWrites_UnknownRelationRejectsWholeBatch(t *testing.T) {
	e := NewEngine(writePlaneSchema(t), 10, 0)
	fw := &fakeWriter{}

	err := e.ApplyWrites(context.Background(), fw, uuid.New(),
		[]store.RelationTuple{
			{ObjectType: "document", ObjectID: "doc1", Relation: "viewer", SubjectType: store.SubjectUser, SubjectID: "alice"},
			{ObjectType: "document", ObjectID: "doc1", Relation: "owner", SubjectType: store.SubjectUser, SubjectID: "alice"},
		}, nil)
	require.ErrorIs(t, err, ErrSchemaViolation)
	assert.Empty(t, fw.written, "no row may land when any tuple fails validation")
}

func TestApplyWrites_DisallowedSubjectTypeRejected(t *testing.T) {
	e := NewEngine(writePlaneSchema(t), 10, 0)
	fw := &fakeWriter{}

	err := e.ApplyWrites(context.Background(), fw, uuid.New(),
		[]store.RelationTuple{
			{ObjectType: "group", ObjectID: "eng", Relation: "member", SubjectType: store.SubjectApplication, SubjectID: "svc-1"},
		}, nil)
	require.ErrorIs(t, err, ErrSchemaViolation)
}

func TestApplyWrites_UsersetSubjectMustNameRealRelation(t *testing.T) {
	e := NewEngine(writePlaneSchema(t), 10, 0)
	fw := &fakeWriter{}

	// group:eng#member as a document viewer: fine.
	err := e.ApplyWrites(context.Background(), fw, uuid.New(),
		[]store.RelationTuple{
			{ObjectType: "document", ObjectID: "doc1", Relation: "viewer", SubjectType: "group", SubjectID: "eng", SubjectRelation: "member"},
		}, nil)
	require.NoError(t, err)

	// group:eng#owner: "owner" is not a relation on group.
	err = e.ApplyWrites(context.Background(), fw, uuid.New(),
		[]store.RelationTuple{
			{ObjectType: "document", ObjectID: "doc1", Relation: "viewer", SubjectType: "group", SubjectID: "eng", SubjectRelation: "owner"},
		}, nil)
	require.ErrorIs(t, err, ErrSchemaViolation)
}
