package fga

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lavente-care/ciam/internal/store"
)

// fakeTuples is an in-memory tupleStore backing the evaluator tests.
type fakeTuples struct {
	tuples []store.RelationTuple
	model  store.AuthorizationModel
}

func (f *fakeTuples) ListTuplesForObjectRelation(_ context.Context, _ uuid.UUID, objectType, objectID, relation string) ([]store.RelationTuple, error) {
	var out []store.RelationTuple
	for _, t := range f.tuples {
		if t.ObjectType == objectType && t.ObjectID == objectID && t.Relation == relation {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTuples) ListTuplesForSubject(_ context.Context, _ uuid.UUID, objectType, relation string, subjectType store.SubjectType, subjectID string) ([]store.RelationTuple, error) {
	var out []store.RelationTuple
	for _, t := range f.tuples {
		if t.ObjectType == objectType && t.Relation == relation && t.SubjectType == subjectType && t.SubjectID == subjectID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTuples) GetCurrentAuthorizationModel(_ context.Context, _ uuid.UUID) (store.AuthorizationModel, error) {
	return f.model, nil
}

func schemaFor(t *testing.T, s Schema) store.AuthorizationModel {
	t.Helper()
	raw, err := MarshalSchema(s)
	require.NoError(t, err)
	return store.AuthorizationModel{Version: 1, Schema: json.RawMessage(raw), IsValid: true}
}

func TestCheck_DirectTupleGrantsRelation(t *testing.T) {
	schema := Schema{Types: []TypeDef{
		{Name: "document", Relations: []RelationDef{
			{Name: "viewer", Rewrite: Rewrite{Kind: RewriteThis}},
		}},
	}}
	db := &fakeTuples{
		model: schemaFor(t, schema),
		tuples: []store.RelationTuple{
			{ObjectType: "document", ObjectID: "doc1", Relation: "viewer", SubjectType: store.SubjectUser, SubjectID: "alice"},
		},
	}
	e := NewEngine(db, 0, 0)

	ok, err := e.Check(context.Background(), uuid.New(), 1, ObjectRef{Type: "document", ID: "doc1"}, "viewer", SubjectRef{Type: store.SubjectUser, ID: "alice"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Check(context.Background(), uuid.New(), 1, ObjectRef{Type: "document", ID: "doc1"}, "viewer", SubjectRef{Type: store.SubjectUser, ID: "bob"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheck_ComputedUsersetInheritsOwnerAsEditorAsViewer(t *testing.T) {
	schema := Schema{Types: []TypeDef{
		{Name: "document", Relations: []RelationDef{
			{Name: "owner", Rewrite: Rewrite{Kind: RewriteThis}},
			{Name: "editor", Rewrite: Rewrite{Kind: RewriteUnion, Children: []Rewrite{
				{Kind: RewriteThis},
				{Kind: RewriteComputedUserset, Relation: "owner"},
			}}},
			{Name: "viewer", Rewrite: Rewrite{Kind: RewriteUnion, Children: []Rewrite{
				{Kind: RewriteThis},
				{Kind: RewriteComputedUserset, Relation: "editor"},
			}}},
		}},
	}}
	db := &fakeTuples{
		model: schemaFor(t, schema),
		tuples: []store.RelationTuple{
			{ObjectType: "document", ObjectID: "doc1", Relation: "owner", SubjectType: store.SubjectUser, SubjectID: "alice"},
		},
	}
	e := NewEngine(db, 10, 0)

	ok, err := e.Check(context.Background(), uuid.New(), 1, ObjectRef{Type: "document", ID: "doc1"}, "viewer", SubjectRef{Type: store.SubjectUser, ID: "alice"})
	require.NoError(t, err)
	assert.True(t, ok, "owner should transitively be a viewer via editor")
}

func TestCheck_TupleToUsersetInheritsFromParentFolder(t *testing.T) {
	schema := Schema{Types: []TypeDef{
		{Name: "folder", Relations: []RelationDef{
			{Name: "viewer", Rewrite: Rewrite{Kind: RewriteThis}},
		}},
		{Name: "document", Relations: []RelationDef{
			{Name: "parent", Rewrite: Rewrite{Kind: RewriteThis}},
			{Name: "viewer", Rewrite: Rewrite{Kind: RewriteTupleToUserset, TuplesetRelation: "parent", ComputedRelation: "viewer"}},
		}},
	}}
	db := &fakeTuples{
		model: schemaFor(t, schema),
		tuples: []store.RelationTuple{
			{ObjectType: "document", ObjectID: "doc1", Relation: "parent", SubjectType: "folder", SubjectID: "folderA"},
			{ObjectType: "folder", ObjectID: "folderA", Relation: "viewer", SubjectType: store.SubjectUser, SubjectID: "alice"},
		},
	}
	e := NewEngine(db, 10, 0)

	ok, err := e.Check(context.Background(), uuid.New(), 1, ObjectRef{Type: "document", ID: "doc1"}, "viewer", SubjectRef{Type: store.SubjectUser, ID: "alice"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheck_DifferenceExcludesBannedSubject(t *testing.T) {
	schema := Schema{Types: []TypeDef{
		{Name: "document", Relations: []RelationDef{
			{Name: "viewer", Rewrite: Rewrite{Kind: RewriteThis}},
			{Name: "banned", Rewrite: Rewrite{Kind: RewriteThis}},
			{Name: "effective_viewer", Rewrite: Rewrite{Kind: RewriteDifference, Children: []Rewrite{
				{Kind: RewriteComputedUserset, Relation: "viewer"},
				{Kind: RewriteComputedUserset, Relation: "banned"},
			}}},
		}},
	}}
	db := &fakeTuples{
		model: schemaFor(t, schema),
		tuples: []store.RelationTuple{
			{ObjectType: "document", ObjectID: "doc1", Relation: "viewer", SubjectType: store.SubjectUser, SubjectID: "alice"},
			{ObjectType: "document", ObjectID: "doc1", Relation: "banned", SubjectType: store.SubjectUser, SubjectID: "alice"},
		},
	}
	e := NewEngine(db, 10, 0)

	ok, err := e.Check(context.Background(), uuid.New(), 1, ObjectRef{Type: "document", ID: "doc1"}, "effective_viewer", SubjectRef{Type: store.SubjectUser, ID: "alice"})
	require.NoError(t, err)
	assert.False(t, ok, "banned subject must be excluded even though directly a viewer")
}

func TestCheck_UsersetTupleExpandsGroupMembership(t *testing.T) {
	schema := Schema{Types: []TypeDef{
		{Name: "group", Relations: []RelationDef{
			{Name: "member", Rewrite: Rewrite{Kind: RewriteThis}},
		}},
		{Name: "document", Relations: []RelationDef{
			{Name: "viewer", Rewrite: Rewrite{Kind: RewriteThis}},
		}},
	}}
	db := &fakeTuples{
		model: schemaFor(t, schema),
		tuples: []store.RelationTuple{
			// document1's viewer includes group:eng#member
			{ObjectType: "document", ObjectID: "doc1", Relation: "viewer", SubjectType: "group", SubjectID: "eng", SubjectRelation: "member"},
			{ObjectType: "group", ObjectID: "eng", Relation: "member", SubjectType: store.SubjectUser, SubjectID: "alice"},
		},
	}
	e := NewEngine(db, 10, 0)

	ok, err := e.Check(context.Background(), uuid.New(), 1, ObjectRef{Type: "document", ID: "doc1"}, "viewer", SubjectRef{Type: store.SubjectUser, ID: "alice"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheck_DepthCapRejectsRunawayChain(t *testing.T) {
	// A computed_userset chain one relation longer than the cap.
	relations := make([]RelationDef, 0, DefaultDepthCap+2)
	for i := 0; i < DefaultDepthCap+1; i++ {
		next := fmt.Sprintf("r%d", i+1)
		relations = append(relations, RelationDef{Name: fmt.Sprintf("r%d", i), Rewrite: Rewrite{Kind: RewriteComputedUserset, Relation: next}})
	}
	last := fmt.Sprintf("r%d", DefaultDepthCap+1)
	relations = append(relations, RelationDef{Name: last, Rewrite: Rewrite{Kind: RewriteThis}})

	schema := Schema{Types: []TypeDef{{Name: "doc", Relations: relations}}}
	db := &fakeTuples{model: schemaFor(t, schema)}
	e := NewEngine(db, 0, DefaultDepthCap)

	_, err := e.Check(context.Background(), uuid.New(), 1, ObjectRef{Type: "doc", ID: "d1"}, "r0", SubjectRef{Type: store.SubjectUser, ID: "alice"})
	require.Error(t, err)
}

func TestEngine_ListObjects_WalksTupleToUsersetBackward(t *testing.T) {
	// document.viewer = this ∪ computed(editor) ∪ tuple_to_userset(parent, viewer):
	// alice is a viewer of folderA only, and doc1 hangs under folderA, so
	// doc1 must be discovered through the parent walk — there is no direct
	// document tuple naming alice at all.
	schema := Schema{Types: []TypeDef{
		{Name: "folder", Relations: []RelationDef{
			{Name: "viewer", Rewrite: Rewrite{Kind: RewriteThis}},
		}},
		{Name: "document", Relations: []RelationDef{
			{Name: "parent", Rewrite: Rewrite{Kind: RewriteThis, SubjectTypes: []string{"folder"}}},
			{Name: "editor", Rewrite: Rewrite{Kind: RewriteThis}},
			{Name: "viewer", Rewrite: Rewrite{Kind: RewriteUnion, Children: []Rewrite{
				{Kind: RewriteThis},
				{Kind: RewriteComputedUserset, Relation: "editor"},
				{Kind: RewriteTupleToUserset, TuplesetRelation: "parent", ComputedRelation: "viewer"},
			}}},
		}},
	}}
	db := &fakeTuples{
		model: schemaFor(t, schema),
		tuples: []store.RelationTuple{
			{ObjectType: "folder", ObjectID: "folderA", Relation: "viewer", SubjectType: store.SubjectUser, SubjectID: "alice"},
			{ObjectType: "document", ObjectID: "doc1", Relation: "parent", SubjectType: "folder", SubjectID: "folderA"},
			{ObjectType: "document", ObjectID: "doc2", Relation: "parent", SubjectType: "folder", SubjectID: "folderB"},
		},
	}
	e := NewEngine(db, 10, 0)

	res, err := e.ListObjects(context.Background(), uuid.New(), 1, "document", "viewer", SubjectRef{Type: store.SubjectUser, ID: "alice"}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc1"}, res.Objects)
	assert.False(t, res.Truncated)

	// Editors found directly still surface alongside the parent walk.
	db.tuples = append(db.tuples, store.RelationTuple{ObjectType: "document", ObjectID: "doc3", Relation: "editor", SubjectType: store.SubjectUser, SubjectID: "alice"})
	res, err = e.ListObjects(context.Background(), uuid.New(), 1, "document", "viewer", SubjectRef{Type: store.SubjectUser, ID: "alice"}, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"doc1", "doc3"}, res.Objects)
}

func TestEngine_ListObjects_ReturnsOnlyAuthorizedObjects(t *testing.T) {
	schema := Schema{Types: []TypeDef{
		{Name: "document", Relations: []RelationDef{
			{Name: "viewer", Rewrite: Rewrite{Kind: RewriteThis}},
		}},
	}}
	db := &fakeTuples{
		model: schemaFor(t, schema),
		tuples: []store.RelationTuple{
			{ObjectType: "document", ObjectID: "doc1", Relation: "viewer", SubjectType: store.SubjectUser, SubjectID: "alice"},
			{ObjectType: "document", ObjectID: "doc2", Relation: "viewer", SubjectType: store.SubjectUser, SubjectID: "bob"},
		},
	}
	e := NewEngine(db, 10, 0)

	res, err := e.ListObjects(context.Background(), uuid.New(), 1, "document", "viewer", SubjectRef{Type: store.SubjectUser, ID: "alice"}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc1"}, res.Objects)
	assert.False(t, res.Truncated)
}
