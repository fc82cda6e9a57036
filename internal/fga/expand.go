package fga

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ExpandNode is one node of the tree returned by Expand: either a leaf
// listing the tuples that directly satisfy a `this`, or an internal node
// describing which rewrite combined its children — useful for building
// "who has access and why" UIs without re-running Check once per candidate
// subject.
type ExpandNode struct {
	Kind     RewriteKind
	Relation string // the relation this node evaluates, for display
	Leaves   []SubjectRef
	Children []ExpandNode
}

// Expand builds the contributing-tuple tree for object/relation, without
// evaluating it against any particular subject.
func (e *Engine) Expand(ctx context.Context, storeID uuid.UUID, object ObjectRef, relation string) (ExpandNode, error) {
	model, err := e.db.GetCurrentAuthorizationModel(ctx, storeID)
	if err != nil {
		return ExpandNode{}, fmt.Errorf("fga: loading authorization model: %w", err)
	}
	schema, err := UnmarshalSchema(model.Schema)
	if err != nil {
		return ExpandNode{}, err
	}
	idx := buildIndex(schema)

	visited := make(map[frame]bool)
	return e.expand(ctx, storeID, object, relation, idx, visited, 0)
}

func (e *Engine) expand(ctx context.Context, storeID uuid.UUID, object ObjectRef, relation string, idx relationIndex, visited map[frame]bool, depth int) (ExpandNode, error) {
	if depth > e.depthCap {
		return ExpandNode{}, fmt.Errorf("fga: expand exceeded depth cap %d", e.depthCap)
	}
	f := frame{objectType: object.Type, objectID: object.ID, relation: relation}
	if visited[f] {
		return ExpandNode{}, fmt.Errorf("fga: cycle detected expanding %s:%s#%s", object.Type, object.ID, relation)
	}
	visited[f] = true
	defer delete(visited, f)

	rw, err := idx.lookup(object.Type, relation)
	if err != nil {
		return ExpandNode{}, err
	}
	return e.expandRewrite(ctx, storeID, object, relation, rw, idx, visited, depth+1)
}

func (e *Engine) expandRewrite(ctx context.Context, storeID uuid.UUID, object ObjectRef, relation string, rw Rewrite, idx relationIndex, visited map[frame]bool, depth int) (ExpandNode, error) {
	switch rw.Kind {
	case RewriteThis:
		tuples, err := e.db.ListTuplesForObjectRelation(ctx, storeID, object.Type, object.ID, relation)
		if err != nil {
			return ExpandNode{}, fmt.Errorf("fga: listing tuples: %w", err)
		}
		node := ExpandNode{Kind: RewriteThis, Relation: relation}
		for _, t := range tuples {
			if t.SubjectRelation != "" {
				child, err := e.expand(ctx, storeID, ObjectRef{Type: string(t.SubjectType), ID: t.SubjectID}, t.SubjectRelation, idx, visited, depth+1)
				if err != nil {
					return ExpandNode{}, err
				}
				node.Children = append(node.Children, child)
				continue
			}
			node.Leaves = append(node.Leaves, SubjectRef{Type: t.SubjectType, ID: t.SubjectID})
		}
		return node, nil

	case RewriteComputedUserset:
		child, err := e.expand(ctx, storeID, object, rw.Relation, idx, visited, depth+1)
		if err != nil {
			return ExpandNode{}, err
		}
		return ExpandNode{Kind: RewriteComputedUserset, Relation: rw.Relation, Children: []ExpandNode{child}}, nil

	case RewriteTupleToUserset:
		// Expand resolves a tuple_to_userset leaf to the set of intermediate
		// usersets without dereferencing them further — that recursive walk
		// is Check's job, not Expand's.
		tuples, err := e.db.ListTuplesForObjectRelation(ctx, storeID, object.Type, object.ID, rw.TuplesetRelation)
		if err != nil {
			return ExpandNode{}, fmt.Errorf("fga: listing tupleset tuples: %w", err)
		}
		node := ExpandNode{Kind: RewriteTupleToUserset, Relation: rw.ComputedRelation}
		for _, t := range tuples {
			node.Leaves = append(node.Leaves, SubjectRef{
				Type:     t.SubjectType,
				ID:       t.SubjectID,
				Relation: rw.ComputedRelation,
			})
		}
		return node, nil

	case RewriteUnion, RewriteIntersection, RewriteDifference:
		node := ExpandNode{Kind: rw.Kind, Relation: relation}
		for _, c := range rw.Children {
			child, err := e.expandRewrite(ctx, storeID, object, relation, c, idx, visited, depth+1)
			if err != nil {
				return ExpandNode{}, err
			}
			node.Children = append(node.Children, child)
		}
		return node, nil

	default:
		return ExpandNode{}, fmt.Errorf("fga: unknown rewrite kind %q", rw.Kind)
	}
}
