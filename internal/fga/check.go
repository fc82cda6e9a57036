package fga

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/lavente-care/ciam/internal/store"
)

// DefaultDepthCap bounds the structural-recursion evaluator's call depth
// independent of the cycle guard — a model with no literal cycle but a very
// long computed_userset chain still can't run away.
const DefaultDepthCap = 25

type tupleStore interface {
	ListTuplesForObjectRelation(ctx context.Context, storeID uuid.UUID, objectType, objectID, relation string) ([]store.RelationTuple, error)
	ListTuplesForSubject(ctx context.Context, storeID uuid.UUID, objectType, relation string, subjectType store.SubjectType, subjectID string) ([]store.RelationTuple, error)
	GetCurrentAuthorizationModel(ctx context.Context, storeID uuid.UUID) (store.AuthorizationModel, error)
}

// Engine evaluates check/expand/list_objects against a versioned schema and
// the live tuple store, memoizing decisions in a process-local LRU.
type Engine struct {
	db       tupleStore
	cache    *decisionCache
	depthCap int
}

// NewEngine builds an Engine. cacheSize <= 0 disables caching.
func NewEngine(db tupleStore, cacheSize int, depthCap int) *Engine {
	if depthCap <= 0 {
		depthCap = DefaultDepthCap
	}
	return &Engine{db: db, cache: newDecisionCache(cacheSize), depthCap: depthCap}
}

// frame tracks the (type, object, relation) triples visited on the current
// path, so a rewrite graph with a genuine cycle (A's viewer includes B's
// viewer includes A's viewer) fails closed instead of recursing forever.
type frame struct {
	objectType string
	objectID   string
	relation   string
}

// evalState threads the schema index, visited-frame set, and remaining
// depth budget through one Check call's recursion.
type evalState struct {
	idx     relationIndex
	visited map[frame]bool
	depth   int
}

// Check answers whether subject has relation on object, per the schema
// currently promoted for storeID.
func (e *Engine) Check(ctx context.Context, storeID uuid.UUID, modelVersion int64, object ObjectRef, relation string, subject SubjectRef) (bool, error) {
	key := decisionCacheKey{
		storeID: storeID.String(), modelVersion: modelVersion,
		objectType: object.Type, objectID: object.ID, relation: relation,
		subjectType: string(subject.Type), subjectID: subject.ID,
	}
	if v, ok := e.cache.get(key); ok {
		return v, nil
	}

	model, err := e.db.GetCurrentAuthorizationModel(ctx, storeID)
	if err != nil {
		return false, fmt.Errorf("fga: loading authorization model: %w", err)
	}
	schema, err := UnmarshalSchema(model.Schema)
	if err != nil {
		return false, err
	}

	state := &evalState{idx: buildIndex(schema), visited: make(map[frame]bool)}
	ok, err := e.check(ctx, storeID, object, relation, subject, state)
	if err != nil {
		return false, err
	}
	e.cache.put(key, ok)
	return ok, nil
}

func (e *Engine) check(ctx context.Context, storeID uuid.UUID, object ObjectRef, relation string, subject SubjectRef, state *evalState) (bool, error) {
	state.depth++
	defer func() { state.depth-- }()
	if state.depth > e.depthCap {
		return false, fmt.Errorf("fga: check exceeded depth cap %d (possible runaway rewrite chain)", e.depthCap)
	}

	f := frame{objectType: object.Type, objectID: object.ID, relation: relation}
	if state.visited[f] {
		return false, fmt.Errorf("fga: cycle detected evaluating %s:%s#%s", object.Type, object.ID, relation)
	}
	state.visited[f] = true
	defer delete(state.visited, f)

	rw, err := state.idx.lookup(object.Type, relation)
	if err != nil {
		return false, err
	}

	return e.evalRewrite(ctx, storeID, object, relation, rw, subject, state)
}

func (e *Engine) evalRewrite(ctx context.Context, storeID uuid.UUID, object ObjectRef, relation string, rw Rewrite, subject SubjectRef, state *evalState) (bool, error) {
	switch rw.Kind {
	case RewriteThis:
		return e.evalThis(ctx, storeID, object, relation, subject, state)

	case RewriteComputedUserset:
		return e.check(ctx, storeID, object, rw.Relation, subject, state)

	case RewriteTupleToUserset:
		return e.evalTupleToUserset(ctx, storeID, object, rw, subject, state)

	case RewriteUnion:
		for _, child := range rw.Children {
			ok, err := e.evalRewrite(ctx, storeID, object, relation, child, subject, state)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case RewriteIntersection:
		for _, child := range rw.Children {
			ok, err := e.evalRewrite(ctx, storeID, object, relation, child, subject, state)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case RewriteDifference:
		if len(rw.Children) != 2 {
			return false, fmt.Errorf("fga: difference rewrite requires exactly two children")
		}
		base, err := e.evalRewrite(ctx, storeID, object, relation, rw.Children[0], subject, state)
		if err != nil || !base {
			return base, err
		}
		excluded, err := e.evalRewrite(ctx, storeID, object, relation, rw.Children[1], subject, state)
		if err != nil {
			return false, err
		}
		return !excluded, nil

	default:
		return false, fmt.Errorf("fga: unknown rewrite kind %q", rw.Kind)
	}
}

// evalThis checks direct tuples on (object, relation): a tuple naming
// subject exactly, or a userset tuple (e.g. "group:eng#member") whose
// membership recursively includes subject.
func (e *Engine) evalThis(ctx context.Context, storeID uuid.UUID, object ObjectRef, relation string, subject SubjectRef, state *evalState) (bool, error) {
	tuples, err := e.db.ListTuplesForObjectRelation(ctx, storeID, object.Type, object.ID, relation)
	if err != nil {
		return false, fmt.Errorf("fga: listing tuples: %w", err)
	}

	for _, t := range tuples {
		if t.SubjectType == subject.Type && t.SubjectID == subject.ID && t.SubjectRelation == "" {
			return true, nil
		}
		// Userset tuple: object#relation is related to t.SubjectID's
		// t.SubjectRelation. Recurse into that userset.
		if t.SubjectRelation != "" {
			ok, err := e.check(ctx, storeID, ObjectRef{Type: string(t.SubjectType), ID: t.SubjectID}, t.SubjectRelation, subject, state)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
	}
	return false, nil
}

// evalTupleToUserset walks TuplesetRelation's tuples on object (e.g. a
// document's "parent" tuples), then checks ComputedRelation on each related
// object (e.g. the parent folder's "viewer").
func (e *Engine) evalTupleToUserset(ctx context.Context, storeID uuid.UUID, object ObjectRef, rw Rewrite, subject SubjectRef, state *evalState) (bool, error) {
	tuples, err := e.db.ListTuplesForObjectRelation(ctx, storeID, object.Type, object.ID, rw.TuplesetRelation)
	if err != nil {
		return false, fmt.Errorf("fga: listing tupleset tuples: %w", err)
	}
	for _, t := range tuples {
		related := ObjectRef{Type: string(t.SubjectType), ID: t.SubjectID}
		ok, err := e.check(ctx, storeID, related, rw.ComputedRelation, subject, state)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
