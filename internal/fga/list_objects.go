package fga

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/lavente-care/ciam/internal/store"
)

// ListObjectsResult reports the objects of a type that subject has relation
// on, capped at Limit. Truncated is set rather than silently dropping the
// tail, per the edge-case handling list_objects calls for when a subject
// belongs to a very large number of objects.
type ListObjectsResult struct {
	Objects   []string
	Truncated bool
}

// ListObjects answers the reverse of Check: every object of objectType
// where subject has relation, up to limit.
//
// Candidate objects are gathered by walking the model backward from the
// subject: direct tuples naming the subject on any relation of objectType,
// plus, for each tuple_to_userset leaf reachable from the target relation's
// rewrite, the objects whose tupleset tuples point at an intermediate
// object the subject could hold the computed relation on (found by the
// same walk, recursively, bounded by the engine's depth cap). The gathered
// set is an over-approximation; each candidate is then re-verified with a
// full Check so the rewrite's actual semantics (intersection, difference,
// nested unions) decide membership rather than the seeding heuristic.
func (e *Engine) ListObjects(ctx context.Context, storeID uuid.UUID, modelVersion int64, objectType, relation string, subject SubjectRef, limit int) (ListObjectsResult, error) {
	model, err := e.db.GetCurrentAuthorizationModel(ctx, storeID)
	if err != nil {
		return ListObjectsResult{}, fmt.Errorf("fga: loading authorization model: %w", err)
	}
	schema, err := UnmarshalSchema(model.Schema)
	if err != nil {
		return ListObjectsResult{}, err
	}
	idx := buildIndex(schema)

	if _, ok := idx[objectType]; !ok {
		return ListObjectsResult{}, fmt.Errorf("fga: unknown type %q", objectType)
	}

	candidates := make(map[string]bool)
	if err := e.seedCandidates(ctx, storeID, idx, objectType, relation, subject, candidates, 0); err != nil {
		return ListObjectsResult{}, err
	}

	var out []string
	truncated := false
	for objectID := range candidates {
		if len(out) >= limit {
			truncated = true
			break
		}
		ok, err := e.Check(ctx, storeID, modelVersion, ObjectRef{Type: objectType, ID: objectID}, relation, subject)
		if err != nil {
			return ListObjectsResult{}, err
		}
		if ok {
			out = append(out, objectID)
		}
	}
	return ListObjectsResult{Objects: out, Truncated: truncated}, nil
}

// seedCandidates over-approximates the objects of objectType that could
// grant relation to subject. Direct tuples on any relation of the type are
// taken as-is (any of them could feed the target through a union or
// computed_userset); tuple_to_userset leaves are walked backward — find the
// intermediates the subject could hold the computed relation on, then the
// objects whose tupleset tuples name those intermediates.
func (e *Engine) seedCandidates(ctx context.Context, storeID uuid.UUID, idx relationIndex, objectType, relation string, subject SubjectRef, out map[string]bool, depth int) error {
	if depth > e.depthCap {
		return nil
	}
	rels, ok := idx[objectType]
	if !ok {
		return nil
	}

	for candidateRelation := range rels {
		tuples, err := e.db.ListTuplesForSubject(ctx, storeID, objectType, candidateRelation, subject.Type, subject.ID)
		if err != nil {
			return fmt.Errorf("fga: listing tuples for subject: %w", err)
		}
		for _, t := range tuples {
			out[t.ObjectID] = true
		}
	}

	for _, leaf := range collectTupleToUsersetLeaves(idx, objectType, relation) {
		tuplesetRw, ok := rels[leaf.TuplesetRelation]
		if !ok {
			continue
		}
		intermediateTypes := collectThisSubjectTypes(tuplesetRw)
		if len(intermediateTypes) == 0 {
			for typeName := range idx {
				intermediateTypes = append(intermediateTypes, typeName)
			}
		}
		for _, intermediateType := range intermediateTypes {
			if _, ok := idx[intermediateType][leaf.ComputedRelation]; !ok {
				continue
			}
			intermediates := make(map[string]bool)
			if err := e.seedCandidates(ctx, storeID, idx, intermediateType, leaf.ComputedRelation, subject, intermediates, depth+1); err != nil {
				return err
			}
			for intermediateID := range intermediates {
				parents, err := e.db.ListTuplesForSubject(ctx, storeID, objectType, leaf.TuplesetRelation, store.SubjectType(intermediateType), intermediateID)
				if err != nil {
					return fmt.Errorf("fga: listing tupleset tuples: %w", err)
				}
				for _, p := range parents {
					out[p.ObjectID] = true
				}
			}
		}
	}
	return nil
}

// collectTupleToUsersetLeaves gathers the tuple_to_userset leaves reachable
// from relation's rewrite, following computed_userset aliases on the same
// type so "viewer = computed(editor)" picks up editor's leaves too.
func collectTupleToUsersetLeaves(idx relationIndex, objectType, relation string) []Rewrite {
	var out []Rewrite
	visited := make(map[string]bool)

	var walkRelation func(rel string)
	var walkRewrite func(rw Rewrite)

	walkRelation = func(rel string) {
		if visited[rel] {
			return
		}
		visited[rel] = true
		rw, ok := idx[objectType][rel]
		if !ok {
			return
		}
		walkRewrite(rw)
	}

	walkRewrite = func(rw Rewrite) {
		switch rw.Kind {
		case RewriteTupleToUserset:
			out = append(out, rw)
		case RewriteComputedUserset:
			walkRelation(rw.Relation)
		case RewriteUnion, RewriteIntersection, RewriteDifference:
			for _, child := range rw.Children {
				walkRewrite(child)
			}
		}
	}

	walkRelation(relation)
	return out
}
