// Package fga is a Zanzibar-style fine-grained authorization engine: a
// tuple store, a rewrite-expression authorization model, and a
// check/expand/list_objects evaluator. The evaluator is a structural
// recursion over a tagged rewrite AST; persistence lives in
// internal/store/fga.go, and decisions are cached in a process-local LRU
// invalidated by writes and model promotions.
package fga

import (
	"encoding/json"
	"fmt"

	"github.com/lavente-care/ciam/internal/store"
)

// RewriteKind tags which case of the set-rewrite sum type a Rewrite node is.
type RewriteKind string

const (
	RewriteThis             RewriteKind = "this"
	RewriteComputedUserset   RewriteKind = "computed_userset"
	RewriteTupleToUserset    RewriteKind = "tuple_to_userset"
	RewriteUnion             RewriteKind = "union"
	RewriteIntersection      RewriteKind = "intersection"
	RewriteDifference        RewriteKind = "difference"
)

// Rewrite is one node of a relation's set-rewrite expression tree. Only the
// fields relevant to Kind are populated; this mirrors a tagged union using
// Go's zero-value-means-absent convention rather than an interface, which
// keeps (de)serialization to/from the stored JSON schema straightforward.
type Rewrite struct {
	Kind RewriteKind `json:"kind"`

	// RewriteThis: subject types a direct tuple may carry for this
	// relation. Empty means any subject type is accepted.
	SubjectTypes []string `json:"subject_types,omitempty"`

	// RewriteComputedUserset: the relation on the same object to defer to.
	Relation string `json:"relation,omitempty"`

	// RewriteTupleToUserset: walk tuples of TuplesetRelation on the object to
	// find related objects, then evaluate ComputedRelation on each.
	TuplesetRelation  string `json:"tupleset_relation,omitempty"`
	ComputedRelation  string `json:"computed_relation,omitempty"`

	// RewriteUnion/Intersection/Difference: child expressions. Difference
	// uses exactly Children[0] minus Children[1].
	Children []Rewrite `json:"children,omitempty"`
}

// RelationDef is one relation's definition within a type.
type RelationDef struct {
	Name    string  `json:"name"`
	Rewrite Rewrite `json:"rewrite"`
}

// TypeDef is one object type's set of relations.
type TypeDef struct {
	Name      string        `json:"name"`
	Relations []RelationDef `json:"relations"`
}

// Schema is the full authorization model: every object type and its
// relations, as stored in AuthorizationModel.Schema.
type Schema struct {
	Types []TypeDef `json:"types"`
}

// relationIndex gives O(1) lookup of a (type, relation)'s rewrite tree
// during evaluation.
type relationIndex map[string]map[string]Rewrite

func buildIndex(s Schema) relationIndex {
	idx := make(relationIndex, len(s.Types))
	for _, t := range s.Types {
		rels := make(map[string]Rewrite, len(t.Relations))
		for _, r := range t.Relations {
			rels[r.Name] = r.Rewrite
		}
		idx[t.Name] = rels
	}
	return idx
}

func (idx relationIndex) lookup(objectType, relation string) (Rewrite, error) {
	rels, ok := idx[objectType]
	if !ok {
		return Rewrite{}, fmt.Errorf("fga: unknown type %q", objectType)
	}
	rw, ok := rels[relation]
	if !ok {
		return Rewrite{}, fmt.Errorf("fga: unknown relation %q on type %q", relation, objectType)
	}
	return rw, nil
}

// ValidateSchema rejects structurally unsound models before they're
// promoted: unresolvable relation references, tuple_to_userset targets no
// subject type can satisfy, and relations defined in terms of themselves
// without going through a `this` base case. This is the schema_violation
// rejection path — a model that fails validation is still stored (with
// IsValid=false and ValidationErrors populated) for diagnosis, but never
// promoted to current.
func ValidateSchema(s Schema) []string {
	idx := buildIndex(s)
	var errs []string
	for _, t := range s.Types {
		for _, r := range t.Relations {
			errs = append(errs, validateRewrite(idx, t.Name, r.Rewrite)...)
		}
	}
	errs = append(errs, validateNoUnguardedRecursion(idx, s)...)
	return errs
}

func validateRewrite(idx relationIndex, objectType string, rw Rewrite) []string {
	var errs []string
	switch rw.Kind {
	case RewriteThis:
		// Leaf: always structurally valid; semantic correctness is checked
		// at write time against actual tuples.
	case RewriteComputedUserset:
		if _, err := idx.lookup(objectType, rw.Relation); err != nil {
			errs = append(errs, err.Error())
		}
	case RewriteTupleToUserset:
		tuplesetRw, err := idx.lookup(objectType, rw.TuplesetRelation)
		if err != nil {
			errs = append(errs, err.Error())
			break
		}
		// At least one object type a tupleset tuple may carry must itself
		// define the computed relation; otherwise the leaf can never match
		// and the model is broken, not merely empty.
		subjectTypes := collectThisSubjectTypes(tuplesetRw)
		if len(subjectTypes) == 0 {
			for typeName := range idx {
				subjectTypes = append(subjectTypes, typeName)
			}
		}
		found := false
		for _, st := range subjectTypes {
			if rels, ok := idx[st]; ok {
				if _, ok := rels[rw.ComputedRelation]; ok {
					found = true
					break
				}
			}
		}
		if !found {
			errs = append(errs, fmt.Sprintf("fga: no subject type of tupleset %q on type %q defines relation %q", rw.TuplesetRelation, objectType, rw.ComputedRelation))
		}
	case RewriteUnion, RewriteIntersection, RewriteDifference:
		for _, child := range rw.Children {
			errs = append(errs, validateRewrite(idx, objectType, child)...)
		}
		if rw.Kind == RewriteDifference && len(rw.Children) != 2 {
			errs = append(errs, "fga: difference rewrite requires exactly two children")
		}
	default:
		errs = append(errs, fmt.Sprintf("fga: unknown rewrite kind %q", rw.Kind))
	}
	return errs
}

// collectThisSubjectTypes gathers the subject types declared on the `this`
// leaves of a rewrite. Empty means the leaves declare none (any type).
func collectThisSubjectTypes(rw Rewrite) []string {
	switch rw.Kind {
	case RewriteThis:
		return rw.SubjectTypes
	case RewriteUnion, RewriteIntersection, RewriteDifference:
		var out []string
		for _, child := range rw.Children {
			out = append(out, collectThisSubjectTypes(child)...)
		}
		return out
	default:
		return nil
	}
}

// validateNoUnguardedRecursion rejects relations that reach themselves
// through computed_userset references alone. A cycle broken by a `this`
// leaf (direct tuples) or a tuple_to_userset hop has a well-founded base
// case and is left to the evaluator's depth guard.
func validateNoUnguardedRecursion(idx relationIndex, s Schema) []string {
	var errs []string
	for _, t := range s.Types {
		edges := make(map[string][]string, len(t.Relations))
		for _, r := range t.Relations {
			edges[r.Name] = collectComputedRefs(r.Rewrite)
		}

		var reaches func(from, target string, seen map[string]bool) bool
		reaches = func(from, target string, seen map[string]bool) bool {
			for _, next := range edges[from] {
				if next == target {
					return true
				}
				if !seen[next] {
					seen[next] = true
					if reaches(next, target, seen) {
						return true
					}
				}
			}
			return false
		}

		for _, r := range t.Relations {
			if reaches(r.Name, r.Name, make(map[string]bool, len(edges))) {
				errs = append(errs, fmt.Sprintf("fga: relation %q on type %q is defined in terms of itself without going through this", r.Name, t.Name))
			}
		}
	}
	return errs
}

// collectComputedRefs lists the same-type relations a rewrite defers to via
// computed_userset, the only reference kind with no base case of its own.
func collectComputedRefs(rw Rewrite) []string {
	switch rw.Kind {
	case RewriteComputedUserset:
		return []string{rw.Relation}
	case RewriteUnion, RewriteIntersection, RewriteDifference:
		var out []string
		for _, child := range rw.Children {
			out = append(out, collectComputedRefs(child)...)
		}
		return out
	default:
		return nil
	}
}

// MarshalSchema and UnmarshalSchema round-trip a Schema to/from the JSON
// column store.Queries.CreateAuthorizationModel persists.
func MarshalSchema(s Schema) (json.RawMessage, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("fga: marshaling schema: %w", err)
	}
	return b, nil
}

func UnmarshalSchema(raw json.RawMessage) (Schema, error) {
	var s Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return Schema{}, fmt.Errorf("fga: unmarshaling schema: %w", err)
	}
	return s, nil
}

// ObjectRef and SubjectRef name a tuple endpoint for Check/Expand calls.
type ObjectRef struct {
	Type string
	ID   string
}

type SubjectRef struct {
	Type     store.SubjectType
	ID       string
	Relation string // set when the subject itself is a userset reference
}

func (s SubjectRef) isUserset() bool { return s.Type == store.SubjectUserset }
