package fga

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/lavente-care/ciam/internal/store"
)

// ErrSchemaViolation rejects a tuple whose (object_type, relation,
// subject_type) triple has no home in the store's current model.
var ErrSchemaViolation = errors.New("fga: schema_violation")

// TupleWriter is the persistence surface ApplyWrites drives. Callers hand
// in a transaction-bound store.Queries so the batch is all-or-nothing.
type TupleWriter interface {
	WriteTuple(ctx context.Context, t store.RelationTuple) (bool, error)
	DeleteTuple(ctx context.Context, t store.RelationTuple) (bool, error)
	AdjustFgaTupleCount(ctx context.Context, storeID uuid.UUID, delta int64) error
}

// ApplyWrites validates every tuple in the batch against the store's
// current model, applies writes then deletes, and adjusts the store's
// tuple_count by the number of rows actually touched. Any schema violation
// fails the whole batch before a single row changes. On success the
// engine's decision cache drops everything cached for the store.
func (e *Engine) ApplyWrites(ctx context.Context, db TupleWriter, storeID uuid.UUID, writes, deletes []store.RelationTuple) error {
	model, err := e.db.GetCurrentAuthorizationModel(ctx, storeID)
	if err != nil {
		return fmt.Errorf("fga: loading current model: %w", err)
	}
	schema, err := UnmarshalSchema(model.Schema)
	if err != nil {
		return err
	}
	idx := buildIndex(schema)

	for _, t := range writes {
		if err := validateTuple(idx, t); err != nil {
			return err
		}
	}
	// Deletes are validated only for addressability: removing a tuple that
	// predates a model change must stay possible, so an unknown relation is
	// the only rejection.
	for _, t := range deletes {
		if _, err := idx.lookup(t.ObjectType, t.Relation); err != nil {
			return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
		}
	}

	var delta int64
	for _, t := range writes {
		t.StoreID = storeID
		inserted, err := db.WriteTuple(ctx, t)
		if err != nil {
			return fmt.Errorf("fga: writing tuple: %w", err)
		}
		if inserted {
			delta++
		}
	}
	for _, t := range deletes {
		t.StoreID = storeID
		removed, err := db.DeleteTuple(ctx, t)
		if err != nil {
			return fmt.Errorf("fga: deleting tuple: %w", err)
		}
		if removed {
			delta--
		}
	}
	if delta != 0 {
		if err := db.AdjustFgaTupleCount(ctx, storeID, delta); err != nil {
			return fmt.Errorf("fga: adjusting tuple count: %w", err)
		}
	}

	e.cache.invalidateStore(storeID.String())
	return nil
}

// validateTuple enforces that the tuple's relation exists on its object
// type and that the subject type is one a `this` leaf of that relation's
// rewrite accepts. A userset subject must itself name an existing relation
// on the subject's type.
func validateTuple(idx relationIndex, t store.RelationTuple) error {
	rw, err := idx.lookup(t.ObjectType, t.Relation)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	if !subjectTypeAllowed(rw, string(t.SubjectType)) {
		return fmt.Errorf("%w: subject type %q not allowed on %s#%s", ErrSchemaViolation, t.SubjectType, t.ObjectType, t.Relation)
	}
	if t.SubjectRelation != "" {
		// group:eng#member style subjects: the referenced relation must
		// exist on the subject's type.
		if _, err := idx.lookup(string(t.SubjectType), t.SubjectRelation); err != nil {
			return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
		}
	}
	return nil
}

// subjectTypeAllowed walks the rewrite for a `this` leaf accepting
// subjectType. A leaf with no declared subject types accepts anything; a
// rewrite with no `this` leaf at all cannot hold direct tuples.
func subjectTypeAllowed(rw Rewrite, subjectType string) bool {
	switch rw.Kind {
	case RewriteThis:
		if len(rw.SubjectTypes) == 0 {
			return true
		}
		for _, st := range rw.SubjectTypes {
			if st == subjectType {
				return true
			}
		}
		return false
	case RewriteTupleToUserset:
		// The tupleset relation itself holds the direct tuples; a write
		// targeting this relation directly stores the object link.
		return true
	case RewriteUnion, RewriteIntersection, RewriteDifference:
		for _, child := range rw.Children {
			if subjectTypeAllowed(child, subjectType) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
