package store

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// fga.go persists the relation-tuple store and versioned authorization
// models. The
// evaluator itself (internal/fga) holds no storage logic of its own; it
// reads through this package and caches decisions in an in-process LRU.

func (q *Queries) CreateFgaStore(ctx context.Context, id, tenantID uuid.UUID, name string) (FgaStore, error) {
	const query = `
		INSERT INTO fga_stores (id, tenant_id, name, current_model_version, tuple_count, is_active)
		VALUES ($1, $2, $3, 0, 0, true)
		RETURNING id, tenant_id, name, current_model_version, tuple_count, is_active, created_at`
	var s FgaStore
	err := q.db.QueryRow(ctx, query, id, tenantID, name).
		Scan(&s.ID, &s.TenantID, &s.Name, &s.CurrentModelVersion, &s.TupleCount, &s.IsActive, &s.CreatedAt)
	return s, err
}

func (q *Queries) GetFgaStore(ctx context.Context, id uuid.UUID) (FgaStore, error) {
	const query = `
		SELECT id, tenant_id, name, current_model_version, tuple_count, is_active, created_at
		FROM fga_stores WHERE id = $1`
	var s FgaStore
	err := q.db.QueryRow(ctx, query, id).
		Scan(&s.ID, &s.TenantID, &s.Name, &s.CurrentModelVersion, &s.TupleCount, &s.IsActive, &s.CreatedAt)
	return s, err
}

// GetFgaStoreForTenant looks up the single active store a tenant's
// authorization checks evaluate against — the api layer's RBAC middleware
// resolves this once per request to hand internal/fga a (storeID,
// modelVersion) pair.
func (q *Queries) GetFgaStoreForTenant(ctx context.Context, tenantID uuid.UUID) (FgaStore, error) {
	const query = `
		SELECT id, tenant_id, name, current_model_version, tuple_count, is_active, created_at
		FROM fga_stores WHERE tenant_id = $1 AND is_active = true
		ORDER BY created_at LIMIT 1`
	var s FgaStore
	err := q.db.QueryRow(ctx, query, tenantID).
		Scan(&s.ID, &s.TenantID, &s.Name, &s.CurrentModelVersion, &s.TupleCount, &s.IsActive, &s.CreatedAt)
	return s, err
}

// CreateAuthorizationModel inserts a new versioned schema row (an
// IsValid=false row is kept for diagnostics). It does not advance the
// store's current_model_version; PromoteAuthorizationModel does that.
func (q *Queries) CreateAuthorizationModel(ctx context.Context, storeID uuid.UUID, version int64, schema json.RawMessage, isValid bool, validationErrors []string) error {
	const query = `
		INSERT INTO fga_authorization_models (store_id, version, schema, is_valid, validation_errors)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := q.db.Exec(ctx, query, storeID, version, schema, isValid, validationErrors)
	return err
}

func (q *Queries) PromoteAuthorizationModel(ctx context.Context, storeID uuid.UUID, version int64) error {
	const query = `UPDATE fga_stores SET current_model_version = $2 WHERE id = $1`
	_, err := q.db.Exec(ctx, query, storeID, version)
	return err
}

func (q *Queries) GetCurrentAuthorizationModel(ctx context.Context, storeID uuid.UUID) (AuthorizationModel, error) {
	const query = `
		SELECT m.store_id, m.version, m.schema, m.is_valid, m.validation_errors, m.created_at
		FROM fga_authorization_models m
		JOIN fga_stores s ON s.id = m.store_id AND s.current_model_version = m.version
		WHERE m.store_id = $1`
	var m AuthorizationModel
	err := q.db.QueryRow(ctx, query, storeID).
		Scan(&m.StoreID, &m.Version, &m.Schema, &m.IsValid, &m.ValidationErrors, &m.CreatedAt)
	return m, err
}

// WriteTuple inserts one tuple, reporting whether a row was actually added
// (a duplicate write is a no-op) so the caller can keep tuple_count honest.
func (q *Queries) WriteTuple(ctx context.Context, t RelationTuple) (bool, error) {
	const query = `
		INSERT INTO relation_tuples (store_id, object_type, object_id, relation, subject_type, subject_id, subject_relation)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT DO NOTHING`
	tag, err := q.db.Exec(ctx, query, t.StoreID, t.ObjectType, t.ObjectID, t.Relation, t.SubjectType, t.SubjectID, t.SubjectRelation)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (q *Queries) DeleteTuple(ctx context.Context, t RelationTuple) (bool, error) {
	const query = `
		DELETE FROM relation_tuples
		WHERE store_id = $1 AND object_type = $2 AND object_id = $3 AND relation = $4
			AND subject_type = $5 AND subject_id = $6 AND subject_relation = $7`
	tag, err := q.db.Exec(ctx, query, t.StoreID, t.ObjectType, t.ObjectID, t.Relation, t.SubjectType, t.SubjectID, t.SubjectRelation)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// AdjustFgaTupleCount moves a store's denormalized tuple counter by delta,
// called inside the same transaction as the writes it accounts for.
func (q *Queries) AdjustFgaTupleCount(ctx context.Context, storeID uuid.UUID, delta int64) error {
	const query = `UPDATE fga_stores SET tuple_count = tuple_count + $2 WHERE id = $1`
	_, err := q.db.Exec(ctx, query, storeID, delta)
	return err
}

// ListTuplesForObjectRelation backs the `this` rewrite leaf and `expand`.
func (q *Queries) ListTuplesForObjectRelation(ctx context.Context, storeID uuid.UUID, objectType, objectID, relation string) ([]RelationTuple, error) {
	const query = `
		SELECT store_id, object_type, object_id, relation, subject_type, subject_id, subject_relation, created_at
		FROM relation_tuples
		WHERE store_id = $1 AND object_type = $2 AND object_id = $3 AND relation = $4`
	return q.queryTuples(ctx, query, storeID, objectType, objectID, relation)
}

// ListTuplesForSubject backs `list_objects`'s reverse index: every object a
// subject is directly related to for a given relation.
func (q *Queries) ListTuplesForSubject(ctx context.Context, storeID uuid.UUID, objectType, relation string, subjectType SubjectType, subjectID string) ([]RelationTuple, error) {
	const query = `
		SELECT store_id, object_type, object_id, relation, subject_type, subject_id, subject_relation, created_at
		FROM relation_tuples
		WHERE store_id = $1 AND object_type = $2 AND relation = $3 AND subject_type = $4 AND subject_id = $5`
	return q.queryTuples(ctx, query, storeID, objectType, relation, subjectType, subjectID)
}

func (q *Queries) queryTuples(ctx context.Context, query string, args ...interface{}) ([]RelationTuple, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RelationTuple
	for rows.Next() {
		var t RelationTuple
		if err := rows.Scan(&t.StoreID, &t.ObjectType, &t.ObjectID, &t.Relation, &t.SubjectType, &t.SubjectID, &t.SubjectRelation, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
