// Package store is the persistence layer for the CIAM core: a DBTX
// abstraction over *pgxpool.Pool / pgx.Tx, and a Queries struct carrying
// one method per persisted operation.
//
// It never embeds business rules (uniqueness, hierarchy depth, tuple schema
// validation) — those live in internal/identity and internal/fga, which call
// through Queries and reject what the database would otherwise allow.
package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx. Every Queries method
// goes through this so the caller decides whether an operation runs against
// the pool directly or inside a transaction (RLS-scoped or not).
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Queries is the root of the persistence layer.
type Queries struct {
	db DBTX
}

// New builds a Queries bound to a pool or an open transaction.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a Queries bound to tx instead of the original pool.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

// Pool is exposed for callers (mainly internal/storage) that need to open
// their own transactions (e.g. to set the RLS session variable before
// handing a *Queries derived via WithTx to business logic).
type Pool = pgxpool.Pool
