package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MacJediWizard/seatbroker/internal/seats"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements seats.Store on PostgreSQL.
type Store struct {
	db *DB
	q  querier
	tx bool
}

var _ seats.Store = (*Store)(nil)

// Store returns a store that runs each statement on the pool.
func (db *DB) Store() *Store {
	return &Store{db: db, q: db.Pool}
}

// ExecTx runs fn in a transaction. Nested calls join the outer transaction.
func (s *Store) ExecTx(ctx context.Context, fn func(tx seats.Store) error) error {
	if s.tx {
		return fn(s)
	}
	return s.db.ExecTx(ctx, func(tx pgx.Tx) error {
		return fn(&Store{db: s.db, q: tx, tx: true})
	})
}

// rowScanner is implemented by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// collect scans every row with scan.
func collect[T any](rows pgx.Rows, scan func(rowScanner) (*T, error)) ([]*T, error) {
	defer rows.Close()

	var out []*T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
