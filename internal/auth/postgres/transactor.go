// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"
)

// Transactor implements auth.Transactor. It stores the active pgx.Tx in
// context so repository calls made inside fn join the same transaction.
type Transactor struct {
	pool Pool
}

// NewTransactor creates a Transactor backed by the given pool.
func NewTransactor(pool Pool) *Transactor {
	return &Transactor{pool: pool}
}

// InTransaction begins a transaction, stores it in context, and calls fn.
// If fn returns nil, the transaction is committed. Otherwise it is rolled back.
func (t *Transactor) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return oops.Code("TX_BEGIN_FAILED").Wrap(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return oops.Code("TX_COMMIT_FAILED").Wrap(err)
	}
	return nil
}

// LockUser takes a transaction-scoped advisory lock keyed by the user id.
// The lock is released when the surrounding transaction ends.
func (t *Transactor) LockUser(ctx context.Context, userID int64) error {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	if !ok {
		return oops.Code("TX_REQUIRED").
			With("user_id", userID).
			Errorf("LockUser must run inside InTransaction")
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, userID); err != nil {
		return oops.Code("TX_LOCK_FAILED").
			With("user_id", userID).
			Wrap(err)
	}
	return nil
}
