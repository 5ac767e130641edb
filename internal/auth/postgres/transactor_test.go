// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agora-forum/agora/internal/auth"
	"github.com/agora-forum/agora/pkg/errutil"
)

func TestTransactor_CommitsOnSuccess(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock := newMockPool(t)
	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WithArgs(int64(7)).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`UPDATE refresh_tokens`).
		WithArgs(int64(7), at, "signin", (*string)(nil)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	tx := NewTransactor(mock)
	repo := NewRefreshTokenRepository(mock)
	err := tx.InTransaction(context.Background(), func(ctx context.Context) error {
		if err := tx.LockUser(ctx, 7); err != nil {
			return err
		}
		_, err := repo.RevokeAllForUser(ctx, 7, nil, auth.ReasonSignin, at)
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactor_RollsBackOnError(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO refresh_tokens`).
		WithArgs(anyArgs(10)...).
		WillReturnError(errors.New("constraint"))
	mock.ExpectRollback()

	rec, err := auth.NewRefreshTokenRecord(7, "abc", time.Now(), time.Now().Add(time.Hour), auth.DeviceContext{})
	require.NoError(t, err)

	repo := NewRefreshTokenRepository(mock)
	err = NewTransactor(mock).InTransaction(context.Background(), func(ctx context.Context) error {
		return repo.Create(ctx, rec)
	})
	errutil.AssertErrorCode(t, err, "REFRESH_CREATE_FAILED")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactor_BeginFailure(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	called := false
	err := NewTransactor(mock).InTransaction(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	errutil.AssertErrorCode(t, err, "TX_BEGIN_FAILED")
	assert.False(t, called)
}

func TestTransactor_LockUserRequiresTransaction(t *testing.T) {
	mock := newMockPool(t)
	err := NewTransactor(mock).LockUser(context.Background(), 7)
	errutil.AssertErrorCode(t, err, "TX_REQUIRED")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConn_PrefersTransaction(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectBegin()
	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	ctx := context.WithValue(context.Background(), txKey{}, tx)
	assert.Equal(t, tx, conn(ctx, mock))
	assert.Equal(t, querier(mock), conn(context.Background(), mock))
}
