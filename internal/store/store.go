// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

// Package store opens the PostgreSQL connection pool and owns the embedded
// schema migrations.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// DefaultConnectTimeout bounds how long Open waits for the database.
const DefaultConnectTimeout = 30 * time.Second

// pingBackoffBase is the first delay between connection attempts.
const pingBackoffBase = 250 * time.Millisecond

type pinger interface {
	Ping(ctx context.Context) error
}

// Open creates a pgx pool for dsn and waits, with exponential backoff, until
// the database answers a ping or connectTimeout elapses.
func Open(ctx context.Context, dsn string, connectTimeout time.Duration, logger *slog.Logger) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, oops.Code("STORE_CONFIG_INVALID").With("operation", "parse database url").Wrap(err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	if err := waitForDatabase(ctx, pool, connectTimeout, pingBackoffBase, logger); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// waitForDatabase pings until success, the budget is spent, or ctx ends.
func waitForDatabase(ctx context.Context, db pinger, budget, base time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	attempt := 0
	backoff := retry.WithMaxDuration(budget, retry.WithCappedDuration(5*time.Second, retry.NewExponential(base)))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := db.Ping(ctx); err != nil {
			logger.DebugContext(ctx, "database not ready", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.Code("STORE_CONNECT_FAILED").
			With("operation", "ping database").
			With("attempts", attempt).
			Wrap(err)
	}
	return nil
}
