// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/agora-forum/agora/internal/auth/postgres"
	"github.com/agora-forum/agora/internal/observability"
	"github.com/agora-forum/agora/internal/store"
	"github.com/agora-forum/agora/internal/web"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// DatabaseOpener connects to PostgreSQL.
	// Default: store.Open
	DatabaseOpener func(ctx context.Context, url string, connectTimeout time.Duration, logger *slog.Logger) (Database, error)

	// ObservabilityServerFactory creates the metrics and health server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer

	// APIServerFactory creates the API server.
	// Default: web.NewServer
	APIServerFactory func(addr string, handler http.Handler, logger *slog.Logger) APIServer

	// KeyReader reads PEM key files.
	// Default: os.ReadFile
	KeyReader func(path string) ([]byte, error)

	// LogWriter receives log output.
	// Default: os.Stderr
	LogWriter io.Writer
}

// MigrateDeps contains injectable dependencies for the migrate commands.
type MigrateDeps struct {
	// MigratorFactory creates a migrator for a database URL.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)
}

// SweepDeps contains injectable dependencies for the sweep command.
type SweepDeps struct {
	// DatabaseOpener connects to PostgreSQL.
	// Default: store.Open
	DatabaseOpener func(ctx context.Context, url string, connectTimeout time.Duration, logger *slog.Logger) (Database, error)
}

// Database wraps the pool methods used by the commands.
type Database interface {
	postgres.Pool
	Ping(ctx context.Context) error
	Close()
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// APIServer wraps the methods used from web.Server.
type APIServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (version uint, dirty bool, err error)
	Status() (store.MigrationStatus, error)
	Force(version int) error
	PendingMigrations() ([]uint, error)
	Close() error
}

func openDatabase(ctx context.Context, url string, connectTimeout time.Duration, logger *slog.Logger) (Database, error) {
	pool, err := store.Open(ctx, url, connectTimeout, logger)
	if err != nil {
		return nil, err
	}
	return pool, nil
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	if d == nil {
		d = &ServeDeps{}
	}
	if d.DatabaseOpener == nil {
		d.DatabaseOpener = openDatabase
	}
	if d.ObservabilityServerFactory == nil {
		d.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker, logger)
		}
	}
	if d.APIServerFactory == nil {
		d.APIServerFactory = func(addr string, handler http.Handler, logger *slog.Logger) APIServer {
			return web.NewServer(addr, handler, logger)
		}
	}
	if d.KeyReader == nil {
		d.KeyReader = os.ReadFile
	}
	if d.LogWriter == nil {
		d.LogWriter = os.Stderr
	}
	return d
}

func (d *MigrateDeps) withDefaults() *MigrateDeps {
	if d == nil {
		d = &MigrateDeps{}
	}
	if d.MigratorFactory == nil {
		d.MigratorFactory = func(databaseURL string) (Migrator, error) {
			return store.NewMigrator(databaseURL)
		}
	}
	return d
}

func (d *SweepDeps) withDefaults() *SweepDeps {
	if d == nil {
		d = &SweepDeps{}
	}
	if d.DatabaseOpener == nil {
		d.DatabaseOpener = openDatabase
	}
	return d
}
