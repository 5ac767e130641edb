// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/agora-forum/agora/internal/auth/postgres"
	"github.com/agora-forum/agora/internal/config"
)

// NewSweepCmd creates the sweep subcommand.
func NewSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Revoke expired refresh tokens once",
		Long: `Mark every active refresh token past its expiry as revoked. Rows are
kept for auditing. serve runs the same sweep periodically.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := readConfig(cmd)
			if err != nil {
				return err
			}
			return runSweepWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}
}

func runSweepWithDeps(ctx context.Context, cfg config.Config, cmd *cobra.Command, deps *SweepDeps) error {
	deps = deps.withDefaults()
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").
			With("field", "database.url").
			Errorf("database.url is required (set AGORA_DATABASE__URL or --database-url)")
	}

	db, err := deps.DatabaseOpener(ctx, cfg.Database.URL, cfg.Database.ConnectTimeout, slog.Default())
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer db.Close()

	n, err := postgres.NewRefreshTokenRepository(db).RevokeExpired(ctx, time.Now())
	if err != nil {
		return oops.Code("SWEEP_FAILED").Wrap(err)
	}
	cmd.Printf("Revoked %d expired refresh tokens\n", n)
	return nil
}
