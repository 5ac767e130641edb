// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/agora-forum/agora/internal/auth"
	"github.com/agora-forum/agora/internal/auth/postgres"
	"github.com/agora-forum/agora/internal/config"
	"github.com/agora-forum/agora/internal/logging"
	"github.com/agora-forum/agora/internal/oauth"
	"github.com/agora-forum/agora/internal/web"
	"github.com/agora-forum/agora/internal/xdg"
)

// Key file names inside the XDG keys directory.
const (
	privateKeyFileName = "signing.pem"
	publicKeyFileName  = "signing.pub.pem"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long: `Start the HTTP API, the metrics/health server and the periodic
expired-token sweep. Shuts down gracefully on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return oops.Wrapf(err, "invalid configuration")
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}
}

// runServeWithDeps starts the server with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()
	if ctx == nil {
		ctx = context.Background()
	}

	logger := logging.Setup("agora", version, cfg.Log.Format, deps.LogWriter)
	slog.SetDefault(logger)

	logger.Info("starting agora",
		"environment", cfg.Environment,
		"http_addr", cfg.HTTP.Addr,
		"google_enabled", cfg.GoogleEnabled(),
	)

	tokenCfg, err := loadTokenConfig(cfg.Tokens, deps.KeyReader)
	if err != nil {
		return err
	}

	db, err := deps.DatabaseOpener(ctx, cfg.Database.URL, cfg.Database.ConnectTimeout, logger)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer db.Close()
	logger.Info("connected to database")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		recorder  auth.Recorder
		requests  web.RequestRecorder
		obsServer ObservabilityServer
	)
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, db.Ping, logger)
		recorder, requests = obsServer.Metrics(), obsServer.Metrics()
	}

	app, err := buildApp(cfg, tokenCfg, db, recorder, requests, logger)
	if err != nil {
		return err
	}
	defer app.rotator.Wait()

	if obsServer != nil {
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	apiServer := deps.APIServerFactory(cfg.HTTP.Addr, app.handler, logger)
	apiErrChan, err := apiServer.Start()
	if err != nil {
		stopWithTimeout(logger, "observability", obsServer)
		return oops.Code("API_START_FAILED").Wrap(err)
	}
	go monitorServerErrors(ctx, cancel, apiErrChan, "api")

	var sweeper sync.WaitGroup
	if cfg.Sweep.Interval > 0 {
		sweeper.Add(1)
		go func() {
			defer sweeper.Done()
			runSweeper(ctx, app.rotator, cfg.Sweep.Interval, logger)
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Agora started")
	logger.Info("agora ready", "addr", apiServer.Addr())

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	logger.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Warn("error stopping api server", "error", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}
	sweeper.Wait()

	logger.Info("shutdown complete")
	return nil
}

// app is the wired request-handling graph.
type app struct {
	handler http.Handler
	rotator *auth.SessionRotator
}

// buildApp wires repositories, the auth core and the HTTP handler.
func buildApp(cfg config.Config, tokenCfg auth.TokenConfig, db Database, recorder auth.Recorder, requests web.RequestRecorder, logger *slog.Logger) (*app, error) {
	opts := []auth.Option{
		auth.WithLogger(logger),
		auth.WithRecorder(recorder),
		auth.WithStoreTimeout(cfg.Database.StoreTimeout),
	}

	codec, err := auth.NewTokenCodec(tokenCfg, opts...)
	if err != nil {
		return nil, err
	}
	hasher, err := auth.NewTokenHasher([]byte(cfg.Tokens.HashSecret))
	if err != nil {
		return nil, err
	}

	users := postgres.NewUserRepository(db)
	tokens := postgres.NewRefreshTokenRepository(db)

	issuerOpts := opts
	if cfg.Auth.StrictSingleSession {
		issuerOpts = append(append([]auth.Option(nil), opts...), auth.WithTransactor(postgres.NewTransactor(db)))
	}
	issuer, err := auth.NewSessionIssuer(users, tokens, codec, hasher, issuerOpts...)
	if err != nil {
		return nil, err
	}
	rotator, err := auth.NewSessionRotator(users, tokens, codec, hasher, issuer, opts...)
	if err != nil {
		return nil, err
	}
	service, err := auth.NewService(users, auth.NewArgon2idHasher(), issuer, rotator, opts...)
	if err != nil {
		return nil, err
	}
	guard, err := auth.NewGuard(codec, users, opts...)
	if err != nil {
		return nil, err
	}

	deps := web.Deps{
		Auth:     service,
		Guard:    guard,
		Cookies:  auth.NewCookieTransport(cfg.Environment, codec.RefreshTTL()),
		Keys:     codec,
		Recorder: requests,
		Logger:   logger,
	}
	if cfg.GoogleEnabled() {
		deps.Google, deps.Signer, deps.Redirects, err = buildGoogle(cfg)
		if err != nil {
			return nil, err
		}
	}

	handler, err := web.NewHandler(deps)
	if err != nil {
		return nil, oops.Code("API_INIT_FAILED").Wrap(err)
	}
	return &app{handler: handler, rotator: rotator}, nil
}

func buildGoogle(cfg config.Config) (web.FederatedProvider, *oauth.Signer, *oauth.RedirectPolicy, error) {
	provider, err := oauth.NewGoogleProvider(oauth.GoogleConfig{
		ClientID:     cfg.OAuth.Google.ClientID,
		ClientSecret: cfg.OAuth.Google.ClientSecret,
		RedirectURL:  cfg.OAuth.Google.RedirectURL,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	signer, err := oauth.NewSigner([]byte(cfg.OAuth.StateSecret), nil)
	if err != nil {
		return nil, nil, nil, err
	}
	policy, err := oauth.NewRedirectPolicy(cfg.Frontend.URL, cfg.OAuth.AllowedRedirects, cfg.IsProduction())
	if err != nil {
		return nil, nil, nil, err
	}
	return provider, signer, policy, nil
}

// loadTokenConfig reads the signing keys. Unset paths fall back to the XDG
// keys directory; a missing public key is derived from the private key.
func loadTokenConfig(cfg config.TokensConfig, readFile func(string) ([]byte, error)) (auth.TokenConfig, error) {
	privPath, pubPath := cfg.PrivateKeyFile, cfg.PublicKeyFile
	if privPath == "" {
		dir, err := xdg.KeysDir()
		if err != nil {
			return auth.TokenConfig{}, err
		}
		privPath = filepath.Join(dir, privateKeyFileName)
		if pubPath == "" {
			pubPath = filepath.Join(dir, publicKeyFileName)
		}
	}

	priv, err := readFile(privPath)
	if err != nil {
		return auth.TokenConfig{}, oops.Code("TOKEN_KEY_READ_FAILED").
			With("path", privPath).
			Hint("run 'agora keys generate' or set tokens.private_key_file").
			Wrap(err)
	}
	var pub []byte
	if pubPath != "" {
		pub, err = readFile(pubPath)
		if err != nil && !(cfg.PublicKeyFile == "" && errors.Is(err, fs.ErrNotExist)) {
			return auth.TokenConfig{}, oops.Code("TOKEN_KEY_READ_FAILED").With("path", pubPath).Wrap(err)
		}
	}

	return auth.TokenConfig{
		Algorithm:     auth.Algorithm(cfg.Algorithm),
		PrivateKeyPEM: priv,
		PublicKeyPEM:  pub,
		AccessTTL:     cfg.AccessTTL,
		RefreshTTL:    cfg.RefreshTTL,
		Issuer:        cfg.Issuer,
	}, nil
}

// runSweeper revokes expired refresh tokens every interval until ctx ends.
func runSweeper(ctx context.Context, rotator *auth.SessionRotator, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := rotator.SweepExpired(ctx)
			if err != nil {
				logger.WarnContext(ctx, "periodic expired token sweep failed", "error", err)
				continue
			}
			logger.InfoContext(ctx, "swept expired refresh tokens", "count", n)
		}
	}
}

// monitorServerErrors cancels ctx when a server reports an error.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}

type stopper interface {
	Stop(ctx context.Context) error
}

// stopWithTimeout stops s during startup cleanup. A nil s is ignored.
func stopWithTimeout(logger *slog.Logger, name string, s stopper) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		logger.Warn("failed to stop server during cleanup", "server", name, "error", err)
	}
}
