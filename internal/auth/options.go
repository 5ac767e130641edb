// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

package auth

import (
	"context"
	"log/slog"
	"time"
)

// DefaultStoreTimeout bounds every user and refresh-token store call.
const DefaultStoreTimeout = 5 * time.Second

// Recorder receives lifecycle events for metrics. Implementations must be
// safe for concurrent use.
type Recorder interface {
	SessionIssued(via string)
	RefreshRotated(result string)
	ReuseDetected()
	SigninFailed()
	GuardRejected(guard string)
	ExpiredSwept(result string, count int64)
}

type nopRecorder struct{}

func (nopRecorder) SessionIssued(string) {}
func (nopRecorder) RefreshRotated(string) {}
func (nopRecorder) ReuseDetected() {}
func (nopRecorder) SigninFailed() {}
func (nopRecorder) GuardRejected(string) {}
func (nopRecorder) ExpiredSwept(string, int64) {}

// Transactor runs fn inside a single database transaction. LockUser takes a
// transaction-scoped lock on the user's sessions and must be called with the
// context passed to fn.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	LockUser(ctx context.Context, userID int64) error
}

type options struct {
	logger       *slog.Logger
	recorder     Recorder
	now          func() time.Time
	storeTimeout time.Duration
	transactor   Transactor
	policy       SigninPolicy
}

func defaultOptions() options {
	return options{
		logger:       slog.Default(),
		recorder:     nopRecorder{},
		now:          time.Now,
		storeTimeout: DefaultStoreTimeout,
		policy:       DefaultSigninPolicy(),
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// storeCtx derives the context for a single repository call.
func (o options) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.storeTimeout)
}

// Option configures the services in this package.
type Option func(*options)

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder. A nil recorder is ignored.
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithStoreTimeout bounds each store call. Non-positive values keep the default.
func WithStoreTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.storeTimeout = d
		}
	}
}

// WithTransactor makes SessionIssuer revoke and create inside one transaction
// under a per-user lock, so concurrent issuance cannot leave two active sessions.
func WithTransactor(tx Transactor) Option {
	return func(o *options) {
		o.transactor = tx
	}
}

// WithSigninPolicy sets the identifier resolution order used by Service.Signin.
func WithSigninPolicy(p SigninPolicy) Option {
	return func(o *options) {
		if len(p.Lookup) > 0 {
			o.policy = p
		}
	}
}
