// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

// Package httpserver runs an http.Handler on a TCP listener with graceful
// shutdown. The API and observability listeners both use it.
package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/samber/oops"
)

const readHeaderTimeout = 10 * time.Second

// Server serves one handler on one address.
type Server struct {
	name       string
	addr       string
	handler    http.Handler
	logger     *slog.Logger
	read       time.Duration
	write      time.Duration
	idle       time.Duration
	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithTimeouts sets the read, write and idle timeouts. Zero leaves a timeout
// unset.
func WithTimeouts(read, write, idle time.Duration) Option {
	return func(s *Server) {
		s.read, s.write, s.idle = read, write, idle
	}
}

// New creates a Server. name labels log lines and error codes, so "api"
// yields API_LISTEN_FAILED. A nil logger uses slog.Default().
func New(name, addr string, handler http.Handler, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		name:    name,
		addr:    addr,
		handler: handler,
		logger:  logger.With("server", name),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins serving. The returned channel receives a serve error, if any,
// and is closed when the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.With("server", s.name).Errorf("%s server already running", s.name)
	}
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.Code(strings.ToUpper(s.name)+"_LISTEN_FAILED").With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       s.read,
		WriteTimeout:      s.write,
		IdleTimeout:       s.idle,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop drains in-flight requests until ctx expires. Stopping a server that
// is not running is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.running.Store(true)
		return oops.With("operation", "shutdown_"+s.name+"_server").Wrap(err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
