// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/agora-forum/agora/internal/httpserver"
)

// NewServer returns the API listener for handler. A nil logger uses
// slog.Default().
func NewServer(addr string, handler http.Handler, logger *slog.Logger) *httpserver.Server {
	return httpserver.New("api", addr, handler, logger,
		httpserver.WithTimeouts(30*time.Second, 30*time.Second, 2*time.Minute))
}
