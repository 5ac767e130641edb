// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

package httpserver

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agora-forum/agora/pkg/errutil"
)

func TestServer_ServesHandler(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "pong")
	})
	srv := New("api", "127.0.0.1:0", handler, nil, WithTimeouts(time.Second, time.Second, time.Minute))
	assert.Empty(t, srv.Addr())

	errCh, err := srv.Start()
	require.NoError(t, err)

	resp, err := http.Get("http://" + srv.Addr() + "/")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "pong", string(body))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))

	select {
	case serveErr, ok := <-errCh:
		assert.False(t, ok, "unexpected serve error: %v", serveErr)
	case <-time.After(5 * time.Second):
		t.Fatal("error channel not closed after Stop")
	}

	// Stopping twice is a no-op.
	require.NoError(t, srv.Stop(ctx))
}

func TestServer_StartTwice(t *testing.T) {
	srv := New("api", "127.0.0.1:0", http.NotFoundHandler(), nil)
	_, err := srv.Start()
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })

	_, err = srv.Start()
	assert.Error(t, err)
}

func TestServer_ListenFailure(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = taken.Close() })

	srv := New("observability", taken.Addr().String(), http.NotFoundHandler(), nil)
	_, err = srv.Start()
	errutil.AssertErrorCode(t, err, "OBSERVABILITY_LISTEN_FAILED")

	// A failed start leaves the server startable.
	assert.NoError(t, srv.Stop(context.Background()))
}
