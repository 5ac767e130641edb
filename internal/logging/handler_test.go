// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "not a JSON log line: %s", buf.String())
	return entry
}

func TestSetup_Formats(t *testing.T) {
	for _, format := range []string{"json", ""} {
		t.Run("json/"+format, func(t *testing.T) {
			var buf bytes.Buffer
			Setup("agora", "1.4.0", format, &buf).Info("session issued", "user_id", 42)

			entry := decodeEntry(t, &buf)
			assert.Equal(t, "session issued", entry["msg"])
			assert.Equal(t, "agora", entry["service"])
			assert.Equal(t, "1.4.0", entry["version"])
			assert.InDelta(t, 42, entry["user_id"], 0)
			assert.Contains(t, entry, "time")
		})
	}

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		Setup("agora-sweep", "1.4.0", "text", &buf).Info("swept expired tokens", "count", 3)

		assert.Contains(t, buf.String(), `msg="swept expired tokens"`)
		assert.Contains(t, buf.String(), "service=agora-sweep")
		assert.Contains(t, buf.String(), "count=3")
	})
}

func TestSetup_TraceIDs(t *testing.T) {
	traceID, err := trace.TraceIDFromHex("0af7651916cd43dd8448eb211c80319c")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("b7ad6b7169203331")
	require.NoError(t, err)
	traced := trace.ContextWithSpanContext(context.Background(),
		trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID}))

	var buf bytes.Buffer
	logger := Setup("agora", "1.4.0", "json", &buf)

	logger.InfoContext(traced, "refresh rotated")
	entry := decodeEntry(t, &buf)
	assert.Equal(t, traceID.String(), entry["trace_id"])
	assert.Equal(t, spanID.String(), entry["span_id"])

	buf.Reset()
	logger.InfoContext(context.Background(), "refresh rotated")
	entry = decodeEntry(t, &buf)
	assert.Empty(t, entry["trace_id"])
	assert.Empty(t, entry["span_id"])
}

func TestSetDefault(t *testing.T) {
	original := slog.Default()
	t.Cleanup(func() { slog.SetDefault(original) })

	SetDefault("agora", "1.4.0", "json")
	assert.NotSame(t, original, slog.Default())
}

func TestSetup_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("agora", "1.0.0", "json", &buf)

	logger.Info("signin attempt",
		"username", "alice",
		"password", "hunter2",
		"refresh_token", "eyJraw",
		slog.Group("request", slog.String("Authorization", "Bearer eyJ")),
	)

	out := buf.String()
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "eyJraw")
	assert.NotContains(t, out, "Bearer eyJ")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "alice", entry["username"])
	assert.Equal(t, Redacted, entry["password"])
	assert.Equal(t, Redacted, entry["refresh_token"])
	assert.Equal(t, map[string]any{"Authorization": Redacted}, entry["request"])
}

func TestSetup_RedactsHandlerAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("agora", "1.0.0", "text", &buf).With("token", "abc.def.ghi")

	logger.Info("issued")

	assert.NotContains(t, buf.String(), "abc.def.ghi")
	assert.Contains(t, buf.String(), Redacted)
}

func TestIsSensitive(t *testing.T) {
	assert.True(t, IsSensitive("Password"))
	assert.True(t, IsSensitive("access_token"))
	assert.False(t, IsSensitive("user_id"))
	assert.False(t, IsSensitive("token_type"))
}
