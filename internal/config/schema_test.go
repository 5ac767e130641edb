// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

package config_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agora-forum/agora/internal/config"
	"github.com/agora-forum/agora/pkg/errutil"
)

func TestGenerateSchema(t *testing.T) {
	raw, err := config.GenerateSchema()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, config.SchemaID, doc["$id"])
	assert.Equal(t, "Agora configuration", doc["title"])

	props, ok := doc["properties"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"environment", "http", "database", "tokens", "oauth", "frontend", "log", "sweep", "auth"} {
		assert.Contains(t, props, key)
	}
	assert.NotContains(t, doc, "required")
}

func TestValidateDocument_Accepts(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"full document", `
environment: production
http:
  addr: ":9000"
  shutdown_timeout: 20s
metrics:
  addr: ""
database:
  url: postgres://agora@db/agora
  store_timeout: 3s
tokens:
  algorithm: RS256
  access_ttl: 10m
  refresh_ttl: 168h
  hash_secret: 0123456789abcdef0123
oauth:
  state_secret: 0123456789abcdef0123
  allowed_redirects:
    - https://*.agora.test/**
  google:
    client_id: id
    client_secret: secret
    redirect_url: https://api.agora.test/auth/google/callback
frontend:
  url: https://agora.test
log:
  format: text
sweep:
  interval: 0
auth:
  strict_single_session: true
`},
		{"partial document", "log:\n  format: json\n"},
		{"compound duration", "sweep:\n  interval: 1h30m\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, config.ValidateDocument([]byte(tt.doc)))
		})
	}
}

func TestValidateDocument_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", ""},
		{"only a comment", "# nothing here\n"},
		{"malformed yaml", "http: [unterminated"},
		{"unknown top-level key", "listen: :8080\n"},
		{"unknown nested key", "tokens:\n  ttl: 15m\n"},
		{"bad environment", "environment: staging\n"},
		{"bad algorithm", "tokens:\n  algorithm: HS256\n"},
		{"bad log format", "log:\n  format: xml\n"},
		{"bad duration", "tokens:\n  access_ttl: fifteen minutes\n"},
		{"wrong type", "auth:\n  strict_single_session: sometimes\n"},
		{"redirects not a list", "oauth:\n  allowed_redirects: https://agora.test\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errutil.AssertErrorCode(t, config.ValidateDocument([]byte(tt.doc)), "CONFIG_SCHEMA_INVALID")
		})
	}
}

func TestRedacted(t *testing.T) {
	cfg := config.Default()
	cfg.Database.URL = "postgres://agora:hunter2@db:5432/agora"
	cfg.Tokens.HashSecret = testSecret
	cfg.OAuth.StateSecret = testSecret
	cfg.OAuth.Google.ClientSecret = "google-secret"
	cfg.OAuth.AllowedRedirects = []string{"https://agora.test/**"}

	out := cfg.Redacted()
	assert.NotContains(t, out.Database.URL, "hunter2")
	assert.Contains(t, out.Database.URL, "agora:")
	assert.Contains(t, out.Database.URL, "db:5432/agora")
	assert.Equal(t, "[REDACTED]", out.Tokens.HashSecret)
	assert.Equal(t, "[REDACTED]", out.OAuth.StateSecret)
	assert.Equal(t, "[REDACTED]", out.OAuth.Google.ClientSecret)

	out.OAuth.AllowedRedirects[0] = "changed"
	assert.Equal(t, "https://agora.test/**", cfg.OAuth.AllowedRedirects[0])
	assert.Equal(t, "google-secret", cfg.OAuth.Google.ClientSecret)
}

func TestRedacted_LeavesEmptySecretsEmpty(t *testing.T) {
	cfg := config.Default()
	cfg.Database.URL = "postgres://agora@db/agora"

	out := cfg.Redacted()
	assert.Equal(t, "postgres://agora@db/agora", out.Database.URL)
	assert.Empty(t, out.Tokens.HashSecret)
	assert.Empty(t, out.OAuth.Google.ClientSecret)
}

func TestYAML_RoundTripsThroughLoad(t *testing.T) {
	cfg := config.Default()
	cfg.Database.URL = "postgres://agora@db/agora"
	cfg.Tokens.HashSecret = testSecret
	cfg.Tokens.AccessTTL = 5 * time.Minute
	cfg.OAuth.AllowedRedirects = []string{"https://agora.test/**"}

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "access_ttl: 5m0s")
	require.NoError(t, config.ValidateDocument(out))

	loaded, err := config.Load(writeFile(t, string(out)), false, nil)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
