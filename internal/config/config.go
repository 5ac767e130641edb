// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

// Package config loads the immutable service configuration.
//
// Values are layered, later sources winning: built-in defaults, an optional
// YAML file, AGORA_ environment variables, then explicitly set CLI flags.
// Nested keys are separated by "." in YAML and flags and by "__" in the
// environment, so AGORA_TOKENS__ACCESS_TTL sets tokens.access_ttl.
package config

import (
	"errors"
	"io/fs"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "AGORA_"

// Environments.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Config is the complete service configuration.
type Config struct {
	Environment string         `koanf:"environment" yaml:"environment" jsonschema:"enum=development,enum=production,enum=test"`
	HTTP        HTTPConfig     `koanf:"http" yaml:"http"`
	Metrics     MetricsConfig  `koanf:"metrics" yaml:"metrics"`
	Database    DatabaseConfig `koanf:"database" yaml:"database"`
	Tokens      TokensConfig   `koanf:"tokens" yaml:"tokens"`
	OAuth       OAuthConfig    `koanf:"oauth" yaml:"oauth"`
	Frontend    FrontendConfig `koanf:"frontend" yaml:"frontend"`
	Log         LogConfig      `koanf:"log" yaml:"log"`
	Sweep       SweepConfig    `koanf:"sweep" yaml:"sweep"`
	Auth        AuthConfig     `koanf:"auth" yaml:"auth"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr            string        `koanf:"addr" yaml:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// MetricsConfig configures the metrics and health listener. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

// DatabaseConfig configures PostgreSQL access.
type DatabaseConfig struct {
	URL            string        `koanf:"url" yaml:"url"`
	ConnectTimeout time.Duration `koanf:"connect_timeout" yaml:"connect_timeout"`
	StoreTimeout   time.Duration `koanf:"store_timeout" yaml:"store_timeout"`
}

// TokensConfig configures token signing and refresh token hashing.
type TokensConfig struct {
	Algorithm      string        `koanf:"algorithm" yaml:"algorithm" jsonschema:"enum=EdDSA,enum=RS256"`
	PrivateKeyFile string        `koanf:"private_key_file" yaml:"private_key_file"`
	PublicKeyFile  string        `koanf:"public_key_file" yaml:"public_key_file"`
	AccessTTL      time.Duration `koanf:"access_ttl" yaml:"access_ttl"`
	RefreshTTL     time.Duration `koanf:"refresh_ttl" yaml:"refresh_ttl"`
	HashSecret     string        `koanf:"hash_secret" yaml:"hash_secret"`
	Issuer         string        `koanf:"issuer" yaml:"issuer"`
}

// OAuthConfig configures federated signin.
type OAuthConfig struct {
	Google           GoogleConfig `koanf:"google" yaml:"google"`
	StateSecret      string       `koanf:"state_secret" yaml:"state_secret"`
	AllowedRedirects []string     `koanf:"allowed_redirects" yaml:"allowed_redirects"`
}

// GoogleConfig holds the Google OAuth client registration.
type GoogleConfig struct {
	ClientID     string `koanf:"client_id" yaml:"client_id"`
	ClientSecret string `koanf:"client_secret" yaml:"client_secret"`
	RedirectURL  string `koanf:"redirect_url" yaml:"redirect_url"`
}

// FrontendConfig locates the browser client.
type FrontendConfig struct {
	URL string `koanf:"url" yaml:"url"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Format string `koanf:"format" yaml:"format" jsonschema:"enum=json,enum=text"`
}

// SweepConfig configures the periodic expired-token sweep. Zero disables it.
type SweepConfig struct {
	Interval time.Duration `koanf:"interval" yaml:"interval"`
}

// AuthConfig holds session policy switches.
type AuthConfig struct {
	StrictSingleSession bool `koanf:"strict_single_session" yaml:"strict_single_session"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Environment: EnvDevelopment,
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
		Database: DatabaseConfig{
			ConnectTimeout: 30 * time.Second,
			StoreTimeout:   5 * time.Second,
		},
		Tokens: TokensConfig{
			Algorithm:  "EdDSA",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
			Issuer:     "agora",
		},
		Frontend: FrontendConfig{URL: "http://localhost:3000"},
		Log:      LogConfig{Format: "json"},
		Sweep:    SweepConfig{Interval: time.Hour},
	}
}

// flagKeys maps CLI flag names to config keys.
var flagKeys = map[string]string{
	"environment":  "environment",
	"http-addr":    "http.addr",
	"metrics-addr": "metrics.addr",
	"database-url": "database.url",
	"log-format":   "log.format",
}

// RegisterFlags adds the overridable settings to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("environment", d.Environment, "deployment environment (development, production, test)")
	fs.String("http-addr", d.HTTP.Addr, "API listen address")
	fs.String("metrics-addr", d.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	fs.String("database-url", "", "PostgreSQL connection URL")
	fs.String("log-format", d.Log.Format, "log format (json, text)")
}

// Load builds a Config from the YAML file at path, the environment and flags
// (may be nil), then validates it. A missing file is skipped when optional.
func Load(path string, optional bool, flags *pflag.FlagSet) (Config, error) {
	cfg, err := Read(path, optional, flags)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read layers the same sources as Load without validating the result.
// Maintenance commands that only need the database use it.
func Read(path string, optional bool, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if path != "" && !(optional && missing(path)) {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").
				With("operation", "load config file").
				With("path", path).
				Wrap(err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKeyValue), nil); err != nil {
		return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("operation", "load environment").Wrap(err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("operation", "load flags").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("operation", "decode config").Wrap(err)
	}
	return cfg, nil
}

func missing(path string) bool {
	_, err := os.Stat(path)
	return errors.Is(err, fs.ErrNotExist)
}

// envKeyValue maps AGORA_TOKENS__ACCESS_TTL to tokens.access_ttl and splits
// list values on commas.
func envKeyValue(key, value string) (string, any) {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	key = strings.ReplaceAll(key, "__", ".")
	if key == "oauth.allowed_redirects" {
		var out []string
		for part := range strings.SplitSeq(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return key, out
	}
	return key, value
}

// GoogleEnabled reports whether Google signin is configured.
func (c Config) GoogleEnabled() bool {
	return c.OAuth.Google.ClientID != ""
}

// IsProduction reports whether the service runs in production.
func (c Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	var errs []error
	fail := func(field, format string, args ...any) {
		errs = append(errs, oops.Code("CONFIG_INVALID").With("field", field).Errorf(format, args...))
	}

	if !slices.Contains([]string{EnvDevelopment, EnvProduction, EnvTest}, c.Environment) {
		fail("environment", "environment must be development, production or test, got %q", c.Environment)
	}
	if c.HTTP.Addr == "" {
		fail("http.addr", "http.addr is required")
	}
	if c.Database.URL == "" {
		fail("database.url", "database.url is required")
	}
	if c.Database.StoreTimeout <= 0 {
		fail("database.store_timeout", "database.store_timeout must be positive")
	}
	if c.Tokens.Algorithm != "RS256" && c.Tokens.Algorithm != "EdDSA" {
		fail("tokens.algorithm", "tokens.algorithm must be RS256 or EdDSA, got %q", c.Tokens.Algorithm)
	}
	if c.Tokens.AccessTTL <= 0 {
		fail("tokens.access_ttl", "tokens.access_ttl must be positive")
	}
	if c.Tokens.RefreshTTL <= c.Tokens.AccessTTL {
		fail("tokens.refresh_ttl", "tokens.refresh_ttl must exceed tokens.access_ttl")
	}
	if len(c.Tokens.HashSecret) < 16 {
		fail("tokens.hash_secret", "tokens.hash_secret must be at least 16 bytes")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		fail("log.format", "log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if c.Sweep.Interval < 0 {
		fail("sweep.interval", "sweep.interval must not be negative")
	}
	if u, err := url.Parse(c.Frontend.URL); err != nil || u.Scheme == "" || u.Host == "" {
		fail("frontend.url", "frontend.url must be an absolute URL")
	}
	if c.GoogleEnabled() {
		if c.OAuth.Google.ClientSecret == "" {
			fail("oauth.google.client_secret", "oauth.google.client_secret is required when Google signin is enabled")
		}
		if c.OAuth.Google.RedirectURL == "" {
			fail("oauth.google.redirect_url", "oauth.google.redirect_url is required when Google signin is enabled")
		}
		if len(c.OAuth.StateSecret) < 16 {
			fail("oauth.state_secret", "oauth.state_secret must be at least 16 bytes when Google signin is enabled")
		}
	}

	if len(errs) > 0 {
		return oops.Code("CONFIG_INVALID").Wrap(errors.Join(errs...))
	}
	return nil
}
