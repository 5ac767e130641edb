// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

package auth

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"math/big"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// TokenType distinguishes access tokens from refresh tokens.
type TokenType string

// Token types.
const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Algorithm is an asymmetric JWT signing algorithm.
type Algorithm string

// Supported algorithms.
const (
	AlgorithmRS256 Algorithm = "RS256"
	AlgorithmEdDSA Algorithm = "EdDSA"
)

// TokenConfig is the immutable token configuration loaded at startup.
type TokenConfig struct {
	Algorithm     Algorithm
	PrivateKeyPEM []byte // empty for verify-only codecs
	PublicKeyPEM  []byte // derived from the private key when empty
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

// Claims is the token payload.
type Claims struct {
	UserID    int64            `json:"sub"`
	Role      Role             `json:"role"`
	TokenType TokenType        `json:"tokenType"`
	Issuer    string           `json:"iss,omitempty"`
	IssuedAt  *jwt.NumericDate `json:"iat"`
	ExpiresAt *jwt.NumericDate `json:"exp"`
	ID        string           `json:"jti,omitempty"`
}

var _ jwt.Claims = (*Claims)(nil)

// GetExpirationTime implements jwt.Claims.
func (c *Claims) GetExpirationTime() (*jwt.NumericDate, error) { return c.ExpiresAt, nil }

// GetIssuedAt implements jwt.Claims.
func (c *Claims) GetIssuedAt() (*jwt.NumericDate, error) { return c.IssuedAt, nil }

// GetNotBefore implements jwt.Claims.
func (c *Claims) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }

// GetIssuer implements jwt.Claims.
func (c *Claims) GetIssuer() (string, error) { return c.Issuer, nil }

// GetSubject implements jwt.Claims.
func (c *Claims) GetSubject() (string, error) { return strconv.FormatInt(c.UserID, 10), nil }

// GetAudience implements jwt.Claims.
func (c *Claims) GetAudience() (jwt.ClaimStrings, error) { return nil, nil }

// TokenVerifier verifies tokens of an expected type.
type TokenVerifier interface {
	VerifyType(token string, want TokenType) (*Claims, error)
}

// TokenCodec signs and verifies tokens. It is safe for concurrent use and
// never mutated after construction.
type TokenCodec struct {
	cfg       TokenConfig
	method    jwt.SigningMethod
	signKey   crypto.PrivateKey
	verifyKey crypto.PublicKey
	keyID     string
	now       func() time.Time
}

// NewTokenCodec creates a codec that can sign and verify.
func NewTokenCodec(cfg TokenConfig, opts ...Option) (*TokenCodec, error) {
	if len(cfg.PrivateKeyPEM) == 0 {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").Errorf("private key is required for signing")
	}
	return newTokenCodec(cfg, opts)
}

// NewVerifier creates a codec from the public key alone. It cannot sign.
func NewVerifier(cfg TokenConfig, opts ...Option) (*TokenCodec, error) {
	if len(cfg.PublicKeyPEM) == 0 {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").Errorf("public key is required for verification")
	}
	cfg.PrivateKeyPEM = nil
	return newTokenCodec(cfg, opts)
}

func newTokenCodec(cfg TokenConfig, opts []Option) (*TokenCodec, error) {
	if cfg.AccessTTL <= 0 {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").Errorf("access token lifetime must be positive")
	}
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").
			With("access_ttl", cfg.AccessTTL.String()).
			With("refresh_ttl", cfg.RefreshTTL.String()).
			Errorf("refresh token lifetime must exceed access token lifetime")
	}

	c := &TokenCodec{cfg: cfg, now: applyOptions(opts).now}
	var err error
	switch cfg.Algorithm {
	case AlgorithmRS256:
		c.method = jwt.SigningMethodRS256
		err = c.loadRSAKeys()
	case AlgorithmEdDSA:
		c.method = jwt.SigningMethodEdDSA
		err = c.loadEdKeys()
	default:
		return nil, oops.Code("TOKEN_CONFIG_INVALID").
			With("algorithm", string(cfg.Algorithm)).
			Errorf("unsupported signing algorithm")
	}
	if err != nil {
		return nil, err
	}

	der, err := x509.MarshalPKIXPublicKey(c.verifyKey)
	if err != nil {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").Wrap(err)
	}
	sum := sha256.Sum256(der)
	c.keyID = base64.RawURLEncoding.EncodeToString(sum[:12])
	return c, nil
}

func (c *TokenCodec) loadRSAKeys() error {
	if len(c.cfg.PrivateKeyPEM) > 0 {
		key, err := jwt.ParseRSAPrivateKeyFromPEM(c.cfg.PrivateKeyPEM)
		if err != nil {
			return oops.Code("TOKEN_CONFIG_INVALID").With("key", "private").Wrap(err)
		}
		c.signKey = key
		c.verifyKey = &key.PublicKey
	}
	if len(c.cfg.PublicKeyPEM) > 0 {
		key, err := jwt.ParseRSAPublicKeyFromPEM(c.cfg.PublicKeyPEM)
		if err != nil {
			return oops.Code("TOKEN_CONFIG_INVALID").With("key", "public").Wrap(err)
		}
		if signer, ok := c.signKey.(*rsa.PrivateKey); ok && !signer.PublicKey.Equal(key) {
			return oops.Code("TOKEN_CONFIG_INVALID").Errorf("public key does not match private key")
		}
		c.verifyKey = key
	}
	return nil
}

func (c *TokenCodec) loadEdKeys() error {
	if len(c.cfg.PrivateKeyPEM) > 0 {
		key, err := jwt.ParseEdPrivateKeyFromPEM(c.cfg.PrivateKeyPEM)
		if err != nil {
			return oops.Code("TOKEN_CONFIG_INVALID").With("key", "private").Wrap(err)
		}
		priv, ok := key.(ed25519.PrivateKey)
		if !ok {
			return oops.Code("TOKEN_CONFIG_INVALID").Errorf("private key is not ed25519")
		}
		c.signKey = priv
		c.verifyKey = priv.Public()
	}
	if len(c.cfg.PublicKeyPEM) > 0 {
		key, err := jwt.ParseEdPublicKeyFromPEM(c.cfg.PublicKeyPEM)
		if err != nil {
			return oops.Code("TOKEN_CONFIG_INVALID").With("key", "public").Wrap(err)
		}
		pub, ok := key.(ed25519.PublicKey)
		if !ok {
			return oops.Code("TOKEN_CONFIG_INVALID").Errorf("public key is not ed25519")
		}
		if derived, ok := c.verifyKey.(ed25519.PublicKey); ok && !derived.Equal(pub) {
			return oops.Code("TOKEN_CONFIG_INVALID").Errorf("public key does not match private key")
		}
		c.verifyKey = pub
	}
	return nil
}

// CanSign reports whether the codec holds a private key.
func (c *TokenCodec) CanSign() bool {
	return c.signKey != nil
}

// AccessTTL returns the configured access token lifetime.
func (c *TokenCodec) AccessTTL() time.Duration { return c.cfg.AccessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (c *TokenCodec) RefreshTTL() time.Duration { return c.cfg.RefreshTTL }

// TTL returns the lifetime of tokens of the given type.
func (c *TokenCodec) TTL(tokenType TokenType) time.Duration {
	if tokenType == TokenTypeRefresh {
		return c.cfg.RefreshTTL
	}
	return c.cfg.AccessTTL
}

// Sign mints a token for the user. The returned expiry is the exact `exp`
// claim, truncated to whole seconds.
func (c *TokenCodec) Sign(userID int64, role Role, tokenType TokenType) (string, time.Time, error) {
	if c.signKey == nil {
		return "", time.Time{}, oops.Code("TOKEN_SIGN_FAILED").Errorf("codec has no signing key")
	}
	if userID <= 0 {
		return "", time.Time{}, oops.Code("TOKEN_SIGN_FAILED").With("user_id", userID).Errorf("user id must be positive")
	}
	if tokenType != TokenTypeAccess && tokenType != TokenTypeRefresh {
		return "", time.Time{}, oops.Code("TOKEN_SIGN_FAILED").
			With("token_type", string(tokenType)).
			Errorf("unknown token type")
	}

	now := c.now()
	claims := &Claims{
		UserID:    userID,
		Role:      role,
		TokenType: tokenType,
		Issuer:    c.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.TTL(tokenType))),
		ID:        ulid.Make().String(),
	}
	token := jwt.NewWithClaims(c.method, claims)
	token.Header["kid"] = c.keyID

	signed, err := token.SignedString(c.signKey)
	if err != nil {
		return "", time.Time{}, oops.Code("TOKEN_SIGN_FAILED").Wrap(err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// Verify checks the signature and expiry of token and returns its claims.
// Errors carry TOKEN_MALFORMED, TOKEN_INVALID_SIGNATURE or TOKEN_EXPIRED.
func (c *TokenCodec) Verify(token string) (*Claims, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(c.cfg.Issuer))
	}

	claims := &Claims{}
	_, err := jwt.NewParser(parserOpts...).ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return c.verifyKey, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, oops.Code(CodeTokenExpired).Wrap(err)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
			return nil, oops.Code(CodeTokenInvalidSignature).Wrap(err)
		default:
			return nil, oops.Code(CodeTokenMalformed).Wrap(err)
		}
	}
	if claims.UserID <= 0 || !claims.Role.Valid() {
		return nil, oops.Code(CodeTokenMalformed).Errorf("token payload is incomplete")
	}
	if claims.TokenType != TokenTypeAccess && claims.TokenType != TokenTypeRefresh {
		return nil, oops.Code(CodeTokenMalformed).
			With("token_type", string(claims.TokenType)).
			Errorf("unknown token type")
	}
	return claims, nil
}

// VerifyType verifies token and requires it to be of the given type.
func (c *TokenCodec) VerifyType(token string, want TokenType) (*Claims, error) {
	claims, err := c.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != want {
		return nil, oops.Code(CodeTokenWrongType).
			With("want", string(want)).
			With("got", string(claims.TokenType)).
			Errorf("unexpected token type")
	}
	return claims, nil
}

// JWK is a single public key in JSON Web Key form.
type JWK struct {
	KeyType   string `json:"kty"`
	KeyID     string `json:"kid"`
	Use       string `json:"use"`
	Algorithm string `json:"alg"`
	N         string `json:"n,omitempty"`
	E         string `json:"e,omitempty"`
	Curve     string `json:"crv,omitempty"`
	X         string `json:"x,omitempty"`
}

// JWKS is a JSON Web Key Set.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// PublicJWKS returns the verification key as a key set.
func (c *TokenCodec) PublicJWKS() JWKS {
	key := JWK{KeyID: c.keyID, Use: "sig", Algorithm: c.method.Alg()}
	switch pub := c.verifyKey.(type) {
	case *rsa.PublicKey:
		key.KeyType = "RSA"
		key.N = base64.RawURLEncoding.EncodeToString(pub.N.Bytes())
		key.E = base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes())
	case ed25519.PublicKey:
		key.KeyType = "OKP"
		key.Curve = "Ed25519"
		key.X = base64.RawURLEncoding.EncodeToString(pub)
	}
	return JWKS{Keys: []JWK{key}}
}
