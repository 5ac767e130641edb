// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

package auth

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"

	"github.com/samber/oops"
)

// rsaKeyBits is the modulus size of generated RS256 keys.
const rsaKeyBits = 2048

// GenerateKeyPair creates a signing key pair for alg and returns it as
// PKCS#8 private and PKIX public PEM blocks, the format TokenCodec loads.
func GenerateKeyPair(alg Algorithm) (privPEM, pubPEM []byte, err error) {
	var (
		sk crypto.PrivateKey
		pk crypto.PublicKey
	)
	switch alg {
	case AlgorithmEdDSA:
		pub, priv, genErr := ed25519.GenerateKey(rand.Reader)
		sk, pk, err = priv, pub, genErr
	case AlgorithmRS256:
		priv, genErr := rsa.GenerateKey(rand.Reader, rsaKeyBits)
		if genErr == nil {
			sk, pk = priv, &priv.PublicKey
		}
		err = genErr
	default:
		return nil, nil, oops.Code("TOKEN_CONFIG_INVALID").
			With("algorithm", string(alg)).
			Errorf("unsupported signing algorithm")
	}
	if err != nil {
		return nil, nil, oops.Code("KEY_GENERATE_FAILED").With("algorithm", string(alg)).Wrap(err)
	}

	skDER, err := x509.MarshalPKCS8PrivateKey(sk)
	if err != nil {
		return nil, nil, oops.Code("KEY_GENERATE_FAILED").With("key", "private").Wrap(err)
	}
	pkDER, err := x509.MarshalPKIXPublicKey(pk)
	if err != nil {
		return nil, nil, oops.Code("KEY_GENERATE_FAILED").With("key", "public").Wrap(err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: skDER}),
		pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pkDER}),
		nil
}
