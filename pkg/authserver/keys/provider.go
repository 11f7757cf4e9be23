// SPDX-FileCopyrightText: Copyright 2026 Veridian Authors
// SPDX-License-Identifier: Apache-2.0

// Package keys provides signing key management for the authorization
// server: key loading or generation, and public JWKS assembly.
package keys

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"

	jose "github.com/go-jose/go-jose/v4"
)

// DefaultAlgorithm is the signing algorithm for auto-generated keys.
// ES256 provides equivalent security to RSA-3072 with smaller keys and
// faster signing.
const DefaultAlgorithm = "ES256"

// SigningKey is a private signing key with its JOSE metadata.
type SigningKey struct {
	// KeyID is the RFC 7638 thumbprint of the public key, used as the
	// JWT "kid" header.
	KeyID string

	// Algorithm is the JOSE signing algorithm (e.g. "ES256", "RS256").
	Algorithm string

	// Key is the private key. Never exposed via PublicJWKS.
	Key crypto.Signer
}

// Provider supplies the signing key for token issuance and the public
// key set for the JWKS endpoint and local verification.
type Provider interface {
	// SigningKey returns the current signing key.
	SigningKey(ctx context.Context) (*SigningKey, error)

	// PublicJWKS returns the public keys for all keys the provider
	// knows about. May contain more than one key during rotation.
	PublicJWKS(ctx context.Context) (*jose.JSONWebKeySet, error)
}

// StaticProvider serves a fixed set of keys resolved at construction
// time: one signing key plus optional verification-only fallbacks for
// rotation. Key changes require a restart.
type StaticProvider struct {
	signingKey *SigningKey
	allKeys    []*SigningKey
}

// NewGeneratedProvider creates a provider with a freshly generated
// ECDSA P-256 key. Tokens signed with it do not survive a restart;
// use NewFileProvider for stable deployments.
func NewGeneratedProvider() (*StaticProvider, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}

	sk, err := newSigningKey(key)
	if err != nil {
		return nil, err
	}

	return &StaticProvider{
		signingKey: sk,
		allKeys:    []*SigningKey{sk},
	}, nil
}

// NewFileProvider creates a provider that loads PEM-encoded private keys
// from disk. The first path is the signing key; any further paths are
// loaded for JWKS verification only, so tokens signed before a rotation
// keep verifying. Supports RSA (PKCS1/PKCS8), ECDSA (SEC1/PKCS8), and
// Ed25519 keys.
func NewFileProvider(signingKeyPath string, fallbackPaths ...string) (*StaticProvider, error) {
	if signingKeyPath == "" {
		return nil, fmt.Errorf("signing key path is required")
	}

	signingKey, err := loadKeyFromFile(signingKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}

	allKeys := []*SigningKey{signingKey}
	for _, path := range fallbackPaths {
		key, err := loadKeyFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load fallback key %s: %w", path, err)
		}
		allKeys = append(allKeys, key)
	}

	return &StaticProvider{
		signingKey: signingKey,
		allKeys:    allKeys,
	}, nil
}

// NewStaticProvider creates a provider around an existing signer.
// Intended for tests and embedders that manage key material themselves.
func NewStaticProvider(key crypto.Signer) (*StaticProvider, error) {
	sk, err := newSigningKey(key)
	if err != nil {
		return nil, err
	}
	return &StaticProvider{
		signingKey: sk,
		allKeys:    []*SigningKey{sk},
	}, nil
}

// SigningKey returns a copy of the signing key metadata.
func (p *StaticProvider) SigningKey(_ context.Context) (*SigningKey, error) {
	cp := *p.signingKey
	return &cp, nil
}

// PublicJWKS returns the public half of every loaded key.
func (p *StaticProvider) PublicJWKS(_ context.Context) (*jose.JSONWebKeySet, error) {
	set := &jose.JSONWebKeySet{}
	for _, key := range p.allKeys {
		set.Keys = append(set.Keys, jose.JSONWebKey{
			Key:       key.Key.Public(),
			KeyID:     key.KeyID,
			Algorithm: key.Algorithm,
			Use:       "sig",
		})
	}
	return set, nil
}

func loadKeyFromFile(path string) (*SigningKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}

	signer, err := parsePrivateKey(block)
	if err != nil {
		return nil, err
	}

	return newSigningKey(signer)
}

func parsePrivateKey(block *pem.Block) (crypto.Signer, error) {
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("unsupported PKCS8 key type %T", key)
		}
		return signer, nil
	default:
		return nil, fmt.Errorf("unsupported PEM block type %q", block.Type)
	}
}

// newSigningKey derives the JOSE algorithm and RFC 7638 thumbprint key ID
// for a private key.
func newSigningKey(key crypto.Signer) (*SigningKey, error) {
	alg, err := algorithmFor(key)
	if err != nil {
		return nil, err
	}

	jwk := jose.JSONWebKey{Key: key.Public(), Algorithm: alg, Use: "sig"}
	thumbprint, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("failed to compute key thumbprint: %w", err)
	}

	return &SigningKey{
		KeyID:     base64.RawURLEncoding.EncodeToString(thumbprint),
		Algorithm: alg,
		Key:       key,
	}, nil
}

// MinRSAKeyBits is the minimum accepted RSA key size per NIST SP 800-57.
const MinRSAKeyBits = 2048

func algorithmFor(key crypto.Signer) (string, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		if k.N.BitLen() < MinRSAKeyBits {
			return "", fmt.Errorf("RSA key too small: %d bits (minimum %d)", k.N.BitLen(), MinRSAKeyBits)
		}
		return "RS256", nil
	case *ecdsa.PrivateKey:
		switch k.Curve {
		case elliptic.P256():
			return "ES256", nil
		case elliptic.P384():
			return "ES384", nil
		case elliptic.P521():
			return "ES512", nil
		default:
			return "", fmt.Errorf("unsupported ECDSA curve %s", k.Curve.Params().Name)
		}
	case ed25519.PrivateKey:
		return "EdDSA", nil
	default:
		return "", fmt.Errorf("unsupported key type %T", key)
	}
}
