// SPDX-FileCopyrightText: Copyright 2026 Veridian Authors
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratedProvider(t *testing.T) {
	t.Parallel()

	provider, err := NewGeneratedProvider()
	require.NoError(t, err)

	sk, err := provider.SigningKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ES256", sk.Algorithm)
	assert.NotEmpty(t, sk.KeyID)

	jwks, err := provider.PublicJWKS(context.Background())
	require.NoError(t, err)
	require.Len(t, jwks.Keys, 1)
	assert.Equal(t, sk.KeyID, jwks.Keys[0].KeyID)
	assert.Equal(t, "sig", jwks.Keys[0].Use)
	assert.True(t, jwks.Keys[0].IsPublic(), "JWKS must only expose public keys")
}

func TestStaticProviderAlgorithms(t *testing.T) {
	t.Parallel()

	t.Run("rsa", func(t *testing.T) {
		t.Parallel()
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)

		provider, err := NewStaticProvider(key)
		require.NoError(t, err)

		sk, err := provider.SigningKey(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "RS256", sk.Algorithm)
	})

	t.Run("ecdsa p384", func(t *testing.T) {
		t.Parallel()
		key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
		require.NoError(t, err)

		provider, err := NewStaticProvider(key)
		require.NoError(t, err)

		sk, err := provider.SigningKey(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "ES384", sk.Algorithm)
	})

	t.Run("rsa too small", func(t *testing.T) {
		t.Parallel()
		key, err := rsa.GenerateKey(rand.Reader, 1024)
		require.NoError(t, err)

		_, err = NewStaticProvider(key)
		assert.ErrorContains(t, err, "RSA key too small")
	})
}

func TestFileProvider(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	keyPath := filepath.Join(dir, "signing.pem")
	pemData := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
	require.NoError(t, os.WriteFile(keyPath, pemData, 0o600))

	fallback, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	fallbackDER, err := x509.MarshalPKCS8PrivateKey(fallback)
	require.NoError(t, err)

	fallbackPath := filepath.Join(dir, "old.pem")
	fallbackPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: fallbackDER})
	require.NoError(t, os.WriteFile(fallbackPath, fallbackPEM, 0o600))

	provider, err := NewFileProvider(keyPath, fallbackPath)
	require.NoError(t, err)

	sk, err := provider.SigningKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ES256", sk.Algorithm)

	jwks, err := provider.PublicJWKS(context.Background())
	require.NoError(t, err)
	assert.Len(t, jwks.Keys, 2, "fallback keys must appear in the JWKS")
}

func TestFileProviderErrors(t *testing.T) {
	t.Parallel()

	t.Run("missing path", func(t *testing.T) {
		t.Parallel()
		_, err := NewFileProvider("")
		assert.ErrorContains(t, err, "signing key path is required")
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := NewFileProvider(filepath.Join(t.TempDir(), "absent.pem"))
		assert.Error(t, err)
	})

	t.Run("not pem", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "junk.pem")
		require.NoError(t, os.WriteFile(path, []byte("not a key"), 0o600))
		_, err := NewFileProvider(path)
		assert.ErrorContains(t, err, "no PEM block")
	})
}
