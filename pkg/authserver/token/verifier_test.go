// SPDX-FileCopyrightText: Copyright 2026 Veridian Authors
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridianhq/veridian/pkg/authserver/keys"
)

const testIssuer = "https://auth.example.com"

func mintHint(t *testing.T, provider keys.Provider, opts ...IssuerOption) string {
	t.Helper()

	issuer := NewIssuer(testIssuer, provider, opts...)
	raw, err := issuer.IssueIDToken(context.Background(), IDTokenParams{
		Subject:   "user-1",
		ClientID:  "client-1",
		SessionID: "sess-1",
		Nonce:     "abc",
	})
	require.NoError(t, err)
	return raw
}

func TestVerifyValidHint(t *testing.T) {
	t.Parallel()

	provider := testKeyProvider(t)
	raw := mintHint(t, provider)

	verifier := NewHintVerifier(testIssuer, provider)
	claims, err := verifier.Verify(context.Background(), raw)
	require.NoError(t, err)

	assert.Equal(t, testIssuer, claims.Issuer)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, []string{"client-1"}, claims.Audience)
	assert.Equal(t, "sess-1", claims.SessionID)
	assert.Equal(t, "abc", claims.Nonce)
	assert.False(t, claims.ExpiresAt.IsZero())
}

func TestVerifyRejectsCorruptedHint(t *testing.T) {
	t.Parallel()

	provider := testKeyProvider(t)
	raw := mintHint(t, provider)

	// Corrupt a single character in the signature segment, mirroring a
	// forged or damaged hint presented at logout.
	corrupted := raw[:len(raw)-2] + flipChar(raw[len(raw)-2]) + raw[len(raw)-1:]

	verifier := NewHintVerifier(testIssuer, provider)
	_, err := verifier.Verify(context.Background(), corrupted)
	assert.Error(t, err)
}

func flipChar(c byte) string {
	if c == 'A' {
		return "B"
	}
	return "A"
}

func TestVerifyRejectsGarbage(t *testing.T) {
	t.Parallel()

	verifier := NewHintVerifier(testIssuer, testKeyProvider(t))

	for _, hint := range []string{"", "not-a-jwt", "a.b", "a.b.c"} {
		_, err := verifier.Verify(context.Background(), hint)
		assert.Error(t, err, "hint %q must be rejected", hint)
	}
}

func TestVerifyRejectsIssuerMismatch(t *testing.T) {
	t.Parallel()

	provider := testKeyProvider(t)
	raw := mintHint(t, provider)

	verifier := NewHintVerifier("https://other.example.com", provider)
	_, err := verifier.Verify(context.Background(), raw)
	assert.ErrorIs(t, err, ErrHintIssuerMismatch)
}

func TestVerifyRejectsExpiredHint(t *testing.T) {
	t.Parallel()

	provider := testKeyProvider(t)
	raw := mintHint(t, provider, WithExpiryOverride(func() time.Time {
		return time.Now().Add(-time.Minute)
	}))

	verifier := NewHintVerifier(testIssuer, provider)
	_, err := verifier.Verify(context.Background(), raw)
	assert.ErrorIs(t, err, ErrHintExpired)
}

func TestVerifyClockSkewToleratesRecentExpiry(t *testing.T) {
	t.Parallel()

	provider := testKeyProvider(t)
	raw := mintHint(t, provider, WithExpiryOverride(func() time.Time {
		return time.Now().Add(-30 * time.Second)
	}))

	verifier := NewHintVerifier(testIssuer, provider, WithClockSkew(time.Minute))
	_, err := verifier.Verify(context.Background(), raw)
	assert.NoError(t, err)
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	t.Parallel()

	// Hint signed by one key, verified against a provider that only
	// knows a different key: the kid lookup must fail.
	raw := mintHint(t, testKeyProvider(t))

	verifier := NewHintVerifier(testIssuer, testKeyProvider(t))
	_, err := verifier.Verify(context.Background(), raw)
	assert.ErrorIs(t, err, ErrHintKeyNotFound)
}

func TestVerifyRejectsAlgNone(t *testing.T) {
	t.Parallel()

	provider := testKeyProvider(t)
	raw := mintHint(t, provider)

	// Rewrite the header to alg=none, keeping payload and signature.
	parts := strings.Split(raw, ".")
	require.Len(t, parts, 3)
	forged := unsecuredHeader + "." + parts[1] + "." + parts[2]

	verifier := NewHintVerifier(testIssuer, provider)
	_, err := verifier.Verify(context.Background(), forged)
	assert.Error(t, err)
}

// unsecuredHeader is base64url({"alg":"none","typ":"JWT"}).
const unsecuredHeader = "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0"
