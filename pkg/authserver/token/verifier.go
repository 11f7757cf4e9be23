// SPDX-FileCopyrightText: Copyright 2026 Veridian Authors
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/veridianhq/veridian/pkg/authserver/keys"
)

// ID token hint validation errors. A hint failing any of these checks is
// untrusted; the end-session coordinator degrades to the default
// post-logout redirect rather than failing the logout.
var (
	ErrHintRequired         = errors.New("id token hint is required")
	ErrHintMalformed        = errors.New("id token hint is malformed")
	ErrHintSignatureInvalid = errors.New("id token hint signature verification failed")
	ErrHintKeyNotFound      = errors.New("id token hint signing key not found")
	ErrHintMissingIssuer    = errors.New("id token hint missing iss claim")
	ErrHintIssuerMismatch   = errors.New("id token hint issuer mismatch")
	ErrHintMissingAudience  = errors.New("id token hint missing aud claim")
	ErrHintMissingExpiry    = errors.New("id token hint missing exp claim")
	ErrHintExpired          = errors.New("id token hint has expired")
)

// supportedSignatureAlgorithms are the asymmetric algorithms accepted on
// hints. Symmetric algorithms are excluded: a hint must be verifiable
// with the server's public keys alone.
var supportedSignatureAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.EdDSA,
}

// HintClaims are the claims extracted from a structurally valid ID token
// hint.
type HintClaims struct {
	// Issuer is the iss claim.
	Issuer string

	// Subject is the sub claim.
	Subject string

	// Audience is the aud claim, normalized to a slice.
	Audience []string

	// SessionID is the sid claim, if present.
	SessionID string

	// Nonce is the nonce claim, if present.
	Nonce string

	// IssuedAt is the iat claim.
	IssuedAt time.Time

	// ExpiresAt is the exp claim.
	ExpiresAt time.Time

	// Raw contains all claims from the token payload.
	Raw map[string]any
}

// HintVerifier validates ID token hints structurally: signature against
// the server's own keys, issuer, audience presence, and expiry. Validity
// is never established by lookup; the token is self-contained.
type HintVerifier struct {
	issuer    string
	keys      keys.Provider
	clockSkew time.Duration
	now       func() time.Time
}

// HintVerifierOption configures a HintVerifier.
type HintVerifierOption func(*HintVerifier)

// WithClockSkew tolerates the given skew when checking expiry.
func WithClockSkew(skew time.Duration) HintVerifierOption {
	return func(v *HintVerifier) {
		v.clockSkew = skew
	}
}

// WithVerifierClock overrides the verifier's time source. Intended for tests.
func WithVerifierClock(now func() time.Time) HintVerifierOption {
	return func(v *HintVerifier) {
		v.now = now
	}
}

// NewHintVerifier creates a verifier for hints issued by this server.
func NewHintVerifier(issuer string, provider keys.Provider, opts ...HintVerifierOption) *HintVerifier {
	v := &HintVerifier{
		issuer: issuer,
		keys:   provider,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(v)
	}

	return v
}

// Verify checks the hint's signature and claims and returns the parsed
// claims. The validation ladder per OIDC Core 3.1.3.7: signature, issuer,
// audience presence, expiry. Audience-to-client correlation is the
// caller's concern since it needs the client registry.
func (v *HintVerifier) Verify(ctx context.Context, rawHint string) (*HintClaims, error) {
	if rawHint == "" {
		return nil, ErrHintRequired
	}

	parsed, err := jwt.ParseSigned(rawHint, supportedSignatureAlgorithms)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHintMalformed, err)
	}

	key, err := v.verificationKey(ctx, parsed)
	if err != nil {
		return nil, err
	}

	var rawClaims map[string]any
	if err := parsed.Claims(key, &rawClaims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHintSignatureInvalid, err)
	}

	claims := extractHintClaims(rawClaims)

	if claims.Issuer == "" {
		return nil, ErrHintMissingIssuer
	}
	if claims.Issuer != v.issuer {
		return nil, fmt.Errorf("%w: expected %q, got %q", ErrHintIssuerMismatch, v.issuer, claims.Issuer)
	}
	if len(claims.Audience) == 0 {
		return nil, ErrHintMissingAudience
	}
	if claims.ExpiresAt.IsZero() {
		return nil, ErrHintMissingExpiry
	}
	if v.now().After(claims.ExpiresAt.Add(v.clockSkew)) {
		return nil, fmt.Errorf("%w: expired at %s", ErrHintExpired, claims.ExpiresAt.Format(time.RFC3339))
	}

	return claims, nil
}

// verificationKey finds the public key matching the hint's kid header.
// If the header carries no kid and exactly one key is published, that key
// is used.
func (v *HintVerifier) verificationKey(ctx context.Context, parsed *jwt.JSONWebToken) (jose.JSONWebKey, error) {
	jwks, err := v.keys.PublicJWKS(ctx)
	if err != nil {
		return jose.JSONWebKey{}, fmt.Errorf("%w: %v", ErrHintKeyNotFound, err)
	}

	if len(parsed.Headers) == 0 {
		return jose.JSONWebKey{}, ErrHintMalformed
	}

	kid := parsed.Headers[0].KeyID
	if kid == "" {
		if len(jwks.Keys) == 1 {
			return jwks.Keys[0], nil
		}
		return jose.JSONWebKey{}, fmt.Errorf("%w: no kid in header and %d keys published", ErrHintKeyNotFound, len(jwks.Keys))
	}

	matches := jwks.Key(kid)
	if len(matches) == 0 {
		return jose.JSONWebKey{}, fmt.Errorf("%w: kid=%s", ErrHintKeyNotFound, kid)
	}
	return matches[0], nil
}

func extractHintClaims(rawClaims map[string]any) *HintClaims {
	claims := &HintClaims{Raw: rawClaims}

	claims.Issuer, _ = rawClaims["iss"].(string)
	claims.Subject, _ = rawClaims["sub"].(string)
	claims.SessionID, _ = rawClaims["sid"].(string)
	claims.Nonce, _ = rawClaims["nonce"].(string)
	claims.Audience = extractAudience(rawClaims)
	claims.IssuedAt = extractUnixTime(rawClaims, "iat")
	claims.ExpiresAt = extractUnixTime(rawClaims, "exp")

	return claims
}

// extractAudience handles aud as either a string or an array of strings.
func extractAudience(claims map[string]any) []string {
	switch aud := claims["aud"].(type) {
	case string:
		return []string{aud}
	case []any:
		result := make([]string, 0, len(aud))
		for _, v := range aud {
			if s, ok := v.(string); ok {
				result = append(result, s)
			}
		}
		return result
	default:
		return nil
	}
}

func extractUnixTime(claims map[string]any, key string) time.Time {
	switch v := claims[key].(type) {
	case float64:
		return time.Unix(int64(v), 0)
	case int64:
		return time.Unix(v, 0)
	case jwt.NumericDate:
		return v.Time()
	default:
		return time.Time{}
	}
}
