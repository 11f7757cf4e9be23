// SPDX-FileCopyrightText: Copyright 2026 Veridian Authors
// SPDX-License-Identifier: Apache-2.0

// Package token assembles, signs, and verifies the tokens the
// authorization server deals in: JWT access tokens, OIDC ID tokens, and
// the ID token hints presented at logout.
package token

import (
	"context"
	"fmt"
	"strings"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"

	"github.com/veridianhq/veridian/pkg/authserver/keys"
)

// Type identifies which kind of token a claim set belongs to.
type Type string

// Token types passed to the claims customizer.
const (
	TypeAccessToken Type = "access_token"
	TypeIDToken     Type = "id_token"
)

// Default token lifespans.
const (
	DefaultAccessTokenLifespan = time.Hour
	DefaultIDTokenLifespan     = time.Hour
)

// ClaimsCustomizer is a post-processing hook invoked before signing.
// It receives the assembled claims and returns the claims to sign,
// polymorphic over the token type. Returning the input unchanged is valid.
type ClaimsCustomizer func(tokenType Type, claims map[string]any) map[string]any

// Issuer mints signed access and ID tokens bound to a principal, client,
// and scope set. Signing is delegated to the key provider; the issuer
// only assembles claims and hands them off.
type Issuer struct {
	issuer         string
	keys           keys.Provider
	accessTokenTTL time.Duration
	idTokenTTL     time.Duration
	customize      ClaimsCustomizer
	expiryOverride func() time.Time
	now            func() time.Time
}

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

// WithAccessTokenLifespan sets the access token TTL.
func WithAccessTokenLifespan(ttl time.Duration) IssuerOption {
	return func(i *Issuer) {
		if ttl > 0 {
			i.accessTokenTTL = ttl
		}
	}
}

// WithIDTokenLifespan sets the ID token TTL.
func WithIDTokenLifespan(ttl time.Duration) IssuerOption {
	return func(i *Issuer) {
		if ttl > 0 {
			i.idTokenTTL = ttl
		}
	}
}

// WithClaimsCustomizer installs a hook that can rewrite claims before
// signing.
func WithClaimsCustomizer(fn ClaimsCustomizer) IssuerOption {
	return func(i *Issuer) {
		i.customize = fn
	}
}

// WithExpiryOverride forces every issued token to expire at the time the
// hook returns, deriving iat = exp - 1ms. Intended for tests that need
// deterministic token expiry; the hook is explicit configuration, not
// process state.
func WithExpiryOverride(fn func() time.Time) IssuerOption {
	return func(i *Issuer) {
		i.expiryOverride = fn
	}
}

// WithClock overrides the issuer's time source. Intended for tests.
func WithClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		i.now = now
	}
}

// NewIssuer creates an Issuer for the given issuer identifier.
func NewIssuer(issuer string, provider keys.Provider, opts ...IssuerOption) *Issuer {
	i := &Issuer{
		issuer:         issuer,
		keys:           provider,
		accessTokenTTL: DefaultAccessTokenLifespan,
		idTokenTTL:     DefaultIDTokenLifespan,
		now:            time.Now,
	}

	for _, opt := range opts {
		opt(i)
	}

	return i
}

// IDTokenParams are the inputs for minting an ID token.
type IDTokenParams struct {
	// Subject is the authenticated principal ("sub").
	Subject string

	// ClientID becomes the audience ("aud") and authorized party ("azp").
	ClientID string

	// SessionID is embedded as the "sid" claim, linking the token to the
	// session that was live at issuance.
	SessionID string

	// Nonce is echoed back when the client supplied one.
	Nonce string

	// AuthTime is when end-user authentication occurred; omitted if zero.
	AuthTime time.Time
}

// IssueIDToken mints a signed OIDC ID token. The encoded claims always
// satisfy iat < exp, even under an expiry override.
func (i *Issuer) IssueIDToken(ctx context.Context, params IDTokenParams) (string, error) {
	iat, exp := i.timestamps(i.idTokenTTL)

	claims := map[string]any{
		"iss": i.issuer,
		"sub": params.Subject,
		"aud": params.ClientID,
		"azp": params.ClientID,
		"iat": iat,
		"exp": exp,
	}
	if params.SessionID != "" {
		claims["sid"] = params.SessionID
	}
	if params.Nonce != "" {
		claims["nonce"] = params.Nonce
	}
	if !params.AuthTime.IsZero() {
		claims["auth_time"] = params.AuthTime.Unix()
	}

	return i.sign(ctx, TypeIDToken, claims)
}

// AccessTokenParams are the inputs for minting an access token.
type AccessTokenParams struct {
	// Subject is the authenticated principal ("sub").
	Subject string

	// Username populates "preferred_username" for the userinfo endpoint.
	Username string

	// ClientID is recorded as the "client_id" claim (RFC 9068).
	ClientID string

	// Scopes become the space-delimited "scope" claim.
	Scopes []string
}

// IssueAccessToken mints a signed JWT access token. The audience is the
// issuer itself: the only protected resource in this deployment is the
// server's own userinfo endpoint.
func (i *Issuer) IssueAccessToken(ctx context.Context, params AccessTokenParams) (string, error) {
	iat, exp := i.timestamps(i.accessTokenTTL)

	claims := map[string]any{
		"iss":       i.issuer,
		"sub":       params.Subject,
		"aud":       i.issuer,
		"client_id": params.ClientID,
		"jti":       uuid.NewString(),
		"iat":       iat,
		"exp":       exp,
	}
	if params.Username != "" {
		claims["preferred_username"] = params.Username
	}
	if len(params.Scopes) > 0 {
		claims["scope"] = strings.Join(params.Scopes, " ")
	}

	return i.sign(ctx, TypeAccessToken, claims)
}

// timestamps computes the iat/exp pair in unix seconds. iat is strictly
// less than exp in the encoded claims: downstream clock-skew-tolerant
// validators reject tokens whose issuance does not precede expiry. When
// the expiry override is set, exp is forced and iat derived from it.
func (i *Issuer) timestamps(ttl time.Duration) (int64, int64) {
	var iat, exp time.Time
	if i.expiryOverride != nil {
		exp = i.expiryOverride()
		iat = exp.Add(-time.Millisecond)
	} else {
		iat = i.now()
		exp = iat.Add(ttl)
	}

	iatUnix, expUnix := iat.Unix(), exp.Unix()
	if iatUnix >= expUnix {
		iatUnix = expUnix - 1
	}
	return iatUnix, expUnix
}

func (i *Issuer) sign(ctx context.Context, tokenType Type, claims map[string]any) (string, error) {
	if i.customize != nil {
		claims = i.customize(tokenType, claims)
	}

	sk, err := i.keys.SigningKey(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get signing key: %w", err)
	}

	signer, err := jose.NewSigner(
		jose.SigningKey{
			Algorithm: jose.SignatureAlgorithm(sk.Algorithm),
			Key:       sk.Key,
		},
		(&jose.SignerOptions{}).
			WithType("JWT").
			WithHeader("kid", sk.KeyID),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create signer: %w", err)
	}

	raw, err := jwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("failed to sign %s: %w", tokenType, err)
	}
	return raw, nil
}
