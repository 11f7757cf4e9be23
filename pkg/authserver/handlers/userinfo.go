// SPDX-FileCopyrightText: Copyright 2026 Veridian Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/veridianhq/veridian/pkg/authserver/keys"
)

// bearerValidator validates locally issued bearer access tokens against
// the server's own signing keys.
type bearerValidator struct {
	issuer string
	keySet jwk.Set
	parser *jwt.Parser
}

// newBearerValidator builds a validator over the provider's public keys.
func newBearerValidator(issuer string, provider keys.Provider) (*bearerValidator, error) {
	jwks, err := provider.PublicJWKS(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to load public keys: %w", err)
	}

	set := jwk.NewSet()
	for _, key := range jwks.Keys {
		imported, err := jwk.Import(key.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to import key %s: %w", key.KeyID, err)
		}
		if err := imported.Set(jwk.KeyIDKey, key.KeyID); err != nil {
			return nil, fmt.Errorf("failed to set key ID: %w", err)
		}
		if err := set.AddKey(imported); err != nil {
			return nil, fmt.Errorf("failed to add key to set: %w", err)
		}
	}

	return &bearerValidator{
		issuer: issuer,
		keySet: set,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}),
			jwt.WithIssuer(issuer),
			jwt.WithExpirationRequired(),
		),
	}, nil
}

// validate parses and verifies a bearer token, returning its claims.
func (v *bearerValidator) validate(raw string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(raw, claims, v.keyFor)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// keyFor resolves the verification key named by the token's kid header.
func (v *bearerValidator) keyFor(t *jwt.Token) (any, error) {
	kid, ok := t.Header["kid"].(string)
	if !ok {
		return nil, fmt.Errorf("token has no key ID header")
	}
	key, found := v.keySet.LookupKeyID(kid)
	if !found {
		return nil, fmt.Errorf("no key found with ID %s", kid)
	}
	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return nil, fmt.Errorf("failed to export key %s: %w", kid, err)
	}
	return raw, nil
}

// UserInfoHandler serves OIDC userinfo claims for a valid bearer access
// token.
func (h *Handler) UserInfoHandler(w http.ResponseWriter, req *http.Request) {
	raw, ok := bearerToken(req)
	if !ok {
		w.Header().Set("WWW-Authenticate", "Bearer")
		h.writeError(w, http.StatusUnauthorized, "invalid_token", "bearer access token required")
		return
	}

	claims, err := h.bearer.validate(raw)
	if err != nil {
		h.logger.Debug("userinfo token rejected",
			"error", err,
		)
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		h.writeError(w, http.StatusUnauthorized, "invalid_token", "access token is invalid or expired")
		return
	}

	info := map[string]any{
		"sub": claims["sub"],
	}
	if username, ok := claims["preferred_username"]; ok {
		info["preferred_username"] = username
	}
	h.writeJSON(w, info)
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(req *http.Request) (string, bool) {
	header := req.Header.Get("Authorization")
	scheme, raw, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || raw == "" {
		return "", false
	}
	return raw, true
}
