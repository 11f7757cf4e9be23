// SPDX-FileCopyrightText: Copyright 2026 Veridian Authors
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/veridianhq/veridian/pkg/authserver/keys"
	"github.com/veridianhq/veridian/pkg/authserver/storage"
	"github.com/veridianhq/veridian/pkg/authserver/token"
)

// Config is the pure configuration for the authorization server. All
// values must be fully resolved (no file paths, no env vars).
type Config struct {
	// Issuer is the issuer identifier for this authorization server,
	// included in the "iss" claim of issued tokens. Must be an absolute
	// http(s) URL without query or fragment.
	Issuer string

	// KeyProvider supplies the JWT signing key and the published JWKS.
	KeyProvider keys.Provider

	// SessionLifespan is the lifetime of browser sessions.
	// If zero, defaults to 30 minutes.
	SessionLifespan time.Duration

	// AccessTokenLifespan is the duration access tokens are valid.
	// If zero, defaults to 1 hour.
	AccessTokenLifespan time.Duration

	// IDTokenLifespan is the duration ID tokens are valid.
	// If zero, defaults to 1 hour.
	IDTokenLifespan time.Duration

	// RefreshTokenLifespan is the duration refresh tokens are valid.
	// If zero, defaults to 7 days.
	RefreshTokenLifespan time.Duration

	// AuthCodeLifespan is the duration authorization codes are valid.
	// If zero, defaults to 10 minutes.
	AuthCodeLifespan time.Duration

	// DefaultPostLogoutRedirectURI is where logout sends the user agent
	// when no trustworthy client-requested destination exists.
	// If empty, defaults to the issuer root.
	DefaultPostLogoutRedirectURI string

	// HintClockSkew is the leeway applied when validating id_token_hint
	// expiry. If zero, a small default is used.
	HintClockSkew time.Duration

	// SecureCookies marks session cookies Secure.
	SecureCookies bool

	// Clients is the list of pre-registered OAuth clients.
	Clients []ClientConfig

	// Users is the list of provisioned end users.
	Users []UserConfig

	// ExpiryOverride, when set, forces the expiry of every issued token.
	// Intended for tests that need already-expired tokens.
	ExpiryOverride func() time.Time

	// ClaimsCustomizer, when set, can inspect and mutate token claims
	// before signing.
	ClaimsCustomizer token.ClaimsCustomizer
}

// ClientConfig defines a pre-registered OAuth client.
type ClientConfig struct {
	// ID is the unique identifier for this client.
	ID string `mapstructure:"id"`

	// Secret is the client secret. Required, all clients are
	// confidential.
	Secret string `mapstructure:"secret"`

	// RedirectURIs is the list of allowed redirect URIs.
	RedirectURIs []string `mapstructure:"redirect_uris"`

	// PostLogoutRedirectURIs is the list of allowed post-logout
	// destinations for RP-initiated logout.
	PostLogoutRedirectURIs []string `mapstructure:"post_logout_redirect_uris"`

	// Scopes is the list of scopes this client may request.
	Scopes []string `mapstructure:"scopes"`
}

// UserConfig defines a provisioned end user. The password is hashed at
// server construction time.
type UserConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// applyDefaults fills in zero-valued lifespans and the default logout
// destination.
func (c *Config) applyDefaults() {
	if c.SessionLifespan == 0 {
		c.SessionLifespan = storage.DefaultSessionLifespan
	}
	if c.AccessTokenLifespan == 0 {
		c.AccessTokenLifespan = token.DefaultAccessTokenLifespan
	}
	if c.IDTokenLifespan == 0 {
		c.IDTokenLifespan = token.DefaultIDTokenLifespan
	}
	if c.RefreshTokenLifespan == 0 {
		c.RefreshTokenLifespan = storage.DefaultRefreshTokenLifespan
	}
	if c.AuthCodeLifespan == 0 {
		c.AuthCodeLifespan = storage.DefaultAuthCodeLifespan
	}
	if c.DefaultPostLogoutRedirectURI == "" {
		c.DefaultPostLogoutRedirectURI = strings.TrimSuffix(c.Issuer, "/") + "/"
	}
}

// Validate checks that the Config is usable.
func (c *Config) Validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	issuer, err := url.Parse(c.Issuer)
	if err != nil || !issuer.IsAbs() || (issuer.Scheme != "http" && issuer.Scheme != "https") {
		return fmt.Errorf("issuer must be an absolute http(s) URL")
	}
	if issuer.RawQuery != "" || issuer.Fragment != "" {
		return fmt.Errorf("issuer must not carry a query or fragment")
	}

	if c.KeyProvider == nil {
		return fmt.Errorf("key provider is required")
	}

	for i, client := range c.Clients {
		if err := client.Validate(); err != nil {
			return fmt.Errorf("client %d: %w", i, err)
		}
	}
	for i, user := range c.Users {
		if err := user.Validate(); err != nil {
			return fmt.Errorf("user %d: %w", i, err)
		}
	}
	return nil
}

// Validate checks that the ClientConfig is valid.
func (c *ClientConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("client ID is required")
	}
	if c.Secret == "" {
		return fmt.Errorf("client secret is required")
	}
	if len(c.RedirectURIs) == 0 {
		return fmt.Errorf("at least one redirect URI is required")
	}
	for _, uri := range append(append([]string{}, c.RedirectURIs...), c.PostLogoutRedirectURIs...) {
		parsed, err := url.Parse(uri)
		if err != nil || !parsed.IsAbs() {
			return fmt.Errorf("redirect URI %q must be absolute", uri)
		}
	}
	return nil
}

// Validate checks that the UserConfig is valid.
func (u *UserConfig) Validate() error {
	if u.Username == "" {
		return fmt.Errorf("username is required")
	}
	if u.Password == "" {
		return fmt.Errorf("password is required")
	}
	return nil
}
