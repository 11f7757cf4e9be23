// SPDX-FileCopyrightText: Copyright 2026 Veridian Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage provides storage interfaces and implementations for the
// authorization server: authenticated sessions, single-use authorization
// codes, and refresh token grants.
package storage

import (
	"context"
	"errors"
	"time"
)

// Default lifespans used when the server configuration leaves them unset.
const (
	// DefaultSessionLifespan is the default lifetime of an authenticated session.
	DefaultSessionLifespan = 30 * time.Minute

	// DefaultAuthCodeLifespan is the default TTL for authorization codes.
	DefaultAuthCodeLifespan = 10 * time.Minute

	// DefaultRefreshTokenLifespan is the default TTL for refresh tokens.
	DefaultRefreshTokenLifespan = 7 * 24 * time.Hour
)

// Storage lookup errors.
var (
	// ErrNotFound is returned when a record does not exist or has expired.
	// Expired records are indistinguishable from absent ones: expiry is
	// checked lazily on read and expired entries are evicted at that point.
	ErrNotFound = errors.New("record not found")

	// ErrCodeAlreadyConsumed is returned when an authorization code has
	// already been redeemed. A consumed code must never yield tokens again.
	ErrCodeAlreadyConsumed = errors.New("authorization code already consumed")
)

// Session represents an authenticated end-user session.
// A session is live iff the current time is before ExpiresAt; there is at
// most one live record per session ID.
type Session struct {
	// ID is the opaque session identifier carried in the session cookie
	// and embedded as the "sid" claim of issued ID tokens.
	ID string `json:"id"`

	// Subject is the stable identifier of the authenticated principal.
	Subject string `json:"subject"`

	// Username is the login name the principal authenticated with.
	Username string `json:"username"`

	// CreatedAt is when the session was established.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is when the session stops being live.
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired returns true if the session is no longer live.
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// AuthorizationCode is a short-lived, single-use credential bound to the
// client, redirect URI, and session that produced it. Consumption is an
// atomic check-and-set: exactly one exchange attempt can succeed.
type AuthorizationCode struct {
	// Code is the opaque code value handed to the client in the redirect.
	Code string `json:"code"`

	// ClientID is the client the code was issued to.
	ClientID string `json:"client_id"`

	// Subject is the authenticated principal the code represents.
	Subject string `json:"subject"`

	// Username is the login name of the principal.
	Username string `json:"username"`

	// SessionID is the session that was live when the code was created.
	SessionID string `json:"session_id"`

	// RedirectURI is the exact redirect URI used at issuance time. The
	// token endpoint must see the same value again (code binding).
	RedirectURI string `json:"redirect_uri"`

	// Scopes are the granted scopes.
	Scopes []string `json:"scopes"`

	// Nonce is the client-supplied nonce, echoed into the ID token.
	Nonce string `json:"nonce"`

	// CreatedAt is when the code was issued.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is when the code stops being redeemable.
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired returns true if the code is no longer redeemable.
func (c *AuthorizationCode) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// RefreshToken is an opaque refresh grant bound to a client and principal.
type RefreshToken struct {
	// Token is the opaque refresh token value.
	Token string `json:"token"`

	// ClientID is the client the token was issued to.
	ClientID string `json:"client_id"`

	// Subject is the principal the token was issued for.
	Subject string `json:"subject"`

	// Username is carried so refreshed access tokens keep their
	// preferred_username claim without a directory lookup.
	Username string `json:"username"`

	// SessionID is the session that was live at original issuance.
	SessionID string `json:"session_id"`

	// Scopes are the originally granted scopes.
	Scopes []string `json:"scopes"`

	// CreatedAt is when the token was issued.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is when the token stops being usable.
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired returns true if the refresh token is no longer usable.
func (r *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// SessionStore manages authenticated sessions keyed by opaque session ID.
type SessionStore interface {
	// CreateSession stores a new session record.
	CreateSession(ctx context.Context, session *Session) error

	// GetSession returns the live session with the given ID. An expired
	// session is treated as absent (ErrNotFound) and may be evicted.
	GetSession(ctx context.Context, id string) (*Session, error)

	// DeleteSession removes a session. Deleting an absent session is a
	// no-op, not an error.
	DeleteSession(ctx context.Context, id string) error
}

// CodeStore manages single-use authorization codes.
type CodeStore interface {
	// CreateAuthorizationCode stores a new authorization code.
	CreateAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// ConsumeAuthorizationCode atomically marks the code consumed and
	// returns it. It returns ErrNotFound for unknown or expired codes and
	// ErrCodeAlreadyConsumed if the code was redeemed before. Under
	// concurrent redemption attempts exactly one caller succeeds.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)
}

// RefreshTokenStore manages refresh token grants.
type RefreshTokenStore interface {
	// CreateRefreshToken stores a new refresh token.
	CreateRefreshToken(ctx context.Context, token *RefreshToken) error

	// GetRefreshToken returns the refresh token record. Expired tokens
	// are treated as absent (ErrNotFound) and may be evicted.
	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	// DeleteRefreshToken removes a refresh token. Idempotent.
	DeleteRefreshToken(ctx context.Context, token string) error
}

// Store combines all record stores behind a single backend.
type Store interface {
	SessionStore
	CodeStore
	RefreshTokenStore

	// Health reports whether the backend is reachable.
	Health(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
