// SPDX-FileCopyrightText: Copyright 2026 Veridian Authors
// SPDX-License-Identifier: Apache-2.0

// Package handlers provides the HTTP handlers for the authorization
// server endpoints: authorize, login, token, end-session, discovery,
// JWKS, and userinfo.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/veridianhq/veridian/pkg/authserver/client"
	"github.com/veridianhq/veridian/pkg/authserver/endsession"
	"github.com/veridianhq/veridian/pkg/authserver/keys"
	"github.com/veridianhq/veridian/pkg/authserver/storage"
	"github.com/veridianhq/veridian/pkg/authserver/token"
)

// SessionCookieName is the cookie carrying the opaque session ID.
const SessionCookieName = "veridian_session"

// Endpoint paths. The issuer-relative layout follows the upstream
// convention: OAuth endpoints under /oauth2, RP-initiated logout under
// /connect/logout.
const (
	AuthorizePath = "/oauth2/authorize"
	TokenPath     = "/oauth2/token"
	LoginPath     = "/login"
	LogoutPath    = "/connect/logout"
	UserInfoPath  = "/userinfo"
	JWKSPath      = "/.well-known/jwks.json"
	DiscoveryPath = "/.well-known/openid-configuration"
)

// OAuth 2.0 error codes used in responses.
const (
	errInvalidRequest          = "invalid_request"
	errInvalidClient           = "invalid_client"
	errInvalidRedirectURI      = "invalid_redirect_uri"
	errInvalidGrant            = "invalid_grant"
	errInvalidScope            = "invalid_scope"
	errUnsupportedGrantType    = "unsupported_grant_type"
	errUnsupportedResponseType = "unsupported_response_type"
)

// Params are the dependencies and settings for a Handler.
type Params struct {
	// Issuer is the issuer identifier, also the base URL for endpoint
	// construction in the discovery document.
	Issuer string

	// Clients is the registered client set.
	Clients *client.Registry

	// Users backs the login endpoint.
	Users *storage.UserDirectory

	// Store holds sessions, codes, and refresh tokens.
	Store storage.Store

	// Tokens mints access and ID tokens.
	Tokens *token.Issuer

	// Logout drives the end-session decision table.
	Logout *endsession.Coordinator

	// Keys serves the public JWKS and userinfo verification keys.
	Keys keys.Provider

	// SessionLifespan is the session timeout applied at login.
	SessionLifespan time.Duration

	// AuthCodeLifespan is the authorization code TTL.
	AuthCodeLifespan time.Duration

	// RefreshTokenLifespan is the refresh token TTL.
	RefreshTokenLifespan time.Duration

	// AccessTokenLifespan is reported as expires_in on token responses.
	AccessTokenLifespan time.Duration

	// SecureCookies marks session cookies Secure. Enable everywhere TLS
	// terminates in front of or at the server.
	SecureCookies bool

	// Logger receives structured request-scoped events.
	Logger *slog.Logger
}

// Handler provides HTTP handlers for the authorization server endpoints.
type Handler struct {
	issuer               string
	clients              *client.Registry
	users                *storage.UserDirectory
	store                storage.Store
	tokens               *token.Issuer
	logout               *endsession.Coordinator
	keys                 keys.Provider
	bearer               *bearerValidator
	sessionLifespan      time.Duration
	authCodeLifespan     time.Duration
	refreshTokenLifespan time.Duration
	accessTokenLifespan  time.Duration
	secureCookies        bool
	logger               *slog.Logger
}

// New creates a Handler with the given dependencies.
func New(p Params) (*Handler, error) {
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.SessionLifespan <= 0 {
		p.SessionLifespan = storage.DefaultSessionLifespan
	}
	if p.AuthCodeLifespan <= 0 {
		p.AuthCodeLifespan = storage.DefaultAuthCodeLifespan
	}
	if p.RefreshTokenLifespan <= 0 {
		p.RefreshTokenLifespan = storage.DefaultRefreshTokenLifespan
	}
	if p.AccessTokenLifespan <= 0 {
		p.AccessTokenLifespan = token.DefaultAccessTokenLifespan
	}

	bearer, err := newBearerValidator(p.Issuer, p.Keys)
	if err != nil {
		return nil, err
	}

	return &Handler{
		issuer:               p.Issuer,
		clients:              p.Clients,
		users:                p.Users,
		store:                p.Store,
		tokens:               p.Tokens,
		logout:               p.Logout,
		keys:                 p.Keys,
		bearer:               bearer,
		sessionLifespan:      p.SessionLifespan,
		authCodeLifespan:     p.AuthCodeLifespan,
		refreshTokenLifespan: p.RefreshTokenLifespan,
		accessTokenLifespan:  p.AccessTokenLifespan,
		secureCookies:        p.SecureCookies,
		logger:               p.Logger,
	}, nil
}

// Routes returns a router with all endpoints registered.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	h.OAuthRoutes(r)
	h.WellKnownRoutes(r)
	return r
}

// OAuthRoutes registers the OAuth/OIDC protocol endpoints.
func (h *Handler) OAuthRoutes(r chi.Router) {
	r.Get(AuthorizePath, h.AuthorizeHandler)
	r.Post(TokenPath, h.TokenHandler)
	r.Post(LoginPath, h.LoginHandler)
	r.Get(LogoutPath, h.LogoutHandler)
	r.Post(LogoutPath, h.LogoutHandler)
	r.Get(UserInfoPath, h.UserInfoHandler)
}

// WellKnownRoutes registers the discovery and JWKS endpoints.
func (h *Handler) WellKnownRoutes(r chi.Router) {
	r.Get(JWKSPath, h.JWKSHandler)
	r.Get(DiscoveryPath, h.DiscoveryHandler)
}

// oauthError is the RFC 6749 error response body.
type oauthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// writeError writes an OAuth error response as JSON. Used on paths where
// redirecting is forbidden (unknown client, bad redirect_uri, token
// endpoint failures).
func (h *Handler) writeError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(oauthError{Code: code, Description: description}); err != nil {
		h.logger.Error("failed to encode error response",
			"error", err,
		)
	}
}

// writeJSON writes a 200 JSON response.
func (h *Handler) writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response",
			"error", err,
		)
	}
}

// sessionIDFromCookie extracts the session ID from the request cookie,
// if present.
func sessionIDFromCookie(req *http.Request) string {
	cookie, err := req.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// setSessionCookie binds the session to the user agent.
func (h *Handler) setSessionCookie(w http.ResponseWriter, sessionID string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionCookie instructs the user agent to drop the session cookie.
func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
