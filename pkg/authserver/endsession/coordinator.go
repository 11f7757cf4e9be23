// SPDX-FileCopyrightText: Copyright 2026 Veridian Authors
// SPDX-License-Identifier: Apache-2.0

// Package endsession implements OIDC RP-Initiated Logout: deciding, for
// every combination of session cookie and ID token hint, whether a
// session is terminated and where the user agent is redirected.
//
// Two rules shape everything here. Termination is governed by the
// cookie-bound session alone: the hint is advisory and an invalid hint
// must never block logout, or logout becomes a denial-of-service vector.
// Redirection is governed by the hint: only a trustworthy hint may widen
// the redirect target beyond the operator-configured default.
package endsession

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/veridianhq/veridian/pkg/authserver/storage"
	"github.com/veridianhq/veridian/pkg/authserver/token"
)

// HintVerifier validates an ID token hint structurally.
type HintVerifier interface {
	Verify(ctx context.Context, rawHint string) (*token.HintClaims, error)
}

// ClientDirectory answers the two questions the coordinator has about
// clients: is this a registered client, and is this URI in its
// post-logout allow-list.
type ClientDirectory interface {
	Exists(clientID string) bool
	PostLogoutRedirectAllowed(clientID, uri string) bool
}

// Request carries the end-session inputs. All fields are optional; the
// coordinator produces a redirect for every combination.
type Request struct {
	// IDTokenHint is the raw id_token_hint parameter, if any.
	IDTokenHint string

	// SessionID is the session identifier from the cookie, if any.
	SessionID string

	// PostLogoutRedirectURI is the requested post-logout destination.
	PostLogoutRedirectURI string

	// State is echoed onto a client-registered redirect when one is used.
	State string
}

// Result is the logout outcome. RedirectURI is always non-empty.
type Result struct {
	// RedirectURI is where the user agent is sent.
	RedirectURI string

	// SessionTerminated reports whether a live session was deleted.
	SessionTerminated bool

	// HintTrusted reports whether the hint passed every check and was
	// used for redirect resolution.
	HintTrusted bool
}

// Coordinator drives RP-initiated logout.
type Coordinator struct {
	sessions           storage.SessionStore
	verifier           HintVerifier
	clients            ClientDirectory
	defaultRedirectURI string
	logger             *slog.Logger
}

// NewCoordinator creates a Coordinator. defaultRedirectURI must be a
// concrete, non-empty URI; it is the destination for every logout that
// lacks a trustworthy hint with a registered post-logout target.
func NewCoordinator(
	sessions storage.SessionStore,
	verifier HintVerifier,
	clients ClientDirectory,
	defaultRedirectURI string,
	logger *slog.Logger,
) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		sessions:           sessions,
		verifier:           verifier,
		clients:            clients,
		defaultRedirectURI: defaultRedirectURI,
		logger:             logger,
	}
}

// Logout evaluates an end-session request. It never fails: hint
// validation errors are logged and degrade to the default redirect, and
// session deletion is idempotent.
func (c *Coordinator) Logout(ctx context.Context, req Request) Result {
	session := c.lookupSession(ctx, req.SessionID)
	hintClient, trusted := c.evaluateHint(ctx, req.IDTokenHint, session)

	terminated := false
	if session != nil {
		if err := c.sessions.DeleteSession(ctx, session.ID); err != nil {
			// The session may outlive this request; the user agent still
			// gets its redirect.
			c.logger.Warn("failed to delete session during logout",
				"session_id", session.ID,
				"error", err,
			)
		} else {
			terminated = true
		}
	}

	redirect := c.defaultRedirectURI
	if trusted && req.PostLogoutRedirectURI != "" {
		if c.clients.PostLogoutRedirectAllowed(hintClient, req.PostLogoutRedirectURI) {
			redirect = appendState(req.PostLogoutRedirectURI, req.State)
		} else {
			c.logger.Debug("requested post_logout_redirect_uri not registered, using default",
				"client_id", hintClient,
			)
		}
	}

	return Result{
		RedirectURI:       redirect,
		SessionTerminated: terminated,
		HintTrusted:       trusted,
	}
}

// lookupSession resolves the cookie-bound session. The store treats
// expired sessions as absent and purges them, so an expired session
// flows through the same path as a missing one.
func (c *Coordinator) lookupSession(ctx context.Context, sessionID string) *storage.Session {
	if sessionID == "" {
		return nil
	}

	session, err := c.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil
	}
	return session
}

// evaluateHint decides whether the hint is trustworthy and which
// registered client it belongs to. A hint is untrusted if it fails
// structural validation, names no registered client in its audience, or
// carries a sid that contradicts the live session.
func (c *Coordinator) evaluateHint(ctx context.Context, rawHint string, session *storage.Session) (string, bool) {
	if rawHint == "" {
		return "", false
	}

	claims, err := c.verifier.Verify(ctx, rawHint)
	if err != nil {
		// Swallowed: an invalid hint must not surface to the caller.
		c.logger.Debug("discarding invalid id_token_hint",
			"error", err,
		)
		return "", false
	}

	clientID := ""
	for _, aud := range claims.Audience {
		if c.clients.Exists(aud) {
			clientID = aud
			break
		}
	}
	if clientID == "" {
		c.logger.Debug("id_token_hint audience names no registered client")
		return "", false
	}

	if session != nil && claims.SessionID != "" && claims.SessionID != session.ID {
		c.logger.Debug("id_token_hint sid does not match live session, treating hint as untrusted",
			"client_id", clientID,
		)
		return "", false
	}

	return clientID, true
}

// appendState adds the state parameter to a redirect URI, preserving any
// existing query.
func appendState(redirectURI, state string) string {
	if state == "" {
		return redirectURI
	}

	u, err := url.Parse(redirectURI)
	if err != nil {
		return redirectURI
	}

	q := u.Query()
	q.Set("state", state)
	u.RawQuery = q.Encode()
	return u.String()
}
