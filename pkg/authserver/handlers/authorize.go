// SPDX-FileCopyrightText: Copyright 2026 Veridian Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/veridianhq/veridian/pkg/authserver/storage"
)

// AuthorizeHandler implements the authorization endpoint for the
// authorization code flow. An unauthenticated user agent is redirected to
// the login endpoint with the original request preserved in return_to; an
// authenticated one gets a single-use code bound to the client, redirect
// URI, and live session.
func (h *Handler) AuthorizeHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	q := req.URL.Query()

	clientID := q.Get("client_id")
	redirectURI := q.Get("redirect_uri")

	// Client and redirect URI failures must never redirect: the target is
	// not trustworthy until both check out.
	cl, ok := h.clients.Get(clientID)
	if !ok {
		h.writeError(w, http.StatusBadRequest, errInvalidClient, "unknown client")
		return
	}
	if redirectURI == "" || !cl.RedirectURIAllowed(redirectURI) {
		h.writeError(w, http.StatusBadRequest, errInvalidRedirectURI, "redirect_uri is not registered for this client")
		return
	}

	state := q.Get("state")

	if q.Get("response_type") != "code" {
		h.redirectError(w, req, redirectURI, state, errUnsupportedResponseType, "only the code response type is supported")
		return
	}

	scopes := splitScopes(q.Get("scope"))
	for _, scope := range scopes {
		if !cl.ScopeAllowed(scope) {
			h.redirectError(w, req, redirectURI, state, errInvalidScope, "scope "+scope+" is not allowed for this client")
			return
		}
	}

	session := h.liveSession(ctx, req)
	if session == nil {
		h.redirectToLogin(w, req)
		return
	}

	code := &storage.AuthorizationCode{
		Code:        randomToken(),
		ClientID:    cl.ID,
		Subject:     session.Subject,
		Username:    session.Username,
		SessionID:   session.ID,
		RedirectURI: redirectURI,
		Scopes:      scopes,
		Nonce:       q.Get("nonce"),
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(h.authCodeLifespan),
	}
	if err := h.store.CreateAuthorizationCode(ctx, code); err != nil {
		h.logger.Error("failed to persist authorization code",
			"client_id", cl.ID,
			"error", err,
		)
		h.redirectError(w, req, redirectURI, state, "server_error", "could not issue authorization code")
		return
	}

	h.logger.Info("authorization code issued",
		"client_id", cl.ID,
		"session_id", session.ID,
		"subject", session.Subject,
	)

	target, _ := url.Parse(redirectURI)
	params := target.Query()
	params.Set("code", code.Code)
	if state != "" {
		params.Set("state", state)
	}
	target.RawQuery = params.Encode()
	http.Redirect(w, req, target.String(), http.StatusFound)
}

// liveSession resolves the session cookie to a live session, or nil.
func (h *Handler) liveSession(ctx context.Context, req *http.Request) *storage.Session {
	sessionID := sessionIDFromCookie(req)
	if sessionID == "" {
		return nil
	}
	session, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil
	}
	return session
}

// redirectToLogin sends the user agent to the login endpoint, preserving
// the full authorization request so it can resume after authentication.
func (h *Handler) redirectToLogin(w http.ResponseWriter, req *http.Request) {
	target := LoginPath + "?" + url.Values{
		"return_to": {req.URL.RequestURI()},
	}.Encode()
	http.Redirect(w, req, target, http.StatusFound)
}

// redirectError reports an authorization failure to a validated redirect
// URI per RFC 6749 section 4.1.2.1.
func (h *Handler) redirectError(w http.ResponseWriter, req *http.Request, redirectURI, state, code, description string) {
	target, err := url.Parse(redirectURI)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, errInvalidRedirectURI, "redirect_uri is not a valid URI")
		return
	}
	params := target.Query()
	params.Set("error", code)
	params.Set("error_description", description)
	if state != "" {
		params.Set("state", state)
	}
	target.RawQuery = params.Encode()
	http.Redirect(w, req, target.String(), http.StatusFound)
}

// splitScopes parses a space-delimited scope parameter.
func splitScopes(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Fields(raw)
}

// randomToken returns a 256-bit URL-safe random string, used for session
// IDs, authorization codes, and refresh tokens.
func randomToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms.
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
