// SPDX-FileCopyrightText: Copyright 2026 Veridian Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/veridianhq/veridian/pkg/authserver/client"
	"github.com/veridianhq/veridian/pkg/authserver/storage"
	"github.com/veridianhq/veridian/pkg/authserver/token"
)

// tokenResponse is the RFC 6749 token endpoint success body.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

// TokenHandler implements the token endpoint. It supports the
// authorization_code and refresh_token grants with confidential client
// authentication via HTTP Basic or form parameters.
func (h *Handler) TokenHandler(w http.ResponseWriter, req *http.Request) {
	if err := req.ParseForm(); err != nil {
		h.writeError(w, http.StatusBadRequest, errInvalidRequest, "malformed form body")
		return
	}

	cl, err := h.authenticateClient(req)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Basic realm="token"`)
		h.writeError(w, http.StatusUnauthorized, errInvalidClient, "client authentication failed")
		return
	}

	switch req.PostFormValue("grant_type") {
	case "authorization_code":
		h.codeGrant(w, req, cl)
	case "refresh_token":
		h.refreshGrant(w, req, cl)
	default:
		h.writeError(w, http.StatusBadRequest, errUnsupportedGrantType, "grant_type must be authorization_code or refresh_token")
	}
}

// authenticateClient resolves confidential client credentials from HTTP
// Basic auth or, failing that, from the form body.
func (h *Handler) authenticateClient(req *http.Request) (*client.Client, error) {
	id, secret, ok := req.BasicAuth()
	if !ok {
		id = req.PostFormValue("client_id")
		secret = req.PostFormValue("client_secret")
	}
	return h.clients.Authenticate(id, secret)
}

// codeGrant redeems an authorization code. The store guarantees a code
// is consumed at most once; replay, expiry, client mismatch, and
// redirect URI mismatch all surface as invalid_grant.
func (h *Handler) codeGrant(w http.ResponseWriter, req *http.Request, cl *client.Client) {
	ctx := req.Context()

	rawCode := req.PostFormValue("code")
	if rawCode == "" {
		h.writeError(w, http.StatusBadRequest, errInvalidRequest, "code is required")
		return
	}

	code, err := h.store.ConsumeAuthorizationCode(ctx, rawCode)
	if err != nil {
		if errors.Is(err, storage.ErrCodeAlreadyConsumed) {
			h.logger.Warn("authorization code replay detected",
				"client_id", cl.ID,
			)
		}
		if errors.Is(err, storage.ErrCodeAlreadyConsumed) || errors.Is(err, storage.ErrNotFound) {
			h.writeError(w, http.StatusBadRequest, errInvalidGrant, "authorization code is invalid, expired, or already used")
			return
		}
		h.logger.Error("failed to consume authorization code",
			"client_id", cl.ID,
			"error", err,
		)
		h.writeError(w, http.StatusInternalServerError, "server_error", "could not redeem authorization code")
		return
	}

	if code.ClientID != cl.ID {
		h.writeError(w, http.StatusBadRequest, errInvalidGrant, "authorization code was issued to another client")
		return
	}
	if req.PostFormValue("redirect_uri") != code.RedirectURI {
		h.writeError(w, http.StatusBadRequest, errInvalidGrant, "redirect_uri does not match the authorization request")
		return
	}

	h.issueTokens(ctx, w, cl, grantInput{
		subject:   code.Subject,
		username:  code.Username,
		sessionID: code.SessionID,
		scopes:    code.Scopes,
		nonce:     code.Nonce,
	})
}

// refreshGrant rotates a refresh token and mints a fresh token set. The
// old token is invalidated before the new one is returned.
func (h *Handler) refreshGrant(w http.ResponseWriter, req *http.Request, cl *client.Client) {
	ctx := req.Context()

	rawToken := req.PostFormValue("refresh_token")
	if rawToken == "" {
		h.writeError(w, http.StatusBadRequest, errInvalidRequest, "refresh_token is required")
		return
	}

	rt, err := h.store.GetRefreshToken(ctx, rawToken)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.writeError(w, http.StatusBadRequest, errInvalidGrant, "refresh token is invalid or expired")
			return
		}
		h.logger.Error("failed to load refresh token",
			"client_id", cl.ID,
			"error", err,
		)
		h.writeError(w, http.StatusInternalServerError, "server_error", "could not redeem refresh token")
		return
	}
	if rt.ClientID != cl.ID {
		h.writeError(w, http.StatusBadRequest, errInvalidGrant, "refresh token was issued to another client")
		return
	}

	if err := h.store.DeleteRefreshToken(ctx, rawToken); err != nil {
		h.logger.Error("failed to rotate refresh token",
			"client_id", cl.ID,
			"error", err,
		)
		h.writeError(w, http.StatusInternalServerError, "server_error", "could not rotate refresh token")
		return
	}

	h.issueTokens(ctx, w, cl, grantInput{
		subject:   rt.Subject,
		username:  rt.Username,
		sessionID: rt.SessionID,
		scopes:    rt.Scopes,
	})
}

// grantInput is the principal and grant context a token set is minted for.
type grantInput struct {
	subject   string
	username  string
	sessionID string
	scopes    []string
	nonce     string
}

// issueTokens mints the access token, refresh token, and, when the
// openid scope was granted, the ID token, then writes the response.
func (h *Handler) issueTokens(ctx context.Context, w http.ResponseWriter, cl *client.Client, in grantInput) {
	accessToken, err := h.tokens.IssueAccessToken(ctx, token.AccessTokenParams{
		Subject:  in.subject,
		Username: in.username,
		ClientID: cl.ID,
		Scopes:   in.scopes,
	})
	if err != nil {
		h.logger.Error("failed to issue access token",
			"client_id", cl.ID,
			"error", err,
		)
		h.writeError(w, http.StatusInternalServerError, "server_error", "could not issue tokens")
		return
	}

	resp := tokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(h.accessTokenLifespan / time.Second),
		Scope:       strings.Join(in.scopes, " "),
	}

	if slices.Contains(in.scopes, "openid") {
		idToken, err := h.tokens.IssueIDToken(ctx, token.IDTokenParams{
			Subject:   in.subject,
			ClientID:  cl.ID,
			SessionID: in.sessionID,
			Nonce:     in.nonce,
			AuthTime:  h.sessionAuthTime(ctx, in.sessionID),
		})
		if err != nil {
			h.logger.Error("failed to issue ID token",
				"client_id", cl.ID,
				"error", err,
			)
			h.writeError(w, http.StatusInternalServerError, "server_error", "could not issue tokens")
			return
		}
		resp.IDToken = idToken
	}

	now := time.Now()
	refresh := &storage.RefreshToken{
		Token:     randomToken(),
		ClientID:  cl.ID,
		Subject:   in.subject,
		Username:  in.username,
		SessionID: in.sessionID,
		Scopes:    in.scopes,
		CreatedAt: now,
		ExpiresAt: now.Add(h.refreshTokenLifespan),
	}
	if err := h.store.CreateRefreshToken(ctx, refresh); err != nil {
		h.logger.Error("failed to persist refresh token",
			"client_id", cl.ID,
			"error", err,
		)
		h.writeError(w, http.StatusInternalServerError, "server_error", "could not issue tokens")
		return
	}
	resp.RefreshToken = refresh.Token

	h.logger.Info("tokens issued",
		"client_id", cl.ID,
		"subject", in.subject,
		"session_id", in.sessionID,
	)
	h.writeJSON(w, resp)
}

// sessionAuthTime returns the original authentication time for a still
// live session, or the zero time when the session is gone.
func (h *Handler) sessionAuthTime(ctx context.Context, sessionID string) time.Time {
	if sessionID == "" {
		return time.Time{}
	}
	session, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		return time.Time{}
	}
	return session.CreatedAt
}
