// SPDX-FileCopyrightText: Copyright 2026 Veridian Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/veridianhq/veridian/pkg/authserver/storage"
)

// LoginHandler authenticates a username/password pair, establishes a
// session, and sets the session cookie. When return_to names a local
// path the user agent is sent back there, which resumes an interrupted
// authorization request.
func (h *Handler) LoginHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	if err := req.ParseForm(); err != nil {
		h.writeError(w, http.StatusBadRequest, errInvalidRequest, "malformed form body")
		return
	}

	username := req.PostFormValue("username")
	password := req.PostFormValue("password")
	if username == "" || password == "" {
		h.writeError(w, http.StatusBadRequest, errInvalidRequest, "username and password are required")
		return
	}

	user, err := h.users.Authenticate(username, password)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidCredentials) {
			h.logger.Info("login rejected",
				"username", username,
			)
			h.writeError(w, http.StatusUnauthorized, "access_denied", "invalid username or password")
			return
		}
		h.logger.Error("login failed",
			"username", username,
			"error", err,
		)
		h.writeError(w, http.StatusInternalServerError, "server_error", "could not authenticate")
		return
	}

	now := time.Now()
	session := &storage.Session{
		ID:        randomToken(),
		Subject:   user.Subject,
		Username:  user.Username,
		CreatedAt: now,
		ExpiresAt: now.Add(h.sessionLifespan),
	}
	if err := h.store.CreateSession(ctx, session); err != nil {
		h.logger.Error("failed to persist session",
			"username", username,
			"error", err,
		)
		h.writeError(w, http.StatusInternalServerError, "server_error", "could not establish session")
		return
	}

	h.setSessionCookie(w, session.ID, session.ExpiresAt)
	h.logger.Info("session established",
		"session_id", session.ID,
		"subject", user.Subject,
		"username", user.Username,
	)

	if target := localReturnTarget(req.PostFormValue("return_to")); target != "" {
		http.Redirect(w, req, target, http.StatusFound)
		return
	}

	h.writeJSON(w, map[string]string{
		"session_id": session.ID,
		"subject":    user.Subject,
	})
}

// localReturnTarget accepts only server-local paths as post-login
// destinations. Absolute URLs and scheme-relative URLs are open
// redirects and are dropped.
func localReturnTarget(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") {
		return ""
	}
	return raw
}
