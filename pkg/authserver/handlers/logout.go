// SPDX-FileCopyrightText: Copyright 2026 Veridian Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/veridianhq/veridian/pkg/authserver/endsession"
)

// LogoutHandler implements OpenID Connect RP-initiated logout. The
// endpoint never fails: whatever the state of the hint or the session,
// the browser session cookie is cleared and the user agent is redirected
// somewhere sensible.
func (h *Handler) LogoutHandler(w http.ResponseWriter, req *http.Request) {
	if req.Method == http.MethodPost {
		if err := req.ParseForm(); err != nil {
			h.writeError(w, http.StatusBadRequest, errInvalidRequest, "malformed form body")
			return
		}
	}

	result := h.logout.Logout(req.Context(), endsession.Request{
		IDTokenHint:           logoutParam(req, "id_token_hint"),
		SessionID:             sessionIDFromCookie(req),
		PostLogoutRedirectURI: logoutParam(req, "post_logout_redirect_uri"),
		State:                 logoutParam(req, "state"),
	})

	h.clearSessionCookie(w)
	http.Redirect(w, req, result.RedirectURI, http.StatusFound)
}

// logoutParam reads a logout parameter from the query string on GET and
// from the form body on POST.
func logoutParam(req *http.Request, name string) string {
	if req.Method == http.MethodPost {
		return req.PostFormValue(name)
	}
	return req.URL.Query().Get(name)
}
