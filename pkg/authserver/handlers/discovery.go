// SPDX-FileCopyrightText: Copyright 2026 Veridian Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
)

// discoveryDocument is the OpenID Connect discovery metadata this server
// publishes. Only implemented capabilities are advertised.
type discoveryDocument struct {
	Issuer                           string   `json:"issuer"`
	AuthorizationEndpoint            string   `json:"authorization_endpoint"`
	TokenEndpoint                    string   `json:"token_endpoint"`
	UserInfoEndpoint                 string   `json:"userinfo_endpoint"`
	EndSessionEndpoint               string   `json:"end_session_endpoint"`
	JWKSURI                          string   `json:"jwks_uri"`
	ResponseTypesSupported           []string `json:"response_types_supported"`
	GrantTypesSupported              []string `json:"grant_types_supported"`
	SubjectTypesSupported            []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported"`
	ScopesSupported                  []string `json:"scopes_supported"`
	TokenEndpointAuthMethods         []string `json:"token_endpoint_auth_methods_supported"`
	ClaimsSupported                  []string `json:"claims_supported"`
	FrontchannelLogoutSupported      bool     `json:"frontchannel_logout_supported"`
}

// DiscoveryHandler serves the OpenID Connect discovery document.
func (h *Handler) DiscoveryHandler(w http.ResponseWriter, _ *http.Request) {
	doc := discoveryDocument{
		Issuer:                 h.issuer,
		AuthorizationEndpoint:  h.issuer + AuthorizePath,
		TokenEndpoint:          h.issuer + TokenPath,
		UserInfoEndpoint:       h.issuer + UserInfoPath,
		EndSessionEndpoint:     h.issuer + LogoutPath,
		JWKSURI:                h.issuer + JWKSPath,
		ResponseTypesSupported: []string{"code"},
		GrantTypesSupported:    []string{"authorization_code", "refresh_token"},
		SubjectTypesSupported:  []string{"public"},
		IDTokenSigningAlgValuesSupported: []string{
			"RS256", "ES256",
		},
		ScopesSupported: []string{"openid", "profile", "email", "offline_access"},
		TokenEndpointAuthMethods: []string{
			"client_secret_basic", "client_secret_post",
		},
		ClaimsSupported: []string{
			"iss", "sub", "aud", "exp", "iat", "sid", "nonce", "auth_time", "preferred_username",
		},
	}
	h.writeJSON(w, doc)
}

// JWKSHandler serves the public signing keys. Relying parties use these
// to validate ID tokens before presenting them back as logout hints.
func (h *Handler) JWKSHandler(w http.ResponseWriter, req *http.Request) {
	jwks, err := h.keys.PublicJWKS(req.Context())
	if err != nil {
		h.logger.Error("failed to assemble JWKS",
			"error", err,
		)
		h.writeError(w, http.StatusInternalServerError, "server_error", "could not load signing keys")
		return
	}
	h.writeJSON(w, jwks)
}
