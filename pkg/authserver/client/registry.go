// SPDX-FileCopyrightText: Copyright 2026 Veridian Authors
// SPDX-License-Identifier: Apache-2.0

// Package client holds the registered OAuth client records and their
// redirect allow-lists. Clients are static configuration: the registry is
// populated at startup and read-only afterwards.
package client

import (
	"crypto/subtle"
	"errors"
	"slices"
)

// Client registry errors.
var (
	// ErrUnknownClient is returned when no client with the given ID is
	// registered.
	ErrUnknownClient = errors.New("unknown client")

	// ErrBadCredentials is returned when the presented secret does not
	// match the registered one.
	ErrBadCredentials = errors.New("client credentials do not match")
)

// Client is a registered OAuth client.
type Client struct {
	// ID is the client identifier.
	ID string

	// Secret is the client secret for confidential client authentication.
	Secret string

	// RedirectURIs is the exact-match allow-list for authorization
	// redirect URIs.
	RedirectURIs []string

	// PostLogoutRedirectURIs is the exact-match allow-list for
	// RP-initiated logout redirect URIs.
	PostLogoutRedirectURIs []string

	// Scopes restricts the scopes this client may request. Empty means
	// any scope is allowed.
	Scopes []string
}

// RedirectURIAllowed reports whether uri is in the client's redirect
// allow-list. Matching is exact; no prefix or wildcard logic.
func (c *Client) RedirectURIAllowed(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

// PostLogoutRedirectURIAllowed reports whether uri is a registered
// post-logout redirect URI.
func (c *Client) PostLogoutRedirectURIAllowed(uri string) bool {
	return slices.Contains(c.PostLogoutRedirectURIs, uri)
}

// ScopeAllowed reports whether the client may request the given scope.
func (c *Client) ScopeAllowed(scope string) bool {
	return len(c.Scopes) == 0 || slices.Contains(c.Scopes, scope)
}

// Registry is the read-only set of registered clients.
type Registry struct {
	clients map[string]*Client
}

// NewRegistry builds a registry from the configured clients.
func NewRegistry(clients []Client) *Registry {
	m := make(map[string]*Client, len(clients))
	for i := range clients {
		c := clients[i]
		m[c.ID] = &c
	}
	return &Registry{clients: m}
}

// Get returns the client with the given ID.
func (r *Registry) Get(id string) (*Client, bool) {
	c, ok := r.clients[id]
	return c, ok
}

// Exists reports whether a client with the given ID is registered.
func (r *Registry) Exists(id string) bool {
	_, ok := r.clients[id]
	return ok
}

// Authenticate verifies a client ID and secret pair. The secret
// comparison is constant time; unknown client and bad secret are
// distinct errors internally but both surface as invalid_client.
func (r *Registry) Authenticate(id, secret string) (*Client, error) {
	c, ok := r.clients[id]
	if !ok {
		return nil, ErrUnknownClient
	}

	if subtle.ConstantTimeCompare([]byte(c.Secret), []byte(secret)) != 1 {
		return nil, ErrBadCredentials
	}
	return c, nil
}

// PostLogoutRedirectAllowed reports whether the given client has uri in
// its post-logout allow-list. Unknown clients allow nothing.
func (r *Registry) PostLogoutRedirectAllowed(clientID, uri string) bool {
	c, ok := r.clients[clientID]
	if !ok {
		return false
	}
	return c.PostLogoutRedirectURIAllowed(uri)
}
