// SPDX-FileCopyrightText: Copyright 2026 Veridian Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veridianhq/veridian/pkg/authserver/client"
	"github.com/veridianhq/veridian/pkg/authserver/endsession"
	"github.com/veridianhq/veridian/pkg/authserver/keys"
	"github.com/veridianhq/veridian/pkg/authserver/storage"
	"github.com/veridianhq/veridian/pkg/authserver/token"
)

const (
	testIssuer          = "https://auth.test"
	testClientID        = "web-app"
	testClientSecret    = "s3cret"
	testRedirectURI     = "https://app.test/callback"
	testPostLogoutURI   = "https://app.test/bye"
	testDefaultRedirect = testIssuer + "/"
	testUsername        = "alice"
	testPassword        = "correct horse"
)

type fixture struct {
	handler *Handler
	store   *storage.MemoryStore
	issuer  *token.Issuer
	router  http.Handler
}

func newFixture(t *testing.T, issuerOpts ...token.IssuerOption) *fixture {
	t.Helper()

	provider, err := keys.NewGeneratedProvider()
	require.NoError(t, err)

	store := storage.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	registry := client.NewRegistry([]client.Client{{
		ID:                     testClientID,
		Secret:                 testClientSecret,
		RedirectURIs:           []string{testRedirectURI},
		PostLogoutRedirectURIs: []string{testPostLogoutURI},
		Scopes:                 []string{"openid", "profile", "offline_access"},
	}})

	users := storage.NewUserDirectory()
	user, err := storage.NewUser(testUsername, testPassword)
	require.NoError(t, err)
	users.AddUser(user)

	issuer := token.NewIssuer(testIssuer, provider, issuerOpts...)
	verifier := token.NewHintVerifier(testIssuer, provider)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	coordinator := endsession.NewCoordinator(store, verifier, registry, testDefaultRedirect, logger)

	h, err := New(Params{
		Issuer:  testIssuer,
		Clients: registry,
		Users:   users,
		Store:   store,
		Tokens:  issuer,
		Logout:  coordinator,
		Keys:    provider,
		Logger:  logger,
	})
	require.NoError(t, err)

	return &fixture{
		handler: h,
		store:   store,
		issuer:  issuer,
		router:  h.Routes(),
	}
}

// login posts valid credentials and returns the session cookie.
func (f *fixture) login(t *testing.T) *http.Cookie {
	t.Helper()

	form := url.Values{
		"username": {testUsername},
		"password": {testPassword},
	}
	req := httptest.NewRequest(http.MethodPost, LoginPath, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == SessionCookieName {
			return cookie
		}
	}
	t.Fatal("no session cookie set by login")
	return nil
}

// authorize runs the authorization request with a session cookie and
// returns the issued code.
func (f *fixture) authorize(t *testing.T, cookie *http.Cookie, extra url.Values) string {
	t.Helper()

	q := url.Values{
		"response_type": {"code"},
		"client_id":     {testClientID},
		"redirect_uri":  {testRedirectURI},
		"scope":         {"openid profile"},
	}
	for name, values := range extra {
		q[name] = values
	}
	req := httptest.NewRequest(http.MethodGet, AuthorizePath+"?"+q.Encode(), nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	code := loc.Query().Get("code")
	require.NotEmpty(t, code, "authorization redirect carried no code: %s", loc)
	return code
}

// redeem exchanges a code at the token endpoint.
func (f *fixture) redeem(t *testing.T, code string) tokenResponse {
	t.Helper()

	rec := f.postToken(url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {testRedirectURI},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// postToken submits a token request with Basic client authentication.
func (f *fixture) postToken(form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, TokenPath, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(testClientID, testClientSecret)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var resp oauthError
	require.NoError(t, json.Unmarshal(body, &resp))
	return resp.Code
}

func TestFullAuthorizationCodeFlow(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	cookie := f.login(t)
	code := f.authorize(t, cookie, url.Values{
		"state": {"xyzzy"},
		"nonce": {"n-0S6_WzA2Mj"},
	})
	resp := f.redeem(t, code)

	require.NotEmpty(t, resp.AccessToken)
	require.NotEmpty(t, resp.IDToken)
	require.NotEmpty(t, resp.RefreshToken)
	require.Equal(t, "Bearer", resp.TokenType)
	require.Equal(t, int64(token.DefaultAccessTokenLifespan/time.Second), resp.ExpiresIn)
	require.Equal(t, "openid profile", resp.Scope)
}

func TestAuthorizeStateEchoedOnRedirect(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	cookie := f.login(t)
	q := url.Values{
		"response_type": {"code"},
		"client_id":     {testClientID},
		"redirect_uri":  {testRedirectURI},
		"scope":         {"openid"},
		"state":         {"af0ifjsldkj"},
	}
	req := httptest.NewRequest(http.MethodGet, AuthorizePath+"?"+q.Encode(), nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "af0ifjsldkj", loc.Query().Get("state"))
}

func TestAuthorizeWithoutSessionRedirectsToLogin(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	q := url.Values{
		"response_type": {"code"},
		"client_id":     {testClientID},
		"redirect_uri":  {testRedirectURI},
		"scope":         {"openid"},
	}
	req := httptest.NewRequest(http.MethodGet, AuthorizePath+"?"+q.Encode(), nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, LoginPath, loc.Path)
	returnTo := loc.Query().Get("return_to")
	require.Contains(t, returnTo, AuthorizePath)
	require.Contains(t, returnTo, "client_id="+testClientID)
}

func TestAuthorizeRejectsUnknownClientWithoutRedirect(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	q := url.Values{
		"response_type": {"code"},
		"client_id":     {"nope"},
		"redirect_uri":  {testRedirectURI},
	}
	req := httptest.NewRequest(http.MethodGet, AuthorizePath+"?"+q.Encode(), nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, errInvalidClient, errorCode(t, rec.Body.Bytes()))
}

func TestAuthorizeRejectsUnregisteredRedirectURIWithoutRedirect(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	q := url.Values{
		"response_type": {"code"},
		"client_id":     {testClientID},
		"redirect_uri":  {"https://evil.test/steal"},
	}
	req := httptest.NewRequest(http.MethodGet, AuthorizePath+"?"+q.Encode(), nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, errInvalidRedirectURI, errorCode(t, rec.Body.Bytes()))
}

func TestAuthorizeRedirectsProtocolErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	cookie := f.login(t)

	tests := []struct {
		name     string
		override url.Values
		wantErr  string
	}{
		{
			name:     "unsupported response type",
			override: url.Values{"response_type": {"token"}},
			wantErr:  errUnsupportedResponseType,
		},
		{
			name:     "disallowed scope",
			override: url.Values{"scope": {"openid admin"}},
			wantErr:  errInvalidScope,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q := url.Values{
				"response_type": {"code"},
				"client_id":     {testClientID},
				"redirect_uri":  {testRedirectURI},
				"scope":         {"openid"},
				"state":         {"keepme"},
			}
			for name, values := range tc.override {
				q[name] = values
			}
			req := httptest.NewRequest(http.MethodGet, AuthorizePath+"?"+q.Encode(), nil)
			req.AddCookie(cookie)
			rec := httptest.NewRecorder()
			f.router.ServeHTTP(rec, req)

			require.Equal(t, http.StatusFound, rec.Code)
			loc, err := url.Parse(rec.Header().Get("Location"))
			require.NoError(t, err)
			require.Equal(t, "app.test", loc.Host)
			require.Equal(t, tc.wantErr, loc.Query().Get("error"))
			require.Equal(t, "keepme", loc.Query().Get("state"))
		})
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	form := url.Values{
		"username": {testUsername},
		"password": {"wrong"},
	}
	req := httptest.NewRequest(http.MethodPost, LoginPath, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	for _, cookie := range rec.Result().Cookies() {
		require.NotEqual(t, SessionCookieName, cookie.Name)
	}
}

func TestLoginFollowsLocalReturnTo(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	form := url.Values{
		"username":  {testUsername},
		"password":  {testPassword},
		"return_to": {AuthorizePath + "?client_id=" + testClientID},
	}
	req := httptest.NewRequest(http.MethodPost, LoginPath, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	require.Contains(t, rec.Header().Get("Location"), AuthorizePath)
}

func TestLoginIgnoresAbsoluteReturnTo(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	for _, target := range []string{"https://evil.test/", "//evil.test/"} {
		form := url.Values{
			"username":  {testUsername},
			"password":  {testPassword},
			"return_to": {target},
		}
		req := httptest.NewRequest(http.MethodPost, LoginPath, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, "open redirect target %q must not be followed", target)
	}
}

func TestTokenRejectsBadClientCredentials(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	form := url.Values{
		"grant_type": {"authorization_code"},
		"code":       {"whatever"},
	}
	req := httptest.NewRequest(http.MethodPost, TokenPath, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(testClientID, "wrong-secret")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, errInvalidClient, errorCode(t, rec.Body.Bytes()))
}

func TestTokenAcceptsFormClientCredentials(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	cookie := f.login(t)
	code := f.authorize(t, cookie, nil)

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {testRedirectURI},
		"client_id":     {testClientID},
		"client_secret": {testClientSecret},
	}
	req := httptest.NewRequest(http.MethodPost, TokenPath, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestTokenRejectsCodeReplay(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	cookie := f.login(t)
	code := f.authorize(t, cookie, nil)
	f.redeem(t, code)

	rec := f.postToken(url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {testRedirectURI},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, errInvalidGrant, errorCode(t, rec.Body.Bytes()))
}

func TestTokenRejectsRedirectURIMismatch(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	cookie := f.login(t)
	code := f.authorize(t, cookie, nil)

	rec := f.postToken(url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {"https://app.test/other"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, errInvalidGrant, errorCode(t, rec.Body.Bytes()))
}

func TestTokenRejectsUnknownGrantType(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.postToken(url.Values{
		"grant_type": {"password"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, errUnsupportedGrantType, errorCode(t, rec.Body.Bytes()))
}

func TestRefreshGrantRotatesToken(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	cookie := f.login(t)
	code := f.authorize(t, cookie, nil)
	first := f.redeem(t, code)

	rec := f.postToken(url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {first.RefreshToken},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var second tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	require.NotEmpty(t, second.AccessToken)
	require.NotEmpty(t, second.RefreshToken)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)

	// The old token is dead after rotation.
	rec = f.postToken(url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {first.RefreshToken},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, errInvalidGrant, errorCode(t, rec.Body.Bytes()))
}

func TestUserInfoRequiresBearerToken(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, UserInfoPath, nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, UserInfoPath, nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUserInfoReturnsClaims(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	cookie := f.login(t)
	code := f.authorize(t, cookie, nil)
	tokens := f.redeem(t, code)

	req := httptest.NewRequest(http.MethodGet, UserInfoPath, nil)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var info map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.NotEmpty(t, info["sub"])
	require.Equal(t, testUsername, info["preferred_username"])
}

func TestDiscoveryDocument(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, DiscoveryPath, nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.Equal(t, testIssuer, doc["issuer"])
	require.Equal(t, testIssuer+AuthorizePath, doc["authorization_endpoint"])
	require.Equal(t, testIssuer+TokenPath, doc["token_endpoint"])
	require.Equal(t, testIssuer+LogoutPath, doc["end_session_endpoint"])
	require.Equal(t, testIssuer+JWKSPath, doc["jwks_uri"])
}

func TestJWKSServesPublicKeys(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, JWKSPath, nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var jwks struct {
		Keys []map[string]any `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jwks))
	require.Len(t, jwks.Keys, 1)
	require.NotEmpty(t, jwks.Keys[0]["kid"])
	// No private key material leaks into the published set.
	require.NotContains(t, jwks.Keys[0], "d")
}
