// SPDX-FileCopyrightText: Copyright 2026 Veridian Authors
// SPDX-License-Identifier: Apache-2.0

// Package authserver assembles an OpenID Connect authorization server
// with authorization code flow, refresh tokens, and RP-initiated logout.
package authserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/veridianhq/veridian/pkg/authserver/client"
	"github.com/veridianhq/veridian/pkg/authserver/endsession"
	"github.com/veridianhq/veridian/pkg/authserver/handlers"
	"github.com/veridianhq/veridian/pkg/authserver/storage"
	"github.com/veridianhq/veridian/pkg/authserver/token"
)

// Server is the assembled authorization server. It provides an
// http.Handler serving all OAuth/OIDC endpoints; the consumer does not
// need to know about the endpoint structure.
type Server struct {
	handler http.Handler
	store   storage.Store
	logger  *slog.Logger
}

// New creates an authorization server from a resolved Config and a
// storage backend. Use storage.NewMemoryStore for single-instance
// deployments or storage.NewRedisStore for shared state.
func New(ctx context.Context, cfg Config, store storage.Store, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}

	// Verify the signing key is usable before serving anything.
	signingKey, err := cfg.KeyProvider.SigningKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get signing key: %w", err)
	}
	logger.Debug("signing key loaded",
		"key_id", signingKey.KeyID,
		"algorithm", signingKey.Algorithm,
	)

	clientSet := make([]client.Client, 0, len(cfg.Clients))
	for _, cc := range cfg.Clients {
		clientSet = append(clientSet, client.Client{
			ID:                     cc.ID,
			Secret:                 cc.Secret,
			RedirectURIs:           cc.RedirectURIs,
			PostLogoutRedirectURIs: cc.PostLogoutRedirectURIs,
			Scopes:                 cc.Scopes,
		})
	}
	registry := client.NewRegistry(clientSet)

	users := storage.NewUserDirectory()
	for _, uc := range cfg.Users {
		user, err := storage.NewUser(uc.Username, uc.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to provision user %s: %w", uc.Username, err)
		}
		users.AddUser(user)
	}

	issuerOpts := []token.IssuerOption{
		token.WithAccessTokenLifespan(cfg.AccessTokenLifespan),
		token.WithIDTokenLifespan(cfg.IDTokenLifespan),
	}
	if cfg.ExpiryOverride != nil {
		issuerOpts = append(issuerOpts, token.WithExpiryOverride(cfg.ExpiryOverride))
	}
	if cfg.ClaimsCustomizer != nil {
		issuerOpts = append(issuerOpts, token.WithClaimsCustomizer(cfg.ClaimsCustomizer))
	}
	issuer := token.NewIssuer(cfg.Issuer, cfg.KeyProvider, issuerOpts...)

	var verifierOpts []token.HintVerifierOption
	if cfg.HintClockSkew > 0 {
		verifierOpts = append(verifierOpts, token.WithClockSkew(cfg.HintClockSkew))
	}
	verifier := token.NewHintVerifier(cfg.Issuer, cfg.KeyProvider, verifierOpts...)

	coordinator := endsession.NewCoordinator(
		store,
		verifier,
		registry,
		cfg.DefaultPostLogoutRedirectURI,
		logger.With("component", "endsession"),
	)

	h, err := handlers.New(handlers.Params{
		Issuer:               cfg.Issuer,
		Clients:              registry,
		Users:                users,
		Store:                store,
		Tokens:               issuer,
		Logout:               coordinator,
		Keys:                 cfg.KeyProvider,
		SessionLifespan:      cfg.SessionLifespan,
		AuthCodeLifespan:     cfg.AuthCodeLifespan,
		RefreshTokenLifespan: cfg.RefreshTokenLifespan,
		AccessTokenLifespan:  cfg.AccessTokenLifespan,
		SecureCookies:        cfg.SecureCookies,
		Logger:               logger.With("component", "handlers"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build handlers: %w", err)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	h.OAuthRoutes(router)
	h.WellKnownRoutes(router)

	logger.Info("authorization server configured",
		"issuer", cfg.Issuer,
		"clients", len(cfg.Clients),
		"users", len(cfg.Users),
	)

	return &Server{
		handler: router,
		store:   store,
		logger:  logger,
	}, nil
}

// Handler returns the http.Handler serving all endpoints.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Close releases resources held by the server.
func (s *Server) Close() error {
	return s.store.Close()
}

// shutdownTimeout bounds graceful drain on ListenAndServe shutdown.
const shutdownTimeout = 10 * time.Second

// ListenAndServe serves the handler on addr until ctx is canceled, then
// drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		s.logger.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(drainCtx)
	})
	return group.Wait()
}
