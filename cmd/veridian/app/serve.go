// SPDX-FileCopyrightText: Copyright 2026 Veridian Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/veridianhq/veridian/pkg/authserver"
	"github.com/veridianhq/veridian/pkg/authserver/keys"
	"github.com/veridianhq/veridian/pkg/authserver/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the authorization server",
	Long: `Start the authorization server.

Clients and users are provisioned from the config file. OAuth state is
held in memory by default; pass --storage redis for shared state across
replicas.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("address", ":8443", "Address to listen on")
	serveCmd.Flags().String("issuer", "", "Issuer URL of this server (required)")
	serveCmd.Flags().String("config", "", "Path to the config file with clients and users")
	serveCmd.Flags().String("storage", "memory", "Storage backend: memory or redis")
	serveCmd.Flags().String("redis-url", "redis://localhost:6379", "Redis connection URL")
	serveCmd.Flags().String("signing-key", "", "Path to a PEM signing key (generated if empty)")
	serveCmd.Flags().Bool("secure-cookies", true, "Mark session cookies Secure")

	for _, flag := range []string{"address", "issuer", "config", "storage", "redis-url", "signing-key", "secure-cookies"} {
		if err := viper.BindPFlag(flag, serveCmd.Flags().Lookup(flag)); err != nil {
			panic(fmt.Sprintf("failed to bind %s flag: %v", flag, err))
		}
	}
	viper.SetEnvPrefix("VERIDIAN")
	viper.AutomaticEnv()
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	debug, _ := cmd.Flags().GetBool("debug")
	logger := newLogger(debug)

	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}

	store, err := newStore(ctx)
	if err != nil {
		return err
	}

	srv, err := authserver.New(ctx, cfg, store, logger)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer srv.Close()

	return srv.ListenAndServe(ctx, viper.GetString("address"))
}

// loadConfig assembles the server config from flags and the optional
// config file.
func loadConfig(logger *slog.Logger) (authserver.Config, error) {
	issuer := viper.GetString("issuer")
	if issuer == "" {
		return authserver.Config{}, fmt.Errorf("issuer flag is required")
	}

	provider, err := newKeyProvider(logger)
	if err != nil {
		return authserver.Config{}, err
	}

	cfg := authserver.Config{
		Issuer:        issuer,
		KeyProvider:   provider,
		SecureCookies: viper.GetBool("secure-cookies"),
	}

	if path := viper.GetString("config"); path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return authserver.Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := viper.UnmarshalKey("clients", &cfg.Clients); err != nil {
			return authserver.Config{}, fmt.Errorf("failed to parse clients: %w", err)
		}
		if err := viper.UnmarshalKey("users", &cfg.Users); err != nil {
			return authserver.Config{}, fmt.Errorf("failed to parse users: %w", err)
		}
		cfg.SessionLifespan = viper.GetDuration("session_lifespan")
		cfg.AccessTokenLifespan = viper.GetDuration("access_token_lifespan")
		cfg.RefreshTokenLifespan = viper.GetDuration("refresh_token_lifespan")
		cfg.AuthCodeLifespan = viper.GetDuration("auth_code_lifespan")
		cfg.DefaultPostLogoutRedirectURI = viper.GetString("default_post_logout_redirect_uri")
	}

	return cfg, nil
}

// newKeyProvider loads the signing key from disk, or generates an
// ephemeral one when no path is given.
func newKeyProvider(logger *slog.Logger) (keys.Provider, error) {
	if path := viper.GetString("signing-key"); path != "" {
		provider, err := keys.NewFileProvider(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load signing key: %w", err)
		}
		return provider, nil
	}

	logger.Warn("no signing key configured, generating an ephemeral key; issued tokens will not survive restarts")
	provider, err := keys.NewGeneratedProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return provider, nil
}

// newStore builds the configured storage backend.
func newStore(ctx context.Context) (storage.Store, error) {
	switch backend := viper.GetString("storage"); backend {
	case "memory":
		return storage.NewMemoryStore(), nil
	case "redis":
		opts, err := redis.ParseURL(viper.GetString("redis-url"))
		if err != nil {
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		client := redis.NewClient(opts)
		store := storage.NewRedisStore(client)
		if err := store.Health(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("redis is not reachable: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q, use memory or redis", backend)
	}
}
