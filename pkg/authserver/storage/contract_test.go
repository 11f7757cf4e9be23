// SPDX-FileCopyrightText: Copyright 2026 Veridian Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises the behavior every Store backend must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()

	t.Run("session round trip", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		session := &Session{
			ID:        "sess-1",
			Subject:   "user-1",
			Username:  "alice",
			CreatedAt: time.Now(),
			ExpiresAt: time.Now().Add(time.Hour),
		}
		require.NoError(t, store.CreateSession(ctx, session))

		got, err := store.GetSession(ctx, "sess-1")
		require.NoError(t, err)
		assert.Equal(t, "user-1", got.Subject)
		assert.Equal(t, "alice", got.Username)
	})

	t.Run("unknown session is not found", func(t *testing.T) {
		store := newStore(t)

		_, err := store.GetSession(context.Background(), "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("expired session is treated as absent", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		session := &Session{
			ID:        "sess-expired",
			Subject:   "user-1",
			CreatedAt: time.Now().Add(-2 * time.Hour),
			ExpiresAt: time.Now().Add(-time.Hour),
		}
		require.NoError(t, store.CreateSession(ctx, session))

		_, err := store.GetSession(ctx, "sess-expired")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("session deletion is idempotent", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		session := &Session{
			ID:        "sess-del",
			Subject:   "user-1",
			ExpiresAt: time.Now().Add(time.Hour),
		}
		require.NoError(t, store.CreateSession(ctx, session))

		require.NoError(t, store.DeleteSession(ctx, "sess-del"))
		_, err := store.GetSession(ctx, "sess-del")
		assert.ErrorIs(t, err, ErrNotFound)

		// Deleting again, and deleting something that never existed, are no-ops.
		require.NoError(t, store.DeleteSession(ctx, "sess-del"))
		require.NoError(t, store.DeleteSession(ctx, "never-existed"))
	})

	t.Run("code consumed exactly once", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		code := &AuthorizationCode{
			Code:        "code-1",
			ClientID:    "client-1",
			Subject:     "user-1",
			SessionID:   "sess-1",
			RedirectURI: "https://rp.example.com/callback",
			Scopes:      []string{"openid", "profile"},
			CreatedAt:   time.Now(),
			ExpiresAt:   time.Now().Add(10 * time.Minute),
		}
		require.NoError(t, store.CreateAuthorizationCode(ctx, code))

		got, err := store.ConsumeAuthorizationCode(ctx, "code-1")
		require.NoError(t, err)
		assert.Equal(t, "client-1", got.ClientID)
		assert.Equal(t, "sess-1", got.SessionID)
		assert.Equal(t, []string{"openid", "profile"}, got.Scopes)

		_, err = store.ConsumeAuthorizationCode(ctx, "code-1")
		assert.Error(t, err, "second redemption must fail")
	})

	t.Run("unknown code is not found", func(t *testing.T) {
		store := newStore(t)

		_, err := store.ConsumeAuthorizationCode(context.Background(), "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("expired code cannot be redeemed", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		code := &AuthorizationCode{
			Code:      "code-expired",
			ClientID:  "client-1",
			CreatedAt: time.Now().Add(-time.Hour),
			ExpiresAt: time.Now().Add(-time.Minute),
		}
		require.NoError(t, store.CreateAuthorizationCode(ctx, code))

		_, err := store.ConsumeAuthorizationCode(ctx, "code-expired")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("refresh token round trip", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		token := &RefreshToken{
			Token:     "refresh-1",
			ClientID:  "client-1",
			Subject:   "user-1",
			SessionID: "sess-1",
			Scopes:    []string{"openid"},
			CreatedAt: time.Now(),
			ExpiresAt: time.Now().Add(24 * time.Hour),
		}
		require.NoError(t, store.CreateRefreshToken(ctx, token))

		got, err := store.GetRefreshToken(ctx, "refresh-1")
		require.NoError(t, err)
		assert.Equal(t, "user-1", got.Subject)

		require.NoError(t, store.DeleteRefreshToken(ctx, "refresh-1"))
		_, err = store.GetRefreshToken(ctx, "refresh-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("health", func(t *testing.T) {
		store := newStore(t)
		assert.NoError(t, store.Health(context.Background()))
	})
}
