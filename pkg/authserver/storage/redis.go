// SPDX-FileCopyrightText: Copyright 2026 Veridian Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces all authorization server keys in Redis.
const DefaultKeyPrefix = "veridian:auth:"

// RedisStore implements Store on a Redis backend, enabling horizontal
// scaling across server replicas. Records are stored as JSON values whose
// Redis TTL matches the record expiry, so expired records vanish without a
// sweeper. Authorization code consumption uses GETDEL, which is atomic on
// the Redis side: exactly one exchange attempt can obtain the code.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// RedisStoreOption configures a RedisStore instance.
type RedisStoreOption func(*RedisStore)

// WithKeyPrefix overrides the key prefix, e.g. for multi-tenant setups.
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		s.keyPrefix = prefix
	}
}

// NewRedisStore creates a RedisStore on an existing client. The caller
// may pass any UniversalClient (single node, sentinel, cluster); tests
// use a client pointed at miniredis.
func NewRedisStore(client redis.UniversalClient, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		keyPrefix: DefaultKeyPrefix,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Health pings the Redis backend.
func (s *RedisStore) Health(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) sessionKey(id string) string {
	return s.keyPrefix + "session:" + id
}

func (s *RedisStore) codeKey(code string) string {
	return s.keyPrefix + "code:" + code
}

func (s *RedisStore) consumedCodeKey(code string) string {
	return s.keyPrefix + "code-consumed:" + code
}

func (s *RedisStore) refreshKey(token string) string {
	return s.keyPrefix + "refresh:" + token
}

// setJSON stores a JSON-encoded record whose Redis TTL matches expiresAt.
// Records that are already expired are not stored at all.
func (s *RedisStore) setJSON(ctx context.Context, key string, value any, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store record: %w", err)
	}
	return nil
}

func (s *RedisStore) getJSON(ctx context.Context, key string, dest any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load record: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return nil
}

// CreateSession stores a new session record.
func (s *RedisStore) CreateSession(ctx context.Context, session *Session) error {
	return s.setJSON(ctx, s.sessionKey(session.ID), session, session.ExpiresAt)
}

// GetSession returns the live session with the given ID. The Redis TTL
// already evicts expired records; the expiry is re-checked anyway to
// guard against clock drift between replicas.
func (s *RedisStore) GetSession(ctx context.Context, id string) (*Session, error) {
	var session Session
	if err := s.getJSON(ctx, s.sessionKey(id), &session); err != nil {
		return nil, err
	}
	if session.IsExpired(time.Now()) {
		_ = s.client.Del(ctx, s.sessionKey(id)).Err()
		return nil, ErrNotFound
	}
	return &session, nil
}

// DeleteSession removes a session. Idempotent.
func (s *RedisStore) DeleteSession(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// CreateAuthorizationCode stores a new authorization code.
func (s *RedisStore) CreateAuthorizationCode(ctx context.Context, code *AuthorizationCode) error {
	return s.setJSON(ctx, s.codeKey(code.Code), code, code.ExpiresAt)
}

// ConsumeAuthorizationCode atomically redeems a code via GETDEL. A
// consumed marker with the code's remaining TTL distinguishes a replayed
// code from an unknown one. In the narrow window between GETDEL and the
// marker write a concurrent replay reports ErrNotFound rather than
// ErrCodeAlreadyConsumed; both map to the same invalid_grant response and
// single redemption is still guaranteed by GETDEL itself.
func (s *RedisStore) ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error) {
	data, err := s.client.GetDel(ctx, s.codeKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		consumed, cerr := s.client.Exists(ctx, s.consumedCodeKey(code)).Result()
		if cerr == nil && consumed > 0 {
			return nil, ErrCodeAlreadyConsumed
		}
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}

	var record AuthorizationCode
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}
	if record.IsExpired(time.Now()) {
		return nil, ErrNotFound
	}

	if ttl := time.Until(record.ExpiresAt); ttl > 0 {
		_ = s.client.Set(ctx, s.consumedCodeKey(code), "1", ttl).Err()
	}

	return &record, nil
}

// CreateRefreshToken stores a new refresh token.
func (s *RedisStore) CreateRefreshToken(ctx context.Context, token *RefreshToken) error {
	return s.setJSON(ctx, s.refreshKey(token.Token), token, token.ExpiresAt)
}

// GetRefreshToken returns the refresh token record, treating expired
// tokens as absent.
func (s *RedisStore) GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error) {
	var record RefreshToken
	if err := s.getJSON(ctx, s.refreshKey(token), &record); err != nil {
		return nil, err
	}
	if record.IsExpired(time.Now()) {
		_ = s.client.Del(ctx, s.refreshKey(token)).Err()
		return nil, ErrNotFound
	}
	return &record, nil
}

// DeleteRefreshToken removes a refresh token. Idempotent.
func (s *RedisStore) DeleteRefreshToken(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.refreshKey(token)).Err(); err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return nil
}
