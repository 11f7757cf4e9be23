// SPDX-FileCopyrightText: Copyright 2026 Veridian Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"sync"
	"time"
)

// DefaultCleanupInterval is how often the background sweeper evicts
// expired records. The sweeper is an optimization only: reads already
// treat expired records as absent and evict them on access.
const DefaultCleanupInterval = 5 * time.Minute

// timedEntry wraps a value with its expiry time for TTL tracking.
type timedEntry[T any] struct {
	value     T
	expiresAt time.Time
}

func (e *timedEntry[T]) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// MemoryStore implements Store with in-memory maps. It is safe for
// concurrent use and suitable for single-instance deployments and tests.
//
// Mutation of a single record is atomic under the store mutex; in
// particular code consumption is a check-and-set that cannot admit two
// winners. Expiry is lazy: a read of an expired record returns ErrNotFound
// and deletes it. A background sweeper additionally evicts expired entries
// so abandoned records do not accumulate.
type MemoryStore struct {
	mu sync.Mutex

	// sessions maps session ID -> session entry.
	sessions map[string]*timedEntry[*Session]

	// codes maps code value -> code entry. Consumed codes are tracked in
	// consumedCodes until expiry so replays can be told apart from
	// unknown codes.
	codes         map[string]*timedEntry[*AuthorizationCode]
	consumedCodes map[string]*timedEntry[bool]

	// refreshTokens maps token value -> refresh token entry.
	refreshTokens map[string]*timedEntry[*RefreshToken]

	now func() time.Time

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	cleanupDone     chan struct{}
}

// MemoryStoreOption configures a MemoryStore instance.
type MemoryStoreOption func(*MemoryStore)

// WithCleanupInterval sets a custom sweeper interval.
func WithCleanupInterval(interval time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.cleanupInterval = interval
	}
}

// WithClock overrides the store's time source. Intended for tests.
func WithClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates a MemoryStore and starts its background sweeper.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		sessions:        make(map[string]*timedEntry[*Session]),
		codes:           make(map[string]*timedEntry[*AuthorizationCode]),
		consumedCodes:   make(map[string]*timedEntry[bool]),
		refreshTokens:   make(map[string]*timedEntry[*RefreshToken]),
		now:             time.Now,
		cleanupInterval: DefaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupLoop()

	return s
}

// Health is a no-op for in-memory storage since it is always available.
func (*MemoryStore) Health(_ context.Context) error {
	return nil
}

// Close stops the background sweeper and waits for it to finish.
func (s *MemoryStore) Close() error {
	close(s.stopCleanup)
	<-s.cleanupDone
	return nil
}

func (s *MemoryStore) cleanupLoop() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanupExpired()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *MemoryStore) cleanupExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, entry := range s.sessions {
		if entry.expired(now) {
			delete(s.sessions, id)
		}
	}
	for code, entry := range s.codes {
		if entry.expired(now) {
			delete(s.codes, code)
		}
	}
	for code, entry := range s.consumedCodes {
		if entry.expired(now) {
			delete(s.consumedCodes, code)
		}
	}
	for token, entry := range s.refreshTokens {
		if entry.expired(now) {
			delete(s.refreshTokens, token)
		}
	}
}

// CreateSession stores a new session record.
func (s *MemoryStore) CreateSession(_ context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *session
	s.sessions[session.ID] = &timedEntry[*Session]{
		value:     &cp,
		expiresAt: session.ExpiresAt,
	}
	return nil
}

// GetSession returns the live session with the given ID. Expired sessions
// are evicted and reported as absent.
func (s *MemoryStore) GetSession(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if entry.expired(s.now()) {
		delete(s.sessions, id)
		return nil, ErrNotFound
	}

	cp := *entry.value
	return &cp, nil
}

// DeleteSession removes a session. Idempotent.
func (s *MemoryStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

// CreateAuthorizationCode stores a new authorization code.
func (s *MemoryStore) CreateAuthorizationCode(_ context.Context, code *AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *code
	s.codes[code.Code] = &timedEntry[*AuthorizationCode]{
		value:     &cp,
		expiresAt: code.ExpiresAt,
	}
	return nil
}

// ConsumeAuthorizationCode atomically redeems a code. The check-and-set
// happens under the store mutex, so concurrent redemption attempts see
// exactly one winner; the rest get ErrCodeAlreadyConsumed.
func (s *MemoryStore) ConsumeAuthorizationCode(_ context.Context, code string) (*AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	if entry, ok := s.consumedCodes[code]; ok {
		if entry.expired(now) {
			delete(s.consumedCodes, code)
			return nil, ErrNotFound
		}
		return nil, ErrCodeAlreadyConsumed
	}

	entry, ok := s.codes[code]
	if !ok {
		return nil, ErrNotFound
	}
	if entry.expired(now) {
		delete(s.codes, code)
		return nil, ErrNotFound
	}

	delete(s.codes, code)
	s.consumedCodes[code] = &timedEntry[bool]{
		value:     true,
		expiresAt: entry.expiresAt,
	}

	cp := *entry.value
	return &cp, nil
}

// CreateRefreshToken stores a new refresh token.
func (s *MemoryStore) CreateRefreshToken(_ context.Context, token *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *token
	s.refreshTokens[token.Token] = &timedEntry[*RefreshToken]{
		value:     &cp,
		expiresAt: token.ExpiresAt,
	}
	return nil
}

// GetRefreshToken returns the refresh token record, treating expired
// tokens as absent.
func (s *MemoryStore) GetRefreshToken(_ context.Context, token string) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.refreshTokens[token]
	if !ok {
		return nil, ErrNotFound
	}
	if entry.expired(s.now()) {
		delete(s.refreshTokens, token)
		return nil, ErrNotFound
	}

	cp := *entry.value
	return &cp, nil
}

// DeleteRefreshToken removes a refresh token. Idempotent.
func (s *MemoryStore) DeleteRefreshToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.refreshTokens, token)
	return nil
}
