// SPDX-FileCopyrightText: Copyright 2026 Veridian Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned when a username/password pair does
// not match a registered user. Unknown user and wrong password are
// deliberately indistinguishable.
var ErrInvalidCredentials = errors.New("invalid username or password")

// User is a registered end user account. Users are config-provided and
// persistent; they are not subject to TTL eviction.
type User struct {
	// Subject is the stable principal identifier ("sub" claim).
	Subject string

	// Username is the login name.
	Username string

	// PasswordHash is the bcrypt hash of the user's password.
	PasswordHash []byte
}

// NewUser creates a user with a generated subject and a bcrypt-hashed
// password.
func NewUser(username, password string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &User{
		Subject:      uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
	}, nil
}

// UserDirectory is an in-memory user account directory keyed by username.
// It backs the login endpoint; client records live in the client registry.
type UserDirectory struct {
	mu    sync.RWMutex
	users map[string]*User
}

// NewUserDirectory creates an empty directory.
func NewUserDirectory() *UserDirectory {
	return &UserDirectory{
		users: make(map[string]*User),
	}
}

// AddUser registers a user, replacing any user with the same username.
func (d *UserDirectory) AddUser(user *User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[user.Username] = user
}

// Authenticate verifies a username/password pair and returns the matching
// user. A dummy bcrypt comparison runs for unknown usernames so response
// timing does not reveal which usernames exist.
func (d *UserDirectory) Authenticate(username, password string) (*User, error) {
	d.mu.RLock()
	user, ok := d.users[username]
	d.mu.RUnlock()

	if !ok {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

// dummyHash is a valid bcrypt hash of an unguessable value, used to keep
// the unknown-username path as slow as the wrong-password path.
var dummyHash = func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return h
}()
