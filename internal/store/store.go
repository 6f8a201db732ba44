// Package store defines the persistence interface for user credentials
// and published verifying keys. All implementations satisfy the Store
// interface, so the server can swap backends without changing business
// logic.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrUsernameTaken is returned by CreateUser when the username already exists.
var ErrUsernameTaken = errors.New("store: username already taken")

// ErrNotFound is returned by updates that name a record that does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface for all platform data. Lookups
// return nil, nil when the record does not exist. Implementations must
// be safe for concurrent use.
type Store interface {
	// Users.
	CreateUser(ctx context.Context, user *UserRecord) error
	GetUser(ctx context.Context, id string) (*UserRecord, error)
	GetUserByUsername(ctx context.Context, username string) (*UserRecord, error)
	UpdatePasswordHash(ctx context.Context, id, passwordHash string) error
	UpdateLastLogin(ctx context.Context, id string, t time.Time) error
	ListUsers(ctx context.Context) ([]*UserRecord, error)
	DeleteUser(ctx context.Context, id string) error

	// Verifying keys.
	SaveVerifyingKey(ctx context.Context, key *VerifyingKey) error
	GetVerifyingKey(ctx context.Context, fingerprint string) (*VerifyingKey, error)
	ListVerifyingKeys(ctx context.Context) ([]*VerifyingKey, error)
	DeleteVerifyingKey(ctx context.Context, fingerprint string) error

	// Close releases database resources.
	Close() error
}

// UserProfile is the public description of a user.
type UserProfile struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

// UserRecord is the persistent record for a user. PasswordHash is a
// self-describing PHC string and is never serialised.
type UserRecord struct {
	UserProfile
	PasswordHash string     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

// VerifyingKey is a published Ed25519 public key that verifiers may
// use to check tokens.
type VerifyingKey struct {
	Fingerprint string    `json:"fingerprint"`
	PublicKey   string    `json:"public_key"` // hex, 32 bytes
	Label       string    `json:"label"`
	CreatedAt   time.Time `json:"created_at"`
}
