// Package protocol defines the JSON request and response bodies
// exchanged between the server and its clients. Shared by the server
// (deserialisation) and authctl (serialisation) to keep both sides in sync.
package protocol

import (
	"time"

	"github.com/avaropoint/authcore/internal/store"
)

// API paths.
const (
	PathSignup   = "/api/signup"
	PathLogin    = "/api/login"
	PathPassword = "/api/password"
	PathMe       = "/api/me"
	PathKeys     = "/api/keys"
	PathHealth   = "/api/health"
	PathVersion  = "/api/version"
	PathCACert   = "/api/ca.crt"
)

// TokenTypeBearer is the only token type the server issues.
const TokenTypeBearer = "Bearer"

// SignupRequest creates a user.
type SignupRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

// LoginRequest exchanges a username and password for a token.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries a freshly issued token.
type LoginResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PasswordChangeRequest replaces the caller's password.
type PasswordChangeRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ProfileResponse describes the authenticated user.
type ProfileResponse = store.UserProfile

// KeysResponse lists the verifying keys tokens may be checked against.
// Active is the fingerprint of the key currently issuing tokens.
type KeysResponse struct {
	Active string                `json:"active"`
	Keys   []*store.VerifyingKey `json:"keys"`
}

// VersionResponse reports the server build.
type VersionResponse struct {
	Version string `json:"version"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
