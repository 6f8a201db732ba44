package main

import (
	"errors"
	"fmt"
	"time"
)

// SessionClaims is the payload of every token the server issues.
// Expiry lives here rather than in the signature check: the token
// primitives only prove who issued the claims, and BearerAuth calls
// Validate once the signature is known to be good.
type SessionClaims struct {
	Subject   string `json:"sub"` // user ID
	Username  string `json:"usr"`
	Issuer    string `json:"iss"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
	TokenID   string `json:"jti"`
}

var (
	errTokenExpired     = errors.New("session: token expired")
	errTokenNotYetValid = errors.New("session: token issued in the future")
	errTokenIssuer      = errors.New("session: issuer mismatch")
	errTokenSubject     = errors.New("session: missing subject")
)

// Validate checks the time window and issuer at now, allowing leeway
// for clock skew in both directions.
func (c SessionClaims) Validate(now time.Time, issuer string, leeway time.Duration) error {
	if c.Subject == "" {
		return errTokenSubject
	}
	if c.Issuer != issuer {
		return fmt.Errorf("%w: got %q, want %q", errTokenIssuer, c.Issuer, issuer)
	}
	if now.Add(leeway).Unix() < c.IssuedAt {
		return errTokenNotYetValid
	}
	if now.Add(-leeway).Unix() >= c.ExpiresAt {
		return errTokenExpired
	}
	return nil
}
