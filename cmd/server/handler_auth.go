package main

import (
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/avaropoint/authcore/internal/protocol"
	"github.com/avaropoint/authcore/internal/security"
	"github.com/avaropoint/authcore/internal/store"
)

const maxUsernameLength = 64

// handleSignup creates a user with a freshly hashed password.
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req protocol.SignupRequest
	if !decodeBody(w, r, &req) {
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if msg := validateUsername(req.Username); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if utf8.RuneCountInString(req.Password) < s.minLength {
		writeError(w, http.StatusBadRequest, "password too short")
		return
	}

	var hash string
	err := s.withHashSlot(r.Context(), func() (err error) {
		hash, err = s.hasher.Hash(req.Password)
		return err
	})
	if err != nil {
		s.logger.Error("hashing password failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "signup failed")
		return
	}

	now := s.now()
	user := &store.UserRecord{
		UserProfile: store.UserProfile{
			ID:          uuid.NewString(),
			Username:    req.Username,
			DisplayName: strings.TrimSpace(req.DisplayName),
		},
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrUsernameTaken) {
			writeError(w, http.StatusConflict, "username already taken")
			return
		}
		s.logger.Error("storing user failed", "error", err)
		writeError(w, http.StatusInternalServerError, "signup failed")
		return
	}

	s.logger.Info("user created", "user_id", user.ID, "username", user.Username)
	writeJSON(w, http.StatusCreated, user.UserProfile)
}

// handleLogin verifies a password and issues a session token. A stored
// hash made under older parameters is replaced after a successful login.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req protocol.LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	user, err := s.store.GetUserByUsername(r.Context(), strings.TrimSpace(req.Username))
	if err != nil {
		s.logger.Error("looking up user failed", "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	stored := s.dummyHash
	if user != nil {
		stored = user.PasswordHash
	}

	var ok bool
	err = s.withHashSlot(r.Context(), func() (err error) {
		ok, err = s.hasher.Verify(stored, req.Password)
		return err
	})
	if err != nil {
		// A malformed stored hash is a corrupt record, not a wrong password.
		s.logger.Error("verifying password failed",
			"kind", security.KindOf(err).String(), "error", err, "username", req.Username)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	if !ok || user == nil {
		s.logger.Info("login rejected", "username", req.Username, "remote", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	s.rehashIfNeeded(r, user, req.Password)

	now := s.now()
	claims := SessionClaims{
		Subject:   user.ID,
		Username:  user.Username,
		Issuer:    s.issuer,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(s.lifetime).Unix(),
		TokenID:   uuid.NewString(),
	}
	token, err := s.identity.Sign(claims)
	if err != nil {
		s.logger.Error("signing token failed", "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	if err := s.store.UpdateLastLogin(r.Context(), user.ID, now); err != nil {
		s.logger.Warn("recording last login failed", "user_id", user.ID, "error", err)
	}

	s.logger.Info("login succeeded", "user_id", user.ID, "token_id", claims.TokenID)
	writeJSON(w, http.StatusOK, protocol.LoginResponse{
		Token:     token,
		TokenType: protocol.TokenTypeBearer,
		ExpiresAt: now.Add(s.lifetime).UTC(),
	})
}

// rehashIfNeeded replaces user's hash when it was made with parameters
// other than the configured ones. Failures are logged; login proceeds.
func (s *Server) rehashIfNeeded(r *http.Request, user *store.UserRecord, password string) {
	stale, err := s.hasher.NeedsRehash(user.PasswordHash)
	if err != nil || !stale {
		return
	}

	var hash string
	err = s.withHashSlot(r.Context(), func() (err error) {
		hash, err = s.hasher.Hash(password)
		return err
	})
	if err == nil {
		err = s.store.UpdatePasswordHash(r.Context(), user.ID, hash)
	}
	if err != nil {
		s.logger.Warn("rehash failed", "user_id", user.ID, "error", err)
		return
	}
	s.logger.Info("password rehashed with current parameters", "user_id", user.ID)
}

// handlePasswordChange replaces the authenticated user's password after
// re-checking the current one.
func (s *Server) handlePasswordChange(w http.ResponseWriter, r *http.Request) {
	claims, _ := security.ClaimsFromContext[SessionClaims](r.Context())

	var req protocol.PasswordChangeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if utf8.RuneCountInString(req.NewPassword) < s.minLength {
		writeError(w, http.StatusBadRequest, "password too short")
		return
	}

	user, err := s.store.GetUser(r.Context(), claims.Subject)
	if err != nil {
		s.logger.Error("looking up user failed", "error", err)
		writeError(w, http.StatusInternalServerError, "password change failed")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	var ok bool
	var hash string
	err = s.withHashSlot(r.Context(), func() (err error) {
		if ok, err = s.hasher.Verify(user.PasswordHash, req.CurrentPassword); err != nil || !ok {
			return err
		}
		hash, err = s.hasher.Hash(req.NewPassword)
		return err
	})
	if err != nil {
		s.logger.Error("password change failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "password change failed")
		return
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if err := s.store.UpdatePasswordHash(r.Context(), user.ID, hash); err != nil {
		s.logger.Error("storing password failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "password change failed")
		return
	}

	s.logger.Info("password changed", "user_id", user.ID)
	w.WriteHeader(http.StatusNoContent)
}

// handleMe returns the authenticated user's profile.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, _ := security.ClaimsFromContext[SessionClaims](r.Context())

	user, err := s.store.GetUser(r.Context(), claims.Subject)
	if err != nil {
		s.logger.Error("looking up user failed", "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, user.UserProfile)
}

func validateUsername(name string) string {
	switch {
	case name == "":
		return "username required"
	case len(name) > maxUsernameLength:
		return "username too long"
	case strings.ContainsFunc(name, func(r rune) bool { return r < 0x20 || r == 0x7f }):
		return "username contains control characters"
	}
	return ""
}
