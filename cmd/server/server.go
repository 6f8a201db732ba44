package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/avaropoint/authcore/internal/protocol"
	"github.com/avaropoint/authcore/internal/security"
	"github.com/avaropoint/authcore/internal/store"
)

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 64 << 10

// Options configures a Server.
type Options struct {
	Store             store.Store
	Identity          *security.Identity
	Hasher            *security.PasswordHasher
	Issuer            string
	TokenLifetime     time.Duration
	Leeway            time.Duration
	MinPasswordLength int
	MaxConcurrent     int // concurrent password hashes
	Logger            *slog.Logger
	TLSPaths          *security.TLSPaths // self-signed mode only

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Server issues and checks session tokens and manages user credentials.
type Server struct {
	store     store.Store
	identity  *security.Identity
	hasher    *security.PasswordHasher
	auth      *security.BearerAuth[SessionClaims]
	issuer    string
	lifetime  time.Duration
	leeway    time.Duration
	minLength int
	hashSlots chan struct{}
	logger    *slog.Logger
	tlsPaths  *security.TLSPaths
	now       func() time.Time

	// dummyHash is verified against when a login names an unknown user,
	// so that response time does not reveal which usernames exist.
	dummyHash string
}

// NewServer creates a Server from opts.
func NewServer(opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	slots := opts.MaxConcurrent
	if slots < 1 {
		slots = 1
	}

	dummy, err := opts.Hasher.Hash("authcore-unknown-user")
	if err != nil {
		return nil, fmt.Errorf("preparing dummy hash: %w", err)
	}

	s := &Server{
		store:     opts.Store,
		identity:  opts.Identity,
		hasher:    opts.Hasher,
		issuer:    opts.Issuer,
		lifetime:  opts.TokenLifetime,
		leeway:    opts.Leeway,
		minLength: opts.MinPasswordLength,
		hashSlots: make(chan struct{}, slots),
		logger:    logger,
		tlsPaths:  opts.TLSPaths,
		now:       now,
		dummyHash: dummy,
	}
	s.auth = security.NewBearerAuth(opts.Identity.Verifier(), func(c SessionClaims) error {
		return c.Validate(s.now(), s.issuer, s.leeway)
	}, logger)
	return s, nil
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+protocol.PathSignup, s.handleSignup)
	mux.HandleFunc("POST "+protocol.PathLogin, s.handleLogin)
	mux.HandleFunc("POST "+protocol.PathPassword, s.auth.Wrap(s.handlePasswordChange))
	mux.HandleFunc("GET "+protocol.PathMe, s.auth.Wrap(s.handleMe))
	mux.HandleFunc("GET "+protocol.PathKeys, s.handleListKeys)
	mux.HandleFunc("GET "+protocol.PathHealth, s.handleHealth)
	mux.HandleFunc("GET "+protocol.PathVersion, s.handleVersion)
	mux.HandleFunc("GET "+protocol.PathCACert, s.handleCACert)
	return mux
}

// PublishIdentity records the server's verifying key in the store so
// that it is listed by /api/keys.
func (s *Server) PublishIdentity(ctx context.Context) error {
	return s.store.SaveVerifyingKey(ctx, &store.VerifyingKey{
		Fingerprint: s.identity.Fingerprint(),
		PublicKey:   s.identity.PublicKeyHex(),
		Label:       s.issuer,
		CreatedAt:   s.now(),
	})
}

// withHashSlot runs fn once a hashing slot is free. Argon2 holds its
// full memory cost for the whole call, so unbounded concurrency could
// exhaust the host. Waiting honours ctx; fn itself cannot be cancelled.
func (s *Server) withHashSlot(ctx context.Context, fn func() error) error {
	select {
	case s.hashSlots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.hashSlots }()
	return fn()
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, protocol.ErrorResponse{Error: msg})
}
