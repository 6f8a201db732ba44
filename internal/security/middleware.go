package security

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

type claimsKey struct{}

// BearerAuth validates v4.public bearer tokens on HTTP requests and
// decodes their claims into a C.
type BearerAuth[C any] struct {
	verifier *Verifier
	check    func(C) error
	logger   *slog.Logger
}

// NewBearerAuth creates bearer-token middleware. check runs only after
// the signature has verified; use it for expiry, issuer and any other
// claim-level policy. A nil logger discards output.
func NewBearerAuth[C any](v *Verifier, check func(C) error, logger *slog.Logger) *BearerAuth[C] {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &BearerAuth[C]{verifier: v, check: check, logger: logger}
}

// Wrap returns an http.HandlerFunc that requires a valid bearer token.
// The decoded claims are available to next via ClaimsFromContext.
func (a *BearerAuth[C]) Wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := extractBearer(r)
		if token == "" {
			http.Error(w, `{"error":"authentication required"}`, http.StatusUnauthorized)
			return
		}

		var claims C
		if err := a.verifier.Verify(token, &claims); err != nil {
			// The kind separates malformed requests from forgery
			// attempts from clients on an old claims schema.
			a.logger.Warn("bearer token rejected",
				"kind", KindOf(err).String(),
				"error", err,
				"remote", r.RemoteAddr,
			)
			http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
			return
		}

		if a.check != nil {
			if err := a.check(claims); err != nil {
				a.logger.Info("bearer token refused", "reason", err, "remote", r.RemoteAddr)
				http.Error(w, `{"error":"token not accepted"}`, http.StatusUnauthorized)
				return
			}
		}

		next(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	}
}

// ClaimsFromContext returns the claims stored by BearerAuth.Wrap.
func ClaimsFromContext[C any](ctx context.Context) (C, bool) {
	claims, ok := ctx.Value(claimsKey{}).(C)
	return claims, ok
}

// extractBearer gets the token from an "Authorization: Bearer <token>"
// header. Tokens in query strings end up in access logs, so they are
// not accepted.
func extractBearer(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
