package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

type contextKey string

const callerTokenKey contextKey = "caller_token"

// TokenValidator is the pluggable bearer-token check SPEC_FULL.md leaves as
// a stub: end-user agent authentication beyond opaque bearer tokens is out
// of scope (spec.md Non-goals).
type TokenValidator func(token string) bool

// AllowAny is the default TokenValidator: any non-empty bearer token is
// accepted. Deployments needing real verification supply their own.
func AllowAny(token string) bool {
	return strings.TrimSpace(token) != ""
}

// requireAuth mirrors the teacher's bearer-token middleware shape, adapted
// to a pluggable validator and structured logging instead of log.Println.
func requireAuth(validate TokenValidator, log *logrus.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				log.WithField("event", "auth_missing_header").Warn("rejected request")
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			fields := strings.Fields(authHeader)
			if len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer") {
				log.WithField("event", "auth_malformed_header").Warn("rejected request")
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			token := strings.TrimSpace(fields[1])
			if !validate(token) {
				log.WithField("event", "auth_token_rejected").Warn("rejected request")
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			ctx := context.WithValue(r.Context(), callerTokenKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
