package middleware

import (
	"context"
	"net/http"

	"github.com/api-sage/credit-loan-processor/src/internal/config"
	"github.com/api-sage/credit-loan-processor/src/internal/domain"
	"github.com/api-sage/credit-loan-processor/src/internal/logger"
	"golang.org/x/crypto/bcrypt"
)

type principalKey struct{}

// Compared against when the user id is unknown so both paths pay for a bcrypt check.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("credit-loan-processor"), bcrypt.MinCost)

// BasicAuth resolves HTTP basic credentials against bcrypt hashed principals and puts
// the caller's identity and roles in the request context.
func BasicAuth(principals []config.Principal) func(http.Handler) http.Handler {
	byID := make(map[string]config.Principal, len(principals))
	for _, p := range principals {
		byID[p.UserID] = p
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(byID) == 0 {
				logger.Error("basic auth middleware missing server configuration", nil, logger.Fields{
					"method": r.Method,
					"path":   r.URL.Path,
				})
				http.Error(w, "server auth configuration is missing", http.StatusInternalServerError)
				return
			}

			id, secret, ok := r.BasicAuth()
			principal, known := byID[id]
			hash := dummyHash
			if known {
				hash = []byte(principal.PasswordHash)
			}
			matched := bcrypt.CompareHashAndPassword(hash, []byte(secret)) == nil

			if !ok || !known || !matched {
				logger.Info("basic auth middleware unauthorized request", logger.Fields{
					"method":      r.Method,
					"path":        r.URL.Path,
					"credentials": "invalid_or_missing",
				})
				w.Header().Set("WWW-Authenticate", `Basic realm="credit-loan-processor"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			logger.Info("basic auth middleware authorized request", logger.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
				"userId": principal.UserID,
			})
			ctx := WithPrincipal(r.Context(), domain.Principal{UserID: principal.UserID, Roles: principal.Roles})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects callers whose resolved principal lacks role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !principal.HasRole(role) {
				logger.Info("role check rejected request", logger.Fields{
					"method": r.Method,
					"path":   r.URL.Path,
					"userId": principal.UserID,
					"role":   role,
				})
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func WithPrincipal(ctx context.Context, principal domain.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

func PrincipalFromContext(ctx context.Context) (domain.Principal, bool) {
	principal, ok := ctx.Value(principalKey{}).(domain.Principal)
	return principal, ok
}
