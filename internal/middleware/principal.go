package middleware

import (
	"context"
	"net/http"

	"github.com/sage-secrets-broker/internal/validation"
)

type contextKey string

const principalContextKey contextKey = "principal"

// PrincipalHeader carries the caller identity asserted by the fronting
// gateway. The broker trusts the gateway to have authenticated it.
const PrincipalHeader = "X-Sage-Principal"

// GetPrincipal extracts the authenticated principal from the request context.
func GetPrincipal(ctx context.Context) string {
	principal, _ := ctx.Value(principalContextKey).(string)
	return principal
}

// PrincipalAuth returns middleware that requires a well-formed principal
// header on every request. Repeated failures from one client IP are blocked
// by the attempt limiter.
func PrincipalAuth(limiter *AuthAttemptLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attemptKey := clientIPKey(r, "principal")
			if limiter != nil && !limiter.allow(attemptKey) {
				respondError(w, http.StatusTooManyRequests, "rate_limited", "Too many authentication failures")
				return
			}

			principal := r.Header.Get(PrincipalHeader)
			if principal == "" {
				if limiter != nil {
					limiter.registerFailure(attemptKey)
				}
				respondError(w, http.StatusUnauthorized, "authentication_error", "Missing principal header")
				return
			}
			if err := validation.Principal(principal); err != nil {
				if limiter != nil {
					limiter.registerFailure(attemptKey)
				}
				respondError(w, http.StatusUnauthorized, "authentication_error", "Invalid principal header")
				return
			}

			if limiter != nil {
				limiter.registerSuccess(attemptKey)
			}
			ctx := context.WithValue(r.Context(), principalContextKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
