package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type contextKey string

const claimsKey contextKey = "claims"

// Middleware wraps handlers with bearer-token checks.
type Middleware struct {
	verifier *Verifier
}

// NewMiddleware creates auth middleware backed by the given verifier.
func NewMiddleware(verifier *Verifier) *Middleware {
	return &Middleware{verifier: verifier}
}

// RequireAuth rejects requests without a valid bearer token and stores
// the verified claims in the request context.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r)
		if err != nil {
			writeAuthError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
			return
		}

		claims, err := m.verifier.VerifyToken(token)
		if err != nil {
			writeAuthError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next(w, r.WithContext(ctx))
	}
}

// RequireScope rejects authenticated requests missing any of the
// required scopes. Must run after RequireAuth.
func (m *Middleware) RequireScope(requiredScopes ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				writeAuthError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
				return
			}
			for _, scope := range requiredScopes {
				if !claims.HasScope(scope) {
					writeAuthError(w, http.StatusForbidden, "FORBIDDEN", "Insufficient permissions")
					return
				}
			}
			next(w, r)
		}
	}
}

// ClaimsFromContext returns the verified claims, or nil when the
// request was not authenticated.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	if !ok {
		return nil
	}
	return claims
}

// SubjectFromContext returns the authenticated subject, or "unknown".
func SubjectFromContext(ctx context.Context) string {
	if claims := ClaimsFromContext(ctx); claims != nil {
		return claims.Subject
	}
	return "unknown"
}

// ContextWithClaims stores claims in a context. Used by tests and by
// internal callers acting on behalf of a user.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

func extractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("missing Authorization header")
	}
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return "", fmt.Errorf("invalid Authorization header format")
	}
	return header[len(prefix):], nil
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"result":        "error",
		"code":          code,
		"message":       message,
		"correlationId": fmt.Sprintf("%d", time.Now().UnixNano()),
	})
}
