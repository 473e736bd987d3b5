package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/boardflow/boardflow-backend/internal/core/domain"
	"github.com/boardflow/boardflow-backend/internal/core/ports"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// IdentityKey is the key used to store the verified identity in the request context.
const IdentityKey contextKey = "identity"

// Authenticate validates the bearer token from the Authorization header via
// the auth collaborator and stores the verified identity in the context.
func Authenticate(verifier ports.TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header is required", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "Authorization header format must be Bearer {token}", http.StatusUnauthorized)
				return
			}

			identity, err := verifier.Verify(parts[1])
			if err != nil {
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			// Report the identity back to the request logger.
			if holder, ok := r.Context().Value(identityHolderKey).(*identityHolder); ok {
				holder.identity = identity
			}

			ctx := context.WithValue(r.Context(), IdentityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext retrieves the verified identity set by Authenticate.
func IdentityFromContext(ctx context.Context) (*domain.Identity, bool) {
	identity, ok := ctx.Value(IdentityKey).(*domain.Identity)
	return identity, ok
}
