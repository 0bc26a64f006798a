package middleware

import (
	"net/http"
	"slices"
)

// RequireRole returns a middleware that only admits requests whose
// authenticated identity (set by Authenticate) holds one of the allowed
// roles. Must run after Authenticate in the chain; a missing identity is
// treated as unauthenticated rather than forbidden.
func RequireRole(allowed ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			correlationID := GetCorrelationID(r.Context())

			identity, ok := GetIdentity(r.Context())
			if !ok {
				writeUnauthorized(w, r, correlationID, "Authentication required")

				return
			}

			if !slices.Contains(allowed, identity.Role) {
				_ = writeRFC7807Error(w, r, http.StatusForbidden, "Forbidden",
					"The authenticated role is not permitted to perform this action", correlationID)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
