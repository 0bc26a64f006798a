package middleware

import (
	"net/http"
	"strings"
)

// TokenVerifier verifies a bearer token and returns the subject and role it
// carries. Satisfied by *internal/auth.TokenIssuer.
type TokenVerifier interface {
	Verify(tokenString string) (subject, role string, err error)
}

// Authenticate returns a middleware that requires a valid "Authorization:
// Bearer <token>" header, verifies it against verifier, and stores the
// resulting Identity in the request context for downstream handlers and
// RequireRole to consume. Requests without a well-formed, valid token are
// rejected with a 401 RFC 7807 response before reaching next.
func Authenticate(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			correlationID := GetCorrelationID(r.Context())

			token, ok := bearerToken(r)
			if !ok {
				writeUnauthorized(w, r, correlationID, "Missing or malformed Authorization header")

				return
			}

			subject, role, err := verifier.Verify(token)
			if err != nil {
				writeUnauthorized(w, r, correlationID, "Invalid or expired bearer token")

				return
			}

			ctx := WithIdentity(r.Context(), Identity{Subject: subject, Role: role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", false
	}

	return token, true
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, correlationID, detail string) {
	w.Header().Set("WWW-Authenticate", "Bearer")

	_ = writeRFC7807Error(w, r, http.StatusUnauthorized, "Unauthorized", detail, correlationID)
}
