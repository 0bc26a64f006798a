// Package auth issues and verifies bearer tokens for the qhse-outbox API and
// holds the static role-based login table described by the service's
// operating model: a handful of named users (one per QHSE role), not a user
// management system.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a bearer token fails verification for any
// reason (bad signature, expired, wrong algorithm, malformed claims).
var ErrInvalidToken = errors.New("invalid or expired token")

// Claims are the JWT claims issued for an authenticated session: a subject
// (the static username) and the role that gates access to role-restricted
// endpoints.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer issues and verifies HS256 bearer tokens against a single shared
// secret, following the source system's flat {sub, role, exp} token shape.
type TokenIssuer struct {
	secret []byte
	method jwt.SigningMethod
	ttl    time.Duration
}

// NewTokenIssuer builds a TokenIssuer. alg is currently only ever "HS256";
// any other value falls back to HS256 so misconfiguration degrades safely
// instead of panicking at request time.
func NewTokenIssuer(secret, alg string, ttl time.Duration) *TokenIssuer {
	method := jwt.SigningMethodHS256
	if alg != "" && alg != "HS256" {
		method = jwt.SigningMethodHS256
	}

	return &TokenIssuer{
		secret: []byte(secret),
		method: method,
		ttl:    ttl,
	}
}

// Issue creates a signed token for subject with the given role.
func (i *TokenIssuer) Issue(subject, role string) (string, error) {
	now := time.Now()

	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	token := jwt.NewWithClaims(i.method, claims)

	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

// Verify parses and validates tokenString, returning the subject and role it
// carries. Any failure - bad signature, wrong signing method, expiry - is
// collapsed to ErrInvalidToken so callers never need to branch on the
// underlying JWT library's error taxonomy.
func (i *TokenIssuer) Verify(tokenString string) (subject, role string, err error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}

		return i.secret, nil
	})
	if err != nil || !token.Valid {
		return "", "", ErrInvalidToken
	}

	return claims.Subject, claims.Role, nil
}
