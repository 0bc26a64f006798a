package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qhse-systems/qhse-outbox/internal/auth"
)

func TestTokenIssuer_IssueAndVerify(t *testing.T) {
	issuer := auth.NewTokenIssuer("test-secret", "HS256", time.Hour)

	token, err := issuer.Issue("quality", "quality")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	subject, role, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "quality", subject)
	assert.Equal(t, "quality", role)
}

func TestTokenIssuer_Verify_WrongSecret(t *testing.T) {
	issuer := auth.NewTokenIssuer("secret-a", "HS256", time.Hour)
	token, err := issuer.Issue("quality", "quality")
	require.NoError(t, err)

	other := auth.NewTokenIssuer("secret-b", "HS256", time.Hour)
	_, _, err = other.Verify(token)
	require.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestTokenIssuer_Verify_Expired(t *testing.T) {
	issuer := auth.NewTokenIssuer("test-secret", "HS256", -time.Minute)
	token, err := issuer.Issue("quality", "quality")
	require.NoError(t, err)

	_, _, err = issuer.Verify(token)
	require.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestTokenIssuer_Verify_Garbage(t *testing.T) {
	issuer := auth.NewTokenIssuer("test-secret", "HS256", time.Hour)

	_, _, err := issuer.Verify("not-a-jwt")
	require.ErrorIs(t, err, auth.ErrInvalidToken)
}
