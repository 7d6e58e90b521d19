package auth

import (
	"testing"
	"time"

	"github.com/goevery/broker/internal/identity"
	"github.com/goevery/broker/internal/ierr"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(secret))
	assert.NoError(t, err)

	return tokenString
}

func TestAuthenticator_AuthenticateJWT(t *testing.T) {
	authenticator := NewAuthenticator("test-secret", "", []string{"test-api-key"})

	t.Run("valid jwt", func(t *testing.T) {
		tokenString := signToken(t, "test-secret", jwt.MapClaims{
			"sub":      "manager-1",
			"exp":      time.Now().Add(time.Hour).Unix(),
			"iat":      time.Now().Unix(),
			"aud":      "broker",
			"kind":     "manager",
			"tenantId": "branch-claimed",
		})

		auth, err := authenticator.AuthenticateJWT(tokenString)

		assert.NoError(t, err)
		assert.NotNil(t, auth)
		assert.Equal(t, "manager-1", auth.Subject)
		assert.Equal(t, identity.KindManager, auth.Kind)
		assert.Equal(t, "branch-claimed", auth.ClaimedTenantId)
		assert.False(t, auth.IsAdmin)
	})

	t.Run("invalid jwt signature", func(t *testing.T) {
		tokenString := signToken(t, "invalid-secret", jwt.MapClaims{
			"sub":  "manager-1",
			"exp":  time.Now().Add(time.Hour).Unix(),
			"iat":  time.Now().Unix(),
			"aud":  "broker",
			"kind": "manager",
		})

		auth, err := authenticator.AuthenticateJWT(tokenString)

		assert.Error(t, err)
		assert.Nil(t, auth)
		assert.IsType(t, ierr.Error{}, err)
		assert.Equal(t, ierr.ErrorCodeUnauthenticated, err.(ierr.Error).Code)
	})

	t.Run("expired jwt", func(t *testing.T) {
		tokenString := signToken(t, "test-secret", jwt.MapClaims{
			"sub":  "manager-1",
			"exp":  time.Now().Add(-time.Hour).Unix(),
			"iat":  time.Now().Add(-2 * time.Hour).Unix(),
			"aud":  "broker",
			"kind": "manager",
		})

		auth, err := authenticator.AuthenticateJWT(tokenString)

		assert.Error(t, err)
		assert.Nil(t, auth)
		assert.Equal(t, ierr.ErrorCodeUnauthenticated, err.(ierr.Error).Code)
	})

	t.Run("missing subject", func(t *testing.T) {
		tokenString := signToken(t, "test-secret", jwt.MapClaims{
			"exp":  time.Now().Add(time.Hour).Unix(),
			"iat":  time.Now().Unix(),
			"aud":  "broker",
			"kind": "manager",
		})

		auth, err := authenticator.AuthenticateJWT(tokenString)

		assert.Error(t, err)
		assert.Nil(t, auth)
		assert.Equal(t, ierr.ErrorCodeUnauthenticated, err.(ierr.Error).Code)
	})

	t.Run("unknown kind", func(t *testing.T) {
		tokenString := signToken(t, "test-secret", jwt.MapClaims{
			"sub":  "manager-1",
			"exp":  time.Now().Add(time.Hour).Unix(),
			"iat":  time.Now().Unix(),
			"aud":  "broker",
			"kind": "root",
		})

		auth, err := authenticator.AuthenticateJWT(tokenString)

		assert.Error(t, err)
		assert.Nil(t, auth)
		assert.ErrorIs(t, err, identity.ErrUnknownKind)
	})

	t.Run("empty token", func(t *testing.T) {
		auth, err := authenticator.AuthenticateJWT("")

		assert.Nil(t, auth)
		assert.Equal(t, ierr.ErrorCodeUnauthenticated, ierr.CodeOf(err))
	})
}

func TestAuthenticator_AuthenticateAPIKey(t *testing.T) {
	authenticator := NewAuthenticator("test-secret", "", []string{"test-api-key"})

	t.Run("valid api key", func(t *testing.T) {
		auth, err := authenticator.AuthenticateAPIKey("test-api-key")

		assert.NoError(t, err)
		assert.NotNil(t, auth)
		assert.Equal(t, "api", auth.Subject)
		assert.True(t, auth.IsAdmin)
	})

	t.Run("invalid api key", func(t *testing.T) {
		auth, err := authenticator.AuthenticateAPIKey("invalid-api-key")

		assert.Error(t, err)
		assert.Nil(t, auth)
		assert.IsType(t, ierr.Error{}, err)
		assert.Equal(t, ierr.ErrorCodeUnauthenticated, err.(ierr.Error).Code)
	})
}
