package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUserID = "5b0c7a57-8a3f-4a53-9b8f-0b8d2b3c9e11"

func TestService_RoundTrip(t *testing.T) {
	svc := NewService("secret", time.Hour)

	token, err := svc.GenerateAccessToken(testUserID, "dev@example.com")
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "dev@example.com", claims.Email)

	userID, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, testUserID, userID)
}

func TestService_ValidateToken_Rejects(t *testing.T) {
	svc := NewService("secret", time.Hour)

	other, err := NewService("other-secret", time.Hour).GenerateAccessToken(testUserID, "")
	require.NoError(t, err)

	expired, err := NewService("secret", -time.Minute).GenerateAccessToken(testUserID, "")
	require.NoError(t, err)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: testUserID}).
		SignedString([]byte("secret"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not-a-token"},
		{name: "wrong secret", token: other},
		{name: "expired", token: expired},
		{name: "missing expiry", token: noExp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ValidateToken(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestClaims_UserID_RequiresUUID(t *testing.T) {
	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"}}
	_, err := claims.UserID()
	assert.ErrorIs(t, err, ErrInvalidToken)
}
