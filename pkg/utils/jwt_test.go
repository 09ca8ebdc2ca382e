package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTripCarriesTeams(t *testing.T) {
	token, err := GenerateToken("secret", "42", []string{"team-1"}, time.Hour)
	require.NoError(t, err)

	claims, err := ValidateToken("secret", token)
	require.NoError(t, err)
	assert.Equal(t, "42", claims.UserID)
	assert.Equal(t, []string{"team-1"}, claims.TeamIDs)
}

func TestValidateTokenRejects(t *testing.T) {
	expired, err := GenerateToken("secret", "42", nil, -time.Minute)
	require.NoError(t, err)
	_, err = ValidateToken("secret", expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	valid, err := GenerateToken("secret", "42", nil, time.Hour)
	require.NoError(t, err)
	_, err = ValidateToken("other", valid)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)

	_, err = ValidateToken("secret", "not-a-token")
	assert.Error(t, err)
}
