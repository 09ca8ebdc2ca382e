package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptTokenRoundTrip(t *testing.T) {
	key := TokenKey("local-secret")

	sealed, err := EncryptToken("THQVJ-access-token", key)
	require.NoError(t, err)
	assert.NotContains(t, sealed, "THQVJ")

	plain, err := DecryptToken(sealed, key)
	require.NoError(t, err)
	assert.Equal(t, "THQVJ-access-token", plain)
}

func TestDecryptTokenRejectsWrongKey(t *testing.T) {
	sealed, err := EncryptToken("token", TokenKey("a"))
	require.NoError(t, err)

	_, err = DecryptToken(sealed, TokenKey("b"))
	assert.Error(t, err)
}

func TestDecryptTokenShortInput(t *testing.T) {
	_, err := DecryptToken("AAAA", TokenKey("a"))
	assert.ErrorIs(t, err, ErrCiphertextTooShort)
}
