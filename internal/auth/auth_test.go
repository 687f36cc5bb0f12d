package auth_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinode/fanout/internal/auth"
	"github.com/tinode/fanout/internal/corerr"
)

func newTokenAuth(t *testing.T, secretByte byte) *auth.TokenAuth {
	t.Helper()
	a, err := auth.New(auth.Config{Secret: bytes.Repeat([]byte{secretByte}, 32)})
	require.NoError(t, err)
	return a
}

func TestNew_RejectsShortSecret(t *testing.T) {
	_, err := auth.New(auth.Config{Secret: []byte("too short")})
	assert.Error(t, err)
}

func TestMintValidateRoundTrip(t *testing.T) {
	a := newTokenAuth(t, 'k')

	token, expires, err := a.Mint("u1")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(auth.DefaultExpiry), expires, time.Minute)

	userID, gotExpires, err := a.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
	assert.WithinDuration(t, expires, gotExpires, time.Second)
}

func TestValidate_RejectsMissingToken(t *testing.T) {
	a := newTokenAuth(t, 'k')
	_, _, err := a.Validate("")
	require.Error(t, err)
	assert.Equal(t, corerr.Unauthenticated, corerr.KindOf(err))
}

func TestValidate_RejectsGarbageToken(t *testing.T) {
	a := newTokenAuth(t, 'k')
	_, _, err := a.Validate("not.a.jwt")
	require.Error(t, err)
	assert.Equal(t, corerr.Unauthenticated, corerr.KindOf(err))
}

func TestValidate_RejectsTokenSignedWithDifferentSecret(t *testing.T) {
	minter := newTokenAuth(t, 'a')
	verifier := newTokenAuth(t, 'b')

	token, _, err := minter.Mint("u1")
	require.NoError(t, err)

	_, _, err = verifier.Validate(token)
	require.Error(t, err)
	assert.Equal(t, corerr.Unauthenticated, corerr.KindOf(err))
}

func TestPasswordHashCheck(t *testing.T) {
	hash, err := auth.HashPassword("hunter22")
	require.NoError(t, err)
	require.NotEqual(t, "hunter22", hash)

	assert.NoError(t, auth.CheckPassword(hash, "hunter22"))
	assert.Error(t, auth.CheckPassword(hash, "wrong"))
}

func TestHashPassword_RejectsShortPassword(t *testing.T) {
	_, err := auth.HashPassword("abc")
	require.Error(t, err)
	assert.Equal(t, corerr.Validation, corerr.KindOf(err))
}
