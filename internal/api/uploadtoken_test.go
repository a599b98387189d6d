package api

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tokenSecret = []byte("0123456789abcdef0123456789abcdef")

func TestUploadTokenRoundTrip(t *testing.T) {
	exp := time.Now().Add(15 * time.Minute)
	token, err := signUploadToken("dep-1", "source.zip", exp, tokenSecret)
	require.NoError(t, err)
	assert.Contains(t, token, ".")

	assert.NoError(t, verifyUploadToken(token, "dep-1", tokenSecret))
}

func TestUploadTokenRejections(t *testing.T) {
	exp := time.Now().Add(15 * time.Minute)
	token, err := signUploadToken("dep-1", "source.zip", exp, tokenSecret)
	require.NoError(t, err)

	t.Run("wrong deployment", func(t *testing.T) {
		assert.ErrorIs(t, verifyUploadToken(token, "dep-2", tokenSecret), ErrBadUploadToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		assert.ErrorIs(t, verifyUploadToken(token, "dep-1", []byte("another-secret-another-secret!!")), ErrBadUploadToken)
	})

	t.Run("expired", func(t *testing.T) {
		old, err := signUploadToken("dep-1", "source.zip", time.Now().Add(-time.Second), tokenSecret)
		require.NoError(t, err)
		assert.ErrorIs(t, verifyUploadToken(old, "dep-1", tokenSecret), ErrBadUploadToken)
	})

	t.Run("tampered payload", func(t *testing.T) {
		parts := strings.SplitN(token, ".", 2)
		forged := parts[0] + "x." + parts[1]
		assert.ErrorIs(t, verifyUploadToken(forged, "dep-1", tokenSecret), ErrBadUploadToken)
	})

	t.Run("garbage", func(t *testing.T) {
		for _, tok := range []string{"", ".", "abc", "abc.", ".def", "not-base64!.deadbeef"} {
			assert.ErrorIs(t, verifyUploadToken(tok, "dep-1", tokenSecret), ErrBadUploadToken)
		}
	})
}
