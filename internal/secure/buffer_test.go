package secure_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jantje19/cargo-credential-bitwarden/internal/secure"
)

func TestBuffer_RoundTrip(t *testing.T) {
	buf := secure.NewBuffer([]byte("session-token-value"))
	defer buf.Destroy()

	got, err := buf.String()
	require.NoError(t, err)
	assert.Equal(t, "session-token-value", got)

	// Opening twice must yield the same plaintext.
	again, err := buf.String()
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestBuffer_EmptySecret(t *testing.T) {
	buf := secure.NewBuffer(nil)
	defer buf.Destroy()

	got, err := buf.String()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBuffer_Destroy(t *testing.T) {
	buf := secure.NewBuffer([]byte("short-lived"))
	buf.Destroy()

	_, err := buf.String()
	assert.ErrorIs(t, err, secure.ErrDestroyed)
	assert.True(t, buf.Destroyed())

	// Destroy is idempotent.
	buf.Destroy()
	assert.True(t, buf.Destroyed())
}
