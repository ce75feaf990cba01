package identity

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAPIKey(t *testing.T) {
	t.Run("issues key and stores only its hash", func(t *testing.T) {
		key, plaintext, err := NewAPIKey(uuid.New(), "ci")

		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(plaintext, "tsk_"))
		assert.Len(t, plaintext, 36)
		assert.NotContains(t, key.Hash, plaintext)
		assert.Equal(t, plaintext[:12], key.LookupPrefix)
		assert.Equal(t, plaintext[:8]+"..."+plaintext[32:], key.Masked())
		assert.True(t, key.Verify(plaintext))
		assert.False(t, key.Verify(plaintext+"x"))
	})

	t.Run("rejects empty name", func(t *testing.T) {
		_, _, err := NewAPIKey(uuid.New(), "   ")
		assert.Error(t, err)
	})

	t.Run("rejects nil account", func(t *testing.T) {
		_, _, err := NewAPIKey(uuid.Nil, "ci")
		assert.Error(t, err)
	})
}

func TestAPIKey_Revoke(t *testing.T) {
	key, plaintext, err := NewAPIKey(uuid.New(), "ci")
	require.NoError(t, err)

	require.NoError(t, key.Revoke())
	assert.True(t, key.IsRevoked())
	assert.False(t, key.Verify(plaintext))
	assert.Error(t, key.Revoke())
}

func TestAPIKey_MarkUsed(t *testing.T) {
	key, _, err := NewAPIKey(uuid.New(), "ci")
	require.NoError(t, err)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	key.MarkUsed(at)

	require.NotNil(t, key.LastUsedAt)
	assert.Equal(t, at, *key.LastUsedAt)
}

func TestLookupPrefixOf(t *testing.T) {
	assert.Equal(t, "tsk_01234567", LookupPrefixOf("tsk_0123456789abcdef0123456789abcdef"))
	assert.Equal(t, "", LookupPrefixOf("sk_live_0123456789abcdef"))
	assert.Equal(t, "", LookupPrefixOf("tsk_short"))
}
