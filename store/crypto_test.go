package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCipher_RoundTrip(t *testing.T) {
	c, err := NewCipher("a-long-enough-operator-secret")
	require.NoError(t, err)

	sealed, err := c.Encrypt("sk-test-123")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, encryptedPrefix))
	assert.NotContains(t, sealed, "sk-test-123")

	again, err := c.Encrypt("sk-test-123")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per encryption")

	plain, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", plain)
}

func TestCipher_Errors(t *testing.T) {
	c, err := NewCipher("a-long-enough-operator-secret")
	require.NoError(t, err)
	other, err := NewCipher("a-different-operator-secret")
	require.NoError(t, err)

	sealed, err := c.Encrypt("secret")
	require.NoError(t, err)

	_, err = other.Decrypt(sealed)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	_, err = c.Decrypt(encryptedPrefix + "!!!")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	_, err = c.Decrypt(encryptedPrefix + "AAAA")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	var none *Cipher
	_, err = none.Decrypt(sealed)
	assert.ErrorIs(t, err, ErrNoSecretKey)
}

func TestCipher_Passthrough(t *testing.T) {
	none, err := NewCipher("")
	require.NoError(t, err)
	assert.Nil(t, none)

	out, err := none.Encrypt("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", out)

	c, err := NewCipher("a-long-enough-operator-secret")
	require.NoError(t, err)
	out, err = c.Decrypt("legacy-plaintext")
	require.NoError(t, err)
	assert.Equal(t, "legacy-plaintext", out)
}

func TestAIConfig_Masked(t *testing.T) {
	cfg := &AIConfig{Tenant: "t", APIKey: "sk"}
	masked := cfg.Masked()
	assert.Equal(t, MaskedAPIKey, masked.APIKey)
	assert.Equal(t, "sk", cfg.APIKey)

	assert.Empty(t, (&AIConfig{}).Masked().APIKey)
}

func TestSessionKey(t *testing.T) {
	assert.Equal(t, "peer:Alice", SessionKey("Alice"))
	assert.Equal(t, "Alice", SessionName(SessionKey("Alice")))
}
