package memory

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentmem/types"
)

func TestNewCipher_RejectsShortKey(t *testing.T) {
	_, err := NewCipher(strings.Repeat("k", MinEncryptionKeyLength-1))
	assert.Equal(t, types.ErrInvalidInput, types.GetErrorCode(err))

	_, err = NewCipher(strings.Repeat("k", MinEncryptionKeyLength))
	assert.NoError(t, err)
}

func TestCipher_SealOpen(t *testing.T) {
	c, err := NewCipher(testSecret)
	require.NoError(t, err)

	a, err := c.Seal("hello")
	require.NoError(t, err)
	b, err := c.Seal("hello")
	require.NoError(t, err)

	assert.True(t, IsSealed(a))
	assert.NotEqual(t, a, b, "every seal uses a fresh nonce")

	plain, err := c.Open(a)
	require.NoError(t, err)
	assert.Equal(t, "hello", plain)

	// same secret, independently derived key
	again, err := NewCipher(testSecret)
	require.NoError(t, err)
	plain, err = again.Open(b)
	require.NoError(t, err)
	assert.Equal(t, "hello", plain)
}

func TestCipher_OpenFailures(t *testing.T) {
	c, err := NewCipher(testSecret)
	require.NoError(t, err)
	other, err := NewCipher(strings.Repeat("x", 32))
	require.NoError(t, err)

	sealed, err := c.Seal("payload")
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, sealedPrefix))
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	tampered := sealedPrefix + base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name     string
		cipher   *Cipher
		envelope string
	}{
		{"plaintext", c, "payload"},
		{"bad base64", c, sealedPrefix + "!!!"},
		{"too short", c, sealedPrefix + base64.StdEncoding.EncodeToString([]byte("abc"))},
		{"tampered", c, tampered},
		{"wrong key", other, sealed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.cipher.Open(tt.envelope)
			require.Error(t, err)
			assert.Equal(t, types.ErrDecryptionFailed, types.GetErrorCode(err))
		})
	}
}

func TestProperty_Cipher_RoundTrip(t *testing.T) {
	c, err := NewCipher(testSecret)
	require.NoError(t, err)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("open(seal(x)) == x", prop.ForAll(
		func(s string) bool {
			sealed, err := c.Seal(s)
			if err != nil || !IsSealed(sealed) {
				return false
			}
			plain, err := c.Open(sealed)
			return err == nil && plain == s
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
