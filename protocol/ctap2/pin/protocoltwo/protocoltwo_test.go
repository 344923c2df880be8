package protocoltwo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKDF(t *testing.T) {
	secret, err := KDF([]byte("shared point"))
	require.NoError(t, err)
	assert.Len(t, secret, 64)

	again, err := KDF([]byte("shared point"))
	require.NoError(t, err)
	assert.Equal(t, secret, again)

	other, err := KDF([]byte("another point"))
	require.NoError(t, err)
	assert.NotEqual(t, secret, other)
}

func TestEncryptDecrypt(t *testing.T) {
	secret, err := KDF([]byte("shared point"))
	require.NoError(t, err)

	plaintext := make([]byte, 32)
	for i := range plaintext {
		plaintext[i] = byte(i)
	}

	ciphertext, err := Encrypt(secret, plaintext)
	require.NoError(t, err)
	assert.Len(t, ciphertext, 16+len(plaintext))

	// A fresh IV every call.
	again, err := Encrypt(secret, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, ciphertext, again)

	decrypted, err := Decrypt(secret, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestRejectsBadInputs(t *testing.T) {
	secret, err := KDF([]byte("shared point"))
	require.NoError(t, err)

	_, err = Encrypt(secret[:32], make([]byte, 16))
	assert.ErrorIs(t, err, ErrInvalidSecretLength)

	_, err = Decrypt(secret, make([]byte, 8))
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	_, err = Encrypt(secret, make([]byte, 15))
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestAuthenticate(t *testing.T) {
	secret, err := KDF([]byte("shared point"))
	require.NoError(t, err)

	mac := Authenticate(secret, []byte("message"))
	assert.Len(t, mac, 32)

	// A 32-byte token is used as the HMAC key directly.
	token := secret[:32]
	assert.Equal(t, Authenticate(token, []byte("message")), mac)
}
