// Package protocoltwo implements PIN/UV auth protocol two.
package protocoltwo

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	hmacKeyLength = 32
	aesKeyLength  = 32
)

var (
	// ErrInvalidSecretLength is returned when the shared secret is not the
	// 64-byte HMAC-key/AES-key concatenation the protocol defines.
	ErrInvalidSecretLength = errors.New("protocoltwo: shared secret must be 64 bytes")
	// ErrInvalidCiphertext is returned when a ciphertext is too short or not
	// block-aligned.
	ErrInvalidCiphertext = errors.New("protocoltwo: malformed ciphertext")
)

// KDF derives the 64-byte shared secret (HMAC key followed by AES key) from
// the raw ECDH output using HKDF-SHA-256 with an all-zero salt.
func KDF(z []byte) ([]byte, error) {
	salt := make([]byte, 32)
	secret := make([]byte, hmacKeyLength+aesKeyLength)

	if _, err := io.ReadFull(
		hkdf.New(sha256.New, z, salt, []byte("CTAP2 HMAC key")), secret[:hmacKeyLength],
	); err != nil {
		return nil, fmt.Errorf("cannot derive HMAC key: %w", err)
	}
	if _, err := io.ReadFull(
		hkdf.New(sha256.New, z, salt, []byte("CTAP2 AES key")), secret[hmacKeyLength:],
	); err != nil {
		return nil, fmt.Errorf("cannot derive AES key: %w", err)
	}

	return secret, nil
}

// Encrypt enciphers demPlaintext under AES-256-CBC with a fresh random IV,
// which is prepended to the ciphertext.
func Encrypt(sharedSecret []byte, demPlaintext []byte) ([]byte, error) {
	if len(sharedSecret) != hmacKeyLength+aesKeyLength {
		return nil, ErrInvalidSecretLength
	}
	if len(demPlaintext)%aes.BlockSize != 0 {
		return nil, ErrInvalidCiphertext
	}

	block, err := aes.NewCipher(sharedSecret[hmacKeyLength:])
	if err != nil {
		return nil, err
	}

	out := make([]byte, aes.BlockSize+len(demPlaintext))
	iv := out[:aes.BlockSize]
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], demPlaintext)

	return out, nil
}

// Decrypt reverses Encrypt, consuming the prepended IV.
func Decrypt(sharedSecret []byte, demCiphertext []byte) ([]byte, error) {
	if len(sharedSecret) != hmacKeyLength+aesKeyLength {
		return nil, ErrInvalidSecretLength
	}
	if len(demCiphertext) < aes.BlockSize || len(demCiphertext)%aes.BlockSize != 0 {
		return nil, ErrInvalidCiphertext
	}

	block, err := aes.NewCipher(sharedSecret[hmacKeyLength:])
	if err != nil {
		return nil, err
	}

	iv := demCiphertext[:aes.BlockSize]
	plaintext := make([]byte, len(demCiphertext)-aes.BlockSize)
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, demCiphertext[aes.BlockSize:])

	return plaintext, nil
}

// Authenticate computes the full HMAC-SHA-256 over message. The key is
// either a 64-byte shared secret, of which the first half is the HMAC key,
// or a 32-byte pinUvAuthToken used as-is.
func Authenticate(key []byte, message []byte) []byte {
	if len(key) > hmacKeyLength {
		key = key[:hmacKeyLength]
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}
