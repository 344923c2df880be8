// Package protocolone implements PIN/UV auth protocol one.
package protocolone

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
)

// ErrInvalidLength is returned when an input is not block-aligned.
var ErrInvalidLength = errors.New("protocolone: input length is not a multiple of the AES block size")

// KDF derives the 32-byte shared secret from the raw ECDH output.
func KDF(z []byte) []byte {
	secret := sha256.Sum256(z)
	return secret[:]
}

// Encrypt enciphers demPlaintext under AES-256-CBC with a zero IV. The
// plaintext length must be a multiple of the AES block size; the protocol
// never needs padding.
func Encrypt(key []byte, demPlaintext []byte) ([]byte, error) {
	if len(demPlaintext)%aes.BlockSize != 0 {
		return nil, ErrInvalidLength
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, aes.BlockSize)
	ciphertext := make([]byte, len(demPlaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, demPlaintext)

	return ciphertext, nil
}

// Decrypt reverses Encrypt.
func Decrypt(key []byte, demCiphertext []byte) ([]byte, error) {
	if len(demCiphertext)%aes.BlockSize != 0 {
		return nil, ErrInvalidLength
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, aes.BlockSize)
	plaintext := make([]byte, len(demCiphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, demCiphertext)

	return plaintext, nil
}

// Authenticate computes HMAC-SHA-256 over message and returns the first 16
// bytes, as protocol one truncates its MACs.
func Authenticate(key []byte, message []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil)[:16]
}
