package ctap2

import (
	"bytes"
	"compress/flate"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ldclabs/cose/iana"
	"github.com/ldclabs/cose/key"
	ecdh2 "github.com/ldclabs/cose/key/ecdh"

	"github.com/SigmaG33/libfido2/protocol/ctap2/pin/protocolone"
	"github.com/SigmaG33/libfido2/protocol/ctap2/pin/protocoltwo"
)

var (
	// ErrInvalidPinAuthProtocol is returned when an unsupported PIN/UV auth protocol is requested.
	ErrInvalidPinAuthProtocol = errors.New("invalid auth protocol")
	// ErrBlobSize is returned when a decompressed large blob does not match
	// its declared original size.
	ErrBlobSize = errors.New("large blob size mismatch")
)

// PinUvAuthProtocolType represents the PIN/UV auth protocol version.
type PinUvAuthProtocolType uint

func (p PinUvAuthProtocolType) String() string {
	return PinUvAuthProtocolStringMap[p]
}

const (
	// PinUvAuthProtocolTypeOne is PIN/UV auth protocol version 1.
	PinUvAuthProtocolTypeOne PinUvAuthProtocolType = iota + 1
	// PinUvAuthProtocolTypeTwo is PIN/UV auth protocol version 2.
	PinUvAuthProtocolTypeTwo
)

// PinUvAuthProtocolStringMap maps PIN/UV auth protocol types to their string representations.
var PinUvAuthProtocolStringMap = map[PinUvAuthProtocolType]string{
	PinUvAuthProtocolTypeOne: "PinUvAuthProtocolOne",
	PinUvAuthProtocolTypeTwo: "PinUvAuthProtocolTwo",
}

// PinUvAuthProtocol handles the cryptographic operations for PIN/UV authentication.
type PinUvAuthProtocol struct {
	Type               PinUvAuthProtocolType
	platformPrivateKey *ecdh.PrivateKey
	platformCoseKey    key.Key
}

// NewPinUvAuthProtocol creates a new PinUvAuthProtocol instance.
func NewPinUvAuthProtocol(number PinUvAuthProtocolType) (*PinUvAuthProtocol, error) {
	platformPrivkey, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("cannot generate platform P-256 keypair: %w", err)
	}

	// nolint:errcheck,forcetypeassert
	platformPubkey, err := ecdh2.KeyFromPublic(
		platformPrivkey.Public().(*ecdh.PublicKey),
	)
	if err != nil {
		return nil, fmt.Errorf("cannot convert platform public key to COSE_Key: %w", err)
	}
	if err := platformPubkey.Set(iana.KeyParameterAlg, -25); err != nil {
		return nil, fmt.Errorf("cannot set alg parameter for COSE_Key: %w", err)
	}

	// Specification explicitly requires COSE_Key to contain only the necessary parameters.
	// Some keys accept it anyway, but some are not, e.g., SoloKeys Solo 2.
	delete(platformPubkey, iana.KeyParameterKid)

	return &PinUvAuthProtocol{
		Type:               number,
		platformPrivateKey: platformPrivkey,
		platformCoseKey:    platformPubkey,
	}, nil
}

// ECDH performs Elliptic Curve Diffie-Hellman to derive a shared secret.
func (p *PinUvAuthProtocol) ECDH(peerCoseKey key.Key) ([]byte, error) {
	peerPubkey, err := ecdh2.KeyToPublic(peerCoseKey)
	if err != nil {
		return nil, fmt.Errorf("cannot convert peer public key to Go *ecdh.PublicKey: %w", err)
	}

	sharedSecret, err := p.platformPrivateKey.ECDH(peerPubkey)
	if err != nil {
		return nil, fmt.Errorf("cannot derive shared secret: %w", err)
	}
	defer wipe(sharedSecret)

	return p.KDF(sharedSecret)
}

// KDF derives a key from the shared secret using the appropriate protocol KDF.
func (p *PinUvAuthProtocol) KDF(z []byte) ([]byte, error) {
	switch p.Type {
	case PinUvAuthProtocolTypeOne:
		return protocolone.KDF(z), nil
	case PinUvAuthProtocolTypeTwo:
		return protocoltwo.KDF(z)
	default:
		return nil, ErrInvalidPinAuthProtocol
	}
}

// Encrypt encrypts the plaintext using the shared secret and appropriate protocol encryption.
func (p *PinUvAuthProtocol) Encrypt(sharedSecret []byte, demPlaintext []byte) ([]byte, error) {
	switch p.Type {
	case PinUvAuthProtocolTypeOne:
		return protocolone.Encrypt(sharedSecret, demPlaintext)
	case PinUvAuthProtocolTypeTwo:
		return protocoltwo.Encrypt(sharedSecret, demPlaintext)
	default:
		return nil, ErrInvalidPinAuthProtocol
	}
}

// Decrypt decrypts the ciphertext using the shared secret and appropriate protocol decryption.
func (p *PinUvAuthProtocol) Decrypt(sharedSecret []byte, demCiphertext []byte) ([]byte, error) {
	switch p.Type {
	case PinUvAuthProtocolTypeOne:
		return protocolone.Decrypt(sharedSecret, demCiphertext)
	case PinUvAuthProtocolTypeTwo:
		return protocoltwo.Decrypt(sharedSecret, demCiphertext)
	default:
		return nil, ErrInvalidPinAuthProtocol
	}
}

// Encapsulate performs key agreement and returns the platform key and shared secret.
func (p *PinUvAuthProtocol) Encapsulate(peerCoseKey key.Key) (key.Key, []byte, error) {
	sharedSecret, err := p.ECDH(peerCoseKey)
	if err != nil {
		return nil, nil, err
	}

	return p.platformCoseKey, sharedSecret, nil
}

// Authenticate calculates the authentication MAC for the message.
func Authenticate(number PinUvAuthProtocolType, sharedSecret []byte, message []byte) []byte {
	switch number {
	case PinUvAuthProtocolTypeOne:
		return protocolone.Authenticate(sharedSecret, message)
	case PinUvAuthProtocolTypeTwo:
		return protocoltwo.Authenticate(sharedSecret, message)
	default:
		panic("invalid auth protocol")
	}
}

// largeBlobAAD builds the associated data sealed into every large-blob entry:
// the ASCII string "blob" followed by the original size as a little-endian
// 64-bit unsigned integer.
func largeBlobAAD(origSize uint64) []byte {
	aad := make([]byte, 4+8)
	copy(aad, "blob")
	binary.LittleEndian.PutUint64(aad[4:], origSize)
	return aad
}

// EncryptLargeBlob compresses origData and seals it into a large-blob entry
// under the 32-byte key with a freshly generated nonce.
func EncryptLargeBlob(key []byte, origData []byte) (*LargeBlob, error) {
	plaintext, err := compress(origData)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	origSize := len(origData)
	ciphertext := gcm.Seal(nil, nonce, plaintext, largeBlobAAD(uint64(origSize)))

	return &LargeBlob{
		Ciphertext: ciphertext,
		Nonce:      nonce,
		OrigSize:   uint(origSize),
	}, nil
}

// OpenLargeBlob authenticates and decrypts blob under key, returning the
// still-compressed plaintext. A failure only means the key does not match
// this entry.
func OpenLargeBlob(key []byte, blob *LargeBlob) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return gcm.Open(nil, blob.Nonce, blob.Ciphertext, largeBlobAAD(uint64(blob.OrigSize)))
}

// DecryptLargeBlob authenticates, decrypts, and decompresses blob under key,
// returning exactly OrigSize bytes of original data.
func DecryptLargeBlob(key []byte, blob *LargeBlob) ([]byte, error) {
	plaintext, err := OpenLargeBlob(key, blob)
	if err != nil {
		return nil, err
	}
	defer wipe(plaintext)

	return decompress(plaintext, blob.OrigSize)
}

func compress(uncompressed []byte) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	w, err := flate.NewWriter(buf, flate.BestCompression)
	if err != nil {
		return nil, err
	}
	defer func() {
		// to be sure we close it
		_ = w.Close()
	}()

	if _, err := w.Write(uncompressed); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// decompress inflates a DEFLATE stream that must produce exactly origSize
// bytes. Truncated and over-long streams are rejected.
func decompress(compressed []byte, origSize uint) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(compressed))
	defer func() {
		_ = r.Close()
	}()

	uncompressed := make([]byte, origSize)
	if _, err := io.ReadFull(r, uncompressed); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBlobSize, err)
	}

	var extra [1]byte
	if n, err := r.Read(extra[:]); n != 0 || (err != nil && err != io.EOF) {
		return nil, ErrBlobSize
	}

	return uncompressed, nil
}

// wipe zeroes transient key material on exit paths.
func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
