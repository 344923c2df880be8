package ctap2

import "errors"

const (
	// LargeBlobDigestLength is the length of the truncated SHA-256 trailer
	// terminating the serialized large-blob array.
	LargeBlobDigestLength = 16
	// LargeBlobNonceLength is the AES-GCM nonce length of a large-blob entry.
	LargeBlobNonceLength = 12
	// LargeBlobTagLength is the AES-GCM tag length of a large-blob entry.
	LargeBlobTagLength = 16
)

// ErrLargeBlobOffset is returned when a write offset exceeds what the
// per-fragment MAC can represent.
var ErrLargeBlobOffset = errors.New("ctap2: large blob offset exceeds protocol limit")

// AuthenticatorLargeBlobsRequest represents the request for AuthenticatorLargeBlobs command.
type AuthenticatorLargeBlobsRequest struct {
	Get               uint                  `cbor:"1,keyasint,omitempty"`
	Set               []byte                `cbor:"2,keyasint,omitempty"`
	Offset            uint                  `cbor:"3,keyasint"`
	Length            uint                  `cbor:"4,keyasint,omitempty"`
	PinUvAuthParam    []byte                `cbor:"5,keyasint,omitempty"`
	PinUvAuthProtocol PinUvAuthProtocolType `cbor:"6,keyasint,omitempty"`
}

// LargeBlob is one sealed element of the large-blob array: the AES-256-GCM
// ciphertext (tag included), its nonce, and the length of the plaintext
// before compression.
type LargeBlob struct {
	Ciphertext []byte `cbor:"1,keyasint"`
	Nonce      []byte `cbor:"2,keyasint"`
	OrigSize   uint   `cbor:"3,keyasint"`
}

// Valid reports whether the decoded entry satisfies the structural
// requirements: a ciphertext at least as long as the GCM tag, a 12-byte
// nonce, and a non-zero original size.
func (b *LargeBlob) Valid() bool {
	return len(b.Ciphertext) >= LargeBlobTagLength &&
		len(b.Nonce) == LargeBlobNonceLength &&
		b.OrigSize > 0
}

// AuthenticatorLargeBlobsResponse represents the response for AuthenticatorLargeBlobs command.
type AuthenticatorLargeBlobsResponse struct {
	Config []byte `cbor:"1,keyasint"`
}
