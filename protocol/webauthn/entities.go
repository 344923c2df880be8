// Package webauthn carries the WebAuthn data types shared with the CTAP2
// protocol layer.
package webauthn

// PublicKeyCredentialType identifies a credential type. "public-key" is the
// only type registered so far.
type PublicKeyCredentialType string

const (
	// PublicKeyCredentialTypePublicKey is the registered "public-key" credential type.
	PublicKeyCredentialTypePublicKey PublicKeyCredentialType = "public-key"
)

// COSEAlgorithmIdentifier is a registered COSE algorithm number.
type COSEAlgorithmIdentifier int

const (
	// COSEAlgorithmIdentifierES256 is ECDSA with P-256 and SHA-256.
	COSEAlgorithmIdentifierES256 COSEAlgorithmIdentifier = -7
	// COSEAlgorithmIdentifierEdDSA is EdDSA.
	COSEAlgorithmIdentifierEdDSA COSEAlgorithmIdentifier = -8
	// COSEAlgorithmIdentifierRS256 is RSASSA-PKCS1-v1_5 with SHA-256.
	COSEAlgorithmIdentifierRS256 COSEAlgorithmIdentifier = -257
)

// PublicKeyCredentialRpEntity describes a Relying Party.
type PublicKeyCredentialRpEntity struct {
	ID   string `cbor:"id,omitempty"`
	Name string `cbor:"name,omitempty"`
}

// PublicKeyCredentialUserEntity describes a user account a credential is
// bound to.
type PublicKeyCredentialUserEntity struct {
	ID          []byte `cbor:"id"`
	Name        string `cbor:"name,omitempty"`
	DisplayName string `cbor:"displayName,omitempty"`
}

// PublicKeyCredentialDescriptor identifies a specific credential.
type PublicKeyCredentialDescriptor struct {
	Type       PublicKeyCredentialType `cbor:"type"`
	ID         []byte                  `cbor:"id"`
	Transports []string                `cbor:"transports,omitempty"`
}

// PublicKeyCredentialParameters pairs a credential type with an algorithm.
type PublicKeyCredentialParameters struct {
	Type PublicKeyCredentialType `cbor:"type"`
	Alg  COSEAlgorithmIdentifier `cbor:"alg"`
}
