package ctap2

import (
	"io"
	"iter"

	"github.com/ldclabs/cose/key"
)

// Client is the interface for CTAP2 client operations.
// It defines the subset of authenticator commands this library drives:
// capability discovery, the clientPIN sub-protocol, credential management,
// authenticator configuration, and the large-blob store.
type Client interface {
	io.Closer

	// GetInfo retrieves the authenticator's information.
	GetInfo() (*AuthenticatorGetInfoResponse, error)

	// GetPINRetries retrieves the number of remaining PIN attempts.
	GetPINRetries(pinUvAuthProtocolType PinUvAuthProtocolType) (uint, bool, error)

	// GetUVRetries retrieves the number of remaining UV attempts.
	GetUVRetries() (uint, error)

	// GetKeyAgreement retrieves the key agreement key for the specified PIN/UV auth protocol.
	GetKeyAgreement(pinUvAuthProtocolType PinUvAuthProtocolType) (key.Key, error)

	// SetPIN sets the PIN for the authenticator.
	SetPIN(pinUvAuthProtocolType PinUvAuthProtocolType, keyAgreement key.Key, pin string) error

	// ChangePIN changes the PIN for the authenticator.
	ChangePIN(pinUvAuthProtocolType PinUvAuthProtocolType, keyAgreement key.Key, currentPin string, newPin string) error

	// GetPinToken retrieves the PIN token from the authenticator.
	// This method is used for backward compatibility.
	GetPinToken(pinUvAuthProtocolType PinUvAuthProtocolType, keyAgreement key.Key, pin string) ([]byte, error)

	// GetPinUvAuthTokenUsingUvWithPermissions retrieves the PIN/UV auth token using user verification with permissions.
	GetPinUvAuthTokenUsingUvWithPermissions(
		pinUvAuthProtocolType PinUvAuthProtocolType,
		keyAgreement key.Key,
		permissions Permission,
		rpID string,
	) ([]byte, error)

	// GetPinUvAuthTokenUsingPinWithPermissions retrieves the PIN/UV auth token using PIN with permissions.
	GetPinUvAuthTokenUsingPinWithPermissions(
		pinUvAuthProtocolType PinUvAuthProtocolType,
		keyAgreement key.Key,
		pin string,
		permissions Permission,
		rpID string,
	) ([]byte, error)

	// GetCredsMetadata retrieves metadata about credential management.
	GetCredsMetadata(
		preview bool,
		pinUvAuthProtocolType PinUvAuthProtocolType,
		pinUvAuthToken []byte,
	) (*AuthenticatorCredentialManagementResponse, error)

	// EnumerateRPs lists the Relying Parties with credentials on the authenticator.
	EnumerateRPs(
		preview bool,
		pinUvAuthProtocolType PinUvAuthProtocolType,
		pinUvAuthToken []byte,
	) iter.Seq2[*AuthenticatorCredentialManagementResponse, error]

	// EnumerateCredentials lists the credentials for a specific Relying Party.
	EnumerateCredentials(
		preview bool,
		pinUvAuthProtocolType PinUvAuthProtocolType,
		pinUvAuthToken []byte,
		rpIDHash []byte,
	) iter.Seq2[*AuthenticatorCredentialManagementResponse, error]

	// LargeBlobs reads or writes one fragment of the serialized large-blob
	// array. When a token is supplied for a write, the per-fragment MAC is
	// computed and attached.
	LargeBlobs(
		pinUvAuthProtocolType PinUvAuthProtocolType,
		pinUvAuthToken []byte,
		get uint,
		set []byte,
		offset uint,
		length uint,
	) (*AuthenticatorLargeBlobsResponse, error)

	// EnableEnterpriseAttestation enables enterprise attestation.
	EnableEnterpriseAttestation(pinUvAuthProtocolType PinUvAuthProtocolType, pinUvAuthToken []byte) error

	// ToggleAlwaysUV toggles the Always UV setting.
	ToggleAlwaysUV(pinUvAuthProtocolType PinUvAuthProtocolType, pinUvAuthToken []byte) error

	// SetMinPINLength sets the minimum PIN length.
	SetMinPINLength(
		pinUvAuthProtocolType PinUvAuthProtocolType,
		pinUvAuthToken []byte,
		newMinPINLength uint,
		minPinLengthRPIDs []string,
		forceChangePin bool,
		pinComplexityPolicy bool,
	) error

	// Reset resets the authenticator to factory defaults.
	Reset() error
}
