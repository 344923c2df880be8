package ctap2

import (
	"github.com/google/uuid"

	"github.com/SigmaG33/libfido2/protocol/webauthn"
)

// Option is an authenticator option name from the getInfo options map.
type Option string

const (
	// OptionResidentKeys indicates discoverable credential support.
	OptionResidentKeys Option = "rk"
	// OptionUserPresence indicates user presence support.
	OptionUserPresence Option = "up"
	// OptionUserVerification indicates a built-in user verification method.
	OptionUserVerification Option = "uv"
	// OptionPlatformDevice indicates a platform (non-removable) authenticator.
	OptionPlatformDevice Option = "plat"
	// OptionClientPin indicates clientPIN support; true means a PIN is set.
	OptionClientPin Option = "clientPin"
	// OptionPinUvAuthToken indicates pinUvAuthToken-with-permissions support.
	OptionPinUvAuthToken Option = "pinUvAuthToken"
	// OptionLargeBlobs indicates support for the authenticatorLargeBlobs command.
	OptionLargeBlobs Option = "largeBlobs"
	// OptionCredentialManagement indicates credential management support.
	OptionCredentialManagement Option = "credMgmt"
	// OptionCredentialManagementPreview indicates CTAP 2.1 preview credential management.
	OptionCredentialManagementPreview Option = "credentialMgmtPreview"
	// OptionAuthenticatorConfig indicates authenticatorConfig support.
	OptionAuthenticatorConfig Option = "authnrCfg"
	// OptionEnterpriseAttestation indicates enterprise attestation support.
	OptionEnterpriseAttestation Option = "ep"
	// OptionAlwaysUv indicates the alwaysUv feature.
	OptionAlwaysUv Option = "alwaysUv"
	// OptionSetMinPINLength indicates the setMinPINLength config sub-command.
	OptionSetMinPINLength Option = "setMinPINLength"
	// OptionMakeCredentialUvNotRequired indicates makeCredential without UV.
	OptionMakeCredentialUvNotRequired Option = "makeCredUvNotRqd"
)

// AuthenticatorGetInfoResponse is the response for the AuthenticatorGetInfo command.
type AuthenticatorGetInfoResponse struct {
	Versions                         []string                                 `cbor:"1,keyasint"`
	Extensions                       []string                                 `cbor:"2,keyasint,omitempty"`
	AAGUID                           uuid.UUID                                `cbor:"3,keyasint"`
	Options                          map[Option]bool                          `cbor:"4,keyasint,omitempty"`
	MaxMsgSize                       uint                                     `cbor:"5,keyasint,omitempty"`
	PinUvAuthProtocols               []PinUvAuthProtocolType                  `cbor:"6,keyasint,omitempty"`
	MaxCredentialCountInList         uint                                     `cbor:"7,keyasint,omitempty"`
	MaxCredentialIDLength            uint                                     `cbor:"8,keyasint,omitempty"`
	Transports                       []string                                 `cbor:"9,keyasint,omitempty"`
	Algorithms                       []webauthn.PublicKeyCredentialParameters `cbor:"10,keyasint,omitempty"`
	MaxSerializedLargeBlobArray      uint                                     `cbor:"11,keyasint,omitempty"`
	ForcePINChange                   bool                                     `cbor:"12,keyasint,omitempty"`
	MinPINLength                     uint                                     `cbor:"13,keyasint,omitempty"`
	FirmwareVersion                  uint                                     `cbor:"14,keyasint,omitempty"`
	MaxCredBlobLength                uint                                     `cbor:"15,keyasint,omitempty"`
	MaxRPIDsForSetMinPINLength       uint                                     `cbor:"16,keyasint,omitempty"`
	PreferredPlatformUvAttempts      uint                                     `cbor:"17,keyasint,omitempty"`
	UvModality                       uint                                     `cbor:"18,keyasint,omitempty"`
	RemainingDiscoverableCredentials uint                                     `cbor:"20,keyasint,omitempty"`
}

// IsPreviewOnly reports whether the device offers only the CTAP 2.1 preview
// flavor of credential management.
func (r *AuthenticatorGetInfoResponse) IsPreviewOnly() bool {
	if _, ok := r.Options[OptionCredentialManagement]; ok {
		return false
	}
	_, ok := r.Options[OptionCredentialManagementPreview]
	return ok
}
