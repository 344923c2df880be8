package ctap2

import "github.com/ldclabs/cose/key"

// AuthenticatorClientPINRequest represents the request for AuthenticatorClientPIN command.
type AuthenticatorClientPINRequest struct {
	PinUvAuthProtocol PinUvAuthProtocolType `cbor:"1,keyasint,omitempty"`
	SubCommand        ClientPINSubCommand   `cbor:"2,keyasint"`
	KeyAgreement      key.Key               `cbor:"3,keyasint,omitzero"`
	PinUvAuthParam    []byte                `cbor:"4,keyasint,omitempty"`
	NewPinEnc         []byte                `cbor:"5,keyasint,omitempty"`
	PinHashEnc        []byte                `cbor:"6,keyasint,omitempty"`
	Permissions       Permission            `cbor:"9,keyasint,omitempty"`
	RPID              string                `cbor:"10,keyasint,omitempty"`
}

// AuthenticatorClientPINResponse represents the response for AuthenticatorClientPIN command.
type AuthenticatorClientPINResponse struct {
	KeyAgreement    key.Key `cbor:"1,keyasint"`
	PinUvAuthToken  []byte  `cbor:"2,keyasint"`
	PinRetries      uint    `cbor:"3,keyasint"`
	PowerCycleState bool    `cbor:"4,keyasint"`
	UvRetries       uint    `cbor:"5,keyasint"`
}

// ClientPINSubCommand represents the sub-command for AuthenticatorClientPIN.
type ClientPINSubCommand byte

func (cmd ClientPINSubCommand) String() string {
	return clientPINSubCommandStringMap[cmd]
}

const (
	// ClientPINSubCommandGetPINRetries reads the remaining PIN attempts.
	ClientPINSubCommandGetPINRetries ClientPINSubCommand = 0x01
	// ClientPINSubCommandGetKeyAgreement reads the authenticator's key-agreement key.
	ClientPINSubCommandGetKeyAgreement ClientPINSubCommand = 0x02
	// ClientPINSubCommandSetPIN sets the initial PIN.
	ClientPINSubCommandSetPIN ClientPINSubCommand = 0x03
	// ClientPINSubCommandChangePIN replaces an existing PIN.
	ClientPINSubCommandChangePIN ClientPINSubCommand = 0x04
	// ClientPINSubCommandGetPinToken obtains a legacy PIN token.
	ClientPINSubCommandGetPinToken ClientPINSubCommand = 0x05
	// ClientPINSubCommandGetPinUvAuthTokenUsingUvWithPermissions obtains a
	// scoped token via built-in user verification.
	ClientPINSubCommandGetPinUvAuthTokenUsingUvWithPermissions ClientPINSubCommand = 0x06
	// ClientPINSubCommandGetUVRetries reads the remaining UV attempts.
	ClientPINSubCommandGetUVRetries ClientPINSubCommand = 0x07
	// ClientPINSubCommandGetPinUvAuthTokenUsingPinWithPermissions obtains a
	// scoped token via the PIN.
	ClientPINSubCommandGetPinUvAuthTokenUsingPinWithPermissions ClientPINSubCommand = 0x09
)

var clientPINSubCommandStringMap = map[ClientPINSubCommand]string{
	ClientPINSubCommandGetPINRetries:                            "GetPINRetries",
	ClientPINSubCommandGetKeyAgreement:                          "GetKeyAgreement",
	ClientPINSubCommandSetPIN:                                   "SetPIN",
	ClientPINSubCommandChangePIN:                                "ChangePIN",
	ClientPINSubCommandGetPinToken:                              "GetPinToken",
	ClientPINSubCommandGetPinUvAuthTokenUsingUvWithPermissions:  "GetPinUvAuthTokenUsingUvWithPermissions",
	ClientPINSubCommandGetUVRetries:                             "GetUVRetries",
	ClientPINSubCommandGetPinUvAuthTokenUsingPinWithPermissions: "GetPinUvAuthTokenUsingPinWithPermissions",
}

// Permission is a pinUvAuthToken permission bitmask.
type Permission uint

const (
	// PermissionMakeCredential allows authenticatorMakeCredential.
	PermissionMakeCredential Permission = 1 << iota
	// PermissionGetAssertion allows authenticatorGetAssertion.
	PermissionGetAssertion
	// PermissionCredentialManagement allows credential management operations.
	PermissionCredentialManagement
	// PermissionBioEnrollment allows biometric enrollment operations.
	PermissionBioEnrollment
	// PermissionLargeBlobWrite allows writes to the large-blob array.
	PermissionLargeBlobWrite
	// PermissionAuthenticatorConfiguration allows authenticatorConfig operations.
	PermissionAuthenticatorConfiguration
)
