// Package fido2 provides a high-level interface for interacting with FIDO2
// authenticators. It covers capability discovery, PIN management, credential
// management, authenticator configuration, and the CTAP 2.1 large-blob store.
package fido2

import (
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/SigmaG33/libfido2/protocol/ctap2"
)

// Device represents a FIDO2 device.
type Device struct {
	ctapClient  ctap2.Client
	cborEncMode cbor.EncMode
	info        *ctap2.AuthenticatorGetInfoResponse
	mu          sync.Mutex
	closed      bool
}

// NewDevice opens a FIDO2 device over conn, which carries raw CTAP CBOR
// messages (HID, NFC, or any other framing the caller provides). timeoutMS
// bounds every reply wait in milliseconds; a negative value waits
// indefinitely.
func NewDevice(conn ctap2.Conn, timeoutMS int) (*Device, error) {
	encMode, err := cbor.CTAP2EncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create CBOR encoding mode: %w", err)
	}

	ctapClient := ctap2.NewCTAPHIDClient(conn, encMode, timeoutMS)

	info, err := ctapClient.GetInfo()
	if err != nil {
		_ = ctapClient.Close()
		return nil, fmt.Errorf("failed to get authenticator info: %w", err)
	}

	return &Device{
		ctapClient:  ctapClient,
		cborEncMode: encMode,
		info:        info,
	}, nil
}

// Info returns the authenticator information.
func (d *Device) Info() *ctap2.AuthenticatorGetInfoResponse {
	return d.info
}

// Close closes the connection to the FIDO2 device.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.ctapClient.Close()
}

// protocol returns the first PIN/UV auth protocol the device advertises.
func (d *Device) protocol() ctap2.PinUvAuthProtocolType {
	if len(d.info.PinUvAuthProtocols) == 0 {
		return ctap2.PinUvAuthProtocolTypeOne
	}
	return d.info.PinUvAuthProtocols[0]
}

// canGetUVToken reports whether the device can hand out an auth token for
// the given PIN: either a pinUvAuthToken obtained through built-in user
// verification or the PIN, or a legacy PIN token.
func (d *Device) canGetUVToken(pin string) bool {
	if supported, ok := d.info.Options[ctap2.OptionPinUvAuthToken]; ok && supported {
		if uv, ok := d.info.Options[ctap2.OptionUserVerification]; ok && uv {
			return true
		}
	}
	if pinSet, ok := d.info.Options[ctap2.OptionClientPin]; ok && pinSet && pin != "" {
		return true
	}
	return false
}

// getUVToken acquires an auth token scoped to permissions. The pinUvAuthToken
// path is preferred; devices that predate it fall back to the legacy PIN
// token, which carries no permissions.
func (d *Device) getUVToken(permissions ctap2.Permission, pin string) ([]byte, error) {
	proto := d.protocol()

	keyAgreement, err := d.ctapClient.GetKeyAgreement(proto)
	if err != nil {
		return nil, err
	}

	if supported, ok := d.info.Options[ctap2.OptionPinUvAuthToken]; ok && supported {
		if pin == "" {
			return d.ctapClient.GetPinUvAuthTokenUsingUvWithPermissions(proto, keyAgreement, permissions, "")
		}
		return d.ctapClient.GetPinUvAuthTokenUsingPinWithPermissions(proto, keyAgreement, pin, permissions, "")
	}

	if pin == "" {
		return nil, ErrPinUvAuthTokenRequired
	}
	return d.ctapClient.GetPinToken(proto, keyAgreement, pin)
}

// GetPINRetries retrieves the number of remaining PIN attempts and whether
// the device must be power cycled before the next one.
func (d *Device) GetPINRetries() (uint, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.info.Options[ctap2.OptionClientPin]; !ok {
		return 0, false, newErrorMessage(ErrNotSupported, "device doesn't support clientPin")
	}

	return d.ctapClient.GetPINRetries(d.protocol())
}

// GetUVRetries retrieves the number of remaining user verification retries.
func (d *Device) GetUVRetries() (uint, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	uv, ok := d.info.Options[ctap2.OptionUserVerification]
	if !ok {
		return 0, newErrorMessage(ErrNotSupported, "device doesn't support user verification")
	}
	if !uv {
		return 0, newErrorMessage(ErrUvNotConfigured, "please configure UV first (e.g. enroll biometry)")
	}

	return d.ctapClient.GetUVRetries()
}

// SetPIN sets the initial PIN on the device.
func (d *Device) SetPIN(pin string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	pinSet, ok := d.info.Options[ctap2.OptionClientPin]
	if !ok {
		return newErrorMessage(ErrNotSupported, "device doesn't support clientPin")
	}
	if pinSet {
		return ErrPinAlreadySet
	}

	keyAgreement, err := d.ctapClient.GetKeyAgreement(d.protocol())
	if err != nil {
		return err
	}

	return d.ctapClient.SetPIN(d.protocol(), keyAgreement, pin)
}

// ChangePIN replaces the device PIN.
func (d *Device) ChangePIN(currentPin, newPin string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	pinSet, ok := d.info.Options[ctap2.OptionClientPin]
	if !ok {
		return newErrorMessage(ErrNotSupported, "device doesn't support clientPin")
	}
	if !pinSet {
		return ErrPinNotSet
	}

	keyAgreement, err := d.ctapClient.GetKeyAgreement(d.protocol())
	if err != nil {
		return err
	}

	return d.ctapClient.ChangePIN(d.protocol(), keyAgreement, currentPin, newPin)
}

// GetPinUvAuthTokenUsingPinWithPermissions acquires an auth token scoped to
// permissions (and optionally an RP ID) using the PIN.
func (d *Device) GetPinUvAuthTokenUsingPinWithPermissions(
	pin string,
	permissions ctap2.Permission,
	rpID string,
) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	token, ok := d.info.Options[ctap2.OptionPinUvAuthToken]
	if !ok || !token {
		return nil, newErrorMessage(ErrNotSupported, "device doesn't support pinUvAuthToken")
	}

	keyAgreement, err := d.ctapClient.GetKeyAgreement(d.protocol())
	if err != nil {
		return nil, err
	}

	return d.ctapClient.GetPinUvAuthTokenUsingPinWithPermissions(
		d.protocol(),
		keyAgreement,
		pin,
		permissions,
		rpID,
	)
}

// GetPinUvAuthTokenUsingUvWithPermissions acquires an auth token scoped to
// permissions (and optionally an RP ID) using built-in user verification.
func (d *Device) GetPinUvAuthTokenUsingUvWithPermissions(
	permissions ctap2.Permission,
	rpID string,
) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	token, ok := d.info.Options[ctap2.OptionPinUvAuthToken]
	if !ok || !token {
		return nil, newErrorMessage(ErrNotSupported, "device doesn't support pinUvAuthToken")
	}

	uv, ok := d.info.Options[ctap2.OptionUserVerification]
	if !ok {
		return nil, newErrorMessage(ErrNotSupported, "device doesn't support user verification")
	}
	if !uv {
		return nil, newErrorMessage(ErrUvNotConfigured, "please configure UV first (e.g. enroll biometry)")
	}

	keyAgreement, err := d.ctapClient.GetKeyAgreement(d.protocol())
	if err != nil {
		return nil, err
	}

	return d.ctapClient.GetPinUvAuthTokenUsingUvWithPermissions(
		d.protocol(),
		keyAgreement,
		permissions,
		rpID,
	)
}

// requireCredentialManagement checks the credential management options.
func (d *Device) requireCredentialManagement() error {
	credMgmt, ok := d.info.Options[ctap2.OptionCredentialManagement]
	if d.info.IsPreviewOnly() {
		credMgmt, ok = d.info.Options[ctap2.OptionCredentialManagementPreview]
	}
	if !ok || !credMgmt {
		return newErrorMessage(ErrNotSupported, "device doesn't support credential management")
	}
	return nil
}

// GetCredsMetadata retrieves metadata about the device's resident credentials.
func (d *Device) GetCredsMetadata(pinUvAuthToken []byte) (*ctap2.AuthenticatorCredentialManagementResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.requireCredentialManagement(); err != nil {
		return nil, err
	}

	return d.ctapClient.GetCredsMetadata(
		d.info.IsPreviewOnly(),
		d.protocol(),
		pinUvAuthToken,
	)
}

// EnumerateRPs lists the Relying Parties with resident credentials on the
// device. The token must carry the CredentialManagement permission.
func (d *Device) EnumerateRPs(pinUvAuthToken []byte) iter.Seq2[*ctap2.AuthenticatorCredentialManagementResponse, error] {
	return func(yield func(*ctap2.AuthenticatorCredentialManagementResponse, error) bool) {
		d.mu.Lock()
		defer d.mu.Unlock()

		if err := d.requireCredentialManagement(); err != nil {
			yield(nil, err)
			return
		}

		for rp, err := range d.ctapClient.EnumerateRPs(d.info.IsPreviewOnly(), d.protocol(), pinUvAuthToken) {
			if !yield(rp, err) {
				return
			}
		}
	}
}

// EnumerateCredentials lists the resident credentials bound to the Relying
// Party identified by rpIDHash.
func (d *Device) EnumerateCredentials(
	pinUvAuthToken []byte,
	rpIDHash []byte,
) iter.Seq2[*ctap2.AuthenticatorCredentialManagementResponse, error] {
	return func(yield func(*ctap2.AuthenticatorCredentialManagementResponse, error) bool) {
		d.mu.Lock()
		defer d.mu.Unlock()

		if err := d.requireCredentialManagement(); err != nil {
			yield(nil, err)
			return
		}

		for cred, err := range d.ctapClient.EnumerateCredentials(
			d.info.IsPreviewOnly(),
			d.protocol(),
			pinUvAuthToken,
			rpIDHash,
		) {
			if !yield(cred, err) {
				return
			}
		}
	}
}

// pinRequired reports whether the authenticator asked for PIN/UV
// authorization on an unauthenticated request.
func pinRequired(err error) bool {
	return errors.Is(err, ctap2.StatusPinRequired) ||
		errors.Is(err, ctap2.StatusPinAuthInvalid) ||
		errors.Is(err, ctap2.StatusPinAuthBlocked)
}

// withConfigToken runs op without authorization first and retries once with
// an AuthenticatorConfiguration-scoped token when the device demands it.
// This mirrors the behavior of the fido2-token tool.
func (d *Device) withConfigToken(pin string, op func(token []byte) error) error {
	err := op(nil)
	if err == nil || !pinRequired(err) || !d.canGetUVToken(pin) {
		return err
	}

	token, err := d.getUVToken(ctap2.PermissionAuthenticatorConfiguration, pin)
	if err != nil {
		return err
	}
	defer wipe(token)

	return op(token)
}

// requireConfig checks the authenticatorConfig option.
func (d *Device) requireConfig() error {
	if authnrCfg, ok := d.info.Options[ctap2.OptionAuthenticatorConfig]; !ok || !authnrCfg {
		return newErrorMessage(ErrNotSupported, "device doesn't support authnrCfg")
	}
	return nil
}

// EnableEnterpriseAttestation enables enterprise attestation on the device
// if supported. pin may be empty when the device allows the operation
// without authorization.
func (d *Device) EnableEnterpriseAttestation(pin string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.requireConfig(); err != nil {
		return err
	}
	if _, ok := d.info.Options[ctap2.OptionEnterpriseAttestation]; !ok {
		return newErrorMessage(ErrNotSupported, "device doesn't support ep")
	}

	return d.withConfigToken(pin, func(token []byte) error {
		return d.ctapClient.EnableEnterpriseAttestation(d.protocol(), token)
	})
}

// ToggleAlwaysUV toggles the always UV (User Verification) setting on the
// device if supported.
func (d *Device) ToggleAlwaysUV(pin string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.requireConfig(); err != nil {
		return err
	}
	if _, ok := d.info.Options[ctap2.OptionAlwaysUv]; !ok {
		return newErrorMessage(ErrNotSupported, "device doesn't support alwaysUv")
	}

	return d.withConfigToken(pin, func(token []byte) error {
		return d.ctapClient.ToggleAlwaysUV(d.protocol(), token)
	})
}

// SetMinPINLength sets the minimum PIN length on the device if supported.
func (d *Device) SetMinPINLength(
	pin string,
	newMinPINLength uint,
	minPinLengthRPIDs []string,
	forceChangePin bool,
	pinComplexityPolicy bool,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.requireConfig(); err != nil {
		return err
	}

	return d.withConfigToken(pin, func(token []byte) error {
		return d.ctapClient.SetMinPINLength(
			d.protocol(),
			token,
			newMinPINLength,
			minPinLengthRPIDs,
			forceChangePin,
			pinComplexityPolicy,
		)
	})
}

// ForcePINChange makes the device demand a PIN change before the next
// PIN-protected operation.
func (d *Device) ForcePINChange(pin string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.requireConfig(); err != nil {
		return err
	}

	return d.withConfigToken(pin, func(token []byte) error {
		return d.ctapClient.SetMinPINLength(d.protocol(), token, 0, nil, true, false)
	})
}

// Reset performs a factory reset on the device.
func (d *Device) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.ctapClient.Reset()
}

// wipe zeroes transient secrets on exit paths.
func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
