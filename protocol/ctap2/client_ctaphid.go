package ctap2

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"math"
	"slices"

	"github.com/fxamacker/cbor/v2"
	"github.com/ldclabs/cose/key"
)

// ErrEmptyReply is returned when the authenticator's reply carries no status byte.
var ErrEmptyReply = errors.New("ctap2: empty reply from authenticator")

// CTAPHIDClient implements the Client interface on top of a Conn carrying
// CTAPHID CBOR frames.
type CTAPHIDClient struct {
	conn        Conn
	cborEncMode cbor.EncMode
	timeoutMS   int
}

// NewCTAPHIDClient creates a new CTAP2 client over conn. timeoutMS bounds
// every reply wait in milliseconds; a negative value waits indefinitely.
func NewCTAPHIDClient(conn Conn, cborEncMode cbor.EncMode, timeoutMS int) *CTAPHIDClient {
	return &CTAPHIDClient{
		conn:        conn,
		cborEncMode: cborEncMode,
		timeoutMS:   timeoutMS,
	}
}

// Close closes the underlying connection.
func (c *CTAPHIDClient) Close() error {
	return c.conn.Close()
}

// cbor sends one CTAP2 command and returns the reply body after checking the
// status byte. A nil req sends the bare command byte.
func (c *CTAPHIDClient) cbor(cmd Command, req any) ([]byte, error) {
	payload := []byte{byte(cmd)}
	if req != nil {
		b, err := c.cborEncMode.Marshal(req)
		if err != nil {
			return nil, fmt.Errorf("cannot marshal CBOR request for command 0x%02X: %w", byte(cmd), err)
		}
		payload = append(payload, b...)
	}

	reply, err := c.conn.RoundTrip(payload, c.timeoutMS)
	if err != nil {
		return nil, err
	}
	if len(reply) == 0 {
		return nil, ErrEmptyReply
	}
	if status := StatusCode(reply[0]); status != StatusOK {
		return nil, status
	}

	return reply[1:], nil
}

// GetInfo performs the AuthenticatorGetInfo operation.
func (c *CTAPHIDClient) GetInfo() (*AuthenticatorGetInfoResponse, error) {
	body, err := c.cbor(CMDAuthenticatorGetInfo, nil)
	if err != nil {
		return nil, err
	}

	var resp *AuthenticatorGetInfoResponse
	if err := cbor.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	return resp, nil
}

// GetPINRetries retrieves the number of remaining PIN attempts and whether a
// power cycle is required before another attempt.
func (c *CTAPHIDClient) GetPINRetries(
	pinUvAuthProtocolType PinUvAuthProtocolType,
) (uint, bool, error) {
	req := &AuthenticatorClientPINRequest{
		// While this parameter is unnecessary, SoloKeys Solo 2 requires it for some reason.
		PinUvAuthProtocol: pinUvAuthProtocolType,
		SubCommand:        ClientPINSubCommandGetPINRetries,
	}

	body, err := c.cbor(CMDAuthenticatorClientPIN, req)
	if err != nil {
		return 0, false, err
	}

	var resp *AuthenticatorClientPINResponse
	if err := cbor.Unmarshal(body, &resp); err != nil {
		return 0, false, err
	}

	return resp.PinRetries, resp.PowerCycleState, nil
}

// GetUVRetries retrieves the number of remaining user verification attempts.
func (c *CTAPHIDClient) GetUVRetries() (uint, error) {
	req := &AuthenticatorClientPINRequest{
		SubCommand: ClientPINSubCommandGetUVRetries,
	}

	body, err := c.cbor(CMDAuthenticatorClientPIN, req)
	if err != nil {
		return 0, err
	}

	var resp *AuthenticatorClientPINResponse
	if err := cbor.Unmarshal(body, &resp); err != nil {
		return 0, err
	}

	return resp.UvRetries, nil
}

// GetKeyAgreement retrieves the authenticator's key-agreement key for the
// specified PIN/UV auth protocol.
func (c *CTAPHIDClient) GetKeyAgreement(
	pinUvAuthProtocolType PinUvAuthProtocolType,
) (key.Key, error) {
	req := &AuthenticatorClientPINRequest{
		PinUvAuthProtocol: pinUvAuthProtocolType,
		SubCommand:        ClientPINSubCommandGetKeyAgreement,
	}

	body, err := c.cbor(CMDAuthenticatorClientPIN, req)
	if err != nil {
		return nil, fmt.Errorf("keyAgreement CBOR request failed: %w", err)
	}

	var resp *AuthenticatorClientPINResponse
	if err := cbor.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("cannot unmarshal keyAgreement CBOR response: %w", err)
	}

	return resp.KeyAgreement, nil
}

// SetPIN sets the initial PIN on the authenticator.
func (c *CTAPHIDClient) SetPIN(
	pinUvAuthProtocolType PinUvAuthProtocolType,
	keyAgreement key.Key,
	pin string,
) error {
	protocol, err := NewPinUvAuthProtocol(pinUvAuthProtocolType)
	if err != nil {
		return err
	}

	platformCoseKey, sharedSecret, err := protocol.Encapsulate(keyAgreement)
	if err != nil {
		return err
	}
	defer wipe(sharedSecret)

	// Pad the PIN with zero bytes to 64 bytes before encryption.
	pinBytes := make([]byte, 64)
	copy(pinBytes, pin)
	defer wipe(pinBytes)

	ciphertext, err := protocol.Encrypt(sharedSecret, pinBytes)
	if err != nil {
		return err
	}

	req := &AuthenticatorClientPINRequest{
		PinUvAuthProtocol: protocol.Type,
		SubCommand:        ClientPINSubCommandSetPIN,
		KeyAgreement:      platformCoseKey,
		NewPinEnc:         ciphertext,
		PinUvAuthParam: Authenticate(
			pinUvAuthProtocolType,
			sharedSecret,
			ciphertext,
		),
	}

	if _, err := c.cbor(CMDAuthenticatorClientPIN, req); err != nil {
		return err
	}

	return nil
}

// ChangePIN replaces the current PIN with a new one.
func (c *CTAPHIDClient) ChangePIN(
	pinUvAuthProtocolType PinUvAuthProtocolType,
	keyAgreement key.Key,
	currentPin string,
	newPin string,
) error {
	protocol, err := NewPinUvAuthProtocol(pinUvAuthProtocolType)
	if err != nil {
		return err
	}

	platformCoseKey, sharedSecret, err := protocol.Encapsulate(keyAgreement)
	if err != nil {
		return err
	}
	defer wipe(sharedSecret)

	pinHash := hashPIN(currentPin)
	defer wipe(pinHash)

	pinHashEnc, err := protocol.Encrypt(sharedSecret, pinHash)
	if err != nil {
		return err
	}

	newPinBytes := make([]byte, 64)
	copy(newPinBytes, newPin)
	defer wipe(newPinBytes)

	newPinEnc, err := protocol.Encrypt(sharedSecret, newPinBytes)
	if err != nil {
		return err
	}

	req := &AuthenticatorClientPINRequest{
		PinUvAuthProtocol: protocol.Type,
		SubCommand:        ClientPINSubCommandChangePIN,
		KeyAgreement:      platformCoseKey,
		PinHashEnc:        pinHashEnc,
		NewPinEnc:         newPinEnc,
		PinUvAuthParam: Authenticate(
			pinUvAuthProtocolType,
			sharedSecret,
			slices.Concat(newPinEnc, pinHashEnc),
		),
	}

	if _, err := c.cbor(CMDAuthenticatorClientPIN, req); err != nil {
		return err
	}

	return nil
}

// GetPinToken allows getting a PinUvAuthToken (superseded by GetPinUvAuthTokenUsingUvWithPermissions or
// GetPinUvAuthTokenUsingPinWithPermissions, thus for backwards compatibility only).
func (c *CTAPHIDClient) GetPinToken(
	pinUvAuthProtocolType PinUvAuthProtocolType,
	keyAgreement key.Key,
	pin string,
) ([]byte, error) {
	protocol, err := NewPinUvAuthProtocol(pinUvAuthProtocolType)
	if err != nil {
		return nil, err
	}

	platformCoseKey, sharedSecret, err := protocol.Encapsulate(keyAgreement)
	if err != nil {
		return nil, err
	}
	defer wipe(sharedSecret)

	pinHash := hashPIN(pin)
	defer wipe(pinHash)

	pinHashEnc, err := protocol.Encrypt(sharedSecret, pinHash)
	if err != nil {
		return nil, err
	}

	req := &AuthenticatorClientPINRequest{
		PinUvAuthProtocol: protocol.Type,
		SubCommand:        ClientPINSubCommandGetPinToken,
		KeyAgreement:      platformCoseKey,
		PinHashEnc:        pinHashEnc,
	}

	body, err := c.cbor(CMDAuthenticatorClientPIN, req)
	if err != nil {
		return nil, err
	}

	var resp *AuthenticatorClientPINResponse
	if err := cbor.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	return protocol.Decrypt(sharedSecret, resp.PinUvAuthToken)
}

// GetPinUvAuthTokenUsingUvWithPermissions allows getting a PinUvAuthToken with specific permissions using User Verification.
func (c *CTAPHIDClient) GetPinUvAuthTokenUsingUvWithPermissions(
	pinUvAuthProtocolType PinUvAuthProtocolType,
	keyAgreement key.Key,
	permissions Permission,
	rpID string,
) ([]byte, error) {
	protocol, err := NewPinUvAuthProtocol(pinUvAuthProtocolType)
	if err != nil {
		return nil, err
	}

	platformCoseKey, sharedSecret, err := protocol.Encapsulate(keyAgreement)
	if err != nil {
		return nil, err
	}
	defer wipe(sharedSecret)

	req := &AuthenticatorClientPINRequest{
		PinUvAuthProtocol: protocol.Type,
		SubCommand:        ClientPINSubCommandGetPinUvAuthTokenUsingUvWithPermissions,
		KeyAgreement:      platformCoseKey,
		Permissions:       permissions,
		RPID:              rpID,
	}

	body, err := c.cbor(CMDAuthenticatorClientPIN, req)
	if err != nil {
		return nil, err
	}

	var resp *AuthenticatorClientPINResponse
	if err := cbor.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	return protocol.Decrypt(sharedSecret, resp.PinUvAuthToken)
}

// GetPinUvAuthTokenUsingPinWithPermissions allows getting a PinUvAuthToken with specific permissions using PIN.
func (c *CTAPHIDClient) GetPinUvAuthTokenUsingPinWithPermissions(
	pinUvAuthProtocolType PinUvAuthProtocolType,
	keyAgreement key.Key,
	pin string,
	permissions Permission,
	rpID string,
) ([]byte, error) {
	protocol, err := NewPinUvAuthProtocol(pinUvAuthProtocolType)
	if err != nil {
		return nil, err
	}

	platformCoseKey, sharedSecret, err := protocol.Encapsulate(keyAgreement)
	if err != nil {
		return nil, err
	}
	defer wipe(sharedSecret)

	pinHash := hashPIN(pin)
	defer wipe(pinHash)

	pinHashEnc, err := protocol.Encrypt(sharedSecret, pinHash)
	if err != nil {
		return nil, err
	}

	req := &AuthenticatorClientPINRequest{
		PinUvAuthProtocol: protocol.Type,
		SubCommand:        ClientPINSubCommandGetPinUvAuthTokenUsingPinWithPermissions,
		KeyAgreement:      platformCoseKey,
		PinHashEnc:        pinHashEnc,
		Permissions:       permissions,
		RPID:              rpID,
	}

	body, err := c.cbor(CMDAuthenticatorClientPIN, req)
	if err != nil {
		return nil, err
	}

	var resp *AuthenticatorClientPINResponse
	if err := cbor.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	return protocol.Decrypt(sharedSecret, resp.PinUvAuthToken)
}

// hashPIN returns the left 16 bytes of SHA-256 over the PIN.
func hashPIN(pin string) []byte {
	digest := sha256.Sum256([]byte(pin))
	return digest[:16]
}

func (c *CTAPHIDClient) credentialManagementCommand(preview bool) Command {
	if preview {
		return CMDPrototypeAuthenticatorCredentialManagement
	}
	return CMDAuthenticatorCredentialManagement
}

// GetCredsMetadata retrieves metadata about credential management.
func (c *CTAPHIDClient) GetCredsMetadata(
	preview bool,
	pinUvAuthProtocolType PinUvAuthProtocolType,
	pinUvAuthToken []byte,
) (*AuthenticatorCredentialManagementResponse, error) {
	req := &AuthenticatorCredentialManagementRequest{
		SubCommand:        CredentialManagementSubCommandGetCredsMetadata,
		PinUvAuthProtocol: pinUvAuthProtocolType,
		PinUvAuthParam: Authenticate(
			pinUvAuthProtocolType,
			pinUvAuthToken,
			[]byte{byte(CredentialManagementSubCommandGetCredsMetadata)},
		),
	}

	body, err := c.cbor(c.credentialManagementCommand(preview), req)
	if err != nil {
		return nil, err
	}

	var resp *AuthenticatorCredentialManagementResponse
	if err := cbor.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	return resp, nil
}

// EnumerateRPs lists the Relying Parties with resident credentials on the authenticator.
func (c *CTAPHIDClient) EnumerateRPs(
	preview bool,
	pinUvAuthProtocolType PinUvAuthProtocolType,
	pinUvAuthToken []byte,
) iter.Seq2[*AuthenticatorCredentialManagementResponse, error] {
	return func(yield func(*AuthenticatorCredentialManagementResponse, error) bool) {
		reqBegin := &AuthenticatorCredentialManagementRequest{
			SubCommand:        CredentialManagementSubCommandEnumerateRPsBegin,
			PinUvAuthProtocol: pinUvAuthProtocolType,
			PinUvAuthParam: Authenticate(
				pinUvAuthProtocolType,
				pinUvAuthToken,
				[]byte{byte(CredentialManagementSubCommandEnumerateRPsBegin)},
			),
		}

		bodyBegin, err := c.cbor(c.credentialManagementCommand(preview), reqBegin)
		if err != nil {
			// A device with no resident credentials answers "no credentials"
			// rather than an empty enumeration.
			if errors.Is(err, StatusNoCredentials) {
				return
			}
			yield(nil, err)
			return
		}

		var respBegin *AuthenticatorCredentialManagementResponse
		if err := cbor.Unmarshal(bodyBegin, &respBegin); err != nil {
			yield(nil, err)
			return
		}

		if respBegin.TotalRPs == 0 {
			return
		}

		if !yield(respBegin, nil) {
			return
		}

		for i := uint(1); i < respBegin.TotalRPs; i++ {
			reqNext := &AuthenticatorCredentialManagementRequest{
				SubCommand: CredentialManagementSubCommandEnumerateRPsGetNextRP,
			}

			bodyNext, err := c.cbor(c.credentialManagementCommand(preview), reqNext)
			if err != nil {
				yield(nil, err)
				return
			}

			var respNext *AuthenticatorCredentialManagementResponse
			if err := cbor.Unmarshal(bodyNext, &respNext); err != nil {
				yield(nil, err)
				return
			}

			if !yield(respNext, nil) {
				return
			}
		}
	}
}

// EnumerateCredentials lists the resident credentials bound to the Relying
// Party identified by rpIDHash.
func (c *CTAPHIDClient) EnumerateCredentials(
	preview bool,
	pinUvAuthProtocolType PinUvAuthProtocolType,
	pinUvAuthToken []byte,
	rpIDHash []byte,
) iter.Seq2[*AuthenticatorCredentialManagementResponse, error] {
	return func(yield func(*AuthenticatorCredentialManagementResponse, error) bool) {
		subCommandParams := CredentialManagementSubCommandParams{RPIDHash: rpIDHash}

		bSubCommandParams, err := c.cborEncMode.Marshal(subCommandParams)
		if err != nil {
			yield(nil, err)
			return
		}

		reqBegin := &AuthenticatorCredentialManagementRequest{
			SubCommand:        CredentialManagementSubCommandEnumerateCredentialsBegin,
			SubCommandParams:  subCommandParams,
			PinUvAuthProtocol: pinUvAuthProtocolType,
			PinUvAuthParam: Authenticate(
				pinUvAuthProtocolType,
				pinUvAuthToken,
				slices.Concat(
					[]byte{byte(CredentialManagementSubCommandEnumerateCredentialsBegin)},
					bSubCommandParams,
				),
			),
		}

		bodyBegin, err := c.cbor(c.credentialManagementCommand(preview), reqBegin)
		if err != nil {
			if errors.Is(err, StatusNoCredentials) {
				return
			}
			yield(nil, err)
			return
		}

		var respBegin *AuthenticatorCredentialManagementResponse
		if err := cbor.Unmarshal(bodyBegin, &respBegin); err != nil {
			yield(nil, err)
			return
		}

		if respBegin.TotalCredentials == 0 {
			return
		}

		if !yield(respBegin, nil) {
			return
		}

		for i := uint(1); i < respBegin.TotalCredentials; i++ {
			reqNext := &AuthenticatorCredentialManagementRequest{
				SubCommand: CredentialManagementSubCommandEnumerateCredentialsGetNextCredential,
			}

			bodyNext, err := c.cbor(c.credentialManagementCommand(preview), reqNext)
			if err != nil {
				yield(nil, err)
				return
			}

			var respNext *AuthenticatorCredentialManagementResponse
			if err := cbor.Unmarshal(bodyNext, &respNext); err != nil {
				yield(nil, err)
				return
			}

			if !yield(respNext, nil) {
				return
			}
		}
	}
}

// LargeBlobs reads or writes one fragment of the serialized large-blob
// array. For writes carrying a pinUvAuthToken, the 70-byte MAC input
// (32 bytes of 0xFF, the command id, a zero byte, the little-endian 32-bit
// offset, and SHA-256 of the fragment) is authenticated with the token.
func (c *CTAPHIDClient) LargeBlobs(
	pinUvAuthProtocolType PinUvAuthProtocolType,
	pinUvAuthToken []byte,
	get uint,
	set []byte,
	offset uint,
	length uint,
) (*AuthenticatorLargeBlobsResponse, error) {
	if uint64(offset) > math.MaxUint32 {
		return nil, ErrLargeBlobOffset
	}

	req := &AuthenticatorLargeBlobsRequest{
		Get:    get,
		Set:    set,
		Offset: offset,
		Length: length,
	}

	if pinUvAuthToken != nil {
		padding := make([]byte, 32)
		for i := range padding {
			padding[i] = 0xff
		}

		offsetBin := make([]byte, 4)
		binary.LittleEndian.PutUint32(offsetBin, uint32(offset))

		fragmentDigest := sha256.Sum256(set)

		macInput := slices.Concat(
			padding,
			[]byte{byte(CMDAuthenticatorLargeBlobs), 0x00},
			offsetBin,
			fragmentDigest[:],
		)
		defer wipe(macInput)

		req.PinUvAuthParam = Authenticate(pinUvAuthProtocolType, pinUvAuthToken, macInput)
		req.PinUvAuthProtocol = pinUvAuthProtocolType
	}

	body, err := c.cbor(CMDAuthenticatorLargeBlobs, req)
	if err != nil {
		return nil, err
	}

	if get > 0 {
		var resp *AuthenticatorLargeBlobsResponse
		if err := cbor.Unmarshal(body, &resp); err != nil {
			return nil, err
		}

		return resp, nil
	}

	return nil, nil
}

// configPinUvAuthParam computes the authenticatorConfig MAC: 32 bytes of
// 0xFF, the command id, the sub-command, and its serialized parameters.
func configPinUvAuthParam(
	pinUvAuthProtocolType PinUvAuthProtocolType,
	pinUvAuthToken []byte,
	subCommand ConfigSubCommand,
	bSubCommandParams []byte,
) []byte {
	padding := make([]byte, 32)
	for i := range padding {
		padding[i] = 0xff
	}

	return Authenticate(
		pinUvAuthProtocolType,
		pinUvAuthToken,
		slices.Concat(
			padding,
			[]byte{byte(CMDAuthenticatorConfig), byte(subCommand)},
			bSubCommandParams,
		),
	)
}

// EnableEnterpriseAttestation enables enterprise attestation. A nil token
// sends the request unauthenticated, which the authenticator may reject
// with a pinRequired status.
func (c *CTAPHIDClient) EnableEnterpriseAttestation(
	pinUvAuthProtocolType PinUvAuthProtocolType,
	pinUvAuthToken []byte,
) error {
	req := &AuthenticatorConfigRequest{
		SubCommand: ConfigSubCommandEnableEnterpriseAttestation,
	}

	if pinUvAuthToken != nil {
		req.PinUvAuthProtocol = pinUvAuthProtocolType
		req.PinUvAuthParam = configPinUvAuthParam(
			pinUvAuthProtocolType,
			pinUvAuthToken,
			ConfigSubCommandEnableEnterpriseAttestation,
			nil,
		)
	}

	if _, err := c.cbor(CMDAuthenticatorConfig, req); err != nil {
		return err
	}

	return nil
}

// ToggleAlwaysUV toggles the Always UV setting.
func (c *CTAPHIDClient) ToggleAlwaysUV(
	pinUvAuthProtocolType PinUvAuthProtocolType,
	pinUvAuthToken []byte,
) error {
	req := &AuthenticatorConfigRequest{
		SubCommand: ConfigSubCommandToggleAlwaysUv,
	}

	if pinUvAuthToken != nil {
		req.PinUvAuthProtocol = pinUvAuthProtocolType
		req.PinUvAuthParam = configPinUvAuthParam(
			pinUvAuthProtocolType,
			pinUvAuthToken,
			ConfigSubCommandToggleAlwaysUv,
			nil,
		)
	}

	if _, err := c.cbor(CMDAuthenticatorConfig, req); err != nil {
		return err
	}

	return nil
}

// SetMinPINLength sets the minimum PIN length and related policies.
func (c *CTAPHIDClient) SetMinPINLength(
	pinUvAuthProtocolType PinUvAuthProtocolType,
	pinUvAuthToken []byte,
	newMinPINLength uint,
	minPinLengthRPIDs []string,
	forceChangePin bool,
	pinComplexityPolicy bool,
) error {
	subCommandParams := &SetMinPINLengthConfigSubCommandParams{
		NewMinPINLength:     newMinPINLength,
		MinPinLengthRPIDs:   minPinLengthRPIDs,
		ForceChangePin:      forceChangePin,
		PinComplexityPolicy: pinComplexityPolicy,
	}

	req := &AuthenticatorConfigRequest{
		SubCommand:       ConfigSubCommandSetMinPINLength,
		SubCommandParams: subCommandParams,
	}

	if pinUvAuthToken != nil {
		bSubCommandParams, err := c.cborEncMode.Marshal(subCommandParams)
		if err != nil {
			return err
		}

		req.PinUvAuthProtocol = pinUvAuthProtocolType
		req.PinUvAuthParam = configPinUvAuthParam(
			pinUvAuthProtocolType,
			pinUvAuthToken,
			ConfigSubCommandSetMinPINLength,
			bSubCommandParams,
		)
	}

	if _, err := c.cbor(CMDAuthenticatorConfig, req); err != nil {
		return err
	}

	return nil
}

// Reset resets the authenticator to factory defaults.
func (c *CTAPHIDClient) Reset() error {
	if _, err := c.cbor(CMDAuthenticatorReset, nil); err != nil {
		return err
	}

	return nil
}
