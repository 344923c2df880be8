package fido2

import (
	"bytes"
	"crypto/ecdh"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"slices"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/ldclabs/cose/key"
	coseecdh "github.com/ldclabs/cose/key/ecdh"
	"github.com/stretchr/testify/require"

	"github.com/SigmaG33/libfido2/protocol/ctap2"
	"github.com/SigmaG33/libfido2/protocol/ctap2/pin/protocolone"
)

// fakeRP is one Relying Party with resident credentials, each represented by
// its large-blob key.
type fakeRP struct {
	idHash        []byte
	largeBlobKeys [][]byte
}

// fakeAuthenticator is an in-memory authenticator implementing ctap2.Conn.
// It speaks PIN/UV auth protocol one and enforces the same wire rules a real
// device would: sequential write offsets, the per-fragment write MAC, and
// the array integrity trailer.
type fakeAuthenticator struct {
	t       *testing.T
	encMode cbor.EncMode

	info        *ctap2.AuthenticatorGetInfoResponse
	pin         string
	requireAuth bool
	token       []byte

	stored       []byte
	pending      []byte
	pendingTotal uint

	rps       []fakeRP
	rpIndex   int
	credRP    *fakeRP
	credIndex int

	reads           int
	lastPermissions ctap2.Permission
	configOps       []ctap2.ConfigSubCommand

	authPriv *ecdh.PrivateKey
	closed   bool
}

func newFakeAuthenticator(t *testing.T) *fakeAuthenticator {
	encMode, err := cbor.CTAP2EncOptions().EncMode()
	require.NoError(t, err)

	f := &fakeAuthenticator{
		t:       t,
		encMode: encMode,
		token:   bytes.Repeat([]byte{0x42}, 32),
		info: &ctap2.AuthenticatorGetInfoResponse{
			Versions:           []string{"FIDO_2_0", "FIDO_2_1"},
			MaxMsgSize:         1200,
			PinUvAuthProtocols: []ctap2.PinUvAuthProtocolType{ctap2.PinUvAuthProtocolTypeOne},
			Options: map[ctap2.Option]bool{
				ctap2.OptionLargeBlobs: true,
			},
		},
	}
	f.stored = serializeArray(t, nil)

	return f
}

// withPIN sets a PIN and makes the fake demand per-fragment authorization on
// large-blob writes.
func (f *fakeAuthenticator) withPIN(pin string) *fakeAuthenticator {
	f.pin = pin
	f.requireAuth = true
	f.info.Options[ctap2.OptionClientPin] = true
	f.info.Options[ctap2.OptionPinUvAuthToken] = true
	return f
}

// withResidentCredentials enables credential management and seeds the
// resident credential listing.
func (f *fakeAuthenticator) withResidentCredentials(rps ...fakeRP) *fakeAuthenticator {
	f.rps = rps
	f.info.Options[ctap2.OptionCredentialManagement] = true
	return f
}

// serializeArray builds the wire form of a large-blob array: the CBOR body
// followed by the first 16 bytes of its SHA-256.
func serializeArray(t *testing.T, entries []cbor.RawMessage) []byte {
	encMode, err := cbor.CTAP2EncOptions().EncMode()
	require.NoError(t, err)

	if entries == nil {
		entries = []cbor.RawMessage{}
	}
	body, err := encMode.Marshal(entries)
	require.NoError(t, err)

	digest := sha256.Sum256(body)
	return append(body, digest[:ctap2.LargeBlobDigestLength]...)
}

// parseStoredEntries splits a serialized array back into its raw entries.
func parseStoredEntries(t *testing.T, stored []byte) []cbor.RawMessage {
	require.Greater(t, len(stored), ctap2.LargeBlobDigestLength)

	var entries []cbor.RawMessage
	require.NoError(t, cbor.Unmarshal(stored[:len(stored)-ctap2.LargeBlobDigestLength], &entries))
	return entries
}

// sealedEntry encrypts data under key and returns the entry's raw CBOR form.
func sealedEntry(t *testing.T, key []byte, data []byte) cbor.RawMessage {
	blob, err := ctap2.EncryptLargeBlob(key, data)
	require.NoError(t, err)

	encMode, err := cbor.CTAP2EncOptions().EncMode()
	require.NoError(t, err)

	raw, err := encMode.Marshal(blob)
	require.NoError(t, err)
	return raw
}

func (f *fakeAuthenticator) Close() error {
	f.closed = true
	return nil
}

func (f *fakeAuthenticator) RoundTrip(payload []byte, _ int) ([]byte, error) {
	require.NotEmpty(f.t, payload)

	cmd, body := ctap2.Command(payload[0]), payload[1:]
	switch cmd {
	case ctap2.CMDAuthenticatorGetInfo:
		return f.ok(f.info)
	case ctap2.CMDAuthenticatorClientPIN:
		return f.clientPIN(body)
	case ctap2.CMDAuthenticatorLargeBlobs:
		return f.largeBlobs(body)
	case ctap2.CMDAuthenticatorCredentialManagement:
		return f.credentialManagement(body)
	case ctap2.CMDAuthenticatorConfig:
		return f.config(body)
	default:
		return f.status(ctap2.StatusInvalidCommand)
	}
}

func (f *fakeAuthenticator) status(s ctap2.StatusCode) ([]byte, error) {
	return []byte{byte(s)}, nil
}

func (f *fakeAuthenticator) ok(v any) ([]byte, error) {
	b, err := f.encMode.Marshal(v)
	require.NoError(f.t, err)
	return append([]byte{byte(ctap2.StatusOK)}, b...), nil
}

func (f *fakeAuthenticator) sharedSecret(platformKey key.Key) []byte {
	pub, err := coseecdh.KeyToPublic(platformKey)
	require.NoError(f.t, err)

	z, err := f.authPriv.ECDH(pub)
	require.NoError(f.t, err)

	return protocolone.KDF(z)
}

func (f *fakeAuthenticator) checkPinHash(shared, pinHashEnc []byte) bool {
	pinHash, err := protocolone.Decrypt(shared, pinHashEnc)
	require.NoError(f.t, err)

	expected := sha256.Sum256([]byte(f.pin))
	return hmac.Equal(pinHash, expected[:16])
}

func (f *fakeAuthenticator) clientPIN(body []byte) ([]byte, error) {
	var req ctap2.AuthenticatorClientPINRequest
	require.NoError(f.t, cbor.Unmarshal(body, &req))

	switch req.SubCommand {
	case ctap2.ClientPINSubCommandGetPINRetries:
		return f.ok(map[int]any{3: uint(8)})

	case ctap2.ClientPINSubCommandGetKeyAgreement:
		if f.authPriv == nil {
			priv, err := ecdh.P256().GenerateKey(rand.Reader)
			require.NoError(f.t, err)
			f.authPriv = priv
		}
		coseKey, err := coseecdh.KeyFromPublic(f.authPriv.PublicKey())
		require.NoError(f.t, err)
		return f.ok(map[int]any{1: coseKey})

	case ctap2.ClientPINSubCommandSetPIN:
		shared := f.sharedSecret(req.KeyAgreement)
		if !hmac.Equal(protocolone.Authenticate(shared, req.NewPinEnc), req.PinUvAuthParam) {
			return f.status(ctap2.StatusPinAuthInvalid)
		}
		padded, err := protocolone.Decrypt(shared, req.NewPinEnc)
		require.NoError(f.t, err)
		f.pin = string(bytes.TrimRight(padded, "\x00"))
		f.info.Options[ctap2.OptionClientPin] = true
		return f.status(ctap2.StatusOK)

	case ctap2.ClientPINSubCommandChangePIN:
		shared := f.sharedSecret(req.KeyAgreement)
		mac := protocolone.Authenticate(shared, slices.Concat(req.NewPinEnc, req.PinHashEnc))
		if !hmac.Equal(mac, req.PinUvAuthParam) {
			return f.status(ctap2.StatusPinAuthInvalid)
		}
		if !f.checkPinHash(shared, req.PinHashEnc) {
			return f.status(ctap2.StatusPinInvalid)
		}
		padded, err := protocolone.Decrypt(shared, req.NewPinEnc)
		require.NoError(f.t, err)
		f.pin = string(bytes.TrimRight(padded, "\x00"))
		return f.status(ctap2.StatusOK)

	case ctap2.ClientPINSubCommandGetPinToken,
		ctap2.ClientPINSubCommandGetPinUvAuthTokenUsingPinWithPermissions:
		shared := f.sharedSecret(req.KeyAgreement)
		if !f.checkPinHash(shared, req.PinHashEnc) {
			return f.status(ctap2.StatusPinInvalid)
		}
		f.lastPermissions = req.Permissions
		tokenEnc, err := protocolone.Encrypt(shared, f.token)
		require.NoError(f.t, err)
		return f.ok(map[int]any{2: tokenEnc})

	default:
		return f.status(ctap2.StatusInvalidSubcommand)
	}
}

func (f *fakeAuthenticator) largeBlobs(body []byte) ([]byte, error) {
	var req ctap2.AuthenticatorLargeBlobsRequest
	require.NoError(f.t, cbor.Unmarshal(body, &req))

	if req.Get > 0 {
		f.reads++
		offset := int(req.Offset)
		require.LessOrEqual(f.t, offset, len(f.stored))
		end := min(offset+int(req.Get), len(f.stored))
		return f.ok(map[int]any{1: f.stored[offset:end]})
	}

	if f.requireAuth {
		if req.PinUvAuthParam == nil {
			return f.status(ctap2.StatusPinRequired)
		}

		macInput := make([]byte, 0, 70)
		macInput = append(macInput, bytes.Repeat([]byte{0xff}, 32)...)
		macInput = append(macInput, byte(ctap2.CMDAuthenticatorLargeBlobs), 0x00)
		macInput = binary.LittleEndian.AppendUint32(macInput, uint32(req.Offset))
		fragmentDigest := sha256.Sum256(req.Set)
		macInput = append(macInput, fragmentDigest[:]...)

		if !hmac.Equal(protocolone.Authenticate(f.token, macInput), req.PinUvAuthParam) {
			return f.status(ctap2.StatusPinAuthInvalid)
		}
	}

	if req.Offset == 0 {
		if req.Length == 0 {
			return f.status(ctap2.StatusInvalidParameter)
		}
		f.pending = nil
		f.pendingTotal = req.Length
	} else if uint(len(f.pending)) != req.Offset {
		return f.status(ctap2.StatusInvalidSeq)
	}

	f.pending = append(f.pending, req.Set...)
	if uint(len(f.pending)) > f.pendingTotal {
		return f.status(ctap2.StatusInvalidParameter)
	}
	if uint(len(f.pending)) == f.pendingTotal {
		arrayBody := f.pending[:len(f.pending)-ctap2.LargeBlobDigestLength]
		digest := sha256.Sum256(arrayBody)
		if !hmac.Equal(digest[:ctap2.LargeBlobDigestLength], f.pending[len(arrayBody):]) {
			return f.status(ctap2.StatusIntegrityFailure)
		}
		f.stored = f.pending
		f.pending = nil
		f.pendingTotal = 0
	}

	return f.status(ctap2.StatusOK)
}

func (f *fakeAuthenticator) credentialManagement(body []byte) ([]byte, error) {
	var req ctap2.AuthenticatorCredentialManagementRequest
	require.NoError(f.t, cbor.Unmarshal(body, &req))

	switch req.SubCommand {
	case ctap2.CredentialManagementSubCommandEnumerateRPsBegin:
		if f.requireAuth {
			expected := protocolone.Authenticate(f.token, []byte{byte(req.SubCommand)})
			if !hmac.Equal(expected, req.PinUvAuthParam) {
				return f.status(ctap2.StatusPinAuthInvalid)
			}
		}
		if len(f.rps) == 0 {
			return f.status(ctap2.StatusNoCredentials)
		}
		f.rpIndex = 1
		return f.ok(map[int]any{4: f.rps[0].idHash, 5: uint(len(f.rps))})

	case ctap2.CredentialManagementSubCommandEnumerateRPsGetNextRP:
		require.Less(f.t, f.rpIndex, len(f.rps))
		rp := f.rps[f.rpIndex]
		f.rpIndex++
		return f.ok(map[int]any{4: rp.idHash})

	case ctap2.CredentialManagementSubCommandEnumerateCredentialsBegin:
		var target *fakeRP
		for i := range f.rps {
			if bytes.Equal(f.rps[i].idHash, req.SubCommandParams.RPIDHash) {
				target = &f.rps[i]
				break
			}
		}
		require.NotNil(f.t, target)
		if len(target.largeBlobKeys) == 0 {
			return f.status(ctap2.StatusNoCredentials)
		}
		f.credRP = target
		f.credIndex = 1
		return f.ok(map[int]any{9: uint(len(target.largeBlobKeys)), 11: target.largeBlobKeys[0]})

	case ctap2.CredentialManagementSubCommandEnumerateCredentialsGetNextCredential:
		require.NotNil(f.t, f.credRP)
		require.Less(f.t, f.credIndex, len(f.credRP.largeBlobKeys))
		largeBlobKey := f.credRP.largeBlobKeys[f.credIndex]
		f.credIndex++
		return f.ok(map[int]any{11: largeBlobKey})

	default:
		return f.status(ctap2.StatusInvalidSubcommand)
	}
}

func (f *fakeAuthenticator) config(body []byte) ([]byte, error) {
	var req ctap2.AuthenticatorConfigRequest
	require.NoError(f.t, cbor.Unmarshal(body, &req))

	if f.requireAuth && req.PinUvAuthParam == nil {
		return f.status(ctap2.StatusPinRequired)
	}

	if req.PinUvAuthParam != nil && req.SubCommand != ctap2.ConfigSubCommandSetMinPINLength {
		macInput := slices.Concat(
			bytes.Repeat([]byte{0xff}, 32),
			[]byte{byte(ctap2.CMDAuthenticatorConfig), byte(req.SubCommand)},
		)
		if !hmac.Equal(protocolone.Authenticate(f.token, macInput), req.PinUvAuthParam) {
			return f.status(ctap2.StatusPinAuthInvalid)
		}
	}

	f.configOps = append(f.configOps, req.SubCommand)
	return f.status(ctap2.StatusOK)
}

func newTestDevice(t *testing.T, f *fakeAuthenticator) *Device {
	dev, err := NewDevice(f, -1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dev.Close() })
	return dev
}
