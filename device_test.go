package fido2

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SigmaG33/libfido2/protocol/ctap2"
)

func TestNewDeviceReadsInfo(t *testing.T) {
	f := newFakeAuthenticator(t)
	dev := newTestDevice(t, f)

	info := dev.Info()
	require.NotNil(t, info)
	assert.Contains(t, info.Versions, "FIDO_2_1")
	assert.True(t, info.Options[ctap2.OptionLargeBlobs])
}

func TestDeviceCloseIsIdempotent(t *testing.T) {
	f := newFakeAuthenticator(t)
	dev, err := NewDevice(f, -1)
	require.NoError(t, err)

	require.NoError(t, dev.Close())
	require.NoError(t, dev.Close())
	assert.True(t, f.closed)
}

func TestGetPINRetries(t *testing.T) {
	f := newFakeAuthenticator(t).withPIN("123456")
	dev := newTestDevice(t, f)

	retries, powerCycle, err := dev.GetPINRetries()
	require.NoError(t, err)
	assert.Equal(t, uint(8), retries)
	assert.False(t, powerCycle)
}

func TestGetPINRetriesNotSupported(t *testing.T) {
	dev := newTestDevice(t, newFakeAuthenticator(t))

	_, _, err := dev.GetPINRetries()
	assert.ErrorIs(t, err, ErrNotSupported)
}

func TestSetPIN(t *testing.T) {
	f := newFakeAuthenticator(t)
	f.info.Options[ctap2.OptionClientPin] = false
	dev := newTestDevice(t, f)

	require.NoError(t, dev.SetPIN("123456"))
	assert.Equal(t, "123456", f.pin)
}

func TestSetPINAlreadySet(t *testing.T) {
	f := newFakeAuthenticator(t).withPIN("123456")
	dev := newTestDevice(t, f)

	err := dev.SetPIN("654321")
	assert.ErrorIs(t, err, ErrPinAlreadySet)
}

func TestChangePIN(t *testing.T) {
	f := newFakeAuthenticator(t)
	f.pin = "123456"
	f.info.Options[ctap2.OptionClientPin] = true
	dev := newTestDevice(t, f)

	require.NoError(t, dev.ChangePIN("123456", "654321"))
	assert.Equal(t, "654321", f.pin)
}

func TestChangePINNotSet(t *testing.T) {
	f := newFakeAuthenticator(t)
	f.info.Options[ctap2.OptionClientPin] = false
	dev := newTestDevice(t, f)

	err := dev.ChangePIN("123456", "654321")
	assert.ErrorIs(t, err, ErrPinNotSet)
}

func TestGetPinUvAuthTokenUsingPinWithPermissions(t *testing.T) {
	f := newFakeAuthenticator(t).withPIN("123456")
	dev := newTestDevice(t, f)

	token, err := dev.GetPinUvAuthTokenUsingPinWithPermissions(
		"123456",
		ctap2.PermissionCredentialManagement,
		"",
	)
	require.NoError(t, err)
	assert.Equal(t, f.token, token)
	assert.Equal(t, ctap2.PermissionCredentialManagement, f.lastPermissions)
}

func TestEnumerateRPs(t *testing.T) {
	f := newFakeAuthenticator(t).
		withPIN("123456").
		withResidentCredentials(
			fakeRP{idHash: make([]byte, 32), largeBlobKeys: [][]byte{blobKey}},
		)
	dev := newTestDevice(t, f)

	token, err := dev.GetPinUvAuthTokenUsingPinWithPermissions(
		"123456",
		ctap2.PermissionCredentialManagement,
		"",
	)
	require.NoError(t, err)

	var count int
	for rp, err := range dev.EnumerateRPs(token) {
		require.NoError(t, err)
		require.NotNil(t, rp)
		count++
	}
	assert.Equal(t, 1, count)
}

func TestEnumerateRPsNotSupported(t *testing.T) {
	dev := newTestDevice(t, newFakeAuthenticator(t))

	for _, err := range dev.EnumerateRPs(nil) {
		assert.ErrorIs(t, err, ErrNotSupported)
	}
}

func TestEnableEnterpriseAttestationRetriesWithPIN(t *testing.T) {
	f := newFakeAuthenticator(t).withPIN("123456")
	f.info.Options[ctap2.OptionAuthenticatorConfig] = true
	f.info.Options[ctap2.OptionEnterpriseAttestation] = false
	dev := newTestDevice(t, f)

	// The first, unauthorized attempt is refused with pinRequired; the
	// device then acquires a config-scoped token and retries.
	require.NoError(t, dev.EnableEnterpriseAttestation("123456"))
	assert.Equal(t, []ctap2.ConfigSubCommand{ctap2.ConfigSubCommandEnableEnterpriseAttestation}, f.configOps)
	assert.Equal(t, ctap2.PermissionAuthenticatorConfiguration, f.lastPermissions)
}

func TestEnableEnterpriseAttestationWithoutPIN(t *testing.T) {
	f := newFakeAuthenticator(t).withPIN("123456")
	f.info.Options[ctap2.OptionAuthenticatorConfig] = true
	f.info.Options[ctap2.OptionEnterpriseAttestation] = false
	dev := newTestDevice(t, f)

	err := dev.EnableEnterpriseAttestation("")
	assert.ErrorIs(t, err, ctap2.StatusPinRequired)
}

func TestToggleAlwaysUV(t *testing.T) {
	f := newFakeAuthenticator(t).withPIN("123456")
	f.info.Options[ctap2.OptionAuthenticatorConfig] = true
	f.info.Options[ctap2.OptionAlwaysUv] = false
	dev := newTestDevice(t, f)

	require.NoError(t, dev.ToggleAlwaysUV("123456"))
	assert.Equal(t, []ctap2.ConfigSubCommand{ctap2.ConfigSubCommandToggleAlwaysUv}, f.configOps)
}

func TestConfigNotSupported(t *testing.T) {
	dev := newTestDevice(t, newFakeAuthenticator(t))

	err := dev.ToggleAlwaysUV("123456")
	assert.ErrorIs(t, err, ErrNotSupported)
}

func TestSetMinPINLength(t *testing.T) {
	f := newFakeAuthenticator(t).withPIN("123456")
	f.info.Options[ctap2.OptionAuthenticatorConfig] = true
	dev := newTestDevice(t, f)

	require.NoError(t, dev.SetMinPINLength("123456", 8, nil, false, false))
	assert.Equal(t, []ctap2.ConfigSubCommand{ctap2.ConfigSubCommandSetMinPINLength}, f.configOps)
}

func TestForcePINChange(t *testing.T) {
	f := newFakeAuthenticator(t).withPIN("123456")
	f.info.Options[ctap2.OptionAuthenticatorConfig] = true
	dev := newTestDevice(t, f)

	require.NoError(t, dev.ForcePINChange("123456"))
	assert.Equal(t, []ctap2.ConfigSubCommand{ctap2.ConfigSubCommandSetMinPINLength}, f.configOps)
}
