package ctap2

// Command identifies a CTAP2 authenticator command.
type Command byte

const (
	// CMDAuthenticatorMakeCredential creates a credential.
	CMDAuthenticatorMakeCredential Command = 0x01
	// CMDAuthenticatorGetAssertion produces an assertion.
	CMDAuthenticatorGetAssertion Command = 0x02
	// CMDAuthenticatorGetInfo reports the authenticator's capabilities.
	CMDAuthenticatorGetInfo Command = 0x04
	// CMDAuthenticatorClientPIN carries the clientPIN sub-protocol.
	CMDAuthenticatorClientPIN Command = 0x06
	// CMDAuthenticatorReset performs a factory reset.
	CMDAuthenticatorReset Command = 0x07
	// CMDAuthenticatorGetNextAssertion continues an assertion sequence.
	CMDAuthenticatorGetNextAssertion Command = 0x08
	// CMDAuthenticatorCredentialManagement manages discoverable credentials.
	CMDAuthenticatorCredentialManagement Command = 0x0A
	// CMDAuthenticatorSelection asks the user to touch the authenticator.
	CMDAuthenticatorSelection Command = 0x0B
	// CMDAuthenticatorLargeBlobs reads or writes the serialized large-blob array.
	CMDAuthenticatorLargeBlobs Command = 0x0C
	// CMDAuthenticatorConfig adjusts authenticator configuration.
	CMDAuthenticatorConfig Command = 0x0D
	// CMDPrototypeAuthenticatorCredentialManagement is the CTAP 2.1 preview
	// variant of credential management.
	CMDPrototypeAuthenticatorCredentialManagement Command = 0x41
)
