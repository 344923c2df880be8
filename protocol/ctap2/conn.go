package ctap2

import "io"

// Conn is the message transport between the CTAP2 client and an
// authenticator. Implementations exchange whole CTAP CBOR payloads; framing,
// channel management, and keepalives are theirs to handle.
type Conn interface {
	io.Closer

	// RoundTrip writes one CTAP2 command payload (command byte followed by
	// its CBOR-encoded parameters) and returns the raw reply, status byte
	// included. At most one request is in flight at a time. timeoutMS bounds
	// the wait for the reply in milliseconds; a negative value waits
	// indefinitely.
	RoundTrip(payload []byte, timeoutMS int) ([]byte, error)
}
