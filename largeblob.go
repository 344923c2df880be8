package fido2

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"math"
	"slices"

	"github.com/fxamacker/cbor/v2"

	"github.com/SigmaG33/libfido2/protocol/ctap2"
)

const (
	// largeBlobKeyLength is the length of a per-credential large-blob key.
	largeBlobKeyLength = 32
	// maxWireMessage caps the advertised maxMsgSize when deriving the
	// fragment length, for devices that report implausible values.
	maxWireMessage = 2048
)

// requireLargeBlobs checks the largeBlobs option.
func (d *Device) requireLargeBlobs() error {
	if largeBlobs, ok := d.info.Options[ctap2.OptionLargeBlobs]; !ok || !largeBlobs {
		return newErrorMessage(ErrNotSupported, "device doesn't support largeBlobs")
	}
	return nil
}

// maxFragmentLength derives the per-fragment byte budget from the device's
// maxMsgSize, leaving 64 bytes of headroom for the CBOR framing.
func (d *Device) maxFragmentLength() (uint, error) {
	maxMsgSize := d.info.MaxMsgSize
	if maxMsgSize > maxWireMessage {
		maxMsgSize = maxWireMessage
	}
	if maxMsgSize <= 64 {
		return 0, newErrorMessage(ErrInvalidArgument, "device maxMsgSize leaves no room for fragments")
	}
	return maxMsgSize - 64, nil
}

// readLargeBlobArray fetches the serialized large-blob array fragment by
// fragment, verifies its integrity trailer, and splits it into raw CBOR
// entries. A missing, truncated, or corrupt array is reported as empty, the
// way a freshly provisioned authenticator presents itself, so the next
// write repairs storage.
func (d *Device) readLargeBlobArray() ([]cbor.RawMessage, error) {
	maxLen, err := d.maxFragmentLength()
	if err != nil {
		return nil, err
	}

	var serialized []byte

	// A fragment shorter than requested is the last one; a full-length
	// fragment forces another read.
	last := maxLen
	for last == maxLen {
		resp, err := d.ctapClient.LargeBlobs(0, nil, maxLen, nil, uint(len(serialized)), 0)
		if err != nil {
			return nil, err
		}
		if uint(len(resp.Config)) > maxLen {
			return nil, newErrorMessage(ErrReceive, "device returned an oversized fragment")
		}

		serialized = append(serialized, resp.Config...)
		last = uint(len(resp.Config))
	}

	return parseLargeBlobArray(serialized), nil
}

// parseLargeBlobArray validates the truncation digest and decodes the CBOR
// body into its raw entries. Any violation yields an empty array.
func parseLargeBlobArray(serialized []byte) []cbor.RawMessage {
	if len(serialized) <= ctap2.LargeBlobDigestLength {
		return nil
	}

	body := serialized[:len(serialized)-ctap2.LargeBlobDigestLength]
	trailer := serialized[len(serialized)-ctap2.LargeBlobDigestLength:]

	digest := sha256.Sum256(body)
	if subtle.ConstantTimeCompare(digest[:ctap2.LargeBlobDigestLength], trailer) != 1 {
		return nil
	}

	// The serialized form must be a definite-length CBOR array.
	if body[0]>>5 != 4 || body[0]&0x1f == 31 {
		return nil
	}

	var entries []cbor.RawMessage
	if err := cbor.Unmarshal(body, &entries); err != nil {
		return nil
	}

	return entries
}

// findLargeBlob trial-decrypts every decodable entry and returns the index
// and decoded form of the first one that authenticates under key, or -1.
// Decode and decryption failures are expected and never abort the scan.
func findLargeBlob(entries []cbor.RawMessage, key []byte) (int, *ctap2.LargeBlob) {
	for i, raw := range entries {
		var blob ctap2.LargeBlob
		if err := cbor.Unmarshal(raw, &blob); err != nil || !blob.Valid() {
			continue
		}
		if _, err := ctap2.OpenLargeBlob(key, &blob); err == nil {
			return i, &blob
		}
	}
	return -1, nil
}

// writeLargeBlobArray serializes entries, appends the truncation digest, and
// streams the result to the device in fragments, authorizing each fragment
// when the device hands out tokens. The digest travels as its own final
// fragment.
func (d *Device) writeLargeBlobArray(pin string, entries []cbor.RawMessage) error {
	maxLen, err := d.maxFragmentLength()
	if err != nil {
		return err
	}

	if entries == nil {
		entries = []cbor.RawMessage{}
	}
	body, err := d.cborEncMode.Marshal(entries)
	if err != nil {
		return err
	}

	digest := sha256.Sum256(body)
	total := uint(len(body)) + ctap2.LargeBlobDigestLength

	if uint64(total) > math.MaxUint32 {
		return newErrorMessage(ErrInvalidArgument, "serialized large blob array exceeds the protocol offset limit")
	}
	if maxArray := d.info.MaxSerializedLargeBlobArray; maxArray > 0 && total > maxArray {
		return newErrorMessage(
			ErrLargeBlobsTooBig,
			fmt.Sprintf(
				"this device max serialized large blob size is %db while you are trying to save %db",
				maxArray,
				total,
			),
		)
	}

	var token []byte
	if d.canGetUVToken(pin) {
		if token, err = d.getUVToken(ctap2.PermissionLargeBlobWrite, pin); err != nil {
			return err
		}
		defer wipe(token)
	}

	proto := d.protocol()
	offset := uint(0)
	for chunk := range slices.Chunk(body, int(maxLen)) {
		length := uint(0)
		if offset == 0 {
			length = total
		}
		if _, err := d.ctapClient.LargeBlobs(proto, token, 0, chunk, offset, length); err != nil {
			return err
		}
		offset += uint(len(chunk))
	}

	if _, err := d.ctapClient.LargeBlobs(proto, token, 0, digest[:ctap2.LargeBlobDigestLength], offset, 0); err != nil {
		return err
	}

	return nil
}

// LargeBlobGet retrieves the blob sealed under the 32-byte per-credential
// key, returning ErrNotFound when no entry decrypts under it.
func (d *Device) LargeBlobGet(key []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(key) != largeBlobKeyLength {
		return nil, newErrorMessage(ErrInvalidArgument, "large blob key must be 32 bytes")
	}
	if err := d.requireLargeBlobs(); err != nil {
		return nil, err
	}

	entries, err := d.readLargeBlobArray()
	if err != nil {
		return nil, err
	}

	index, blob := findLargeBlob(entries, key)
	if index < 0 {
		return nil, ErrNotFound
	}

	return ctap2.DecryptLargeBlob(key, blob)
}

// LargeBlobPut seals data under the 32-byte per-credential key and stores
// it, replacing an existing entry for the key in place or appending a new
// one. pin may be empty when the device permits unauthenticated writes.
func (d *Device) LargeBlobPut(key, data []byte, pin string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(key) != largeBlobKeyLength {
		return newErrorMessage(ErrInvalidArgument, "large blob key must be 32 bytes")
	}
	if len(data) == 0 {
		return newErrorMessage(ErrInvalidArgument, "refusing to store an empty blob")
	}
	if err := d.requireLargeBlobs(); err != nil {
		return err
	}

	blob, err := ctap2.EncryptLargeBlob(key, data)
	if err != nil {
		return err
	}

	raw, err := d.cborEncMode.Marshal(blob)
	if err != nil {
		return err
	}

	entries, err := d.readLargeBlobArray()
	if err != nil {
		return err
	}

	if index, _ := findLargeBlob(entries, key); index >= 0 {
		entries[index] = raw
	} else {
		entries = append(entries, raw)
	}

	return d.writeLargeBlobArray(pin, entries)
}

// LargeBlobRemove drops the entry sealed under the 32-byte per-credential
// key. Removing a key with no entry succeeds and rewrites the array as-is.
func (d *Device) LargeBlobRemove(key []byte, pin string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(key) != largeBlobKeyLength {
		return newErrorMessage(ErrInvalidArgument, "large blob key must be 32 bytes")
	}
	if err := d.requireLargeBlobs(); err != nil {
		return err
	}

	entries, err := d.readLargeBlobArray()
	if err != nil {
		return err
	}

	if index, _ := findLargeBlob(entries, key); index >= 0 {
		entries = slices.Delete(entries, index, index+1)
	}

	return d.writeLargeBlobArray(pin, entries)
}

// LargeBlobTrim drops every decodable entry that no resident credential's
// large-blob key can decrypt. Entries that do not decode are preserved, as
// the spec requires for unknown but conformant blobs.
func (d *Device) LargeBlobTrim(pin string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.requireLargeBlobs(); err != nil {
		return err
	}
	if err := d.requireCredentialManagement(); err != nil {
		return err
	}

	keys, err := d.listLargeBlobKeys(pin)
	if err != nil {
		return err
	}
	defer func() {
		for _, k := range keys {
			wipe(k)
		}
	}()

	entries, err := d.readLargeBlobArray()
	if err != nil {
		return err
	}

	kept := make([]cbor.RawMessage, 0, len(entries))
	for _, raw := range entries {
		var blob ctap2.LargeBlob
		if err := cbor.Unmarshal(raw, &blob); err != nil || !blob.Valid() {
			// Non-conformant blobs are kept, as per spec.
			kept = append(kept, raw)
			continue
		}

		for _, k := range keys {
			if _, err := ctap2.OpenLargeBlob(k, &blob); err == nil {
				kept = append(kept, raw)
				break
			}
		}
	}

	return d.writeLargeBlobArray(pin, kept)
}

// listLargeBlobKeys enumerates every resident credential across every
// Relying Party and collects their large-blob keys.
func (d *Device) listLargeBlobKeys(pin string) ([][]byte, error) {
	token, err := d.getUVToken(ctap2.PermissionCredentialManagement, pin)
	if err != nil {
		return nil, err
	}
	defer wipe(token)

	preview := d.info.IsPreviewOnly()
	proto := d.protocol()

	var rpIDHashes [][]byte
	for rp, err := range d.ctapClient.EnumerateRPs(preview, proto, token) {
		if err != nil {
			return nil, err
		}
		rpIDHashes = append(rpIDHashes, rp.RPIDHash)
	}

	var keys [][]byte
	for _, rpIDHash := range rpIDHashes {
		for cred, err := range d.ctapClient.EnumerateCredentials(preview, proto, token, rpIDHash) {
			if err != nil {
				return nil, err
			}
			if len(cred.LargeBlobKey) > 0 {
				keys = append(keys, cred.LargeBlobKey)
			}
		}
	}

	return keys, nil
}

// GetLargeBlobs returns the decoded entries of the device's large-blob
// array. Entries that do not decode as large blobs are skipped.
func (d *Device) GetLargeBlobs() ([]*ctap2.LargeBlob, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.requireLargeBlobs(); err != nil {
		return nil, err
	}

	entries, err := d.readLargeBlobArray()
	if err != nil {
		return nil, err
	}

	blobs := make([]*ctap2.LargeBlob, 0, len(entries))
	for _, raw := range entries {
		var blob ctap2.LargeBlob
		if err := cbor.Unmarshal(raw, &blob); err == nil && blob.Valid() {
			blobs = append(blobs, &blob)
		}
	}

	return blobs, nil
}

// SetLargeBlobs replaces the device's large-blob array with blobs. pin may
// be empty when the device permits unauthenticated writes.
func (d *Device) SetLargeBlobs(pin string, blobs []*ctap2.LargeBlob) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.requireLargeBlobs(); err != nil {
		return err
	}

	entries := make([]cbor.RawMessage, 0, len(blobs))
	for _, blob := range blobs {
		raw, err := d.cborEncMode.Marshal(blob)
		if err != nil {
			return err
		}
		entries = append(entries, raw)
	}

	return d.writeLargeBlobArray(pin, entries)
}
