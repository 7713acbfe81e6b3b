// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Hash is a 32-byte SHA-256 digest of memory content. Content hashes
// identify record payloads for deduplication and end-to-end integrity
// checks: clients compute the digest over the raw content bytes and
// the service recomputes it on every inline and chunked ingest.
type Hash [32]byte

// HashContent computes the SHA-256 digest of the given content bytes.
// Hashes are always computed on the raw, uncompressed bytes so that
// dedup and verification are unaffected by at-rest encoding.
func HashContent(data []byte) Hash {
	return sha256.Sum256(data)
}

// FormatHash returns the hex-encoded string representation of a hash.
// This is the canonical format used in metadata, logs, and CLI output.
func FormatHash(hash Hash) string {
	return hex.EncodeToString(hash[:])
}

// ParseHash parses a 64-character hex string into a Hash.
func ParseHash(hexString string) (Hash, error) {
	var hash Hash
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return hash, fmt.Errorf("parsing content hash: %w", err)
	}
	if len(decoded) != 32 {
		return hash, fmt.Errorf("content hash is %d bytes, want 32", len(decoded))
	}
	copy(hash[:], decoded)
	return hash, nil
}

// String returns the hex encoding of the hash.
func (h Hash) String() string { return FormatHash(h) }

// MarshalText implements encoding.TextMarshaler. Hashes serialize as
// hex text strings in both CBOR and JSON.
func (h Hash) MarshalText() ([]byte, error) {
	encoded := make([]byte, hex.EncodedLen(len(h)))
	hex.Encode(encoded, h[:])
	return encoded, nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
