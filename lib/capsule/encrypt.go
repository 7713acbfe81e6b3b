// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

package capsule

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/memoria-archive/memoria/lib/memory"
	"github.com/memoria-archive/memoria/lib/secret"
)

// KeySize is the size in bytes of all symmetric keys in payload
// encryption: the at-rest master key loaded from the key file and the
// per-record keys derived from it.
const KeySize = 32

// EncryptedBlobVersion is the version byte prepended to all encrypted
// payloads. Included as additional authenticated data (AAD) in the
// AEAD Seal/Open call, so tampering with the version byte causes
// authentication failure.
const EncryptedBlobVersion byte = 0x01

// EncryptedBlobOverhead is the total byte overhead per encrypted
// payload: 1 (version) + 24 (XChaCha20-Poly1305 nonce) + 16 (Poly1305
// tag).
const EncryptedBlobOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// hkdfInfoPayload is the "info" parameter to HKDF-SHA256 for payload
// key derivation, providing domain separation. Changing it invalidates
// every payload encrypted under the previous value.
var hkdfInfoPayload = []byte("memoria.capsule.payload.v1")

// Keys holds the at-rest payload encryption key in guarded memory and
// derives per-record encryption keys from it.
//
// The master key is the root of payload key derivation. It is read
// from the key file named in the service configuration and stored in
// a secret.Buffer (mmap-backed, mlock'd, excluded from core dumps,
// zeroed on close).
//
// Keys does not cache derived keys. Each call performs a fresh
// HKDF-SHA256 derivation; at roughly a microsecond it is negligible
// next to the AEAD pass and disk I/O that follow.
//
// Close zeroes and releases the master key. After Close, all methods
// panic (via secret.Buffer's closed check).
type Keys struct {
	masterKey *secret.Buffer
}

// NewKeys creates a key set from a raw master key. The masterKey
// buffer is owned by the Keys and will be closed when Close is
// called. The caller must not use masterKey after passing it in.
//
// Returns an error if masterKey is not exactly KeySize (32) bytes.
func NewKeys(masterKey *secret.Buffer) (*Keys, error) {
	if masterKey.Len() != KeySize {
		return nil, fmt.Errorf("payload encryption key must be %d bytes, got %d", KeySize, masterKey.Len())
	}
	return &Keys{masterKey: masterKey}, nil
}

// LoadKeys reads a hex-encoded master key from the given file path
// (or stdin when path is "-") and returns a key set over it. The file
// holds 64 hex characters; generate one with:
//
//	openssl rand -hex 32 > payload.key
func LoadKeys(path string) (*Keys, error) {
	hexKey, err := secret.ReadFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("reading payload encryption key: %w", err)
	}
	defer hexKey.Close()

	decoded := make([]byte, hex.DecodedLen(hexKey.Len()))
	if _, err := hex.Decode(decoded, hexKey.Bytes()); err != nil {
		secret.Zero(decoded)
		return nil, fmt.Errorf("decoding payload encryption key (expected hex): %w", err)
	}
	if len(decoded) != KeySize {
		secret.Zero(decoded)
		return nil, fmt.Errorf("payload encryption key must be %d bytes (%d hex characters), got %d bytes",
			KeySize, KeySize*2, len(decoded))
	}

	// NewFromBytes copies into guarded memory and zeros decoded.
	masterKey, err := secret.NewFromBytes(decoded)
	if err != nil {
		return nil, err
	}
	return NewKeys(masterKey)
}

// Close zeroes and releases the master key. After Close, all
// encryption methods will panic. Idempotent.
func (k *Keys) Close() error {
	return k.masterKey.Close()
}

// EncryptPayload seals payload bytes for at-rest storage. Derives the
// per-record key from the master key and the record's content hash,
// then encrypts with XChaCha20-Poly1305, binding the ciphertext to
// the content hash via AAD.
func (k *Keys) EncryptPayload(plaintext []byte, contentHash memory.Hash) ([]byte, error) {
	encryptionKey, err := derivePayloadKey(k.masterKey, contentHash)
	if err != nil {
		return nil, fmt.Errorf("deriving payload encryption key: %w", err)
	}
	defer encryptionKey.Close()

	return EncryptBlob(plaintext, encryptionKey, contentHash)
}

// DecryptPayload opens a payload sealed by EncryptPayload for the
// same content hash.
func (k *Keys) DecryptPayload(encryptedBlob []byte, contentHash memory.Hash) ([]byte, error) {
	encryptionKey, err := derivePayloadKey(k.masterKey, contentHash)
	if err != nil {
		return nil, fmt.Errorf("deriving payload encryption key: %w", err)
	}
	defer encryptionKey.Close()

	return DecryptBlob(encryptedBlob, encryptionKey, contentHash)
}

// derivePayloadKey derives the per-record encryption key from the
// master key and a content hash. The same content always derives the
// same key, so a record re-created after administrative deletion
// remains decryptable.
//
// The masterKey is borrowed (read via .Bytes()) and NOT closed. The
// returned Buffer must be closed by the caller.
func derivePayloadKey(masterKey *secret.Buffer, contentHash memory.Hash) (*secret.Buffer, error) {
	info := make([]byte, len(hkdfInfoPayload)+len(contentHash))
	copy(info, hkdfInfoPayload)
	copy(info[len(hkdfInfoPayload):], contentHash[:])
	return deriveKey(masterKey.Bytes(), info)
}

// EncryptBlob encrypts plaintext using XChaCha20-Poly1305 and returns
// the encrypted blob in the standard format:
//
//	[Version: 1 byte (0x01)] [Nonce: 24 bytes (random)] [Ciphertext+Tag: N+16 bytes]
//
// The version byte and identityHash are included as additional
// authenticated data (AAD). The version byte authenticates the format
// version. The identityHash binds the ciphertext to the content it
// belongs to, so a payload file swapped under a different record
// fails authentication.
//
// The encryptionKey is borrowed and NOT closed. It must be exactly
// KeySize bytes.
func EncryptBlob(plaintext []byte, encryptionKey *secret.Buffer, identityHash memory.Hash) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(encryptionKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	// Generate a random 24-byte nonce.
	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating random nonce: %w", err)
	}

	aad := buildAAD(EncryptedBlobVersion, identityHash)

	// Allocate output: version + nonce + ciphertext + tag.
	output := make([]byte, 1+chacha20poly1305.NonceSizeX, 1+chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	output[0] = EncryptedBlobVersion
	copy(output[1:], nonce[:])

	// Seal appends the ciphertext+tag to output.
	output = aead.Seal(output, nonce[:], plaintext, aad)
	return output, nil
}

// DecryptBlob decrypts an encrypted blob produced by EncryptBlob.
// It verifies the version byte, extracts the nonce, and authenticates
// the ciphertext against the AAD (version byte + identityHash).
//
// Returns an error if:
//   - The blob is too short to contain version + nonce + tag
//   - The version byte is not EncryptedBlobVersion
//   - AEAD authentication fails (wrong key, tampered ciphertext,
//     wrong identity hash)
//
// The encryptionKey is borrowed and NOT closed.
func DecryptBlob(encryptedBlob []byte, encryptionKey *secret.Buffer, identityHash memory.Hash) ([]byte, error) {
	if len(encryptedBlob) < EncryptedBlobOverhead {
		return nil, fmt.Errorf("encrypted blob is %d bytes, minimum is %d (version + nonce + tag)",
			len(encryptedBlob), EncryptedBlobOverhead)
	}

	version := encryptedBlob[0]
	if version != EncryptedBlobVersion {
		return nil, fmt.Errorf("encrypted blob version %d is not supported (expected %d)",
			version, EncryptedBlobVersion)
	}

	nonce := encryptedBlob[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := encryptedBlob[1+chacha20poly1305.NonceSizeX:]

	aead, err := chacha20poly1305.NewX(encryptionKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	aad := buildAAD(version, identityHash)

	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("AEAD decryption failed (wrong key, tampered data, or mismatched identity): %w", err)
	}

	return plaintext, nil
}

// deriveKey is the shared HKDF-SHA256 implementation. It derives a
// 32-byte key from inputKeyMaterial using the given info parameter.
// The salt is nil: the master key is required to be uniformly random
// (generated from a CSPRNG), so HKDF's extract phase with nil salt
// (HMAC-SHA256 with zero key) is appropriate per RFC 5869.
func deriveKey(inputKeyMaterial []byte, info []byte) (*secret.Buffer, error) {
	reader := hkdf.New(sha256.New, inputKeyMaterial, nil, info)
	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		secret.Zero(derived)
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}
	// NewFromBytes copies into mmap and zeros the heap slice.
	return secret.NewFromBytes(derived)
}

// buildAAD constructs the additional authenticated data for AEAD
// operations: the version byte followed by the identity hash.
func buildAAD(version byte, identityHash memory.Hash) []byte {
	aad := make([]byte, 1+len(identityHash))
	aad[0] = version
	copy(aad[1:], identityHash[:])
	return aad
}
