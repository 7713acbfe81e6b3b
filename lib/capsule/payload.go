// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

package capsule

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/memoria-archive/memoria/lib/memory"
)

// Compression modes accepted by the payload store. These mirror the
// payload.compression configuration values.
const (
	// CompressionModeAuto probes each payload and picks the codec by
	// achieved ratio, short-circuited by known content types.
	CompressionModeAuto = "auto"

	// CompressionModeNone stores payloads uncompressed.
	CompressionModeNone = "none"

	// CompressionModeLZ4 forces LZ4, falling back to uncompressed
	// storage for incompressible payloads.
	CompressionModeLZ4 = "lz4"

	// CompressionModeZstd forces zstd, falling back to uncompressed
	// storage for incompressible payloads.
	CompressionModeZstd = "zstd"
)

// PayloadStore persists record content on disk, compressed and
// optionally encrypted. Files are sharded by the hex portion of the
// record ID:
//
//	<root>/<hex[:2]>/<hex[2:4]>/<record-id>.bin
//
// Payloads are write-once: a record's content is stored exactly once
// at creation and never rewritten (dedup collapses repeat uploads
// before they reach the store). Reads verify the content digest after
// decompression, so disk corruption surfaces as an error rather than
// silently wrong bytes.
type PayloadStore struct {
	root string
	mode string
	keys *Keys
}

// NewPayloadStore creates a payload store rooted at the given
// directory, creating it if needed. compressionMode selects the
// at-rest codec (empty means auto). keys enables at-rest encryption;
// nil stores payloads unencrypted.
func NewPayloadStore(root string, compressionMode string, keys *Keys) (*PayloadStore, error) {
	if root == "" {
		return nil, fmt.Errorf("payload store root is required")
	}
	if compressionMode == "" {
		compressionMode = CompressionModeAuto
	}
	switch compressionMode {
	case CompressionModeAuto, CompressionModeNone, CompressionModeLZ4, CompressionModeZstd:
	default:
		return nil, fmt.Errorf("invalid compression mode %q: must be %q, %q, %q, or %q",
			compressionMode, CompressionModeAuto, CompressionModeNone, CompressionModeLZ4, CompressionModeZstd)
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating payload directory %s: %w", root, err)
	}

	return &PayloadStore{root: root, mode: compressionMode, keys: keys}, nil
}

// Encrypting reports whether payloads are sealed at rest.
func (p *PayloadStore) Encrypting() bool {
	return p.keys != nil
}

// Write persists content for a record and returns the at-rest
// description to embed in the record's metadata. The contentHash is
// the verified digest of content; it keys the encryption and is
// re-checked on Read. Fails if a payload for this record already
// exists.
func (p *PayloadStore) Write(recordID string, content []byte, contentType string, contentHash memory.Hash) (*memory.PayloadInfo, error) {
	if !memory.ValidRecordID(recordID) {
		return nil, fmt.Errorf("invalid record ID %q", recordID)
	}

	stored, tag, err := p.encode(content, contentType)
	if err != nil {
		return nil, fmt.Errorf("compressing payload for %s: %w", recordID, err)
	}

	if p.keys != nil {
		stored, err = p.keys.EncryptPayload(stored, contentHash)
		if err != nil {
			return nil, fmt.Errorf("encrypting payload for %s: %w", recordID, err)
		}
	}

	finalPath := p.path(recordID)
	if _, err := os.Stat(finalPath); err == nil {
		return nil, fmt.Errorf("payload for %s already exists", recordID)
	}

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating payload shard directory: %w", err)
	}

	// Atomic write: temp file + rename.
	tmpFile, err := os.CreateTemp(p.root, "payload-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("creating temp payload file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(stored); err != nil {
		tmpFile.Close()
		return nil, fmt.Errorf("writing payload: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return nil, fmt.Errorf("closing temp payload file: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return nil, fmt.Errorf("renaming payload to %s: %w", finalPath, err)
	}

	success = true
	return &memory.PayloadInfo{
		Compression: tag.String(),
		StoredSize:  int64(len(stored)),
		Encrypted:   p.keys != nil,
	}, nil
}

// Read loads and verifies the content bytes for a record. The record
// must carry payload metadata and a content hash (every inline and
// chunked record does). The returned bytes are decrypted,
// decompressed, and digest-checked against the record's content hash.
func (p *PayloadStore) Read(record *memory.Record) ([]byte, error) {
	if record.Payload == nil {
		return nil, fmt.Errorf("record %s has no stored payload", record.ID)
	}
	if record.ContentHash == nil {
		return nil, fmt.Errorf("record %s has a payload but no content hash", record.ID)
	}
	if !memory.ValidRecordID(record.ID) {
		return nil, fmt.Errorf("invalid record ID %q", record.ID)
	}

	stored, err := os.ReadFile(p.path(record.ID))
	if err != nil {
		return nil, fmt.Errorf("reading payload for %s: %w", record.ID, err)
	}

	if record.Payload.Encrypted {
		if p.keys == nil {
			return nil, fmt.Errorf("payload for %s is encrypted but no encryption key is configured", record.ID)
		}
		stored, err = p.keys.DecryptPayload(stored, *record.ContentHash)
		if err != nil {
			return nil, fmt.Errorf("decrypting payload for %s: %w", record.ID, err)
		}
	}

	tag, err := ParseCompressionTag(record.Payload.Compression)
	if err != nil {
		return nil, fmt.Errorf("payload for %s: %w", record.ID, err)
	}

	content, err := DecompressPayload(stored, tag, int(record.Size))
	if err != nil {
		return nil, fmt.Errorf("decompressing payload for %s: %w", record.ID, err)
	}

	if actual := memory.HashContent(content); actual != *record.ContentHash {
		return nil, fmt.Errorf("payload for %s failed integrity check: digest %s does not match recorded %s",
			record.ID, actual, record.ContentHash)
	}

	return content, nil
}

// Remove deletes the payload file for a record. Returns nil if the
// file was removed or did not exist. Used to roll back a payload
// write when the subsequent metadata write fails.
func (p *PayloadStore) Remove(recordID string) error {
	if !memory.ValidRecordID(recordID) {
		return fmt.Errorf("invalid record ID %q", recordID)
	}
	if err := os.Remove(p.path(recordID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing payload for %s: %w", recordID, err)
	}
	return nil
}

// encode applies the configured compression mode to content.
func (p *PayloadStore) encode(content []byte, contentType string) ([]byte, CompressionTag, error) {
	switch p.mode {
	case CompressionModeNone:
		return content, CompressionNone, nil

	case CompressionModeLZ4:
		compressed, err := CompressPayload(content, CompressionLZ4)
		if IsIncompressible(err) {
			return content, CompressionNone, nil
		}
		return compressed, CompressionLZ4, err

	case CompressionModeZstd:
		compressed, err := CompressPayload(content, CompressionZstd)
		if IsIncompressible(err) {
			return content, CompressionNone, nil
		}
		return compressed, CompressionZstd, err

	default:
		return CompressPayloadAuto(content, contentType)
	}
}

// path returns the sharded filesystem path for a record's payload.
func (p *PayloadStore) path(recordID string) string {
	hex := strings.TrimPrefix(recordID, memory.RecordIDPrefix)
	return filepath.Join(p.root, hex[:2], hex[2:4], recordID+".bin")
}
