// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"fmt"
	"time"
)

// Source kinds for records. The source records which ingest path
// produced a record. It is immutable, set at finalization and never
// changed afterward. Only inline-sourced bytes count against a
// capsule's inline storage budget; chunked and reference bytes live
// outside the budget.
const (
	// SourceInline means the content arrived in a single request and
	// the payload is stored by the subsystem.
	SourceInline = "inline"

	// SourceChunked means the content arrived through an upload
	// session and was reassembled before storage.
	SourceChunked = "chunked"

	// SourceReference means the record points at bytes held in an
	// external store. The subsystem never read the content.
	SourceReference = "reference"
)

// ValidateSource checks that a source value is one of the allowed
// kinds.
func ValidateSource(source string) error {
	switch source {
	case SourceInline, SourceChunked, SourceReference:
		return nil
	default:
		return fmt.Errorf("invalid source %q: must be %q, %q, or %q", source, SourceInline, SourceChunked, SourceReference)
	}
}

// Storage kinds for blob references. The set is closed: a reference
// with any other kind is rejected before verification.
const (
	// StorageCapsule is a path relative to the capsule's own storage
	// area.
	StorageCapsule = "capsule"

	// StorageObjectStore is an object-store locator of the form
	// "bucket/key".
	StorageObjectStore = "object-store"

	// StorageDatabase is an opaque database blob identifier.
	StorageDatabase = "database"
)

// Reference points at content held outside the subsystem. Reference
// records store one of these instead of a payload; the bytes are
// never read, only checked for accessibility at ingest time.
type Reference struct {
	// Kind names the storage backend holding the bytes. Must be one
	// of the Storage* constants.
	Kind string `json:"kind"`

	// Locator addresses the bytes within the backend. Its shape
	// depends on Kind: a relative path for capsule storage, a
	// "bucket/key" pair for object stores, an opaque blob ID for
	// databases.
	Locator string `json:"locator"`

	// ContentHash is the client-claimed digest of the referenced
	// bytes, if known. Nil when the client did not precompute one;
	// such records never participate in content dedup.
	ContentHash *Hash `json:"content_hash,omitempty"`

	// Size is the client-claimed byte length of the referenced
	// content. Zero when unknown.
	Size int64 `json:"size,omitempty"`
}

// Validate checks the reference's shape: a known kind and a non-empty
// locator. It does not touch the referenced backend; accessibility is
// checked separately at ingest time.
func (r Reference) Validate() error {
	switch r.Kind {
	case StorageCapsule, StorageObjectStore, StorageDatabase:
	default:
		return fmt.Errorf("invalid reference kind %q: must be %q, %q, or %q", r.Kind, StorageCapsule, StorageObjectStore, StorageDatabase)
	}
	if r.Locator == "" {
		return fmt.Errorf("reference locator is empty")
	}
	if r.Size < 0 {
		return fmt.Errorf("reference size %d is negative", r.Size)
	}
	return nil
}

// PayloadInfo describes how a record's bytes are stored at rest.
// Present only on inline and chunked records; reference records have
// no stored payload.
type PayloadInfo struct {
	// Compression is the at-rest compression codec name ("none",
	// "lz4", or "zstd").
	Compression string `json:"compression"`

	// StoredSize is the on-disk byte count after compression and
	// encryption framing. Compare with Record.Size for the logical
	// length.
	StoredSize int64 `json:"stored_size"`

	// Encrypted reports whether the payload is sealed with the
	// store's at-rest encryption key.
	Encrypted bool `json:"encrypted"`
}

// Record is a single memory: the unit the finalization pipeline
// produces regardless of which ingest path carried the bytes. Records
// are immutable once written.
type Record struct {
	// ID is the record identifier, e.g. "mem-4a1f09b2c3d4". Assigned
	// by the store at creation.
	ID string `json:"id"`

	// CapsuleID scopes the record. All dedup and budget accounting
	// happen within this capsule; identical content in two capsules
	// produces two records.
	CapsuleID string `json:"capsule_id"`

	// ContentHash is the SHA-256 digest of the content bytes.
	// Computed by the service for inline and chunked records,
	// client-claimed for reference records, and nil for references
	// ingested without a digest.
	ContentHash *Hash `json:"content_hash,omitempty"`

	// Size is the logical content length in bytes. For reference
	// records this is the client-claimed size (zero when unknown).
	Size int64 `json:"size"`

	// ContentType is the declared media type of the content, e.g.
	// "text/markdown". Optional.
	ContentType string `json:"content_type,omitempty"`

	// Attributes carries caller-supplied metadata opaque to the
	// subsystem.
	Attributes map[string]string `json:"attributes,omitempty"`

	// Source is the ingest path that produced this record: one of
	// the Source* constants.
	Source string `json:"source"`

	// Origin is the external reference for SourceReference records.
	// Nil otherwise.
	Origin *Reference `json:"origin,omitempty"`

	// Payload describes the at-rest storage of the content bytes.
	// Nil for reference records.
	Payload *PayloadInfo `json:"payload,omitempty"`

	// CreatedAt is the finalization time.
	CreatedAt time.Time `json:"created_at"`
}
