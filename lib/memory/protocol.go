// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import "time"

// Action names accepted by the ingest service socket. Each request is
// a single CBOR map carrying an "action" field plus the fields of the
// matching request type below.
const (
	ActionIngestReference = "ingest-reference"
	ActionIngestInline    = "ingest-inline"
	ActionBeginChunked    = "begin-chunked"
	ActionPutChunk        = "put-chunk"
	ActionFinishChunked   = "finish-chunked"
	ActionAbortChunked    = "abort-chunked"
	ActionGetRecord       = "get-record"
	ActionRegisterCapsule = "register-capsule"
	ActionLimits          = "limits"
	ActionStatus          = "status"
)

// Error codes carried in failure responses. Clients branch on the
// code rather than parsing the human-readable message.
const (
	CodeNotFound           = "not_found"
	CodeInvalidArgument    = "invalid_argument"
	CodeSizeMismatch       = "size_mismatch"
	CodeHashMismatch       = "hash_mismatch"
	CodeDuplicateChunk     = "duplicate_chunk"
	CodeChunkOutOfRange    = "chunk_out_of_range"
	CodeIncompleteUpload   = "incomplete_upload"
	CodeQuotaExceeded      = "quota_exceeded"
	CodeAccessDenied       = "access_denied"
	CodeStorageUnavailable = "storage_unavailable"
)

// IngestReferenceRequest records a memory that points at bytes held
// in an external store. The service verifies the reference is
// accessible but never reads the content.
type IngestReferenceRequest struct {
	CapsuleID      string            `json:"capsule_id"`
	IdempotencyKey string            `json:"idempotency_key"`
	Reference      Reference         `json:"reference"`
	ContentType    string            `json:"content_type,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
}

// IngestInlineRequest carries small content directly in the request.
// Content length is capped by the service's inline ceiling; larger
// content must use the chunked path.
type IngestInlineRequest struct {
	CapsuleID      string            `json:"capsule_id"`
	IdempotencyKey string            `json:"idempotency_key"`
	Content        []byte            `json:"content"`
	ContentType    string            `json:"content_type,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
}

// BeginChunkedRequest opens an upload session. The declared hash,
// size, and chunk count are the client's claim about the complete
// content; the service verifies all three at finish.
type BeginChunkedRequest struct {
	CapsuleID   string            `json:"capsule_id"`
	ContentHash Hash              `json:"content_hash"`
	TotalSize   int64             `json:"total_size"`
	ChunkCount  int               `json:"chunk_count"`
	ContentType string            `json:"content_type,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// BeginChunkedResponse returns the session handle for subsequent
// put-chunk, finish-chunked, and abort-chunked calls.
type BeginChunkedResponse struct {
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PutChunkRequest delivers one chunk of an open upload session.
// Chunks may arrive in any order; each index is accepted exactly
// once.
type PutChunkRequest struct {
	SessionID string `json:"session_id"`
	Index     int    `json:"index"`
	Content   []byte `json:"content"`
}

// PutChunkResponse reports session progress after accepting a chunk.
type PutChunkResponse struct {
	// Received is the number of distinct chunks stored so far.
	Received int `json:"received"`

	// Remaining is the number of chunk indexes still missing.
	Remaining int `json:"remaining"`

	// Complete is true once every declared chunk has arrived. The
	// session still requires an explicit finish-chunked call.
	Complete bool `json:"complete"`
}

// FinishChunkedRequest closes an upload session: the service
// reassembles the chunks, verifies length and digest against the
// declared values, and finalizes the record. Only a successful finish
// consumes the session.
type FinishChunkedRequest struct {
	SessionID   string `json:"session_id"`
	ContentHash Hash   `json:"content_hash"`
	TotalSize   int64  `json:"total_size"`
}

// AbortChunkedRequest discards an open upload session and its
// buffered chunks.
type AbortChunkedRequest struct {
	SessionID string `json:"session_id"`
}

// IngestResponse is the common success response for all three ingest
// paths.
type IngestResponse struct {
	RecordID    string `json:"record_id"`
	ContentHash *Hash  `json:"content_hash,omitempty"`
	Size        int64  `json:"size"`

	// Deduplicated is true when the ingest resolved to an existing
	// record (by content dedup or idempotency replay) instead of
	// creating a new one.
	Deduplicated bool `json:"deduplicated,omitempty"`
}

// GetRecordRequest fetches a record's metadata by ID.
type GetRecordRequest struct {
	RecordID string `json:"record_id"`
}

// RegisterCapsuleRequest makes a capsule known to the directory so
// that ingests into it are accepted. Capsule lifecycle beyond
// registration is managed elsewhere.
type RegisterCapsuleRequest struct {
	CapsuleID string `json:"capsule_id"`
}

// LimitsResponse reports the service's configured ceilings so clients
// can choose an ingest path without trial and error.
type LimitsResponse struct {
	// InlineCeiling is the maximum content size accepted by
	// ingest-inline, in bytes.
	InlineCeiling int64 `json:"inline_ceiling"`

	// ChunkCeiling is the maximum size of a single chunk, in bytes.
	ChunkCeiling int64 `json:"chunk_ceiling"`

	// CapsuleBudget is the per-capsule inline storage budget, in
	// bytes.
	CapsuleBudget int64 `json:"capsule_budget"`

	// MaxChunkCount is the maximum number of chunks a session may
	// declare.
	MaxChunkCount int `json:"max_chunk_count"`

	// SessionTTLSeconds is the upload session lifetime. Sessions not
	// finished or aborted within this window expire.
	SessionTTLSeconds int64 `json:"session_ttl_seconds"`
}

// StatusResponse reports operational state for health checks and the
// CLI status command.
type StatusResponse struct {
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Capsules      int    `json:"capsules"`
	Records       int    `json:"records"`
	OpenSessions  int    `json:"open_sessions"`
	LedgerBackend string `json:"ledger_backend"`
}
