// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"errors"

	"github.com/memoria-archive/memoria/lib/access"
	"github.com/memoria-archive/memoria/lib/memory"
)

// Sentinel errors for every failure the ingest surface can report.
// Match with errors.Is; returned errors wrap these with call context.
// Reference-access denials surface as access.ErrAccessDenied from the
// verifier and are part of the same taxonomy.
var (
	// ErrCapsuleNotFound reports an ingest into an unregistered
	// capsule.
	ErrCapsuleNotFound = errors.New("capsule not found")

	// ErrSessionNotFound reports an operation on an upload session
	// that does not exist, has expired, or was already consumed.
	ErrSessionNotFound = errors.New("upload session not found")

	// ErrInvalidArgument reports a structurally invalid request:
	// malformed IDs, zero sizes or counts, content over a ceiling.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrSizeMismatch reports content whose length contradicts the
	// declared total.
	ErrSizeMismatch = errors.New("size mismatch")

	// ErrHashMismatch reports content whose digest contradicts the
	// declared hash.
	ErrHashMismatch = errors.New("content hash mismatch")

	// ErrDuplicateChunk reports a chunk index delivered twice.
	ErrDuplicateChunk = errors.New("duplicate chunk")

	// ErrChunkOutOfRange reports a chunk index at or past the
	// session's declared chunk count.
	ErrChunkOutOfRange = errors.New("chunk index out of range")

	// ErrIncompleteUpload reports a finish call before every declared
	// chunk arrived.
	ErrIncompleteUpload = errors.New("incomplete upload")

	// ErrQuotaExceeded reports an inline ingest that would push the
	// capsule past its inline storage budget.
	ErrQuotaExceeded = errors.New("capsule inline budget exceeded")
)

// ErrorCode maps an ingest failure to its wire code. Anything outside
// the taxonomy is an external collaborator failing, reported as a
// storage failure.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrCapsuleNotFound), errors.Is(err, ErrSessionNotFound):
		return memory.CodeNotFound
	case errors.Is(err, ErrInvalidArgument):
		return memory.CodeInvalidArgument
	case errors.Is(err, ErrSizeMismatch):
		return memory.CodeSizeMismatch
	case errors.Is(err, ErrHashMismatch):
		return memory.CodeHashMismatch
	case errors.Is(err, ErrDuplicateChunk):
		return memory.CodeDuplicateChunk
	case errors.Is(err, ErrChunkOutOfRange):
		return memory.CodeChunkOutOfRange
	case errors.Is(err, ErrIncompleteUpload):
		return memory.CodeIncompleteUpload
	case errors.Is(err, ErrQuotaExceeded):
		return memory.CodeQuotaExceeded
	case errors.Is(err, access.ErrAccessDenied):
		return memory.CodeAccessDenied
	default:
		return memory.CodeStorageUnavailable
	}
}
