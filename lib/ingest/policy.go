// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"fmt"
	"time"

	"github.com/memoria-archive/memoria/lib/memory"
)

// Limits is the ingest size policy. The values are fixed for the life
// of the service and published read-only through the limits action so
// clients can pick an ingest path and chunk size without trial and
// error.
type Limits struct {
	// InlineCeiling is the largest content accepted by the inline
	// path, in bytes. Larger content must be chunked.
	InlineCeiling int64

	// ChunkCeiling is the largest single chunk accepted by the
	// chunked path, in bytes. Bounds the per-call transfer and buffer
	// cost.
	ChunkCeiling int64

	// CapsuleBudget is the cumulative inline-storage byte budget per
	// capsule. Only inline-path bytes count against it.
	CapsuleBudget int64

	// MaxChunkCount is the most chunks one upload session may
	// declare.
	MaxChunkCount int

	// SessionTTL is how long an upload session stays reachable
	// without being finished or aborted.
	SessionTTL time.Duration
}

// Validate checks that every limit is positive.
func (l Limits) Validate() error {
	if l.InlineCeiling <= 0 {
		return fmt.Errorf("inline ceiling must be positive, got %d", l.InlineCeiling)
	}
	if l.ChunkCeiling <= 0 {
		return fmt.Errorf("chunk ceiling must be positive, got %d", l.ChunkCeiling)
	}
	if l.CapsuleBudget <= 0 {
		return fmt.Errorf("capsule budget must be positive, got %d", l.CapsuleBudget)
	}
	if l.MaxChunkCount <= 0 {
		return fmt.Errorf("max chunk count must be positive, got %d", l.MaxChunkCount)
	}
	if l.SessionTTL <= 0 {
		return fmt.Errorf("session TTL must be positive, got %s", l.SessionTTL)
	}
	return nil
}

// FitsInline reports whether content of the given size is eligible
// for the inline path.
func (l Limits) FitsInline(size int64) bool {
	return size <= l.InlineCeiling
}

// FitsChunk reports whether a single chunk of the given size is
// accepted.
func (l Limits) FitsChunk(size int64) bool {
	return size <= l.ChunkCeiling
}

// VerifyContent reports whether the content's digest matches the
// expected hash.
func VerifyContent(content []byte, expected memory.Hash) bool {
	return memory.HashContent(content) == expected
}
