// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/memoria-archive/memoria/lib/clock"
	"github.com/memoria-archive/memoria/lib/memory"
)

// CapsuleDirectory answers whether a capsule is known. Ingests into
// unknown capsules are refused.
type CapsuleDirectory interface {
	Exists(capsuleID string) bool
}

// RecordStore persists records. Create assigns the record its ID and
// durably stores metadata plus content; FindContent resolves a
// capsule-scoped content identity to an existing record for dedup;
// Exists backs the ledger's stale-entry detection.
type RecordStore interface {
	Create(record *memory.Record, content []byte) (string, error)
	FindContent(capsuleID string, contentHash memory.Hash, size int64) (string, bool)
	Exists(recordID string) bool
}

// AccessVerifier probes a reference's storage backend before a
// reference record is created. An error wrapping
// access.ErrAccessDenied means the backend denied the content; any
// other error means the probe failed.
type AccessVerifier interface {
	Verify(ctx context.Context, ref memory.Reference) error
}

// Config assembles an Ingestor. Directory, Store, Verifier, Ledger,
// and Usage are required; Clock defaults to the real clock and Logger
// to discard.
type Config struct {
	Limits    Limits
	Directory CapsuleDirectory
	Store     RecordStore
	Verifier  AccessVerifier
	Ledger    Ledger
	Usage     UsageAccountant
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Ingestor is the ingest surface: three entry paths that converge on
// one finalization sequence. It owns the process-wide session table
// and key locks; ledger and usage durability depend on the backends
// injected at construction.
type Ingestor struct {
	limits    Limits
	directory CapsuleDirectory
	store     RecordStore
	verifier  AccessVerifier
	ledger    Ledger
	usage     UsageAccountant
	sessions  *SessionTable
	clock     clock.Clock
	logger    *slog.Logger

	locks keyLock
}

// New validates the configuration and builds an Ingestor.
func New(cfg Config) (*Ingestor, error) {
	if err := cfg.Limits.Validate(); err != nil {
		return nil, fmt.Errorf("ingest limits: %w", err)
	}
	if cfg.Directory == nil {
		return nil, fmt.Errorf("capsule directory is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if cfg.Verifier == nil {
		return nil, fmt.Errorf("access verifier is required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("idempotency ledger is required")
	}
	if cfg.Usage == nil {
		return nil, fmt.Errorf("usage accountant is required")
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Ingestor{
		limits:    cfg.Limits,
		directory: cfg.Directory,
		store:     cfg.Store,
		verifier:  cfg.Verifier,
		ledger:    cfg.Ledger,
		usage:     cfg.Usage,
		sessions:  NewSessionTable(cfg.Limits, clk),
		clock:     clk,
		logger:    logger,
	}, nil
}

// IngestReference records a memory whose bytes stay in an external
// store. The reference is validated structurally, then its backend is
// probed for accessibility; the bytes themselves are never read. A
// reference without a claimed content hash is exempt from dedup.
func (ing *Ingestor) IngestReference(ctx context.Context, req *memory.IngestReferenceRequest) (*memory.IngestResponse, error) {
	if err := memory.ValidateCapsuleID(req.CapsuleID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if err := req.Reference.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	if err := ing.verifier.Verify(ctx, req.Reference); err != nil {
		return nil, fmt.Errorf("verifying %s reference %s: %w", req.Reference.Kind, req.Reference.Locator, err)
	}

	origin := req.Reference
	return ing.finalize(ctx, finalizeRequest{
		capsuleID:      req.CapsuleID,
		idempotencyKey: req.IdempotencyKey,
		contentHash:    req.Reference.ContentHash,
		size:           req.Reference.Size,
		contentType:    req.ContentType,
		attributes:     req.Attributes,
		source:         memory.SourceReference,
		origin:         &origin,
	})
}

// IngestInline stores content carried directly in the request. The
// service computes the digest itself, so inline content needs no
// client-side hashing.
func (ing *Ingestor) IngestInline(ctx context.Context, req *memory.IngestInlineRequest) (*memory.IngestResponse, error) {
	if err := memory.ValidateCapsuleID(req.CapsuleID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	size := int64(len(req.Content))
	if size == 0 {
		return nil, fmt.Errorf("%w: inline content is empty", ErrInvalidArgument)
	}
	if !ing.limits.FitsInline(size) {
		return nil, fmt.Errorf("%w: %d bytes exceeds the inline ceiling of %d, use the chunked path", ErrInvalidArgument, size, ing.limits.InlineCeiling)
	}

	contentHash := memory.HashContent(req.Content)
	return ing.finalize(ctx, finalizeRequest{
		capsuleID:      req.CapsuleID,
		idempotencyKey: req.IdempotencyKey,
		contentHash:    &contentHash,
		size:           size,
		contentType:    req.ContentType,
		attributes:     req.Attributes,
		source:         memory.SourceInline,
		content:        req.Content,
	})
}

// BeginChunked opens an upload session. The capsule is checked here
// so a client learns about a bad capsule before moving any chunk
// bytes; finalization re-checks it at finish.
func (ing *Ingestor) BeginChunked(ctx context.Context, req *memory.BeginChunkedRequest) (*memory.BeginChunkedResponse, error) {
	if err := memory.ValidateCapsuleID(req.CapsuleID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if !ing.directory.Exists(req.CapsuleID) {
		return nil, fmt.Errorf("capsule %s: %w", req.CapsuleID, ErrCapsuleNotFound)
	}

	sessionID, expiresAt, err := ing.sessions.Begin(req.CapsuleID, req.ContentHash, req.TotalSize, req.ChunkCount, req.ContentType, req.Attributes)
	if err != nil {
		return nil, err
	}

	ing.logger.Info("upload session opened",
		"session", sessionID,
		"capsule", req.CapsuleID,
		"size", req.TotalSize,
		"chunks", req.ChunkCount,
	)
	return &memory.BeginChunkedResponse{SessionID: sessionID, ExpiresAt: expiresAt}, nil
}

// PutChunk delivers one chunk of an open session.
func (ing *Ingestor) PutChunk(ctx context.Context, req *memory.PutChunkRequest) (*memory.PutChunkResponse, error) {
	received, remaining, complete, err := ing.sessions.PutChunk(req.SessionID, req.Index, req.Content)
	if err != nil {
		return nil, err
	}
	return &memory.PutChunkResponse{Received: received, Remaining: remaining, Complete: complete}, nil
}

// FinishChunked assembles and verifies the session's content, then
// finalizes it like any other ingest. A successful finish consumes
// the session before finalization runs; retried finishes therefore
// see ErrSessionNotFound, and a re-uploaded duplicate collapses onto
// the existing record through content dedup instead.
func (ing *Ingestor) FinishChunked(ctx context.Context, req *memory.FinishChunkedRequest) (*memory.IngestResponse, error) {
	result, err := ing.sessions.Finish(req.SessionID, req.ContentHash, req.TotalSize)
	if err != nil {
		return nil, err
	}

	response, err := ing.finalize(ctx, finalizeRequest{
		capsuleID:   result.CapsuleID,
		contentHash: &result.ContentHash,
		size:        int64(len(result.Content)),
		contentType: result.ContentType,
		attributes:  result.Attributes,
		source:      memory.SourceChunked,
		content:     result.Content,
	})
	if err != nil {
		// The session is gone either way; the client restarts the
		// upload once the failure clears.
		ing.logger.Error("chunked upload failed after session consumed",
			"session", req.SessionID,
			"capsule", result.CapsuleID,
			"error", err,
		)
		return nil, err
	}
	return response, nil
}

// AbortChunked discards an open session.
func (ing *Ingestor) AbortChunked(ctx context.Context, req *memory.AbortChunkedRequest) error {
	if err := ing.sessions.Abort(req.SessionID); err != nil {
		return err
	}
	ing.logger.Info("upload session aborted", "session", req.SessionID)
	return nil
}

// Limits returns the ingest policy for the read-only discovery
// surface.
func (ing *Ingestor) Limits() Limits {
	return ing.limits
}

// OpenSessions returns the number of reachable upload sessions.
func (ing *Ingestor) OpenSessions() int {
	return ing.sessions.OpenCount()
}

// SweepSessions discards expired sessions and returns how many were
// reclaimed. The service wires this to a Sweeper; tests call it
// directly.
func (ing *Ingestor) SweepSessions() int {
	return ing.sessions.Sweep()
}

// NewSweeper builds a sweeper bound to this ingestor's session table.
func (ing *Ingestor) NewSweeper(interval time.Duration, logger *slog.Logger) *Sweeper {
	return NewSweeper(ing.sessions, ing.clock, interval, logger)
}
