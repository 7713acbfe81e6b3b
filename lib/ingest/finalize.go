// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"fmt"

	"github.com/memoria-archive/memoria/lib/memory"
)

// finalizeRequest is the converged input of the three ingest paths:
// everything the finalization sequence needs, with the path expressed
// only as the source kind plus either content bytes (inline, chunked)
// or an origin reference (reference).
//
// An empty idempotencyKey opts the request out of idempotency
// tracking. The chunked path always does this: its session is consumed
// before finalization, so a retried finish surfaces ErrSessionNotFound
// at the session table and never reaches this sequence.
type finalizeRequest struct {
	capsuleID      string
	idempotencyKey string

	// contentHash is nil only for reference ingests whose client did
	// not precompute a digest. Such records skip content dedup in both
	// directions: they neither match an existing record nor become
	// visible to future dedup lookups.
	contentHash *memory.Hash
	size        int64

	contentType string
	attributes  map[string]string

	source  string
	origin  *memory.Reference
	content []byte
}

// finalize is the single gate through which a record is created. The
// sequence, each step short-circuiting on failure:
//
//  1. The capsule must exist.
//  2. A key already in the idempotency ledger replays its record.
//  3. Content already in the capsule replays its record (dedup), and
//     the caller's key is recorded against it.
//  4. Inline bytes reserve capsule budget; ErrQuotaExceeded aborts
//     with no side effects.
//  5. The record is created through the store. A storage failure
//     releases the step-4 reservation and propagates.
//  6. The new record is committed to the idempotency ledger.
//
// Steps 2 through 6 run under striped key locks covering the request's
// idempotency key and content identity, so two racing retries of the
// same logical request cannot both pass the checks and create two
// records. The stripes deliberately span the external store calls:
// that window is exactly what a racing retry must not enter. Session
// and usage locks are internal to their components and never held
// here.
func (ing *Ingestor) finalize(ctx context.Context, req finalizeRequest) (*memory.IngestResponse, error) {
	if !ing.directory.Exists(req.capsuleID) {
		return nil, fmt.Errorf("capsule %s: %w", req.capsuleID, ErrCapsuleNotFound)
	}

	var stripes []uint32
	if req.idempotencyKey != "" {
		stripes = append(stripes, idempotencyStripe(req.capsuleID, req.idempotencyKey))
	}
	if req.contentHash != nil {
		stripes = append(stripes, dedupStripe(req.capsuleID, *req.contentHash, req.size))
	}
	release := ing.locks.acquire(stripes)
	defer release()

	if req.idempotencyKey != "" {
		recordID, found, err := ing.ledger.Check(ctx, req.capsuleID, req.idempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("checking idempotency key for capsule %s: %w", req.capsuleID, err)
		}
		if found {
			ing.logger.Info("ingest replayed from idempotency ledger",
				"record", recordID,
				"capsule", req.capsuleID,
			)
			return &memory.IngestResponse{
				RecordID:     recordID,
				ContentHash:  req.contentHash,
				Size:         req.size,
				Deduplicated: true,
			}, nil
		}
	}

	if req.contentHash != nil {
		if recordID, found := ing.store.FindContent(req.capsuleID, *req.contentHash, req.size); found {
			if req.idempotencyKey != "" {
				if err := ing.ledger.Record(ctx, req.capsuleID, req.idempotencyKey, recordID); err != nil {
					return nil, fmt.Errorf("recording idempotency entry for capsule %s: %w", req.capsuleID, err)
				}
			}
			ing.logger.Info("ingest deduplicated onto existing record",
				"record", recordID,
				"capsule", req.capsuleID,
				"size", req.size,
			)
			return &memory.IngestResponse{
				RecordID:     recordID,
				ContentHash:  req.contentHash,
				Size:         req.size,
				Deduplicated: true,
			}, nil
		}
	}

	reserved := false
	if req.source == memory.SourceInline {
		if err := ing.usage.Reserve(ctx, req.capsuleID, req.size); err != nil {
			return nil, err
		}
		reserved = true
	}

	record := &memory.Record{
		CapsuleID:   req.capsuleID,
		ContentHash: req.contentHash,
		Size:        req.size,
		ContentType: req.contentType,
		Attributes:  req.attributes,
		Source:      req.source,
		Origin:      req.origin,
		CreatedAt:   ing.clock.Now().UTC(),
	}
	recordID, err := ing.store.Create(record, req.content)
	if err != nil {
		if reserved {
			if releaseErr := ing.usage.Release(ctx, req.capsuleID, req.size); releaseErr != nil {
				ing.logger.Error("quota release after failed record creation",
					"capsule", req.capsuleID,
					"size", req.size,
					"error", releaseErr,
				)
			}
		}
		return nil, fmt.Errorf("creating record in capsule %s: %w", req.capsuleID, err)
	}

	// The record is durable. A commit failure here is logged rather
	// than returned: failing the call would make the client retry a
	// request that succeeded, and that retry converges on this record
	// through content dedup whether or not the ledger entry exists.
	if req.idempotencyKey != "" {
		if err := ing.ledger.Record(ctx, req.capsuleID, req.idempotencyKey, recordID); err != nil {
			ing.logger.Error("idempotency commit failed after record creation",
				"record", recordID,
				"capsule", req.capsuleID,
				"error", err,
			)
		}
	}

	ing.logger.Info("memory record created",
		"record", recordID,
		"capsule", req.capsuleID,
		"source", req.source,
		"size", req.size,
	)
	return &memory.IngestResponse{
		RecordID:    recordID,
		ContentHash: record.ContentHash,
		Size:        req.size,
	}, nil
}
