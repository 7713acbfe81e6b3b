// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"sync"
)

// Ledger is the idempotency store: it maps a (capsule, client key)
// pair to the record the first request bearing that key produced, so
// a retried request replays the original outcome instead of creating
// a second record.
//
// The ledger does not serialize concurrent callers sharing a key;
// the finalization sequence does that with its key locks. Record is
// only called after the record is durable.
type Ledger interface {
	// Check looks up the key and reports the associated record ID if
	// one exists and the record itself still exists. An entry whose
	// record is gone is stale: it is dropped and reported absent, and
	// stays absent until a new finalize re-records the key.
	Check(ctx context.Context, capsuleID, key string) (recordID string, found bool, err error)

	// Record associates the key with a freshly created record. If the
	// key is already associated, the existing association wins.
	Record(ctx context.Context, capsuleID, key, recordID string) error
}

// RecordExistsFunc answers whether a record ID is still present in
// the record store. Both ledger backends use it to detect stale
// entries.
type RecordExistsFunc func(recordID string) bool

type ledgerKey struct {
	capsuleID string
	key       string
}

// MemoryLedger keeps idempotency entries in process memory. Entries
// are lost on restart: a client retrying a request from before the
// restart may create a duplicate record. Deployments that care use
// the SQLite ledger instead.
type MemoryLedger struct {
	recordExists RecordExistsFunc

	mu      sync.Mutex
	entries map[ledgerKey]string
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger(recordExists RecordExistsFunc) *MemoryLedger {
	return &MemoryLedger{
		recordExists: recordExists,
		entries:      make(map[ledgerKey]string),
	}
}

// Check implements Ledger.
func (l *MemoryLedger) Check(ctx context.Context, capsuleID, key string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	composite := ledgerKey{capsuleID: capsuleID, key: key}
	recordID, found := l.entries[composite]
	if !found {
		return "", false, nil
	}
	if !l.recordExists(recordID) {
		delete(l.entries, composite)
		return "", false, nil
	}
	return recordID, true, nil
}

// Record implements Ledger.
func (l *MemoryLedger) Record(ctx context.Context, capsuleID, key, recordID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	composite := ledgerKey{capsuleID: capsuleID, key: key}
	if _, exists := l.entries[composite]; !exists {
		l.entries[composite] = recordID
	}
	return nil
}

// Len returns the number of live entries, for diagnostics.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
