// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/memoria-archive/memoria/lib/sqlitepool"
)

// SQLiteLedger persists idempotency entries in a SQLite database, so
// a client retry from before a service restart still replays its
// original record. It shares the pool (and usually the database file)
// with SQLiteUsage.
type SQLiteLedger struct {
	pool         *sqlitepool.Pool
	recordExists RecordExistsFunc
}

// NewSQLiteLedger creates the ledger and ensures its table exists.
// The pool stays owned by the caller.
func NewSQLiteLedger(ctx context.Context, pool *sqlitepool.Pool, recordExists RecordExistsFunc) (*SQLiteLedger, error) {
	conn, err := pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening idempotency ledger: %w", err)
	}
	defer pool.Put(conn)

	err = sqlitex.ExecuteScript(conn, `
		CREATE TABLE IF NOT EXISTS idempotency (
			capsule_id TEXT NOT NULL,
			key        TEXT NOT NULL,
			record_id  TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (capsule_id, key)
		);
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("creating idempotency table: %w", err)
	}

	return &SQLiteLedger{pool: pool, recordExists: recordExists}, nil
}

// Check implements Ledger. Stale entries are deleted on discovery so
// the key is free for a future finalize to re-record.
func (l *SQLiteLedger) Check(ctx context.Context, capsuleID, key string) (string, bool, error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return "", false, fmt.Errorf("checking idempotency key: %w", err)
	}
	defer l.pool.Put(conn)

	var recordID string
	err = sqlitex.Execute(conn, "SELECT record_id FROM idempotency WHERE capsule_id = ? AND key = ?", &sqlitex.ExecOptions{
		Args: []any{capsuleID, key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			recordID = stmt.ColumnText(0)
			return nil
		},
	})
	if err != nil {
		return "", false, fmt.Errorf("checking idempotency key: %w", err)
	}
	if recordID == "" {
		return "", false, nil
	}

	if !l.recordExists(recordID) {
		err = sqlitex.Execute(conn, "DELETE FROM idempotency WHERE capsule_id = ? AND key = ? AND record_id = ?", &sqlitex.ExecOptions{
			Args: []any{capsuleID, key, recordID},
		})
		if err != nil {
			return "", false, fmt.Errorf("dropping stale idempotency entry: %w", err)
		}
		return "", false, nil
	}

	return recordID, true, nil
}

// Record implements Ledger. The insert is first-writer-wins: a key
// already associated keeps its record.
func (l *SQLiteLedger) Record(ctx context.Context, capsuleID, key, recordID string) error {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("recording idempotency entry: %w", err)
	}
	defer l.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO idempotency (capsule_id, key, record_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (capsule_id, key) DO NOTHING
	`, &sqlitex.ExecOptions{
		Args: []any{capsuleID, key, recordID, time.Now().Unix()},
	})
	if err != nil {
		return fmt.Errorf("recording idempotency entry: %w", err)
	}
	return nil
}
