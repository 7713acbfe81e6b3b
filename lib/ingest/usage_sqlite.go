// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/memoria-archive/memoria/lib/sqlitepool"
)

// SQLiteUsage persists per-capsule usage counters, sharing the
// ledger's pool. Counters survive restarts without a rebuild from the
// record scan.
type SQLiteUsage struct {
	pool   *sqlitepool.Pool
	budget int64
}

// NewSQLiteUsage creates the accountant and ensures its table exists.
// The pool stays owned by the caller.
func NewSQLiteUsage(ctx context.Context, pool *sqlitepool.Pool, budget int64) (*SQLiteUsage, error) {
	conn, err := pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening usage accountant: %w", err)
	}
	defer pool.Put(conn)

	err = sqlitex.ExecuteScript(conn, `
		CREATE TABLE IF NOT EXISTS usage (
			capsule_id TEXT PRIMARY KEY,
			bytes      INTEGER NOT NULL
		);
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("creating usage table: %w", err)
	}

	return &SQLiteUsage{pool: pool, budget: budget}, nil
}

// Reserve implements UsageAccountant. Check and increment run inside
// one immediate transaction: the write lock is taken at begin, so two
// concurrent reserves for the same capsule serialize there instead of
// reading the same counter and both fitting into the last budget
// bytes.
func (u *SQLiteUsage) Reserve(ctx context.Context, capsuleID string, size int64) (err error) {
	conn, takeErr := u.pool.Take(ctx)
	if takeErr != nil {
		return fmt.Errorf("reserving %d bytes for capsule %s: %w", size, capsuleID, takeErr)
	}
	defer u.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("reserving %d bytes for capsule %s: %w", size, capsuleID, err)
	}
	defer endTransaction(&err)

	current, err := u.currentBytes(conn, capsuleID)
	if err != nil {
		return err
	}
	if current+size > u.budget {
		return fmt.Errorf("capsule %s: %d of %d budget bytes used, %d more requested: %w",
			capsuleID, current, u.budget, size, ErrQuotaExceeded)
	}

	err = sqlitex.Execute(conn, `
		INSERT INTO usage (capsule_id, bytes) VALUES (?, ?)
		ON CONFLICT (capsule_id) DO UPDATE SET bytes = bytes + excluded.bytes
	`, &sqlitex.ExecOptions{
		Args: []any{capsuleID, size},
	})
	if err != nil {
		return fmt.Errorf("reserving %d bytes for capsule %s: %w", size, capsuleID, err)
	}
	return nil
}

// Release implements UsageAccountant.
func (u *SQLiteUsage) Release(ctx context.Context, capsuleID string, size int64) error {
	conn, err := u.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("releasing %d bytes for capsule %s: %w", size, capsuleID, err)
	}
	defer u.pool.Put(conn)

	err = sqlitex.Execute(conn, "UPDATE usage SET bytes = MAX(bytes - ?, 0) WHERE capsule_id = ?", &sqlitex.ExecOptions{
		Args: []any{size, capsuleID},
	})
	if err != nil {
		return fmt.Errorf("releasing %d bytes for capsule %s: %w", size, capsuleID, err)
	}
	return nil
}

// Usage implements UsageAccountant.
func (u *SQLiteUsage) Usage(ctx context.Context, capsuleID string) (int64, error) {
	conn, err := u.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading usage for capsule %s: %w", capsuleID, err)
	}
	defer u.pool.Put(conn)

	return u.currentBytes(conn, capsuleID)
}

func (u *SQLiteUsage) currentBytes(conn *sqlite.Conn, capsuleID string) (int64, error) {
	var bytes int64
	err := sqlitex.Execute(conn, "SELECT bytes FROM usage WHERE capsule_id = ?", &sqlitex.ExecOptions{
		Args: []any{capsuleID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			bytes = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("reading usage for capsule %s: %w", capsuleID, err)
	}
	return bytes, nil
}
