// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

package access

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/memoria-archive/memoria/lib/memory"
	"github.com/memoria-archive/memoria/lib/sqlitepool"
)

// DatabaseVerifier probes a database-backed blob store. The locator
// is a blob ID, opaque here; the backing store is expected to expose
// a `blobs` table whose `id` column holds it. The blob bytes are
// never read.
type DatabaseVerifier struct {
	pool *sqlitepool.Pool
}

// NewDatabaseVerifier creates a verifier over the given connection
// pool. The pool is borrowed per probe; the verifier never closes it.
func NewDatabaseVerifier(pool *sqlitepool.Pool) *DatabaseVerifier {
	return &DatabaseVerifier{pool: pool}
}

// Verify checks that a blob row with the locator's ID exists.
func (v *DatabaseVerifier) Verify(ctx context.Context, ref memory.Reference) error {
	conn, err := v.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("database probe for blob %s: %w", ref.Locator, err)
	}
	defer v.pool.Put(conn)

	found := false
	err = sqlitex.Execute(conn, "SELECT 1 FROM blobs WHERE id = ?", &sqlitex.ExecOptions{
		Args: []any{ref.Locator},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("probing blob %s: %w", ref.Locator, err)
	}
	if !found {
		return fmt.Errorf("blob %s does not exist: %w", ref.Locator, ErrAccessDenied)
	}
	return nil
}
