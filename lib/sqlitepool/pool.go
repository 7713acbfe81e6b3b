// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// connectionPragmas is applied to every connection before it is handed
// out. Order matters: journal_mode must be set before any statement
// touches the database file.
var connectionPragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=OFF",
	"PRAGMA cache_size=-8192",
	"PRAGMA mmap_size=268435456",
	"PRAGMA temp_store=MEMORY",
}

// Config describes a database to open. Only Path is mandatory.
type Config struct {
	// Path locates the database file, which is created on first open.
	// The parent directory must already exist. ":memory:" works for
	// tests, but only with PoolSize 1, since every in-memory
	// connection sees its own private database.
	Path string

	// PoolSize fixes the number of connections. Zero or negative
	// selects a default of max(NumCPU, 4). SQLite serializes writers
	// no matter how large the pool is, so sizes past 8 only pay off
	// for read-parallel workloads.
	PoolSize int

	// Logger receives open and close events. Nil discards them.
	Logger *slog.Logger

	// OnConnect runs once per connection, after the pragmas. This is
	// where consumers bootstrap their schema (CREATE TABLE IF NOT
	// EXISTS) or register custom functions. An error here poisons the
	// connection: it is discarded and the error surfaces from Take.
	OnConnect func(conn *sqlite.Conn) error
}

// Pool is a fixed-size set of SQLite connections sharing the pragmas
// above. The pool itself is safe for concurrent use; a borrowed
// connection belongs to exactly one goroutine until returned.
type Pool struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// Open validates the configuration and opens the pool. Connections are
// established lazily, so a misconfigured OnConnect shows up on the
// first Take rather than here. Close the pool when done; Close blocks
// until every borrowed connection has been returned.
func Open(cfg Config) (*Pool, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlitepool: no database path configured")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	size := cfg.PoolSize
	if size <= 0 {
		size = max(runtime.NumCPU(), 4)
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    size,
		PrepareConn: preparer(cfg.OnConnect),
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: opening %s: %w", cfg.Path, err)
	}

	logger.Info("database pool open", "path", cfg.Path, "connections", size)
	return &Pool{pool: pool, logger: logger, path: cfg.Path}, nil
}

// Take borrows a connection, blocking until one is free or ctx is
// cancelled. Pair every successful Take with a Put:
//
//	conn, err := pool.Take(ctx)
//	if err != nil {
//	    return err
//	}
//	defer pool.Put(conn)
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: borrowing connection to %s: %w", p.path, err)
	}
	return conn, nil
}

// Put returns a borrowed connection. Putting nil is a no-op, so error
// paths that never obtained a connection need no special casing.
func (p *Pool) Put(conn *sqlite.Conn) {
	p.pool.Put(conn)
}

// Close waits for outstanding connections and closes them all.
// Subsequent Takes fail.
func (p *Pool) Close() error {
	if err := p.pool.Close(); err != nil {
		p.logger.Error("database pool close failed", "path", p.path, "error", err)
		return fmt.Errorf("sqlitepool: closing %s: %w", p.path, err)
	}
	p.logger.Info("database pool closed", "path", p.path)
	return nil
}

// preparer builds the PrepareConn hook: pragmas first, then the
// consumer's OnConnect. Runs once per connection, on first borrow.
func preparer(onConnect func(*sqlite.Conn) error) func(*sqlite.Conn) error {
	return func(conn *sqlite.Conn) error {
		for _, pragma := range connectionPragmas {
			if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
				return fmt.Errorf("sqlitepool: %s: %w", pragma, err)
			}
		}
		if onConnect != nil {
			if err := onConnect(conn); err != nil {
				return fmt.Errorf("sqlitepool: preparing connection: %w", err)
			}
		}
		return nil
	}
}
