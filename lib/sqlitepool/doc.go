// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens SQLite databases the way the ingest service
// expects them: a fixed-size connection pool over
// zombiezen.com/go/sqlite with one shared set of pragmas.
//
// Three consumers exist today. The durable idempotency ledger and the
// durable usage counters share the service's ledger database, and the
// database access verifier probes whatever blob database the operator
// points it at. All three hold a connection only for the duration of a
// single statement or transaction: [Pool.Take], work, [Pool.Put].
// Connections are never shared between goroutines.
//
// # Pragmas
//
// Each connection is prepared once, on first use, with:
//
//   - journal_mode=WAL, so ledger reads (idempotency lookups) proceed
//     while a commit is in flight.
//   - synchronous=NORMAL. A process crash loses nothing; an OS crash
//     may lose the tail of the WAL. That is acceptable here because the
//     record files on disk are canonical: usage counters rebuild from
//     the startup scan, and a trimmed idempotency window only means a
//     retried request is re-verified instead of replayed.
//   - busy_timeout=5000, queueing writers for up to five seconds
//     rather than surfacing SQLITE_BUSY to the ingest path.
//   - foreign_keys=OFF. The ledger tables are independent; referential
//     checks would cost without protecting anything.
//   - cache_size=-8192 and mmap_size=268435456, sizing the per-connection
//     page cache at 8 MB and letting reads come out of the OS page
//     cache via mmap.
//   - temp_store=MEMORY for sort and index scratch space.
//
// Schema setup rides on [Config.OnConnect], which runs after the
// pragmas on every connection. Consumers write their CREATE TABLE IF
// NOT EXISTS scripts there, so a pool is usable the moment Open
// returns and a fresh database file bootstraps itself.
//
// The package deliberately stops at pooling and pragmas. Consumers
// write plain SQL against the zombiezen types (sqlitex.Execute,
// sqlitex.ExecuteScript) and wrap read-modify-write sequences in
// sqlitex.ImmediateTransaction; there is no query layer on top.
package sqlitepool
