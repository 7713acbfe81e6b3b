// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

// Memoria-ingest-service is the upload ingestion and finalization
// service. It accepts memory content over a Unix socket through three
// paths (external references, inline content, and chunked upload
// sessions) and converges all of them on one finalization sequence
// that deduplicates content, replays idempotent retries, enforces the
// per-capsule inline budget, and writes the durable record.
//
// # Startup
//
// The service reads its YAML configuration from --config or the
// MEMORIA_CONFIG environment variable, creates its data directories,
// rebuilds the record indexes by scanning the store, and starts
// listening on the configured socket path. With the sqlite ledger
// backend, idempotency entries and usage counters live in a SQLite
// database and survive restarts; the memory backend rebuilds usage
// from the store scan and forgets idempotency keys.
//
// # Socket API
//
// Clients connect to the Unix socket and send one CBOR request per
// connection. The "action" field selects the operation:
// ingest-reference, ingest-inline, begin-chunked, put-chunk,
// finish-chunked, abort-chunked, get-record, register-capsule, limits,
// and status. Responses are CBOR envelopes carrying {ok, data} on
// success and {ok, error, code} on failure, with the code drawn from
// the protocol's error taxonomy.
package main
