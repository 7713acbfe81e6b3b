// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

// Package ingest accepts new memories into capsules and finalizes
// them into records.
//
// Three paths carry content in: reference ingestion points at bytes
// held in an external store, inline ingestion carries small content
// in the request, and chunked ingestion streams larger content
// through an upload session. All three converge on one finalization
// sequence, the only code allowed to create a record, which
// enforces, in order: the capsule exists, a retried request replays
// its original record (idempotency), byte-identical content within a
// capsule collapses to one record (dedup), and inline bytes fit the
// capsule's budget (quota).
//
// The [Ingestor] owns the process-wide state: the upload session
// table, the idempotency ledger, and the usage accountant.
// Collaborators (capsule directory, record store, access verifier)
// are consumed through the narrow interfaces declared here;
// lib/capsule and lib/access provide the production implementations.
//
// Concurrency: every mutable aggregate (one session, one capsule's
// usage, one idempotency key) has its own critical section, so
// unrelated requests never contend. Finalize calls that share an
// idempotency key or a content identity serialize on striped key
// locks spanning the check-then-create window; session and usage
// locks are never held across a store or directory call.
//
// Failures are terminal to the call and mapped onto exported sentinel
// errors; nothing retries internally. Retrying is the client's job
// and is safe: idempotency keys and content dedup make a repeated
// request converge on the first request's record.
package ingest
