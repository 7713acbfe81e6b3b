// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

// Package access verifies that externally referenced content is
// reachable before a reference record is created.
//
// Reference ingestion never copies bytes: the record stores a locator
// into an external backend, and this package's verifiers probe that
// backend for the locator's presence. A probe answers one question,
// whether the referenced content can be accessed right now, and the
// ingest pipeline refuses to create a record when the answer is no.
//
// One verifier exists per storage kind: [CapsuleVerifier] stats a file
// under the capsule file area, [ObjectStoreVerifier] issues a
// HeadObject against an S3-compatible store, and [DatabaseVerifier]
// probes a blob row in a SQLite database. [VerifierSet] dispatches on
// the reference's storage kind; adding a storage kind means adding a
// constant in lib/memory and a branch here.
//
// Verifiers distinguish two failure classes: a backend that answered
// and denied (content absent, forbidden, or unaddressable) wraps
// [ErrAccessDenied], while a probe that could not complete (backend
// unreachable, pool exhausted) returns a plain error. Callers map the
// former to an access-denied outcome and the latter to a storage
// failure.
package access
