// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

// Package capsule persists records and their content for the ingest
// service.
//
// Three pieces, each consumed by the finalization pipeline through a
// narrow contract:
//
//   - [FileDirectory] (or [MapDirectory] in tests) answers which
//     capsules exist. Ingest into an unregistered capsule is refused.
//   - [Store] persists record metadata as sharded CBOR files with
//     atomic temp-file-plus-rename writes, and rebuilds its in-memory
//     content index by scanning the directory at startup. The index
//     backs content dedup: one (capsule, hash, size) maps to one
//     record.
//   - [PayloadStore] persists the content bytes of inline and chunked
//     records, compressed ([CompressPayloadAuto] probes each payload
//     unless the configuration forces a codec) and, when a key file
//     is configured, sealed with XChaCha20-Poly1305 under a
//     per-record key derived via HKDF-SHA256 ([Keys]). Reads verify
//     the content digest, so corruption surfaces as an error.
//
// Reference records store no payload: the bytes live in an external
// backend and the service only ever verifies access to them.
package capsule
