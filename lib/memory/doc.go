// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory defines the domain types shared across the ingest
// subsystem: content hashes, record metadata, external blob
// references, record ID generation, and the socket protocol types.
//
// The package is deliberately free of storage and transport logic so
// that every other package (and external tooling) can depend on it
// without pulling in the service stack.
package memory
