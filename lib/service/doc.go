// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the shared plumbing for Memoria service
// binaries: a Unix socket server speaking a CBOR request-response
// protocol, the matching client, and the standard logger.
//
// A Memoria service is a standalone binary owning its own store and
// exposing a Unix socket API. This package extracts the scaffolding
// every service needs:
//
//   - Socket server: one CBOR request per connection, action-based
//     dispatch, per-request size limits, connection timeouts, and
//     graceful shutdown.
//   - Socket client: one connection per call, typed request structs,
//     decoded response data, and structured errors carrying the
//     protocol's machine-readable failure codes.
//   - Logger: JSON structured logging to stderr.
//
// Services compose these utilities in their own main() function rather
// than subclassing a framework. The package provides building blocks,
// not a runtime.
//
// # Authentication
//
// Socket-level caller authentication is not implemented. Filesystem
// permissions on the socket path determine who can reach a service;
// deployments that need finer-grained control front the socket with
// an authenticating proxy.
package service
