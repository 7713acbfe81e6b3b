// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"fmt"
	"sync"
)

// UsageAccountant tracks cumulative inline-stored bytes per capsule
// against the fixed inline budget. Only inline-path bytes pass
// through it; chunked and reference ingests are exempt.
type UsageAccountant interface {
	// Reserve atomically checks usage + size against the budget and
	// takes the bytes if they fit. On ErrQuotaExceeded nothing
	// changes.
	Reserve(ctx context.Context, capsuleID string, size int64) error

	// Release returns bytes taken by a prior Reserve whose record
	// creation failed. Usage never goes below zero.
	Release(ctx context.Context, capsuleID string, size int64) error

	// Usage reports the capsule's current total, for diagnostics.
	Usage(ctx context.Context, capsuleID string) (int64, error)
}

// MemoryUsage keeps usage counters in process memory. Counters are
// rebuilt from the record store's scan at startup, so a restart does
// not forget bytes already stored.
type MemoryUsage struct {
	budget int64

	mu    sync.Mutex
	bytes map[string]int64
}

// NewMemoryUsage creates an accountant with the given per-capsule
// budget, seeded with the usage totals the record store observed at
// startup. The seed map is copied.
func NewMemoryUsage(budget int64, seed map[string]int64) *MemoryUsage {
	bytes := make(map[string]int64, len(seed))
	for capsuleID, used := range seed {
		bytes[capsuleID] = used
	}
	return &MemoryUsage{budget: budget, bytes: bytes}
}

// Reserve implements UsageAccountant.
func (u *MemoryUsage) Reserve(ctx context.Context, capsuleID string, size int64) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	current := u.bytes[capsuleID]
	if current+size > u.budget {
		return fmt.Errorf("capsule %s: %d of %d budget bytes used, %d more requested: %w",
			capsuleID, current, u.budget, size, ErrQuotaExceeded)
	}
	u.bytes[capsuleID] = current + size
	return nil
}

// Release implements UsageAccountant.
func (u *MemoryUsage) Release(ctx context.Context, capsuleID string, size int64) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	remaining := u.bytes[capsuleID] - size
	if remaining < 0 {
		remaining = 0
	}
	if remaining == 0 {
		delete(u.bytes, capsuleID)
	} else {
		u.bytes[capsuleID] = remaining
	}
	return nil
}

// Usage implements UsageAccountant.
func (u *MemoryUsage) Usage(ctx context.Context, capsuleID string) (int64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.bytes[capsuleID], nil
}
