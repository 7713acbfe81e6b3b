// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/memoria-archive/memoria/lib/clock"
)

// Sweeper periodically reclaims expired upload sessions so abandoned
// uploads do not pin chunk buffers until process exit. Correctness
// never depends on it running: expiry is enforced lazily on every
// session access.
type Sweeper struct {
	table    *SessionTable
	clock    clock.Clock
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a sweeper over the given table. Interval must be
// positive; a deployment that wants no sweeper simply never runs one.
func NewSweeper(table *SessionTable, clk clock.Clock, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		table:    table,
		clock:    clk,
		interval: interval,
		logger:   logger,
	}
}

// Run sweeps on every tick until the context is cancelled. Blocks;
// callers run it in a goroutine.
func (w *Sweeper) Run(ctx context.Context) {
	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if reclaimed := w.table.Sweep(); reclaimed > 0 {
				w.logger.Info("expired upload sessions reclaimed",
					"count", reclaimed,
				)
			}
		}
	}
}
