// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"testing"
	"time"

	"github.com/memoria-archive/memoria/lib/memory"
)

func validLimits() Limits {
	return Limits{
		InlineCeiling: 32768,
		ChunkCeiling:  32000,
		CapsuleBudget: 32768,
		MaxChunkCount: 64,
		SessionTTL:    15 * time.Minute,
	}
}

func TestLimitsValidate(t *testing.T) {
	if err := validLimits().Validate(); err != nil {
		t.Fatalf("valid limits should pass: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Limits)
	}{
		{"zero inline ceiling", func(l *Limits) { l.InlineCeiling = 0 }},
		{"negative inline ceiling", func(l *Limits) { l.InlineCeiling = -1 }},
		{"zero chunk ceiling", func(l *Limits) { l.ChunkCeiling = 0 }},
		{"zero capsule budget", func(l *Limits) { l.CapsuleBudget = 0 }},
		{"zero max chunk count", func(l *Limits) { l.MaxChunkCount = 0 }},
		{"zero session TTL", func(l *Limits) { l.SessionTTL = 0 }},
		{"negative session TTL", func(l *Limits) { l.SessionTTL = -time.Minute }},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			limits := validLimits()
			test.mutate(&limits)
			if err := limits.Validate(); err == nil {
				t.Errorf("limits with %s should fail validation", test.name)
			}
		})
	}
}

func TestLimitsFits(t *testing.T) {
	limits := validLimits()

	if !limits.FitsInline(limits.InlineCeiling) {
		t.Error("content exactly at the inline ceiling should fit")
	}
	if limits.FitsInline(limits.InlineCeiling + 1) {
		t.Error("content one byte over the inline ceiling should not fit")
	}
	if !limits.FitsChunk(limits.ChunkCeiling) {
		t.Error("chunk exactly at the chunk ceiling should fit")
	}
	if limits.FitsChunk(limits.ChunkCeiling + 1) {
		t.Error("chunk one byte over the chunk ceiling should not fit")
	}
}

func TestVerifyContent(t *testing.T) {
	content := []byte("the bytes to verify")
	expected := memory.HashContent(content)

	if !VerifyContent(content, expected) {
		t.Error("content should verify against its own digest")
	}

	tampered := append([]byte(nil), content...)
	tampered[0] ^= 1
	if VerifyContent(tampered, expected) {
		t.Error("tampered content should fail verification")
	}

	if VerifyContent(content, memory.Hash{}) {
		t.Error("content should not verify against the zero digest")
	}
}
