// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"strings"
	"testing"
	"time"
)

var idTestTime = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func neverTaken(string) bool { return false }

func TestNewRecordIDShape(t *testing.T) {
	id := NewRecordID("cap-notes", idTestTime, emptySHA256, neverTaken)

	if !strings.HasPrefix(id, RecordIDPrefix) {
		t.Errorf("id %q missing %q prefix", id, RecordIDPrefix)
	}
	if len(id) != len(RecordIDPrefix)+12 {
		t.Errorf("id %q has length %d, want %d (prefix + 12 hex)", id, len(id), len(RecordIDPrefix)+12)
	}
	if !ValidRecordID(id) {
		t.Errorf("ValidRecordID(%q) = false for a generated id", id)
	}
}

func TestNewRecordIDDistinctInputs(t *testing.T) {
	a := NewRecordID("cap-a", idTestTime, "hash-a", neverTaken)
	b := NewRecordID("cap-b", idTestTime, "hash-a", neverTaken)
	c := NewRecordID("cap-a", idTestTime.Add(time.Nanosecond), "hash-a", neverTaken)

	if a == b {
		t.Error("different capsules produced the same id")
	}
	if a == c {
		t.Error("different timestamps produced the same id")
	}
}

func TestNewRecordIDExtendsOnCollision(t *testing.T) {
	// Simulate the first two truncation lengths being taken. The
	// generator should extend the digest prefix until free.
	short := NewRecordID("cap-x", idTestTime, "content", neverTaken)

	collisions := 0
	id := NewRecordID("cap-x", idTestTime, "content", func(candidate string) bool {
		if collisions < 2 {
			collisions++
			return true
		}
		return false
	})

	if len(id) != len(short)+2 {
		t.Errorf("id %q has length %d after 2 collisions, want %d", id, len(id), len(short)+2)
	}
	if !strings.HasPrefix(id, short) {
		t.Errorf("extended id %q does not extend the short form %q", id, short)
	}
}

func TestNewRecordIDFallsBackToFullDigest(t *testing.T) {
	// With every candidate taken, the generator returns the full
	// 64-character digest rather than looping forever.
	id := NewRecordID("cap-x", idTestTime, "content", func(string) bool { return true })
	if len(id) != len(RecordIDPrefix)+64 {
		t.Errorf("fallback id %q has length %d, want %d", id, len(id), len(RecordIDPrefix)+64)
	}
}

func TestValidRecordID(t *testing.T) {
	cases := []struct {
		id    string
		valid bool
	}{
		{"mem-4a1f09b2c3d4", true},
		{"mem-" + strings.Repeat("0", 64), true},
		{"mem-4a1f09b2c3d", false},  // 11 hex chars
		{"mem-4A1F09B2C3D4", false}, // uppercase
		{"art-4a1f09b2c3d4", false}, // wrong prefix
		{"4a1f09b2c3d4", false},     // no prefix
		{"mem-", false},
		{"", false},
		{"mem-" + strings.Repeat("0", 65), false}, // longer than a digest
	}

	for _, tc := range cases {
		if got := ValidRecordID(tc.id); got != tc.valid {
			t.Errorf("ValidRecordID(%q) = %v, want %v", tc.id, got, tc.valid)
		}
	}
}
