// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// RecordIDPrefix starts every record identifier. The full form is the
// prefix followed by a truncated hex digest, e.g. "mem-4a1f09b2c3d4".
const RecordIDPrefix = "mem-"

// recordIDMinHexLength is the shortest digest truncation used for a
// record ID. Twelve hex characters (48 bits) keep IDs short enough to
// paste into a terminal while making accidental collisions within a
// store vanishingly rare; the generator extends the prefix when one
// occurs anyway.
const recordIDMinHexLength = 12

// NewRecordID produces a unique record ID by hashing the capsule ID,
// creation timestamp, and content identity, then truncating to the
// shortest prefix (at least 12 hex characters) that avoids collision
// with existing records. taken reports whether a candidate ID is
// already in use; the store calls this under its index lock.
//
// contentIdentity is the hex content hash for hashed records, or the
// source locator for reference records ingested without a digest.
func NewRecordID(capsuleID string, createdAt time.Time, contentIdentity string, taken func(string) bool) string {
	input := capsuleID + "\n" + strconv.FormatInt(createdAt.UnixNano(), 10) + "\n" + contentIdentity
	hash := sha256.Sum256([]byte(input))
	hexHash := hex.EncodeToString(hash[:])

	for length := recordIDMinHexLength; length <= len(hexHash); length++ {
		candidate := RecordIDPrefix + hexHash[:length]
		if taken(candidate) {
			continue
		}
		return candidate
	}
	// SHA-256 provides 64 hex chars. Exhausting every prefix length
	// while colliding each time requires an absurd number of records
	// created in the same nanosecond with identical content.
	return RecordIDPrefix + hexHash
}

// ValidRecordID reports whether id has the shape of a record
// identifier: the "mem-" prefix followed by at least 12 lowercase hex
// characters.
func ValidRecordID(id string) bool {
	digest, ok := strings.CutPrefix(id, RecordIDPrefix)
	if !ok || len(digest) < recordIDMinHexLength || len(digest) > 64 {
		return false
	}
	for _, c := range digest {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
