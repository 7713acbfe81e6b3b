// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/memoria-archive/memoria/lib/memory"
)

// domainKey is a 32-byte key for BLAKE3 keyed hashing. Domain
// separation keeps an idempotency key and a content identity that
// happen to serialize to the same bytes from colliding onto the same
// lock stripe systematically. The byte values are the ASCII encoding
// of the domain name, zero-padded to 32 bytes, so the keys stay
// inspectable in hex dumps.
type domainKey [32]byte

var (
	idempotencyDomainKey = domainKey{
		'm', 'e', 'm', 'o', 'r', 'i', 'a', '.', 'i', 'n', 'g', 'e', 's', 't', '.',
		'i', 'd', 'e', 'm', 'p', 'o', 't', 'e', 'n', 'c', 'y', 0, 0, 0, 0, 0, 0,
	}

	dedupDomainKey = domainKey{
		'm', 'e', 'm', 'o', 'r', 'i', 'a', '.', 'i', 'n', 'g', 'e', 's', 't', '.',
		'd', 'e', 'd', 'u', 'p', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// lockStripes is the size of the key-lock stripe array. Two distinct
// keys on the same stripe serialize needlessly but harmlessly; 64
// stripes keep that rare under realistic concurrency.
const lockStripes = 64

// idempotencyStripe maps a (capsule, idempotency key) pair to a lock
// stripe. The capsule ID charset excludes NUL, so the separator is
// unambiguous.
func idempotencyStripe(capsuleID, key string) uint32 {
	hasher := newKeyedHasher(idempotencyDomainKey)
	hasher.Write([]byte(capsuleID))
	hasher.Write([]byte{0})
	hasher.Write([]byte(key))
	return stripeOf(hasher)
}

// dedupStripe maps a (capsule, content hash, size) identity to a lock
// stripe.
func dedupStripe(capsuleID string, contentHash memory.Hash, size int64) uint32 {
	hasher := newKeyedHasher(dedupDomainKey)
	hasher.Write([]byte(capsuleID))
	hasher.Write([]byte{0})
	hasher.Write(contentHash[:])
	var sizeBytes [8]byte
	binary.BigEndian.PutUint64(sizeBytes[:], uint64(size))
	hasher.Write(sizeBytes[:])
	return stripeOf(hasher)
}

func newKeyedHasher(key domainKey) *blake3.Hasher {
	// NewKeyed requires exactly 32 bytes, which domainKey guarantees.
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("ingest: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	return hasher
}

func stripeOf(hasher *blake3.Hasher) uint32 {
	var digest [32]byte
	copy(digest[:], hasher.Sum(nil))
	return binary.BigEndian.Uint32(digest[:4]) % lockStripes
}

// keyLock serializes finalize calls that share an idempotency key or
// a content identity. Stripes are plain mutexes: a finalize holds its
// stripes across the external store calls between the idempotency
// check and the idempotency commit, which is exactly the window a
// racing retry must not enter.
type keyLock struct {
	stripes [lockStripes]sync.Mutex
}

// acquire locks the given stripes and returns the release function.
// Stripes are locked in ascending index order with duplicates
// collapsed, so two finalize calls needing overlapping stripe pairs
// cannot deadlock. An empty set is a no-op.
func (l *keyLock) acquire(indexes []uint32) (release func()) {
	if len(indexes) == 0 {
		return func() {}
	}

	ordered := append([]uint32(nil), indexes...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	locked := ordered[:0]
	var last uint32
	for i, index := range ordered {
		if i > 0 && index == last {
			continue
		}
		l.stripes[index].Lock()
		locked = append(locked, index)
		last = index
	}

	return func() {
		for i := len(locked) - 1; i >= 0; i-- {
			l.stripes[locked[i]].Unlock()
		}
	}
}
