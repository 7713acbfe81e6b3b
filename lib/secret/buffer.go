// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret provides a memory-safe buffer for sensitive data such as
// encryption keys.
//
// Buffer keeps its contents outside the Go heap in an anonymous mmap
// region, locked into RAM with mlock so it cannot reach swap, and
// marked MADV_DONTDUMP so it never lands in a core dump. Close zeroes
// the region before unmapping it.
//
// Living outside the heap matters: the garbage collector neither moves
// nor copies the region, so there are no stray copies of key material
// for it to leave behind, and zeroing on Close actually erases the
// only instance.
package secret

import (
	"crypto/subtle"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Buffer holds sensitive data in guarded memory: swap-locked, dump-excluded,
// zeroed on close. Do not copy a Buffer. After Close, reads panic.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	length int
	closed bool
}

// New allocates a guarded buffer of the given size. The caller must
// Close it once the secret is no longer needed.
func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("secret: buffer size must be positive, got %d", size)
	}

	// Anonymous mapping, invisible to the Go allocator.
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("secret: mmap failed: %w", err)
	}

	// Pin the pages so they cannot be written to swap.
	if err := unix.Mlock(data); err != nil {
		unix.Munmap(data)
		return nil, fmt.Errorf("secret: mlock failed: %w", err)
	}

	// Keep the pages out of core dumps. Old kernels without
	// MADV_DONTDUMP fail here; running without dump exclusion would
	// silently weaken the guarantee, so treat it as fatal.
	if err := unix.Madvise(data, unix.MADV_DONTDUMP); err != nil {
		unix.Munlock(data)
		unix.Munmap(data)
		return nil, fmt.Errorf("secret: madvise(MADV_DONTDUMP) failed: %w", err)
	}

	return &Buffer{
		data:   data,
		length: size,
	}, nil
}

// NewFromBytes copies source into a guarded buffer and zeroes source in
// place, so the secret stops existing on the ordinary heap the moment
// this returns.
func NewFromBytes(source []byte) (*Buffer, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("secret: cannot create buffer from empty source")
	}

	buffer, err := New(len(source))
	if err != nil {
		return nil, err
	}

	copy(buffer.data, source)
	clear(source)
	return buffer, nil
}

// mustOpen panics if the buffer has been closed. Callers hold b.mu.
func (b *Buffer) mustOpen() {
	if b.closed {
		panic("secret: read from closed buffer")
	}
}

// Bytes returns the secret. The slice aliases the guarded region, so
// it must not outlive the Buffer. Panics after Close.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mustOpen()
	return b.data[:b.length]
}

// String returns the secret as a string. Strings are immutable heap
// copies that cannot be scrubbed afterwards, so reach for this only at
// API boundaries that insist on a string; prefer Bytes. Panics after
// Close.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mustOpen()
	return string(b.data[:b.length])
}

// Len returns the size of the secret.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.length
}

// Equal reports whether two buffers hold identical contents, compared
// in constant time. Panics if either buffer has been closed.
func (b *Buffer) Equal(other *Buffer) bool {
	if b == other {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.mustOpen()
		return true
	}

	otherData := other.Bytes()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.mustOpen()
	return subtle.ConstantTimeCompare(b.data[:b.length], otherData) == 1
}

// Close zeroes the secret and releases the guarded region. Idempotent.
// After Close, Bytes, String, and Equal panic.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	clear(b.data)

	// The zeroing above is the part that matters. If the kernel then
	// refuses to unlock or unmap, report it, but the pages go away at
	// process exit either way.
	var firstError error
	if err := unix.Munlock(b.data); err != nil && firstError == nil {
		firstError = fmt.Errorf("secret: munlock failed: %w", err)
	}
	if err := unix.Munmap(b.data); err != nil && firstError == nil {
		firstError = fmt.Errorf("secret: munmap failed: %w", err)
	}

	b.data = nil
	return firstError
}

// Zero overwrites the slice with zeros. Use it to scrub intermediate
// key material held in ordinary heap slices (derived keys, decoded hex)
// once the bytes have been copied into a Buffer or are no longer needed.
func Zero(data []byte) {
	clear(data)
}
