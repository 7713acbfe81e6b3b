// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"testing"
)

func TestNewZeroInitialized(t *testing.T) {
	buffer, err := New(64)
	if err != nil {
		t.Fatalf("New(64): %v", err)
	}
	defer buffer.Close()

	if buffer.Len() != 64 {
		t.Errorf("Len() = %d, want 64", buffer.Len())
	}

	data := buffer.Bytes()
	if len(data) != 64 {
		t.Fatalf("Bytes() length = %d, want 64", len(data))
	}
	if !bytes.Equal(data, make([]byte, 64)) {
		t.Error("fresh buffer should be all zeros")
	}
}

func TestNewRejectsNonPositiveSizes(t *testing.T) {
	for _, size := range []int{0, -1, -4096} {
		if _, err := New(size); err == nil {
			t.Errorf("New(%d) should fail", size)
		}
	}
}

func TestNewFromBytesScrubsSource(t *testing.T) {
	source := []byte("super-secret-password")
	want := string(source)

	buffer, err := NewFromBytes(source)
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer buffer.Close()

	if got := buffer.String(); got != want {
		t.Errorf("buffer holds %q, want %q", got, want)
	}

	// The heap copy must be gone the moment the buffer exists.
	if !bytes.Equal(source, make([]byte, len(source))) {
		t.Errorf("source slice was not zeroed: %q", source)
	}
}

func TestNewFromBytesRejectsEmpty(t *testing.T) {
	if _, err := NewFromBytes(nil); err == nil {
		t.Error("NewFromBytes(nil) should fail")
	}
	if _, err := NewFromBytes([]byte{}); err == nil {
		t.Error("NewFromBytes(empty) should fail")
	}
}

func TestBufferWriteThrough(t *testing.T) {
	buffer, err := New(16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer buffer.Close()

	// Bytes aliases the guarded region, so writes land in the buffer.
	copy(buffer.Bytes(), "hello, secrets!")

	if got := buffer.String(); got != "hello, secrets!\x00" {
		t.Errorf("String() = %q after write through Bytes()", got)
	}
}

func TestBufferCloseReleases(t *testing.T) {
	buffer, err := New(32)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	copy(buffer.Bytes(), "this should be zeroed")

	if err := buffer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if buffer.data != nil {
		t.Error("Close should drop the mapping")
	}

	// Closing again is a no-op, not an error.
	if err := buffer.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestBufferAccessAfterClosePanics(t *testing.T) {
	accessors := map[string]func(*Buffer){
		"Bytes":  func(b *Buffer) { b.Bytes() },
		"String": func(b *Buffer) { _ = b.String() },
		"Equal":  func(b *Buffer) { b.Equal(b) },
	}

	for name, access := range accessors {
		t.Run(name, func(t *testing.T) {
			buffer, err := New(16)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			buffer.Close()

			defer func() {
				if recover() == nil {
					t.Errorf("%s on a closed buffer should panic", name)
				}
			}()
			access(buffer)
		})
	}
}

func TestBufferEqual(t *testing.T) {
	build := func(content string) *Buffer {
		t.Helper()
		buffer, err := NewFromBytes([]byte(content))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { buffer.Close() })
		return buffer
	}

	first := build("same-content")
	second := build("same-content")
	different := build("other-content")
	shorter := build("same")

	if !first.Equal(second) {
		t.Error("buffers with identical contents should be equal")
	}
	if first.Equal(different) {
		t.Error("buffers with different contents should not be equal")
	}
	if first.Equal(shorter) {
		t.Error("buffers of different lengths should not be equal")
	}
	if !first.Equal(first) {
		t.Error("a buffer should equal itself")
	}
}

func TestZero(t *testing.T) {
	data := []byte("derived-key-material")
	Zero(data)
	if !bytes.Equal(data, make([]byte, len(data))) {
		t.Errorf("Zero left data behind: %q", data)
	}
}
