// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"strings"
	"testing"
)

// emptySHA256 is the well-known SHA-256 digest of zero bytes.
const emptySHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

func TestHashContentKnownAnswer(t *testing.T) {
	hash := HashContent(nil)
	if got := FormatHash(hash); got != emptySHA256 {
		t.Errorf("HashContent(nil) = %s, want %s", got, emptySHA256)
	}

	// From the SHA-256 test vectors: "abc".
	hash = HashContent([]byte("abc"))
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := FormatHash(hash); got != want {
		t.Errorf("HashContent(\"abc\") = %s, want %s", got, want)
	}
}

func TestHashContentDeterministic(t *testing.T) {
	input := []byte("the same content every time")
	if HashContent(input) != HashContent(input) {
		t.Error("HashContent produced different results for the same input")
	}
}

func TestFormatParseRoundtrip(t *testing.T) {
	hash := HashContent([]byte("roundtrip me"))
	formatted := FormatHash(hash)

	if len(formatted) != 64 {
		t.Fatalf("formatted hash is %d chars, want 64", len(formatted))
	}

	parsed, err := ParseHash(formatted)
	if err != nil {
		t.Fatalf("ParseHash(%q): %v", formatted, err)
	}
	if parsed != hash {
		t.Errorf("roundtrip mismatch: got %s, want %s", FormatHash(parsed), formatted)
	}
}

func TestParseHashRejectsBadInput(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"short", "abcd"},
		{"long", strings.Repeat("ab", 33)},
		{"non-hex", strings.Repeat("zz", 32)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseHash(tc.input); err == nil {
				t.Errorf("ParseHash(%q) succeeded, want error", tc.input)
			}
		})
	}
}

func TestHashTextMarshaling(t *testing.T) {
	hash := HashContent([]byte("text marshaling"))

	text, err := hash.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	if string(text) != FormatHash(hash) {
		t.Errorf("MarshalText = %q, want %q", text, FormatHash(hash))
	}

	var decoded Hash
	if err := decoded.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if decoded != hash {
		t.Error("text roundtrip mismatch")
	}
}
