// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// ReadFromPath loads a secret into guarded memory. The path names a
// file, or "-" to consume stdin, for piping a key in without leaving
// it on disk. Surrounding whitespace is trimmed, so key files written
// with a trailing newline load cleanly. Every intermediate heap copy
// is zeroed before returning; the caller owns the returned buffer and
// must Close it.
func ReadFromPath(path string) (*Buffer, error) {
	source := path
	var raw []byte
	var err error
	if path == "-" {
		source = "stdin"
		raw, err = io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading secret from stdin: %w", err)
		}
	} else {
		raw, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}
	}

	value := bytes.TrimSpace(raw)
	if len(value) == 0 {
		Zero(raw)
		return nil, fmt.Errorf("secret from %s is empty", source)
	}

	// NewFromBytes zeroes value. value aliases raw, so zeroing raw
	// afterwards clears only the trimmed margins; the overlap is
	// already zero.
	buffer, err := NewFromBytes(value)
	Zero(raw)
	return buffer, err
}
