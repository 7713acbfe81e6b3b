// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import "fmt"

// MaxCapsuleIDLength bounds capsule identifiers. Capsule IDs become
// registry filenames and appear in record metadata, so the bound
// keeps paths well under filesystem name limits.
const MaxCapsuleIDLength = 64

// ValidateCapsuleID checks that a capsule identifier is safe to use
// as a filesystem name.
//
// Rules enforced:
//   - Non-empty, at most MaxCapsuleIDLength characters
//   - Only lowercase a-z, 0-9, ., _, -
//   - Starts with a letter or digit (rules out hidden files and "..")
func ValidateCapsuleID(capsuleID string) error {
	if capsuleID == "" {
		return fmt.Errorf("capsule ID is empty")
	}
	if len(capsuleID) > MaxCapsuleIDLength {
		return fmt.Errorf("capsule ID is %d characters, maximum is %d", len(capsuleID), MaxCapsuleIDLength)
	}

	first := capsuleID[0]
	if !(first >= 'a' && first <= 'z' || first >= '0' && first <= '9') {
		return fmt.Errorf("capsule ID must start with a lowercase letter or digit")
	}

	for i := 0; i < len(capsuleID); i++ {
		c := capsuleID[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '.', c == '_', c == '-':
		default:
			return fmt.Errorf("invalid character %q at position %d (allowed: a-z, 0-9, ., _, -)", c, i)
		}
	}
	return nil
}
