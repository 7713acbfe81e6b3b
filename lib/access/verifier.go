// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

package access

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/memoria-archive/memoria/lib/memory"
)

// ErrAccessDenied reports that a storage backend answered the probe
// and the referenced content is not accessible: absent, forbidden, or
// unaddressable. Probe failures where the backend gave no answer do
// not wrap this error.
var ErrAccessDenied = errors.New("access denied")

// Verifier probes one storage backend for the presence of referenced
// content. Verify returns nil when the content is accessible, an
// error wrapping ErrAccessDenied when the backend denied it, and any
// other error when the probe itself failed.
type Verifier interface {
	Verify(ctx context.Context, ref memory.Reference) error
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(ctx context.Context, ref memory.Reference) error

// Verify calls f.
func (f VerifierFunc) Verify(ctx context.Context, ref memory.Reference) error {
	return f(ctx, ref)
}

// VerifierSet dispatches verification on the reference's storage
// kind. A nil field means that storage kind is not configured for
// this deployment, and references into it are denied.
type VerifierSet struct {
	Capsule     Verifier
	ObjectStore Verifier
	Database    Verifier
}

// Verify routes the reference to the verifier for its storage kind.
func (s *VerifierSet) Verify(ctx context.Context, ref memory.Reference) error {
	var verifier Verifier
	switch ref.Kind {
	case memory.StorageCapsule:
		verifier = s.Capsule
	case memory.StorageObjectStore:
		verifier = s.ObjectStore
	case memory.StorageDatabase:
		verifier = s.Database
	default:
		return fmt.Errorf("unknown storage kind %q: %w", ref.Kind, ErrAccessDenied)
	}
	if verifier == nil {
		return fmt.Errorf("%s storage is not configured: %w", ref.Kind, ErrAccessDenied)
	}
	return verifier.Verify(ctx, ref)
}

// CapsuleVerifier probes references into the capsule file area: a
// directory tree where capsule-attached files live, managed outside
// this subsystem. The locator is a relative path under that root.
type CapsuleVerifier struct {
	root string
}

// NewCapsuleVerifier creates a verifier over the given file area
// root. The root is probed, not managed: it is never created or
// written.
func NewCapsuleVerifier(root string) (*CapsuleVerifier, error) {
	if root == "" {
		return nil, fmt.Errorf("capsule file area root is required")
	}
	return &CapsuleVerifier{root: root}, nil
}

// Verify stats the file the locator names. Locators that would escape
// the file area root are denied without touching the filesystem.
func (v *CapsuleVerifier) Verify(ctx context.Context, ref memory.Reference) error {
	if !filepath.IsLocal(ref.Locator) {
		return fmt.Errorf("capsule locator %q escapes the file area: %w", ref.Locator, ErrAccessDenied)
	}

	info, err := os.Stat(filepath.Join(v.root, ref.Locator))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("capsule content %s: %w", ref.Locator, ErrAccessDenied)
		}
		return fmt.Errorf("probing capsule content %s: %w", ref.Locator, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("capsule content %s is not a regular file: %w", ref.Locator, ErrAccessDenied)
	}
	return nil
}
