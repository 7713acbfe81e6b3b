// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

package capsule

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/memoria-archive/memoria/lib/codec"
	"github.com/memoria-archive/memoria/lib/memory"
)

// registration is the on-disk body of one capsule registry entry.
type registration struct {
	CapsuleID    string    `json:"capsule_id"`
	RegisteredAt time.Time `json:"registered_at"`
}

// FileDirectory is a file-backed capsule registry. Each registered
// capsule is one CBOR file under the registry root, named by the
// capsule ID. Capsule lifecycle beyond registration (ownership,
// membership, deletion) is managed elsewhere; the ingest service
// only asks whether a capsule exists before accepting content into
// it.
type FileDirectory struct {
	root string
}

// NewFileDirectory creates a registry rooted at the given directory,
// creating it if needed.
func NewFileDirectory(root string) (*FileDirectory, error) {
	if root == "" {
		return nil, fmt.Errorf("capsule registry root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating capsule registry %s: %w", root, err)
	}
	return &FileDirectory{root: root}, nil
}

// Register adds a capsule to the registry. Registering an existing
// capsule is a no-op, so the call is safe to retry.
func (d *FileDirectory) Register(capsuleID string) error {
	if err := memory.ValidateCapsuleID(capsuleID); err != nil {
		return err
	}

	finalPath := d.path(capsuleID)
	if _, err := os.Stat(finalPath); err == nil {
		return nil
	}

	data, err := codec.Marshal(registration{
		CapsuleID:    capsuleID,
		RegisteredAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshaling capsule registration: %w", err)
	}

	// Atomic write: temp file + rename. Two concurrent registrations
	// of the same capsule both rename valid entries over each other.
	tmpFile, err := os.CreateTemp(d.root, "capsule-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp registry file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing capsule registration: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp registry file: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("registering capsule %s: %w", capsuleID, err)
	}

	success = true
	return nil
}

// Exists reports whether a capsule is registered. Malformed capsule
// IDs are simply not registered.
func (d *FileDirectory) Exists(capsuleID string) bool {
	if memory.ValidateCapsuleID(capsuleID) != nil {
		return false
	}
	_, err := os.Stat(d.path(capsuleID))
	return err == nil
}

// Count returns the number of registered capsules.
func (d *FileDirectory) Count() int {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return 0
	}
	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), ".cbor") {
			count++
		}
	}
	return count
}

func (d *FileDirectory) path(capsuleID string) string {
	return filepath.Join(d.root, capsuleID+".cbor")
}

// MapDirectory is an in-memory capsule registry for tests and for
// embedding the ingest pipeline without a filesystem registry.
type MapDirectory struct {
	mu       sync.RWMutex
	capsules map[string]struct{}
}

// NewMapDirectory creates an in-memory registry pre-populated with
// the given capsules.
func NewMapDirectory(capsuleIDs ...string) *MapDirectory {
	capsules := make(map[string]struct{}, len(capsuleIDs))
	for _, id := range capsuleIDs {
		capsules[id] = struct{}{}
	}
	return &MapDirectory{capsules: capsules}
}

// Register adds a capsule. Idempotent, like FileDirectory.Register.
func (d *MapDirectory) Register(capsuleID string) error {
	if err := memory.ValidateCapsuleID(capsuleID); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.capsules[capsuleID] = struct{}{}
	return nil
}

// Exists reports whether a capsule is registered.
func (d *MapDirectory) Exists(capsuleID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, found := d.capsules[capsuleID]
	return found
}

// Count returns the number of registered capsules.
func (d *MapDirectory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.capsules)
}
