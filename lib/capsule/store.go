// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

package capsule

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/memoria-archive/memoria/lib/codec"
	"github.com/memoria-archive/memoria/lib/memory"
)

// contentKey identifies record content within a capsule for dedup
// lookups. Two ingests with the same key collapse to one record.
type contentKey struct {
	capsule string
	hash    memory.Hash
	size    int64
}

// Store persists record metadata as sharded CBOR files on disk:
//
//	<root>/<hex[:2]>/<hex[2:4]>/<record-id>.cbor
//
// Alongside the files it maintains in-memory indexes rebuilt by a
// directory scan at startup: the set of record IDs (existence checks,
// ID collision avoidance), the (capsule, hash, size) → ID content
// index (dedup), and per-capsule inline byte totals (quota seeding).
// Records ingested without a content hash never enter the content
// index.
//
// Store is safe for concurrent use. Writes to the same content are
// serialized by the finalization pipeline above it; the store's own
// locking only guards the in-memory indexes.
type Store struct {
	root     string
	payloads *PayloadStore

	mu    sync.RWMutex
	ids   map[string]struct{}
	index map[contentKey]string
	usage map[string]int64
}

// NewStore creates a record store rooted at the given directory and
// scans any existing metadata files to rebuild the in-memory indexes.
// payloads receives the content bytes of created records; it may be
// nil only in a store that will never see inline or chunked records.
func NewStore(root string, payloads *PayloadStore) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("record store root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating record directory %s: %w", root, err)
	}

	store := &Store{
		root:     root,
		payloads: payloads,
		ids:      make(map[string]struct{}),
		index:    make(map[contentKey]string),
		usage:    make(map[string]int64),
	}
	if err := store.scan(); err != nil {
		return nil, err
	}
	return store, nil
}

// Create persists a new record and returns its assigned ID. The
// record arrives without an ID; Create assigns one, stores the
// content bytes through the payload store (content is nil for
// reference records), and writes the metadata file. On success the
// record's ID and Payload fields are filled in.
//
// The write order is payload first, metadata second: a crash between
// the two leaves an orphaned payload file, never a record whose
// content is missing. If the metadata write fails, the payload is
// removed again and the ID released.
func (s *Store) Create(record *memory.Record, content []byte) (string, error) {
	if record.ID != "" {
		return "", fmt.Errorf("record already has ID %s", record.ID)
	}
	if record.CapsuleID == "" {
		return "", fmt.Errorf("record has no capsule ID")
	}
	if record.CreatedAt.IsZero() {
		return "", fmt.Errorf("record has no creation time")
	}
	if content != nil && record.ContentHash == nil {
		return "", fmt.Errorf("record with content requires a content hash")
	}

	// Assign the ID and reserve it in the ID set so a concurrent
	// Create cannot pick the same one.
	s.mu.Lock()
	id := memory.NewRecordID(record.CapsuleID, record.CreatedAt, s.contentIdentity(record), func(candidate string) bool {
		_, taken := s.ids[candidate]
		return taken
	})
	record.ID = id
	s.ids[id] = struct{}{}
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		delete(s.ids, id)
		s.mu.Unlock()
		record.ID = ""
	}

	if content != nil {
		info, err := s.payloads.Write(id, content, record.ContentType, *record.ContentHash)
		if err != nil {
			release()
			return "", err
		}
		record.Payload = info
	}

	if err := s.writeMetadata(record); err != nil {
		if content != nil {
			// Best effort: an orphaned payload wastes disk but is
			// otherwise harmless.
			_ = s.payloads.Remove(id)
			record.Payload = nil
		}
		release()
		return "", err
	}

	s.mu.Lock()
	if record.ContentHash != nil {
		s.index[contentKey{record.CapsuleID, *record.ContentHash, record.Size}] = id
	}
	if record.Source == memory.SourceInline {
		s.usage[record.CapsuleID] += record.Size
	}
	s.mu.Unlock()

	return id, nil
}

// FindContent looks up an existing record with the same capsule,
// content hash, and size. Returns the record ID and true on a hit.
func (s *Store) FindContent(capsuleID string, contentHash memory.Hash, size int64) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, found := s.index[contentKey{capsuleID, contentHash, size}]
	return id, found
}

// Exists reports whether a record with the given ID exists.
func (s *Store) Exists(recordID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, found := s.ids[recordID]
	return found
}

// Get loads a record's metadata from disk. The returned error wraps
// os.ErrNotExist when no record with this ID exists.
func (s *Store) Get(recordID string) (*memory.Record, error) {
	if !memory.ValidRecordID(recordID) {
		return nil, fmt.Errorf("invalid record ID %q", recordID)
	}

	data, err := os.ReadFile(s.path(recordID))
	if err != nil {
		return nil, fmt.Errorf("reading record %s: %w", recordID, err)
	}

	var record memory.Record
	if err := codec.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decoding record %s: %w", recordID, err)
	}
	return &record, nil
}

// ReadContent loads and verifies the content bytes of a record
// through the payload store. Fails for reference records, which store
// no content.
func (s *Store) ReadContent(record *memory.Record) ([]byte, error) {
	if s.payloads == nil {
		return nil, fmt.Errorf("store has no payload storage")
	}
	return s.payloads.Read(record)
}

// Len returns the number of records in the store.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// InlineUsage returns the inline bytes stored per capsule, as a copy.
// Only records created through the inline path count; chunked and
// reference records are exempt from the inline budget. Used to seed
// the usage accountant with the totals of records that predate this
// process.
func (s *Store) InlineUsage() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64, len(s.usage))
	for capsuleID, bytes := range s.usage {
		out[capsuleID] = bytes
	}
	return out
}

// contentIdentity returns the identity string fed into record ID
// generation: the content digest when known, otherwise the external
// locator.
func (s *Store) contentIdentity(record *memory.Record) string {
	if record.ContentHash != nil {
		return record.ContentHash.String()
	}
	if record.Origin != nil {
		return record.Origin.Kind + ":" + record.Origin.Locator
	}
	return ""
}

// writeMetadata atomically persists the record's metadata file via
// temp file + rename, so readers never see a partial write.
func (s *Store) writeMetadata(record *memory.Record) error {
	data, err := codec.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling record %s: %w", record.ID, err)
	}

	finalPath := s.path(record.ID)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("creating record shard directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(s.root, "record-*.cbor")
	if err != nil {
		return fmt.Errorf("creating temp record file: %w", err)
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
		return fmt.Errorf("writing record metadata: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp record file: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming record metadata to %s: %w", finalPath, err)
	}

	success = true
	return nil
}

// scan walks the record directory at startup and rebuilds the
// in-memory indexes. Filenames that do not parse as record IDs (temp
// files left by a crash) are skipped; files that fail to decode abort
// the scan, since a corrupt record store needs operator attention
// before serving traffic.
func (s *Store) scan() error {
	err := filepath.WalkDir(s.root, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}

		name := entry.Name()
		if !strings.HasSuffix(name, ".cbor") {
			return nil
		}
		id := strings.TrimSuffix(name, ".cbor")
		if !memory.ValidRecordID(id) {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading record %s: %w", path, err)
		}

		var record memory.Record
		if err := codec.Unmarshal(data, &record); err != nil {
			return fmt.Errorf("decoding record %s: %w", path, err)
		}

		s.ids[record.ID] = struct{}{}
		if record.ContentHash != nil {
			s.index[contentKey{record.CapsuleID, *record.ContentHash, record.Size}] = record.ID
		}
		if record.Source == memory.SourceInline {
			s.usage[record.CapsuleID] += record.Size
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning record directory: %w", err)
	}
	return nil
}

// path returns the sharded filesystem path for a record's metadata.
func (s *Store) path(recordID string) string {
	hex := strings.TrimPrefix(recordID, memory.RecordIDPrefix)
	return filepath.Join(s.root, hex[:2], hex[2:4], recordID+".cbor")
}
