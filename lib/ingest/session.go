// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memoria-archive/memoria/lib/clock"
	"github.com/memoria-archive/memoria/lib/memory"
)

// sessionState is the lifecycle position of one upload session.
//
// Open accepts chunks; completing means every declared chunk arrived
// and the session is waiting for finish. Finished, aborted, and
// expired are terminal: the session answers every operation with
// ErrSessionNotFound. Expiry is lazy; a session past its deadline is
// treated as expired on access whether or not the sweeper has marked
// it yet.
type sessionState int

const (
	stateOpen sessionState = iota
	stateCompleting
	stateFinished
	stateAborted
	stateExpired
)

// session is one in-flight chunked upload. All fields after mu are
// guarded by it.
type session struct {
	id        string
	capsuleID string

	// The client's declaration from begin-chunked. Finish verifies
	// the assembled content against all three.
	expectedHash memory.Hash
	expectedSize int64
	chunkCount   int

	contentType string
	attributes  map[string]string
	deadline    time.Time

	mu       sync.Mutex
	state    sessionState
	chunks   map[int][]byte
	received int64
}

// unreachable reports whether the session answers operations with
// ErrSessionNotFound: terminal state or past its deadline. Caller
// holds s.mu.
func (s *session) unreachable(now time.Time) bool {
	return s.state >= stateFinished || now.After(s.deadline)
}

// FinishResult is a successfully assembled upload: the verified
// content plus the session's declaration, everything finalization
// needs after the session is gone.
type FinishResult struct {
	CapsuleID   string
	Content     []byte
	ContentHash memory.Hash
	ContentType string
	Attributes  map[string]string
}

// SessionTable tracks in-flight chunked uploads. Each session has its
// own lock, so two uploads never contend; the table lock guards only
// the ID map and is never held during chunk work.
//
// Sessions are transient process state. A restart forgets them:
// clients see ErrSessionNotFound and restart the upload.
type SessionTable struct {
	limits Limits
	clock  clock.Clock

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewSessionTable creates an empty table enforcing the given limits.
func NewSessionTable(limits Limits, clk clock.Clock) *SessionTable {
	return &SessionTable{
		limits:   limits,
		clock:    clk,
		sessions: make(map[string]*session),
	}
}

// Begin opens a session for an upload declaring its complete content
// identity up front: hash, total size, and chunk count. Declaring at
// begin lets the table refuse impossible uploads before any chunk
// bytes move.
func (t *SessionTable) Begin(capsuleID string, expectedHash memory.Hash, totalSize int64, chunkCount int, contentType string, attributes map[string]string) (string, time.Time, error) {
	if expectedHash == (memory.Hash{}) {
		return "", time.Time{}, fmt.Errorf("%w: content hash declaration is required", ErrInvalidArgument)
	}
	if totalSize <= 0 {
		return "", time.Time{}, fmt.Errorf("%w: total size must be positive, got %d", ErrInvalidArgument, totalSize)
	}
	if chunkCount <= 0 {
		return "", time.Time{}, fmt.Errorf("%w: chunk count must be positive, got %d", ErrInvalidArgument, chunkCount)
	}
	if chunkCount > t.limits.MaxChunkCount {
		return "", time.Time{}, fmt.Errorf("%w: %d chunks exceeds the maximum of %d", ErrInvalidArgument, chunkCount, t.limits.MaxChunkCount)
	}
	if totalSize > int64(chunkCount)*t.limits.ChunkCeiling {
		return "", time.Time{}, fmt.Errorf("%w: %d bytes cannot arrive in %d chunks of at most %d bytes", ErrInvalidArgument, totalSize, chunkCount, t.limits.ChunkCeiling)
	}
	if totalSize < int64(chunkCount) {
		return "", time.Time{}, fmt.Errorf("%w: %d chunks cannot all be non-empty within %d bytes", ErrInvalidArgument, chunkCount, totalSize)
	}

	id := uuid.NewString()
	deadline := t.clock.Now().Add(t.limits.SessionTTL)

	t.mu.Lock()
	t.sessions[id] = &session{
		id:           id,
		capsuleID:    capsuleID,
		expectedHash: expectedHash,
		expectedSize: totalSize,
		chunkCount:   chunkCount,
		contentType:  contentType,
		attributes:   attributes,
		deadline:     deadline,
		chunks:       make(map[int][]byte, chunkCount),
	}
	t.mu.Unlock()

	return id, deadline, nil
}

// PutChunk stores one chunk. Chunks may arrive in any order; each
// index is accepted exactly once and previously stored bytes are
// never altered. The table takes ownership of content; the caller
// must not modify it afterwards.
//
// Returns the number of chunks received so far, the number still
// missing, and whether the session is now complete.
func (t *SessionTable) PutChunk(sessionID string, index int, content []byte) (received, remaining int, complete bool, err error) {
	if len(content) == 0 {
		return 0, 0, false, fmt.Errorf("%w: chunk %d is empty", ErrInvalidArgument, index)
	}
	if !t.limits.FitsChunk(int64(len(content))) {
		return 0, 0, false, fmt.Errorf("%w: chunk %d is %d bytes, ceiling is %d", ErrInvalidArgument, index, len(content), t.limits.ChunkCeiling)
	}

	s := t.lookup(sessionID)
	if s == nil {
		return 0, 0, false, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unreachable(t.clock.Now()) {
		return 0, 0, false, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	if index < 0 || index >= s.chunkCount {
		return 0, 0, false, fmt.Errorf("%w: chunk %d of a %d-chunk session", ErrChunkOutOfRange, index, s.chunkCount)
	}
	if _, taken := s.chunks[index]; taken {
		return 0, 0, false, fmt.Errorf("%w: chunk %d was already received", ErrDuplicateChunk, index)
	}
	if s.received+int64(len(content)) > s.expectedSize {
		return 0, 0, false, fmt.Errorf("%w: chunk %d would raise the session to %d bytes, %d were declared",
			ErrSizeMismatch, index, s.received+int64(len(content)), s.expectedSize)
	}

	s.chunks[index] = content
	s.received += int64(len(content))
	if len(s.chunks) == s.chunkCount {
		s.state = stateCompleting
	}

	return len(s.chunks), s.chunkCount - len(s.chunks), s.state == stateCompleting, nil
}

// Finish reassembles the session's chunks in ascending index order
// and verifies the result against both the begin-time declaration and
// the finish-time claim: size first, then digest. Only a successful
// finish consumes the session; on any mismatch it stays in the table
// for the client to abort, or for expiry to collect, and no record is
// produced.
func (t *SessionTable) Finish(sessionID string, expectedHash memory.Hash, totalSize int64) (*FinishResult, error) {
	s := t.lookup(sessionID)
	if s == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}

	// The session lock must be released before touching the table
	// lock again, so the terminal transition happens in finishLocked
	// and the map removal after.
	s.mu.Lock()
	result, err := t.finishLocked(s, expectedHash, totalSize)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	t.remove(sessionID)
	return result, nil
}

// finishLocked verifies and assembles under s.mu.
func (t *SessionTable) finishLocked(s *session, expectedHash memory.Hash, totalSize int64) (*FinishResult, error) {
	if s.unreachable(t.clock.Now()) {
		return nil, fmt.Errorf("session %s: %w", s.id, ErrSessionNotFound)
	}
	if len(s.chunks) < s.chunkCount {
		return nil, fmt.Errorf("%w: %d of %d chunks received", ErrIncompleteUpload, len(s.chunks), s.chunkCount)
	}

	content := make([]byte, 0, s.received)
	for index := range s.chunkCount {
		content = append(content, s.chunks[index]...)
	}

	if totalSize != s.expectedSize {
		return nil, fmt.Errorf("%w: finish declares %d bytes, session declared %d", ErrSizeMismatch, totalSize, s.expectedSize)
	}
	if int64(len(content)) != totalSize {
		return nil, fmt.Errorf("%w: assembled %d bytes, expected %d", ErrSizeMismatch, len(content), totalSize)
	}
	if expectedHash != s.expectedHash {
		return nil, fmt.Errorf("%w: finish digest differs from the session declaration", ErrHashMismatch)
	}
	if !VerifyContent(content, expectedHash) {
		return nil, fmt.Errorf("%w: assembled content does not match the declared digest", ErrHashMismatch)
	}

	s.state = stateFinished
	s.chunks = nil
	return &FinishResult{
		CapsuleID:   s.capsuleID,
		Content:     content,
		ContentHash: expectedHash,
		ContentType: s.contentType,
		Attributes:  s.attributes,
	}, nil
}

// Abort discards the session and its buffered chunks. Safe to call
// concurrently with PutChunk or Finish on the same session: whichever
// observes the terminal state second reports ErrSessionNotFound.
func (t *SessionTable) Abort(sessionID string) error {
	s := t.lookup(sessionID)
	if s == nil {
		return fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}

	s.mu.Lock()
	if s.unreachable(t.clock.Now()) {
		s.mu.Unlock()
		return fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	s.state = stateAborted
	s.chunks = nil
	s.mu.Unlock()

	t.remove(sessionID)
	return nil
}

// Sweep discards sessions past their deadline and returns how many it
// reclaimed. Purely a memory optimization: every lookup already
// treats expired sessions as absent.
func (t *SessionTable) Sweep() int {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	reclaimed := 0
	for id, s := range t.sessions {
		s.mu.Lock()
		expired := now.After(s.deadline)
		if expired && s.state < stateFinished {
			s.state = stateExpired
			s.chunks = nil
		}
		s.mu.Unlock()

		if expired {
			delete(t.sessions, id)
			reclaimed++
		}
	}
	return reclaimed
}

// Len returns the number of tracked sessions including expired ones
// the sweeper has not collected yet, for diagnostics.
func (t *SessionTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// OpenCount returns the number of reachable sessions, for the status
// surface.
func (t *SessionTable) OpenCount() int {
	now := t.clock.Now()

	t.mu.RLock()
	defer t.mu.RUnlock()

	open := 0
	for _, s := range t.sessions {
		s.mu.Lock()
		if !s.unreachable(now) {
			open++
		}
		s.mu.Unlock()
	}
	return open
}

// lookup fetches the session pointer without touching its state. The
// caller locks the session and re-checks reachability; a terminal
// state set between lookup and lock reads as not found.
func (t *SessionTable) lookup(sessionID string) *session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessions[sessionID]
}

func (t *SessionTable) remove(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionID)
}
