// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/memoria-archive/memoria/lib/access"
	"github.com/memoria-archive/memoria/lib/capsule"
	"github.com/memoria-archive/memoria/lib/clock"
	"github.com/memoria-archive/memoria/lib/config"
	"github.com/memoria-archive/memoria/lib/ingest"
	"github.com/memoria-archive/memoria/lib/memory"
	"github.com/memoria-archive/memoria/lib/service"
	"github.com/memoria-archive/memoria/lib/testutil"
	"github.com/memoria-archive/memoria/lib/version"
)

var serviceTestTime = time.Date(2026, 6, 2, 8, 0, 0, 0, time.UTC)

// serviceTestLimits are small enough that quota and ceiling failures
// are cheap to provoke through the socket. The capsule budget equals
// the inline ceiling so a single maximal inline ingest exhausts it.
func serviceTestLimits() ingest.Limits {
	return ingest.Limits{
		InlineCeiling: 8192,
		ChunkCeiling:  4096,
		CapsuleBudget: 8192,
		MaxChunkCount: 64,
		SessionTTL:    15 * time.Minute,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// serviceHarness is a full ingest service running on a real socket:
// file-backed stores in a temp directory, memory ledger and usage,
// capsule-file reference verification over filesRoot, and a fake
// clock.
type serviceHarness struct {
	*IngestService
	client    *service.ServiceClient
	filesRoot string
}

func startTestService(t *testing.T, capsuleIDs ...string) *serviceHarness {
	t.Helper()
	dir := t.TempDir()

	payloads, err := capsule.NewPayloadStore(filepath.Join(dir, "payloads"), capsule.CompressionModeAuto, nil)
	if err != nil {
		t.Fatal(err)
	}
	store, err := capsule.NewStore(filepath.Join(dir, "records"), payloads)
	if err != nil {
		t.Fatal(err)
	}
	directory, err := capsule.NewFileDirectory(filepath.Join(dir, "capsules"))
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range capsuleIDs {
		if err := directory.Register(id); err != nil {
			t.Fatal(err)
		}
	}

	filesRoot := filepath.Join(dir, "files")
	if err := os.MkdirAll(filesRoot, 0o755); err != nil {
		t.Fatal(err)
	}
	capsuleVerifier, err := access.NewCapsuleVerifier(filesRoot)
	if err != nil {
		t.Fatal(err)
	}

	limits := serviceTestLimits()
	clk := clock.Fake(serviceTestTime)

	ingestor, err := ingest.New(ingest.Config{
		Limits:    limits,
		Directory: directory,
		Store:     store,
		Verifier:  &access.VerifierSet{Capsule: capsuleVerifier},
		Ledger:    ingest.NewMemoryLedger(store.Exists),
		Usage:     ingest.NewMemoryUsage(limits.CapsuleBudget, store.InlineUsage()),
		Clock:     clk,
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}

	svc := &IngestService{
		ingestor:      ingestor,
		directory:     directory,
		store:         store,
		clock:         clk,
		startedAt:     clk.Now(),
		ledgerBackend: config.LedgerMemory,
		logger:        testLogger(),
	}

	socketPath := filepath.Join(testutil.SocketDir(t), "ingest.sock")
	server := service.NewSocketServer(socketPath, testLogger())
	svc.registerActions(server)
	server.SetMaxRequestSize(limits.InlineCeiling + 64*1024)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		server.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		testutil.RequireClosed(t, done, 5*time.Second, "socket server did not stop")
	})
	waitForSocket(t, socketPath)

	return &serviceHarness{
		IngestService: svc,
		client:        service.NewServiceClient(socketPath),
		filesRoot:     filesRoot,
	}
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	for {
		if _, err := os.Stat(path); err == nil {
			return
		}
		if t.Context().Err() != nil {
			t.Fatalf("socket %s did not appear before test context expired", path)
		}
		runtime.Gosched()
	}
}

// requireServiceError asserts that err is a server-side failure with
// the given taxonomy code.
func requireServiceError(t *testing.T, err error, code string) *service.ServiceError {
	t.Helper()
	var serviceErr *service.ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("expected a service error with code %q, got %v", code, err)
	}
	if serviceErr.Code != code {
		t.Fatalf("expected code %q, got %q (message: %s)", code, serviceErr.Code, serviceErr.Message)
	}
	return serviceErr
}

func TestServiceInlineIngest(t *testing.T) {
	h := startTestService(t, "cap-a")
	ctx := context.Background()
	content := []byte("inline content over the socket")

	var response memory.IngestResponse
	err := h.client.Call(ctx, memory.ActionIngestInline, &memory.IngestInlineRequest{
		CapsuleID:      "cap-a",
		IdempotencyKey: "key-1",
		Content:        content,
		ContentType:    "text/plain",
	}, &response)
	if err != nil {
		t.Fatalf("ingest-inline failed: %v", err)
	}
	if response.RecordID == "" {
		t.Fatal("response has no record ID")
	}
	if response.Deduplicated {
		t.Error("first ingest reported as deduplicated")
	}
	if response.Size != int64(len(content)) {
		t.Errorf("expected size %d, got %d", len(content), response.Size)
	}
	wantHash := memory.HashContent(content)
	if response.ContentHash == nil || *response.ContentHash != wantHash {
		t.Errorf("response hash %v does not match content digest", response.ContentHash)
	}

	// The record is fetchable with matching metadata and no content
	// bytes in the response.
	var record memory.Record
	err = h.client.Call(ctx, memory.ActionGetRecord, &memory.GetRecordRequest{
		RecordID: response.RecordID,
	}, &record)
	if err != nil {
		t.Fatalf("get-record failed: %v", err)
	}
	if record.CapsuleID != "cap-a" {
		t.Errorf("expected capsule cap-a, got %s", record.CapsuleID)
	}
	if record.Source != memory.SourceInline {
		t.Errorf("expected source inline, got %s", record.Source)
	}
	if record.ContentType != "text/plain" {
		t.Errorf("expected content type text/plain, got %s", record.ContentType)
	}
	if !record.CreatedAt.Equal(serviceTestTime) {
		t.Errorf("expected creation time %v, got %v", serviceTestTime, record.CreatedAt)
	}

	// A retry bearing the same idempotency key replays the outcome.
	var retry memory.IngestResponse
	err = h.client.Call(ctx, memory.ActionIngestInline, &memory.IngestInlineRequest{
		CapsuleID:      "cap-a",
		IdempotencyKey: "key-1",
		Content:        content,
		ContentType:    "text/plain",
	}, &retry)
	if err != nil {
		t.Fatalf("retried ingest-inline failed: %v", err)
	}
	if retry.RecordID != response.RecordID {
		t.Errorf("retry created record %s, want %s", retry.RecordID, response.RecordID)
	}
	if !retry.Deduplicated {
		t.Error("retry not reported as deduplicated")
	}
	if h.store.Len() != 1 {
		t.Errorf("expected 1 record in the store, got %d", h.store.Len())
	}
}

func TestServiceInlineFailureCodes(t *testing.T) {
	h := startTestService(t, "cap-a")
	ctx := context.Background()

	tests := []struct {
		name    string
		request *memory.IngestInlineRequest
		code    string
	}{
		{
			name: "unregistered capsule",
			request: &memory.IngestInlineRequest{
				CapsuleID: "cap-ghost",
				Content:   []byte("x"),
			},
			code: memory.CodeNotFound,
		},
		{
			name: "empty content",
			request: &memory.IngestInlineRequest{
				CapsuleID: "cap-a",
			},
			code: memory.CodeInvalidArgument,
		},
		{
			name: "content over the inline ceiling",
			request: &memory.IngestInlineRequest{
				CapsuleID: "cap-a",
				Content:   bytes.Repeat([]byte{0x41}, int(serviceTestLimits().InlineCeiling)+1),
			},
			code: memory.CodeInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.client.Call(ctx, memory.ActionIngestInline, tt.request, nil)
			requireServiceError(t, err, tt.code)
		})
	}

	if h.store.Len() != 0 {
		t.Errorf("failed ingests left %d records behind", h.store.Len())
	}
}

func TestServiceInlineQuotaExceeded(t *testing.T) {
	h := startTestService(t, "cap-a")
	ctx := context.Background()
	limits := serviceTestLimits()

	// One maximal inline ingest consumes the whole budget.
	err := h.client.Call(ctx, memory.ActionIngestInline, &memory.IngestInlineRequest{
		CapsuleID: "cap-a",
		Content:   bytes.Repeat([]byte{0x42}, int(limits.CapsuleBudget)),
	}, nil)
	if err != nil {
		t.Fatalf("budget-filling ingest failed: %v", err)
	}

	err = h.client.Call(ctx, memory.ActionIngestInline, &memory.IngestInlineRequest{
		CapsuleID: "cap-a",
		Content:   []byte("o"),
	}, nil)
	requireServiceError(t, err, memory.CodeQuotaExceeded)

	// Another capsule still has its full budget.
	if err := h.directory.Register("cap-b"); err != nil {
		t.Fatal(err)
	}
	err = h.client.Call(ctx, memory.ActionIngestInline, &memory.IngestInlineRequest{
		CapsuleID: "cap-b",
		Content:   []byte("o"),
	}, nil)
	if err != nil {
		t.Fatalf("ingest into fresh capsule failed: %v", err)
	}
}

func TestServiceChunkedUpload(t *testing.T) {
	h := startTestService(t, "cap-a")
	ctx := context.Background()
	limits := serviceTestLimits()

	// Three chunks totalling more than the capsule budget: chunked
	// content is exempt from the inline budget.
	content := make([]byte, 9000)
	for i := range content {
		content[i] = byte(i % 251)
	}
	chunks := [][]byte{
		content[:limits.ChunkCeiling],
		content[limits.ChunkCeiling : 2*limits.ChunkCeiling],
		content[2*limits.ChunkCeiling:],
	}
	contentHash := memory.HashContent(content)

	var begin memory.BeginChunkedResponse
	err := h.client.Call(ctx, memory.ActionBeginChunked, &memory.BeginChunkedRequest{
		CapsuleID:   "cap-a",
		ContentHash: contentHash,
		TotalSize:   int64(len(content)),
		ChunkCount:  len(chunks),
		ContentType: "application/octet-stream",
	}, &begin)
	if err != nil {
		t.Fatalf("begin-chunked failed: %v", err)
	}
	if begin.SessionID == "" {
		t.Fatal("no session ID returned")
	}
	wantExpiry := serviceTestTime.Add(limits.SessionTTL)
	if !begin.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("expected expiry %v, got %v", wantExpiry, begin.ExpiresAt)
	}

	// Deliver out of order; progress counts distinct chunks.
	order := []int{2, 0, 1}
	for delivered, index := range order {
		var progress memory.PutChunkResponse
		err := h.client.Call(ctx, memory.ActionPutChunk, &memory.PutChunkRequest{
			SessionID: begin.SessionID,
			Index:     index,
			Content:   chunks[index],
		}, &progress)
		if err != nil {
			t.Fatalf("put-chunk %d failed: %v", index, err)
		}
		if progress.Received != delivered+1 {
			t.Errorf("after chunk %d: received=%d, want %d", index, progress.Received, delivered+1)
		}
		if progress.Complete != (delivered == len(order)-1) {
			t.Errorf("after chunk %d: complete=%v", index, progress.Complete)
		}
	}

	var finish memory.IngestResponse
	err = h.client.Call(ctx, memory.ActionFinishChunked, &memory.FinishChunkedRequest{
		SessionID:   begin.SessionID,
		ContentHash: contentHash,
		TotalSize:   int64(len(content)),
	}, &finish)
	if err != nil {
		t.Fatalf("finish-chunked failed: %v", err)
	}
	if finish.Size != int64(len(content)) {
		t.Errorf("expected size %d, got %d", len(content), finish.Size)
	}

	var record memory.Record
	if err := h.client.Call(ctx, memory.ActionGetRecord, &memory.GetRecordRequest{RecordID: finish.RecordID}, &record); err != nil {
		t.Fatalf("get-record failed: %v", err)
	}
	if record.Source != memory.SourceChunked {
		t.Errorf("expected source chunked, got %s", record.Source)
	}

	// The session was consumed; a retried finish reports not_found.
	err = h.client.Call(ctx, memory.ActionFinishChunked, &memory.FinishChunkedRequest{
		SessionID:   begin.SessionID,
		ContentHash: contentHash,
		TotalSize:   int64(len(content)),
	}, nil)
	requireServiceError(t, err, memory.CodeNotFound)
}

func TestServiceChunkedFailureCodes(t *testing.T) {
	h := startTestService(t, "cap-a")
	ctx := context.Background()

	content := []byte("two small chunks of session content")
	contentHash := memory.HashContent(content)

	var begin memory.BeginChunkedResponse
	err := h.client.Call(ctx, memory.ActionBeginChunked, &memory.BeginChunkedRequest{
		CapsuleID:   "cap-a",
		ContentHash: contentHash,
		TotalSize:   int64(len(content)),
		ChunkCount:  2,
	}, &begin)
	if err != nil {
		t.Fatalf("begin-chunked failed: %v", err)
	}

	putChunk := func(index int, chunk []byte) error {
		return h.client.Call(ctx, memory.ActionPutChunk, &memory.PutChunkRequest{
			SessionID: begin.SessionID,
			Index:     index,
			Content:   chunk,
		}, nil)
	}

	// Finish before any chunk arrived.
	err = h.client.Call(ctx, memory.ActionFinishChunked, &memory.FinishChunkedRequest{
		SessionID:   begin.SessionID,
		ContentHash: contentHash,
		TotalSize:   int64(len(content)),
	}, nil)
	requireServiceError(t, err, memory.CodeIncompleteUpload)

	if err := putChunk(0, content[:20]); err != nil {
		t.Fatalf("put-chunk failed: %v", err)
	}
	requireServiceError(t, putChunk(0, content[:20]), memory.CodeDuplicateChunk)
	requireServiceError(t, putChunk(2, content[20:]), memory.CodeChunkOutOfRange)

	if err := putChunk(1, content[20:]); err != nil {
		t.Fatalf("put-chunk failed: %v", err)
	}

	// A finish whose declared size disagrees with the session leaves
	// it open for a corrected retry.
	err = h.client.Call(ctx, memory.ActionFinishChunked, &memory.FinishChunkedRequest{
		SessionID:   begin.SessionID,
		ContentHash: contentHash,
		TotalSize:   int64(len(content)) + 1,
	}, nil)
	requireServiceError(t, err, memory.CodeSizeMismatch)

	err = h.client.Call(ctx, memory.ActionFinishChunked, &memory.FinishChunkedRequest{
		SessionID:   begin.SessionID,
		ContentHash: contentHash,
		TotalSize:   int64(len(content)),
	}, nil)
	if err != nil {
		t.Fatalf("corrected finish failed: %v", err)
	}
}

func TestServiceAbortChunked(t *testing.T) {
	h := startTestService(t, "cap-a")
	ctx := context.Background()

	content := []byte("abandoned upload")
	var begin memory.BeginChunkedResponse
	err := h.client.Call(ctx, memory.ActionBeginChunked, &memory.BeginChunkedRequest{
		CapsuleID:   "cap-a",
		ContentHash: memory.HashContent(content),
		TotalSize:   int64(len(content)),
		ChunkCount:  1,
	}, &begin)
	if err != nil {
		t.Fatalf("begin-chunked failed: %v", err)
	}

	if err := h.client.Call(ctx, memory.ActionAbortChunked, &memory.AbortChunkedRequest{SessionID: begin.SessionID}, nil); err != nil {
		t.Fatalf("abort-chunked failed: %v", err)
	}

	// The session is gone for every subsequent operation.
	err = h.client.Call(ctx, memory.ActionAbortChunked, &memory.AbortChunkedRequest{SessionID: begin.SessionID}, nil)
	requireServiceError(t, err, memory.CodeNotFound)
	if h.ingestor.OpenSessions() != 0 {
		t.Errorf("expected 0 open sessions, got %d", h.ingestor.OpenSessions())
	}
}

func TestServiceReferenceIngest(t *testing.T) {
	h := startTestService(t, "cap-a")
	ctx := context.Background()

	// A real file in the capsule file area.
	fileContent := []byte("referenced report body")
	if err := os.MkdirAll(filepath.Join(h.filesRoot, "notes"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(h.filesRoot, "notes", "report.txt"), fileContent, 0o644); err != nil {
		t.Fatal(err)
	}

	var response memory.IngestResponse
	err := h.client.Call(ctx, memory.ActionIngestReference, &memory.IngestReferenceRequest{
		CapsuleID: "cap-a",
		Reference: memory.Reference{
			Kind:    memory.StorageCapsule,
			Locator: "notes/report.txt",
			Size:    int64(len(fileContent)),
		},
		ContentType: "text/plain",
	}, &response)
	if err != nil {
		t.Fatalf("ingest-reference failed: %v", err)
	}

	var record memory.Record
	if err := h.client.Call(ctx, memory.ActionGetRecord, &memory.GetRecordRequest{RecordID: response.RecordID}, &record); err != nil {
		t.Fatalf("get-record failed: %v", err)
	}
	if record.Source != memory.SourceReference {
		t.Errorf("expected source reference, got %s", record.Source)
	}
	if record.Origin == nil || record.Origin.Locator != "notes/report.txt" {
		t.Errorf("record origin %+v does not carry the reference", record.Origin)
	}
	if record.Payload != nil {
		t.Error("reference record has a stored payload")
	}

	// A reference to a file the area does not hold is denied.
	err = h.client.Call(ctx, memory.ActionIngestReference, &memory.IngestReferenceRequest{
		CapsuleID: "cap-a",
		Reference: memory.Reference{
			Kind:    memory.StorageCapsule,
			Locator: "notes/absent.txt",
		},
	}, nil)
	requireServiceError(t, err, memory.CodeAccessDenied)

	// Object-store references are not configured in this deployment.
	err = h.client.Call(ctx, memory.ActionIngestReference, &memory.IngestReferenceRequest{
		CapsuleID: "cap-a",
		Reference: memory.Reference{
			Kind:    memory.StorageObjectStore,
			Locator: "bucket/key",
		},
	}, nil)
	requireServiceError(t, err, memory.CodeAccessDenied)

	// Malformed references never reach the verifier.
	err = h.client.Call(ctx, memory.ActionIngestReference, &memory.IngestReferenceRequest{
		CapsuleID: "cap-a",
		Reference: memory.Reference{Kind: "tape-archive", Locator: "x"},
	}, nil)
	requireServiceError(t, err, memory.CodeInvalidArgument)
}

func TestServiceGetRecordErrors(t *testing.T) {
	h := startTestService(t, "cap-a")
	ctx := context.Background()

	err := h.client.Call(ctx, memory.ActionGetRecord, &memory.GetRecordRequest{
		RecordID: "mem-000000000000",
	}, nil)
	requireServiceError(t, err, memory.CodeNotFound)

	err = h.client.Call(ctx, memory.ActionGetRecord, &memory.GetRecordRequest{
		RecordID: "record-1",
	}, nil)
	requireServiceError(t, err, memory.CodeInvalidArgument)
}

func TestServiceRegisterCapsule(t *testing.T) {
	h := startTestService(t)
	ctx := context.Background()

	// Ingest into an unknown capsule fails, registration fixes it.
	err := h.client.Call(ctx, memory.ActionIngestInline, &memory.IngestInlineRequest{
		CapsuleID: "cap-fresh",
		Content:   []byte("x"),
	}, nil)
	requireServiceError(t, err, memory.CodeNotFound)

	if err := h.client.Call(ctx, memory.ActionRegisterCapsule, &memory.RegisterCapsuleRequest{CapsuleID: "cap-fresh"}, nil); err != nil {
		t.Fatalf("register-capsule failed: %v", err)
	}
	// Registration is idempotent.
	if err := h.client.Call(ctx, memory.ActionRegisterCapsule, &memory.RegisterCapsuleRequest{CapsuleID: "cap-fresh"}, nil); err != nil {
		t.Fatalf("repeated register-capsule failed: %v", err)
	}

	err = h.client.Call(ctx, memory.ActionIngestInline, &memory.IngestInlineRequest{
		CapsuleID: "cap-fresh",
		Content:   []byte("x"),
	}, nil)
	if err != nil {
		t.Fatalf("ingest after registration failed: %v", err)
	}

	err = h.client.Call(ctx, memory.ActionRegisterCapsule, &memory.RegisterCapsuleRequest{CapsuleID: "../escape"}, nil)
	requireServiceError(t, err, memory.CodeInvalidArgument)
}

func TestServiceLimits(t *testing.T) {
	h := startTestService(t)
	ctx := context.Background()
	want := serviceTestLimits()

	var limits memory.LimitsResponse
	if err := h.client.Call(ctx, memory.ActionLimits, nil, &limits); err != nil {
		t.Fatalf("limits failed: %v", err)
	}

	if limits.InlineCeiling != want.InlineCeiling {
		t.Errorf("inline ceiling %d, want %d", limits.InlineCeiling, want.InlineCeiling)
	}
	if limits.ChunkCeiling != want.ChunkCeiling {
		t.Errorf("chunk ceiling %d, want %d", limits.ChunkCeiling, want.ChunkCeiling)
	}
	if limits.CapsuleBudget != want.CapsuleBudget {
		t.Errorf("capsule budget %d, want %d", limits.CapsuleBudget, want.CapsuleBudget)
	}
	if limits.MaxChunkCount != want.MaxChunkCount {
		t.Errorf("max chunk count %d, want %d", limits.MaxChunkCount, want.MaxChunkCount)
	}
	if limits.SessionTTLSeconds != int64(want.SessionTTL/time.Second) {
		t.Errorf("session TTL %ds, want %ds", limits.SessionTTLSeconds, int64(want.SessionTTL/time.Second))
	}
}

func TestServiceStatus(t *testing.T) {
	h := startTestService(t, "cap-a", "cap-b")
	ctx := context.Background()

	if err := h.client.Call(ctx, memory.ActionIngestInline, &memory.IngestInlineRequest{
		CapsuleID: "cap-a",
		Content:   []byte("status fixture"),
	}, nil); err != nil {
		t.Fatalf("ingest-inline failed: %v", err)
	}

	content := []byte("open session fixture")
	if err := h.client.Call(ctx, memory.ActionBeginChunked, &memory.BeginChunkedRequest{
		CapsuleID:   "cap-a",
		ContentHash: memory.HashContent(content),
		TotalSize:   int64(len(content)),
		ChunkCount:  1,
	}, nil); err != nil {
		t.Fatalf("begin-chunked failed: %v", err)
	}

	var status memory.StatusResponse
	if err := h.client.Call(ctx, memory.ActionStatus, nil, &status); err != nil {
		t.Fatalf("status failed: %v", err)
	}

	if status.Version != version.Short() {
		t.Errorf("version %q, want %q", status.Version, version.Short())
	}
	if status.Capsules != 2 {
		t.Errorf("capsules %d, want 2", status.Capsules)
	}
	if status.Records != 1 {
		t.Errorf("records %d, want 1", status.Records)
	}
	if status.OpenSessions != 1 {
		t.Errorf("open sessions %d, want 1", status.OpenSessions)
	}
	if status.LedgerBackend != config.LedgerMemory {
		t.Errorf("ledger backend %q, want %q", status.LedgerBackend, config.LedgerMemory)
	}
}

func TestServiceUnknownAction(t *testing.T) {
	h := startTestService(t)
	ctx := context.Background()

	err := h.client.Call(ctx, "defragment", nil, nil)
	var serviceErr *service.ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("expected a service error, got %v", err)
	}
	if serviceErr.Code != "" {
		t.Errorf("unknown action carries code %q, want none", serviceErr.Code)
	}
}
