// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/memoria-archive/memoria/lib/capsule"
	"github.com/memoria-archive/memoria/lib/clock"
	"github.com/memoria-archive/memoria/lib/codec"
	"github.com/memoria-archive/memoria/lib/ingest"
	"github.com/memoria-archive/memoria/lib/memory"
	"github.com/memoria-archive/memoria/lib/service"
	"github.com/memoria-archive/memoria/lib/version"
)

// IngestService is the socket-facing surface of the ingest pipeline:
// it decodes action requests, calls into the ingestor, and maps
// failures onto the protocol's error taxonomy.
type IngestService struct {
	ingestor      *ingest.Ingestor
	directory     *capsule.FileDirectory
	store         *capsule.Store
	clock         clock.Clock
	startedAt     time.Time
	ledgerBackend string
	logger        *slog.Logger
}

// registerActions binds every protocol action to its handler.
func (s *IngestService) registerActions(server *service.SocketServer) {
	server.Handle(memory.ActionIngestReference, s.handleIngestReference)
	server.Handle(memory.ActionIngestInline, s.handleIngestInline)
	server.Handle(memory.ActionBeginChunked, s.handleBeginChunked)
	server.Handle(memory.ActionPutChunk, s.handlePutChunk)
	server.Handle(memory.ActionFinishChunked, s.handleFinishChunked)
	server.Handle(memory.ActionAbortChunked, s.handleAbortChunked)
	server.Handle(memory.ActionGetRecord, s.handleGetRecord)
	server.Handle(memory.ActionRegisterCapsule, s.handleRegisterCapsule)
	server.Handle(memory.ActionLimits, s.handleLimits)
	server.Handle(memory.ActionStatus, s.handleStatus)
}

// decodeRequest unmarshals the raw CBOR request into the
// action-specific struct. Failures are invalid-argument responses.
func decodeRequest(action string, raw []byte, target any) error {
	if err := codec.Unmarshal(raw, target); err != nil {
		return service.Coded(memory.CodeInvalidArgument, fmt.Errorf("invalid %s request: %w", action, err))
	}
	return nil
}

// ingestFailure attaches the taxonomy code to an ingest-path error for
// the response envelope.
func ingestFailure(err error) error {
	return service.Coded(ingest.ErrorCode(err), err)
}

func (s *IngestService) handleIngestReference(ctx context.Context, raw []byte) (any, error) {
	var request memory.IngestReferenceRequest
	if err := decodeRequest(memory.ActionIngestReference, raw, &request); err != nil {
		return nil, err
	}
	response, err := s.ingestor.IngestReference(ctx, &request)
	if err != nil {
		return nil, ingestFailure(err)
	}
	return response, nil
}

func (s *IngestService) handleIngestInline(ctx context.Context, raw []byte) (any, error) {
	var request memory.IngestInlineRequest
	if err := decodeRequest(memory.ActionIngestInline, raw, &request); err != nil {
		return nil, err
	}
	response, err := s.ingestor.IngestInline(ctx, &request)
	if err != nil {
		return nil, ingestFailure(err)
	}
	return response, nil
}

func (s *IngestService) handleBeginChunked(ctx context.Context, raw []byte) (any, error) {
	var request memory.BeginChunkedRequest
	if err := decodeRequest(memory.ActionBeginChunked, raw, &request); err != nil {
		return nil, err
	}
	response, err := s.ingestor.BeginChunked(ctx, &request)
	if err != nil {
		return nil, ingestFailure(err)
	}
	return response, nil
}

func (s *IngestService) handlePutChunk(ctx context.Context, raw []byte) (any, error) {
	var request memory.PutChunkRequest
	if err := decodeRequest(memory.ActionPutChunk, raw, &request); err != nil {
		return nil, err
	}
	response, err := s.ingestor.PutChunk(ctx, &request)
	if err != nil {
		return nil, ingestFailure(err)
	}
	return response, nil
}

func (s *IngestService) handleFinishChunked(ctx context.Context, raw []byte) (any, error) {
	var request memory.FinishChunkedRequest
	if err := decodeRequest(memory.ActionFinishChunked, raw, &request); err != nil {
		return nil, err
	}
	response, err := s.ingestor.FinishChunked(ctx, &request)
	if err != nil {
		return nil, ingestFailure(err)
	}
	return response, nil
}

func (s *IngestService) handleAbortChunked(ctx context.Context, raw []byte) (any, error) {
	var request memory.AbortChunkedRequest
	if err := decodeRequest(memory.ActionAbortChunked, raw, &request); err != nil {
		return nil, err
	}
	if err := s.ingestor.AbortChunked(ctx, &request); err != nil {
		return nil, ingestFailure(err)
	}
	return nil, nil
}

// handleGetRecord returns a record's metadata. Responses never carry
// content bytes; the payload stays in the store.
func (s *IngestService) handleGetRecord(ctx context.Context, raw []byte) (any, error) {
	var request memory.GetRecordRequest
	if err := decodeRequest(memory.ActionGetRecord, raw, &request); err != nil {
		return nil, err
	}
	if !memory.ValidRecordID(request.RecordID) {
		return nil, service.Coded(memory.CodeInvalidArgument, fmt.Errorf("invalid record ID %q", request.RecordID))
	}

	record, err := s.store.Get(request.RecordID)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, service.Coded(memory.CodeNotFound, fmt.Errorf("record %s not found", request.RecordID))
		}
		return nil, service.Coded(memory.CodeStorageUnavailable, err)
	}
	return record, nil
}

func (s *IngestService) handleRegisterCapsule(ctx context.Context, raw []byte) (any, error) {
	var request memory.RegisterCapsuleRequest
	if err := decodeRequest(memory.ActionRegisterCapsule, raw, &request); err != nil {
		return nil, err
	}
	if err := memory.ValidateCapsuleID(request.CapsuleID); err != nil {
		return nil, service.Coded(memory.CodeInvalidArgument, err)
	}

	if err := s.directory.Register(request.CapsuleID); err != nil {
		return nil, service.Coded(memory.CodeStorageUnavailable, err)
	}
	s.logger.Info("capsule registered", "capsule", request.CapsuleID)
	return nil, nil
}

// handleLimits publishes the ingest policy so clients can pick a path
// and chunk size without trial and error.
func (s *IngestService) handleLimits(ctx context.Context, raw []byte) (any, error) {
	limits := s.ingestor.Limits()
	return &memory.LimitsResponse{
		InlineCeiling:     limits.InlineCeiling,
		ChunkCeiling:      limits.ChunkCeiling,
		CapsuleBudget:     limits.CapsuleBudget,
		MaxChunkCount:     limits.MaxChunkCount,
		SessionTTLSeconds: int64(limits.SessionTTL / time.Second),
	}, nil
}

func (s *IngestService) handleStatus(ctx context.Context, raw []byte) (any, error) {
	uptime := s.clock.Now().Sub(s.startedAt)
	return &memory.StatusResponse{
		Version:       version.Short(),
		UptimeSeconds: int64(uptime / time.Second),
		Capsules:      s.directory.Count(),
		Records:       s.store.Len(),
		OpenSessions:  s.ingestor.OpenSessions(),
		LedgerBackend: s.ledgerBackend,
	}, nil
}
