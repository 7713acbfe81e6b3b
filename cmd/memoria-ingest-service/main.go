// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/memoria-archive/memoria/lib/access"
	"github.com/memoria-archive/memoria/lib/capsule"
	"github.com/memoria-archive/memoria/lib/clock"
	"github.com/memoria-archive/memoria/lib/config"
	"github.com/memoria-archive/memoria/lib/ingest"
	"github.com/memoria-archive/memoria/lib/service"
	"github.com/memoria-archive/memoria/lib/sqlitepool"
	"github.com/memoria-archive/memoria/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "configuration file path (default: $MEMORIA_CONFIG)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("memoria-ingest-service %s\n", version.Info())
		return nil
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := service.NewLogger()

	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// At-rest payload encryption. The key is loaded into guarded
	// memory before any store construction so a failure aborts startup
	// while nothing else holds resources.
	var keys *capsule.Keys
	if cfg.Payload.EncryptionKeyFile != "" {
		keys, err = capsule.LoadKeys(cfg.Payload.EncryptionKeyFile)
		if err != nil {
			return err
		}
		defer keys.Close()
		logger.Info("payload encryption enabled")
	}

	payloads, err := capsule.NewPayloadStore(filepath.Join(cfg.Paths.Store, "payloads"), cfg.Payload.Compression, keys)
	if err != nil {
		return err
	}

	// The store scan rebuilds the record ID set, the dedup index, and
	// per-capsule inline usage totals from the metadata files.
	store, err := capsule.NewStore(filepath.Join(cfg.Paths.Store, "records"), payloads)
	if err != nil {
		return err
	}
	logger.Info("record store loaded", "records", store.Len())

	directory, err := capsule.NewFileDirectory(filepath.Join(cfg.Paths.Store, "capsules"))
	if err != nil {
		return err
	}

	// Idempotency ledger and usage accounting share one durability
	// choice: both in SQLite (one pool, survives restarts) or both in
	// memory (usage reseeded from the store scan, idempotency keys
	// forgotten on restart).
	var ledger ingest.Ledger
	var usage ingest.UsageAccountant
	switch cfg.Ledger.Backend {
	case config.LedgerSQLite:
		pool, err := sqlitepool.Open(sqlitepool.Config{
			Path:   cfg.Ledger.Path,
			Logger: logger,
		})
		if err != nil {
			return err
		}
		defer pool.Close()

		ledger, err = ingest.NewSQLiteLedger(ctx, pool, store.Exists)
		if err != nil {
			return err
		}
		usage, err = ingest.NewSQLiteUsage(ctx, pool, cfg.Limits.CapsuleBudget)
		if err != nil {
			return err
		}
	case config.LedgerMemory:
		ledger = ingest.NewMemoryLedger(store.Exists)
		usage = ingest.NewMemoryUsage(cfg.Limits.CapsuleBudget, store.InlineUsage())
	default:
		return fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
	}

	verifiers, closeVerifiers, err := buildVerifiers(cfg, logger)
	if err != nil {
		return err
	}
	defer closeVerifiers()

	// SessionTTL and the sweep interval were validated as durations at
	// config load.
	sessionTTL, err := time.ParseDuration(cfg.Limits.SessionTTL)
	if err != nil {
		return fmt.Errorf("limits.session_ttl: %w", err)
	}
	sweepInterval, err := time.ParseDuration(cfg.Sweep.Interval)
	if err != nil {
		return fmt.Errorf("sweep.interval: %w", err)
	}

	clk := clock.Real()

	ingestor, err := ingest.New(ingest.Config{
		Limits: ingest.Limits{
			InlineCeiling: cfg.Limits.InlineCeiling,
			ChunkCeiling:  cfg.Limits.ChunkCeiling,
			CapsuleBudget: cfg.Limits.CapsuleBudget,
			MaxChunkCount: cfg.Limits.MaxChunkCount,
			SessionTTL:    sessionTTL,
		},
		Directory: directory,
		Store:     store,
		Verifier:  verifiers,
		Ledger:    ledger,
		Usage:     usage,
		Clock:     clk,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	ingestService := &IngestService{
		ingestor:      ingestor,
		directory:     directory,
		store:         store,
		clock:         clk,
		startedAt:     clk.Now(),
		ledgerBackend: cfg.Ledger.Backend,
		logger:        logger,
	}

	server := service.NewSocketServer(cfg.Paths.Socket, logger)
	ingestService.registerActions(server)

	// Inline ingest and chunk delivery carry content in the request
	// body. The envelope allowance covers the CBOR framing plus the
	// metadata fields riding alongside the content.
	const envelopeAllowance = 64 * 1024
	ceiling := cfg.Limits.InlineCeiling
	if cfg.Limits.ChunkCeiling > ceiling {
		ceiling = cfg.Limits.ChunkCeiling
	}
	server.SetMaxRequestSize(ceiling + envelopeAllowance)

	// The sweeper reclaims chunk buffers of abandoned sessions.
	// Correctness never depends on it: expiry is enforced lazily on
	// every session access.
	if sweepInterval > 0 {
		sweeper := ingestor.NewSweeper(sweepInterval, logger)
		go sweeper.Run(ctx)
	} else {
		logger.Info("session sweeper disabled")
	}

	socketDone := make(chan error, 1)
	go func() {
		socketDone <- server.Serve(ctx)
	}()

	logger.Info("ingest service running",
		"socket", cfg.Paths.Socket,
		"environment", cfg.Environment,
		"ledger", cfg.Ledger.Backend,
		"records", store.Len(),
		"capsules", directory.Count(),
		"encrypted", payloads.Encrypting(),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	// Wait for the socket listener to drain active connections.
	if err := <-socketDone; err != nil {
		logger.Error("socket listener error", "error", err)
	}

	return nil
}

// buildVerifiers assembles the reference-access verifier set from the
// access configuration. Storage kinds left unconfigured stay nil in
// the set, and references into them are denied. The returned cleanup
// releases whatever backends the set opened.
func buildVerifiers(cfg *config.Config, logger *slog.Logger) (*access.VerifierSet, func(), error) {
	set := &access.VerifierSet{}
	cleanup := func() {}

	if cfg.Access.CapsuleFiles != "" {
		verifier, err := access.NewCapsuleVerifier(cfg.Access.CapsuleFiles)
		if err != nil {
			return nil, nil, err
		}
		set.Capsule = verifier
		logger.Info("capsule reference verification enabled", "root", cfg.Access.CapsuleFiles)
	}

	if cfg.Access.ObjectStore.Enabled {
		// Credentials come from the standard AWS chain; the config only
		// carries endpoint and addressing choices.
		awsSession, err := session.NewSession(&aws.Config{
			Endpoint:         nonEmpty(cfg.Access.ObjectStore.Endpoint),
			Region:           aws.String(cfg.Access.ObjectStore.Region),
			S3ForcePathStyle: aws.Bool(cfg.Access.ObjectStore.ForcePathStyle),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("creating object store session: %w", err)
		}
		set.ObjectStore = access.NewObjectStoreVerifier(s3.New(awsSession))
		logger.Info("object-store reference verification enabled",
			"region", cfg.Access.ObjectStore.Region,
			"endpoint", cfg.Access.ObjectStore.Endpoint,
		)
	}

	if cfg.Access.Database != "" {
		pool, err := sqlitepool.Open(sqlitepool.Config{
			Path:     cfg.Access.Database,
			PoolSize: 2,
			Logger:   logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("opening blob database: %w", err)
		}
		set.Database = access.NewDatabaseVerifier(pool)
		cleanup = func() { pool.Close() }
		logger.Info("database reference verification enabled", "path", cfg.Access.Database)
	}

	return set, cleanup, nil
}

// nonEmpty returns a *string for the AWS config, or nil so the SDK
// default applies.
func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}
