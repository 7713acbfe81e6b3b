// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Ledger backend names for LedgerConfig.Backend.
const (
	// LedgerMemory keeps idempotency entries and usage counters
	// in-process. They are lost on restart; usage is rebuilt from the
	// record scan, and a retried request from before the restart may
	// create a duplicate record.
	LedgerMemory = "memory"

	// LedgerSQLite persists idempotency entries and usage counters in
	// a SQLite database, surviving restarts.
	LedgerSQLite = "sqlite"
)

// Config is the master configuration for Memoria.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Paths configures directory and socket locations.
	Paths PathsConfig `yaml:"paths"`

	// Limits configures the ingest size ceilings and budgets.
	Limits LimitsConfig `yaml:"limits"`

	// Ledger configures idempotency and usage durability.
	Ledger LedgerConfig `yaml:"ledger"`

	// Payload configures at-rest storage of content bytes.
	Payload PayloadConfig `yaml:"payload"`

	// Access configures the reference-access verifiers.
	Access AccessConfig `yaml:"access"`

	// Sweep configures the expired-session sweeper.
	Sweep SweepConfig `yaml:"sweep"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Paths   *PathsConfig   `yaml:"paths,omitempty"`
	Limits  *LimitsConfig  `yaml:"limits,omitempty"`
	Ledger  *LedgerConfig  `yaml:"ledger,omitempty"`
	Payload *PayloadConfig `yaml:"payload,omitempty"`
	Access  *AccessConfig  `yaml:"access,omitempty"`
	Sweep   *SweepConfig   `yaml:"sweep,omitempty"`
}

// PathsConfig configures directory and socket locations.
type PathsConfig struct {
	// Root is the base directory for Memoria data.
	Root string `yaml:"root"`

	// Store is where record metadata, payloads, and the capsule
	// registry live. Default: ${MEMORIA_ROOT}/store.
	Store string `yaml:"store"`

	// Socket is the Unix socket path for the ingest service.
	// Default: /run/memoria/ingest.sock
	Socket string `yaml:"socket"`
}

// LimitsConfig configures the ingest size ceilings and budgets. These
// values are published read-only through the service's limits action
// so clients can self-tune without hardcoding them.
type LimitsConfig struct {
	// InlineCeiling is the maximum content size in bytes accepted by
	// the inline ingest path. Default: 1 MiB.
	InlineCeiling int64 `yaml:"inline_ceiling"`

	// ChunkCeiling is the maximum bytes accepted per individual chunk
	// transfer. Default: 4 MiB.
	ChunkCeiling int64 `yaml:"chunk_ceiling"`

	// CapsuleBudget is the cumulative inline-storage byte budget per
	// capsule. Only inline-path bytes count against it. Default: 256 MiB.
	CapsuleBudget int64 `yaml:"capsule_budget"`

	// MaxChunkCount is the maximum number of chunks a single upload
	// session may declare. Default: 4096.
	MaxChunkCount int `yaml:"max_chunk_count"`

	// SessionTTL is how long an upload session stays reachable without
	// being finished or aborted, as a duration string. Default: 30m.
	SessionTTL string `yaml:"session_ttl"`
}

// LedgerConfig configures idempotency and usage durability.
type LedgerConfig struct {
	// Backend selects the ledger implementation: "memory" or "sqlite".
	// Default: sqlite.
	Backend string `yaml:"backend"`

	// Path is the SQLite database file for the sqlite backend.
	// Default: ${MEMORIA_ROOT}/ledger.db
	Path string `yaml:"path"`
}

// PayloadConfig configures at-rest storage of content bytes.
type PayloadConfig struct {
	// Compression selects the at-rest codec: "auto" (measure and pick),
	// "none", "lz4", or "zstd". Default: auto.
	Compression string `yaml:"compression"`

	// EncryptionKeyFile is the path to a 32-byte at-rest encryption
	// key. Empty disables payload encryption.
	EncryptionKeyFile string `yaml:"encryption_key_file"`
}

// AccessConfig configures the reference-access verifiers. Each
// storage kind gets its own backend; a kind left unconfigured denies
// all references into it.
type AccessConfig struct {
	// CapsuleFiles is the root of the capsule file area probed for
	// capsule-kind references. The area is managed outside the
	// service and never created or written here. Empty disables
	// capsule references.
	CapsuleFiles string `yaml:"capsule_files"`

	// ObjectStore configures the S3 client that probes object-store
	// references.
	ObjectStore ObjectStoreConfig `yaml:"object_store"`

	// Database is the SQLite blob database probed for database-kind
	// references. Empty disables database references.
	Database string `yaml:"database"`
}

// ObjectStoreConfig configures the S3 client for object-store
// reference probing. Credentials come from the standard AWS chain
// (environment, shared config, instance role), never from this file.
type ObjectStoreConfig struct {
	// Enabled turns object-store references on.
	Enabled bool `yaml:"enabled"`

	// Endpoint overrides the S3 endpoint for S3-compatible stores
	// such as MinIO or Ceph. Empty uses the AWS default.
	Endpoint string `yaml:"endpoint"`

	// Region is the bucket region. Default: us-east-1.
	Region string `yaml:"region"`

	// ForcePathStyle addresses buckets by path instead of virtual
	// host, which most S3-compatible stores require.
	ForcePathStyle bool `yaml:"force_path_style"`
}

// SweepConfig configures the expired-session sweeper.
type SweepConfig struct {
	// Interval is how often expired sessions are reclaimed, as a
	// duration string. "0" disables the sweeper (expiry still happens
	// lazily on access). Default: 1m.
	Interval string `yaml:"interval"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// They exist primarily to ensure all fields have sensible zero-values,
// not as a fallback - the config file is required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".local", "share", "memoria")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:   defaultRoot,
			Store:  filepath.Join(defaultRoot, "store"),
			Socket: "/run/memoria/ingest.sock",
		},
		Limits: LimitsConfig{
			InlineCeiling: 1 << 20,
			ChunkCeiling:  4 << 20,
			CapsuleBudget: 256 << 20,
			MaxChunkCount: 4096,
			SessionTTL:    "30m",
		},
		Ledger: LedgerConfig{
			Backend: LedgerSQLite,
			Path:    filepath.Join(defaultRoot, "ledger.db"),
		},
		Payload: PayloadConfig{
			Compression: "auto",
		},
		Access: AccessConfig{
			CapsuleFiles: filepath.Join(defaultRoot, "files"),
			ObjectStore: ObjectStoreConfig{
				Region: "us-east-1",
			},
		},
		Sweep: SweepConfig{
			Interval: "1m",
		},
	}
}

// Load loads configuration from the MEMORIA_CONFIG environment variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or defaults - if MEMORIA_CONFIG is not set, this fails.
// This ensures deterministic, auditable configuration with no hidden overrides.
func Load() (*Config, error) {
	configPath := os.Getenv("MEMORIA_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("MEMORIA_CONFIG environment variable not set; " +
			"set it to the path of your memoria.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables do not
// override config values - this ensures deterministic, auditable configuration.
// The only expansion performed is ${HOME} and similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	// Apply environment-specific overrides (development/staging/production sections in the file).
	cfg.applyEnvironmentOverrides()

	// Expand ${HOME} and similar variables in paths for portability.
	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, c)
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}

	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		if overrides.Paths.Root != "" {
			c.Paths.Root = overrides.Paths.Root
		}
		if overrides.Paths.Store != "" {
			c.Paths.Store = overrides.Paths.Store
		}
		if overrides.Paths.Socket != "" {
			c.Paths.Socket = overrides.Paths.Socket
		}
	}

	if overrides.Limits != nil {
		if overrides.Limits.InlineCeiling != 0 {
			c.Limits.InlineCeiling = overrides.Limits.InlineCeiling
		}
		if overrides.Limits.ChunkCeiling != 0 {
			c.Limits.ChunkCeiling = overrides.Limits.ChunkCeiling
		}
		if overrides.Limits.CapsuleBudget != 0 {
			c.Limits.CapsuleBudget = overrides.Limits.CapsuleBudget
		}
		if overrides.Limits.MaxChunkCount != 0 {
			c.Limits.MaxChunkCount = overrides.Limits.MaxChunkCount
		}
		if overrides.Limits.SessionTTL != "" {
			c.Limits.SessionTTL = overrides.Limits.SessionTTL
		}
	}

	if overrides.Ledger != nil {
		if overrides.Ledger.Backend != "" {
			c.Ledger.Backend = overrides.Ledger.Backend
		}
		if overrides.Ledger.Path != "" {
			c.Ledger.Path = overrides.Ledger.Path
		}
	}

	if overrides.Payload != nil {
		if overrides.Payload.Compression != "" {
			c.Payload.Compression = overrides.Payload.Compression
		}
		if overrides.Payload.EncryptionKeyFile != "" {
			c.Payload.EncryptionKeyFile = overrides.Payload.EncryptionKeyFile
		}
	}

	if overrides.Access != nil {
		if overrides.Access.CapsuleFiles != "" {
			c.Access.CapsuleFiles = overrides.Access.CapsuleFiles
		}
		if overrides.Access.Database != "" {
			c.Access.Database = overrides.Access.Database
		}
		// An enabled object-store override replaces the whole block,
		// since its booleans cannot merge field by field.
		if overrides.Access.ObjectStore.Enabled {
			c.Access.ObjectStore = overrides.Access.ObjectStore
		}
	}

	if overrides.Sweep != nil {
		if overrides.Sweep.Interval != "" {
			c.Sweep.Interval = overrides.Sweep.Interval
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"MEMORIA_ROOT": c.Paths.Root,
		"HOME":         os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["MEMORIA_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.Store = expandVars(c.Paths.Store, vars)
	c.Paths.Socket = expandVars(c.Paths.Socket, vars)
	c.Ledger.Path = expandVars(c.Ledger.Path, vars)
	c.Payload.EncryptionKeyFile = expandVars(c.Payload.EncryptionKeyFile, vars)
	c.Access.CapsuleFiles = expandVars(c.Access.CapsuleFiles, vars)
	c.Access.Database = expandVars(c.Access.Database, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if c.Paths.Store == "" {
		errs = append(errs, fmt.Errorf("paths.store is required"))
	}
	if c.Paths.Socket == "" {
		errs = append(errs, fmt.Errorf("paths.socket is required"))
	}

	if c.Limits.InlineCeiling <= 0 {
		errs = append(errs, fmt.Errorf("limits.inline_ceiling must be positive"))
	}
	if c.Limits.ChunkCeiling <= 0 {
		errs = append(errs, fmt.Errorf("limits.chunk_ceiling must be positive"))
	}
	if c.Limits.CapsuleBudget <= 0 {
		errs = append(errs, fmt.Errorf("limits.capsule_budget must be positive"))
	}
	if c.Limits.MaxChunkCount <= 0 {
		errs = append(errs, fmt.Errorf("limits.max_chunk_count must be positive"))
	}
	if ttl, err := time.ParseDuration(c.Limits.SessionTTL); err != nil {
		errs = append(errs, fmt.Errorf("limits.session_ttl: %w", err))
	} else if ttl <= 0 {
		errs = append(errs, fmt.Errorf("limits.session_ttl must be positive"))
	}

	switch c.Ledger.Backend {
	case LedgerMemory:
	case LedgerSQLite:
		if c.Ledger.Path == "" {
			errs = append(errs, fmt.Errorf("ledger.path is required for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("ledger.backend must be %q or %q", LedgerMemory, LedgerSQLite))
	}

	compressionValues := []string{"auto", "none", "lz4", "zstd"}
	if !contains(compressionValues, c.Payload.Compression) {
		errs = append(errs, fmt.Errorf("payload.compression must be one of: %v", compressionValues))
	}

	if c.Access.ObjectStore.Enabled && c.Access.ObjectStore.Region == "" {
		errs = append(errs, fmt.Errorf("access.object_store.region is required when the object store is enabled"))
	}

	if interval, err := time.ParseDuration(c.Sweep.Interval); err != nil {
		errs = append(errs, fmt.Errorf("sweep.interval: %w", err))
	} else if interval < 0 {
		errs = append(errs, fmt.Errorf("sweep.interval must not be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates all configured directories if they don't exist.
// For file paths (socket, ledger database) the parent directory is
// created.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.Paths.Root,
		c.Paths.Store,
		filepath.Dir(c.Paths.Socket),
	}
	if c.Ledger.Backend == LedgerSQLite && c.Ledger.Path != "" {
		paths = append(paths, filepath.Dir(c.Ledger.Path))
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
