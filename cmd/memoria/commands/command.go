// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the memoria CLI command tree for talking to
// the ingest service over its Unix socket.
//
// The connection defaults to the service's standard socket path.
// Override with the --socket flag or the MEMORIA_SOCKET environment
// variable.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/memoria-archive/memoria/cmd/memoria/cli"
	"github.com/memoria-archive/memoria/lib/memory"
	"github.com/memoria-archive/memoria/lib/service"
	"github.com/memoria-archive/memoria/lib/version"
)

// defaultSocketPath is where the ingest service listens unless its
// configuration moves it. Matches the service's own default.
const defaultSocketPath = "/run/memoria/ingest.sock"

// Root builds the complete memoria CLI command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "memoria",
		Description: `Memoria: capsule memory ingestion.

Store memory records in the ingest service: small content inline,
large content through chunked upload sessions, and external blobs by
reference. Records are content-addressed within their capsule and
deduplicated automatically.`,
		Subcommands: []*cli.Command{
			ingestCommand(),
			referenceCommand(),
			getCommand(),
			registerCapsuleCommand(),
			limitsCommand(),
			statusCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Printf("memoria %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Register a capsule, then store a note in it",
				Command:     "memoria register-capsule alice.notes && memoria ingest alice.notes note.md",
			},
			{
				Description: "Store from stdin with an idempotency key",
				Command:     "generate-report | memoria ingest alice.notes --key report-2026-06",
			},
			{
				Description: "Record an object-store blob by reference",
				Command:     "memoria reference alice.notes object-store backups/2026/archive.tar",
			},
			{
				Description: "Inspect a stored record",
				Command:     "memoria get mem-4a1f09b2c3d4",
			},
			{
				Description: "Show the service's size ceilings",
				Command:     "memoria limits",
			},
		},
	}
}

// serviceConnection carries the --socket flag shared by every command
// that talks to the ingest service.
type serviceConnection struct {
	SocketPath string
}

// addFlags registers the --socket flag. The default comes from the
// MEMORIA_SOCKET environment variable when set, otherwise the
// service's standard socket path.
func (c *serviceConnection) addFlags(flagSet *pflag.FlagSet) {
	socketDefault := defaultSocketPath
	if envSocket := os.Getenv("MEMORIA_SOCKET"); envSocket != "" {
		socketDefault = envSocket
	}
	flagSet.StringVar(&c.SocketPath, "socket", socketDefault, "ingest service socket path")
}

// client builds a service client for the configured socket.
func (c *serviceConnection) client() *service.ServiceClient {
	return service.NewServiceClient(c.SocketPath)
}

// formatSize returns a human-readable byte count.
func formatSize(bytes int64) string {
	switch {
	case bytes >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(1<<30))
	case bytes >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(1<<20))
	case bytes >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// writeJSON prints value as indented JSON on stdout. Backs the --json
// flag on commands whose default output is a table.
func writeJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

// parseAttributes converts repeated --attr key=value flags into the
// attribute map sent with ingest requests.
func parseAttributes(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	attributes := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid attribute %q: want key=value", pair)
		}
		attributes[key] = value
	}
	return attributes, nil
}

// readContent reads the upload content from the named file, or from
// stdin when no file argument is given (or the argument is "-").
func readContent(args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		content, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return content, nil
	}
	content, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", args[0], err)
	}
	return content, nil
}

// chunkCount returns the number of chunks needed to carry totalSize
// bytes in chunks of at most chunkSize.
func chunkCount(totalSize, chunkSize int64) int {
	return int((totalSize + chunkSize - 1) / chunkSize)
}

// --- ingest ---

type ingestParams struct {
	serviceConnection
	ContentType string
	Key         string
	Attributes  []string
	JSON        bool
}

func ingestCommand() *cli.Command {
	var params ingestParams

	return &cli.Command{
		Name:    "ingest",
		Summary: "Store content as a memory record",
		Usage:   "memoria ingest <capsule-id> [file] [flags]",
		Description: `Store content in a capsule.

Reads from the named file, or from stdin when no file is given (or the
file is "-"). The record ID is printed to stdout on success.

The upload path is chosen automatically: content up to the service's
inline ceiling is sent in a single request, larger content goes
through a chunked upload session sized to the service's chunk ceiling.
Content already present in the capsule resolves to the existing record
instead of storing a copy.`,
		Examples: []cli.Example{
			{
				Description: "Store a file",
				Command:     "memoria ingest alice.notes note.md",
			},
			{
				Description: "Store from stdin with a media type",
				Command:     "cat report.csv | memoria ingest alice.notes --content-type text/csv",
			},
			{
				Description: "Attach attributes to the record",
				Command:     "memoria ingest alice.notes note.md --attr project=memoria --attr draft=yes",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("ingest", pflag.ContinueOnError)
			params.addFlags(flagSet)
			flagSet.StringVar(&params.ContentType, "content-type", "", "media type of the content")
			flagSet.StringVar(&params.Key, "key", "", "idempotency key (inline uploads only)")
			flagSet.StringArrayVar(&params.Attributes, "attr", nil, "record attribute as key=value (repeatable)")
			flagSet.BoolVar(&params.JSON, "json", false, "print the full response as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("capsule-id argument required\n\nUsage: memoria ingest <capsule-id> [file] [flags]")
			}
			capsuleID := args[0]

			content, err := readContent(args[1:])
			if err != nil {
				return err
			}
			attributes, err := parseAttributes(params.Attributes)
			if err != nil {
				return err
			}

			ctx := context.Background()
			client := params.client()

			var limits memory.LimitsResponse
			if err := client.Call(ctx, memory.ActionLimits, nil, &limits); err != nil {
				return err
			}

			var response *memory.IngestResponse
			if int64(len(content)) <= limits.InlineCeiling {
				response, err = ingestInline(ctx, client, capsuleID, content, &params, attributes)
			} else {
				response, err = ingestChunked(ctx, client, capsuleID, content, limits, &params, attributes)
			}
			if err != nil {
				return err
			}

			if params.JSON {
				return writeJSON(response)
			}
			// The note goes to stderr so stdout stays just the record
			// ID for pipelines.
			if response.Deduplicated {
				fmt.Fprintln(os.Stderr, "already stored; returning the existing record")
			}
			fmt.Println(response.RecordID)
			return nil
		},
	}
}

// ingestInline sends the content in a single request.
func ingestInline(ctx context.Context, client *service.ServiceClient, capsuleID string, content []byte, params *ingestParams, attributes map[string]string) (*memory.IngestResponse, error) {
	request := memory.IngestInlineRequest{
		CapsuleID:      capsuleID,
		IdempotencyKey: params.Key,
		Content:        content,
		ContentType:    params.ContentType,
		Attributes:     attributes,
	}

	var response memory.IngestResponse
	if err := client.Call(ctx, memory.ActionIngestInline, request, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// ingestChunked drives an upload session: begin with the declared hash
// and size, send every chunk, then finish. The session is aborted on
// any failure after begin so the service does not hold the partial
// upload until its TTL expires.
func ingestChunked(ctx context.Context, client *service.ServiceClient, capsuleID string, content []byte, limits memory.LimitsResponse, params *ingestParams, attributes map[string]string) (*memory.IngestResponse, error) {
	if params.Key != "" {
		return nil, fmt.Errorf("--key applies to inline uploads only; content of %s exceeds the %s inline ceiling",
			formatSize(int64(len(content))), formatSize(limits.InlineCeiling))
	}

	chunkSize := limits.ChunkCeiling
	if chunkSize <= 0 {
		return nil, fmt.Errorf("service reports chunk ceiling %d", chunkSize)
	}
	totalSize := int64(len(content))
	chunks := chunkCount(totalSize, chunkSize)
	if limits.MaxChunkCount > 0 && chunks > limits.MaxChunkCount {
		return nil, fmt.Errorf("content of %s needs %d chunks, above the service maximum of %d",
			formatSize(totalSize), chunks, limits.MaxChunkCount)
	}

	// The session declares the content digest up front, which is why
	// the whole content is buffered rather than streamed.
	contentHash := memory.HashContent(content)

	beginRequest := memory.BeginChunkedRequest{
		CapsuleID:   capsuleID,
		ContentHash: contentHash,
		TotalSize:   totalSize,
		ChunkCount:  chunks,
		ContentType: params.ContentType,
		Attributes:  attributes,
	}
	var begin memory.BeginChunkedResponse
	if err := client.Call(ctx, memory.ActionBeginChunked, beginRequest, &begin); err != nil {
		return nil, err
	}

	for index := 0; index < chunks; index++ {
		start := int64(index) * chunkSize
		end := min(start+chunkSize, totalSize)
		putRequest := memory.PutChunkRequest{
			SessionID: begin.SessionID,
			Index:     index,
			Content:   content[start:end],
		}
		if err := client.Call(ctx, memory.ActionPutChunk, putRequest, nil); err != nil {
			abortSession(client, begin.SessionID)
			return nil, fmt.Errorf("uploading chunk %d of %d: %w", index+1, chunks, err)
		}
	}

	finishRequest := memory.FinishChunkedRequest{
		SessionID:   begin.SessionID,
		ContentHash: contentHash,
		TotalSize:   totalSize,
	}
	var response memory.IngestResponse
	if err := client.Call(ctx, memory.ActionFinishChunked, finishRequest, &response); err != nil {
		abortSession(client, begin.SessionID)
		return nil, err
	}
	return &response, nil
}

// abortSession is best-effort cleanup after a failed upload. Errors
// are ignored: a session that survives the abort expires on its own.
func abortSession(client *service.ServiceClient, sessionID string) {
	request := memory.AbortChunkedRequest{SessionID: sessionID}
	client.Call(context.Background(), memory.ActionAbortChunked, request, nil)
}

// --- reference ---

type referenceParams struct {
	serviceConnection
	ContentType string
	Key         string
	Attributes  []string
	Hash        string
	Size        int64
	JSON        bool
}

func referenceCommand() *cli.Command {
	var params referenceParams

	return &cli.Command{
		Name:    "reference",
		Summary: "Record external content without copying it",
		Usage:   "memoria reference <capsule-id> <kind> <locator> [flags]",
		Description: `Record content that lives in an external store.

The service verifies the reference is accessible and creates a record
pointing at it; the bytes are never copied. Kind must be one of:

  capsule       a path relative to the capsule's file area
  object-store  a bucket/key locator
  database      an opaque database blob ID

Pass --hash when the content digest is known: records with a digest
participate in content deduplication, records without one never do.`,
		Examples: []cli.Example{
			{
				Description: "Reference a file in the capsule's storage area",
				Command:     "memoria reference alice.notes capsule notes/report.txt",
			},
			{
				Description: "Reference an object-store blob with a known digest",
				Command:     "memoria reference alice.notes object-store backups/archive.tar --hash 9f86d081884c7d65... --size 1048576",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("reference", pflag.ContinueOnError)
			params.addFlags(flagSet)
			flagSet.StringVar(&params.ContentType, "content-type", "", "media type of the referenced content")
			flagSet.StringVar(&params.Key, "key", "", "idempotency key")
			flagSet.StringArrayVar(&params.Attributes, "attr", nil, "record attribute as key=value (repeatable)")
			flagSet.StringVar(&params.Hash, "hash", "", "hex SHA-256 digest of the referenced content")
			flagSet.Int64Var(&params.Size, "size", 0, "byte length of the referenced content")
			flagSet.BoolVar(&params.JSON, "json", false, "print the full response as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) < 3 {
				return fmt.Errorf("capsule-id, kind, and locator arguments required\n\nUsage: memoria reference <capsule-id> <kind> <locator> [flags]")
			}
			attributes, err := parseAttributes(params.Attributes)
			if err != nil {
				return err
			}

			reference := memory.Reference{
				Kind:    args[1],
				Locator: args[2],
				Size:    params.Size,
			}
			if params.Hash != "" {
				hash, err := memory.ParseHash(params.Hash)
				if err != nil {
					return err
				}
				reference.ContentHash = &hash
			}

			request := memory.IngestReferenceRequest{
				CapsuleID:      args[0],
				IdempotencyKey: params.Key,
				Reference:      reference,
				ContentType:    params.ContentType,
				Attributes:     attributes,
			}
			var response memory.IngestResponse
			if err := params.client().Call(context.Background(), memory.ActionIngestReference, request, &response); err != nil {
				return err
			}

			if params.JSON {
				return writeJSON(&response)
			}
			if response.Deduplicated {
				fmt.Fprintln(os.Stderr, "already recorded; returning the existing record")
			}
			fmt.Println(response.RecordID)
			return nil
		},
	}
}

// --- get ---

type getParams struct {
	serviceConnection
	JSON bool
}

func getCommand() *cli.Command {
	var params getParams

	return &cli.Command{
		Name:    "get",
		Summary: "Show a record's metadata",
		Usage:   "memoria get <record-id> [flags]",
		Description: `Display the metadata of a stored record.

The service returns metadata only; record content never travels over
the control socket.`,
		Examples: []cli.Example{
			{
				Description: "Show a record",
				Command:     "memoria get mem-4a1f09b2c3d4",
			},
			{
				Description: "Show a record as JSON",
				Command:     "memoria get mem-4a1f09b2c3d4 --json",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("get", pflag.ContinueOnError)
			params.addFlags(flagSet)
			flagSet.BoolVar(&params.JSON, "json", false, "print the record as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("record-id argument required\n\nUsage: memoria get <record-id> [flags]")
			}

			request := memory.GetRecordRequest{RecordID: args[0]}
			var record memory.Record
			if err := params.client().Call(context.Background(), memory.ActionGetRecord, request, &record); err != nil {
				return err
			}

			if params.JSON {
				return writeJSON(&record)
			}

			writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(writer, "ID:\t%s\n", record.ID)
			fmt.Fprintf(writer, "Capsule:\t%s\n", record.CapsuleID)
			if record.ContentHash != nil {
				fmt.Fprintf(writer, "Hash:\t%s\n", record.ContentHash)
			}
			fmt.Fprintf(writer, "Size:\t%s (%d bytes)\n", formatSize(record.Size), record.Size)
			if record.ContentType != "" {
				fmt.Fprintf(writer, "Content-Type:\t%s\n", record.ContentType)
			}
			fmt.Fprintf(writer, "Source:\t%s\n", record.Source)
			if record.Origin != nil {
				fmt.Fprintf(writer, "Origin:\t%s %s\n", record.Origin.Kind, record.Origin.Locator)
			}
			if record.Payload != nil {
				fmt.Fprintf(writer, "Compression:\t%s\n", record.Payload.Compression)
				fmt.Fprintf(writer, "Stored Size:\t%s (%d bytes)\n", formatSize(record.Payload.StoredSize), record.Payload.StoredSize)
				fmt.Fprintf(writer, "Encrypted:\t%t\n", record.Payload.Encrypted)
			}
			attributeKeys := make([]string, 0, len(record.Attributes))
			for key := range record.Attributes {
				attributeKeys = append(attributeKeys, key)
			}
			sort.Strings(attributeKeys)
			for _, key := range attributeKeys {
				fmt.Fprintf(writer, "Attr %s:\t%s\n", key, record.Attributes[key])
			}
			fmt.Fprintf(writer, "Created:\t%s\n", record.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
			writer.Flush()
			return nil
		},
	}
}

// --- register-capsule ---

type registerCapsuleParams struct {
	serviceConnection
}

func registerCapsuleCommand() *cli.Command {
	var params registerCapsuleParams

	return &cli.Command{
		Name:    "register-capsule",
		Summary: "Register a capsule with the ingest service",
		Usage:   "memoria register-capsule <capsule-id> [flags]",
		Description: `Make a capsule known to the ingest service.

Ingests are only accepted into registered capsules. Registration is
idempotent: registering an existing capsule succeeds without change.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("register-capsule", pflag.ContinueOnError)
			params.addFlags(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("capsule-id argument required\n\nUsage: memoria register-capsule <capsule-id> [flags]")
			}

			request := memory.RegisterCapsuleRequest{CapsuleID: args[0]}
			if err := params.client().Call(context.Background(), memory.ActionRegisterCapsule, request, nil); err != nil {
				return err
			}

			fmt.Printf("registered: %s\n", args[0])
			return nil
		},
	}
}

// --- limits ---

type limitsParams struct {
	serviceConnection
	JSON bool
}

func limitsCommand() *cli.Command {
	var params limitsParams

	return &cli.Command{
		Name:    "limits",
		Summary: "Show the service's ingest limits",
		Usage:   "memoria limits [flags]",
		Description: `Show the service's configured size ceilings, per-capsule budget,
and session lifetime. The ingest command queries the same values to
choose between the inline and chunked paths.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("limits", pflag.ContinueOnError)
			params.addFlags(flagSet)
			flagSet.BoolVar(&params.JSON, "json", false, "print the limits as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			var limits memory.LimitsResponse
			if err := params.client().Call(context.Background(), memory.ActionLimits, nil, &limits); err != nil {
				return err
			}

			if params.JSON {
				return writeJSON(&limits)
			}

			writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(writer, "Inline ceiling:\t%s\n", formatSize(limits.InlineCeiling))
			fmt.Fprintf(writer, "Chunk ceiling:\t%s\n", formatSize(limits.ChunkCeiling))
			fmt.Fprintf(writer, "Capsule budget:\t%s\n", formatSize(limits.CapsuleBudget))
			fmt.Fprintf(writer, "Max chunk count:\t%d\n", limits.MaxChunkCount)
			fmt.Fprintf(writer, "Session TTL:\t%s\n", time.Duration(limits.SessionTTLSeconds)*time.Second)
			writer.Flush()
			return nil
		},
	}
}

// --- status ---

type statusParams struct {
	serviceConnection
	JSON bool
}

func statusCommand() *cli.Command {
	var params statusParams

	return &cli.Command{
		Name:    "status",
		Summary: "Show ingest service status",
		Usage:   "memoria status [flags]",
		Description: `Show service liveness: version, uptime, and how many capsules,
records, and open upload sessions the service is holding.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			params.addFlags(flagSet)
			flagSet.BoolVar(&params.JSON, "json", false, "print the status as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			var status memory.StatusResponse
			if err := params.client().Call(context.Background(), memory.ActionStatus, nil, &status); err != nil {
				return err
			}

			if params.JSON {
				return writeJSON(&status)
			}

			writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(writer, "Version:\t%s\n", status.Version)
			fmt.Fprintf(writer, "Uptime:\t%s\n", time.Duration(status.UptimeSeconds)*time.Second)
			fmt.Fprintf(writer, "Capsules:\t%d\n", status.Capsules)
			fmt.Fprintf(writer, "Records:\t%d\n", status.Records)
			fmt.Fprintf(writer, "Open sessions:\t%d\n", status.OpenSessions)
			fmt.Fprintf(writer, "Ledger backend:\t%s\n", status.LedgerBackend)
			writer.Flush()
			return nil
		},
	}
}
