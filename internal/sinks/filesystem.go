package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemSink implements the RepositoryV1/RepositoryV2 write sinks
// (spec.md §4.3): a full/partial match tree keyed by chain id and checksum
// address. Path sanitization follows the same "strip traversal, strip
// newlines" discipline as pkg/notifications/webhook.go's allowed-host
// validation — untrusted strings (addresses, chain ids) never reach the
// filesystem unsanitized.
type FilesystemSink struct {
	root       string
	identifier Identifier
}

// NewFilesystemSink constructs a sink rooted at root, serving either
// RepositoryV1 or RepositoryV2 semantics. Both write the same on-disk
// layout and the same files; the identifier only changes what Identifier
// reports, and no per-file content hashes are written for either.
func NewFilesystemSink(root string, identifier Identifier) *FilesystemSink {
	return &FilesystemSink{root: root, identifier: identifier}
}

// Identifier implements WriteSink.
func (f *FilesystemSink) Identifier() Identifier { return f.identifier }

// Init implements WriteSink by ensuring the root directory exists.
func (f *FilesystemSink) Init(ctx context.Context) error {
	return os.MkdirAll(f.root, 0755)
}

// StoreVerification implements WriteSink, writing
// contracts/{full|partial}_match/{chainId}/{checksumAddress}/... and, on a
// partial→perfect upgrade, removing the stale partial_match directory so
// only the better match is ever visible (spec.md §6 "Persisted state
// layout").
func (f *FilesystemSink) StoreVerification(ctx context.Context, result *VerificationResult, jobCtx *JobContext) error {
	matchDir := "partial_match"
	if result.RuntimeMatch == "perfect" {
		matchDir = "full_match"
	}

	chainID := sanitizeSegment(result.ChainID)
	address := sanitizeSegment(result.Address)
	dir := filepath.Join(f.root, "contracts", matchDir, chainID, address)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("filesystem sink: mkdir: %w", err)
	}

	metadata := map[string]any{
		"compiler":        result.CompiledContract.Compiler,
		"compilerVersion": result.CompiledContract.CompilerVersion,
		"language":        result.CompiledContract.Language,
		"runtimeMatch":    result.RuntimeMatch,
		"creationMatch":   result.CreationMatch,
	}
	metaBytes, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("filesystem sink: marshal metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "metadata.json"), metaBytes, 0644); err != nil {
		return fmt.Errorf("filesystem sink: write metadata: %w", err)
	}

	sourcesDir := filepath.Join(dir, "sources")
	if err := os.MkdirAll(sourcesDir, 0755); err != nil {
		return fmt.Errorf("filesystem sink: mkdir sources: %w", err)
	}
	for path, content := range result.Sources {
		leaf := sanitizePath(path)
		full := filepath.Join(sourcesDir, leaf)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return fmt.Errorf("filesystem sink: mkdir source parent: %w", err)
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			return fmt.Errorf("filesystem sink: write source: %w", err)
		}
	}

	if result.CreatorTxHash != nil {
		if err := os.WriteFile(filepath.Join(dir, "creator-tx-hash.txt"), []byte(*result.CreatorTxHash), 0644); err != nil {
			return fmt.Errorf("filesystem sink: write creator tx hash: %w", err)
		}
	}
	if result.ConstructorArgumentsHex != "" {
		if err := os.WriteFile(filepath.Join(dir, "constructor-args.txt"), []byte(result.ConstructorArgumentsHex), 0644); err != nil {
			return fmt.Errorf("filesystem sink: write constructor args: %w", err)
		}
	}

	if matchDir == "full_match" {
		f.removeStalePartial(chainID, address)
	}

	return nil
}

// removeStalePartial deletes a prior partial_match directory once a
// perfect match has been written, keeping exactly one directory visible
// per deployment as spec.md §6 requires.
func (f *FilesystemSink) removeStalePartial(chainID, address string) {
	stale := filepath.Join(f.root, "contracts", "partial_match", chainID, address)
	_ = os.RemoveAll(stale)
}

// sanitizeSegment strips traversal and newlines from a single path
// segment (a chain id or checksum address).
func sanitizeSegment(s string) string {
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "..", "")
	s = strings.ReplaceAll(s, string(filepath.Separator), "")
	return s
}

// sanitizePath cleans a source file path for safe placement under
// sources/: any ".." segment or absolute root is stripped, along with
// newlines.
func sanitizePath(p string) string {
	p = strings.ReplaceAll(p, "\n", "")
	p = strings.ReplaceAll(p, "\r", "")
	p = filepath.ToSlash(p)
	parts := strings.Split(p, "/")
	var clean []string
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			continue
		}
		clean = append(clean, part)
	}
	return filepath.Join(clean...)
}
