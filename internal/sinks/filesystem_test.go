package sinks

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainverify/verifyd/internal/store"
)

func TestFilesystemSinkWritesPartialMatchTree(t *testing.T) {
	dir := t.TempDir()
	sink := NewFilesystemSink(dir, IdentifierRepositoryV1)
	require.NoError(t, sink.Init(context.Background()))

	result := &VerificationResult{
		ChainID: "1",
		Address: "0xAbC",
		RuntimeMatch: store.StatusPartial,
		CreationMatch: store.StatusNull,
		Sources: map[string]string{"contract.sol": "contract Foo {}"},
	}
	require.NoError(t, sink.StoreVerification(context.Background(), result, nil))

	base := filepath.Join(dir, "contracts", "partial_match", "1", "0xAbC")
	_, err := os.Stat(filepath.Join(base, "metadata.json"))
	assert.NoError(t, err)
	content, err := os.ReadFile(filepath.Join(base, "sources", "contract.sol"))
	require.NoError(t, err)
	assert.Equal(t, "contract Foo {}", string(content))
}

func TestFilesystemSinkUpgradeRemovesStalePartial(t *testing.T) {
	dir := t.TempDir()
	sink := NewFilesystemSink(dir, IdentifierRepositoryV1)
	require.NoError(t, sink.Init(context.Background()))

	partial := &VerificationResult{ChainID: "1", Address: "0xAbC", RuntimeMatch: store.StatusPartial}
	require.NoError(t, sink.StoreVerification(context.Background(), partial, nil))

	perfect := &VerificationResult{ChainID: "1", Address: "0xAbC", RuntimeMatch: store.StatusPerfect}
	require.NoError(t, sink.StoreVerification(context.Background(), perfect, nil))

	_, err := os.Stat(filepath.Join(dir, "contracts", "partial_match", "1", "0xAbC"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "contracts", "full_match", "1", "0xAbC", "metadata.json"))
	assert.NoError(t, err)
}

func TestSanitizePathStripsTraversal(t *testing.T) {
	assert.Equal(t, filepath.Join("etc", "passwd"), sanitizePath("../../etc/passwd"))
	assert.Equal(t, "contract.sol", sanitizePath("./contract.sol"))
	assert.Equal(t, filepath.Join("nested", "nested", "file.sol"), sanitizePath("nested/../nested/file.sol\n"))
}

func TestSanitizeSegmentStripsTraversalAndNewlines(t *testing.T) {
	assert.Equal(t, "0xabc", sanitizeSegment("0x../abc\n"))
}
