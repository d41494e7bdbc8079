package sinks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainverify/verifyd/internal/store"
)

func TestStoreReadSinkRoundTripsWrittenVerification(t *testing.T) {
	s, err := store.OpenInMemory(zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	writeSink := NewCanonicalStoreSink(s)
	result := &VerificationResult{
		ChainID:       "1",
		Address:       "0xabc",
		RuntimeMatch:  store.StatusPerfect,
		CreationMatch: store.StatusNull,
		CompiledContract: store.CompiledContract{
			Compiler:           "solc",
			Language:           "Solidity",
			CompilerVersion:    "0.8.20",
			FullyQualifiedName: "contract.sol:Foo",
		},
		Sources:                   map[string]string{"contract.sol": "pragma solidity ^0.8.20; contract Foo {}"},
		OnChainRuntimeBytecode:    []byte{0x60, 0x60, 0x60, 0x40},
		RecompiledRuntimeBytecode: []byte{0x60, 0x60, 0x60, 0x40},
	}
	require.NoError(t, writeSink.StoreVerification(context.Background(), result, nil))

	readSink := NewStoreReadSink(s)
	match, err := readSink.GetByChainAndAddress(context.Background(), "1", "0xabc")
	require.NoError(t, err)
	assert.Equal(t, store.StatusPerfect, match.RuntimeMatch)

	files, err := readSink.GetFiles(context.Background(), "1", "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "pragma solidity ^0.8.20; contract Foo {}", string(files["contract.sol"]))
}

func TestStoreReadSinkMissingDeploymentReturnsNotFound(t *testing.T) {
	s, err := store.OpenInMemory(zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	readSink := NewStoreReadSink(s)
	_, err = readSink.GetByChainAndAddress(context.Background(), "999", "0xdeadbeef")
	require.ErrorIs(t, err, store.ErrNotFound)
}
