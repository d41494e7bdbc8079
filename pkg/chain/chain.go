// Package chain defines the Chain collaborator interface (spec.md §6) and
// two implementations: a live go-ethereum RPC client, adapted from the
// indexer's client/client.go dial/ping pattern, and a SyntheticChain
// adapter (§4.7, §9 "synthetic chain adapter") built entirely from stored
// deployment data so the same Verifier can run against replayed evidence.
package chain

import (
	"context"
	"errors"
)

// ErrNoCode is returned by GetBytecode when an address has no deployed
// bytecode ("0x"), mapping to contract_not_deployed upstream.
var ErrNoCode = errors.New("chain: no code at address")

// TxInfo is the subset of a transaction's context the Verifier needs.
type TxInfo struct {
	BlockNumber uint64
	From        string
}

// CreationReceipt is the creation bytecode plus the receipt location
// needed to resolve creator-tx-derived deployment metadata.
type CreationReceipt struct {
	CreationBytecode []byte
	TxIndex          uint64
	Deployer         string
	BlockNumber      uint64
}

// Chain is the opaque collaborator for on-chain reads. A single
// implementation signature serves both the live path and, through
// SyntheticChain, the replay/similarity path.
type Chain interface {
	// GetBytecode returns the runtime bytecode deployed at addr. Returns
	// ErrNoCode if nothing is deployed there.
	GetBytecode(ctx context.Context, addr string) ([]byte, error)

	// GetTx returns the block number and sender of a transaction hash.
	GetTx(ctx context.Context, hash string) (*TxInfo, error)

	// GetContractCreationBytecodeAndReceipt resolves the creation
	// bytecode and receipt location for a deployment, given the address
	// and, if known, its creator transaction hash.
	GetContractCreationBytecodeAndReceipt(ctx context.Context, addr string, creatorTxHash *string) (*CreationReceipt, error)
}
