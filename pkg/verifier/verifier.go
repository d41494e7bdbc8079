// Package verifier defines the Verifier collaborator interface (spec.md §6,
// explicitly opaque: "treated as an opaque Compiler and an opaque Verifier
// that returns a VerificationResult") and a default implementation grounded
// on the indexer's pkg/verifier/verifier.go, generalized from a single
// runtime-bytecode string comparison to the canonical store's dual-axis
// (runtime, creation) match model with a transformation list per axis.
package verifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainverify/verifyd/internal/bytecode"
	"github.com/chainverify/verifyd/internal/codederr"
	"github.com/chainverify/verifyd/pkg/chain"
)

// Common errors.
var (
	ErrNoDeployedCode = errors.New("verifier: no deployed code at address")
)

// Compilation is the recompiled evidence for one contract, already resolved
// by the Compiler collaborator: bytecode plus the transformation lists the
// compiler's debug output identifies (library placeholders, immutables,
// constructor arguments, auxdata).
type Compilation struct {
	RuntimeBytecode          []byte
	CreationBytecode         []byte
	RuntimeTransformations   []bytecode.Transformation
	CreationTransformations  []bytecode.Transformation
	Metadata                 string // raw compiler metadata JSON; Verify does not read it
}

// DeploymentInfo is resolved alongside a match: the chain-side location of
// the deployment the Verifier compared against.
type DeploymentInfo struct {
	BlockNumber uint64
	TxIndex     uint64
	Deployer    string
}

// VerificationResult is the outcome of comparing a Compilation's bytecode
// against a Chain's on-chain bytecode for a single address.
type VerificationResult struct {
	RuntimeMatch            string // MatchStatus value: perfect, partial, null
	CreationMatch           string
	RuntimeTransformations  []bytecode.Transformation
	CreationTransformations []bytecode.Transformation
	RuntimeMetadataMatch    *bool
	CreationMetadataMatch   *bool
	DeploymentInfo          *DeploymentInfo
}

// Match status values, mirrored from internal/store.MatchStatus to avoid a
// dependency edge from this package onto the storage layer: verifier
// callers translate between the two at the boundary.
const (
	StatusPerfect = "perfect"
	StatusPartial = "partial"
	StatusNull    = "null"
)

// Verifier is the opaque collaborator the job engine and similarity path
// depend on.
type Verifier interface {
	// Verify compares compilation against the bytecode chain reports for
	// address, returning a VerificationResult or a codederr.CodedError
	// (e.g. contract_not_deployed, bytecode_mismatch).
	Verify(ctx context.Context, compilation *Compilation, c chain.Chain, address string, creatorTxHash *string) (*VerificationResult, error)
}

// BytecodeVerifier is the default Verifier: perfect when the raw bytes are
// identical, partial when they differ but agree once both sides are
// normalized against the compilation's transformation list.
type BytecodeVerifier struct{}

// NewBytecodeVerifier constructs the default Verifier.
func NewBytecodeVerifier() *BytecodeVerifier { return &BytecodeVerifier{} }

// Verify implements Verifier.
func (v *BytecodeVerifier) Verify(ctx context.Context, compilation *Compilation, c chain.Chain, address string, creatorTxHash *string) (*VerificationResult, error) {
	if compilation == nil {
		return nil, fmt.Errorf("verifier: compilation cannot be nil")
	}

	onChainRuntime, err := c.GetBytecode(ctx, address)
	if err != nil {
		if errors.Is(err, chain.ErrNoCode) {
			return nil, codederr.New(codederr.CodeContractNotDeployed, "no bytecode deployed at address", nil)
		}
		return nil, codederr.Wrap(codederr.CodeInternalError, err)
	}
	if len(onChainRuntime) == 0 {
		return nil, codederr.New(codederr.CodeContractNotDeployed, "no bytecode deployed at address", nil)
	}

	result := &VerificationResult{}

	runtimeStatus, runtimeMetaMatch := compareAxis(onChainRuntime, compilation.RuntimeBytecode, compilation.RuntimeTransformations)
	result.RuntimeMatch = runtimeStatus
	result.RuntimeMetadataMatch = runtimeMetaMatch
	if runtimeStatus != StatusNull {
		result.RuntimeTransformations = compilation.RuntimeTransformations
	}

	result.CreationMatch = StatusNull
	if creatorTxHash != nil {
		receipt, err := c.GetContractCreationBytecodeAndReceipt(ctx, address, creatorTxHash)
		if err == nil && receipt != nil {
			creationStatus, creationMetaMatch := compareAxis(receipt.CreationBytecode, compilation.CreationBytecode, compilation.CreationTransformations)
			result.CreationMatch = creationStatus
			result.CreationMetadataMatch = creationMetaMatch
			if creationStatus != StatusNull {
				result.CreationTransformations = compilation.CreationTransformations
			}
			result.DeploymentInfo = &DeploymentInfo{
				BlockNumber: receipt.BlockNumber,
				TxIndex:     receipt.TxIndex,
				Deployer:    receipt.Deployer,
			}
		}
	}

	if result.RuntimeMatch == StatusNull && result.CreationMatch == StatusNull {
		return nil, codederr.New(codederr.CodeBytecodeMismatch, "recompiled bytecode does not match on-chain bytecode on either axis", nil)
	}

	return result, nil
}

// compareAxis normalizes both sides against transformations and classifies
// the result: perfect on exact byte equality, partial when the raw bytes
// differ but the normalized bytes match, null otherwise.
func compareAxis(onChain, recompiled []byte, transformations []bytecode.Transformation) (status string, metadataMatch *bool) {
	if len(recompiled) == 0 {
		return StatusNull, nil
	}

	normalizedOnChain := bytecode.Normalize(onChain, transformations)
	normalizedRecompiled := bytecode.Normalize(recompiled, transformations)

	if bytesEqual(onChain, recompiled) {
		t := true
		return StatusPerfect, &t
	}
	if bytesEqual(normalizedOnChain, normalizedRecompiled) {
		f := false
		return StatusPartial, &f
	}
	return StatusNull, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
