// Package sinks implements the WriteSink collaborator (spec.md §4.3): a
// handful of concrete destinations a verified contract's result is fanned
// out to, each with its own idempotency and validation rules. Grounded on
// the teacher's storage/pebble.go for the canonical sink and
// pkg/notifications/webhook.go's sanitized-path handling style for the
// filesystem sink.
package sinks

import (
	"context"

	"github.com/chainverify/verifyd/internal/codederr"
	"github.com/chainverify/verifyd/internal/store"
)

// Identifier enumerates the fixed set of sink kinds named in spec.md §4.3.
type Identifier string

const (
	IdentifierSourcifyDatabase Identifier = "SourcifyDatabase"
	IdentifierAllianceDatabase Identifier = "AllianceDatabase"
	IdentifierRepositoryV1     Identifier = "RepositoryV1"
	IdentifierRepositoryV2     Identifier = "RepositoryV2"
	IdentifierS3Repository     Identifier = "S3Repository"
	IdentifierEtherscanVerify  Identifier = "EtherscanVerify"
	IdentifierBlockscoutVerify Identifier = "BlockscoutVerify"
	IdentifierRoutescanVerify  Identifier = "RoutescanVerify"
)

// VerificationResult is the normalized payload every sink receives,
// assembled by the job engine from a Verifier outcome plus the compilation
// and deployment evidence that produced it.
type VerificationResult struct {
	ChainID          string
	Address          string
	CreatorTxHash    *string
	Deployment       store.Deployment
	CompiledContract store.CompiledContract
	RuntimeMatch     store.MatchStatus
	CreationMatch    store.MatchStatus
	RuntimeMetadataMatch *bool
	CreationMetadataMatch *bool
	RuntimeTransformationsJSON  []byte
	RuntimeValuesJSON           []byte
	CreationTransformationsJSON []byte
	CreationValuesJSON          []byte
	Metadata         string // raw compiler metadata JSON
	Sources          map[string]string
	ConstructorArgumentsHex string

	// OnChainRuntimeBytecode/OnChainCreationBytecode are the bytes read
	// directly off the chain (or synthetic chain), prior to any
	// normalization. RecompiledRuntimeBytecode/RecompiledCreationBytecode
	// are the compiler's output, normalized (library placeholders zeroed)
	// when RuntimeMatch/CreationMatch is "partial". The canonical store
	// sink content-addresses all four independently, satisfying the "code
	// has 4 rows" happy-path invariant even though CreationBytecode may be
	// absent when no creator tx hash was supplied.
	OnChainRuntimeBytecode     []byte
	OnChainCreationBytecode    []byte
	RecompiledRuntimeBytecode  []byte
	RecompiledCreationBytecode []byte
}

// JobContext carries correlation data a sink may want to log alongside a
// write, without coupling sinks to the job engine's types.
type JobContext struct {
	JobID   string
	TraceID string
}

// WriteSink is the opaque per-destination collaborator spec.md §4.3
// describes.
type WriteSink interface {
	Identifier() Identifier
	Init(ctx context.Context) error
	StoreVerification(ctx context.Context, result *VerificationResult, jobCtx *JobContext) error
}

// ReadSink is the single active read destination (spec.md §4.3: "Exactly
// one read sink is active per service").
type ReadSink interface {
	GetByChainAndAddress(ctx context.Context, chainID, address string) (*store.SourcifyMatch, error)
	GetFiles(ctx context.Context, chainID, address string) (map[string][]byte, error)
}

// errMissingBytecodeEvidence is returned by sinks that require at least
// one matching axis, e.g. the canonical store sink. A fresh instance (and
// correlation id) is minted per occurrence.
func errMissingBytecodeEvidence() error {
	return codederr.New(codederr.CodeInternalError, "verification result carries neither a runtime nor a creation match", nil)
}

// errMissingCreationMatch is returned by sinks that require a creation
// match specifically (the Allied database sink, per spec.md §4.3).
func errMissingCreationMatch() error {
	return codederr.New(codederr.CodeInternalError, "verification result carries no creation match", nil)
}
