package sinks

import (
	"context"

	"github.com/chainverify/verifyd/internal/signatures"
	"github.com/chainverify/verifyd/internal/store"
)

// CanonicalStoreSink writes into the pebble-backed canonical store,
// enforcing the full invariant set from spec.md §3: a verification with
// neither a runtime nor a creation match is rejected outright.
type CanonicalStoreSink struct {
	store *store.Store
}

// NewCanonicalStoreSink wraps an already-open store.
func NewCanonicalStoreSink(s *store.Store) *CanonicalStoreSink {
	return &CanonicalStoreSink{store: s}
}

// Identifier implements WriteSink.
func (c *CanonicalStoreSink) Identifier() Identifier { return IdentifierSourcifyDatabase }

// Init implements WriteSink; the store is opened by the caller, so this is
// a no-op health check.
func (c *CanonicalStoreSink) Init(ctx context.Context) error { return nil }

// StoreVerification implements WriteSink, running every write for one
// verification inside a single transaction per spec.md §4.2's failure
// model, including the repoint-policy-governed SourcifyMatch upsert.
func (c *CanonicalStoreSink) StoreVerification(ctx context.Context, result *VerificationResult, jobCtx *JobContext) error {
	if result.RuntimeMatch == store.StatusNull && result.CreationMatch == store.StatusNull {
		return errMissingBytecodeEvidence()
	}

	txn, err := c.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer txn.Discard()

	// Contract identifies the on-chain artifact independent of any one
	// compilation attempt; CompiledContract identifies a recompiled
	// artifact. Both sides are content-addressed here via UpsertCode,
	// satisfying invariant 1 (the code row under CompiledContract's hash
	// holds exactly the normalized recompiled bytes) while keeping the
	// on-chain bytes under their own, independent hashes.
	onChainRuntimeSHA, err := txn.UpsertCode(result.OnChainRuntimeBytecode)
	if err != nil {
		return err
	}
	var onChainCreationSHA *string
	if len(result.OnChainCreationBytecode) > 0 {
		sha, err := txn.UpsertCode(result.OnChainCreationBytecode)
		if err != nil {
			return err
		}
		onChainCreationSHA = &sha
	}
	contractID, err := txn.UpsertContract(onChainCreationSHA, onChainRuntimeSHA)
	if err != nil {
		return err
	}

	if len(result.RecompiledRuntimeBytecode) > 0 {
		sha, err := txn.UpsertCode(result.RecompiledRuntimeBytecode)
		if err != nil {
			return err
		}
		result.CompiledContract.RuntimeCodeSHA = sha
	}
	if len(result.RecompiledCreationBytecode) > 0 {
		sha, err := txn.UpsertCode(result.RecompiledCreationBytecode)
		if err != nil {
			return err
		}
		result.CompiledContract.CreationCodeSHA = sha
	}

	deploymentID, err := txn.UpsertDeployment(result.ChainID, result.Address, result.CreatorTxHash, contractID, nil, nil, nil)
	if err != nil {
		return err
	}

	// UpsertCompiledContract's Sources map is path->sha, validated against
	// rows already written in this transaction; write the content first.
	sourceSHAs := make(map[string]string, len(result.Sources))
	for path, content := range result.Sources {
		sha, err := txn.UpsertSource(content)
		if err != nil {
			return err
		}
		sourceSHAs[path] = sha
	}

	compilationID, err := txn.UpsertCompiledContract(store.CompiledContractInput{
		Compiler:                 result.CompiledContract.Compiler,
		Language:                 result.CompiledContract.Language,
		CompilerVersion:          result.CompiledContract.CompilerVersion,
		SettingsWithoutOutputSel: result.CompiledContract.SettingsWithoutOutputSel,
		CreationCodeSHA:          result.CompiledContract.CreationCodeSHA,
		RuntimeCodeSHA:           result.CompiledContract.RuntimeCodeSHA,
		CompilationArtifacts:     result.CompiledContract.CompilationArtifacts,
		CreationCodeArtifacts:    result.CompiledContract.CreationCodeArtifacts,
		RuntimeCodeArtifacts:     result.CompiledContract.RuntimeCodeArtifacts,
		FullyQualifiedName:       result.CompiledContract.FullyQualifiedName,
		Sources:                  sourceSHAs,
		ABI:                      result.CompiledContract.ABI,
	})
	if err != nil {
		return err
	}

	vc := store.VerifiedContract{
		DeploymentID:                deploymentID,
		CompilationID:               compilationID,
		RuntimeMatch:                result.RuntimeMatch != store.StatusNull,
		CreationMatch:               result.CreationMatch != store.StatusNull,
		RuntimeTransformations:      result.RuntimeTransformationsJSON,
		RuntimeValues:               result.RuntimeValuesJSON,
		CreationTransformations:     result.CreationTransformationsJSON,
		CreationValues:              result.CreationValuesJSON,
		RuntimeMetadataMatch:        result.RuntimeMetadataMatch,
		CreationMetadataMatch:       result.CreationMetadataMatch,
		RuntimeStatus:               result.RuntimeMatch,
		CreationStatus:              result.CreationMatch,
	}
	verifiedID, err := txn.InsertVerifiedContract(vc)
	if err != nil {
		return err
	}

	if _, err := txn.UpsertSourcifyMatch(deploymentID, verifiedID, result.RuntimeMatch, result.CreationMatch, result.Metadata); err != nil {
		return err
	}

	// Signature indexing is last in write order: codes, contracts,
	// deployments, compiled contracts, verified contracts, sourcify match,
	// then selectors extracted from the freshly written ABI.
	fragments, err := signatures.Extract(result.CompiledContract.ABI)
	if err != nil {
		return err
	}
	if err := signatures.StoreAll(txn, compilationID, fragments); err != nil {
		return err
	}

	return txn.Commit()
}
