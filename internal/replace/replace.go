// Package replace implements the Replace Engine (spec.md §4.8): a
// maintainer-only path that rebuilds a verification from stored or fresh
// evidence and replaces or patches a stored SourcifyMatch transactionally.
// Grounded on internal/jobengine's Compile+Verify assembly, reused here
// outside the worker pool since a replace call is a synchronous
// maintainer action, not a submission that needs admission control.
package replace

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/chainverify/verifyd/internal/bytecode"
	"github.com/chainverify/verifyd/internal/codederr"
	"github.com/chainverify/verifyd/internal/signatures"
	"github.com/chainverify/verifyd/internal/store"
	"github.com/chainverify/verifyd/pkg/chain"
	"github.com/chainverify/verifyd/pkg/compiler"
	"github.com/chainverify/verifyd/pkg/verifier"
)

// CustomMethod names one of the small enumerated registry of replace
// methods spec.md §4.8 allows in place of a full repoint.
type CustomMethod string

// MethodReplaceCreationInformation rewrites only the creation-side columns
// of a SourcifyMatch, preserving the runtime side untouched.
const MethodReplaceCreationInformation CustomMethod = "replace-creation-information"

// Request selects the four independent replace modes spec.md §4.8 names:
// ForceCompilation/ForceRPCRequest each switch between reusing stored
// evidence and doing fresh work, and CustomMethod optionally narrows a
// full repoint down to a targeted column patch.
type Request struct {
	ChainID       string
	Address       string
	CreatorTxHash *string
	CustomMethod  *CustomMethod

	// Used only when ForceCompilation is true.
	ForceCompilation bool
	JSONInput        json.RawMessage
	CompilerVersion  string
	Target           string

	// Used only when ForceRPCRequest is true.
	ForceRPCRequest bool
}

// Outcome reports what the replacement produced, including whether
// creation bytecode could actually be fetched (spec.md §4.8's closing
// sentence).
type Outcome struct {
	RuntimeMatch            store.MatchStatus
	CreationMatch           store.MatchStatus
	CreationBytecodeFetched bool
}

// Engine is the Replace Engine collaborator (spec.md §4.8, C8).
type Engine struct {
	store     *store.Store
	compiler  compiler.Compiler
	liveChain chain.Chain
	verifier  verifier.Verifier
	logger    *zap.Logger
}

// New constructs a Replace Engine. liveChain is the real RPC-backed Chain
// used both when ForceRPCRequest is true and as the SyntheticChain's
// creation-side fallback when it is false.
func New(st *store.Store, comp compiler.Compiler, liveChain chain.Chain, v verifier.Verifier, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: st, compiler: comp, liveChain: liveChain, verifier: v, logger: logger}
}

// Replace runs one maintainer-initiated correction end to end (spec.md
// §4.8): resolve evidence, resolve a chain view, re-verify, then apply
// the outcome to the stored SourcifyMatch in a single transaction.
func (e *Engine) Replace(ctx context.Context, req Request) (*Outcome, error) {
	dep, err := e.store.GetDeploymentByChainAndAddress(ctx, req.ChainID, req.Address)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, codederr.New(codederr.CodeContractNotDeployed, "no deployment recorded for chain/address", nil)
		}
		return nil, codederr.Wrap(codederr.CodeInternalError, err)
	}
	currentMatch, err := e.store.GetSourcifyMatch(ctx, req.ChainID, req.Address, false)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, codederr.New(codederr.CodeInvalidParameter, "no existing match to replace for this deployment", nil)
		}
		return nil, codederr.Wrap(codederr.CodeInternalError, err)
	}

	ev, err := e.resolveEvidence(ctx, req, currentMatch)
	if err != nil {
		return nil, err
	}

	c, creationBytecodeFetched, err := e.resolveChain(ctx, req)
	if err != nil {
		return nil, err
	}

	compilation := &verifier.Compilation{
		RuntimeBytecode:         ev.RuntimeBytecode,
		CreationBytecode:        ev.CreationBytecode,
		RuntimeTransformations:  ev.RuntimeTransformations,
		CreationTransformations: ev.CreationTransformations,
		Metadata:                ev.Metadata,
	}
	// A SyntheticChain serves runtime bytecode by content address, so the
	// stored deployment's runtime code sha stands in for the chain address.
	verifyAddr := req.Address
	if !req.ForceRPCRequest {
		contract, err := e.store.GetContract(ctx, dep.ContractID)
		if err != nil {
			return nil, codederr.Wrap(codederr.CodeInternalError, err)
		}
		verifyAddr = contract.RuntimeCodeSHA
	}
	vr, err := e.verifier.Verify(ctx, compilation, c, verifyAddr, req.CreatorTxHash)
	if err != nil {
		return nil, err
	}
	if vr.RuntimeMatch == verifier.StatusNull && vr.CreationMatch == verifier.StatusNull {
		return nil, codederr.New(codederr.CodeBytecodeMismatch, "replacement evidence does not match on-chain bytecode on either axis", nil)
	}

	if err := e.applyOutcome(ctx, dep, ev, vr, req.CustomMethod); err != nil {
		return nil, err
	}
	e.logger.Info("replaced stored match",
		zap.String("chain_id", req.ChainID), zap.String("address", req.Address),
		zap.String("runtime_match", vr.RuntimeMatch), zap.String("creation_match", vr.CreationMatch))

	return &Outcome{
		RuntimeMatch:            store.MatchStatus(vr.RuntimeMatch),
		CreationMatch:           store.MatchStatus(vr.CreationMatch),
		CreationBytecodeFetched: creationBytecodeFetched,
	}, nil
}

// replaceEvidence is the recompiled-evidence shape this package needs,
// mirroring internal/jobengine's recompiledEvidence.
type replaceEvidence struct {
	Compiler                string
	Language                string
	CompilerVersion         string
	FullyQualifiedName      string
	ABI                     string
	Sources                 map[string]string
	RuntimeBytecode         []byte
	CreationBytecode        []byte
	RuntimeTransformations  []bytecode.Transformation
	CreationTransformations []bytecode.Transformation
	Metadata                string
	JSONInputUsed           string
}

// resolveEvidence builds a PreRunCompilation either from the currently
// stored compilation (ForceCompilation=false) or by running the compiler
// fresh on caller-supplied input (ForceCompilation=true).
func (e *Engine) resolveEvidence(ctx context.Context, req Request, currentMatch *store.SourcifyMatch) (replaceEvidence, error) {
	if !req.ForceCompilation {
		vc, err := e.store.GetVerifiedContract(ctx, currentMatch.VerifiedContractID)
		if err != nil {
			return replaceEvidence{}, codederr.Wrap(codederr.CodeInternalError, err)
		}
		cc, err := e.store.GetCompiledContract(ctx, vc.CompilationID)
		if err != nil {
			return replaceEvidence{}, codederr.Wrap(codederr.CodeInternalError, err)
		}
		return evidenceFromCompiledContract(ctx, e.store, cc)
	}

	outputs, err := e.compiler.Compile(ctx, &compiler.CompilationOptions{
		Language:        compiler.LanguageSolidity,
		CompilerVersion: req.CompilerVersion,
		JSONInput:       req.JSONInput,
	})
	if err != nil {
		return replaceEvidence{}, codederr.Wrap(codederr.CodeCompilerError, err)
	}
	output, fqn, err := selectOutput(outputs, req.Target)
	if err != nil {
		return replaceEvidence{}, err
	}
	return replaceEvidence{
		Compiler:                "solc",
		Language:                string(compiler.LanguageSolidity),
		CompilerVersion:         req.CompilerVersion,
		FullyQualifiedName:      fqn,
		ABI:                     string(output.ABI),
		Sources:                 output.Sources,
		RuntimeBytecode:         output.RuntimeBytecode,
		CreationBytecode:        output.CreationBytecode,
		RuntimeTransformations:  output.RuntimeTransformations,
		CreationTransformations: output.CreationTransformations,
		Metadata:                output.Metadata,
		JSONInputUsed:           string(req.JSONInput),
	}, nil
}

func evidenceFromCompiledContract(ctx context.Context, st *store.Store, cc *store.CompiledContract) (replaceEvidence, error) {
	runtimeCode, err := st.GetCode(ctx, cc.RuntimeCodeSHA)
	if err != nil {
		return replaceEvidence{}, err
	}
	var creationCode []byte
	if cc.CreationCodeSHA != "" {
		creationCode, err = st.GetCode(ctx, cc.CreationCodeSHA)
		if err != nil {
			return replaceEvidence{}, err
		}
	}
	var runtimeTransformations, creationTransformations []bytecode.Transformation
	if cc.RuntimeCodeArtifacts != "" {
		_ = json.Unmarshal([]byte(cc.RuntimeCodeArtifacts), &runtimeTransformations)
	}
	if cc.CreationCodeArtifacts != "" {
		_ = json.Unmarshal([]byte(cc.CreationCodeArtifacts), &creationTransformations)
	}
	return replaceEvidence{
		Compiler:                cc.Compiler,
		Language:                cc.Language,
		CompilerVersion:         cc.CompilerVersion,
		FullyQualifiedName:      cc.FullyQualifiedName,
		ABI:                     cc.ABI,
		RuntimeBytecode:         runtimeCode,
		CreationBytecode:        creationCode,
		RuntimeTransformations:  runtimeTransformations,
		CreationTransformations: creationTransformations,
		JSONInputUsed:           cc.CompilationArtifacts,
	}, nil
}

func selectOutput(outputs map[string]*compiler.Output, target string) (*compiler.Output, string, error) {
	if target != "" {
		out, ok := outputs[target]
		if !ok {
			return nil, "", codederr.New(codederr.CodeInvalidParameter, fmt.Sprintf("target %q not found in compiler output", target), nil)
		}
		return out, target, nil
	}
	if len(outputs) == 1 {
		for fqn, out := range outputs {
			return out, fqn, nil
		}
	}
	return nil, "", codederr.New(codederr.CodeInvalidParameter, "compilation produced multiple contracts; a target is required", nil)
}

// resolveChain builds either a live Chain or a SyntheticChain from stored
// deployment data, per ForceRPCRequest. creationBytecodeFetched reports
// whether creation bytecode could actually be retrieved, which the
// response always surfaces regardless of which mode produced it.
func (e *Engine) resolveChain(ctx context.Context, req Request) (chain.Chain, bool, error) {
	if req.ForceRPCRequest {
		if e.liveChain == nil {
			return nil, false, codederr.New(codederr.CodeCannotFetchBytecode, "no live chain configured for forceRpcRequest", nil)
		}
		fetched := false
		if req.CreatorTxHash != nil {
			if _, err := e.liveChain.GetContractCreationBytecodeAndReceipt(ctx, req.Address, req.CreatorTxHash); err == nil {
				fetched = true
			}
		}
		return e.liveChain, fetched, nil
	}

	synthetic := chain.NewSyntheticChain(e.store, e.liveChain)
	fetched := false
	if req.CreatorTxHash != nil && e.liveChain != nil {
		if _, err := synthetic.GetContractCreationBytecodeAndReceipt(ctx, req.ChainID+":"+req.Address, req.CreatorTxHash); err == nil {
			fetched = true
		}
	}
	return synthetic, fetched, nil
}

// applyOutcome performs the transactional store write spec.md §4.8
// requires: either a full repoint (ReplaceSourcifyMatch) or, when
// CustomMethod names replace-creation-information, a targeted patch of
// only the creation-side columns.
func (e *Engine) applyOutcome(ctx context.Context, dep *store.Deployment, ev replaceEvidence, vr *verifier.VerificationResult, method *CustomMethod) error {
	txn, err := e.store.Begin(ctx)
	if err != nil {
		return codederr.Wrap(codederr.CodeInternalError, err)
	}
	defer txn.Discard()

	var runtimeSHA string
	if len(ev.RuntimeBytecode) > 0 {
		runtimeSHA, err = txn.UpsertCode(ev.RuntimeBytecode)
		if err != nil {
			return codederr.Wrap(codederr.CodeInternalError, err)
		}
	}
	var creationSHA string
	if len(ev.CreationBytecode) > 0 {
		creationSHA, err = txn.UpsertCode(ev.CreationBytecode)
		if err != nil {
			return codederr.Wrap(codederr.CodeInternalError, err)
		}
	}

	// CompiledContractInput.Sources is path->sha, not path->content
	// (mirroring CanonicalStoreSink.StoreVerification); write the content
	// rows first.
	sourceSHAs := make(map[string]string, len(ev.Sources))
	for path, content := range ev.Sources {
		sha, err := txn.UpsertSource(content)
		if err != nil {
			return codederr.Wrap(codederr.CodeInternalError, err)
		}
		sourceSHAs[path] = sha
	}

	runtimeTransJSON, _ := json.Marshal(ev.RuntimeTransformations)
	creationTransJSON, _ := json.Marshal(ev.CreationTransformations)
	compilationID, err := txn.UpsertCompiledContract(store.CompiledContractInput{
		Compiler: ev.Compiler, Language: ev.Language, CompilerVersion: ev.CompilerVersion,
		CreationCodeSHA: creationSHA, RuntimeCodeSHA: runtimeSHA,
		CompilationArtifacts:  ev.JSONInputUsed,
		RuntimeCodeArtifacts:  string(runtimeTransJSON),
		CreationCodeArtifacts: string(creationTransJSON),
		FullyQualifiedName:    ev.FullyQualifiedName,
		Sources:               sourceSHAs,
		ABI:                   ev.ABI,
	})
	if err != nil {
		return codederr.Wrap(codederr.CodeInternalError, err)
	}

	verifiedContractID, err := txn.InsertVerifiedContract(store.VerifiedContract{
		DeploymentID:            dep.ID,
		CompilationID:           compilationID,
		RuntimeMatch:            vr.RuntimeMatch != verifier.StatusNull,
		CreationMatch:           vr.CreationMatch != verifier.StatusNull,
		RuntimeTransformations:  runtimeTransJSON,
		CreationTransformations: creationTransJSON,
		RuntimeMetadataMatch:    vr.RuntimeMetadataMatch,
		CreationMetadataMatch:   vr.CreationMetadataMatch,
		RuntimeStatus:           store.MatchStatus(vr.RuntimeMatch),
		CreationStatus:          store.MatchStatus(vr.CreationMatch),
	})
	if err != nil {
		return codederr.Wrap(codederr.CodeInternalError, err)
	}

	if method != nil && *method == MethodReplaceCreationInformation {
		if err := txn.PatchSourcifyMatchCreationSide(dep.ID, verifiedContractID, store.MatchStatus(vr.CreationMatch)); err != nil {
			return codederr.Wrap(codederr.CodeInternalError, err)
		}
	} else {
		if err := txn.ReplaceSourcifyMatch(dep.ID, verifiedContractID, store.MatchStatus(vr.RuntimeMatch), store.MatchStatus(vr.CreationMatch), ev.Metadata); err != nil {
			return codederr.Wrap(codederr.CodeInternalError, err)
		}
	}

	fragments, err := signatures.Extract(ev.ABI)
	if err != nil {
		return codederr.Wrap(codederr.CodeInternalError, err)
	}
	if err := signatures.StoreAll(txn, compilationID, fragments); err != nil {
		return codederr.Wrap(codederr.CodeInternalError, err)
	}

	if err := txn.Commit(); err != nil {
		return codederr.Wrap(codederr.CodeInternalError, err)
	}
	return nil
}
