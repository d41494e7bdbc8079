package jobengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/chainverify/verifyd/internal/bytecode"
	"github.com/chainverify/verifyd/internal/codederr"
	"github.com/chainverify/verifyd/internal/sinks"
	"github.com/chainverify/verifyd/internal/store"
	"github.com/chainverify/verifyd/internal/workerpool"
	"github.com/chainverify/verifyd/pkg/chain"
	"github.com/chainverify/verifyd/pkg/compiler"
	"github.com/chainverify/verifyd/pkg/verifier"
)

// handleTask is the workerpool.Handler the Engine's pool invokes for every
// task; it performs the Compile+Verify step the system overview's data
// flow names, returning a *sinks.VerificationResult on success.
func (e *Engine) handleTask(ctx context.Context, task *workerpool.Task) (any, error) {
	switch task.Kind {
	case workerpool.TaskFromJSONInput:
		req, ok := task.Payload.(JSONInputRequest)
		if !ok {
			return nil, codederr.New(codederr.CodeInternalError, "malformed fromJsonInput payload", nil)
		}
		return e.handleJSONInput(ctx, req)

	case workerpool.TaskFromMetadata:
		req, ok := task.Payload.(MetadataRequest)
		if !ok {
			return nil, codederr.New(codederr.CodeInternalError, "malformed fromMetadata payload", nil)
		}
		return e.handleMetadata(ctx, req)

	case workerpool.TaskFromExplorerResult:
		req, ok := task.Payload.(ExplorerResultRequest)
		if !ok {
			return nil, codederr.New(codederr.CodeInternalError, "malformed fromExplorerResult payload", nil)
		}
		return e.handleExplorerResult(ctx, req)

	case workerpool.TaskSimilarity:
		req, ok := task.Payload.(SimilarityRequest)
		if !ok {
			return nil, codederr.New(codederr.CodeInternalError, "malformed similarity payload", nil)
		}
		return e.handleSimilarity(ctx, req)

	default:
		return nil, codederr.New(codederr.CodeInternalError, fmt.Sprintf("unknown task kind %q", task.Kind), nil)
	}
}

// recompiledEvidence generalizes over a fresh compiler.Output and a
// similarity candidate's stored artifacts: the shape verifyAndAssemble
// needs regardless of which submission path produced it.
type recompiledEvidence struct {
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

func (e *Engine) handleJSONInput(ctx context.Context, req JSONInputRequest) (any, error) {
	outputs, err := e.compile(ctx, compiler.LanguageSolidity, req.CompilerVersion, req.JSONInput)
	if err != nil {
		return nil, err
	}
	output, fqn, err := selectOutput(outputs, req.Target)
	if err != nil {
		return nil, err
	}

	ev := recompiledEvidence{
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
		Compiler:                "solc",
	}
	return e.verifyAndAssemble(ctx, req.ChainID, req.Address, req.CreationTxHash, e.chain, ev)
}

func (e *Engine) handleExplorerResult(ctx context.Context, req ExplorerResultRequest) (any, error) {
	// An explorer-resolved compilation is compiled exactly like a direct
	// JSON-input submission; the only difference is provenance (spec.md
	// §4.10 resolves the input, this engine still verifies it).
	return e.handleJSONInput(ctx, JSONInputRequest{
		ChainID:         req.ChainID,
		Address:         req.Address,
		JSONInput:       req.JSONInput,
		CompilerVersion: req.CompilerVersion,
		Target:          req.Target,
		CreationTxHash:  req.CreationTxHash,
	})
}

func (e *Engine) handleMetadata(ctx context.Context, req MetadataRequest) (any, error) {
	jsonInput, language, version, err := buildJSONInputFromMetadata(req.Metadata, req.Sources)
	if err != nil {
		return nil, err
	}

	outputs, err := e.compile(ctx, language, version, jsonInput)
	if err != nil {
		return nil, err
	}

	// Metadata submissions don't name a target; Sourcify-style metadata
	// always compiles to exactly one contract per invocation.
	output, fqn, err := selectOutput(outputs, "")
	if err != nil {
		return nil, err
	}

	ev := recompiledEvidence{
		Language:                string(language),
		CompilerVersion:         version,
		FullyQualifiedName:      fqn,
		ABI:                     string(output.ABI),
		Sources:                 output.Sources,
		RuntimeBytecode:         output.RuntimeBytecode,
		CreationBytecode:        output.CreationBytecode,
		RuntimeTransformations:  output.RuntimeTransformations,
		CreationTransformations: output.CreationTransformations,
		Metadata:                output.Metadata,
		JSONInputUsed:           string(jsonInput),
		Compiler:                "solc",
	}
	return e.verifyAndAssemble(ctx, req.ChainID, req.Address, req.CreationTxHash, e.chain, ev)
}

// handleSimilarity implements spec.md §4.7: fetch live runtime bytecode,
// retrieve ranked candidates, and re-verify against each using a
// LiveBytesChain so the same Verifier runs against the live bytes without
// a second code path, stopping at the first non-null match.
func (e *Engine) handleSimilarity(ctx context.Context, req SimilarityRequest) (any, error) {
	runtimeCode, err := e.chain.GetBytecode(ctx, req.Address)
	if err != nil {
		if errors.Is(err, chain.ErrNoCode) {
			return nil, codederr.New(codederr.CodeContractNotDeployed, "no bytecode deployed at address", nil)
		}
		return nil, codederr.Wrap(codederr.CodeCannotFetchBytecode, err)
	}
	if len(runtimeCode) == 0 {
		return nil, codederr.New(codederr.CodeContractNotDeployed, "no bytecode deployed at address", nil)
	}

	candidates, err := e.store.SimilarityCandidates(ctx, runtimeCode, 20)
	if err != nil {
		return nil, codederr.Wrap(codederr.CodeInternalError, err)
	}

	liveChain := chain.NewLiveBytesChain(runtimeCode, e.chain)

	var lastErr error
	for _, candidate := range candidates {
		cc, err := e.store.GetCompiledContract(ctx, candidate.CompilationID)
		if err != nil {
			lastErr = err
			continue
		}

		ev, err := evidenceFromCompiledContract(ctx, e.store, cc)
		if err != nil {
			lastErr = err
			continue
		}

		result, err := e.verifyAndAssemble(ctx, req.ChainID, req.Address, req.CreationTxHash, liveChain, ev)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}

	var data map[string]any
	if lastErr != nil {
		data = map[string]any{"lastCandidateError": lastErr.Error()}
	}
	return nil, codederr.New(codederr.CodeNoSimilarMatchFound, "no stored compilation matches the deployed bytecode", data)
}

// evidenceFromCompiledContract reconstructs a recompiledEvidence from a
// previously stored CompiledContract without re-invoking the compiler,
// per spec.md §4.7 step 4's "PreRunCompilation" (the stored standard JSON
// output's bytecode and transformation tables, reused as-is).
func evidenceFromCompiledContract(ctx context.Context, st *store.Store, cc *store.CompiledContract) (recompiledEvidence, error) {
	runtimeCode, err := st.GetCode(ctx, cc.RuntimeCodeSHA)
	if err != nil {
		return recompiledEvidence{}, err
	}

	var creationCode []byte
	if cc.CreationCodeSHA != "" {
		creationCode, err = st.GetCode(ctx, cc.CreationCodeSHA)
		if err != nil {
			return recompiledEvidence{}, err
		}
	}

	var runtimeTransformations, creationTransformations []bytecode.Transformation
	if cc.RuntimeCodeArtifacts != "" {
		_ = json.Unmarshal([]byte(cc.RuntimeCodeArtifacts), &runtimeTransformations)
	}
	if cc.CreationCodeArtifacts != "" {
		_ = json.Unmarshal([]byte(cc.CreationCodeArtifacts), &creationTransformations)
	}

	return recompiledEvidence{
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

// verifyAndAssemble runs the Verifier against c and, on success, folds the
// outcome into a *sinks.VerificationResult ready for the fan-out policy.
func (e *Engine) verifyAndAssemble(ctx context.Context, chainID, address string, creatorTxHash *string, c chain.Chain, ev recompiledEvidence) (*sinks.VerificationResult, error) {
	compilation := &verifier.Compilation{
		RuntimeBytecode:         ev.RuntimeBytecode,
		CreationBytecode:        ev.CreationBytecode,
		RuntimeTransformations:  ev.RuntimeTransformations,
		CreationTransformations: ev.CreationTransformations,
		Metadata:                ev.Metadata,
	}
	vr, err := e.verifier.Verify(ctx, compilation, c, address, creatorTxHash)
	if err != nil {
		return nil, err
	}

	onChainRuntime, _ := c.GetBytecode(ctx, address)
	var onChainCreation []byte
	if creatorTxHash != nil {
		if receipt, err := c.GetContractCreationBytecodeAndReceipt(ctx, address, creatorTxHash); err == nil && receipt != nil {
			onChainCreation = receipt.CreationBytecode
		}
	}

	recompiledRuntime := ev.RuntimeBytecode
	if vr.RuntimeMatch == verifier.StatusPartial {
		recompiledRuntime = bytecode.Normalize(ev.RuntimeBytecode, ev.RuntimeTransformations)
	}
	recompiledCreation := ev.CreationBytecode
	if vr.CreationMatch == verifier.StatusPartial {
		recompiledCreation = bytecode.Normalize(ev.CreationBytecode, ev.CreationTransformations)
	}

	runtimeTransJSON, _ := json.Marshal(ev.RuntimeTransformations)
	creationTransJSON, _ := json.Marshal(ev.CreationTransformations)

	compilerName := ev.Compiler
	if compilerName == "" {
		compilerName = "solc"
	}

	return &sinks.VerificationResult{
		ChainID:       chainID,
		Address:       address,
		CreatorTxHash: creatorTxHash,
		CompiledContract: store.CompiledContract{
			Compiler:              compilerName,
			Language:              ev.Language,
			CompilerVersion:       ev.CompilerVersion,
			FullyQualifiedName:    ev.FullyQualifiedName,
			ABI:                   ev.ABI,
			CompilationArtifacts:  ev.JSONInputUsed,
			RuntimeCodeArtifacts:  string(runtimeTransJSON),
			CreationCodeArtifacts: string(creationTransJSON),
		},
		RuntimeMatch:                store.MatchStatus(vr.RuntimeMatch),
		CreationMatch:               store.MatchStatus(vr.CreationMatch),
		RuntimeMetadataMatch:        vr.RuntimeMetadataMatch,
		CreationMetadataMatch:       vr.CreationMetadataMatch,
		RuntimeTransformationsJSON:  runtimeTransJSON,
		CreationTransformationsJSON: creationTransJSON,
		Metadata:                    ev.Metadata,
		Sources:                     ev.Sources,
		OnChainRuntimeBytecode:      onChainRuntime,
		OnChainCreationBytecode:     onChainCreation,
		RecompiledRuntimeBytecode:   recompiledRuntime,
		RecompiledCreationBytecode:  recompiledCreation,
	}, nil
}

// compile invokes the configured Compiler, mapping its sentinel/typed
// errors onto the codederr vocabulary spec.md §4.6 names.
func (e *Engine) compile(ctx context.Context, language compiler.Language, version string, jsonInput json.RawMessage) (map[string]*compiler.Output, error) {
	outputs, err := e.compiler.Compile(ctx, &compiler.CompilationOptions{
		Language:        language,
		CompilerVersion: version,
		JSONInput:       jsonInput,
	})
	if err == nil {
		return outputs, nil
	}

	var compErr *compiler.CompilerError
	if errors.As(err, &compErr) {
		return nil, codederr.New(codederr.CodeCompilerError, compErr.Error(), map[string]any{"compilerErrors": compErr.FormattedMessages})
	}
	switch {
	case errors.Is(err, compiler.ErrUnsupportedLanguage):
		return nil, codederr.New(codederr.CodeUnsupportedLanguage, err.Error(), nil)
	case errors.Is(err, compiler.ErrUnsupportedVersion):
		return nil, codederr.New(codederr.CodeUnsupportedCompilerVersion, err.Error(), nil)
	case errors.Is(err, compiler.ErrCompilerNotFound):
		return nil, codederr.New(codederr.CodeUnsupportedCompilerVersion, err.Error(), nil)
	default:
		return nil, codederr.Wrap(codederr.CodeCompilerError, err)
	}
}

// selectOutput resolves which compiled contract a submission verifies
// against: the caller-named target if one was given, or the sole entry
// when a compile produced exactly one.
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
	names := make([]string, 0, len(outputs))
	for fqn := range outputs {
		names = append(names, fqn)
	}
	return nil, "", codederr.New(codederr.CodeInvalidParameter, fmt.Sprintf("compilation produced %d contracts (%s); a target is required", len(outputs), strings.Join(names, ", ")), nil)
}

// solidityMetadata is the subset of a Sourcify-style metadata.json this
// engine needs to reconstruct a Standard JSON Input document.
type solidityMetadata struct {
	Language string `json:"language"`
	Compiler struct {
		Version string `json:"version"`
	} `json:"compiler"`
	Sources  map[string]json.RawMessage `json:"sources"`
	Settings json.RawMessage            `json:"settings"`
}

// buildJSONInputFromMetadata reconstructs a Standard JSON Input document
// from metadata.json plus the raw source files it references, injecting
// the outputSelection every submission path needs (abi, evm bytecode,
// metadata) since metadata.json's own settings block omits it.
func buildJSONInputFromMetadata(metadata string, sources map[string]string) (json.RawMessage, compiler.Language, string, error) {
	var meta solidityMetadata
	if err := json.Unmarshal([]byte(metadata), &meta); err != nil {
		return nil, "", "", codederr.New(codederr.CodeInvalidJSON, "metadata is not valid JSON", nil)
	}
	if meta.Compiler.Version == "" {
		return nil, "", "", codederr.New(codederr.CodeInvalidParameter, "metadata is missing compiler.version", nil)
	}

	language := compiler.LanguageSolidity
	if strings.EqualFold(meta.Language, "vyper") {
		language = compiler.LanguageVyper
	}

	var settings map[string]any
	if len(meta.Settings) > 0 {
		if err := json.Unmarshal(meta.Settings, &settings); err != nil {
			return nil, "", "", codederr.New(codederr.CodeInvalidJSON, "metadata.settings is not valid JSON", nil)
		}
	} else {
		settings = map[string]any{}
	}
	settings["outputSelection"] = map[string]any{
		"*": map[string]any{
			"*": []string{"abi", "evm.bytecode", "evm.deployedBytecode", "metadata"},
		},
	}

	inputSources := make(map[string]any, len(meta.Sources))
	for path := range meta.Sources {
		content, ok := sources[path]
		if !ok {
			return nil, "", "", codederr.New(codederr.CodeInvalidParameter, fmt.Sprintf("missing source content for %q named in metadata", path), nil)
		}
		inputSources[path] = map[string]string{"content": content}
	}

	input := map[string]any{
		"language": meta.Language,
		"sources":  inputSources,
		"settings": settings,
	}
	jsonInput, err := json.Marshal(input)
	if err != nil {
		return nil, "", "", codederr.Wrap(codederr.CodeInternalError, err)
	}
	return jsonInput, language, meta.Compiler.Version, nil
}
