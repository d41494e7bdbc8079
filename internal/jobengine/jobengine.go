// Package jobengine implements the Job Engine (spec.md §4.6): the
// component that creates job records, dispatches verification work to the
// worker pool, records results or typed errors on the job row, and
// enforces at-most-one in-flight verification per (chain, address).
// Grounded on the indexer's events/dispatcher.go request/response
// lifecycle and cmd/indexer/main.go's shutdown-drain sequencing, adapted
// from block-indexing jobs to verification jobs.
package jobengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chainverify/verifyd/internal/codederr"
	"github.com/chainverify/verifyd/internal/fanout"
	"github.com/chainverify/verifyd/internal/notify"
	"github.com/chainverify/verifyd/internal/sinks"
	"github.com/chainverify/verifyd/internal/store"
	"github.com/chainverify/verifyd/internal/trace"
	"github.com/chainverify/verifyd/internal/workerpool"
	"github.com/chainverify/verifyd/pkg/chain"
	"github.com/chainverify/verifyd/pkg/compiler"
	"github.com/chainverify/verifyd/pkg/verifier"
)

// DebugArtifactUploader is implemented by sinks (e.g. S3RepositorySink)
// that can persist a failed verification's raw input for later triage.
// The job engine treats this strictly as a best-effort side effect: a
// failure here is logged and never changes the job's outcome.
type DebugArtifactUploader interface {
	UploadDebugArtifact(ctx context.Context, verificationID string, payload []byte) error
}

// JSONInputRequest is the payload for submit_from_json_input. ChainID and
// Address are filled in by the engine at submission time, not by callers.
type JSONInputRequest struct {
	ChainID         string
	Address         string
	JSONInput       json.RawMessage
	CompilerVersion string
	Target          string // "path:Name" to select from the compiler's multi-contract output
	CreationTxHash  *string
}

// MetadataRequest is the payload for submit_from_metadata.
type MetadataRequest struct {
	ChainID        string
	Address        string
	Metadata       string
	Sources        map[string]string
	CreationTxHash *string
}

// ExplorerResultRequest is the payload for submit_from_explorer: a
// compilation already resolved by an explorer family's own API, carried
// through the same dispatch and storage path as the other submission
// shapes.
type ExplorerResultRequest struct {
	ChainID         string
	Address         string
	JSONInput       json.RawMessage
	CompilerVersion string
	Target          string
	CreationTxHash  *string
}

// SimilarityRequest is the payload for submit_similarity.
type SimilarityRequest struct {
	ChainID        string
	Address        string
	CreationTxHash *string
}

// JobView is what get_job returns: the persisted job row joined with its
// current SourcifyMatch pointer, per spec.md §4.6.
type JobView struct {
	Job           store.VerificationJob
	SourcifyMatch *store.SourcifyMatch
}

// Config tunes the engine's own behavior, independent of the worker pool
// it dispatches onto.
type Config struct {
	VerificationEndpoint string
}

// Engine is the Job Engine collaborator (spec.md §4.6, C6).
type Engine struct {
	cfg      Config
	store    *store.Store
	pool     *workerpool.Pool
	compiler compiler.Compiler
	chain    chain.Chain
	verifier verifier.Verifier
	policy   *fanout.Policy
	debug    DebugArtifactUploader
	notifier notify.Bus
	logger   *zap.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New constructs an Engine and its worker pool (spec.md §4.5): every task
// the pool runs is dispatched back into Engine.handleTask, which performs
// the actual Compile+Verify work described in the system overview's data
// flow. debug may be nil if no debug object store is configured (the
// debug-dump side effect is then simply skipped). notifier may be nil, in
// which case JobSubmitted/JobCompleted publishing (spec.md §11, C12) is
// simply skipped.
func New(cfg Config, poolConfig *workerpool.Config, st *store.Store, comp compiler.Compiler, ch chain.Chain, v verifier.Verifier, policy *fanout.Policy, debug DebugArtifactUploader, notifier notify.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg: cfg, store: st, compiler: comp, chain: ch, verifier: v,
		policy: policy, debug: debug, notifier: notifier, logger: logger, inFlight: make(map[string]struct{}),
	}
	e.pool = workerpool.New(poolConfig, e.handleTask, logger)
	return e
}

// Start launches the underlying worker pool. Must be called once before
// any Submit* call is made.
func (e *Engine) Start() { e.pool.Start() }

func inFlightKey(chainID, address string) string { return chainID + "/" + address }

// acquire reserves (chainID, address) for a new verification, returning an
// already-verifying error if the key is currently held. The key is
// released by the returned release func, which callers must defer
// immediately (spec.md §4.6's "finally on the dispatch path").
func (e *Engine) acquire(chainID, address string) (release func(), err error) {
	key := inFlightKey(chainID, address)
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inFlight[key]; busy {
		return nil, codederr.New(codederr.CodeContractBeingVerified, fmt.Sprintf("%s/%s is already being verified", chainID, address), nil)
	}
	e.inFlight[key] = struct{}{}
	return func() {
		e.mu.Lock()
		delete(e.inFlight, key)
		e.mu.Unlock()
	}, nil
}

// SubmitFromJSONInput admits a verification job compiling a caller-supplied
// Standard JSON Input document.
func (e *Engine) SubmitFromJSONInput(ctx context.Context, chainID, address string, req JSONInputRequest) (string, error) {
	release, err := e.acquire(chainID, address)
	if err != nil {
		return "", err
	}
	req.ChainID, req.Address = chainID, address

	jobID, traceID, err := e.createJob(ctx, chainID, address)
	if err != nil {
		release()
		return "", err
	}

	go e.dispatch(jobID, traceID, chainID, address, workerpool.TaskFromJSONInput, req, release)
	return jobID, nil
}

// SubmitFromMetadata admits a verification job compiling from Sourcify-style
// metadata.json plus source files.
func (e *Engine) SubmitFromMetadata(ctx context.Context, chainID, address string, req MetadataRequest) (string, error) {
	release, err := e.acquire(chainID, address)
	if err != nil {
		return "", err
	}
	req.ChainID, req.Address = chainID, address

	jobID, traceID, err := e.createJob(ctx, chainID, address)
	if err != nil {
		release()
		return "", err
	}

	go e.dispatch(jobID, traceID, chainID, address, workerpool.TaskFromMetadata, req, release)
	return jobID, nil
}

// SubmitFromExplorer admits a verification job using a compilation already
// resolved by an explorer family.
func (e *Engine) SubmitFromExplorer(ctx context.Context, chainID, address string, req ExplorerResultRequest) (string, error) {
	release, err := e.acquire(chainID, address)
	if err != nil {
		return "", err
	}
	req.ChainID, req.Address = chainID, address

	jobID, traceID, err := e.createJob(ctx, chainID, address)
	if err != nil {
		release()
		return "", err
	}

	go e.dispatch(jobID, traceID, chainID, address, workerpool.TaskFromExplorerResult, req, release)
	return jobID, nil
}

// SubmitSimilarity admits a similarity verification job after confirming
// on-chain bytecode exists (spec.md §4.6's "pre-conditions for similarity":
// both failure modes here are pre-job errors, no row is created).
func (e *Engine) SubmitSimilarity(ctx context.Context, chainID, address string, req SimilarityRequest) (string, error) {
	release, err := e.acquire(chainID, address)
	if err != nil {
		return "", err
	}

	req.ChainID, req.Address = chainID, address

	runtimeCode, err := e.chain.GetBytecode(ctx, address)
	if err != nil {
		release()
		if err == chain.ErrNoCode {
			return "", codederr.New(codederr.CodeContractNotDeployed, "no bytecode deployed at address", nil)
		}
		return "", codederr.Wrap(codederr.CodeCannotFetchBytecode, err)
	}
	if len(runtimeCode) == 0 {
		release()
		return "", codederr.New(codederr.CodeContractNotDeployed, "no bytecode deployed at address", nil)
	}

	jobID, traceID, err := e.createJob(ctx, chainID, address)
	if err != nil {
		release()
		return "", err
	}

	go e.dispatch(jobID, traceID, chainID, address, workerpool.TaskSimilarity, req, release)
	return jobID, nil
}

// createJob writes the initial [running] job row and mints a trace id for
// the work that follows it.
func (e *Engine) createJob(ctx context.Context, chainID, address string) (jobID, traceID string, err error) {
	jobID = trace.New()
	traceID = trace.New()
	job := store.VerificationJob{
		ID:                   jobID,
		ChainID:              chainID,
		ContractAddress:      address,
		Status:               store.JobRunning,
		StartedAt:            time.Now().UTC(),
		VerificationEndpoint: e.cfg.VerificationEndpoint,
	}
	if err := e.store.PutJobDirect(ctx, job); err != nil {
		return "", "", codederr.Wrap(codederr.CodeInternalError, err)
	}
	e.publish(notify.EventJobSubmitted, jobID, chainID, address, string(store.JobRunning), "")
	return jobID, traceID, nil
}

// publish fans a lifecycle event out through the configured notify.Bus, a
// no-op when none is configured. This is a writeOrWarn-class observer
// (spec.md §11): it never affects job outcome.
func (e *Engine) publish(eventType notify.EventType, jobID, chainID, address, status, errorCode string) {
	if e.notifier == nil {
		return
	}
	e.notifier.Publish(notify.Event{
		Type: eventType, JobID: jobID, ChainID: chainID, Address: address,
		Status: status, ErrorCode: errorCode, OccurredAt: time.Now().UTC(),
	})
}

// dispatch submits one task to the worker pool and persists its outcome.
// It always runs release before returning, satisfying the "finally on the
// dispatch path" invariant regardless of how the task concludes.
func (e *Engine) dispatch(jobID, traceID, chainID, address string, kind workerpool.TaskKind, payload any, release func()) {
	defer release()

	ctx := trace.Install(context.Background(), e.logger, traceID)
	task := &workerpool.Task{JobID: jobID, Kind: kind, TraceID: traceID, Payload: payload}

	result, err := e.pool.SubmitAndWait(ctx, task)
	if err != nil {
		// The pool itself could not run the task (shutdown mid-flight):
		// spec.md §4.6's "[running] --shutdown--> [failed: internal_error]".
		e.completeFailed(ctx, jobID, codederr.Wrap(codederr.CodeInternalError, err), nil)
		return
	}
	if result.Err != nil {
		e.completeFailed(ctx, jobID, result.Err, nil)
		return
	}

	vr, ok := result.Value.(*sinks.VerificationResult)
	if !ok || vr == nil {
		e.completeFailed(ctx, jobID, codederr.New(codederr.CodeInternalError, "worker returned an unexpected result type", nil), nil)
		return
	}

	warnings, err := e.policy.StoreVerification(ctx, vr, &sinks.JobContext{JobID: jobID, TraceID: traceID})
	if err != nil {
		e.completeFailed(ctx, jobID, toCodedError(err), debugPayload(kind, payload))
		return
	}
	for _, w := range warnings {
		e.logger.Warn("writeOrWarn sink failed during dispatch",
			zap.String("job_id", jobID), zap.String("sink", string(w.SinkIdentifier)), zap.Error(w.Err))
	}

	e.completeSucceeded(ctx, jobID)
}

// completeSucceeded marks a job [succeeded] with its completion timestamp.
func (e *Engine) completeSucceeded(ctx context.Context, jobID string) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		e.logger.Error("failed to load job for completion", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	now := time.Now().UTC()
	job.Status = store.JobSucceeded
	job.CompletedAt = &now
	if err := e.store.PutJobDirect(ctx, *job); err != nil {
		e.logger.Error("failed to persist job completion", zap.String("job_id", jobID), zap.Error(err))
	}
	e.publish(notify.EventJobCompleted, jobID, job.ChainID, job.ContractAddress, string(store.JobSucceeded), "")
}

// completeFailed marks a job [failed] with the structured error, and — for
// writeOrErr failures specifically — fires the best-effort debug-dump side
// effect (spec.md §4.6).
func (e *Engine) completeFailed(ctx context.Context, jobID string, err error, debugRawInput []byte) {
	coded := toCodedError(err)

	job, getErr := e.store.GetJob(ctx, jobID)
	if getErr != nil {
		e.logger.Error("failed to load job for failure recording", zap.String("job_id", jobID), zap.Error(getErr))
		return
	}
	now := time.Now().UTC()
	job.Status = store.JobFailed
	job.CompletedAt = &now
	job.ErrorCode = coded.Code()
	if ce, ok := coded.(*codederr.Error); ok {
		job.ErrorID = ce.ID
		if len(ce.Data) > 0 {
			if data, marshalErr := json.Marshal(ce.Data); marshalErr == nil {
				job.ErrorData = data
			}
		}
	}
	if putErr := e.store.PutJobDirect(ctx, *job); putErr != nil {
		e.logger.Error("failed to persist job failure", zap.String("job_id", jobID), zap.Error(putErr))
	}
	e.publish(notify.EventJobCompleted, jobID, job.ChainID, job.ContractAddress, string(store.JobFailed), job.ErrorCode)

	if e.debug != nil && len(debugRawInput) > 0 {
		if upErr := e.debug.UploadDebugArtifact(ctx, jobID, debugRawInput); upErr != nil {
			e.logger.Warn("debug artifact upload failed", zap.String("job_id", jobID), zap.Error(upErr))
		}
	}
}

// debugPayload extracts the raw caller input worth dumping on failure;
// only the two submission shapes spec.md §4.6 names carry one.
func debugPayload(kind workerpool.TaskKind, payload any) []byte {
	switch kind {
	case workerpool.TaskFromJSONInput:
		if req, ok := payload.(JSONInputRequest); ok {
			return []byte(req.JSONInput)
		}
	case workerpool.TaskFromMetadata:
		if req, ok := payload.(MetadataRequest); ok {
			data, _ := json.Marshal(req)
			return data
		}
	}
	return nil
}

func toCodedError(err error) codederr.CodedError {
	if coded, ok := err.(codederr.CodedError); ok {
		return coded
	}
	return codederr.Wrap(codederr.CodeInternalError, err)
}

// GetJob implements get_job: the persisted job row joined with its current
// SourcifyMatch pointer, if any (spec.md §4.6).
func (e *Engine) GetJob(ctx context.Context, verificationID string) (*JobView, error) {
	job, err := e.store.GetJob(ctx, verificationID)
	if err != nil {
		return nil, err
	}

	view := &JobView{Job: *job}
	match, err := e.store.GetSourcifyMatch(ctx, job.ChainID, job.ContractAddress, false)
	if err == nil {
		view.SourcifyMatch = match
	} else if err != store.ErrNotFound {
		return nil, err
	}
	return view, nil
}

// Close drains the worker pool (spec.md §4.5: cancel outstanding task
// contexts, then wait for every worker goroutine to finish) before
// returning. Each dispatch goroutine's SubmitAndWait call only returns
// once its task has produced a Result, so pool cancellation surfaces as a
// context-cancellation error on the in-flight dispatch, which
// completeFailed records as [failed: internal_error] — the shutdown
// transition spec.md §4.6 names — before Close returns.
func (e *Engine) Close() {
	e.pool.Stop()

	e.mu.Lock()
	stillHeld := len(e.inFlight)
	e.mu.Unlock()
	if stillHeld > 0 {
		e.logger.Warn("worker pool stopped with verifications still marked in flight", zap.Int("count", stillHeld))
	}
}
