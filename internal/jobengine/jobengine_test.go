package jobengine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainverify/verifyd/internal/codederr"
	"github.com/chainverify/verifyd/internal/fanout"
	"github.com/chainverify/verifyd/internal/notify"
	"github.com/chainverify/verifyd/internal/sinks"
	"github.com/chainverify/verifyd/internal/store"
	"github.com/chainverify/verifyd/internal/workerpool"
	"github.com/chainverify/verifyd/pkg/chain"
	"github.com/chainverify/verifyd/pkg/compiler"
	"github.com/chainverify/verifyd/pkg/verifier"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.OpenInMemory(zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestStoreForHandlers(t *testing.T) *store.Store { return newTestStore(t) }

func newTestEngine(t *testing.T, comp compiler.Compiler, ch chain.Chain, v verifier.Verifier) (*Engine, *store.Store) {
	t.Helper()
	return newEngineWithStore(t, newTestStore(t), comp, ch, v)
}

func newEngineWithStore(t *testing.T, s *store.Store, comp compiler.Compiler, ch chain.Chain, v verifier.Verifier) (*Engine, *store.Store) {
	t.Helper()
	policy := fanout.New([]sinks.WriteSink{sinks.NewCanonicalStoreSink(s)}, nil, nil, zap.NewNop())
	e := New(Config{VerificationEndpoint: "https://verify.test"}, workerpool.DefaultConfig(), s, comp, ch, v, policy, nil, nil, zap.NewNop())
	e.Start()
	t.Cleanup(e.Close)
	return e, s
}

// fakeCompiler returns a single fixed output regardless of input, or fails
// if err is set.
type fakeCompiler struct {
	output map[string]*compiler.Output
	err    error
}

func (f *fakeCompiler) Compile(ctx context.Context, opts *compiler.CompilationOptions) (map[string]*compiler.Output, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.output, nil
}
func (f *fakeCompiler) IsVersionAvailable(language compiler.Language, version string) (bool, error) {
	return true, nil
}
func (f *fakeCompiler) ListVersions(language compiler.Language) ([]string, error) { return nil, nil }
func (f *fakeCompiler) DownloadVersion(ctx context.Context, language compiler.Language, version string) error {
	return nil
}
func (f *fakeCompiler) Close() error { return nil }

type fakeChain struct {
	runtime []byte
	err     error
}

func (f *fakeChain) GetBytecode(ctx context.Context, addr string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.runtime, nil
}
func (f *fakeChain) GetTx(ctx context.Context, hash string) (*chain.TxInfo, error) { return nil, nil }
func (f *fakeChain) GetContractCreationBytecodeAndReceipt(ctx context.Context, addr string, creatorTxHash *string) (*chain.CreationReceipt, error) {
	return nil, chain.ErrNoCode
}

func matchingOutputs(code []byte) map[string]*compiler.Output {
	return map[string]*compiler.Output{
		"contracts/Foo.sol:Foo": {
			FullyQualifiedName: "contracts/Foo.sol:Foo",
			RuntimeBytecode:    code,
			CreationBytecode:   code,
			ABI:                json.RawMessage(`[]`),
			Metadata:           `{"version":1}`,
			Sources:            map[string]string{"contracts/Foo.sol": "contract Foo {}"},
		},
	}
}

func waitForTerminal(t *testing.T, e *Engine, jobID string) *JobView {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		view, err := e.GetJob(context.Background(), jobID)
		require.NoError(t, err)
		if view.Job.Status != store.JobRunning {
			return view
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("job never left running state")
	return nil
}

func TestSubmitFromJSONInputSucceedsOnPerfectMatch(t *testing.T) {
	code := []byte{0x60, 0x80, 0x60, 0x40}
	comp := &fakeCompiler{output: matchingOutputs(code)}
	ch := &fakeChain{runtime: code}
	e, _ := newTestEngine(t, comp, ch, verifier.NewBytecodeVerifier())

	jobID, err := e.SubmitFromJSONInput(context.Background(), "1", "0xabc", JSONInputRequest{
		JSONInput:       json.RawMessage(`{"language":"Solidity"}`),
		CompilerVersion: "0.8.20",
	})
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	view := waitForTerminal(t, e, jobID)
	assert.Equal(t, store.JobSucceeded, view.Job.Status)
	require.NotNil(t, view.SourcifyMatch)
	assert.Equal(t, store.StatusPerfect, view.SourcifyMatch.RuntimeMatch)
}

func TestSubmitPublishesJobSubmittedAndJobCompletedEvents(t *testing.T) {
	code := []byte{0x60, 0x80, 0x60, 0x40}
	comp := &fakeCompiler{output: matchingOutputs(code)}
	ch := &fakeChain{runtime: code}
	s := newTestStore(t)
	bus := notify.NewLocalBus()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	policy := fanout.New([]sinks.WriteSink{sinks.NewCanonicalStoreSink(s)}, nil, nil, zap.NewNop())
	e := New(Config{}, workerpool.DefaultConfig(), s, comp, ch, verifier.NewBytecodeVerifier(), policy, nil, bus, zap.NewNop())
	e.Start()
	t.Cleanup(e.Close)

	jobID, err := e.SubmitFromJSONInput(context.Background(), "1", "0xabc", JSONInputRequest{
		JSONInput:       json.RawMessage(`{"language":"Solidity"}`),
		CompilerVersion: "0.8.20",
	})
	require.NoError(t, err)

	submitted := <-events
	assert.Equal(t, notify.EventJobSubmitted, submitted.Type)
	assert.Equal(t, jobID, submitted.JobID)

	completed := <-events
	assert.Equal(t, notify.EventJobCompleted, completed.Type)
	assert.Equal(t, jobID, completed.JobID)
	assert.Equal(t, string(store.JobSucceeded), completed.Status)
}

func TestSubmitFromJSONInputCompilerErrorMarksJobFailed(t *testing.T) {
	comp := &fakeCompiler{err: &compiler.CompilerError{FormattedMessages: []string{"boom"}}}
	ch := &fakeChain{runtime: []byte{0x01}}
	e, _ := newTestEngine(t, comp, ch, verifier.NewBytecodeVerifier())

	jobID, err := e.SubmitFromJSONInput(context.Background(), "1", "0xabc", JSONInputRequest{
		JSONInput:       json.RawMessage(`{"language":"Solidity"}`),
		CompilerVersion: "0.8.20",
	})
	require.NoError(t, err)

	view := waitForTerminal(t, e, jobID)
	assert.Equal(t, store.JobFailed, view.Job.Status)
	assert.Equal(t, codederr.CodeCompilerError, view.Job.ErrorCode)
}

func TestSubmitFromJSONInputRejectsDuplicateInFlight(t *testing.T) {
	code := []byte{0x60, 0x80}
	comp := &fakeCompiler{output: matchingOutputs(code)}
	ch := &fakeChain{runtime: code}
	e, _ := newTestEngine(t, comp, ch, verifier.NewBytecodeVerifier())

	req := JSONInputRequest{JSONInput: json.RawMessage(`{}`), CompilerVersion: "0.8.20"}

	release, err := e.acquire("1", "0xabc")
	require.NoError(t, err)
	defer release()

	_, err = e.SubmitFromJSONInput(context.Background(), "1", "0xabc", req)
	require.Error(t, err)
	coded, ok := err.(codederr.CodedError)
	require.True(t, ok)
	assert.Equal(t, codederr.CodeContractBeingVerified, coded.Code())
}

func TestSubmitSimilarityRejectsUndeployedAddress(t *testing.T) {
	comp := &fakeCompiler{}
	ch := &fakeChain{err: chain.ErrNoCode}
	e, _ := newTestEngine(t, comp, ch, verifier.NewBytecodeVerifier())

	_, err := e.SubmitSimilarity(context.Background(), "1", "0xdead", SimilarityRequest{})
	require.Error(t, err)
	coded, ok := err.(codederr.CodedError)
	require.True(t, ok)
	assert.Equal(t, codederr.CodeContractNotDeployed, coded.Code())
}

func TestSubmitSimilarityNoCandidatesFails(t *testing.T) {
	comp := &fakeCompiler{}
	ch := &fakeChain{runtime: []byte{0x60, 0x80}}
	e, _ := newTestEngine(t, comp, ch, verifier.NewBytecodeVerifier())

	jobID, err := e.SubmitSimilarity(context.Background(), "1", "0xdead", SimilarityRequest{})
	require.NoError(t, err)

	view := waitForTerminal(t, e, jobID)
	assert.Equal(t, store.JobFailed, view.Job.Status)
	assert.Equal(t, codederr.CodeNoSimilarMatchFound, view.Job.ErrorCode)
}

func TestGetJobNotFoundPropagatesStoreError(t *testing.T) {
	e, _ := newTestEngine(t, &fakeCompiler{}, &fakeChain{}, verifier.NewBytecodeVerifier())
	_, err := e.GetJob(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
