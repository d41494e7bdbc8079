package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainverify/verifyd/internal/fanout"
	"github.com/chainverify/verifyd/internal/jobengine"
	"github.com/chainverify/verifyd/internal/notify"
	"github.com/chainverify/verifyd/internal/sinks"
	"github.com/chainverify/verifyd/internal/store"
	"github.com/chainverify/verifyd/internal/workerpool"
	"github.com/chainverify/verifyd/pkg/chain"
	"github.com/chainverify/verifyd/pkg/compiler"
	"github.com/chainverify/verifyd/pkg/verifier"
)

// fakeCompiler/fakeChain mirror internal/jobengine's test doubles, kept
// package-local since api_test must not import jobengine's unexported
// test helpers.
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

// newTestServer wires a real Engine over an in-memory store with a
// perfect-match fake compiler/chain, matching internal/jobengine's own
// test fixtures, and returns a Server plus its backing store and bus.
func newTestServer(t *testing.T) (*Server, *store.Store, notify.Bus) {
	t.Helper()
	s, err := store.OpenInMemory(zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	code := []byte{0x60, 0x80, 0x60, 0x40}
	comp := &fakeCompiler{output: matchingOutputs(code)}
	ch := &fakeChain{runtime: code}
	policy := fanout.New([]sinks.WriteSink{sinks.NewCanonicalStoreSink(s)}, nil, nil, zap.NewNop())
	bus := notify.NewLocalBus()
	engine := jobengine.New(jobengine.Config{VerificationEndpoint: "https://verify.test"}, workerpool.DefaultConfig(), s, comp, ch, verifier.NewBytecodeVerifier(), policy, nil, bus, zap.NewNop())
	engine.Start()
	t.Cleanup(engine.Close)

	read := sinks.NewStoreReadSink(s)
	srv := NewServer(Config{}, engine, read, bus, nil, zap.NewNop())
	return srv, s, bus
}

func waitForJobCompleted(t *testing.T, srv *Server, verificationID string) jobResponse {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/verify/"+verificationID, nil)
		srv.router.ServeHTTP(rec, req)
		var resp jobResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		if resp.IsJobCompleted {
			return resp
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("job never completed")
	return jobResponse{}
}

func TestHandleVerifyJSONInputAcceptsAndCompletes(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body := bytes.NewBufferString(`{"stdJsonInput":{"language":"Solidity"},"compilerVersion":"0.8.20","contractIdentifier":"contracts/Foo.sol:Foo"}`)
	req := httptest.NewRequest(http.MethodPost, "/verify/1/0xabc", body)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var accepted verificationIDResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	require.NotEmpty(t, accepted.VerificationID)

	resp := waitForJobCompleted(t, srv, accepted.VerificationID)
	require.Nil(t, resp.Error)
	require.NotNil(t, resp.Contract)
	assert.Equal(t, "perfect", resp.Contract.Match)
}

func TestHandleVerifyJSONInputInvalidJSONReturns400(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/verify/1/0xabc", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var errResp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "invalid_json", errResp.CustomCode)
}

func TestHandleVerifySimilarityContractNotDeployedReturns404(t *testing.T) {
	s, err := store.OpenInMemory(zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	comp := &fakeCompiler{}
	ch := &fakeChain{err: chain.ErrNoCode}
	policy := fanout.New([]sinks.WriteSink{sinks.NewCanonicalStoreSink(s)}, nil, nil, zap.NewNop())
	engine := jobengine.New(jobengine.Config{}, workerpool.DefaultConfig(), s, comp, ch, verifier.NewBytecodeVerifier(), policy, nil, nil, zap.NewNop())
	engine.Start()
	defer engine.Close()

	srv := NewServer(Config{}, engine, sinks.NewStoreReadSink(s), nil, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/verify/similarity/1/0xabc", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	var errResp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "contract_not_deployed", errResp.CustomCode)
}

func TestHandleGetJobUnknownIDReturns400(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/verify/does-not-exist", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHealthReturnsOK(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
