package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainverify/verifyd/internal/fanout"
	"github.com/chainverify/verifyd/internal/jobengine"
	"github.com/chainverify/verifyd/internal/notify"
	"github.com/chainverify/verifyd/internal/sinks"
	"github.com/chainverify/verifyd/internal/store"
	"github.com/chainverify/verifyd/internal/workerpool"
	"github.com/chainverify/verifyd/pkg/verifier"
)

func TestAdmissionRateLimitRejectsBurstOverflow(t *testing.T) {
	s, err := store.OpenInMemory(zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	code := []byte{0x60, 0x80}
	comp := &fakeCompiler{output: matchingOutputs(code)}
	ch := &fakeChain{runtime: code}
	policy := fanout.New([]sinks.WriteSink{sinks.NewCanonicalStoreSink(s)}, nil, nil, zap.NewNop())
	engine := jobengine.New(jobengine.Config{}, workerpool.DefaultConfig(), s, comp, ch, verifier.NewBytecodeVerifier(), policy, nil, nil, zap.NewNop())
	engine.Start()
	defer engine.Close()

	srv := NewServer(Config{AdmissionRatePerSecond: 0.0001, AdmissionBurst: 1}, engine, sinks.NewStoreReadSink(s), nil, nil, zap.NewNop())

	body := `{"stdJsonInput":{"language":"Solidity"},"compilerVersion":"0.8.20","contractIdentifier":"contracts/Foo.sol:Foo"}`

	first := httptest.NewRecorder()
	srv.router.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/verify/1/0xabc", bytes.NewBufferString(body)))
	require.Equal(t, http.StatusAccepted, first.Code)

	second := httptest.NewRecorder()
	srv.router.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/verify/1/0xdef", bytes.NewBufferString(body)))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestCORSAddsHeadersForAllowedOrigin(t *testing.T) {
	srv, _, _ := newTestServer(t)
	srv = NewServer(Config{EnableCORS: true, AllowedOrigins: []string{"https://example.com"}}, srv.engine, srv.read, srv.notifier, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpointExposesJobCounters(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body := bytes.NewBufferString(`{"stdJsonInput":{"language":"Solidity"},"compilerVersion":"0.8.20","contractIdentifier":"contracts/Foo.sol:Foo"}`)
	req := httptest.NewRequest(http.MethodPost, "/verify/1/0xabc", body)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var accepted verificationIDResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	waitForJobCompleted(t, srv, accepted.VerificationID)

	metricsRec := httptest.NewRecorder()
	srv.router.ServeHTTP(metricsRec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, metricsRec.Code)
	assert.Contains(t, metricsRec.Body.String(), "verifyd_jobs_submitted_total")
}

func TestWebSocketStreamReceivesJobCompletedEvent(t *testing.T) {
	bus := notify.NewLocalBus()
	hub := newWebSocketHub(bus, zap.NewNop())

	srv := httptest.NewServer(http.HandlerFunc(hub.serveHTTP))
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):] + "/jobs/job-1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	bus.Publish(notify.Event{Type: notify.EventJobSubmitted, JobID: "job-1"})
	bus.Publish(notify.Event{Type: notify.EventJobCompleted, JobID: "job-1", Status: "succeeded"})

	var got notify.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, notify.EventJobCompleted, got.Type)
	assert.Equal(t, "job-1", got.JobID)
}

func TestGraphQLJobQueryReturnsStatus(t *testing.T) {
	srv, _, _ := newTestServer(t)
	srv = NewServer(Config{EnableGraphQL: true}, srv.engine, srv.read, srv.notifier, nil, zap.NewNop())

	body := bytes.NewBufferString(`{"stdJsonInput":{"language":"Solidity"},"compilerVersion":"0.8.20","contractIdentifier":"contracts/Foo.sol:Foo"}`)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/verify/1/0xabc", body))
	var accepted verificationIDResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	waitForJobCompleted(t, srv, accepted.VerificationID)

	query := map[string]string{"query": `{ job(verificationId: "` + accepted.VerificationID + `") { status } }`}
	payload, err := json.Marshal(query)
	require.NoError(t, err)

	gqlRec := httptest.NewRecorder()
	gqlReq := httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewReader(payload))
	gqlReq.Header.Set("Content-Type", "application/json")
	srv.router.ServeHTTP(gqlRec, gqlReq)

	assert.Equal(t, http.StatusOK, gqlRec.Code)
	assert.Contains(t, gqlRec.Body.String(), "succeeded")
}
