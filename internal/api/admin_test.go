package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainverify/verifyd/internal/replace"
	"github.com/chainverify/verifyd/internal/sinks"
	"github.com/chainverify/verifyd/internal/store"
	"github.com/chainverify/verifyd/pkg/verifier"
)

// seedDeploymentWithMatch mirrors internal/replace's own test fixture: a
// deployment plus a deliberately degraded match for a replace call to fix.
func seedDeploymentWithMatch(t *testing.T, s *store.Store, chainID, address string, code []byte) {
	t.Helper()
	txn, err := s.Begin(context.Background())
	require.NoError(t, err)
	sha, err := txn.UpsertCode(code)
	require.NoError(t, err)
	compID, err := txn.UpsertCompiledContract(store.CompiledContractInput{
		Compiler: "solc", Language: "Solidity", RuntimeCodeSHA: sha, CreationCodeSHA: sha,
	})
	require.NoError(t, err)
	contractID, err := txn.UpsertContract(&sha, sha)
	require.NoError(t, err)
	depID, err := txn.UpsertDeployment(chainID, address, nil, contractID, nil, nil, nil)
	require.NoError(t, err)
	vcID, err := txn.InsertVerifiedContract(store.VerifiedContract{
		DeploymentID: depID, CompilationID: compID,
		RuntimeStatus: store.StatusPartial, CreationStatus: store.StatusNull,
	})
	require.NoError(t, err)
	_, err = txn.UpsertSourcifyMatch(depID, vcID, store.StatusPartial, store.StatusNull, "")
	require.NoError(t, err)
	require.NoError(t, txn.Commit())
}

func TestHandleReplaceRequiresAdminToken(t *testing.T) {
	s, err := store.OpenInMemory(zap.NewNop())
	require.NoError(t, err)
	defer s.Close()
	code := []byte{0x60, 0x80, 0x60, 0x40}
	seedDeploymentWithMatch(t, s, "1", "0xabc", code)

	replaceEngine := replace.New(s, &fakeCompiler{}, &fakeChain{runtime: code}, verifier.NewBytecodeVerifier(), zap.NewNop())
	srv := NewServer(Config{AdminToken: "s3cr3t"}, nil, sinks.NewStoreReadSink(s), nil, replaceEngine, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/admin/replace/1/0xabc", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/admin/replace/1/0xabc", nil)
	req.Header.Set("X-Admin-Token", "s3cr3t")
	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleReplaceRouteAbsentWithoutReplaceEngine(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/replace/1/0xabc", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
