package replace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainverify/verifyd/internal/store"
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

// seedDeploymentWithMatch writes a deployment plus an initial (deliberately
// degraded) match so a replace call has something to correct.
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

func TestReplaceWithoutForceCompilationReusesStoredEvidence(t *testing.T) {
	code := []byte{0x60, 0x80, 0x60, 0x40}
	s := newTestStore(t)
	seedDeploymentWithMatch(t, s, "1", "0xabc", code)

	e := New(s, &compiler.SolcCompiler{}, &fakeChain{runtime: code}, verifier.NewBytecodeVerifier(), zap.NewNop())
	outcome, err := e.Replace(context.Background(), Request{ChainID: "1", Address: "0xabc"})
	require.NoError(t, err)
	assert.Equal(t, store.StatusPerfect, outcome.RuntimeMatch)

	match, err := s.GetSourcifyMatch(context.Background(), "1", "0xabc", false)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPerfect, match.RuntimeMatch)
}

func TestReplaceRejectsWhenNoExistingMatch(t *testing.T) {
	s := newTestStore(t)
	e := New(s, &compiler.SolcCompiler{}, &fakeChain{runtime: []byte{0x01}}, verifier.NewBytecodeVerifier(), zap.NewNop())

	_, err := e.Replace(context.Background(), Request{ChainID: "1", Address: "0xnotdeployed"})
	require.Error(t, err)
}

func TestReplaceCreationInformationPatchesOnlyCreationSide(t *testing.T) {
	code := []byte{0x60, 0x80, 0x60, 0x40}
	s := newTestStore(t)
	seedDeploymentWithMatch(t, s, "1", "0xabc", code)

	method := MethodReplaceCreationInformation
	e := New(s, &compiler.SolcCompiler{}, &fakeChain{runtime: code}, verifier.NewBytecodeVerifier(), zap.NewNop())
	_, err := e.Replace(context.Background(), Request{ChainID: "1", Address: "0xabc", CustomMethod: &method})
	require.NoError(t, err)

	match, err := s.GetSourcifyMatch(context.Background(), "1", "0xabc", false)
	require.NoError(t, err)
	// The runtime axis is preserved exactly as it was before the patch;
	// only the creation axis was touched.
	assert.Equal(t, store.StatusPartial, match.RuntimeMatch)
	assert.Equal(t, store.StatusNull, match.CreationMatch)
}
