package chain

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainverify/verifyd/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.OpenInMemory(zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type stubChain struct {
	receipt *CreationReceipt
	err     error
}

func (s *stubChain) GetBytecode(ctx context.Context, addr string) ([]byte, error) { return nil, nil }
func (s *stubChain) GetTx(ctx context.Context, hash string) (*TxInfo, error)       { return nil, nil }
func (s *stubChain) GetContractCreationBytecodeAndReceipt(ctx context.Context, addr string, creatorTxHash *string) (*CreationReceipt, error) {
	return s.receipt, s.err
}

func TestSyntheticChainGetBytecodeReturnsStoredCode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	txn, err := s.Begin(ctx)
	require.NoError(t, err)
	sha, err := txn.UpsertCode([]byte{0x60, 0x80})
	require.NoError(t, err)
	require.NoError(t, txn.Commit())

	sc := NewSyntheticChain(s, nil)
	code, err := sc.GetBytecode(ctx, sha)
	require.NoError(t, err)
	require.Equal(t, []byte{0x60, 0x80}, code)
}

func TestSyntheticChainGetBytecodeNotFound(t *testing.T) {
	s := newTestStore(t)
	sc := NewSyntheticChain(s, nil)
	_, err := sc.GetBytecode(context.Background(), "deadbeef")
	require.ErrorIs(t, err, ErrNoCode)
}

func TestSyntheticChainGetTxUnsupported(t *testing.T) {
	sc := NewSyntheticChain(newTestStore(t), nil)
	_, err := sc.GetTx(context.Background(), "0xabc")
	require.Error(t, err)
}

func TestSyntheticChainCreationReceiptRequiresFallbackAndHash(t *testing.T) {
	sc := NewSyntheticChain(newTestStore(t), nil)
	_, err := sc.GetContractCreationBytecodeAndReceipt(context.Background(), "1:0xabc", nil)
	require.ErrorIs(t, err, ErrNoCode)

	hash := "0xdeadbeef"
	_, err = sc.GetContractCreationBytecodeAndReceipt(context.Background(), "1:0xabc", &hash)
	require.ErrorIs(t, err, ErrNoCode)
}

func TestSyntheticChainCreationReceiptDelegatesToFallback(t *testing.T) {
	want := &CreationReceipt{CreationBytecode: []byte{0x01}, Deployer: "0xaaa"}
	stub := &stubChain{receipt: want}
	sc := NewSyntheticChain(newTestStore(t), stub)

	hash := "0xdeadbeef"
	got, err := sc.GetContractCreationBytecodeAndReceipt(context.Background(), "1:0xabc", &hash)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestSyntheticChainCreationReceiptPropagatesFallbackError(t *testing.T) {
	stub := &stubChain{err: errors.New("rpc down")}
	sc := NewSyntheticChain(newTestStore(t), stub)

	hash := "0xdeadbeef"
	_, err := sc.GetContractCreationBytecodeAndReceipt(context.Background(), "1:0xabc", &hash)
	require.Error(t, err)
}

func TestLiveBytesChainReturnsBytesRegardlessOfAddress(t *testing.T) {
	lc := NewLiveBytesChain([]byte{0x60, 0x80}, nil)
	code, err := lc.GetBytecode(context.Background(), "any-candidate-sha")
	require.NoError(t, err)
	require.Equal(t, []byte{0x60, 0x80}, code)
}

func TestLiveBytesChainEmptyBytecodeReturnsNoCode(t *testing.T) {
	lc := NewLiveBytesChain(nil, nil)
	_, err := lc.GetBytecode(context.Background(), "0xabc")
	require.ErrorIs(t, err, ErrNoCode)
}

func TestLiveBytesChainCreationReceiptDelegatesToFallbackWithRealAddress(t *testing.T) {
	want := &CreationReceipt{CreationBytecode: []byte{0x01}, Deployer: "0xaaa"}
	stub := &stubChain{receipt: want}
	lc := NewLiveBytesChain([]byte{0x60}, stub)

	hash := "0xdeadbeef"
	got, err := lc.GetContractCreationBytecodeAndReceipt(context.Background(), "0xabc", &hash)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestLiveBytesChainCreationReceiptNoFallback(t *testing.T) {
	lc := NewLiveBytesChain([]byte{0x60}, nil)
	_, err := lc.GetContractCreationBytecodeAndReceipt(context.Background(), "0xabc", nil)
	require.ErrorIs(t, err, ErrNoCode)
}
