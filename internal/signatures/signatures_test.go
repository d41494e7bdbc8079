package signatures

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainverify/verifyd/internal/store"
)

const sampleABI = `[
	{"type":"constructor","inputs":[{"name":"owner","type":"address"}]},
	{"type":"fallback"},
	{"type":"receive","stateMutability":"payable"},
	{"type":"function","name":"transfer","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"event","name":"Transfer","inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false}]},
	{"type":"error","name":"InsufficientBalance","inputs":[{"name":"available","type":"uint256"},{"name":"required","type":"uint256"}]}
]`

func TestExtractIgnoresConstructorFallbackAndReceive(t *testing.T) {
	fragments, err := Extract(sampleABI)
	require.NoError(t, err)
	require.Len(t, fragments, 3)

	byKind := map[store.SignatureKind]Fragment{}
	for _, f := range fragments {
		byKind[f.Kind] = f
	}

	require.Contains(t, byKind, store.SignatureFunction)
	assert.Equal(t, "transfer(address,uint256)", byKind[store.SignatureFunction].Text)
	require.Contains(t, byKind, store.SignatureEvent)
	assert.Equal(t, "Transfer(address,address,uint256)", byKind[store.SignatureEvent].Text)
	require.Contains(t, byKind, store.SignatureError)
	assert.Equal(t, "InsufficientBalance(uint256,uint256)", byKind[store.SignatureError].Text)

	for _, f := range fragments {
		assert.Len(t, f.KeccakHex, 64)
	}
}

func TestExtractEmptyABIYieldsNoFragments(t *testing.T) {
	fragments, err := Extract("")
	require.NoError(t, err)
	assert.Empty(t, fragments)

	fragments, err = Extract("[]")
	require.NoError(t, err)
	assert.Empty(t, fragments)
}

func TestExtractMalformedABIErrors(t *testing.T) {
	_, err := Extract("{not json")
	assert.Error(t, err)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.OpenInMemory(zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreAllIsIdempotentAcrossCompilations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fragments, err := Extract(sampleABI)
	require.NoError(t, err)

	txn, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, StoreAll(txn, "compilation-1", fragments))
	require.NoError(t, txn.Commit())

	// Re-indexing the same fragments for a second compilation must bump
	// JoinCount rather than erroring or creating duplicate rows.
	txn2, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, StoreAll(txn2, "compilation-2", fragments))
	require.NoError(t, txn2.Commit())

	transferKeccak := fragmentByText(t, fragments, "transfer(address,uint256)").KeccakHex
	sig, err := s.GetSignatureByKeccak(ctx, transferKeccak)
	require.NoError(t, err)
	assert.Equal(t, 2, sig.JoinCount)

	// Committing compilation-1's fragments again must not double-count.
	txn3, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, StoreAll(txn3, "compilation-1", fragments))
	require.NoError(t, txn3.Commit())

	sig, err = s.GetSignatureByKeccak(ctx, transferKeccak)
	require.NoError(t, err)
	assert.Equal(t, 2, sig.JoinCount)
}

func TestIndexByFourByteFiltersToHighestJoinCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// A real 4-byte collision between two distinct signatures is
	// impractical to construct, so this joins one real signature to two
	// compilations and checks that the filter keeps it with its JoinCount
	// of 2.
	fragments, err := Extract(sampleABI)
	require.NoError(t, err)
	transfer := fragmentByText(t, fragments, "transfer(address,uint256)")

	txn, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, StoreAll(txn, "compilation-1", []Fragment{transfer}))
	require.NoError(t, StoreAll(txn, "compilation-2", []Fragment{transfer}))
	require.NoError(t, txn.Commit())

	idx := NewIndex(s)
	sigs, err := idx.ByFourByte(ctx, transfer.KeccakHex[:8], true)
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.Equal(t, transfer.Text, sigs[0].Text)
	assert.Equal(t, 2, sigs[0].JoinCount)
}

func fragmentByText(t *testing.T, fragments []Fragment, text string) Fragment {
	t.Helper()
	for _, f := range fragments {
		if f.Text == text {
			return f
		}
	}
	t.Fatalf("fragment %q not found", text)
	return Fragment{}
}
