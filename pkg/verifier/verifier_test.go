package verifier

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainverify/verifyd/internal/bytecode"
	"github.com/chainverify/verifyd/internal/codederr"
	"github.com/chainverify/verifyd/pkg/chain"
)

type fakeChain struct {
	runtime []byte
	err     error
	receipt *chain.CreationReceipt
}

func (f *fakeChain) GetBytecode(ctx context.Context, addr string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.runtime, nil
}
func (f *fakeChain) GetTx(ctx context.Context, hash string) (*chain.TxInfo, error) { return nil, nil }
func (f *fakeChain) GetContractCreationBytecodeAndReceipt(ctx context.Context, addr string, creatorTxHash *string) (*chain.CreationReceipt, error) {
	return f.receipt, nil
}

func TestVerifyPerfectRuntimeMatch(t *testing.T) {
	code := []byte{0x60, 0x80, 0x60, 0x40}
	c := &fakeChain{runtime: code}
	v := NewBytecodeVerifier()

	result, err := v.Verify(context.Background(), &Compilation{RuntimeBytecode: code}, c, "0xabc", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusPerfect, result.RuntimeMatch)
	assert.Equal(t, StatusNull, result.CreationMatch)
	require.NotNil(t, result.RuntimeMetadataMatch)
	assert.True(t, *result.RuntimeMetadataMatch)
}

func TestVerifyPartialMatchAfterNormalizingLibraryPlaceholder(t *testing.T) {
	onChain := make([]byte, 25)
	for i := range onChain {
		onChain[i] = 0xaa
	}
	copy(onChain[2:22], bytesOfLibraryAddress())

	recompiled := make([]byte, 25)
	copy(recompiled, onChain)
	for i := 2; i < 22; i++ {
		recompiled[i] = 0
	}

	transformations := []bytecode.Transformation{{Reason: bytecode.ReasonLibrary, Offset: 2, Type: bytecode.TransformReplace}}

	c := &fakeChain{runtime: onChain}
	v := NewBytecodeVerifier()
	result, err := v.Verify(context.Background(), &Compilation{RuntimeBytecode: recompiled, RuntimeTransformations: transformations}, c, "0xabc", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, result.RuntimeMatch)
	require.NotNil(t, result.RuntimeMetadataMatch)
	assert.False(t, *result.RuntimeMetadataMatch)
}

func TestVerifyNoMatchReturnsCodedError(t *testing.T) {
	c := &fakeChain{runtime: []byte{0x01, 0x02}}
	v := NewBytecodeVerifier()

	_, err := v.Verify(context.Background(), &Compilation{RuntimeBytecode: []byte{0x03, 0x04}}, c, "0xabc", nil)
	require.Error(t, err)
	var coded codederr.CodedError
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, codederr.CodeBytecodeMismatch, coded.Code())
}

func TestVerifyContractNotDeployed(t *testing.T) {
	c := &fakeChain{err: chain.ErrNoCode}
	v := NewBytecodeVerifier()

	_, err := v.Verify(context.Background(), &Compilation{RuntimeBytecode: []byte{0x01}}, c, "0xabc", nil)
	var coded codederr.CodedError
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, codederr.CodeContractNotDeployed, coded.Code())
}

func TestVerifyEmptyOnChainCodeIsNotDeployed(t *testing.T) {
	c := &fakeChain{runtime: nil}
	v := NewBytecodeVerifier()

	_, err := v.Verify(context.Background(), &Compilation{RuntimeBytecode: []byte{0x01}}, c, "0xabc", nil)
	var coded codederr.CodedError
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, codederr.CodeContractNotDeployed, coded.Code())
}

func TestVerifyWithCreationEvidencePopulatesDeploymentInfo(t *testing.T) {
	runtime := []byte{0x60, 0x80}
	creation := []byte{0x60, 0x80, 0x60, 0x40}
	c := &fakeChain{
		runtime: runtime,
		receipt: &chain.CreationReceipt{CreationBytecode: creation, TxIndex: 3, Deployer: "0xdead", BlockNumber: 100},
	}
	v := NewBytecodeVerifier()
	hash := "0xcreator"

	result, err := v.Verify(context.Background(), &Compilation{RuntimeBytecode: runtime, CreationBytecode: creation}, c, "0xabc", &hash)
	require.NoError(t, err)
	assert.Equal(t, StatusPerfect, result.CreationMatch)
	require.NotNil(t, result.DeploymentInfo)
	assert.Equal(t, uint64(100), result.DeploymentInfo.BlockNumber)
	assert.Equal(t, "0xdead", result.DeploymentInfo.Deployer)
}

func TestVerifyPropagatesUnexpectedChainError(t *testing.T) {
	c := &fakeChain{err: errors.New("rpc timeout")}
	v := NewBytecodeVerifier()

	_, err := v.Verify(context.Background(), &Compilation{RuntimeBytecode: []byte{0x01}}, c, "0xabc", nil)
	var coded codederr.CodedError
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, codederr.CodeInternalError, coded.Code())
}

func bytesOfLibraryAddress() []byte {
	b := make([]byte, 20)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}
