package jobengine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainverify/verifyd/internal/store"
	"github.com/chainverify/verifyd/pkg/verifier"
)

func TestSubmitSimilarityMatchesStoredCandidate(t *testing.T) {
	code := []byte{0x60, 0x80, 0x60, 0x40, 0x52}

	s := newTestStoreForHandlers(t)
	txn, err := s.Begin(context.Background())
	require.NoError(t, err)
	sha, err := txn.UpsertCode(code)
	require.NoError(t, err)
	_, err = txn.UpsertCompiledContract(store.CompiledContractInput{
		Compiler: "solc", Language: "Solidity", CompilerVersion: "0.8.20",
		RuntimeCodeSHA: sha, CreationCodeSHA: sha, FullyQualifiedName: "contracts/Foo.sol:Foo", ABI: "[]",
	})
	require.NoError(t, err)
	require.NoError(t, txn.Commit())

	ch := &fakeChain{runtime: code}
	e, _ := newEngineWithStore(t, s, &fakeCompiler{}, ch, verifier.NewBytecodeVerifier())

	jobID, err := e.SubmitSimilarity(context.Background(), "1", "0xdead", SimilarityRequest{})
	require.NoError(t, err)

	view := waitForTerminal(t, e, jobID)
	assert.Equal(t, store.JobSucceeded, view.Job.Status)
	require.NotNil(t, view.SourcifyMatch)
	assert.Equal(t, store.StatusPerfect, view.SourcifyMatch.RuntimeMatch)
}

func TestSubmitFromMetadataReconstructsJSONInputAndSucceeds(t *testing.T) {
	code := []byte{0x60, 0x80, 0x60, 0x40}
	comp := &fakeCompiler{output: matchingOutputs(code)}
	ch := &fakeChain{runtime: code}
	e, _ := newTestEngine(t, comp, ch, verifier.NewBytecodeVerifier())

	metadata := `{
		"language": "Solidity",
		"compiler": {"version": "0.8.20"},
		"sources": {"contracts/Foo.sol": {"keccak256": "0xdead"}},
		"settings": {"optimizer": {"enabled": false}}
	}`

	jobID, err := e.SubmitFromMetadata(context.Background(), "1", "0xabc", MetadataRequest{
		Metadata: metadata,
		Sources:  map[string]string{"contracts/Foo.sol": "contract Foo {}"},
	})
	require.NoError(t, err)

	view := waitForTerminal(t, e, jobID)
	assert.Equal(t, store.JobSucceeded, view.Job.Status)
}

func TestSubmitFromMetadataMissingSourceFailsBeforeCompiling(t *testing.T) {
	e, _ := newTestEngine(t, &fakeCompiler{output: matchingOutputs([]byte{0x01})}, &fakeChain{runtime: []byte{0x01}}, verifier.NewBytecodeVerifier())

	metadata := `{
		"language": "Solidity",
		"compiler": {"version": "0.8.20"},
		"sources": {"contracts/Foo.sol": {"keccak256": "0xdead"}}
	}`

	jobID, err := e.SubmitFromMetadata(context.Background(), "1", "0xabc", MetadataRequest{
		Metadata: metadata,
		Sources:  map[string]string{},
	})
	require.NoError(t, err)

	view := waitForTerminal(t, e, jobID)
	assert.Equal(t, store.JobFailed, view.Job.Status)
	assert.NotEmpty(t, view.Job.ErrorCode)
}

func TestBuildJSONInputFromMetadataInjectsOutputSelection(t *testing.T) {
	metadata := `{
		"language": "Solidity",
		"compiler": {"version": "0.8.19"},
		"sources": {"A.sol": {"keccak256": "0xabc"}},
		"settings": {"optimizer": {"enabled": true, "runs": 200}}
	}`
	raw, language, version, err := buildJSONInputFromMetadata(metadata, map[string]string{"A.sol": "contract A {}"})
	require.NoError(t, err)
	assert.Equal(t, "0.8.19", version)
	assert.EqualValues(t, "Solidity", language)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	settings, ok := decoded["settings"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, settings, "outputSelection")
}
