package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	"github.com/chainverify/verifyd/internal/bytecode"
)

// Txn is a single transaction spanning the full write path of one
// verification. It wraps a pebble indexed batch so upserts can read their
// own uncommitted writes (mirroring pebbleBatch in storage/pebble.go,
// generalized from a single insert-only workload to a read-modify-write
// dedup workload).
type Txn struct {
	store *Store
	batch *pebble.Batch
	ctx   context.Context
}

func putJSON(b *pebble.Batch, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: marshal: %w", err)
	}
	return b.Set(key, data, nil)
}

func getJSON(reader pebble.Reader, key []byte, v interface{}) (bool, error) {
	ok, data, err := keyExists(reader, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("store: unmarshal: %w", err)
	}
	return true, nil
}

// Commit persists the transaction's writes atomically. Either every row
// written through this Txn becomes visible, or (on error) none does.
func (t *Txn) Commit() error {
	return t.batch.Commit(pebble.Sync)
}

// Discard abandons the transaction without committing.
func (t *Txn) Discard() error {
	return t.batch.Close()
}

// UpsertCode is idempotent by code_sha: storing the same bytes twice
// returns the same id and writes nothing new.
func (t *Txn) UpsertCode(code []byte) (string, error) {
	digest := bytecode.Hash(code)
	sha := digest.SHA256Hex()

	if ok, _, err := keyExists(t.batch, codeKey(sha)); err != nil {
		return "", err
	} else if ok {
		return sha, nil
	}

	if err := t.batch.Set(codeKey(sha), code, nil); err != nil {
		return "", err
	}
	if err := t.batch.Set(codeByKeccakKey(digest.Keccak256Hex()), []byte(sha), nil); err != nil {
		return "", err
	}
	return sha, nil
}

// UpsertContract returns the id of the (creationSHA, runtimeSHA) pair,
// creating the row on first sight.
func (t *Txn) UpsertContract(creationSHA *string, runtimeSHA string) (string, error) {
	dedupKey := contractDedupKey(creationSHA, runtimeSHA)
	if ok, existing, err := keyExists(t.batch, dedupKey); err != nil {
		return "", err
	} else if ok {
		return string(existing), nil
	}

	id := uuid.NewString()
	contract := Contract{ID: id, CreationCodeSHA: creationSHA, RuntimeCodeSHA: runtimeSHA}
	if err := putJSON(t.batch, contractKey(id), contract); err != nil {
		return "", err
	}
	if err := t.batch.Set(dedupKey, []byte(id), nil); err != nil {
		return "", err
	}
	return id, nil
}

// UpsertDeployment returns the id of (chainID, address, creatorTxHash),
// creating the row and its by-chain-address index entry on first sight.
func (t *Txn) UpsertDeployment(chainID, address string, creatorTxHash *string, contractID string, blockNumber, txIndex *uint64, deployer *string) (string, error) {
	dedupKey := deploymentDedupKey(chainID, address, creatorTxHash)
	if ok, existing, err := keyExists(t.batch, dedupKey); err != nil {
		return "", err
	} else if ok {
		return string(existing), nil
	}

	id := uuid.NewString()
	dep := Deployment{
		ID: id, ChainID: chainID, Address: address, CreatorTxHash: creatorTxHash,
		ContractID: contractID, BlockNumber: blockNumber, TxIndex: txIndex, Deployer: deployer,
	}
	if err := putJSON(t.batch, deploymentKey(id), dep); err != nil {
		return "", err
	}
	if err := t.batch.Set(dedupKey, []byte(id), nil); err != nil {
		return "", err
	}
	if err := t.batch.Set(deploymentByChainAddrKey(chainID, address), []byte(id), nil); err != nil {
		return "", err
	}
	return id, nil
}

// CompiledContractInput is the write-side shape for UpsertCompiledContract;
// it mirrors CompiledContract minus the assigned ID.
type CompiledContractInput struct {
	Compiler                 string
	Language                 string
	CompilerVersion          string
	SettingsWithoutOutputSel string
	CreationCodeSHA          string
	RuntimeCodeSHA           string
	CompilationArtifacts     string
	CreationCodeArtifacts    string
	RuntimeCodeArtifacts     string
	FullyQualifiedName       string
	Sources                  map[string]string
	ABI                      string
}

// UpsertCompiledContract is idempotent by
// (compiler, language, creationSHA, runtimeSHA).
func (t *Txn) UpsertCompiledContract(in CompiledContractInput) (string, error) {
	dedupKey := compiledDedupKey(in.Compiler, in.Language, in.CreationCodeSHA, in.RuntimeCodeSHA)
	if ok, existing, err := keyExists(t.batch, dedupKey); err != nil {
		return "", err
	} else if ok {
		return string(existing), nil
	}

	id := uuid.NewString()
	cc := CompiledContract{
		ID: id, Compiler: in.Compiler, Language: in.Language, CompilerVersion: in.CompilerVersion,
		SettingsWithoutOutputSel: in.SettingsWithoutOutputSel, CreationCodeSHA: in.CreationCodeSHA,
		RuntimeCodeSHA: in.RuntimeCodeSHA, CompilationArtifacts: in.CompilationArtifacts,
		CreationCodeArtifacts: in.CreationCodeArtifacts, RuntimeCodeArtifacts: in.RuntimeCodeArtifacts,
		FullyQualifiedName: in.FullyQualifiedName, Sources: in.Sources, ABI: in.ABI,
	}
	if err := putJSON(t.batch, compiledKey(id), cc); err != nil {
		return "", err
	}
	if err := t.batch.Set(dedupKey, []byte(id), nil); err != nil {
		return "", err
	}
	if err := t.batch.Set(compiledByRuntimeKey(in.RuntimeCodeSHA, id), nil, nil); err != nil {
		return "", err
	}
	for path, sha := range in.Sources {
		_ = path
		// sources content is written separately via UpsertSource; this
		// just ensures the compiled_contract's Sources map references
		// shas that already exist in the Txn.
		if ok, _, err := keyExists(t.batch, sourceKey(sha)); err != nil {
			return "", err
		} else if !ok {
			return "", fmt.Errorf("store: compiled contract references unknown source %s", sha)
		}
	}
	return id, nil
}

// UpsertSource stores compiled source content, idempotent by its sha256.
func (t *Txn) UpsertSource(content string) (string, error) {
	sha := bytecode.SHA256Hex([]byte(content))
	if ok, _, err := keyExists(t.batch, sourceKey(sha)); err != nil {
		return "", err
	} else if ok {
		return sha, nil
	}
	if err := putJSON(t.batch, sourceKey(sha), Source{SHA: sha, Content: content}); err != nil {
		return "", err
	}
	return sha, nil
}

// InsertVerifiedContract always creates a new row: VerifiedContract is
// append-only (§3 lifecycle).
func (t *Txn) InsertVerifiedContract(vc VerifiedContract) (string, error) {
	vc.ID = uuid.NewString()
	vc.CreatedAt = time.Now().UTC()
	if err := putJSON(t.batch, verifiedKey(vc.ID), vc); err != nil {
		return "", err
	}

	seq, err := t.nextDeploymentSeq(vc.DeploymentID)
	if err != nil {
		return "", err
	}
	if err := t.batch.Set(verifiedByDeploymentKey(vc.DeploymentID, seq), []byte(vc.ID), nil); err != nil {
		return "", err
	}
	return vc.ID, nil
}

// nextDeploymentSeq returns a monotonically increasing sequence number for
// a deployment's verified-contract history, scanning the batch+db for the
// current high-water mark. Verifications for one (chain,address) are
// already serialized by the job engine's in-flight set, so no additional
// locking is required here.
func (t *Txn) nextDeploymentSeq(deploymentID string) (uint64, error) {
	prefix := verifiedByDeploymentPrefix(deploymentID)
	iter, err := t.batch.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	var count uint64
	for ok := iter.First(); ok; ok = iter.Next() {
		count++
	}
	return count, nil
}

// UpsertSourcifyMatch applies the repointing policy: the pointer moves to
// verifiedContractID only if its (runtime, creation) status is not worse
// on either axis and strictly better on at least one, compared to the
// currently pointed-at match. Returns ok=false with ErrAlreadyVerified
// when the candidate does not improve on the current pointer.
func (t *Txn) UpsertSourcifyMatch(deploymentID, verifiedContractID string, runtimeStatus, creationStatus MatchStatus, metadata string) (bool, error) {
	var current SourcifyMatch
	found, err := getJSON(t.batch, sourcifyMatchKey(deploymentID), &current)
	if err != nil {
		return false, err
	}

	if found {
		betterOrEqual := runtimeStatus.GreaterOrEqual(current.RuntimeMatch) && creationStatus.GreaterOrEqual(current.CreationMatch)
		strictlyBetter := runtimeStatus.Greater(current.RuntimeMatch) || creationStatus.Greater(current.CreationMatch)
		if !betterOrEqual || !strictlyBetter {
			return false, ErrAlreadyVerified
		}
	}

	match := SourcifyMatch{
		VerifiedContractID: verifiedContractID,
		DeploymentID:       deploymentID,
		RuntimeMatch:       runtimeStatus,
		CreationMatch:      creationStatus,
		Metadata:           metadata,
		CreatedAt:          time.Now().UTC(),
	}
	if err := putJSON(t.batch, sourcifyMatchKey(deploymentID), match); err != nil {
		return false, err
	}
	return true, nil
}

// ReplaceSourcifyMatch overwrites the current match pointer unconditionally,
// bypassing UpsertSourcifyMatch's perfect/partial/null repointing policy.
// It is the maintainer-only counterpart spec.md §4.8 describes as "the
// current match is deleted ... and the new one inserted": replace requires
// an existing row (there is nothing to correct otherwise), which doubles
// as the "error if dangling references exist" check for a store where a
// match is a single pointer per deployment rather than a graph of rows.
func (t *Txn) ReplaceSourcifyMatch(deploymentID, verifiedContractID string, runtimeStatus, creationStatus MatchStatus, metadata string) error {
	var current SourcifyMatch
	found, err := getJSON(t.batch, sourcifyMatchKey(deploymentID), &current)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	match := SourcifyMatch{
		VerifiedContractID: verifiedContractID,
		DeploymentID:       deploymentID,
		RuntimeMatch:       runtimeStatus,
		CreationMatch:      creationStatus,
		Metadata:           metadata,
		CreatedAt:          time.Now().UTC(),
	}
	return putJSON(t.batch, sourcifyMatchKey(deploymentID), match)
}

// PatchSourcifyMatchCreationSide implements the "replace-creation-information"
// custom replace method (spec.md §4.8): it rewrites only the creation-side
// columns of the current match — its VerifiedContractID pointer (now
// carrying the corrected creation evidence) and CreationMatch status —
// while leaving RuntimeMatch untouched.
func (t *Txn) PatchSourcifyMatchCreationSide(deploymentID, verifiedContractID string, creationStatus MatchStatus) error {
	var current SourcifyMatch
	found, err := getJSON(t.batch, sourcifyMatchKey(deploymentID), &current)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	current.VerifiedContractID = verifiedContractID
	current.CreationMatch = creationStatus
	current.CreatedAt = time.Now().UTC()
	return putJSON(t.batch, sourcifyMatchKey(deploymentID), current)
}

// PutJob writes (or overwrites) a verification job row. The job engine
// calls this on admission and once more on completion.
func (t *Txn) PutJob(job VerificationJob) error {
	return putJSON(t.batch, jobKey(job.ID), job)
}

// UpsertSignature inserts a global signature row (idempotent by keccak
// hash) and joins it to a compilation under the given kind. JoinCount
// tracks how many distinct compilations reference the selector, which the
// signature index uses to rank canonical variants among 4-byte collisions.
func (t *Txn) UpsertSignature(compilationID string, kind SignatureKind, keccakHex, text string) error {
	fourByte := keccakHex[:8]

	var sig Signature
	found, err := getJSON(t.batch, signatureKey(keccakHex), &sig)
	if err != nil {
		return err
	}
	if !found {
		sig = Signature{KeccakHash: keccakHex, FourByte: fourByte, Text: text}
		if err := t.batch.Set(signature4ByteKey(fourByte, keccakHex), nil, nil); err != nil {
			return err
		}
	}

	joinKey := signatureJoinKey(compilationID, kind, keccakHex)
	joinedAlready, _, err := keyExists(t.batch, joinKey)
	if err != nil {
		return err
	}
	if !joinedAlready {
		sig.JoinCount++
		if err := t.batch.Set(joinKey, nil, nil); err != nil {
			return err
		}
	}

	return putJSON(t.batch, signatureKey(keccakHex), sig)
}
