package store

import (
	"context"
	"sort"

	"github.com/cockroachdb/pebble"

	"github.com/chainverify/verifyd/internal/bytecode"
)

// GetCode returns the raw bytes stored under a content address.
func (s *Store) GetCode(ctx context.Context, sha string) ([]byte, error) {
	ok, data, err := keyExists(s.db, codeKey(sha))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

// GetDeploymentByChainAndAddress looks up a deployment by its most
// frequently-queried key, ignoring creator_tx_hash.
func (s *Store) GetDeploymentByChainAndAddress(ctx context.Context, chainID, address string) (*Deployment, error) {
	ok, id, err := keyExists(s.db, deploymentByChainAddrKey(chainID, address))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	var dep Deployment
	found, err := getJSON(s.db, deploymentKey(string(id)), &dep)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return &dep, nil
}

// GetSourcifyMatch returns the current match pointer for a deployment, or
// ErrNotFound if the deployment has never been verified. When onlyPerfect
// is true, a partial/null pointer is treated as not found.
func (s *Store) GetSourcifyMatch(ctx context.Context, chainID, address string, onlyPerfect bool) (*SourcifyMatch, error) {
	dep, err := s.GetDeploymentByChainAndAddress(ctx, chainID, address)
	if err != nil {
		return nil, err
	}

	var match SourcifyMatch
	found, err := getJSON(s.db, sourcifyMatchKey(dep.ID), &match)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	if onlyPerfect && (match.RuntimeMatch != StatusPerfect || match.CreationMatch != StatusPerfect) {
		return nil, ErrNotFound
	}
	return &match, nil
}

// GetSource fetches compiled source content by its content address.
func (s *Store) GetSource(ctx context.Context, sha string) (string, error) {
	var src Source
	found, err := getJSON(s.db, sourceKey(sha), &src)
	if err != nil {
		return "", err
	}
	if !found {
		return "", ErrNotFound
	}
	return src.Content, nil
}

// GetContract fetches a single on-chain-artifact row by id.
func (s *Store) GetContract(ctx context.Context, id string) (*Contract, error) {
	var c Contract
	found, err := getJSON(s.db, contractKey(id), &c)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return &c, nil
}

// GetVerifiedContract fetches a single append-only verified-contract row.
func (s *Store) GetVerifiedContract(ctx context.Context, id string) (*VerifiedContract, error) {
	var vc VerifiedContract
	found, err := getJSON(s.db, verifiedKey(id), &vc)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return &vc, nil
}

// GetCompiledContract fetches a single compiled-contract row.
func (s *Store) GetCompiledContract(ctx context.Context, id string) (*CompiledContract, error) {
	var cc CompiledContract
	found, err := getJSON(s.db, compiledKey(id), &cc)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return &cc, nil
}

// GetJob fetches a verification job row.
func (s *Store) GetJob(ctx context.Context, id string) (*VerificationJob, error) {
	var job VerificationJob
	found, err := getJSON(s.db, jobKey(id), &job)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return &job, nil
}

// PutJobDirect writes a job row outside of a verification Txn, used by the
// job engine on admission (before any compile/verify work has happened)
// and for shutdown-time internal_error marking.
func (s *Store) PutJobDirect(ctx context.Context, job VerificationJob) error {
	b := s.db.NewBatch()
	if err := putJSON(b, jobKey(job.ID), job); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

// SimilarityCandidate is one ranked result of SimilarityCandidates.
type SimilarityCandidate struct {
	CompilationID      string
	RuntimeCodeSHA     string
	CommonPrefixLength int
}

// SimilarityCandidates returns up to limit CompiledContract ids whose
// stored runtime bytecode shares the longest prefix with runtimeBytecode.
// Candidates with equal prefix length keep the index's key order (runtime
// code sha, then compilation id); ties are not ordered by verification
// time.
func (s *Store) SimilarityCandidates(ctx context.Context, runtimeBytecode []byte, limit int) ([]SimilarityCandidate, error) {
	prefix := compiledByRuntimePrefix()
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var all []SimilarityCandidate
	for ok := iter.First(); ok; ok = iter.Next() {
		key := string(iter.Key())
		rest := key[len(prefix):]
		var runtimeSHA, compilationID string
		if idx := indexByte(rest, '/'); idx >= 0 {
			runtimeSHA, compilationID = rest[:idx], rest[idx+1:]
		} else {
			continue
		}

		codeBytes, err := s.GetCode(ctx, runtimeSHA)
		if err != nil {
			continue
		}
		common := bytecode.LongestCommonPrefixLen(codeBytes, runtimeBytecode)
		if common == 0 {
			continue
		}
		all = append(all, SimilarityCandidate{CompilationID: compilationID, RuntimeCodeSHA: runtimeSHA, CommonPrefixLength: common})
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CommonPrefixLength > all[j].CommonPrefixLength
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// GetSignaturesByFourByte returns every signature whose 4-byte prefix
// matches fourByteHex; 4-byte collisions are expected and returned as a
// list rather than erroring.
func (s *Store) GetSignaturesByFourByte(ctx context.Context, fourByteHex string) ([]Signature, error) {
	prefix := signature4BytePrefix(fourByteHex)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var sigs []Signature
	for ok := iter.First(); ok; ok = iter.Next() {
		keccak := string(iter.Key()[len(prefix):])
		var sig Signature
		found, err := getJSON(s.db, signatureKey(keccak), &sig)
		if err != nil {
			return nil, err
		}
		if found {
			sigs = append(sigs, sig)
		}
	}
	return sigs, nil
}

// GetSignatureByKeccak returns the full signature for a 32-byte hash.
func (s *Store) GetSignatureByKeccak(ctx context.Context, keccakHex string) (*Signature, error) {
	var sig Signature
	found, err := getJSON(s.db, signatureKey(keccakHex), &sig)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return &sig, nil
}
