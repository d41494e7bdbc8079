package store

import "fmt"

// Key prefixes for the canonical store's tables, mirroring the indexer's
// key-prefix schema (storage/schema.go) but addressed at verification
// entities instead of blocks/transactions. Every "table" is a pebble key
// prefix; dedup tables additionally expose a content-derived secondary key
// so upserts can be answered without a read-modify-write race.
const (
	prefixCode          = "/code/id/"
	prefixCodeByKeccak  = "/code/keccak/"
	prefixContractByKey = "/contract/key/"
	prefixContract      = "/contract/id/"
	prefixDeployByKey   = "/deployment/key/"
	prefixDeployment    = "/deployment/id/"
	prefixDeployByChain = "/deployment/by_chain_addr/"
	prefixSource        = "/source/id/"
	prefixCompiledByKey = "/compiled/key/"
	prefixCompiled      = "/compiled/id/"
	prefixCompiledByRT  = "/compiled/by_runtime/" // runtime_sha/compilation_id -> "" (similarity prefix scan)
	prefixVerified      = "/verified/id/"
	prefixVerifiedByDep = "/verified/by_deployment/" // deployment_id/seq -> verified_contract_id
	prefixSourcifyMatch = "/sourcify_match/"
	prefixJob           = "/job/id/"
	prefixSignature     = "/signature/id/"
	prefixSignature4B   = "/signature/four_byte/"
	prefixSignatureJoin = "/signature/join/" // compilation_id/type/keccak -> ""
)

func codeKey(sha string) []byte           { return []byte(prefixCode + sha) }
func codeByKeccakKey(keccak string) []byte { return []byte(prefixCodeByKeccak + keccak) }

// contractDedupKey is the content-derived key a contract row is looked up
// by before assigning it an id; see Contract's unique-by-pair invariant.
func contractDedupKey(creationSHA *string, runtimeSHA string) []byte {
	cs := "-"
	if creationSHA != nil {
		cs = *creationSHA
	}
	return []byte(fmt.Sprintf("%s%s/%s", prefixContractByKey, cs, runtimeSHA))
}

func contractKey(id string) []byte { return []byte(prefixContract + id) }

func deploymentDedupKey(chainID, address string, creatorTxHash *string) []byte {
	tx := "-"
	if creatorTxHash != nil {
		tx = *creatorTxHash
	}
	return []byte(fmt.Sprintf("%s%s/%s/%s", prefixDeployByKey, chainID, address, tx))
}

func deploymentKey(id string) []byte { return []byte(prefixDeployment + id) }

func deploymentByChainAddrKey(chainID, address string) []byte {
	return []byte(fmt.Sprintf("%s%s/%s", prefixDeployByChain, chainID, address))
}

func sourceKey(sha string) []byte { return []byte(prefixSource + sha) }

func compiledDedupKey(compiler, language, creationSHA, runtimeSHA string) []byte {
	return []byte(fmt.Sprintf("%s%s/%s/%s/%s", prefixCompiledByKey, compiler, language, creationSHA, runtimeSHA))
}

func compiledKey(id string) []byte { return []byte(prefixCompiled + id) }

// compiledByRuntimeKey builds the index key the similarity path scans: one
// entry per compilation, under its runtime code sha. A sha carries no
// byte-prefix information, so SimilarityCandidates walks every entry and
// compares the stored runtime bytes themselves.
func compiledByRuntimeKey(runtimeSHA, compilationID string) []byte {
	return []byte(fmt.Sprintf("%s%s/%s", prefixCompiledByRT, runtimeSHA, compilationID))
}

func compiledByRuntimePrefix() []byte { return []byte(prefixCompiledByRT) }

func verifiedKey(id string) []byte { return []byte(prefixVerified + id) }

func verifiedByDeploymentKey(deploymentID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", prefixVerifiedByDep, deploymentID, seq))
}

func verifiedByDeploymentPrefix(deploymentID string) []byte {
	return []byte(fmt.Sprintf("%s%s/", prefixVerifiedByDep, deploymentID))
}

func sourcifyMatchKey(deploymentID string) []byte {
	return []byte(prefixSourcifyMatch + deploymentID)
}

func jobKey(id string) []byte { return []byte(prefixJob + id) }

func signatureKey(keccak string) []byte { return []byte(prefixSignature + keccak) }

func signature4ByteKey(fourByte, keccak string) []byte {
	return []byte(fmt.Sprintf("%s%s/%s", prefixSignature4B, fourByte, keccak))
}

func signature4BytePrefix(fourByte string) []byte {
	return []byte(fmt.Sprintf("%s%s/", prefixSignature4B, fourByte))
}

func signatureJoinKey(compilationID string, kind SignatureKind, keccak string) []byte {
	return []byte(fmt.Sprintf("%s%s/%s/%s", prefixSignatureJoin, compilationID, kind, keccak))
}

func signatureJoinPrefix(compilationID string) []byte {
	return []byte(fmt.Sprintf("%s%s/", prefixSignatureJoin, compilationID))
}

// prefixUpperBound returns the lexicographically smallest key that is
// greater than every key sharing prefix, for use as a pebble iterator's
// exclusive UpperBound over a prefix scan.
func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil // prefix is all 0xff bytes; unbounded scan
}
