package store

import (
	"encoding/json"
	"time"
)

// MatchStatus is the tri-state match level used on both VerifiedContract's
// boolean fields (derived) and SourcifyMatch's summary fields.
type MatchStatus string

const (
	StatusPerfect MatchStatus = "perfect"
	StatusPartial MatchStatus = "partial"
	StatusNull    MatchStatus = "null"
)

// rank orders match statuses for the SourcifyMatch repointing policy:
// perfect > partial > null.
func (s MatchStatus) rank() int {
	switch s {
	case StatusPerfect:
		return 2
	case StatusPartial:
		return 1
	default:
		return 0
	}
}

// GreaterOrEqual reports whether s is at least as good a match as other.
func (s MatchStatus) GreaterOrEqual(other MatchStatus) bool {
	return s.rank() >= other.rank()
}

// Greater reports whether s is strictly better than other.
func (s MatchStatus) Greater(other MatchStatus) bool {
	return s.rank() > other.rank()
}

// Contract is the on-chain-artifact-independent-of-deployment row keyed by
// (creation_code_sha, runtime_code_sha).
type Contract struct {
	ID              string  `json:"id"`
	CreationCodeSHA *string `json:"creationCodeSha,omitempty"`
	RuntimeCodeSHA  string  `json:"runtimeCodeSha"`
}

// Deployment binds a Contract to a specific on-chain location.
type Deployment struct {
	ID             string  `json:"id"`
	ChainID        string  `json:"chainId"`
	Address        string  `json:"address"` // checksummed hex
	CreatorTxHash  *string `json:"creatorTxHash,omitempty"`
	ContractID     string  `json:"contractId"`
	BlockNumber    *uint64 `json:"blockNumber,omitempty"`
	TxIndex        *uint64 `json:"txIndex,omitempty"`
	Deployer       *string `json:"deployer,omitempty"`
}

// Source is one compiled source file, keyed by the sha256 of its content.
type Source struct {
	SHA     string `json:"sha"`
	Content string `json:"content"`
}

// CompiledContract is one compiler invocation's output.
type CompiledContract struct {
	ID                          string            `json:"id"`
	Compiler                    string            `json:"compiler"`
	Language                    string            `json:"language"`
	CompilerVersion             string            `json:"compilerVersion"`
	SettingsWithoutOutputSel    string            `json:"settingsWithoutOutputSelection"`
	CreationCodeSHA             string            `json:"creationCodeSha"`
	RuntimeCodeSHA              string            `json:"runtimeCodeSha"`
	CompilationArtifacts        string            `json:"compilationArtifacts"`
	CreationCodeArtifacts       string            `json:"creationCodeArtifacts"`
	RuntimeCodeArtifacts        string            `json:"runtimeCodeArtifacts"`
	FullyQualifiedName          string            `json:"fullyQualifiedName"`
	Sources                     map[string]string `json:"sources"` // path -> source sha
	ABI                         string            `json:"abi,omitempty"`
}

// VerifiedContract is the append-only binding from a Deployment to a
// CompiledContract, carrying the match result.
type VerifiedContract struct {
	ID                     string          `json:"id"`
	DeploymentID           string          `json:"deploymentId"`
	CompilationID          string          `json:"compilationId"`
	RuntimeMatch           bool            `json:"runtimeMatch"`
	CreationMatch          bool            `json:"creationMatch"`
	RuntimeTransformations json.RawMessage `json:"runtimeTransformations,omitempty"`
	RuntimeValues          json.RawMessage `json:"runtimeValues,omitempty"`
	CreationTransformations json.RawMessage `json:"creationTransformations,omitempty"`
	CreationValues         json.RawMessage `json:"creationValues,omitempty"`
	RuntimeMetadataMatch   *bool           `json:"runtimeMetadataMatch,omitempty"`
	CreationMetadataMatch  *bool           `json:"creationMetadataMatch,omitempty"`
	RuntimeStatus          MatchStatus     `json:"runtimeStatus"`
	CreationStatus         MatchStatus     `json:"creationStatus"`
	CreatedAt              time.Time       `json:"createdAt"`
}

// SourcifyMatch is the mutable pointer to the currently best
// VerifiedContract for a deployment.
type SourcifyMatch struct {
	VerifiedContractID string      `json:"verifiedContractId"`
	DeploymentID       string      `json:"deploymentId"`
	RuntimeMatch       MatchStatus `json:"runtimeMatch"`
	CreationMatch      MatchStatus `json:"creationMatch"`
	Metadata           string      `json:"metadata,omitempty"`
	CreatedAt          time.Time   `json:"createdAt"`
}

// JobStatus is the lifecycle state of a VerificationJob.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// VerificationJob is a persisted row representing one verification request
// through its lifecycle.
type VerificationJob struct {
	ID                 string            `json:"id"`
	ChainID            string            `json:"chainId"`
	ContractAddress    string            `json:"contractAddress"`
	Status             JobStatus         `json:"status"`
	StartedAt          time.Time         `json:"startedAt"`
	CompletedAt        *time.Time        `json:"completedAt,omitempty"`
	VerifiedContractID *string           `json:"verifiedContractId,omitempty"`
	ErrorCode          string            `json:"errorCode,omitempty"`
	ErrorID            string            `json:"errorId,omitempty"`
	ErrorData          json.RawMessage   `json:"errorData,omitempty"`
	VerificationEndpoint string          `json:"verificationEndpoint"`
	ExternalVerification map[string]string `json:"externalVerification,omitempty"`
}

// Signature is a global, deduplicated ABI selector.
type Signature struct {
	KeccakHash string `json:"keccak256"` // 32-byte hex
	FourByte   string `json:"fourByte"`  // first 4 bytes of KeccakHash, hex
	Text       string `json:"text"`      // e.g. "transfer(address,uint256)"
	JoinCount  int    `json:"joinCount"` // number of distinct compilations that reference this selector
}

// SignatureKind distinguishes which ABI fragment kind a signature came
// from, since function/event/error selectors share a hash space but are
// joined to compilations separately.
type SignatureKind string

const (
	SignatureFunction SignatureKind = "function"
	SignatureEvent    SignatureKind = "event"
	SignatureError    SignatureKind = "error"
)
