// Package codederr defines the small CodedError interface that crosses
// worker-pool and job-engine boundaries as an ordinary value (never a
// panic), mirroring how storage/pebble.go distinguishes ErrNotFound from a
// generic wrapped error but generalized to a full error taxonomy
// (spec.md §7) with an operator-correlatable id.
package codederr

import (
	"fmt"

	"github.com/google/uuid"
)

// CodedError is implemented by every error that must be persisted on a
// VerificationJob row as (error_code, error_id, error_data).
type CodedError interface {
	error
	Code() string
}

// Distinguished codes named in spec.md §7.
const (
	CodeCompilerError              = "compiler_error"
	CodeUnsupportedCompilerVersion = "unsupported_compiler_version"
	CodeUnsupportedLanguage        = "unsupported_language"
	CodeUnsupportedChain           = "unsupported_chain"
	CodeInvalidParameter           = "invalid_parameter"
	CodeInvalidJSON                = "invalid_json"
	CodeCannotFetchBytecode        = "cannot_fetch_bytecode"
	CodeNoSimilarMatchFound        = "no_similar_match_found"
	CodeAlreadyVerified            = "already_verified"
	CodeInternalError              = "internal_error"
	CodeContractNotDeployed        = "contract_not_deployed"
	CodeContractBeingVerified      = "contract_being_verified"
	CodeExtraFileInputBug          = "extra_file_input_bug"
	CodeBytecodeMismatch           = "bytecode_mismatch"

	// Explorer submitter subcodes (spec.md §4.10/§7).
	CodeEtherscanRateLimit                  = "etherscan_rate_limit"
	CodeEtherscanNotVerified                = "etherscan_not_verified"
	CodeEtherscanHTTPError                  = "etherscan_http_error"
	CodeEtherscanAPIError                   = "etherscan_api_error"
	CodeEtherscanMissingContractInJSON      = "etherscan_missing_contract_in_json"
	CodeEtherscanVyperVersionMappingFailed  = "etherscan_vyper_version_mapping_failed"
	CodeEtherscanMissingVyperSettings       = "etherscan_missing_vyper_settings"
)

// Error is the concrete CodedError implementation. ID is a fresh UUID
// generated at construction time, used by operators to correlate a
// persisted job row with log lines carrying the same id.
type Error struct {
	ID      string
	Code_   string
	Message string
	Data    map[string]any
	Cause   error
}

// New constructs an Error with a fresh correlation id.
func New(code, message string, data map[string]any) *Error {
	return &Error{ID: uuid.NewString(), Code_: code, Message: message, Data: data}
}

// Wrap constructs an Error around an existing error, preserving it for
// errors.Unwrap/errors.Is chains.
func Wrap(code string, cause error) *Error {
	return &Error{ID: uuid.NewString(), Code_: code, Message: cause.Error(), Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Code_, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code_, e.Message)
}

// Code implements CodedError.
func (e *Error) Code() string { return e.Code_ }

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Cause }
