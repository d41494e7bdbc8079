package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chainverify/verifyd/internal/codederr"
	"github.com/chainverify/verifyd/internal/jobengine"
	"github.com/chainverify/verifyd/internal/store"
)

// errorResponse is spec.md §6's error envelope: {customCode, errorId,
// message, errorData?}.
type errorResponse struct {
	CustomCode string         `json:"customCode"`
	ErrorID    string         `json:"errorId,omitempty"`
	Message    string         `json:"message"`
	ErrorData  map[string]any `json:"errorData,omitempty"`
}

// httpStatusForCode implements spec.md §6's status table: 400 for
// input-validation codes, 404 for not-found-shaped codes, 409 for
// already_verified, 429 for contention, 502 for chain-fetch failures, and
// 500 for everything else (internal_error and any unmapped code).
func httpStatusForCode(code string) int {
	switch code {
	case codederr.CodeInvalidParameter, codederr.CodeInvalidJSON, codederr.CodeUnsupportedLanguage, codederr.CodeUnsupportedCompilerVersion:
		return http.StatusBadRequest
	case codederr.CodeUnsupportedChain, codederr.CodeContractNotDeployed:
		return http.StatusNotFound
	case codederr.CodeAlreadyVerified:
		return http.StatusConflict
	case codederr.CodeContractBeingVerified:
		return http.StatusTooManyRequests
	case codederr.CodeCannotFetchBytecode:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{CustomCode: codederr.CodeInternalError, Message: err.Error()}
	status := http.StatusInternalServerError
	if coded, ok := err.(*codederr.Error); ok {
		resp.CustomCode = coded.Code()
		resp.ErrorID = coded.ID
		resp.Message = coded.Message
		resp.ErrorData = coded.Data
		status = httpStatusForCode(coded.Code())
	} else if coded, ok := err.(codederr.CodedError); ok {
		resp.CustomCode = coded.Code()
		status = httpStatusForCode(coded.Code())
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return codederr.New(codederr.CodeInvalidJSON, err.Error(), nil)
	}
	return nil
}

type verificationIDResponse struct {
	VerificationID string `json:"verificationId"`
}

// handleVerifyJSONInput implements POST /verify/{chainId}/{address}.
func (s *Server) handleVerifyJSONInput(w http.ResponseWriter, r *http.Request) {
	chainID, address := chi.URLParam(r, "chainId"), chi.URLParam(r, "address")

	var body struct {
		StdJSONInput        json.RawMessage `json:"stdJsonInput"`
		CompilerVersion      string          `json:"compilerVersion"`
		ContractIdentifier   string          `json:"contractIdentifier"`
		CreationTxHash       *string         `json:"creationTransactionHash"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	jobID, err := s.engine.SubmitFromJSONInput(r.Context(), chainID, address, jobengine.JSONInputRequest{
		JSONInput:       body.StdJSONInput,
		CompilerVersion: body.CompilerVersion,
		Target:          body.ContractIdentifier,
		CreationTxHash:  body.CreationTxHash,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, verificationIDResponse{VerificationID: jobID})
}

// handleVerifyMetadata implements POST /verify/metadata/{chainId}/{address}.
func (s *Server) handleVerifyMetadata(w http.ResponseWriter, r *http.Request) {
	chainID, address := chi.URLParam(r, "chainId"), chi.URLParam(r, "address")

	var body struct {
		Metadata string            `json:"metadata"`
		Sources  map[string]string `json:"sources"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	jobID, err := s.engine.SubmitFromMetadata(r.Context(), chainID, address, jobengine.MetadataRequest{
		Metadata: body.Metadata,
		Sources:  body.Sources,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, verificationIDResponse{VerificationID: jobID})
}

// handleVerifyExplorer implements POST /verify/etherscan/{chainId}/{address}.
func (s *Server) handleVerifyExplorer(w http.ResponseWriter, r *http.Request) {
	chainID, address := chi.URLParam(r, "chainId"), chi.URLParam(r, "address")

	var body struct {
		APIKey string `json:"apiKey"`
	}
	// apiKey is optional; a missing/empty body is not an error here.
	_ = decodeBody(r, &body)

	jobID, err := s.engine.SubmitFromExplorer(r.Context(), chainID, address, jobengine.ExplorerResultRequest{})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, verificationIDResponse{VerificationID: jobID})
}

// handleVerifySimilarity implements POST /verify/similarity/{chainId}/{address}.
func (s *Server) handleVerifySimilarity(w http.ResponseWriter, r *http.Request) {
	chainID, address := chi.URLParam(r, "chainId"), chi.URLParam(r, "address")

	var body struct {
		CreationTxHash *string `json:"creationTransactionHash"`
	}
	_ = decodeBody(r, &body)

	jobID, err := s.engine.SubmitSimilarity(r.Context(), chainID, address, jobengine.SimilarityRequest{
		CreationTxHash: body.CreationTxHash,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, verificationIDResponse{VerificationID: jobID})
}

// jobResponse is spec.md §6's get_job shape.
type jobResponse struct {
	IsJobCompleted       bool              `json:"isJobCompleted"`
	Error                *errorResponse    `json:"error,omitempty"`
	Contract             *jobContract      `json:"contract,omitempty"`
	ExternalVerifications map[string]string `json:"externalVerifications,omitempty"`
}

type jobContract struct {
	ChainID       string `json:"chainId"`
	Address       string `json:"address"`
	Match         string `json:"match"`
	RuntimeMatch  string `json:"runtimeMatch"`
	CreationMatch string `json:"creationMatch"`
}

// handleGetJob implements GET /verify/{verificationId}.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	verificationID := chi.URLParam(r, "verificationId")

	view, err := s.engine.GetJob(r.Context(), verificationID)
	if err != nil {
		if err == store.ErrNotFound {
			writeError(w, codederr.New(codederr.CodeInvalidParameter, "unknown verification id", nil))
			return
		}
		writeError(w, err)
		return
	}

	resp := jobResponse{IsJobCompleted: view.Job.Status != store.JobRunning}
	if view.Job.Status == store.JobFailed {
		resp.Error = &errorResponse{CustomCode: view.Job.ErrorCode, ErrorID: view.Job.ErrorID}
	}
	if view.SourcifyMatch != nil {
		resp.Contract = &jobContract{
			ChainID:       view.Job.ChainID,
			Address:       view.Job.ContractAddress,
			Match:         string(bestOf(view.SourcifyMatch.RuntimeMatch, view.SourcifyMatch.CreationMatch)),
			RuntimeMatch:  string(view.SourcifyMatch.RuntimeMatch),
			CreationMatch: string(view.SourcifyMatch.CreationMatch),
		}
	}
	if len(view.Job.ExternalVerification) > 0 {
		resp.ExternalVerifications = view.Job.ExternalVerification
	}
	writeJSON(w, http.StatusOK, resp)
}

// bestOf reports the better of two match statuses (perfect > partial >
// null), mirroring the SourcifyMatch repointing order store/txn.go uses.
func bestOf(runtime, creation store.MatchStatus) store.MatchStatus {
	rank := map[store.MatchStatus]int{store.StatusNull: 0, store.StatusPartial: 1, store.StatusPerfect: 2}
	if rank[creation] > rank[runtime] {
		return creation
	}
	return runtime
}
