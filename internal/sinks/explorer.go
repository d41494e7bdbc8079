package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chainverify/verifyd/internal/codederr"
	"github.com/chainverify/verifyd/internal/store"
)

// ExplorerFamily distinguishes the three explorer API shapes spec.md
// §4.10 names. All three are sent the same form-encoded verifysourcecode
// fields; Blockscout differs only in posting Vyper submissions to a
// "/vyper" endpoint suffix, and Routescan rejects Vyper outright.
type ExplorerFamily string

const (
	FamilyEtherscan  ExplorerFamily = "etherscan"
	FamilyBlockscout ExplorerFamily = "blockscout"
	FamilyRoutescan  ExplorerFamily = "routescan"
)

// ReservedAlreadyVerifiedReceipt is recorded on a job's external_verification
// map when a backend reports the contract was already verified there,
// distinguishing that case from a freshly minted receipt id.
const ReservedAlreadyVerifiedReceipt = "already-verified"

// ExplorerEndpoint is one chain's resolved directory entry.
type ExplorerEndpoint struct {
	APIURL      string
	ExplorerURL string
}

// DirectoryFetcher resolves a chain id to {api_url, explorer_url} for one
// explorer family, reading a published directory service over HTTP.
// Implementations run once at construction time and cache the result;
// spec.md §4.10 leaves schema drift across directory versions as an open
// question, so the fetched table is treated as good for the process
// lifetime rather than periodically refreshed.
type DirectoryFetcher func(ctx context.Context, httpClient *http.Client) (map[string]ExplorerEndpoint, error)

// ExplorerSink submits a verified compilation to a third-party block
// explorer's verification API, grounded on the teacher's
// pkg/api/etherscan/handler.go (the Response{Status,Message,Result} shape
// and the "1"/"OK" vs "0"/"NOTOK" convention are exactly what that handler
// emits, read here from the client side instead of the server side).
type ExplorerSink struct {
	family     ExplorerFamily
	identifier Identifier
	httpClient *http.Client
	logger     *zap.Logger
	store      *store.Store

	fetchDirectory DirectoryFetcher
	vyperSupported bool
	apiKey         string

	mu        sync.RWMutex
	directory map[string]ExplorerEndpoint
}

// NewExplorerSink constructs a sink for one explorer family. Directory
// resolution runs synchronously here (spec.md §4.10: "happens once at
// init()"), so construction fails if the directory cannot be fetched.
func NewExplorerSink(ctx context.Context, family ExplorerFamily, fetchDirectory DirectoryFetcher, httpClient *http.Client, s *store.Store, logger *zap.Logger) (*ExplorerSink, error) {
	return newExplorerSink(ctx, family, "", fetchDirectory, httpClient, s, logger)
}

// NewExplorerSinkWithAPIKey is NewExplorerSink with an explicit per-family
// API key attached to every submitted form.
func NewExplorerSinkWithAPIKey(ctx context.Context, family ExplorerFamily, apiKey string, fetchDirectory DirectoryFetcher, httpClient *http.Client, s *store.Store, logger *zap.Logger) (*ExplorerSink, error) {
	return newExplorerSink(ctx, family, apiKey, fetchDirectory, httpClient, s, logger)
}

func newExplorerSink(ctx context.Context, family ExplorerFamily, apiKey string, fetchDirectory DirectoryFetcher, httpClient *http.Client, s *store.Store, logger *zap.Logger) (*ExplorerSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	identifier, err := identifierForFamily(family)
	if err != nil {
		return nil, err
	}

	sink := &ExplorerSink{
		family:         family,
		identifier:     identifier,
		httpClient:     httpClient,
		logger:         logger,
		store:          s,
		fetchDirectory: fetchDirectory,
		apiKey:         apiKey,
		// Routescan's public verification API does not accept Vyper
		// submissions at all; Etherscan and Blockscout both do, through
		// different endpoint shapes (handled in submit).
		vyperSupported: family != FamilyRoutescan,
	}

	directory, err := fetchDirectory(ctx, httpClient)
	if err != nil {
		return nil, fmt.Errorf("explorer sink %s: fetch directory: %w", family, err)
	}
	sink.directory = directory
	logger.Info("resolved explorer directory", zap.String("family", string(family)), zap.Int("chains", len(directory)))
	return sink, nil
}

func identifierForFamily(family ExplorerFamily) (Identifier, error) {
	switch family {
	case FamilyEtherscan:
		return IdentifierEtherscanVerify, nil
	case FamilyBlockscout:
		return IdentifierBlockscoutVerify, nil
	case FamilyRoutescan:
		return IdentifierRoutescanVerify, nil
	default:
		return "", fmt.Errorf("explorer sink: unknown family %q", family)
	}
}

// Identifier implements WriteSink.
func (e *ExplorerSink) Identifier() Identifier { return e.identifier }

// Init implements WriteSink; directory resolution already ran during
// construction, so this only confirms at least one chain resolved.
func (e *ExplorerSink) Init(ctx context.Context) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.directory) == 0 {
		return fmt.Errorf("explorer sink %s: empty directory", e.family)
	}
	return nil
}

// endpointFor looks up the resolved directory entry for a chain.
func (e *ExplorerSink) endpointFor(chainID string) (ExplorerEndpoint, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ep, ok := e.directory[chainID]
	return ep, ok
}

// StoreVerification submits the verified compilation to the explorer's
// verification endpoint and records the resulting receipt (or error) on
// the job's external_verification map.
func (e *ExplorerSink) StoreVerification(ctx context.Context, result *VerificationResult, jobCtx *JobContext) error {
	endpoint, ok := e.endpointFor(result.ChainID)
	if !ok {
		return codederr.New(codederr.CodeUnsupportedChain, fmt.Sprintf("explorer %s has no directory entry for chain %s", e.family, result.ChainID), nil)
	}

	receiptID, submitErr := e.submit(ctx, endpoint, result)
	if jobCtx != nil && jobCtx.JobID != "" && e.store != nil {
		e.recordReceipt(ctx, jobCtx.JobID, receiptID, submitErr)
	}
	return submitErr
}

func (e *ExplorerSink) recordReceipt(ctx context.Context, jobID, receiptID string, submitErr error) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		e.logger.Warn("explorer sink: cannot record receipt, job not found", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	if job.ExternalVerification == nil {
		job.ExternalVerification = make(map[string]string)
	}
	if submitErr != nil {
		if coded, ok := submitErr.(*codederr.Error); ok {
			job.ExternalVerification[string(e.identifier)] = coded.Message
		} else {
			job.ExternalVerification[string(e.identifier)] = submitErr.Error()
		}
	} else {
		job.ExternalVerification[string(e.identifier)] = receiptID
	}
	if err := e.store.PutJobDirect(ctx, *job); err != nil {
		e.logger.Warn("explorer sink: failed to persist receipt", zap.String("job_id", jobID), zap.Error(err))
	}
}

// submit performs the family-specific HTTP exchange and returns a receipt
// id (or ReservedAlreadyVerifiedReceipt) on success.
func (e *ExplorerSink) submit(ctx context.Context, endpoint ExplorerEndpoint, result *VerificationResult) (string, error) {
	if result.CompiledContract.Language == string(vyperLanguage) && !e.vyperSupported {
		return "", codederr.New(codederr.CodeEtherscanMissingVyperSettings, fmt.Sprintf("explorer family %s does not support Vyper", e.family), nil)
	}

	compilerVersion, err := e.prefixedCompilerVersion(result.CompiledContract.Language, result.CompiledContract.CompilerVersion)
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("apikey", e.apiKey)
	form.Set("module", "contract")
	form.Set("action", "verifysourcecode")
	form.Set("contractaddress", result.Address)
	form.Set("sourceCode", result.CompiledContract.CompilationArtifacts)
	form.Set("codeformat", "solidity-standard-json-input")
	form.Set("contractname", result.CompiledContract.FullyQualifiedName)
	form.Set("compilerversion", compilerVersion)
	form.Set("constructorArguements", strings.TrimPrefix(result.ConstructorArgumentsHex, "0x"))

	submitURL := endpoint.APIURL
	if e.family == FamilyBlockscout && result.CompiledContract.Language == string(vyperLanguage) {
		submitURL = strings.TrimSuffix(endpoint.APIURL, "/") + "/vyper"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, submitURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", codederr.Wrap(codederr.CodeEtherscanHTTPError, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", codederr.Wrap(codederr.CodeEtherscanHTTPError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", codederr.New(codederr.CodeEtherscanRateLimit, "explorer rate limit exceeded", nil)
	}
	if resp.StatusCode != http.StatusOK {
		return "", codederr.New(codederr.CodeEtherscanHTTPError, fmt.Sprintf("explorer returned HTTP %d", resp.StatusCode), nil)
	}

	var body explorerResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", codederr.Wrap(codederr.CodeEtherscanHTTPError, err)
	}

	switch {
	case strings.Contains(strings.ToLower(body.Result), "already verified"):
		return ReservedAlreadyVerifiedReceipt, nil
	case body.Status == "1":
		return body.Result, nil
	default:
		return "", codederr.New(codederr.CodeEtherscanAPIError, body.Result, nil)
	}
}

const vyperLanguage = "Vyper"

// prefixedCompilerVersion applies spec.md §4.10's "v" prefix for Solidity
// and "vyper:" prefix for Vyper submissions.
func (e *ExplorerSink) prefixedCompilerVersion(language, version string) (string, error) {
	if version == "" {
		return "", codederr.New(codederr.CodeEtherscanVyperVersionMappingFailed, "compiler version is empty", nil)
	}
	switch language {
	case string(vyperLanguage):
		return "vyper:" + strings.TrimPrefix(version, "v"), nil
	default:
		if strings.HasPrefix(version, "v") {
			return version, nil
		}
		return "v" + version, nil
	}
}

// explorerResponse mirrors the Response{Status,Message,Result} shape the
// teacher's Etherscan-compatible handler emits, read here as a client.
type explorerResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  string `json:"result"`
}
