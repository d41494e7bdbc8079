package compiler

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/chainverify/verifyd/internal/bytecode"
)

// SolcCompiler implements Compiler by invoking the solc binary in
// --standard-json mode, one version per (language, version) binary on
// disk under Config.BinDir.
type SolcCompiler struct {
	config *Config
}

// NewSolcCompiler creates a new solc-backed compiler instance. Its Compile
// accepts Solidity only and returns ErrUnsupportedLanguage for Vyper.
func NewSolcCompiler(config *Config) (*SolcCompiler, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := os.MkdirAll(config.BinDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create bin directory: %w", err)
	}
	return &SolcCompiler{config: config}, nil
}

// Compile runs the compiler in --standard-json mode and returns every
// contract produced, keyed by "path:Name".
func (s *SolcCompiler) Compile(ctx context.Context, opts *CompilationOptions) (map[string]*Output, error) {
	if opts == nil {
		return nil, fmt.Errorf("options cannot be nil")
	}
	if opts.CompilerVersion == "" {
		return nil, fmt.Errorf("compiler version cannot be empty")
	}
	if opts.Language != LanguageSolidity {
		return nil, ErrUnsupportedLanguage
	}

	available, err := s.IsVersionAvailable(opts.Language, opts.CompilerVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to check version availability: %w", err)
	}
	if !available {
		if !s.config.AutoDownload {
			return nil, ErrCompilerNotFound
		}
		if err := s.DownloadVersion(ctx, opts.Language, opts.CompilerVersion); err != nil {
			return nil, fmt.Errorf("failed to download compiler: %w", err)
		}
	}

	solcPath := s.getCompilerPath(opts.Language, opts.CompilerVersion)

	compileCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout != nil {
		compileCtx = opts.Timeout
	} else {
		compileCtx, cancel = context.WithTimeout(ctx, time.Duration(s.config.MaxCompilationTime)*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(compileCtx, solcPath, "--standard-json")
	cmd.Stdin = strings.NewReader(string(opts.JSONInput))
	output, err := cmd.Output()
	if err != nil {
		if compileCtx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("%w: %v", ErrCompilationFailed, err)
	}

	return parseStandardJSONOutput(output, opts.JSONInput)
}

type standardJSONOutput struct {
	Errors []struct {
		Severity         string `json:"severity"`
		FormattedMessage string `json:"formattedMessage"`
	} `json:"errors"`
	Contracts map[string]map[string]struct {
		Abi json.RawMessage `json:"abi"`
		Evm struct {
			Bytecode         solcBytecode `json:"bytecode"`
			DeployedBytecode solcBytecode `json:"deployedBytecode"`
		} `json:"evm"`
		Metadata string `json:"metadata"`
	} `json:"contracts"`
}

// solcBytecode mirrors one of solc's standard-JSON "bytecode" or
// "deployedBytecode" objects: the hex object plus the linkReferences map
// identifying where unlinked library placeholders sit.
type solcBytecode struct {
	Object         string                                  `json:"object"`
	LinkReferences map[string]map[string][]solcLinkOffset `json:"linkReferences"`
}

type solcLinkOffset struct {
	Start  int `json:"start"`
	Length int `json:"length"`
}

// transformationsFromLinkReferences converts solc's linkReferences shape
// into the generic Transformation list internal/bytecode.Normalize
// consumes: one "replace"/"library" entry per unlinked placeholder.
func transformationsFromLinkReferences(refs map[string]map[string][]solcLinkOffset) []bytecode.Transformation {
	var out []bytecode.Transformation
	for file, libs := range refs {
		for name, offsets := range libs {
			for _, off := range offsets {
				out = append(out, bytecode.Transformation{
					Reason: bytecode.ReasonLibrary,
					Offset: off.Start,
					Type:   bytecode.TransformReplace,
					ID:     file + ":" + name,
				})
			}
		}
	}
	return out
}

func parseStandardJSONOutput(output, jsonInput json.RawMessage) (map[string]*Output, error) {
	var parsed standardJSONOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse Standard JSON output: %w", err)
	}

	var formatted []string
	for _, e := range parsed.Errors {
		if e.Severity == "error" {
			formatted = append(formatted, e.FormattedMessage)
		}
	}
	if len(formatted) > 0 {
		return nil, &CompilerError{FormattedMessages: formatted}
	}
	if len(parsed.Contracts) == 0 {
		return nil, &CompilerError{FormattedMessages: []string{"no contracts found in compilation output"}}
	}

	var input struct {
		Sources map[string]struct {
			Content string `json:"content"`
		} `json:"sources"`
	}
	_ = json.Unmarshal(jsonInput, &input)
	sources := make(map[string]string, len(input.Sources))
	for path, src := range input.Sources {
		sources[path] = src.Content
	}

	result := make(map[string]*Output)
	for fileName, contracts := range parsed.Contracts {
		for name, contract := range contracts {
			creationBytes, err := hex.DecodeString(strings.TrimPrefix(contract.Evm.Bytecode.Object, "0x"))
			if err != nil {
				continue
			}
			runtimeBytes, err := hex.DecodeString(strings.TrimPrefix(contract.Evm.DeployedBytecode.Object, "0x"))
			if err != nil {
				continue
			}
			key := fileName + ":" + name
			result[key] = &Output{
				FullyQualifiedName:      key,
				CreationBytecode:        creationBytes,
				RuntimeBytecode:         runtimeBytes,
				ABI:                     contract.Abi,
				Metadata:                contract.Metadata,
				Sources:                 sources,
				CreationTransformations: transformationsFromLinkReferences(contract.Evm.Bytecode.LinkReferences),
				RuntimeTransformations:  transformationsFromLinkReferences(contract.Evm.DeployedBytecode.LinkReferences),
			}
		}
	}
	if len(result) == 0 {
		return nil, &CompilerError{FormattedMessages: []string{"no compilable contracts with valid bytecode"}}
	}
	return result, nil
}

// IsVersionAvailable checks if a compiler version is available locally.
func (s *SolcCompiler) IsVersionAvailable(language Language, version string) (bool, error) {
	_, err := os.Stat(s.getCompilerPath(language, version))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListVersions returns all locally installed compiler versions for language.
func (s *SolcCompiler) ListVersions(language Language) ([]string, error) {
	entries, err := os.ReadDir(s.config.BinDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read bin directory: %w", err)
	}

	prefix := solcPrefix(language)
	var versions []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, prefix) {
			version := strings.TrimPrefix(name, prefix)
			version = strings.TrimSuffix(version, ".exe")
			versions = append(versions, version)
		}
	}
	return versions, nil
}

// DownloadVersion downloads a specific compiler version from the
// language's canonical binary distribution (soliditylang.org for
// Solidity; Vyper releases are not auto-downloaded, matching the
// unsupported-language rejection upstream of this call).
func (s *SolcCompiler) DownloadVersion(ctx context.Context, language Language, version string) error {
	if language != LanguageSolidity {
		return ErrUnsupportedLanguage
	}

	platform := runtime.GOOS
	var downloadURL string
	switch platform {
	case "linux":
		downloadURL = fmt.Sprintf("https://binaries.soliditylang.org/linux-amd64/solc-linux-amd64-v%s", version)
	case "darwin":
		downloadURL = fmt.Sprintf("https://binaries.soliditylang.org/macosx-amd64/solc-macosx-amd64-v%s", version)
	case "windows":
		downloadURL = fmt.Sprintf("https://binaries.soliditylang.org/windows-amd64/solc-windows-amd64-v%s.exe", version)
	default:
		return fmt.Errorf("unsupported platform: %s", platform)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download compiler: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download compiler: status %d", resp.StatusCode)
	}

	path := s.getCompilerPath(language, version)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0755)
	if err != nil {
		return fmt.Errorf("failed to create compiler file: %w", err)
	}
	defer file.Close()
	if _, err := io.Copy(file, resp.Body); err != nil {
		return fmt.Errorf("failed to save compiler binary: %w", err)
	}
	return nil
}

// Close releases compiler resources.
func (s *SolcCompiler) Close() error { return nil }

func solcPrefix(language Language) string {
	switch language {
	case LanguageVyper:
		return "vyper-"
	default:
		return "solc-"
	}
}

func (s *SolcCompiler) getCompilerPath(language Language, version string) string {
	ext := ""
	if runtime.GOOS == "windows" {
		ext = ".exe"
	}
	return filepath.Join(s.config.BinDir, fmt.Sprintf("%s%s%s", solcPrefix(language), version, ext))
}
