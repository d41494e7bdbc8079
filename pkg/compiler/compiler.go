// Package compiler defines the Compiler collaborator interface the
// verification core consumes (spec.md §6, explicitly out of scope: "treated
// as an opaque Compiler") and a concrete Solidity implementation driving
// the solc binary. Adapted from the indexer's pkg/compiler/compiler.go,
// generalized from a single-contract combined-json shape to the
// multi-contract Standard JSON Input/Output shape the canonical store's
// CompiledContract model needs (creation and runtime bytecode tracked
// separately, plus the transformation-bearing auxdata the bytecode
// normalizer consumes).
package compiler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chainverify/verifyd/internal/bytecode"
)

// Common errors.
var (
	ErrCompilerNotFound  = errors.New("compiler: binary not found")
	ErrCompilationFailed = errors.New("compiler: compilation failed")
	ErrUnsupportedVersion = errors.New("compiler: unsupported compiler version")
	ErrUnsupportedLanguage = errors.New("compiler: unsupported language")
	ErrTimeout           = errors.New("compiler: compilation timeout")
)

// Language is the source language a CompiledContract was produced from.
type Language string

const (
	LanguageSolidity Language = "Solidity"
	LanguageVyper    Language = "Vyper"
)

// CompilerError is returned when the compiler ran but produced only
// diagnostics, carrying the formatted messages the job engine surfaces as
// errorData.compilerErrors (spec.md §7).
type CompilerError struct {
	FormattedMessages []string
}

func (e *CompilerError) Error() string {
	if len(e.FormattedMessages) == 0 {
		return "compiler: compilation failed"
	}
	return e.FormattedMessages[0]
}

// Output is one resolved contract's compilation artifacts.
type Output struct {
	FullyQualifiedName      string // "path:Name"
	CreationBytecode        []byte
	RuntimeBytecode         []byte
	ABI                     json.RawMessage
	Metadata                string
	Sources                 map[string]string // path -> content, as given to the compiler
	CreationTransformations []bytecode.Transformation
	RuntimeTransformations  []bytecode.Transformation
}

// CompilationOptions is a Standard JSON Input compile request.
type CompilationOptions struct {
	Language        Language
	CompilerVersion string
	JSONInput       json.RawMessage
	Timeout         context.Context
}

// Compiler is the opaque collaborator the core depends on.
type Compiler interface {
	// Compile runs the compiler version against a Standard JSON Input
	// document and returns every contract produced, keyed by
	// "path:Name". A *CompilerError is returned (wrapped) when the
	// compiler ran but emitted only diagnostics.
	Compile(ctx context.Context, opts *CompilationOptions) (map[string]*Output, error)

	// IsVersionAvailable reports whether a compiler version is already
	// installed locally.
	IsVersionAvailable(language Language, version string) (bool, error)

	// ListVersions returns installed compiler versions for language.
	ListVersions(language Language) ([]string, error)

	// DownloadVersion fetches and installs a compiler version.
	DownloadVersion(ctx context.Context, language Language, version string) error

	// Close releases compiler resources.
	Close() error
}

// Config holds compiler configuration.
type Config struct {
	BinDir             string
	MaxCompilationTime int // seconds
	AutoDownload       bool
}

// DefaultConfig returns a default compiler configuration.
func DefaultConfig() *Config {
	return &Config{
		BinDir:             "./solc-bin",
		MaxCompilationTime: 30,
		AutoDownload:       true,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.BinDir == "" {
		return fmt.Errorf("BinDir cannot be empty")
	}
	if c.MaxCompilationTime <= 0 {
		return fmt.Errorf("MaxCompilationTime must be positive")
	}
	return nil
}
