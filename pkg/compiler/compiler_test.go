package compiler

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "./solc-bin", cfg.BinDir)
	assert.Equal(t, 30, cfg.MaxCompilationTime)
	assert.True(t, cfg.AutoDownload)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{"valid config", DefaultConfig(), false},
		{"empty BinDir", &Config{BinDir: "", MaxCompilationTime: 30}, true},
		{"zero MaxCompilationTime", &Config{BinDir: "/tmp", MaxCompilationTime: 0}, true},
		{"negative MaxCompilationTime", &Config{BinDir: "/tmp", MaxCompilationTime: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewSolcCompilerCreatesBinDir(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := &Config{BinDir: filepath.Join(tmpDir, "bin"), MaxCompilationTime: 30, AutoDownload: false}

	sc, err := NewSolcCompiler(cfg)
	require.NoError(t, err)
	require.NotNil(t, sc)

	_, err = os.Stat(cfg.BinDir)
	assert.NoError(t, err)
}

func TestNewSolcCompilerInvalidConfig(t *testing.T) {
	cfg := &Config{BinDir: "", MaxCompilationTime: 30}
	sc, err := NewSolcCompiler(cfg)
	assert.Error(t, err)
	assert.Nil(t, sc)
}

func TestIsVersionAvailable(t *testing.T) {
	tmpDir := t.TempDir()
	sc := &SolcCompiler{config: &Config{BinDir: tmpDir}}

	avail, err := sc.IsVersionAvailable(LanguageSolidity, "0.8.20")
	require.NoError(t, err)
	assert.False(t, avail)

	fakeBin := sc.getCompilerPath(LanguageSolidity, "0.8.20")
	require.NoError(t, os.WriteFile(fakeBin, []byte("fake"), 0755))

	avail, err = sc.IsVersionAvailable(LanguageSolidity, "0.8.20")
	require.NoError(t, err)
	assert.True(t, avail)
}

func TestListVersions(t *testing.T) {
	tmpDir := t.TempDir()
	sc := &SolcCompiler{config: &Config{BinDir: tmpDir}}

	versions, err := sc.ListVersions(LanguageSolidity)
	require.NoError(t, err)
	assert.Empty(t, versions)

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "solc-0.8.20"), []byte("fake"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "solc-0.8.21"), []byte("fake"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "not-solc"), []byte("fake"), 0755))

	versions, err = sc.ListVersions(LanguageSolidity)
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestGetCompilerPath(t *testing.T) {
	sc := &SolcCompiler{config: &Config{BinDir: "/opt/solc"}}
	assert.Equal(t, filepath.Join("/opt/solc", "solc-0.8.20"), sc.getCompilerPath(LanguageSolidity, "0.8.20"))
	assert.Equal(t, filepath.Join("/opt/solc", "vyper-0.3.7"), sc.getCompilerPath(LanguageVyper, "0.3.7"))
}

func TestParseStandardJSONOutputSplitsByFullyQualifiedName(t *testing.T) {
	input := json.RawMessage(`{"sources":{"contract.sol":{"content":"contract MyToken {}"}}}`)
	output := []byte(`{
		"contracts": {
			"contract.sol": {
				"MyToken": {
					"abi": [{"type":"function","name":"transfer"}],
					"evm": {
						"bytecode": {"object": "6080"},
						"deployedBytecode": {"object": "6080ff"}
					},
					"metadata": "{}"
				}
			}
		}
	}`)

	result, err := parseStandardJSONOutput(output, input)
	require.NoError(t, err)
	require.Contains(t, result, "contract.sol:MyToken")
	out := result["contract.sol:MyToken"]
	assert.Equal(t, []byte{0x60, 0x80, 0xff}, out.RuntimeBytecode)
	assert.Equal(t, []byte{0x60, 0x80}, out.CreationBytecode)
	assert.Equal(t, "contract MyToken {}", out.Sources["contract.sol"])
}

func TestParseStandardJSONOutputCompilationError(t *testing.T) {
	output := []byte(`{
		"errors": [{"severity": "error", "formattedMessage": "ParserError: Expected ';'"}],
		"contracts": {}
	}`)

	_, err := parseStandardJSONOutput(output, nil)
	require.Error(t, err)
	var compErr *CompilerError
	require.ErrorAs(t, err, &compErr)
	assert.Contains(t, compErr.FormattedMessages[0], "ParserError")
}

func TestParseStandardJSONOutputWarningsOnlyStillSucceeds(t *testing.T) {
	output := []byte(`{
		"errors": [{"severity": "warning", "formattedMessage": "unused variable"}],
		"contracts": {
			"contract.sol": {
				"Test": {
					"abi": [],
					"evm": {
						"bytecode": {"object": ""},
						"deployedBytecode": {"object": "aabb"}
					},
					"metadata": ""
				}
			}
		}
	}`)

	result, err := parseStandardJSONOutput(output, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xaa, 0xbb}, result["contract.sol:Test"].RuntimeBytecode)
}

func TestCompileCompilerNotAvailable(t *testing.T) {
	tmpDir := t.TempDir()
	sc := &SolcCompiler{config: &Config{BinDir: tmpDir, MaxCompilationTime: 5, AutoDownload: false}}

	opts := &CompilationOptions{
		Language:        LanguageSolidity,
		CompilerVersion: "0.8.20",
		JSONInput:       json.RawMessage(`{"language":"Solidity","sources":{}}`),
	}

	_, err := sc.Compile(context.Background(), opts)
	assert.ErrorIs(t, err, ErrCompilerNotFound)
}

func TestCompileRejectsUnsupportedLanguage(t *testing.T) {
	sc := &SolcCompiler{config: DefaultConfig()}
	_, err := sc.Compile(context.Background(), &CompilationOptions{Language: LanguageVyper, CompilerVersion: "0.3.7"})
	assert.ErrorIs(t, err, ErrUnsupportedLanguage)
}
