package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/harnessforge/internal/candidate"
	"github.com/roach88/harnessforge/internal/engine"
)

const yamlDoc = `
name: zlib
language: c
source_dirs: [src]
target_functions: [inflate, deflate]
engine:
  concurrency: 8
  repair_budget: 2
  deadline: 10m
sandbox:
  fuzz_time: 3s
  include_dirs: [include]
generation:
  provider: anthropic
  model: claude-sonnet
`

const tomlDoc = `
name = "zlib"
language = "c"
source_dirs = ["src"]
target_functions = ["inflate", "deflate"]

[engine]
concurrency = 8
repair_budget = 2
deadline = "10m"

[sandbox]
fuzz_time = "3s"
include_dirs = ["include"]

[generation]
provider = "anthropic"
model = "claude-sonnet"
`

const cueDoc = `
name:     "zlib"
language: "c"
source_dirs: ["src"]
target_functions: ["inflate", "deflate"]
engine: {
	concurrency:   8
	repair_budget: 2
	deadline:      "10m"
}
sandbox: {
	fuzz_time: "3s"
	include_dirs: ["include"]
}
generation: {
	provider: "anthropic"
	model:    "claude-sonnet"
}
`

func TestParse_Minimal(t *testing.T) {
	t.Setenv(APIKeyEnv, "")
	cfg, err := Parse([]byte("name: demo\nlanguage: python\n"), FormatYAML, "demo.yaml")
	require.NoError(t, err)

	want := Default()
	want.Name = "demo"
	want.Language = candidate.LanguagePython
	assert.Equal(t, &want, cfg)
	assert.Equal(t, 3, cfg.Engine.RepairBudget)
	assert.Equal(t, 30*time.Minute, cfg.Engine.Deadline.Std())
}

func TestParse_FormatsAgree(t *testing.T) {
	t.Setenv(APIKeyEnv, "")

	docs := map[Format]string{
		FormatYAML: yamlDoc,
		FormatTOML: tomlDoc,
		FormatCUE:  cueDoc,
	}

	var first *Config
	for format, doc := range docs {
		cfg, err := Parse([]byte(doc), format, "harnessforge."+string(format))
		require.NoError(t, err, format)

		assert.Equal(t, "zlib", cfg.Name, format)
		assert.Equal(t, candidate.LanguageC, cfg.Language, format)
		assert.Equal(t, []string{"inflate", "deflate"}, cfg.TargetFunctions, format)
		assert.Equal(t, 8, cfg.Engine.Concurrency, format)
		assert.Equal(t, 2, cfg.Engine.RepairBudget, format)
		assert.Equal(t, 10*time.Minute, cfg.Engine.Deadline.Std(), format)
		assert.Equal(t, 3*time.Second, cfg.Sandbox.FuzzTime.Std(), format)
		assert.Equal(t, engine.DefaultQueueSize, cfg.Engine.QueueSize, format)
		assert.Equal(t, "anthropic", cfg.Generation.Provider, format)

		if first == nil {
			first = cfg
			continue
		}
		assert.Equal(t, first, cfg, format)
	}
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing name", "language: c\n"},
		{"empty name", "name: \"\"\nlanguage: c\n"},
		{"unknown language", "name: x\nlanguage: rust\n"},
		{"unknown field", "name: x\nlanguage: c\nthreads: 4\n"},
		{"unknown engine field", "name: x\nlanguage: c\nengine:\n  workers: 2\n"},
		{"zero concurrency", "name: x\nlanguage: c\nengine:\n  concurrency: 0\n"},
		{"negative repair budget", "name: x\nlanguage: c\nengine:\n  repair_budget: -1\n"},
		{"bad duration", "name: x\nlanguage: c\nengine:\n  deadline: soon\n"},
		{"bare number duration", "name: x\nlanguage: c\nsandbox:\n  timeout: 30\n"},
		{"unknown provider", "name: x\nlanguage: c\ngeneration:\n  provider: local\n"},
		{"temperature range", "name: x\nlanguage: c\ngeneration:\n  temperature: 3.5\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), FormatYAML, "bad.yaml")
			require.Error(t, err)
			assert.True(t, IsLoadError(err), "got %T: %v", err, err)
		})
	}
}

func TestParse_SyntaxErrors(t *testing.T) {
	tests := []struct {
		format Format
		doc    string
	}{
		{FormatYAML, "name: [unclosed\n"},
		{FormatTOML, "name = \n"},
		{FormatCUE, "name: {\n"},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), tt.format, "bad")
			require.Error(t, err)
			assert.ErrorContains(t, err, "syntax error")
		})
	}
}

func TestParse_CUEConstraintsInDocument(t *testing.T) {
	doc := `
name:     "demo"
language: "c"
engine: concurrency: 2 * 3
`
	cfg, err := Parse([]byte(doc), FormatCUE, "demo.cue")
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Engine.Concurrency)
}

func TestParse_APIKeyFromEnv(t *testing.T) {
	doc := "name: x\nlanguage: c\ngeneration:\n  api_key: from-file\n"

	t.Setenv(APIKeyEnv, "")
	cfg, err := Parse([]byte(doc), FormatYAML, "x.yaml")
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Generation.APIKey)

	t.Setenv(APIKeyEnv, "from-env")
	cfg, err = Parse([]byte(doc), FormatYAML, "x.yaml")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Generation.APIKey)
}

func TestFormatOf(t *testing.T) {
	for path, want := range map[string]Format{
		"a.yaml": FormatYAML,
		"a.YML":  FormatYAML,
		"a.toml": FormatTOML,
		"a.cue":  FormatCUE,
	} {
		got, err := FormatOf(path)
		require.NoError(t, err, path)
		assert.Equal(t, want, got, path)
	}

	_, err := FormatOf("a.json")
	assert.Error(t, err)
}

func TestLoad_DiscoverAndResolve(t *testing.T) {
	dir := t.TempDir()
	doc := "name: demo\nlanguage: c\nroot: project\noutput_dir: /abs/out\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "harnessforge.yml"), []byte(doc), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	abs, err := filepath.Abs(dir)
	require.NoError(t, err)
	assert.Equal(t, abs, cfg.Dir)
	assert.Equal(t, filepath.Join(abs, "project"), cfg.ProjectRoot())
	assert.Equal(t, "/abs/out", cfg.OutputPath())
	assert.Equal(t, filepath.Join(abs, "project"), cfg.Source().Root)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(t.TempDir())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.True(t, IsLoadError(err))
}

func TestConversions(t *testing.T) {
	cfg, err := Parse([]byte(yamlDoc), FormatYAML, "x.yaml")
	require.NoError(t, err)
	cfg.Dir = "/proj"

	ec := cfg.EngineConfig()
	assert.Equal(t, 8, ec.Concurrency)
	assert.Equal(t, 2, ec.RepairBudget)
	assert.Equal(t, 3*time.Second, ec.Limits.FuzzTime)
	assert.Equal(t, 3, ec.Retry.Attempts)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bl := cfg.BudgetLimits(start)
	assert.Equal(t, 2, bl.RepairPerLineage)
	assert.Equal(t, start.Add(10*time.Minute), bl.Deadline)

	cfg.Engine.Deadline = 0
	assert.True(t, cfg.BudgetLimits(start).Deadline.IsZero())

	cc := cfg.ClientConfig()
	assert.Equal(t, "anthropic", cc.Provider)
	assert.Equal(t, candidate.LanguageC, cc.Language)

	src := cfg.Source()
	assert.Equal(t, "/proj", src.Root)
	assert.Equal(t, []string{"src"}, src.SourceDirs)

	assert.Len(t, cfg.ValidatorOptions(), 1)
}
