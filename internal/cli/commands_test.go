package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/harnessforge/internal/candidate"
	"github.com/roach88/harnessforge/internal/config"
	"github.com/roach88/harnessforge/internal/coverage"
	"github.com/roach88/harnessforge/internal/engine"
	"github.com/roach88/harnessforge/internal/service"
	"github.com/roach88/harnessforge/internal/testutil"
)

const demoC = `#include <string.h>

int parse(const char *buf, int len) {
    return len;
}

int render(char *out) {
    return 0;
}
`

// fastEngine keeps generation retries short so failing collaborators do
// not slow the tests down.
const fastEngine = "engine:\n  generation_retries: 1\n  generation_backoff: 1ms\n"

// newProject writes a C project with a configuration and returns its dir.
func newProject(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "demo.c"), []byte(demoC), 0o644))
	doc := "name: demo\nlanguage: c\nsource_dirs: [src]\n" + extra
	require.NoError(t, os.WriteFile(filepath.Join(dir, "harnessforge.yaml"), []byte(doc), 0o644))
	return dir
}

func scriptedService(v *testutil.ScriptedValidator, g *testutil.ScriptedGenerator) *service.Service {
	clock := testutil.NewDeterministicClock()
	return service.New(
		service.WithValidator(v),
		service.WithGenerator(g),
		service.WithRunIDs(candidate.NewSequenceGenerator("run")),
		service.WithTimeSource(clock.Now),
		service.WithEngineOptions(engine.WithLineageGenerator(candidate.NewSequenceGenerator("lineage"))),
	)
}

// execute runs a subcommand built by newCmd and returns its stdout.
func execute(t *testing.T, opts *RootOptions, newCmd func(*RootOptions) *cobra.Command, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := newCmd(opts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestAnalyzeCommand_Text(t *testing.T) {
	dir := newProject(t, "target_functions: [parse]\n")

	out, err := execute(t, &RootOptions{Format: "text", Service: service.New()}, NewAnalyzeCommand, dir)
	require.NoError(t, err)

	assert.Contains(t, out, "demo (c)")
	assert.Contains(t, out, "1 source files, 2 functions, 1 targets")
	assert.Contains(t, out, "* src/demo.c:3  int parse(const char * buf, int len)")
	assert.Contains(t, out, "  src/demo.c:7  int render(char * out)")
	assert.Contains(t, out, "includes: [string.h]")
}

func TestAnalyzeCommand_JSON(t *testing.T) {
	dir := newProject(t, "")

	out, err := execute(t, &RootOptions{Format: "json", Service: service.New()}, NewAnalyzeCommand, dir)
	require.NoError(t, err)

	var resp struct {
		Status string                `json:"status"`
		Data   service.AnalyzeReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "demo", resp.Data.Project)
	assert.Equal(t, []string{"parse", "render"}, resp.Data.Targets)
}

func TestAnalyzeCommand_ParseError(t *testing.T) {
	dir := newProject(t, "target_functions: [missing]\n")

	out, err := execute(t, &RootOptions{Format: "text", Service: service.New()}, NewAnalyzeCommand, dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [PARSE_ERROR]")
}

func TestAnalyzeCommand_MissingConfig(t *testing.T) {
	out, err := execute(t, &RootOptions{Format: "json", Service: service.New()}, NewAnalyzeCommand, t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeConfig, resp.Error.Code)
}

func TestGenerateCommand_SavesHarness(t *testing.T) {
	dir := newProject(t, fastEngine+"  mutation_rounds: 0\n")
	v := &testutil.ScriptedValidator{Default: testutil.Success(coverage.Report{"parse@src/demo.c:3": 2})}

	out, err := execute(t, &RootOptions{Format: "text", Service: scriptedService(v, &testutil.ScriptedGenerator{})},
		NewGenerateCommand, dir)
	require.NoError(t, err)

	assert.Contains(t, out, "run run-1")
	assert.Contains(t, out, "harnesses:  1")
	assert.Contains(t, out, "coverage:   1 locations")
	assert.Contains(t, out, "lineage-1-g1 Saved-Harness [Success] mutation-budget-exhausted")
	assert.Contains(t, out, filepath.Join(dir, config.DefaultOutputDir, "harness", "lineage-1-g1.c"))
}

func TestGenerateCommand_NoHarness(t *testing.T) {
	dir := newProject(t, fastEngine+"  repair_budget: 0\n")
	v := &testutil.ScriptedValidator{
		Default: testutil.Failure(candidate.OutcomeTimeout, candidate.PhaseRun, "libFuzzer: timeout after 5 seconds"),
	}

	out, err := execute(t, &RootOptions{Format: "json", Service: scriptedService(v, &testutil.ScriptedGenerator{})},
		NewGenerateCommand, dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string                 `json:"status"`
		Data   service.GenerateReport `json:"data"`
		Error  *CLIError              `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeNoHarness, resp.Error.Code)
	assert.Equal(t, 1, resp.Data.Exceptions)
	assert.Equal(t, 0, resp.Data.Harnesses)
}

func TestGenerateCommand_GenerationUnavailable(t *testing.T) {
	dir := newProject(t, fastEngine)
	g := &testutil.ScriptedGenerator{SynthesizeErr: errors.New("upstream 503")}

	out, err := execute(t, &RootOptions{Format: "json", Service: scriptedService(&testutil.ScriptedValidator{}, g)},
		NewGenerateCommand, dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(engine.ErrCodeGenerationUnavailable), resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "upstream 503")
}

func TestArtifactsCommand(t *testing.T) {
	dir := newProject(t, fastEngine+"  mutation_rounds: 0\n  repair_budget: 0\n  seeds: 2\n")
	v := &testutil.ScriptedValidator{
		Rules: []testutil.Rule{
			{Contains: "targets=parse */", Result: testutil.Failure(candidate.OutcomeCompileError, candidate.PhaseCompile, "demo.c:2:1: error: expected ';'")},
		},
		Default: testutil.Success(coverage.Report{"parse@src/demo.c:3": 1}),
	}
	_, err := execute(t, &RootOptions{Format: "text", Service: scriptedService(v, &testutil.ScriptedGenerator{})},
		NewGenerateCommand, dir)
	require.NoError(t, err)

	outDir := filepath.Join(dir, config.DefaultOutputDir)

	t.Run("latest run", func(t *testing.T) {
		out, err := execute(t, &RootOptions{Format: "text"}, NewArtifactsCommand, outDir)
		require.NoError(t, err)
		assert.Contains(t, out, "run run-1 (demo)")
		assert.Contains(t, out, "lineage-1-g1 Saved-Harness [Success]")
		assert.Contains(t, out, "lineage-2-g2 Saved-Exception [CompileError] repair-budget-exhausted")
	})

	t.Run("filter kind json", func(t *testing.T) {
		out, err := execute(t, &RootOptions{Format: "json"}, NewArtifactsCommand, outDir, "--kind", "exception")
		require.NoError(t, err)

		var resp struct {
			Data ArtifactsResult `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		require.Len(t, resp.Data.Artifacts, 1)
		assert.Equal(t, candidate.LineageID("lineage-2"), resp.Data.Artifacts[0].Lineage)
		assert.Equal(t, []string{"parse"}, resp.Data.Artifacts[0].Targets)
	})

	t.Run("runs", func(t *testing.T) {
		out, err := execute(t, &RootOptions{Format: "text"}, NewArtifactsCommand, outDir, "--runs")
		require.NoError(t, err)
		assert.Contains(t, out, "run-1")
		assert.Contains(t, out, "harnesses=1 exceptions=1")
	})

	t.Run("unknown run", func(t *testing.T) {
		_, err := execute(t, &RootOptions{Format: "text"}, NewArtifactsCommand, outDir, "--run", "run-9")
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	})

	t.Run("bad kind", func(t *testing.T) {
		_, err := execute(t, &RootOptions{Format: "text"}, NewArtifactsCommand, outDir, "--kind", "corpus")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid kind")
	})
}

func TestArtifactsCommand_MissingIndex(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, &RootOptions{Format: "text"}, NewArtifactsCommand, dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [NOT_FOUND]")

	_, statErr := os.Stat(filepath.Join(dir, service.IndexFile))
	assert.True(t, os.IsNotExist(statErr), "listing must not create an index")
}

func TestConformanceCommand(t *testing.T) {
	scenarios := filepath.Join("..", "conformance", "testdata", "scenarios")

	out, err := execute(t, &RootOptions{Format: "text"}, NewConformanceCommand, scenarios)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ undeclared-symbol-repaired")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestConformanceCommand_FilterJSON(t *testing.T) {
	scenarios := filepath.Join("..", "conformance", "testdata", "scenarios")

	out, err := execute(t, &RootOptions{Format: "json"}, NewConformanceCommand, scenarios, "--filter", "timeout-*")
	require.NoError(t, err)

	var resp struct {
		Status string            `json:"status"`
		Data   ConformanceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "timeout-exhausts-repairs", resp.Data.Scenarios[0].Name)
	assert.True(t, resp.Data.Scenarios[0].Golden)
}

func TestConformanceCommand_UpdateAndMismatch(t *testing.T) {
	root := t.TempDir()
	scenarios := filepath.Join(root, "scenarios")
	require.NoError(t, os.MkdirAll(scenarios, 0o755))
	doc := `name: single
description: one seed that succeeds
targets: [parse]
engine:
  mutation_rounds: 0
seeds:
  - targets: [parse]
validator: {}
assertions:
  - type: validations
    count: 1
`
	require.NoError(t, os.WriteFile(filepath.Join(scenarios, "single.yaml"), []byte(doc), 0o644))

	out, err := execute(t, &RootOptions{Format: "text"}, NewConformanceCommand, scenarios, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "(golden updated)")

	goldenPath := filepath.Join(root, "golden", "single.golden")
	golden, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	assert.Contains(t, string(golden), "lineage-1-g1 Generated -> Validating (submitted)")

	require.NoError(t, os.WriteFile(goldenPath, []byte("{}\n"), 0o644))
	out, err = execute(t, &RootOptions{Format: "text"}, NewConformanceCommand, scenarios)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "trace does not match golden file")
}

func TestConformanceCommand_MissingDir(t *testing.T) {
	_, err := execute(t, &RootOptions{Format: "text"}, NewConformanceCommand, "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}
