package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/harnessforge/internal/artifact"
	"github.com/roach88/harnessforge/internal/candidate"
	"github.com/roach88/harnessforge/internal/config"
	"github.com/roach88/harnessforge/internal/coverage"
	"github.com/roach88/harnessforge/internal/engine"
	"github.com/roach88/harnessforge/internal/store"
	"github.com/roach88/harnessforge/internal/testutil"
)

const projectC = `#include <string.h>

int parse(const char *buf, int len) {
    return len;
}

int render(char *out) {
    return 0;
}
`

// newProject writes a C project with a configuration and returns its dir.
func newProject(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "demo.c"), []byte(projectC), 0o644))
	doc := "name: demo\nlanguage: c\nsource_dirs: [src]\n" + extra
	require.NoError(t, os.WriteFile(filepath.Join(dir, "harnessforge.yaml"), []byte(doc), 0o644))
	return dir
}

func newService(v engine.Validator, g *testutil.ScriptedGenerator) *Service {
	clock := testutil.NewDeterministicClock()
	return New(
		WithValidator(v),
		WithGenerator(g),
		WithRunIDs(candidate.NewSequenceGenerator("run")),
		WithTimeSource(clock.Now),
		WithEngineOptions(engine.WithLineageGenerator(candidate.NewSequenceGenerator("lineage"))),
	)
}

func TestAnalyze(t *testing.T) {
	dir := newProject(t, "")

	report, err := New().Analyze(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, "demo", report.Project)
	assert.Equal(t, candidate.LanguageC, report.Language)
	assert.Equal(t, []string{"parse", "render"}, report.Targets)
	assert.Equal(t, []string{"string.h"}, report.Includes)
	assert.Equal(t, []string{"src/demo.c"}, report.SourceFiles)
	require.Len(t, report.Functions, 2)
	assert.Equal(t, 3, report.Functions[0].Line)
}

func TestAnalyze_ParseError(t *testing.T) {
	dir := newProject(t, "target_functions: [missing]\n")

	_, err := New().Analyze(context.Background(), dir)
	require.Error(t, err)
	assert.Equal(t, engine.ErrCodeParse, engine.CodeOf(err))
}

func TestAnalyze_BadConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "harnessforge.yaml"), []byte("language: c\n"), 0o644))

	_, err := New().Analyze(context.Background(), dir)
	assert.True(t, config.IsLoadError(err))
}

// TestGenerate_PersistsArtifacts runs a full loop: one seed repaired once,
// then saved once the mutation budget is spent.
func TestGenerate_PersistsArtifacts(t *testing.T) {
	dir := newProject(t, "engine:\n  mutation_rounds: 0\n  repair_budget: 2\n")

	v := &testutil.ScriptedValidator{
		Rules: []testutil.Rule{
			{Contains: "repaired", Result: testutil.Success(coverage.Report{"parse@src/demo.c:3": 4})},
		},
		Default: testutil.Failure(candidate.OutcomeCompileError, candidate.PhaseCompile,
			"demo.c:5:3: error: use of undeclared identifier 'parse_config'"),
	}
	g := &testutil.ScriptedGenerator{}

	report, err := newService(v, g).Generate(context.Background(), dir)
	require.NoError(t, err)
	require.NoError(t, report.Err())

	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, 1, report.Seeded)
	assert.Equal(t, 1, report.Harnesses)
	assert.Equal(t, 0, report.Exceptions)
	assert.Equal(t, 1, report.Covered)
	require.Len(t, report.Artifacts, 1)

	entry := report.Artifacts[0]
	assert.Equal(t, artifact.KindHarness, entry.Kind)
	assert.Equal(t, candidate.StatusSavedHarness, entry.Status)
	assert.Equal(t, filepath.Join(dir, config.DefaultOutputDir, "harness", "lineage-1-g2.c"), entry.Paths.Source)

	src, err := os.ReadFile(entry.Paths.Source)
	require.NoError(t, err)
	assert.Contains(t, string(src), "// Target functions: parse, render")
	assert.Contains(t, string(src), "repaired 1")

	st, err := store.Open(report.Index)
	require.NoError(t, err)
	defer st.Close()

	run, err := st.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, run.Harnesses)
	assert.Equal(t, 2, run.Validations)
	assert.False(t, run.FinishedAt.IsZero())

	records, err := st.ListArtifacts(context.Background(), store.Filter{RunID: "run-1"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, entry.Paths.Source, records[0].SourcePath)
}

// TestGenerate_Exception records a lineage that ran out of repairs.
func TestGenerate_Exception(t *testing.T) {
	dir := newProject(t, "engine:\n  repair_budget: 1\n")

	v := &testutil.ScriptedValidator{
		Default: testutil.Failure(candidate.OutcomeTimeout, candidate.PhaseRun, "timed out after 2m0s"),
	}
	report, err := newService(v, &testutil.ScriptedGenerator{}).Generate(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 0, report.Harnesses)
	assert.Equal(t, 1, report.Exceptions)
	entry := report.Artifacts[0]
	assert.Equal(t, "Timeout", entry.Tag)
	assert.FileExists(t, entry.Paths.Log)
}

func TestGenerate_SeedUnavailable(t *testing.T) {
	dir := newProject(t, "engine:\n  generation_retries: 1\n  generation_backoff: 1ms\n")

	g := &testutil.ScriptedGenerator{SynthesizeErr: errors.New("503 overloaded")}
	_, err := newService(&testutil.ScriptedValidator{}, g).Generate(context.Background(), dir)
	require.Error(t, err)
	assert.True(t, engine.IsGenerationUnavailable(err))

	st, err := store.Open(filepath.Join(dir, config.DefaultOutputDir, IndexFile))
	require.NoError(t, err)
	defer st.Close()
	run, err := st.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, 0, run.Lineages)
}

func TestGenerate_NoAPIKey(t *testing.T) {
	t.Setenv(config.APIKeyEnv, "")
	dir := newProject(t, "")

	_, err := New(WithValidator(&testutil.ScriptedValidator{})).Generate(context.Background(), dir)
	require.Error(t, err)
	assert.True(t, engine.IsGenerationUnavailable(err))
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestGenerate_Deadline(t *testing.T) {
	dir := newProject(t, "engine:\n  deadline: 100ms\n  concurrency: 1\n")

	v := &testutil.ScriptedValidator{
		Default: testutil.Failure(candidate.OutcomeCompileError, candidate.PhaseCompile, "error: expected ';'"),
		Delay:   300 * time.Millisecond,
	}
	s := New(
		WithValidator(v),
		WithGenerator(&testutil.ScriptedGenerator{}),
		WithRunIDs(candidate.NewSequenceGenerator("run")),
	)
	report, err := s.Generate(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Exhausted)
	assert.True(t, engine.IsBudgetError(report.Err()))
	assert.Equal(t, candidate.StatusBudgetExhausted, report.Artifacts[0].Status)
}

// TestGenerate_DeadlineCoversSeeding tests that a slow collaborator cannot
// hold a run past its deadline before the loop starts.
func TestGenerate_DeadlineCoversSeeding(t *testing.T) {
	dir := newProject(t, "engine:\n  deadline: 100ms\n  seeds: 3\n  generation_retries: 1\n")

	g := &testutil.ScriptedGenerator{Delay: 10 * time.Second}
	start := time.Now()
	_, err := newService(&testutil.ScriptedValidator{}, g).Generate(context.Background(), dir)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, engine.IsBudgetError(err), "got %v", err)
	assert.Less(t, elapsed, 5*time.Second)
	assert.Len(t, g.Strategies(), 1, "no seed starts after the deadline")

	st, err := store.Open(filepath.Join(dir, config.DefaultOutputDir, IndexFile))
	require.NoError(t, err)
	defer st.Close()
	run, err := st.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.False(t, run.FinishedAt.IsZero())
}

// TestGenerate_DeadlineAfterSeeding tests that seeds produced near the
// deadline are exhausted by the loop instead of extending the run.
func TestGenerate_DeadlineAfterSeeding(t *testing.T) {
	dir := newProject(t, "engine:\n  deadline: 150ms\n")

	g := &testutil.ScriptedGenerator{Delay: 100 * time.Millisecond}
	v := &testutil.ScriptedValidator{
		Default: testutil.Success(coverage.Report{"parse@src/demo.c:3": 1}),
		Delay:   2 * time.Second,
	}
	start := time.Now()
	report, err := newService(v, g).Generate(context.Background(), dir)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, report.Seeded)
	assert.Equal(t, 1, report.Exhausted)
	assert.True(t, engine.IsBudgetError(report.Err()))
}

func TestSeedTargets(t *testing.T) {
	targets := []string{"a", "b"}
	assert.Nil(t, seedTargets(targets, 0))
	assert.Equal(t, [][]string{{"a", "b"}}, seedTargets(targets, 1))
	assert.Equal(t, [][]string{{"a", "b"}, {"a"}, {"b"}, {"a"}}, seedTargets(targets, 4))
}
