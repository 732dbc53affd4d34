// Package sandbox compiles, links and runs harness candidates under hard
// limits and turns what happened into a candidate.Result.
//
// Every step runs in a fresh scratch directory, in its own process group,
// with an allowlisted environment. The wall-clock timeout covers the whole
// validation; when it expires the group is killed and the outcome is Timeout.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/roach88/harnessforge/internal/candidate"
	"github.com/roach88/harnessforge/internal/coverage"
)

const (
	seedName   = "seed"
	seedInput  = "test"
	corpusDir  = "corpus"
	binaryName = "harness"
)

// Validator runs candidates through the native toolchain.
type Validator struct {
	CC     string
	CXX    string
	Python string

	// Root is the project root. Sources are relative to it.
	Root        string
	Sources     []string
	IncludeDirs []string
	ExtraFlags  []string

	Logger *slog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithCompilers overrides the C and C++ compilers.
func WithCompilers(cc, cxx string) Option {
	return func(v *Validator) {
		v.CC = cc
		v.CXX = cxx
	}
}

// WithPython overrides the Python interpreter.
func WithPython(python string) Option {
	return func(v *Validator) {
		v.Python = python
	}
}

// WithIncludeDirs adds include directories (relative to the root or absolute).
func WithIncludeDirs(dirs ...string) Option {
	return func(v *Validator) {
		v.IncludeDirs = append(v.IncludeDirs, dirs...)
	}
}

// WithExtraFlags appends compiler flags.
func WithExtraFlags(flags ...string) Option {
	return func(v *Validator) {
		v.ExtraFlags = append(v.ExtraFlags, flags...)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Validator) {
		v.Logger = l
	}
}

// NewValidator creates a validator for the project at root. sources lists
// the project files a harness is linked against.
func NewValidator(root string, sources []string, opts ...Option) *Validator {
	v := &Validator{
		CC:      "clang",
		CXX:     "clang++",
		Python:  "python3",
		Root:    root,
		Sources: slices.Clone(sources),
		Logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate runs c under limits. It always returns a result; infrastructure
// problems surface as a CompileError whose diagnostic says what failed.
func (v *Validator) Validate(ctx context.Context, c *candidate.Candidate, limits Limits) *candidate.Result {
	start := time.Now()
	res := v.validate(ctx, c, limits.withDefaults())
	res.Duration = time.Since(start)

	v.Logger.Debug("validation finished",
		"candidate", c.ID,
		"outcome", res.Outcome,
		"phase", res.Phase,
		"duration", res.Duration)
	return res
}

type step struct {
	phase candidate.Phase
	argv  []string
}

func (v *Validator) validate(ctx context.Context, c *candidate.Candidate, limits Limits) *candidate.Result {
	if msg := ScanPolicy(c.Language, c.Source); msg != "" {
		return &candidate.Result{Outcome: candidate.OutcomeSandboxViolation, Phase: candidate.PhasePolicy, Diagnostic: msg}
	}

	dir, err := os.MkdirTemp(limits.WorkDir, "candidate-*")
	if err != nil {
		return setupFailure(err)
	}
	defer os.RemoveAll(dir)

	ctx, cancel := context.WithTimeout(ctx, limits.Timeout)
	defer cancel()

	srcName := binaryName + c.Language.Extension()
	if err := os.WriteFile(filepath.Join(dir, srcName), []byte(c.Source), 0o644); err != nil {
		return setupFailure(err)
	}
	corpus := filepath.Join(dir, corpusDir)
	if err := os.MkdirAll(corpus, 0o755); err != nil {
		return setupFailure(err)
	}
	if err := os.WriteFile(filepath.Join(corpus, seedName), []byte(seedInput), 0o644); err != nil {
		return setupFailure(err)
	}

	steps, err := v.plan(c.Language, dir, srcName, limits)
	if err != nil {
		return &candidate.Result{Outcome: candidate.OutcomeCompileError, Phase: candidate.PhaseCompile, Diagnostic: err.Error()}
	}
	env := v.env(c.Language, dir)

	for _, s := range steps {
		pr := run(ctx, process{dir: dir, env: env, argv: s.argv, limits: limits})
		if res := classify(s.phase, pr, limits); res != nil {
			return res
		}
		if s.phase == candidate.PhaseRun {
			return &candidate.Result{
				Outcome:    candidate.OutcomeSuccess,
				Phase:      candidate.PhaseRun,
				Diagnostic: pr.output.String(),
				Truncated:  pr.output.Truncated(),
				Coverage:   v.runCoverage(ctx, c, pr, dir, srcName, env, limits),
				Corpus:     collectCorpus(corpus, limits.MaxCorpusSamples),
			}
		}
	}
	return &candidate.Result{Outcome: candidate.OutcomeCompileError, Phase: candidate.PhaseCompile, Diagnostic: "no run step planned"}
}

// runCoverage returns the coverage of a successful run. Python coverage
// comes from a replay under coverage.py; when that fails the run still
// succeeds with an empty report.
func (v *Validator) runCoverage(ctx context.Context, c *candidate.Candidate, pr procResult, dir, srcName string, env []string, limits Limits) coverage.Report {
	if c.Language != candidate.LanguagePython {
		return ParseCoverage(pr.coverage.String(), v.Root)
	}
	report, err := v.pythonCoverage(ctx, dir, srcName, env, limits)
	if err != nil {
		v.Logger.Warn("python coverage replay failed", "candidate", c.ID, "error", err)
		return coverage.Report{}
	}
	return report
}

// classify turns a finished step into a failure result, or nil to continue.
func classify(phase candidate.Phase, pr procResult, limits Limits) *candidate.Result {
	output := pr.output.String()
	fail := func(o candidate.Outcome, diag string) *candidate.Result {
		return &candidate.Result{Outcome: o, Phase: phase, Diagnostic: diag, Truncated: pr.output.Truncated()}
	}

	switch {
	case pr.startErr != nil:
		return fail(candidate.OutcomeCompileError, fmt.Sprintf("%s step could not start: %v", phase, pr.startErr))
	case pr.flooded:
		return fail(candidate.OutcomeSandboxViolation,
			fmt.Sprintf("output flood: more than %d bytes written\n%s", int64(limits.MaxOutputBytes)*floodFactor, output))
	case violationSignal(pr.signal):
		return fail(candidate.OutcomeSandboxViolation, fmt.Sprintf("killed by %s\n%s", pr.signal, output))
	case pr.timedOut:
		return fail(candidate.OutcomeTimeout, fmt.Sprintf("%s step timed out after %s\n%s", phase, limits.Timeout, output))
	case pr.exitCode == 0 && pr.signal == 0:
		return nil
	}

	if phase != candidate.PhaseRun {
		return fail(candidate.OutcomeCompileError, output)
	}
	if libFuzzerTimeout(output) {
		return fail(candidate.OutcomeTimeout, output)
	}
	if pr.signal != 0 && !strings.Contains(output, pr.signal.String()) {
		output = fmt.Sprintf("killed by %s\n%s", pr.signal, output)
	}
	return fail(candidate.OutcomeRuntimeCrash, output)
}

func setupFailure(err error) *candidate.Result {
	return &candidate.Result{
		Outcome:    candidate.OutcomeCompileError,
		Phase:      candidate.PhaseCompile,
		Diagnostic: "sandbox setup failed: " + err.Error(),
	}
}

func (v *Validator) env(lang candidate.Language, dir string) []string {
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + dir,
		"TMPDIR=" + dir,
		"LANG=C",
		"ASAN_OPTIONS=detect_leaks=0:symbolize=1",
	}
	if lang == candidate.LanguagePython {
		env = append(env, "PYTHONPATH="+v.Root, "PYTHONDONTWRITEBYTECODE=1")
	}
	return env
}

func (v *Validator) abs(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(v.Root, p)
}

func (v *Validator) includeFlags() []string {
	dirs := []string{v.Root}
	for _, src := range v.Sources {
		dirs = append(dirs, filepath.Dir(v.abs(src)))
	}
	for _, d := range v.IncludeDirs {
		dirs = append(dirs, v.abs(d))
	}
	var flags []string
	seen := make(map[string]bool)
	for _, d := range dirs {
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		flags = append(flags, "-I"+d)
	}
	return flags
}

// plan returns the compile, link and run steps for lang.
func (v *Validator) plan(lang candidate.Language, dir, srcName string, limits Limits) ([]step, error) {
	fuzzArgs := []string{
		fmt.Sprintf("-max_total_time=%d", seconds(limits.FuzzTime)),
		fmt.Sprintf("-timeout=%d", seconds(limits.InputTimeout)),
		fmt.Sprintf("-rss_limit_mb=%d", limits.RSSLimitMB),
	}

	switch lang {
	case candidate.LanguagePython:
		compile := []string{v.Python, "-m", "py_compile", srcName}
		runArgs := append([]string{v.Python, srcName}, fuzzArgs...)
		runArgs = append(runArgs, corpusDir)
		return []step{
			{phase: candidate.PhaseCompile, argv: compile},
			{phase: candidate.PhaseRun, argv: runArgs},
		}, nil

	case candidate.LanguageC, candidate.LanguageCPP:
		harnessCC := v.CC
		if lang == candidate.LanguageCPP {
			harnessCC = v.CXX
		}
		cflags := append([]string{"-g", "-O1", "-fsanitize=fuzzer-no-link,address"}, v.includeFlags()...)
		cflags = append(cflags, v.ExtraFlags...)

		var steps []step
		objects := []string{"harness.o"}
		steps = append(steps, step{
			phase: candidate.PhaseCompile,
			argv:  append(append([]string{harnessCC, "-c"}, cflags...), srcName, "-o", "harness.o"),
		})
		for i, src := range v.Sources {
			compiler := v.CC
			if ext := strings.ToLower(filepath.Ext(src)); ext != ".c" {
				compiler = v.CXX
			}
			obj := fmt.Sprintf("src-%d.o", i)
			objects = append(objects, obj)
			steps = append(steps, step{
				phase: candidate.PhaseCompile,
				argv:  append(append([]string{compiler, "-c"}, cflags...), v.abs(src), "-o", obj),
			})
		}

		link := append([]string{harnessCC, "-g", "-fsanitize=fuzzer,address"}, objects...)
		link = append(link, "-o", binaryName)
		if lang == candidate.LanguageC && slices.ContainsFunc(v.Sources, func(s string) bool { return filepath.Ext(s) != ".c" }) {
			link = append(link, "-lstdc++")
		}
		steps = append(steps, step{phase: candidate.PhaseLink, argv: link})

		runArgs := append([]string{filepath.Join(dir, binaryName), "-print_coverage=1"}, fuzzArgs...)
		runArgs = append(runArgs, corpusDir)
		steps = append(steps, step{phase: candidate.PhaseRun, argv: runArgs})
		return steps, nil
	}
	return nil, fmt.Errorf("unsupported language %q", lang)
}
