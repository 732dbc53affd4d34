package conformance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/harnessforge/internal/candidate"
	"github.com/roach88/harnessforge/internal/coverage"
	"github.com/roach88/harnessforge/internal/engine"
	"github.com/roach88/harnessforge/internal/generation"
	"github.com/roach88/harnessforge/internal/testutil"
)

// Run executes a scenario against a fresh engine and evaluates its
// assertions. An error means the scenario could not run at all; failed
// assertions are reported in the Result.
func Run(ctx context.Context, s *Scenario) (*Result, error) {
	cfg, err := engineConfig(s.Engine)
	if err != nil {
		return nil, err
	}
	v, err := validator(s.Validator)
	if err != nil {
		return nil, err
	}
	g := &testutil.ScriptedGenerator{}
	if s.Generator.SynthesizeError != "" {
		g.SynthesizeErr = errors.New(s.Generator.SynthesizeError)
	}
	if s.Generator.RepairError != "" {
		g.RepairErr = errors.New(s.Generator.RepairError)
	}

	result := NewResult()
	var mu sync.Mutex
	eng := engine.New(testutil.Metadata(s.Targets...), v, g, cfg,
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine.WithLineageGenerator(candidate.NewSequenceGenerator("lineage")),
		engine.WithTimeSource(testutil.NewDeterministicClock().Now),
		engine.WithObserver(func(tr engine.Transition) {
			mu.Lock()
			result.Trace = append(result.Trace, tr)
			mu.Unlock()
		}),
	)

	for i, seed := range s.Seeds {
		var err error
		if seed.Source != "" {
			_, err = eng.SeedSource(seed.Source, seed.Targets)
		} else {
			_, err = eng.Seed(ctx, seed.Targets)
		}
		if err != nil {
			if !engine.IsGenerationUnavailable(err) {
				return nil, fmt.Errorf("seed %d: %w", i, err)
			}
			result.SeedErrors = append(result.SeedErrors, err.Error())
		}
	}

	limits := engine.BudgetLimits{
		RepairPerLineage: cfg.RepairBudget,
		MutationRounds:   cfg.MutationRounds,
	}
	if s.Engine.Deadline != "" {
		d, _ := time.ParseDuration(s.Engine.Deadline)
		limits.Deadline = time.Now().Add(d)
	}

	report, err := eng.Run(ctx, engine.NewBudget(limits))
	if err != nil {
		return nil, fmt.Errorf("run engine: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	result.Artifacts = report.Artifacts
	result.Validations = report.Validations
	result.Coverage = report.Coverage
	result.RepairPrompts = g.Diagnostics()

	for _, msg := range EvaluateAssertions(result, s.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// engineConfig applies scenario overrides to a fast test configuration.
func engineConfig(s EngineSettings) (engine.Config, error) {
	cfg := engine.DefaultConfig()
	cfg.Retry = generation.RetryPolicy{Attempts: 2, Timeout: time.Second, Backoff: time.Millisecond}

	if s.Concurrency > 0 {
		cfg.Concurrency = s.Concurrency
	}
	if s.QueueSize > 0 {
		cfg.QueueSize = s.QueueSize
	}
	if s.GenerationSlots > 0 {
		cfg.GenerationSlots = s.GenerationSlots
	}
	if s.MaxCombinationSize > 0 {
		cfg.MaxCombinationSize = s.MaxCombinationSize
	}
	if s.RepairBudget != nil {
		cfg.RepairBudget = *s.RepairBudget
	}
	if s.MutationRounds != nil {
		cfg.MutationRounds = *s.MutationRounds
	}
	if s.PlateauThreshold != nil {
		cfg.PlateauThreshold = *s.PlateauThreshold
	}
	if cfg.RepairBudget < 0 || cfg.MutationRounds < 0 {
		return engine.Config{}, fmt.Errorf("engine budgets must be non-negative")
	}
	return cfg, nil
}

func validator(s ValidatorScript) (*testutil.ScriptedValidator, error) {
	v := &testutil.ScriptedValidator{}
	if s.Default != nil {
		v.Default = s.Default.result()
	}
	for _, r := range s.Rules {
		v.Rules = append(v.Rules, testutil.Rule{Contains: r.Contains, Result: r.Result.result()})
	}
	if s.Delay != "" {
		d, err := time.ParseDuration(s.Delay)
		if err != nil {
			return nil, fmt.Errorf("validator.delay: %w", err)
		}
		v.Delay = d
	}
	return v, nil
}

func (r ResultSpec) result() candidate.Result {
	phase := r.Phase
	if phase == "" {
		switch r.Outcome {
		case candidate.OutcomeCompileError:
			phase = candidate.PhaseCompile
		case candidate.OutcomeSandboxViolation:
			phase = candidate.PhasePolicy
		default:
			phase = candidate.PhaseRun
		}
	}
	res := candidate.Result{
		Outcome:    r.Outcome,
		Phase:      phase,
		Diagnostic: r.Diagnostic,
		Coverage:   coverage.Report(r.Coverage),
	}
	for _, sample := range r.Corpus {
		res.Corpus = append(res.Corpus, []byte(sample))
	}
	return res
}
