package testutil

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/roach88/harnessforge/internal/candidate"
	"github.com/roach88/harnessforge/internal/coverage"
	"github.com/roach88/harnessforge/internal/generation"
	"github.com/roach88/harnessforge/internal/metadata"
	"github.com/roach88/harnessforge/internal/sandbox"
)

// Rule maps candidates whose source contains a marker to a fixed result.
type Rule struct {
	// Contains is matched against the candidate source. Empty matches all.
	Contains string
	Result   candidate.Result
}

// ScriptedValidator is a sandbox stand-in that decides outcomes from the
// candidate source. The first matching rule wins; otherwise Default is
// returned (Success when Default has no outcome).
//
// Thread-safety: safe for concurrent use; it tracks peak concurrency so
// tests can assert the worker bound.
type ScriptedValidator struct {
	Rules   []Rule
	Default candidate.Result

	// Func, when set, overrides Rules and Default.
	Func func(c *candidate.Candidate) *candidate.Result

	// Gate, when set, blocks every validation until a value is received
	// or the context ends.
	Gate chan struct{}

	// Delay is slept before answering.
	Delay time.Duration

	mu     sync.Mutex
	calls  []candidate.ID
	active int
	peak   int
}

// Validate implements engine.Validator.
func (v *ScriptedValidator) Validate(ctx context.Context, c *candidate.Candidate, _ sandbox.Limits) *candidate.Result {
	v.mu.Lock()
	v.calls = append(v.calls, c.ID)
	v.active++
	v.peak = max(v.peak, v.active)
	v.mu.Unlock()

	defer func() {
		v.mu.Lock()
		v.active--
		v.mu.Unlock()
	}()

	if v.Gate != nil {
		select {
		case <-v.Gate:
		case <-ctx.Done():
			return &candidate.Result{Outcome: candidate.OutcomeTimeout, Phase: candidate.PhaseRun, Diagnostic: "validation cancelled"}
		}
	}
	if v.Delay > 0 {
		select {
		case <-time.After(v.Delay):
		case <-ctx.Done():
			return &candidate.Result{Outcome: candidate.OutcomeTimeout, Phase: candidate.PhaseRun, Diagnostic: "validation cancelled"}
		}
	}

	if v.Func != nil {
		return v.Func(c)
	}
	for _, r := range v.Rules {
		if strings.Contains(c.Source, r.Contains) {
			return copyResult(r.Result)
		}
	}
	return copyResult(v.Default)
}

func copyResult(r candidate.Result) *candidate.Result {
	if r.Outcome == "" {
		r.Outcome = candidate.OutcomeSuccess
		r.Phase = candidate.PhaseRun
	}
	r.Coverage = r.Coverage.Clone()
	r.Corpus = slices.Clone(r.Corpus)
	return &r
}

// Calls returns the candidates validated so far, in call order.
func (v *ScriptedValidator) Calls() []candidate.ID {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.calls)
}

// Peak returns the highest number of concurrent validations observed.
func (v *ScriptedValidator) Peak() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.peak
}

// Success builds a successful result with the given coverage.
func Success(report coverage.Report) candidate.Result {
	return candidate.Result{Outcome: candidate.OutcomeSuccess, Phase: candidate.PhaseRun, Coverage: report}
}

// Failure builds a failed result.
func Failure(outcome candidate.Outcome, phase candidate.Phase, diagnostic string) candidate.Result {
	return candidate.Result{Outcome: outcome, Phase: phase, Diagnostic: diagnostic}
}

// ScriptedGenerator is a generation.Service stand-in. Every answer is a
// distinct, numbered C harness so fingerprints never collide.
type ScriptedGenerator struct {
	// SynthesizeErr and RepairErr, when set, fail every call.
	SynthesizeErr error
	RepairErr     error

	// SynthesizeFunc and RepairFunc, when set, override the default answers.
	SynthesizeFunc func(strategy generation.Strategy, n int) (string, error)
	RepairFunc     func(source, diagnostic string, n int) (string, error)

	// Delay is waited out before answering; a cancelled ctx ends the wait
	// with ctx.Err().
	Delay time.Duration

	mu          sync.Mutex
	strategies  []generation.Strategy
	diagnostics []string
}

// Synthesize implements generation.Service.
func (g *ScriptedGenerator) Synthesize(ctx context.Context, _ *metadata.Metadata, s generation.Strategy) (string, error) {
	g.mu.Lock()
	g.strategies = append(g.strategies, s)
	n := len(g.strategies)
	g.mu.Unlock()

	if err := g.wait(ctx); err != nil {
		return "", err
	}
	if g.SynthesizeErr != nil {
		return "", g.SynthesizeErr
	}
	if g.SynthesizeFunc != nil {
		return g.SynthesizeFunc(s, n)
	}
	return fmt.Sprintf("/* harness %d strategy=%s targets=%s */\n%s", n, s.Kind, strings.Join(s.Functions, ","), harnessBody), nil
}

// Repair implements generation.Service.
func (g *ScriptedGenerator) Repair(ctx context.Context, source, diagnostic string) (string, error) {
	g.mu.Lock()
	g.diagnostics = append(g.diagnostics, diagnostic)
	n := len(g.diagnostics)
	g.mu.Unlock()

	if err := g.wait(ctx); err != nil {
		return "", err
	}
	if g.RepairErr != nil {
		return "", g.RepairErr
	}
	if g.RepairFunc != nil {
		return g.RepairFunc(source, diagnostic, n)
	}
	return fmt.Sprintf("%s/* repaired %d */\n", source, n), nil
}

func (g *ScriptedGenerator) wait(ctx context.Context) error {
	if g.Delay <= 0 {
		return nil
	}
	select {
	case <-time.After(g.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Strategies returns every synthesis request, in call order.
func (g *ScriptedGenerator) Strategies() []generation.Strategy {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.strategies)
}

// Diagnostics returns every repair diagnostic, in call order.
func (g *ScriptedGenerator) Diagnostics() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.diagnostics)
}

const harnessBody = `int LLVMFuzzerTestOneInput(const unsigned char *data, unsigned long size) {
  return 0;
}
`

// Metadata returns a small C target description with the given functions.
func Metadata(functions ...string) *metadata.Metadata {
	md := &metadata.Metadata{
		Project:  "demo",
		Language: candidate.LanguageC,
		Root:     "/src/demo",
		Targets:  slices.Clone(functions),
	}
	for i, fn := range functions {
		md.Functions = append(md.Functions, metadata.Function{
			Name:       fn,
			ReturnType: "int",
			Params:     []metadata.Param{{Name: "data", Type: "const char *", Pointer: true}},
			File:       "demo.c",
			Line:       10 * (i + 1),
			Public:     true,
		})
	}
	return md
}
