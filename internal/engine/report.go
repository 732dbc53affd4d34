package engine

import (
	"time"

	"github.com/roach88/harnessforge/internal/artifact"
	"github.com/roach88/harnessforge/internal/candidate"
	"github.com/roach88/harnessforge/internal/coverage"
)

// RunReport summarizes a finished run.
type RunReport struct {
	Artifacts   []*artifact.Artifact `json:"artifacts"`
	Lineages    int                  `json:"lineages"`
	Candidates  int                  `json:"candidates"`
	Validations int                  `json:"validations"`
	Coverage    coverage.Report      `json:"coverage"`
	Budget      BudgetSnapshot       `json:"budget"`
	Expired     bool                 `json:"expired"`
	Cause       string               `json:"cause,omitempty"`
	Elapsed     time.Duration        `json:"elapsed"`
}

// Count returns the number of artifacts of kind.
func (r *RunReport) Count(kind artifact.Kind) int {
	n := 0
	for _, a := range r.Artifacts {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

// Exhausted returns the number of lineages that ended Budget-Exhausted.
func (r *RunReport) Exhausted() int {
	n := 0
	for _, a := range r.Artifacts {
		if a.Status == candidate.StatusBudgetExhausted {
			n++
		}
	}
	return n
}

// Err returns a BUDGET_EXHAUSTED RuntimeError if any lineage was cut off.
func (r *RunReport) Err() error {
	if n := r.Exhausted(); n > 0 {
		return NewBudgetError(n, r.Cause)
	}
	return nil
}

// report builds the RunReport. Called after the loop has exited.
func (e *Engine) report(budget *Budget, elapsed time.Duration) *RunReport {
	e.mu.Lock()
	defer e.mu.Unlock()

	artifacts := make([]*artifact.Artifact, len(e.artifacts))
	copy(artifacts, e.artifacts)
	return &RunReport{
		Artifacts:   artifacts,
		Lineages:    len(e.order),
		Candidates:  e.store.Len(),
		Validations: e.validations,
		Coverage:    e.agg.Snapshot(),
		Budget:      budget.Snapshot(),
		Expired:     e.expired,
		Cause:       e.cause,
		Elapsed:     elapsed,
	}
}
