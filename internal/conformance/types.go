package conformance

import (
	"github.com/roach88/harnessforge/internal/artifact"
	"github.com/roach88/harnessforge/internal/candidate"
	"github.com/roach88/harnessforge/internal/coverage"
	"github.com/roach88/harnessforge/internal/engine"
)

// Result is the outcome of running a scenario.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace is every lineage transition in the order the engine made them.
	Trace []engine.Transition `json:"trace"`

	// Artifacts are the terminal artifacts, in emission order.
	Artifacts []*artifact.Artifact `json:"artifacts"`

	Validations int             `json:"validations"`
	Coverage    coverage.Report `json:"coverage"`

	// SeedErrors are seeds the generation collaborator could not produce.
	SeedErrors []string `json:"seed_errors,omitempty"`

	// RepairPrompts are the diagnostics handed to the repair collaborator.
	RepairPrompts []string `json:"repair_prompts,omitempty"`

	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []engine.Transition{},
		Errors: []string{},
	}
}

// AddError records a failed assertion.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Artifact returns the artifact of lineage, if it terminated.
func (r *Result) Artifact(lineage candidate.LineageID) (*artifact.Artifact, bool) {
	for _, a := range r.Artifacts {
		if a.Lineage == lineage {
			return a, true
		}
	}
	return nil, false
}

// Statuses returns the statuses lineage entered, starting at Generated.
func (r *Result) Statuses(lineage candidate.LineageID) []candidate.Status {
	var out []candidate.Status
	for _, tr := range r.Trace {
		if tr.Lineage != lineage {
			continue
		}
		if len(out) == 0 {
			out = append(out, tr.From)
		}
		out = append(out, tr.To)
	}
	return out
}
