package candidate

import (
	"fmt"
	"slices"
	"time"

	"github.com/roach88/harnessforge/internal/coverage"
)

// ID identifies a single candidate.
type ID string

// LineageID identifies a lineage (a seed and all of its repairs).
type LineageID string

// Kind records how a candidate came to exist.
type Kind string

const (
	// KindInitial is a candidate synthesized from metadata alone.
	KindInitial Kind = "initial"
	// KindRepaired is a patch of a failed candidate in the same lineage.
	KindRepaired Kind = "repaired"
	// KindMutated is a new seed derived from a successful candidate.
	KindMutated Kind = "mutated"
)

// Language is the harness source language.
type Language string

const (
	LanguageC      Language = "c"
	LanguageCPP    Language = "cpp"
	LanguagePython Language = "python"
)

// Valid reports whether l is a supported harness language.
func (l Language) Valid() bool {
	switch l {
	case LanguageC, LanguageCPP, LanguagePython:
		return true
	}
	return false
}

// Extension returns the source file extension used for harnesses in l.
func (l Language) Extension() string {
	switch l {
	case LanguageCPP:
		return ".cc"
	case LanguagePython:
		return ".py"
	default:
		return ".c"
	}
}

// Candidate is an immutable harness candidate.
//
// Candidates are never edited after Store.Add. A repair produces a new
// Candidate whose Parent points at the failed one.
type Candidate struct {
	ID          ID
	Lineage     LineageID
	Parent      ID // empty for seeds
	Kind        Kind
	Language    Language
	Source      string
	Targets     []string
	Strategy    string
	Generation  int64
	Fingerprint string
}

// Validate checks the structural fields every stored candidate must carry.
func (c *Candidate) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("candidate id is required")
	}
	if c.Lineage == "" {
		return fmt.Errorf("candidate %s: lineage is required", c.ID)
	}
	if !c.Language.Valid() {
		return fmt.Errorf("candidate %s: unsupported language %q", c.ID, c.Language)
	}
	switch c.Kind {
	case KindInitial, KindMutated:
	case KindRepaired:
		if c.Parent == "" {
			return fmt.Errorf("candidate %s: repaired candidate needs a parent", c.ID)
		}
	default:
		return fmt.Errorf("candidate %s: unknown kind %q", c.ID, c.Kind)
	}
	return nil
}

// NewID formats the candidate id for a lineage member stamped with generation.
func NewID(lineage LineageID, generation int64) ID {
	return ID(fmt.Sprintf("%s-g%d", lineage, generation))
}

// clone returns a deep copy so callers cannot reach into the arena.
func (c *Candidate) clone() *Candidate {
	cp := *c
	cp.Targets = slices.Clone(c.Targets)
	return &cp
}

// Outcome is the tagged result of validating one candidate.
type Outcome string

const (
	OutcomeCompileError     Outcome = "CompileError"
	OutcomeRuntimeCrash     Outcome = "RuntimeCrash"
	OutcomeTimeout          Outcome = "Timeout"
	OutcomeSuccess          Outcome = "Success"
	OutcomeSandboxViolation Outcome = "SandboxViolation"
)

// Status maps an outcome onto the lineage status it moves the lineage to.
func (o Outcome) Status() Status {
	switch o {
	case OutcomeCompileError:
		return StatusCompileError
	case OutcomeTimeout:
		return StatusTimeout
	case OutcomeSuccess:
		return StatusSuccess
	default:
		return StatusRuntimeError
	}
}

// Phase names the validation step that produced an outcome.
type Phase string

const (
	PhasePolicy  Phase = "policy"
	PhaseCompile Phase = "compile"
	PhaseLink    Phase = "link"
	PhaseRun     Phase = "run"
)

// Result is the validation record attached to a candidate.
type Result struct {
	Outcome    Outcome
	Phase      Phase
	Diagnostic string
	Truncated  bool
	Coverage   coverage.Report
	Corpus     [][]byte
	Duration   time.Duration
}

// Failed reports whether the result is anything other than Success.
func (r *Result) Failed() bool {
	return r == nil || r.Outcome != OutcomeSuccess
}
