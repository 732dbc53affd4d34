package conformance

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/harnessforge/internal/artifact"
	"github.com/roach88/harnessforge/internal/candidate"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, line := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, line)
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns the failures.
func EvaluateAssertions(r *Result, assertions []Assertion) []string {
	var errs []string
	for _, a := range assertions {
		if err := evaluate(r, a); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func evaluate(r *Result, a Assertion) error {
	switch a.Type {
	case AssertArtifact:
		return assertArtifact(r, a)
	case AssertArtifactCount:
		return assertArtifactCount(r, a)
	case AssertTransitions:
		return assertTransitions(r, a)
	case AssertTransitionCount:
		return assertTransitionCount(r, a)
	case AssertCoverage:
		if got := r.Coverage[a.Location]; got != a.Hits {
			return &AssertionError{
				Type:     AssertCoverage,
				Expected: fmt.Sprintf("%s hit %d times", a.Location, a.Hits),
				Actual:   fmt.Sprintf("%d", got),
			}
		}
	case AssertValidations:
		if r.Validations != a.Count {
			return &AssertionError{
				Type:     AssertValidations,
				Expected: fmt.Sprintf("%d validations", a.Count),
				Actual:   fmt.Sprintf("%d", r.Validations),
			}
		}
	case AssertRepairPrompt:
		for _, p := range r.RepairPrompts {
			if strings.Contains(p, a.Contains) {
				return nil
			}
		}
		return &AssertionError{
			Type:     AssertRepairPrompt,
			Expected: fmt.Sprintf("a repair prompt containing %q", a.Contains),
			Actual:   fmt.Sprintf("%d prompts, none matching", len(r.RepairPrompts)),
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

func assertArtifact(r *Result, a Assertion) error {
	art, ok := r.Artifact(candidate.LineageID(a.Lineage))
	if !ok {
		return &AssertionError{
			Type:     AssertArtifact,
			Expected: fmt.Sprintf("an artifact for %s", a.Lineage),
			Actual:   "lineage did not terminate",
			Trace:    traceLines(r),
		}
	}

	var mismatches []string
	check := func(field, want, got string) {
		if want != "" && want != got {
			mismatches = append(mismatches, fmt.Sprintf("%s=%q (want %q)", field, got, want))
		}
	}
	check("kind", a.Kind, string(art.Kind))
	check("status", string(a.Status), string(art.Status))
	check("tag", a.Tag, art.Tag)
	check("reason", a.Reason, art.Reason)
	if len(mismatches) > 0 {
		return &AssertionError{
			Type:     AssertArtifact,
			Expected: fmt.Sprintf("artifact for %s matching the assertion", a.Lineage),
			Actual:   strings.Join(mismatches, ", "),
			Trace:    traceLines(r),
		}
	}
	return nil
}

func assertArtifactCount(r *Result, a Assertion) error {
	n := 0
	for _, art := range r.Artifacts {
		if a.Kind != "" && art.Kind != artifact.Kind(a.Kind) {
			continue
		}
		if a.Status != "" && art.Status != a.Status {
			continue
		}
		n++
	}
	if n != a.Count {
		return &AssertionError{
			Type:     AssertArtifactCount,
			Expected: fmt.Sprintf("%d artifacts (kind=%q status=%q)", a.Count, a.Kind, a.Status),
			Actual:   fmt.Sprintf("%d", n),
		}
	}
	return nil
}

func assertTransitions(r *Result, a Assertion) error {
	got := r.Statuses(candidate.LineageID(a.Lineage))
	if !slices.Equal(got, a.Statuses) {
		return &AssertionError{
			Type:     AssertTransitions,
			Expected: fmt.Sprintf("%s: %v", a.Lineage, a.Statuses),
			Actual:   fmt.Sprintf("%v", got),
			Trace:    traceLines(r),
		}
	}
	return nil
}

func assertTransitionCount(r *Result, a Assertion) error {
	n := 0
	for _, tr := range r.Trace {
		if tr.To == a.To {
			n++
		}
	}
	if n != a.Count {
		return &AssertionError{
			Type:     AssertTransitionCount,
			Expected: fmt.Sprintf("%d transitions to %s", a.Count, a.To),
			Actual:   fmt.Sprintf("%d", n),
			Trace:    traceLines(r),
		}
	}
	return nil
}

func traceLines(r *Result) []string {
	lines := make([]string, 0, len(r.Trace))
	for _, tr := range r.Trace {
		lines = append(lines, formatTransition(tr.Candidate, tr.From, tr.To, tr.Reason))
	}
	return lines
}

func formatTransition(c candidate.ID, from, to candidate.Status, reason string) string {
	line := fmt.Sprintf("%s %s -> %s", c, from, to)
	if reason != "" {
		line += " (" + reason + ")"
	}
	return line
}
