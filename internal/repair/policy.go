package repair

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/harnessforge/internal/candidate"
	"github.com/roach88/harnessforge/internal/generation"
)

// Reason explains why Propose returned no request.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonNotFailed       Reason = "not-failed"
	ReasonBudgetExhausted Reason = "repair-budget-exhausted"
	ReasonNonRecoverable  Reason = "non-recoverable"
	ReasonViolation       Reason = "sandbox-violation"
)

// ErrNoopPatch is returned when the collaborator hands back the same source.
var ErrNoopPatch = errors.New("repair returned unchanged source")

// Request is one repair attempt to dispatch.
type Request struct {
	Candidate  candidate.ID
	Lineage    candidate.LineageID
	Language   candidate.Language
	Source     string
	Category   Category
	Symbol     string
	Diagnostic string
}

// Prompt renders the diagnostic handed to the collaborator: a short header
// with the classification followed by the raw diagnostic.
func (r *Request) Prompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "category: %s\n", r.Category)
	if r.Symbol != "" {
		fmt.Fprintf(&b, "symbol: %s\n", r.Symbol)
	}
	b.WriteString(r.Diagnostic)
	return b.String()
}

// Policy proposes repairs and applies them through a generation.Service.
type Policy struct {
	service generation.Service
}

// NewPolicy creates a repair policy backed by svc.
func NewPolicy(svc generation.Service) *Policy {
	return &Policy{service: svc}
}

// Propose builds a repair request for a failed candidate, or returns nil and
// the reason no repair should be attempted. remaining is the lineage's
// unspent repair budget; Propose never spends it.
func (p *Policy) Propose(c *candidate.Candidate, res *candidate.Result, remaining int) (*Request, Reason) {
	category := Classify(res)
	switch {
	case category == CategoryNone:
		return nil, ReasonNotFailed
	case category == CategorySandboxViolation:
		return nil, ReasonViolation
	case category == CategoryNonRecoverable:
		return nil, ReasonNonRecoverable
	case remaining <= 0:
		return nil, ReasonBudgetExhausted
	}
	return &Request{
		Candidate:  c.ID,
		Lineage:    c.Lineage,
		Language:   c.Language,
		Source:     c.Source,
		Category:   category,
		Symbol:     Symbol(res.Diagnostic),
		Diagnostic: res.Diagnostic,
	}, ReasonNone
}

// Patch asks the collaborator for a fixed source. A patch whose fingerprint
// equals the original is rejected with ErrNoopPatch.
func (p *Policy) Patch(ctx context.Context, req *Request) (string, error) {
	patched, err := p.service.Repair(ctx, req.Source, req.Prompt())
	if err != nil {
		return "", err
	}
	if candidate.Fingerprint(patched) == candidate.Fingerprint(req.Source) {
		return "", ErrNoopPatch
	}
	return patched, nil
}
