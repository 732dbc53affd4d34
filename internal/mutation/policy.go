// Package mutation picks the next API combination to explore once a harness
// succeeds, and hands the chosen combination to the generation collaborator.
//
// Combinations are subsets of the target functions up to a maximum size,
// enumerated smallest first in declaration order. Each combination is tried
// at most once per run.
package mutation

import (
	"context"
	"slices"
	"strings"

	"github.com/roach88/harnessforge/internal/candidate"
	"github.com/roach88/harnessforge/internal/coverage"
	"github.com/roach88/harnessforge/internal/generation"
	"github.com/roach88/harnessforge/internal/metadata"
)

// maxCombinations bounds enumeration for large target sets.
const maxCombinations = 1 << 14

// Reason explains why Propose returned no request.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonPlateau         Reason = "plateau"
	ReasonBudgetExhausted Reason = "mutation-budget-exhausted"
	ReasonExhausted       Reason = "combinations-exhausted"
)

// Options configures a Policy.
type Options struct {
	MaxCombinationSize int
	PlateauThreshold   int
}

// Input is everything Propose looks at for one successful candidate.
type Input struct {
	Candidate  *candidate.Candidate
	Report     coverage.Report
	Delta      coverage.Report
	Cumulative *coverage.Aggregator
	RoundsLeft int
	Streak     int
}

// Request is one mutation to dispatch.
type Request struct {
	Parent    candidate.ID
	Lineage   candidate.LineageID
	Functions []string
	Strategy  generation.Strategy
	Delta     coverage.Report
}

// Policy proposes mutations and synthesizes them through a generation.Service.
//
// Not safe for concurrent use; the engine's result loop owns it.
type Policy struct {
	md      *metadata.Metadata
	service generation.Service
	opts    Options
	combos  [][]string
	tried   map[string]bool
}

// NewPolicy creates a mutation policy over md's target functions.
func NewPolicy(md *metadata.Metadata, svc generation.Service, opts Options) *Policy {
	if opts.MaxCombinationSize <= 0 {
		opts.MaxCombinationSize = 1
	}
	return &Policy{
		md:      md,
		service: svc,
		opts:    opts,
		combos:  Combinations(md.Targets, opts.MaxCombinationSize),
		tried:   make(map[string]bool),
	}
}

// Combinations enumerates subsets of functions of size 1..maxSize, smallest
// first, each in lexicographic index order.
func Combinations(functions []string, maxSize int) [][]string {
	var out [][]string
	maxSize = min(maxSize, len(functions))
	for size := 1; size <= maxSize; size++ {
		idx := make([]int, size)
		for i := range idx {
			idx[i] = i
		}
		for {
			combo := make([]string, size)
			for i, j := range idx {
				combo[i] = functions[j]
			}
			out = append(out, combo)
			if len(out) == maxCombinations {
				return out
			}

			i := size - 1
			for i >= 0 && idx[i] == len(functions)-size+i {
				i--
			}
			if i < 0 {
				break
			}
			idx[i]++
			for j := i + 1; j < size; j++ {
				idx[j] = idx[j-1] + 1
			}
		}
	}
	return out
}

func key(functions []string) string {
	sorted := slices.Clone(functions)
	slices.Sort(sorted)
	return strings.Join(sorted, "\x00")
}

// MarkTried records a combination (in any order) as already explored.
func (p *Policy) MarkTried(functions []string) {
	p.tried[key(functions)] = true
}

// Tried reports whether a combination has been explored.
func (p *Policy) Tried(functions []string) bool {
	return p.tried[key(functions)]
}

// Remaining returns how many enumerated combinations are still untried.
func (p *Policy) Remaining() int {
	n := 0
	for _, c := range p.combos {
		if !p.tried[key(c)] {
			n++
		}
	}
	return n
}

// Propose selects the next untried combination, or returns nil with the
// reason mutation should stop for this chain.
//
// Ranking: most functions with zero cumulative coverage first, then fewer
// functions, then enumeration order. The chosen combination is marked tried.
func (p *Policy) Propose(in Input) (*Request, Reason) {
	if coverage.Plateaued(in.Streak, p.opts.PlateauThreshold) {
		return nil, ReasonPlateau
	}
	if in.RoundsLeft <= 0 {
		return nil, ReasonBudgetExhausted
	}

	reached := in.Report.Functions()
	uncovered := func(fn string) bool {
		if in.Cumulative != nil && in.Cumulative.Covered(fn) {
			return false
		}
		return reached[fn] == 0
	}

	best, bestScore := -1, -1
	for i, combo := range p.combos {
		if p.tried[key(combo)] {
			continue
		}
		score := 0
		for _, fn := range combo {
			if uncovered(fn) {
				score++
			}
		}
		if score > bestScore || (score == bestScore && len(combo) < len(p.combos[best])) {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return nil, ReasonExhausted
	}

	combo := slices.Clone(p.combos[best])
	p.MarkTried(combo)

	var strategy generation.Strategy
	if bestScore > 0 {
		var missing []string
		for _, fn := range combo {
			if uncovered(fn) {
				missing = append(missing, fn)
			}
		}
		strategy = generation.ExploreUncovered(combo, missing)
	} else {
		var covered []string
		if in.Cumulative != nil {
			for _, loc := range in.Cumulative.Snapshot().Locations() {
				if slices.Contains(combo, coverage.FunctionOf(loc)) {
					covered = append(covered, loc)
				}
			}
		}
		strategy = generation.Deepen(combo, covered)
	}

	return &Request{
		Parent:    in.Candidate.ID,
		Lineage:   in.Candidate.Lineage,
		Functions: combo,
		Strategy:  strategy,
		Delta:     in.Delta,
	}, ReasonNone
}

// Synthesize asks the collaborator for the mutated harness body.
func (p *Policy) Synthesize(ctx context.Context, req *Request) (string, error) {
	return p.service.Synthesize(ctx, p.md, req.Strategy)
}
