// Package generation is the boundary to the code-synthesis collaborator.
//
// The engine never talks to a model directly. It asks a Service for a new
// harness body (Synthesize) or a patched one (Repair) and wraps every call in
// Call, which bounds each attempt with a timeout and retries a fixed number
// of times before giving up with an *UnavailableError.
package generation

import (
	"context"
	"fmt"

	"github.com/roach88/harnessforge/internal/metadata"
)

// Service synthesizes and repairs harness source.
type Service interface {
	Synthesize(ctx context.Context, md *metadata.Metadata, s Strategy) (string, error)
	Repair(ctx context.Context, source, diagnostic string) (string, error)
}

// StrategyKind selects what a synthesis request should aim for.
type StrategyKind string

const (
	// StrategyInitial asks for a first harness over the chosen functions.
	StrategyInitial StrategyKind = "initial"
	// StrategyExploreUncovered steers toward functions no run has reached.
	StrategyExploreUncovered StrategyKind = "explore-uncovered"
	// StrategyDeepen asks for new paths through already-reached functions.
	StrategyDeepen StrategyKind = "deepen"
)

// Strategy is the tagged synthesis request passed to Synthesize.
//
// Functions is the API combination the harness must exercise. Uncovered is
// only meaningful for StrategyExploreUncovered and Covered only for
// StrategyDeepen.
type Strategy struct {
	Kind      StrategyKind
	Functions []string
	Uncovered []string
	Covered   []string
}

// Initial builds a StrategyInitial request.
func Initial(functions []string) Strategy {
	return Strategy{Kind: StrategyInitial, Functions: functions}
}

// ExploreUncovered builds a StrategyExploreUncovered request.
func ExploreUncovered(functions, uncovered []string) Strategy {
	return Strategy{Kind: StrategyExploreUncovered, Functions: functions, Uncovered: uncovered}
}

// Deepen builds a StrategyDeepen request.
func Deepen(functions, covered []string) Strategy {
	return Strategy{Kind: StrategyDeepen, Functions: functions, Covered: covered}
}

// Validate checks that the strategy carries what its kind needs.
func (s Strategy) Validate() error {
	if len(s.Functions) == 0 {
		return fmt.Errorf("strategy %s: no functions", s.Kind)
	}
	switch s.Kind {
	case StrategyInitial, StrategyDeepen:
		return nil
	case StrategyExploreUncovered:
		if len(s.Uncovered) == 0 {
			return fmt.Errorf("strategy %s: no uncovered functions", s.Kind)
		}
		return nil
	default:
		return fmt.Errorf("unknown strategy kind %q", s.Kind)
	}
}
