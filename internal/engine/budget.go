package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/harnessforge/internal/candidate"
)

// BudgetLimits configures a Budget.
type BudgetLimits struct {
	// RepairPerLineage caps repair attempts within one lineage.
	RepairPerLineage int

	// MutationRounds caps mutations across the whole run.
	MutationRounds int

	// Deadline is the wall-clock instant the run must stop by.
	// Zero means no deadline.
	Deadline time.Time
}

// Budget tracks the resources a run may still spend.
//
// The repair budget is per lineage; the mutation budget and deadline are
// global. Spending happens on the Run loop, but reads are safe from any
// goroutine.
type Budget struct {
	mu          sync.Mutex
	limits      BudgetLimits
	repairsUsed map[candidate.LineageID]int
	mutations   int
}

// NewBudget creates a budget with nothing spent.
func NewBudget(limits BudgetLimits) *Budget {
	return &Budget{
		limits:      limits,
		repairsUsed: make(map[candidate.LineageID]int),
	}
}

// Limits returns the configured limits.
func (b *Budget) Limits() BudgetLimits {
	return b.limits
}

// RepairsLeft returns the repair attempts lineage may still make.
func (b *Budget) RepairsLeft(lineage candidate.LineageID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return max(0, b.limits.RepairPerLineage-b.repairsUsed[lineage])
}

// TakeRepair spends one repair attempt for lineage.
// Returns BudgetExceededError if none is left.
func (b *Budget) TakeRepair(lineage candidate.LineageID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.repairsUsed[lineage] >= b.limits.RepairPerLineage {
		return &BudgetExceededError{
			Resource: "repair",
			Lineage:  lineage,
			Used:     b.repairsUsed[lineage],
			Limit:    b.limits.RepairPerLineage,
		}
	}
	b.repairsUsed[lineage]++
	return nil
}

// MutationsLeft returns the mutation rounds the run may still dispatch.
func (b *Budget) MutationsLeft() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return max(0, b.limits.MutationRounds-b.mutations)
}

// TakeMutation spends one global mutation round.
// Returns BudgetExceededError if none is left.
func (b *Budget) TakeMutation() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.mutations >= b.limits.MutationRounds {
		return &BudgetExceededError{
			Resource: "mutation",
			Used:     b.mutations,
			Limit:    b.limits.MutationRounds,
		}
	}
	b.mutations++
	return nil
}

// Deadline returns the configured deadline and whether one is set.
func (b *Budget) Deadline() (time.Time, bool) {
	return b.limits.Deadline, !b.limits.Deadline.IsZero()
}

// Expired reports whether now is at or past the deadline.
func (b *Budget) Expired(now time.Time) bool {
	d, ok := b.Deadline()
	return ok && !now.Before(d)
}

// context derives a context that is cancelled at the deadline.
func (b *Budget) context(parent context.Context) (context.Context, context.CancelFunc) {
	if d, ok := b.Deadline(); ok {
		return context.WithDeadline(parent, d)
	}
	return context.WithCancel(parent)
}

// BudgetSnapshot is a point-in-time view of budget consumption.
type BudgetSnapshot struct {
	RepairsUsed   int `json:"repairs_used"`
	MutationsUsed int `json:"mutations_used"`
	MutationsLeft int `json:"mutations_left"`
	RepairLimit   int `json:"repair_limit"`
}

// Snapshot returns current consumption.
func (b *Budget) Snapshot() BudgetSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	used := 0
	for _, n := range b.repairsUsed {
		used += n
	}
	return BudgetSnapshot{
		RepairsUsed:   used,
		MutationsUsed: b.mutations,
		MutationsLeft: max(0, b.limits.MutationRounds-b.mutations),
		RepairLimit:   b.limits.RepairPerLineage,
	}
}

// BudgetExceededError is returned when a spend would exceed its limit.
type BudgetExceededError struct {
	Resource string              // "repair" or "mutation"
	Lineage  candidate.LineageID // empty for global budgets
	Used     int
	Limit    int
}

// Error implements the error interface.
func (e *BudgetExceededError) Error() string {
	if e.Lineage != "" {
		return fmt.Sprintf("lineage %s exceeded %s budget: %d used of %d", e.Lineage, e.Resource, e.Used, e.Limit)
	}
	return fmt.Sprintf("run exceeded %s budget: %d used of %d", e.Resource, e.Used, e.Limit)
}

// IsBudgetExceededError returns true if the error is a BudgetExceededError.
// Uses errors.As to handle wrapped errors.
func IsBudgetExceededError(err error) bool {
	var be *BudgetExceededError
	return errors.As(err, &be)
}
