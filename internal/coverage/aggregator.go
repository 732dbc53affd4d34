package coverage

// Aggregator owns the cumulative coverage map for a run.
//
// Not safe for concurrent use: the engine's result loop is its only caller,
// which is what makes merge order irrelevant to the final map.
type Aggregator struct {
	cumulative Report
	merges     int
}

// NewAggregator creates an aggregator with an empty cumulative map.
func NewAggregator() *Aggregator {
	return &Aggregator{cumulative: make(Report)}
}

// Merge folds r into the cumulative map and returns its delta, the
// locations r covered that no earlier report had.
func (a *Aggregator) Merge(r Report) Report {
	delta := r.Diff(a.cumulative)
	for loc, hits := range r {
		a.cumulative[loc] += hits
	}
	a.merges++
	return delta
}

// Snapshot returns a copy of the cumulative map.
func (a *Aggregator) Snapshot() Report {
	return a.cumulative.Clone()
}

// FunctionHits returns the cumulative hit count attributed to function.
func (a *Aggregator) FunctionHits(function string) uint64 {
	var n uint64
	for loc, hits := range a.cumulative {
		if FunctionOf(loc) == function {
			n += hits
		}
	}
	return n
}

// Covered reports whether any location of function has been hit.
func (a *Aggregator) Covered(function string) bool {
	return a.FunctionHits(function) > 0
}

// Len returns the number of distinct locations seen.
func (a *Aggregator) Len() int {
	return len(a.cumulative)
}

// Merges returns how many reports have been folded in.
func (a *Aggregator) Merges() int {
	return a.merges
}

// NextStreak advances a lineage's plateau streak after a successful run.
//
// The streak counts consecutive successes at the current coverage level:
// a success that added locations (or the first success of a chain) resets
// it to 1, a success with an empty delta extends it.
func NextStreak(prev int, delta Report) int {
	if prev == 0 || len(delta) > 0 {
		return 1
	}
	return prev + 1
}

// Plateaued reports whether a streak has reached the plateau threshold.
// A threshold below 1 never plateaus.
func Plateaued(streak, threshold int) bool {
	return threshold > 0 && streak >= threshold
}
