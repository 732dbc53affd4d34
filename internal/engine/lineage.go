package engine

import (
	"github.com/roach88/harnessforge/internal/artifact"
	"github.com/roach88/harnessforge/internal/candidate"
	"github.com/roach88/harnessforge/internal/coverage"
	"github.com/roach88/harnessforge/internal/mutation"
	"github.com/roach88/harnessforge/internal/repair"
)

// lineageState is the Run loop's bookkeeping for one lineage. The
// authoritative status lives in the candidate store; status here mirrors it
// so the loop can branch without copying the member list.
type lineageState struct {
	id     candidate.LineageID
	origin candidate.LineageID // lineage this one was mutated from
	head   candidate.ID
	status candidate.Status

	// streak counts consecutive successes that added no coverage. Mutated
	// lineages start from their parent's streak.
	streak int

	queued     bool // submitted and awaiting a validation result
	backlogged bool // waiting for queue capacity
	pending    bool // generation request outstanding

	last   *candidate.Result
	report coverage.Report
	trail  []artifact.TrailEntry
}

// requestKind distinguishes the two generation request types.
type requestKind int

const (
	requestRepair requestKind = iota + 1
	requestMutation
)

func (k requestKind) String() string {
	if k == requestRepair {
		return "repair"
	}
	return "synthesize"
}

// genRequest is a generation call waiting for a slot.
type genRequest struct {
	kind     requestKind
	lineage  candidate.LineageID
	repair   *repair.Request
	mutation *mutation.Request
}

// genReply carries a finished generation call back to the Run loop.
type genReply struct {
	req    *genRequest
	source string
	err    error
}

// requestQueue orders pending generation requests: repairs before
// mutations, FIFO within each kind. Owned by the Run loop.
type requestQueue struct {
	repairs   []*genRequest
	mutations []*genRequest
}

func (q *requestQueue) push(r *genRequest) {
	if r.kind == requestRepair {
		q.repairs = append(q.repairs, r)
		return
	}
	q.mutations = append(q.mutations, r)
}

func (q *requestQueue) pop() (*genRequest, bool) {
	var r *genRequest
	switch {
	case len(q.repairs) > 0:
		r, q.repairs = q.repairs[0], q.repairs[1:]
	case len(q.mutations) > 0:
		r, q.mutations = q.mutations[0], q.mutations[1:]
	default:
		return nil, false
	}
	return r, true
}

func (q *requestQueue) len() int {
	return len(q.repairs) + len(q.mutations)
}

func (q *requestQueue) clear() {
	q.repairs = nil
	q.mutations = nil
}

// validation carries a worker's result back to the Run loop.
type validation struct {
	id     candidate.ID
	result *candidate.Result
}
