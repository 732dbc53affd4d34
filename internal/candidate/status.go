package candidate

import "fmt"

// Status is the lifecycle state of a lineage.
type Status string

const (
	StatusGenerated       Status = "Generated"
	StatusValidating      Status = "Validating"
	StatusCompileError    Status = "CompileError"
	StatusRuntimeError    Status = "RuntimeError"
	StatusTimeout         Status = "Timeout"
	StatusSuccess         Status = "Success"
	StatusRepairPending   Status = "RepairPending"
	StatusMutationPending Status = "MutationPending"
	StatusSavedHarness    Status = "Saved-Harness"
	StatusSavedException  Status = "Saved-Exception"
	StatusBudgetExhausted Status = "Budget-Exhausted"
)

// IsTerminal reports whether no further transition may leave s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSavedHarness, StatusSavedException, StatusBudgetExhausted:
		return true
	}
	return false
}

// transitions lists the legal successors of every non-terminal status.
// Budget-Exhausted is reachable from any non-terminal status.
var transitions = map[Status][]Status{
	StatusGenerated:       {StatusValidating},
	StatusValidating:      {StatusCompileError, StatusRuntimeError, StatusTimeout, StatusSuccess},
	StatusCompileError:    {StatusRepairPending, StatusSavedException},
	StatusRuntimeError:    {StatusRepairPending, StatusSavedException},
	StatusTimeout:         {StatusRepairPending, StatusSavedException},
	StatusSuccess:         {StatusMutationPending, StatusSavedHarness},
	StatusRepairPending:   {StatusGenerated, StatusSavedException},
	StatusMutationPending: {StatusSavedHarness},
}

// CanTransition reports whether a lineage may move from one status to another.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusBudgetExhausted {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionError is returned when a status change is not in the table.
type TransitionError struct {
	Lineage LineageID
	From    Status
	To      Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("lineage %s: invalid transition %s -> %s", e.Lineage, e.From, e.To)
}
