package engine

import (
	"errors"
	"fmt"
)

// Sentinel causes wrapped by RuntimeError. Match with errors.Is.
var (
	// ErrQueueFull is returned by Submit when the validation queue is at capacity.
	ErrQueueFull = errors.New("validation queue is full")

	// ErrEngineStopped is returned once the engine no longer accepts work.
	ErrEngineStopped = errors.New("engine stopped")
)

// RuntimeError represents an error surfaced by the engine or its callers.
//
// Runtime errors include:
//   - Parse errors: target metadata could not be extracted
//   - Generation unavailable: the collaborator failed after all retries
//   - Budget exhausted: a run ended with lineages still open
//   - Queue full / engine stopped: a submission was refused
//   - Invalid transition: a lineage status change broke the state machine
//
// Per-candidate failures (compile errors, crashes, timeouts, sandbox
// violations) are results, not RuntimeErrors.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Lineage identifies the affected lineage, if any.
	Lineage string

	// Candidate identifies the affected candidate, if any.
	Candidate string

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeParse indicates target metadata extraction failed.
	ErrCodeParse RuntimeErrorCode = "PARSE_ERROR"

	// ErrCodeGenerationUnavailable indicates the generation collaborator
	// failed after exhausting its retries.
	ErrCodeGenerationUnavailable RuntimeErrorCode = "GENERATION_UNAVAILABLE"

	// ErrCodeBudgetExhausted indicates a budget ran out.
	ErrCodeBudgetExhausted RuntimeErrorCode = "BUDGET_EXHAUSTED"

	// ErrCodeSandboxViolation indicates a candidate attempted a forbidden operation.
	ErrCodeSandboxViolation RuntimeErrorCode = "SANDBOX_VIOLATION"

	// ErrCodeQueueFull indicates the validation queue refused a submission.
	ErrCodeQueueFull RuntimeErrorCode = "QUEUE_FULL"

	// ErrCodeEngineStopped indicates the engine no longer accepts work.
	ErrCodeEngineStopped RuntimeErrorCode = "ENGINE_STOPPED"

	// ErrCodeInvalidTransition indicates an illegal lineage status change.
	ErrCodeInvalidTransition RuntimeErrorCode = "INVALID_TRANSITION"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.Lineage != "" && e.Candidate != "":
		msg = fmt.Sprintf("%s (lineage=%s, candidate=%s)", msg, e.Lineage, e.Candidate)
	case e.Lineage != "":
		msg = fmt.Sprintf("%s (lineage=%s)", msg, e.Lineage)
	case e.Candidate != "":
		msg = fmt.Sprintf("%s (candidate=%s)", msg, e.Candidate)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// CodeOf returns the RuntimeErrorCode carried by err, or "" if none.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) RuntimeErrorCode {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsQueueFull returns true if err reports a full validation queue.
func IsQueueFull(err error) bool {
	return CodeOf(err) == ErrCodeQueueFull || errors.Is(err, ErrQueueFull)
}

// IsEngineStopped returns true if err reports a stopped engine.
func IsEngineStopped(err error) bool {
	return CodeOf(err) == ErrCodeEngineStopped || errors.Is(err, ErrEngineStopped)
}

// IsBudgetError returns true if the error is a budget exhaustion error.
// Matches both RuntimeError with ErrCodeBudgetExhausted and BudgetExceededError.
func IsBudgetError(err error) bool {
	if CodeOf(err) == ErrCodeBudgetExhausted {
		return true
	}
	var be *BudgetExceededError
	return errors.As(err, &be)
}

// IsGenerationUnavailable returns true if err reports an unreachable collaborator.
func IsGenerationUnavailable(err error) bool {
	return CodeOf(err) == ErrCodeGenerationUnavailable
}

// NewParseError wraps a metadata extraction failure.
func NewParseError(err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeParse,
		Message: "target metadata could not be extracted",
		Err:     err,
	}
}

// NewGenerationError wraps a collaborator failure for the given operation.
func NewGenerationError(op string, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeGenerationUnavailable,
		Message: fmt.Sprintf("generation %s failed", op),
		Err:     err,
		Details: map[string]string{"op": op},
	}
}

// NewBudgetError reports a run that ended with open lineages exhausted.
func NewBudgetError(exhausted int, cause string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeBudgetExhausted,
		Message: fmt.Sprintf("%d lineages exhausted before terminating", exhausted),
		Details: map[string]string{
			"exhausted": fmt.Sprintf("%d", exhausted),
			"cause":     cause,
		},
	}
}

func newQueueFullError(candidate string, capacity int) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeQueueFull,
		Message:   fmt.Sprintf("queue at capacity %d", capacity),
		Candidate: candidate,
		Err:       ErrQueueFull,
	}
}

func newStoppedError(candidate string) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeEngineStopped,
		Message:   "engine no longer accepts work",
		Candidate: candidate,
		Err:       ErrEngineStopped,
	}
}
