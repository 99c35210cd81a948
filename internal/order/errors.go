package order

import "fmt"

// Rejection reasons returned as values, not errors: they are expected
// control-flow outcomes of the dedup layer.
const (
	ReasonDebounced        = "debounced"
	ReasonDuplicateOrder   = "duplicate_of_fillable"
	ReasonAlreadyTerminal  = "already_terminal"
	ReasonNotFillable      = "not_fillable"
	ReasonSubmissionFailed = "submission_failed"
)

// InvalidTransitionError reports an attempted illegal state transition.
type InvalidTransitionError struct {
	ClientID string
	From     State
	To       State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %s: illegal transition %s -> %s", e.ClientID, e.From, e.To)
}

// SubmissionError wraps an exchange rejection or network failure during
// submission. The order has already been moved to FAILED when this is
// returned.
type SubmissionError struct {
	ClientID string
	Symbol   string
	Err      error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit %s (%s): %v", e.ClientID, e.Symbol, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }
