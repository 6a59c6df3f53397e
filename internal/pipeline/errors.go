package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/trendboard/opportunity-planner/internal/store/model"
)

var ErrEvidenceInsufficient = errors.New("insufficient evidence")

// EvidenceInsufficientError is terminal: the job ends with an
// insufficient_evidence board and is not retried.
type EvidenceInsufficientError struct {
	Shortfall *model.EvidenceShortfall
}

func NewEvidenceInsufficientError(shortfall *model.EvidenceShortfall) *EvidenceInsufficientError {
	return &EvidenceInsufficientError{Shortfall: shortfall}
}

func (e *EvidenceInsufficientError) Error() string {
	if e.Shortfall == nil {
		return ErrEvidenceInsufficient.Error()
	}
	return fmt.Sprintf("%s: %s gate reported %d violation(s)", ErrEvidenceInsufficient, e.Shortfall.Gate, len(e.Shortfall.Violations))
}

func (e *EvidenceInsufficientError) Is(target error) bool {
	return target == ErrEvidenceInsufficient
}

// TransientIOError wraps a collaborator failure or timeout. Always retryable.
type TransientIOError struct {
	error
	Step string
}

func NewTransientIOError(step string, err error) *TransientIOError {
	return &TransientIOError{error: fmt.Errorf("%s: %w", step, err), Step: step}
}

func (e *TransientIOError) Unwrap() error {
	return e.error
}

// BudgetExceededError aborts a step. Time budgets are retryable, size caps are not.
type BudgetExceededError struct {
	Step      string
	Budget    string
	Limit     string
	Retryable bool
}

func NewTimeBudgetExceededError(step string, limit time.Duration) *BudgetExceededError {
	return &BudgetExceededError{Step: step, Budget: "time", Limit: limit.String(), Retryable: true}
}

func NewSizeBudgetExceededError(step string, limit int) *BudgetExceededError {
	return &BudgetExceededError{Step: step, Budget: "size", Limit: fmt.Sprintf("%d", limit)}
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("%s exceeded its %s budget of %s", e.Step, e.Budget, e.Limit)
}

// IsRetryable reports whether err should send the job back to the queue.
func IsRetryable(err error) bool {
	var transient *TransientIOError
	if errors.As(err, &transient) {
		return true
	}
	var budget *BudgetExceededError
	if errors.As(err, &budget) {
		return budget.Retryable
	}
	return false
}
