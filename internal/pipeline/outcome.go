package pipeline

import "github.com/trendboard/opportunity-planner/internal/store/model"

type OutcomeKind int

const (
	Succeeded OutcomeKind = iota
	Insufficient
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case Succeeded:
		return "succeeded"
	case Insufficient:
		return "insufficient"
	default:
		return "failed"
	}
}

// Outcome is the result of executing one job. Board is set for Succeeded and
// Insufficient; Err for Insufficient and Failed; Retryable only for Failed.
type Outcome struct {
	Kind      OutcomeKind
	Board     *model.Board
	Err       error
	Retryable bool
	Step      string
}

func SucceededWith(board *model.Board) Outcome {
	return Outcome{Kind: Succeeded, Board: board}
}

func InsufficientWith(board *model.Board) Outcome {
	return Outcome{Kind: Insufficient, Board: board, Err: NewEvidenceInsufficientError(board.Shortfall())}
}

func FailedWith(step string, err error) Outcome {
	return Outcome{Kind: Failed, Err: err, Retryable: IsRetryable(err), Step: step}
}
