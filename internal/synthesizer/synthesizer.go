package synthesizer

import (
	"context"

	"github.com/trendboard/opportunity-planner/internal/pipeline"
	"github.com/trendboard/opportunity-planner/internal/store/model"
)

// Request is everything a synthesizer may look at. Candidates must only cite
// ids of Evidence; the validator enforces it.
type Request struct {
	Evidence        model.EvidenceList
	Subject         pipeline.SubjectContext
	Count           int
	Temperature     float64
	Seed            *int64
	MaxOutputTokens int
	MaxOutputBytes  int
}

type Result struct {
	Candidates       []pipeline.Candidate
	SkippedMalformed int
}

// Synthesizer proposes raw candidates from evidence. Callers bound the call
// with a deadline.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (Result, error)
}
