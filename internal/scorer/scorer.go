package scorer

import (
	"context"
	"time"

	"github.com/trendboard/opportunity-planner/internal/pipeline"
	"github.com/trendboard/opportunity-planner/internal/store/model"
)

// Request carries validated candidates plus the run bundle used for the
// freshness signal. Temperature and Seed are honoured by model-backed scorers.
type Request struct {
	Candidates  []pipeline.Candidate
	Evidence    model.EvidenceList
	Subject     pipeline.SubjectContext
	Temperature float64
	Seed        *int64
	Now         time.Time
}

type Score struct {
	CandidateID      string
	Score            int
	Band             model.ScoreBand
	Explanation      string
	PolicyViolations []string
}

type Scorer interface {
	Score(ctx context.Context, req Request) ([]Score, error)
}

// Band maps a score to its band. Zero and below is invalid.
func Band(score, strongThreshold int) model.ScoreBand {
	switch {
	case score <= 0:
		return model.ScoreBandInvalid
	case score < strongThreshold:
		return model.ScoreBandWeak
	default:
		return model.ScoreBandStrong
	}
}

// Apply copies scores onto the matching candidates. Candidates without a
// score are returned as invalid.
func Apply(candidates []pipeline.Candidate, scores []Score) []pipeline.Candidate {
	byID := make(map[string]Score, len(scores))
	for _, s := range scores {
		byID[s.CandidateID] = s
	}

	out := make([]pipeline.Candidate, 0, len(candidates))
	for _, c := range candidates {
		s, ok := byID[c.ID]
		if !ok {
			c.Score, c.Band, c.Explanation = 0, model.ScoreBandInvalid, "not scored"
		} else {
			c.Score, c.Band, c.Explanation = s.Score, s.Band, s.Explanation
		}
		out = append(out, c)
	}
	return out
}
