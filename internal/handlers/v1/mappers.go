package v1

import (
	"github.com/trendboard/opportunity-planner/internal/service"
	"github.com/trendboard/opportunity-planner/internal/store/model"
)

func BoardToApi(view *service.BoardView) Board {
	board := Board{
		State:         string(view.State),
		JobID:         view.JobID,
		BoardID:       view.BoardID,
		GeneratedAt:   view.GeneratedAt,
		Opportunities: make([]Opportunity, 0, len(view.Opportunities)),
		Meta: BoardMeta{
			CacheHit:          view.Meta.CacheHit,
			Degraded:          view.Meta.Degraded,
			Reason:            optional(view.Meta.Reason),
			Remediation:       optional(view.Meta.Remediation),
			EvidenceShortfall: view.Meta.EvidenceShortfall,
		},
	}

	for _, o := range view.Opportunities {
		opportunity := Opportunity{
			ID:              o.ID,
			Title:           o.Title,
			Angle:           o.Angle,
			Rationale:       o.Rationale,
			Type:            o.Type,
			Channel:         o.Channel,
			Score:           o.Score,
			ScoreBand:       string(o.ScoreBand),
			EvidenceIDs:     o.EvidenceIDs,
			EvidencePreview: make([]EvidencePreview, 0, len(o.EvidencePreview)),
		}
		if opportunity.EvidenceIDs == nil {
			opportunity.EvidenceIDs = []string{}
		}
		for _, p := range o.EvidencePreview {
			opportunity.EvidencePreview = append(opportunity.EvidencePreview, EvidencePreview{
				ID:          p.ID,
				Platform:    p.Platform,
				URL:         p.URL,
				Author:      p.Author,
				Excerpt:     p.Excerpt,
				PublishedAt: p.PublishedAt,
			})
		}
		board.Opportunities = append(board.Opportunities, opportunity)
	}
	return board
}

func JobToApi(job *model.Job) Job {
	return Job{
		ID:          job.ID,
		SubjectID:   job.SubjectID,
		Status:      string(job.Status),
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		Forced:      job.Forced,
		AvailableAt: job.AvailableAt,
		BoardID:     job.BoardID,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
