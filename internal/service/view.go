package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/trendboard/opportunity-planner/internal/store/model"
)

const excerptLength = 160

// BoardView is what a status read returns. Ready views are cached as is.
type BoardView struct {
	SubjectID     string
	State         model.BoardState
	JobID         *uuid.UUID
	BoardID       *uuid.UUID
	GeneratedAt   *time.Time
	Opportunities []OpportunityView
	Meta          Meta
}

type Meta struct {
	CacheHit          bool
	Degraded          bool
	Reason            string
	Remediation       string
	EvidenceShortfall *model.EvidenceShortfall
}

type OpportunityView struct {
	ID              uuid.UUID
	Title           string
	Angle           string
	Rationale       string
	Type            string
	Channel         string
	Score           int
	ScoreBand       model.ScoreBand
	EvidenceIDs     []string
	EvidencePreview []EvidencePreview
}

// EvidencePreview is a short rendering of one cited evidence item. Every
// field but ID and Platform is optional.
type EvidencePreview struct {
	ID          string
	Platform    string
	URL         *string
	Author      *string
	Excerpt     *string
	PublishedAt *time.Time
}

func newBoardView(board *model.Board, evidence map[string]model.EvidenceItem) BoardView {
	boardID := board.ID
	createdAt := board.CreatedAt
	view := BoardView{
		SubjectID:     board.SubjectID,
		State:         board.State,
		JobID:         board.JobID,
		BoardID:       &boardID,
		GeneratedAt:   &createdAt,
		Opportunities: renderOpportunities(board.Opportunities, evidence),
		Meta: Meta{
			Degraded:          board.Degraded,
			EvidenceShortfall: board.Shortfall(),
		},
	}
	return view
}

func renderOpportunities(opportunities []model.Opportunity, evidence map[string]model.EvidenceItem) []OpportunityView {
	views := make([]OpportunityView, 0, len(opportunities))
	for _, o := range opportunities {
		if o.ValidationStatus != model.ValidationStatusValid {
			continue
		}
		view := OpportunityView{
			ID:              o.ID,
			Title:           o.Title,
			Angle:           o.Angle,
			Rationale:       o.Rationale,
			Type:            o.Type,
			Channel:         o.PrimaryChannel,
			Score:           o.Score,
			ScoreBand:       o.ScoreBand,
			EvidenceIDs:     append([]string{}, o.EvidenceIDs...),
			EvidencePreview: make([]EvidencePreview, 0, len(o.EvidenceIDs)),
		}
		for _, id := range o.EvidenceIDs {
			item, found := evidence[id]
			if !found {
				continue
			}
			view.EvidencePreview = append(view.EvidencePreview, newEvidencePreview(item))
		}
		views = append(views, view)
	}
	return views
}

func newEvidencePreview(item model.EvidenceItem) EvidencePreview {
	preview := EvidencePreview{
		ID:          item.ID,
		Platform:    item.Platform,
		URL:         optional(item.CanonicalURL),
		Author:      optional(item.AuthorRef),
		PublishedAt: item.PublishedAt,
	}
	text := item.TextPrimary
	if text == "" && item.TextSecondary != nil {
		text = *item.TextSecondary
	}
	preview.Excerpt = optional(excerpt(text, excerptLength))
	return preview
}

func excerpt(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "…"
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
