package pipeline

import "github.com/trendboard/opportunity-planner/internal/store/model"

// Candidate is a generated opportunity travelling through validation,
// scoring and deduplication. ID is unique within one run.
type Candidate struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Angle       string   `json:"angle"`
	Rationale   string   `json:"rationale"`
	Type        string   `json:"type"`
	Channel     string   `json:"channel"`
	EvidenceIDs []string `json:"evidence_ids"`

	Score            int             `json:"score"`
	Band             model.ScoreBand `json:"score_band"`
	Explanation      string          `json:"score_explanation"`
	RejectionReasons []string        `json:"rejection_reasons,omitempty"`
}

// SubjectContext is the snapshot of subject profile data handed to the
// synthesizer and the scorer. Produced by onboarding, read-only here.
type SubjectContext struct {
	SubjectID string   `json:"subject_id"`
	Name      string   `json:"name,omitempty"`
	Niche     string   `json:"niche,omitempty"`
	Audience  string   `json:"audience,omitempty"`
	Channels  []string `json:"channels,omitempty"`
	// BlockedChannels are channels the subject never publishes on.
	BlockedChannels []string `json:"blocked_channels,omitempty"`
}

func (c Candidate) Opportunity() model.Opportunity {
	status := model.ValidationStatusValid
	if len(c.RejectionReasons) > 0 {
		status = model.ValidationStatusRejected
	}
	return model.Opportunity{
		Title:            c.Title,
		Angle:            c.Angle,
		Rationale:        c.Rationale,
		Type:             c.Type,
		PrimaryChannel:   c.Channel,
		EvidenceIDs:      append([]string{}, c.EvidenceIDs...),
		Score:            c.Score,
		ScoreBand:        c.Band,
		ScoreExplanation: c.Explanation,
		ValidationStatus: status,
		RejectionReasons: append([]string{}, c.RejectionReasons...),
	}
}
