package v1

import (
	"net/http"
	"time"

	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/trendboard/opportunity-planner/internal/store/model"
)

type Board struct {
	State         string        `json:"state"`
	JobID         *uuid.UUID    `json:"job_id,omitempty"`
	BoardID       *uuid.UUID    `json:"board_id,omitempty"`
	GeneratedAt   *time.Time    `json:"generated_at,omitempty"`
	Opportunities []Opportunity `json:"opportunities"`
	Meta          BoardMeta     `json:"meta"`
}

type BoardMeta struct {
	CacheHit          bool                     `json:"cache_hit"`
	Degraded          bool                     `json:"degraded"`
	Reason            *string                  `json:"reason,omitempty"`
	Remediation       *string                  `json:"remediation,omitempty"`
	EvidenceShortfall *model.EvidenceShortfall `json:"evidence_shortfall,omitempty"`
}

type Opportunity struct {
	ID              uuid.UUID         `json:"id"`
	Title           string            `json:"title"`
	Angle           string            `json:"angle"`
	Rationale       string            `json:"rationale"`
	Type            string            `json:"type"`
	Channel         string            `json:"channel"`
	Score           int               `json:"score"`
	ScoreBand       string            `json:"score_band"`
	EvidenceIDs     []string          `json:"evidence_ids"`
	EvidencePreview []EvidencePreview `json:"evidence_preview"`
}

type EvidencePreview struct {
	ID          string     `json:"id"`
	Platform    string     `json:"platform"`
	URL         *string    `json:"url"`
	Author      *string    `json:"author"`
	Excerpt     *string    `json:"excerpt"`
	PublishedAt *time.Time `json:"published_at"`
}

type Accepted struct {
	Status        string    `json:"status"`
	JobID         uuid.UUID `json:"job_id"`
	PollReference string    `json:"poll_reference"`
}

type Job struct {
	ID          uuid.UUID  `json:"id"`
	SubjectID   string     `json:"subject_id"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	Forced      bool       `json:"forced"`
	AvailableAt time.Time  `json:"available_at"`
	BoardID     *uuid.UUID `json:"board_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type Health struct {
	Status string `json:"status"`
}

type Error struct {
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
	status    int
}

func (b Board) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, http.StatusOK)
	return nil
}

func (a Accepted) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, http.StatusAccepted)
	return nil
}

func (j Job) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, http.StatusOK)
	return nil
}

func (h Health) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, http.StatusOK)
	return nil
}

func (e Error) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.status)
	return nil
}
