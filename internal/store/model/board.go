package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type BoardState string

const (
	BoardStateNotGeneratedYet      BoardState = "not_generated_yet"
	BoardStateGenerating           BoardState = "generating"
	BoardStateReady                BoardState = "ready"
	BoardStateInsufficientEvidence BoardState = "insufficient_evidence"
	BoardStateError                BoardState = "error"
)

// Shortfall is one violated evidence threshold.
type Shortfall struct {
	Code     string  `json:"code"`
	Found    float64 `json:"found"`
	Required float64 `json:"required"`
	Message  string  `json:"message"`
}

// EvidenceShortfall is the structured explanation attached to an
// insufficient_evidence board.
type EvidenceShortfall struct {
	Gate          string      `json:"gate"`
	FoundItems    int         `json:"found_items"`
	RequiredItems int         `json:"required_items"`
	Violations    []Shortfall `json:"violations"`
}

// Diagnostics records what happened to the candidates of a run.
type Diagnostics struct {
	EvidenceCount      int               `json:"evidence_count"`
	SkippedMalformed   int               `json:"skipped_malformed"`
	CandidatesProposed int               `json:"candidates_proposed"`
	CandidatesRejected int               `json:"candidates_rejected"`
	RejectionReasons   map[string]int    `json:"rejection_reasons,omitempty"`
	HighRejectionRate  bool              `json:"high_rejection_rate"`
	Duplicates         map[string]string `json:"duplicates,omitempty"`
	PolicyViolations   int               `json:"policy_violations"`
	Error              string            `json:"error,omitempty"`
	Step               string            `json:"step,omitempty"`
}

// Board is the persisted result of one generation run. Boards are append-only.
type Board struct {
	ID                uuid.UUID                      `gorm:"primaryKey;column:id;type:VARCHAR(255)"`
	SubjectID         string                         `gorm:"not null;index:boards_subject_created_idx"`
	JobID             *uuid.UUID                     `gorm:"type:VARCHAR(255)"`
	State             BoardState                     `gorm:"not null;type:VARCHAR(32)"`
	OpportunityIDs    datatypes.JSONSlice[string]    `gorm:"column:opportunity_ids;type:jsonb;not null"`
	EvidenceShortfall *JSONField[*EvidenceShortfall] `gorm:"type:jsonb"`
	Diagnostics       *JSONField[*Diagnostics]       `gorm:"type:jsonb"`
	Degraded          bool                           `gorm:"not null;default:false"`
	CreatedAt         time.Time                      `gorm:"not null;index:boards_subject_created_idx"`
	Opportunities     []Opportunity                  `gorm:"foreignKey:BoardID;references:ID"`
}

// Shortfall returns the decoded shortfall or nil.
func (b Board) Shortfall() *EvidenceShortfall {
	if b.EvidenceShortfall == nil {
		return nil
	}
	return b.EvidenceShortfall.Data
}

func (b Board) Diagnostic() *Diagnostics {
	if b.Diagnostics == nil {
		return nil
	}
	return b.Diagnostics.Data
}

func (b Board) String() string {
	val, _ := json.Marshal(b)
	return string(val)
}
