package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type ScoreBand string

const (
	ScoreBandInvalid ScoreBand = "invalid"
	ScoreBandWeak    ScoreBand = "weak"
	ScoreBandStrong  ScoreBand = "strong"
)

type ValidationStatus string

const (
	ValidationStatusValid    ValidationStatus = "valid"
	ValidationStatusRejected ValidationStatus = "rejected"
)

// Opportunity is a validated, scored candidate persisted with its board.
// Rows are never updated; a regeneration writes new rows.
type Opportunity struct {
	ID               uuid.UUID                   `gorm:"primaryKey;column:id;type:VARCHAR(255)"`
	BoardID          uuid.UUID                   `gorm:"not null;type:VARCHAR(255);index"`
	SubjectID        string                      `gorm:"not null"`
	Position         int                         `gorm:"not null"`
	Title            string                      `gorm:"not null;type:TEXT"`
	Angle            string                      `gorm:"not null;type:TEXT"`
	Rationale        string                      `gorm:"not null;type:TEXT"`
	Type             string                      `gorm:"type:VARCHAR(64)"`
	PrimaryChannel   string                      `gorm:"type:VARCHAR(64)"`
	EvidenceIDs      datatypes.JSONSlice[string] `gorm:"column:evidence_ids;type:jsonb;not null"`
	Score            int                         `gorm:"not null"`
	ScoreBand        ScoreBand                   `gorm:"not null;type:VARCHAR(16)"`
	ScoreExplanation string                      `gorm:"type:TEXT"`
	ValidationStatus ValidationStatus            `gorm:"not null;type:VARCHAR(16)"`
	RejectionReasons datatypes.JSONSlice[string] `gorm:"type:jsonb;not null"`
	CreatedAt        time.Time                   `gorm:"not null"`
}
