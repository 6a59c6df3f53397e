package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// EvidenceItem is a normalized unit of externally sourced content about a subject.
// Rows are owned by the evidence provider and never updated by the planner.
type EvidenceItem struct {
	ID            string            `gorm:"primaryKey;column:id;type:VARCHAR(255)"`
	SubjectID     string            `gorm:"not null;index:evidence_subject_published_idx"`
	Platform      string            `gorm:"not null;type:VARCHAR(64)"`
	ContentType   string            `gorm:"type:VARCHAR(64)"`
	AuthorRef     string            `gorm:"type:VARCHAR(255)"`
	CanonicalURL  string            `gorm:"column:canonical_url;type:TEXT"`
	TextPrimary   string            `gorm:"type:TEXT"`
	TextSecondary *string           `gorm:"type:TEXT"`
	PublishedAt   *time.Time        `gorm:"index:evidence_subject_published_idx"`
	Metrics       datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt     time.Time         `gorm:"not null"`
}

func (EvidenceItem) TableName() string {
	return "evidence_items"
}

type EvidenceList []EvidenceItem

func (e EvidenceList) IDs() []string {
	ids := make([]string, 0, len(e))
	for _, item := range e {
		ids = append(ids, item.ID)
	}
	return ids
}

func (e EvidenceItem) String() string {
	val, _ := json.Marshal(e)
	return string(val)
}
