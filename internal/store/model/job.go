package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

// Job status constants
const (
	JobStatusPending              JobStatus = "pending"
	JobStatusRunning              JobStatus = "running"
	JobStatusSucceeded            JobStatus = "succeeded"
	JobStatusFailed               JobStatus = "failed"
	JobStatusInsufficientEvidence JobStatus = "insufficient_evidence"
)

// IsActive reports whether the job still has work ahead of it.
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// Job is one durable, lockable generation attempt for a subject.
type Job struct {
	ID          uuid.UUID  `gorm:"primaryKey;column:id;type:VARCHAR(255)"`
	SubjectID   string     `gorm:"not null;index:jobs_subject_created_idx"`
	Status      JobStatus  `gorm:"not null;type:VARCHAR(32);index"`
	Forced      bool       `gorm:"not null;default:false"`
	LockedAt    *time.Time
	LockedBy    *string    `gorm:"type:VARCHAR(255)"`
	Attempts    int        `gorm:"not null;default:0"`
	MaxAttempts int        `gorm:"not null"`
	AvailableAt time.Time  `gorm:"not null"`
	LastError   *string    `gorm:"type:TEXT"`
	BoardID     *uuid.UUID `gorm:"type:VARCHAR(255)"`
	CreatedAt   time.Time  `gorm:"not null;index:jobs_subject_created_idx"`
	UpdatedAt   time.Time  `gorm:"not null"`
}

type JobList []Job

func (j Job) String() string {
	val, _ := json.Marshal(j)
	return string(val)
}
