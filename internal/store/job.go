package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/trendboard/opportunity-planner/internal/store/model"
	"gorm.io/gorm"
)

// Job persists generation jobs. Every state change is a conditional update
// on the current status so concurrent workers can never both win.
type Job interface {
	Create(ctx context.Context, job model.Job) (*model.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Job, error)
	List(ctx context.Context, filter *JobQueryFilter, opts *QueryOptions) (model.JobList, error)
	ListClaimable(ctx context.Context, now time.Time, limit int) (model.JobList, error)
	Claim(ctx context.Context, id uuid.UUID, workerID string, now time.Time) (bool, error)
	Transition(ctx context.Context, id uuid.UUID, from model.JobStatus, t JobTransition) (bool, error)
}

// JobTransition describes the columns written when a job leaves its current status.
type JobTransition struct {
	Status      model.JobStatus
	AvailableAt *time.Time
	LastError   *string
	BoardID     *uuid.UUID
	ClearLock   bool
	Now         time.Time
}

type JobStore struct {
	db *gorm.DB
}

// Make sure we conform to Job interface
var _ Job = (*JobStore)(nil)

func NewJobStore(db *gorm.DB) Job {
	return &JobStore{db: db}
}

func (s *JobStore) Create(ctx context.Context, job model.Job) (*model.Job, error) {
	if err := getDB(ctx, s.db).Create(&job).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("creating job: %w", err)
	}
	return &job, nil
}

func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	var job model.Job
	if err := getDB(ctx, s.db).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying job: %w", err)
	}
	return &job, nil
}

func (s *JobStore) List(ctx context.Context, filter *JobQueryFilter, opts *QueryOptions) (model.JobList, error) {
	var jobs model.JobList
	tx := getDB(ctx, s.db).Model(&jobs)
	if filter != nil {
		tx = apply(tx, filter.QueryFn)
	}
	if opts != nil {
		tx = apply(tx, opts.QueryFn)
	}
	if err := tx.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	return jobs, nil
}

// ListClaimable returns pending jobs whose backoff has elapsed and whose
// subject has no running job, oldest first.
func (s *JobStore) ListClaimable(ctx context.Context, now time.Time, limit int) (model.JobList, error) {
	var jobs model.JobList
	running := s.db.Model(&model.Job{}).Select("subject_id").Where("status = ?", model.JobStatusRunning)
	err := getDB(ctx, s.db).
		Where("status = ? AND available_at <= ?", model.JobStatusPending, now).
		Where("subject_id NOT IN (?)", running).
		Order("available_at ASC, created_at ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("listing claimable jobs: %w", err)
	}
	return jobs, nil
}

// Claim moves a pending job to running for workerID. It returns false when
// another worker changed the row first or already runs a job of the same subject.
func (s *JobStore) Claim(ctx context.Context, id uuid.UUID, workerID string, now time.Time) (bool, error) {
	result := getDB(ctx, s.db).Model(&model.Job{}).
		Where("id = ? AND status = ?", id, model.JobStatusPending).
		Updates(map[string]any{
			"status":     model.JobStatusRunning,
			"locked_by":  workerID,
			"locked_at":  now,
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": now,
		})
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return false, nil
		}
		return false, fmt.Errorf("claiming job: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// Transition moves a job out of status from. It returns false when the job is
// no longer in that status, and ErrDuplicateKey when the target status would
// break a per-subject uniqueness rule.
func (s *JobStore) Transition(ctx context.Context, id uuid.UUID, from model.JobStatus, t JobTransition) (bool, error) {
	updates := map[string]any{
		"status":     t.Status,
		"updated_at": t.Now,
	}
	if t.AvailableAt != nil {
		updates["available_at"] = *t.AvailableAt
	}
	if t.LastError != nil {
		updates["last_error"] = *t.LastError
	}
	if t.BoardID != nil {
		updates["board_id"] = *t.BoardID
	}
	if t.ClearLock {
		updates["locked_at"] = nil
		updates["locked_by"] = nil
	}

	result := getDB(ctx, s.db).Model(&model.Job{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return false, ErrDuplicateKey
		}
		return false, fmt.Errorf("updating job %s: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}
