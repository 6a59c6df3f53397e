package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/trendboard/opportunity-planner/internal/store"
	"github.com/trendboard/opportunity-planner/internal/store/model"
	"github.com/trendboard/opportunity-planner/pkg/metrics"
	"go.uber.org/zap"
)

const (
	claimBatchSize = 16
)

var (
	// ErrJobNotRunning is returned when a worker finishes a job it no longer holds,
	// typically because the sweep reclaimed it.
	ErrJobNotRunning = errors.New("job is not running")
	// ErrLeaseExpired is recorded on jobs recovered by Sweep.
	ErrLeaseExpired = errors.New("lease expired")
)

// ExhaustedFunc is called by Sweep inside the transaction that moves job to
// failed. An error rolls the status change back. The returned func, if any,
// runs after the commit.
type ExhaustedFunc func(txCtx context.Context, job model.Job) (func(), error)

// Queue is the durable job queue. All state lives in the jobs table so any
// number of API and worker processes can share it.
type Queue struct {
	store  store.Store
	policy RetryPolicy
	now    func() time.Time
}

func NewQueue(s store.Store, policy RetryPolicy) *Queue {
	return &Queue{
		store:  s,
		policy: policy,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source. Used by tests.
func (q *Queue) WithClock(now func() time.Time) *Queue {
	q.now = func() time.Time { return now().UTC() }
	return q
}

func (q *Queue) Policy() RetryPolicy {
	return q.policy
}

// Enqueue returns the id of the subject's active job when force is false and
// one exists. Otherwise it creates a pending job. created is false when an
// existing job was returned.
func (q *Queue) Enqueue(ctx context.Context, subjectID string, force bool) (uuid.UUID, bool, error) {
	logger := zap.S().Named("queue")

	if !force {
		active, err := q.Active(ctx, subjectID)
		if err != nil {
			return uuid.Nil, false, err
		}
		if active != nil {
			return active.ID, false, nil
		}
	}

	now := q.now()
	job, err := q.store.Job().Create(ctx, model.Job{
		ID:          uuid.New(),
		SubjectID:   subjectID,
		Status:      model.JobStatusPending,
		Forced:      force,
		MaxAttempts: q.policy.MaxAttempts,
		AvailableAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateKey) && !force {
			// lost the race against a concurrent non-forced enqueue
			active, aerr := q.Active(ctx, subjectID)
			if aerr != nil {
				return uuid.Nil, false, aerr
			}
			if active != nil {
				return active.ID, false, nil
			}
		}
		return uuid.Nil, false, fmt.Errorf("enqueue job for subject %s: %w", subjectID, err)
	}

	logger.Infow("job enqueued", "job_id", job.ID, "subject_id", subjectID, "forced", force)
	return job.ID, true, nil
}

// ClaimNext claims the oldest claimable job for workerID. It returns nil when
// there is nothing to do.
func (q *Queue) ClaimNext(ctx context.Context, workerID string) (*model.Job, error) {
	now := q.now()
	candidates, err := q.store.Job().ListClaimable(ctx, now, claimBatchSize)
	if err != nil {
		return nil, err
	}

	for _, candidate := range candidates {
		won, err := q.store.Job().Claim(ctx, candidate.ID, workerID, now)
		if err != nil {
			return nil, err
		}
		if !won {
			continue
		}
		job, err := q.store.Job().Get(ctx, candidate.ID)
		if err != nil {
			return nil, err
		}
		metrics.IncreaseJobsClaimed()
		zap.S().Named("queue").Debugw("job claimed", "job_id", job.ID, "subject_id", job.SubjectID, "worker", workerID, "attempt", job.Attempts)
		return job, nil
	}

	return nil, nil
}

// Complete records the terminal board of a running job and releases its lock.
func (q *Queue) Complete(ctx context.Context, jobID, boardID uuid.UUID, status model.JobStatus) error {
	if status != model.JobStatusSucceeded && status != model.JobStatusInsufficientEvidence {
		return fmt.Errorf("job %s cannot complete with status %s", jobID, status)
	}

	ok, err := q.store.Job().Transition(ctx, jobID, model.JobStatusRunning, store.JobTransition{
		Status:    status,
		BoardID:   &boardID,
		ClearLock: true,
		Now:       q.now(),
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrJobNotRunning
	}
	metrics.IncreaseJobsFinished(string(status))
	return nil
}

// Fail releases a running job. A retryable failure with attempts left puts
// the job back to pending after the policy backoff; anything else is terminal.
// The resulting status is returned.
func (q *Queue) Fail(ctx context.Context, jobID uuid.UUID, cause error, retryable bool) (model.JobStatus, error) {
	job, err := q.store.Job().Get(ctx, jobID)
	if err != nil {
		return "", err
	}

	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}

	now := q.now()
	t := store.JobTransition{
		Status:    model.JobStatusFailed,
		LastError: &msg,
		ClearLock: true,
		Now:       now,
	}
	if retryable && q.policy.CanRetry(job.Attempts, job.MaxAttempts) {
		availableAt := now.Add(q.policy.Backoff(job.Attempts))
		t.Status = model.JobStatusPending
		t.AvailableAt = &availableAt
	}

	ok, err := q.store.Job().Transition(ctx, jobID, model.JobStatusRunning, t)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrJobNotRunning
	}

	zap.S().Named("queue").Infow("job failed", "job_id", jobID, "subject_id", job.SubjectID, "attempts", job.Attempts, "next_status", t.Status, "error", msg)
	metrics.IncreaseJobsFinished(string(t.Status))
	return t.Status, nil
}

// Sweep recovers running jobs whose lock is older than lease. Jobs with
// attempts left go back to pending; the others fail and onExhausted, when set,
// records their terminal result in the same transaction. It returns the number
// of jobs it moved.
func (q *Queue) Sweep(ctx context.Context, lease time.Duration, onExhausted ExhaustedFunc) (int, error) {
	now := q.now()
	expired, err := q.store.Job().List(ctx,
		store.NewJobQueryFilter().ByStatus(model.JobStatusRunning).LockedBefore(now.Add(-lease)),
		store.NewQueryOptions().WithOrder("locked_at ASC"))
	if err != nil {
		return 0, err
	}

	logger := zap.S().Named("queue")
	recovered := 0
	for _, job := range expired {
		status, err := q.recover(ctx, job, now, onExhausted)
		if errors.Is(err, ErrJobNotRunning) {
			continue
		}
		if errors.Is(err, store.ErrDuplicateKey) {
			logger.Warnw("stale job conflicts with another queued job, left for the next sweep", "job_id", job.ID, "subject_id", job.SubjectID)
			continue
		}
		if err != nil {
			return recovered, err
		}

		recovered++
		metrics.IncreaseJobsRecovered(string(status))
		logger.Warnw("stale job recovered", "job_id", job.ID, "subject_id", job.SubjectID, "locked_by", job.LockedBy, "next_status", status)
	}

	return recovered, nil
}

func (q *Queue) recover(ctx context.Context, job model.Job, now time.Time, onExhausted ExhaustedFunc) (model.JobStatus, error) {
	msg := ErrLeaseExpired.Error()
	t := store.JobTransition{
		Status:    model.JobStatusFailed,
		LastError: &msg,
		ClearLock: true,
		Now:       now,
	}
	if q.policy.CanRetry(job.Attempts, job.MaxAttempts) {
		availableAt := now.Add(q.policy.Backoff(job.Attempts))
		t.Status = model.JobStatusPending
		t.AvailableAt = &availableAt
	}

	var committed func()
	err := store.WithTransaction(ctx, q.store, func(txCtx context.Context) error {
		ok, err := q.store.Job().Transition(txCtx, job.ID, model.JobStatusRunning, t)
		if err != nil {
			return err
		}
		if !ok {
			return ErrJobNotRunning
		}
		if t.Status != model.JobStatusFailed || onExhausted == nil {
			return nil
		}
		job.Status = t.Status
		job.LastError = &msg
		committed, err = onExhausted(txCtx, job)
		return err
	})
	if err != nil {
		return "", err
	}

	if committed != nil {
		committed()
	}
	return t.Status, nil
}

// Active returns the latest pending or running job of the subject, or nil.
func (q *Queue) Active(ctx context.Context, subjectID string) (*model.Job, error) {
	return q.latest(ctx, store.NewJobQueryFilter().BySubjectID(subjectID).ByStatus(model.JobStatusPending, model.JobStatusRunning))
}

// Latest returns the latest job of the subject in any status, or nil.
func (q *Queue) Latest(ctx context.Context, subjectID string) (*model.Job, error) {
	return q.latest(ctx, store.NewJobQueryFilter().BySubjectID(subjectID))
}

func (q *Queue) Get(ctx context.Context, jobID uuid.UUID) (*model.Job, error) {
	return q.store.Job().Get(ctx, jobID)
}

func (q *Queue) latest(ctx context.Context, filter *store.JobQueryFilter) (*model.Job, error) {
	jobs, err := q.store.Job().List(ctx, filter, store.NewQueryOptions().WithOrder("created_at DESC").WithLimit(1))
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return &jobs[0], nil
}
