package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"github.com/trendboard/opportunity-planner/internal/config"
	"github.com/trendboard/opportunity-planner/internal/pipeline"
	"github.com/trendboard/opportunity-planner/internal/queue"
	"github.com/trendboard/opportunity-planner/internal/store"
	"github.com/trendboard/opportunity-planner/internal/store/model"
	"github.com/trendboard/opportunity-planner/pkg/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Publisher is told about every persisted board, e.g. to refresh a cache.
type Publisher interface {
	Publish(ctx context.Context, board *model.Board) error
}

// Archiver keeps a copy of every terminal board outside the database.
type Archiver interface {
	Archive(ctx context.Context, board *model.Board) error
}

type Pool struct {
	cfg       *config.WorkerConfig
	store     store.Store
	queue     *queue.Queue
	executor  *Executor
	publisher Publisher
	archiver  Archiver
	name      string
}

func NewPool(cfg *config.WorkerConfig, s store.Store, q *queue.Queue, executor *Executor, publisher Publisher) *Pool {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "worker"
	}
	return &Pool{
		cfg:       cfg,
		store:     s,
		queue:     q,
		executor:  executor,
		publisher: publisher,
		name:      fmt.Sprintf("%s-%d", hostname, os.Getpid()),
	}
}

func (p *Pool) WithArchiver(archiver Archiver) *Pool {
	p.archiver = archiver
	return p
}

// Run starts the pollers and the sweeper and blocks until ctx is done.
func (p *Pool) Run(ctx context.Context) error {
	concurrency := p.cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	zap.S().Named("worker").Infow("starting worker pool", "name", p.name, "concurrency", concurrency, "poll_interval", p.cfg.PollInterval)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		workerID := fmt.Sprintf("%s/%d", p.name, i)
		g.Go(func() error {
			p.poll(ctx, workerID)
			return nil
		})
	}
	g.Go(func() error {
		p.sweep(ctx)
		return nil
	})
	return g.Wait()
}

func (p *Pool) poll(ctx context.Context, workerID string) {
	ticker := jitterbug.New(p.cfg.PollInterval, &jitterbug.Norm{Stdev: 30 * time.Millisecond, Mean: 0})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.Drain(ctx, workerID); err != nil && ctx.Err() == nil {
				zap.S().Named("worker").Errorw("failed to process jobs", "worker_id", workerID, "error", err)
			}
		}
	}
}

func (p *Pool) sweep(ctx context.Context) {
	ticker := jitterbug.New(p.cfg.SweepInterval, &jitterbug.Norm{Stdev: 30 * time.Millisecond, Mean: 0})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.Sweep(ctx); err != nil && ctx.Err() == nil {
				zap.S().Named("worker").Errorw("failed to sweep stale jobs", "error", err)
			}
		}
	}
}

// Sweep recovers jobs whose worker stopped holding them. A job swept past its
// last attempt ends like any other exhausted job: with an error board written
// alongside its failed status.
func (p *Pool) Sweep(ctx context.Context) (int, error) {
	return p.queue.Sweep(ctx, p.cfg.LeaseDuration, func(txCtx context.Context, job model.Job) (func(), error) {
		outcome := pipeline.FailedWith(StepLease, queue.ErrLeaseExpired)
		board, err := p.store.Board().Create(txCtx, *p.executor.ErrorBoard(&job, outcome))
		if err != nil {
			return nil, err
		}
		return func() { p.published(ctx, board) }, nil
	})
}

// Drain claims and processes jobs until none is claimable. It returns the
// number of jobs processed.
func (p *Pool) Drain(ctx context.Context, workerID string) (int, error) {
	processed := 0
	for ctx.Err() == nil {
		job, err := p.queue.ClaimNext(ctx, workerID)
		if err != nil {
			return processed, err
		}
		if job == nil {
			return processed, nil
		}
		if err := p.Process(ctx, job); err != nil {
			zap.S().Named("worker").Errorw("failed to record job result", "job_id", job.ID, "error", err)
		}
		processed++
	}
	return processed, nil
}

// Process executes a claimed job and records its result.
func (p *Pool) Process(ctx context.Context, job *model.Job) error {
	logger := zap.S().Named("worker").With("job_id", job.ID, "subject_id", job.SubjectID, "attempt", job.Attempts)
	logger.Infow("processing job")

	outcome := p.executor.Execute(ctx, job)
	switch outcome.Kind {
	case pipeline.Succeeded:
		return p.finish(ctx, job, outcome.Board, model.JobStatusSucceeded)
	case pipeline.Insufficient:
		logger.Infow("job ended without enough evidence", "reason", outcome.Err)
		return p.finish(ctx, job, outcome.Board, model.JobStatusInsufficientEvidence)
	default:
		logger.Warnw("job attempt failed", "step", outcome.Step, "retryable", outcome.Retryable, "error", outcome.Err)
		return p.fail(ctx, job, outcome)
	}
}

// finish persists the board and completes the job in one transaction so a
// job swept away mid-run never leaves a board behind.
func (p *Pool) finish(ctx context.Context, job *model.Job, board *model.Board, status model.JobStatus) error {
	var created *model.Board
	err := store.WithTransaction(ctx, p.store, func(txCtx context.Context) (err error) {
		created, err = p.store.Board().Create(txCtx, *board)
		if err != nil {
			return err
		}
		return p.queue.Complete(txCtx, job.ID, created.ID, status)
	})
	if errors.Is(err, queue.ErrJobNotRunning) {
		zap.S().Named("worker").Warnw("job was reclaimed before completion, result dropped", "job_id", job.ID)
		return nil
	}
	if err != nil {
		return err
	}

	p.published(ctx, created)
	return nil
}

func (p *Pool) fail(ctx context.Context, job *model.Job, outcome pipeline.Outcome) error {
	var board *model.Board
	err := store.WithTransaction(ctx, p.store, func(txCtx context.Context) error {
		status, err := p.queue.Fail(txCtx, job.ID, outcome.Err, outcome.Retryable)
		if err != nil {
			return err
		}
		if status != model.JobStatusFailed {
			return nil
		}
		board, err = p.store.Board().Create(txCtx, *p.executor.ErrorBoard(job, outcome))
		return err
	})
	if errors.Is(err, queue.ErrJobNotRunning) {
		return nil
	}
	if err != nil {
		return err
	}

	if board != nil {
		p.published(ctx, board)
	}
	return nil
}

func (p *Pool) published(ctx context.Context, board *model.Board) {
	metrics.IncreaseBoardsPersisted(string(board.State))
	if p.publisher != nil {
		if err := p.publisher.Publish(ctx, board); err != nil {
			zap.S().Named("worker").Warnw("failed to publish board", "board_id", board.ID, "error", err)
		}
	}
	if p.archiver != nil {
		if err := p.archiver.Archive(ctx, board); err != nil {
			zap.S().Named("worker").Warnw("failed to archive board", "board_id", board.ID, "error", err)
		}
	}
}
