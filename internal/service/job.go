package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/trendboard/opportunity-planner/internal/queue"
	"github.com/trendboard/opportunity-planner/internal/store"
	"github.com/trendboard/opportunity-planner/internal/store/model"
	"go.uber.org/zap"
)

type JobService struct {
	queue *queue.Queue
}

func NewJobService(q *queue.Queue) *JobService {
	return &JobService{queue: q}
}

func (s *JobService) GetJob(ctx context.Context, jobID uuid.UUID) (*model.Job, error) {
	job, err := s.queue.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobNotFound(jobID)
		}
		zap.S().Named("job_service").Errorw("failed to get job", "job_id", jobID, "error", err)
		return nil, err
	}
	return job, nil
}
