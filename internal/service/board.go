package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/trendboard/opportunity-planner/internal/cache"
	"github.com/trendboard/opportunity-planner/internal/evidence"
	"github.com/trendboard/opportunity-planner/internal/queue"
	"github.com/trendboard/opportunity-planner/internal/store"
	"github.com/trendboard/opportunity-planner/internal/store/model"
	"github.com/trendboard/opportunity-planner/pkg/metrics"
	"go.uber.org/zap"
)

const (
	ReasonGenerating      = "generation_in_progress"
	ReasonFailed          = "generation_failed"
	ReasonInsufficient    = "insufficient_evidence"
	ReasonNotGeneratedYet = "not_generated_yet"
)

type RegenerateResult struct {
	JobID   uuid.UUID
	Created bool
}

// BoardService answers status reads and accepts regeneration requests. Reads
// never run the pipeline; the only write a read can cause is the first
// automatic enqueue of a subject.
type BoardService struct {
	store              store.Store
	queue              *queue.Queue
	provider           evidence.Provider
	cache              *cache.TTLCache[BoardView]
	autoEnqueueMinimum int
}

func NewBoardService(s store.Store, q *queue.Queue, provider evidence.Provider, c *cache.TTLCache[BoardView], autoEnqueueMinimum int) *BoardService {
	return &BoardService{
		store:              s,
		queue:              q,
		provider:           provider,
		cache:              c,
		autoEnqueueMinimum: autoEnqueueMinimum,
	}
}

func (s *BoardService) GetBoard(ctx context.Context, subjectID string) (*BoardView, error) {
	if err := validateSubjectID(subjectID); err != nil {
		return nil, err
	}

	if view, found := s.cache.Get(subjectID); found {
		current, err := s.isCurrent(ctx, view)
		if err != nil {
			return nil, err
		}
		if current {
			view.Meta.CacheHit = true
			metrics.IncreaseBoardReads(string(view.State), true)
			return &view, nil
		}
		s.cache.Invalidate(subjectID)
	}

	view, err := s.resolve(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	metrics.IncreaseBoardReads(string(view.State), false)
	return view, nil
}

func (s *BoardService) resolve(ctx context.Context, subjectID string) (*BoardView, error) {
	current, err := s.latestBoard(ctx, store.NewBoardQueryFilter().BySubjectID(subjectID))
	if err != nil {
		return nil, err
	}

	if current != nil && current.State == model.BoardStateReady {
		view, err := s.render(ctx, current)
		if err != nil {
			return nil, err
		}
		s.cache.Set(subjectID, *view)
		return view, nil
	}

	active, err := s.queue.Active(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return s.generating(ctx, subjectID, active.ID)
	}

	latestJob, err := s.queue.Latest(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	if (latestJob != nil && latestJob.Status == model.JobStatusFailed) || (current != nil && current.State == model.BoardStateError) {
		return s.failed(ctx, subjectID, latestJob)
	}

	if current != nil && current.State == model.BoardStateInsufficientEvidence {
		view, err := s.render(ctx, current)
		if err != nil {
			return nil, err
		}
		view.Meta.Reason = ReasonInsufficient
		view.Meta.Remediation = insufficientRemediation(current.Shortfall())
		return view, nil
	}

	if current == nil && latestJob == nil {
		count, err := s.provider.Count(ctx, subjectID)
		if err != nil {
			return nil, err
		}
		if s.autoEnqueueMinimum > 0 && count >= int64(s.autoEnqueueMinimum) {
			jobID, created, err := s.queue.Enqueue(ctx, subjectID, false)
			if err != nil {
				return nil, err
			}
			if created {
				zap.S().Named("board_service").Infow("auto-enqueued first generation", "subject_id", subjectID, "job_id", jobID, "evidence_count", count)
			}
			return s.generating(ctx, subjectID, jobID)
		}
	}

	return &BoardView{
		SubjectID:     subjectID,
		State:         model.BoardStateNotGeneratedYet,
		Opportunities: []OpportunityView{},
		Meta: Meta{
			Reason:      ReasonNotGeneratedYet,
			Remediation: fmt.Sprintf("No board has been generated yet. Connect evidence sources so at least %d items are available, then request a regeneration.", s.autoEnqueueMinimum),
		},
	}, nil
}

func (s *BoardService) generating(ctx context.Context, subjectID string, jobID uuid.UUID) (*BoardView, error) {
	view, err := s.withFallback(ctx, subjectID, model.BoardStateGenerating)
	if err != nil {
		return nil, err
	}
	view.JobID = &jobID
	view.Meta.Reason = ReasonGenerating
	view.Meta.Remediation = "A board is being generated. Poll this endpoint again shortly."
	return view, nil
}

func (s *BoardService) failed(ctx context.Context, subjectID string, job *model.Job) (*BoardView, error) {
	view, err := s.withFallback(ctx, subjectID, model.BoardStateError)
	if err != nil {
		return nil, err
	}
	if job != nil {
		jobID := job.ID
		view.JobID = &jobID
	}
	view.Meta.Reason = ReasonFailed
	view.Meta.Remediation = "The last generation failed. Request a regeneration; if it keeps failing, check that evidence sources are reachable."
	return view, nil
}

// withFallback renders the latest ready board, if any, under a non-ready state.
func (s *BoardService) withFallback(ctx context.Context, subjectID string, state model.BoardState) (*BoardView, error) {
	fallback, err := s.latestBoard(ctx, store.NewBoardQueryFilter().BySubjectID(subjectID).ByState(model.BoardStateReady))
	if err != nil {
		return nil, err
	}
	if fallback == nil {
		return &BoardView{SubjectID: subjectID, State: state, Opportunities: []OpportunityView{}}, nil
	}

	view, err := s.render(ctx, fallback)
	if err != nil {
		return nil, err
	}
	view.State = state
	view.JobID = nil
	view.Meta.Degraded = true
	return view, nil
}

// Regenerate drops the cached view and enqueues a forced job. It never waits
// for the job.
func (s *BoardService) Regenerate(ctx context.Context, subjectID string) (*RegenerateResult, error) {
	if err := validateSubjectID(subjectID); err != nil {
		return nil, err
	}

	s.cache.Invalidate(subjectID)

	jobID, created, err := s.queue.Enqueue(ctx, subjectID, true)
	if err != nil {
		return nil, err
	}
	zap.S().Named("board_service").Infow("regeneration accepted", "subject_id", subjectID, "job_id", jobID, "created", created)
	return &RegenerateResult{JobID: jobID, Created: created}, nil
}

// Publish refreshes the cache with a freshly persisted board. Only ready
// boards are cached.
func (s *BoardService) Publish(ctx context.Context, board *model.Board) error {
	if board.State != model.BoardStateReady {
		s.cache.Invalidate(board.SubjectID)
		return nil
	}
	view, err := s.render(ctx, board)
	if err != nil {
		return err
	}
	s.cache.Set(board.SubjectID, *view)
	return nil
}

// isCurrent reports whether a cached view still shows the subject's latest
// board. Boards written by other processes never reach this cache.
func (s *BoardService) isCurrent(ctx context.Context, view BoardView) (bool, error) {
	if view.BoardID == nil {
		return false, nil
	}
	latestID, err := s.store.Board().LatestID(ctx, view.SubjectID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return latestID == *view.BoardID, nil
}

func (s *BoardService) render(ctx context.Context, board *model.Board) (*BoardView, error) {
	ids := make([]string, 0)
	for _, o := range board.Opportunities {
		ids = append(ids, o.EvidenceIDs...)
	}

	items := make(map[string]model.EvidenceItem)
	if len(ids) > 0 {
		list, err := s.store.Evidence().List(ctx, store.NewEvidenceQueryFilter().BySubjectID(board.SubjectID).ByIDs(ids), nil)
		if err != nil {
			return nil, err
		}
		for _, item := range list {
			items[item.ID] = item
		}
	}

	view := newBoardView(board, items)
	return &view, nil
}

func (s *BoardService) latestBoard(ctx context.Context, filter *store.BoardQueryFilter) (*model.Board, error) {
	board, err := s.store.Board().Latest(ctx, filter)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return board, nil
}

func insufficientRemediation(shortfall *model.EvidenceShortfall) string {
	if shortfall == nil || len(shortfall.Violations) == 0 {
		return "Not enough usable evidence. Add evidence sources, then request a regeneration."
	}
	messages := make([]string, 0, len(shortfall.Violations))
	for _, v := range shortfall.Violations {
		messages = append(messages, v.Message)
	}
	return "Not enough usable evidence: " + strings.Join(messages, "; ") + ". Add evidence, then request a regeneration."
}

func validateSubjectID(subjectID string) error {
	if strings.TrimSpace(subjectID) == "" {
		return NewErrInvalidSubject(subjectID, "empty")
	}
	if runes := []rune(subjectID); len(runes) > 255 {
		return NewErrInvalidSubject(string(runes[:32])+"...", "longer than 255 characters")
	}
	return nil
}
