package worker_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/trendboard/opportunity-planner/internal/cache"
	"github.com/trendboard/opportunity-planner/internal/config"
	"github.com/trendboard/opportunity-planner/internal/evidence"
	"github.com/trendboard/opportunity-planner/internal/evidence/evidencetest"
	"github.com/trendboard/opportunity-planner/internal/pipeline"
	"github.com/trendboard/opportunity-planner/internal/queue"
	"github.com/trendboard/opportunity-planner/internal/scorer"
	"github.com/trendboard/opportunity-planner/internal/service"
	"github.com/trendboard/opportunity-planner/internal/store"
	"github.com/trendboard/opportunity-planner/internal/store/model"
	"github.com/trendboard/opportunity-planner/internal/synthesizer"
	"github.com/trendboard/opportunity-planner/internal/validation"
	"github.com/trendboard/opportunity-planner/internal/worker"
)

type recordingArchiver struct {
	boards []*model.Board
}

func (r *recordingArchiver) Archive(_ context.Context, board *model.Board) error {
	r.boards = append(r.boards, board)
	return nil
}

var _ = Describe("pool", Ordered, func() {
	var (
		s        store.Store
		cfg      *config.Config
		q        *queue.Queue
		boards   *service.BoardService
		archiver *recordingArchiver
		now      time.Time
		synth    synthesizer.Synthesizer
		ctx      = context.TODO()
	)

	newPool := func() *worker.Pool {
		v, err := validation.NewValidator(cfg.Validation)
		Expect(err).To(BeNil())
		executor := worker.NewExecutor(cfg, evidence.NewStoreProvider(s), synth, v, scorer.NewHeuristicScorer(nil, cfg.Scoring.StrongThreshold)).
			WithClock(func() time.Time { return now })
		return worker.NewPool(cfg.Worker, s, q, executor, boards).WithArchiver(archiver)
	}

	BeforeAll(func() {
		s = store.NewStore(newTestDB())
	})

	AfterAll(func() {
		s.Close()
	})

	BeforeEach(func() {
		cfg = newTestConfig()
		now = time.Now().UTC()
		q = queue.NewQueue(s, queue.RetryPolicy{MaxAttempts: 2, InitialBackoff: time.Minute, MaxBackoff: time.Hour}).
			WithClock(func() time.Time { return now })
		boards = service.NewBoardService(s, q, evidence.NewStoreProvider(s), cache.NewTTLCache[service.BoardView](time.Minute, "v1"), 8)
		archiver = &recordingArchiver{}
		synth = fixedCandidates(func(items model.EvidenceList) []pipeline.Candidate {
			return []pipeline.Candidate{
				candidate("c01", "The $9 coffee markup trend", items[0].ID),
				candidate("c02", "The $9 coffee markup breakdown", items[0].ID, items[1].ID, items[2].ID),
				candidate("c03", "Home espresso machines replace cafe visits", items[7].ID),
			}
		})
	})

	It("generates a ready board and serves it from cache", func() {
		subject := "subject-ready"
		_, err := s.Evidence().Import(ctx, evidencetest.Bundle(subject, 10, 8, now))
		Expect(err).To(BeNil())

		jobID, _, err := q.Enqueue(ctx, subject, false)
		Expect(err).To(BeNil())

		processed, err := newPool().Drain(ctx, "worker-1")
		Expect(err).To(BeNil())
		Expect(processed).To(Equal(1))

		job, err := q.Get(ctx, jobID)
		Expect(err).To(BeNil())
		Expect(job.Status).To(Equal(model.JobStatusSucceeded))
		Expect(job.BoardID).NotTo(BeNil())
		Expect(job.LockedBy).To(BeNil())

		view, err := boards.GetBoard(ctx, subject)
		Expect(err).To(BeNil())
		Expect(view.State).To(Equal(model.BoardStateReady))
		Expect(view.Meta.CacheHit).To(BeTrue())
		Expect(*view.BoardID).To(Equal(*job.BoardID))
		Expect(view.Opportunities).To(HaveLen(2))
		titles := []string{view.Opportunities[0].Title, view.Opportunities[1].Title}
		Expect(titles).To(ContainElement("The $9 coffee markup breakdown"))
		Expect(titles).NotTo(ContainElement("The $9 coffee markup trend"))
		for _, o := range view.Opportunities {
			Expect(o.EvidencePreview).To(HaveLen(len(o.EvidenceIDs)))
		}

		Expect(archiver.boards).To(HaveLen(1))
	})

	It("records an insufficient evidence board for a thin bundle", func() {
		subject := "subject-thin"
		_, err := s.Evidence().Import(ctx, evidencetest.Bundle(subject, 3, 3, now))
		Expect(err).To(BeNil())

		jobID, _, err := q.Enqueue(ctx, subject, true)
		Expect(err).To(BeNil())

		_, err = newPool().Drain(ctx, "worker-1")
		Expect(err).To(BeNil())

		job, err := q.Get(ctx, jobID)
		Expect(err).To(BeNil())
		Expect(job.Status).To(Equal(model.JobStatusInsufficientEvidence))

		view, err := boards.GetBoard(ctx, subject)
		Expect(err).To(BeNil())
		Expect(view.State).To(Equal(model.BoardStateInsufficientEvidence))
		Expect(view.Meta.EvidenceShortfall.FoundItems).To(Equal(3))
		Expect(view.Meta.EvidenceShortfall.RequiredItems).To(Equal(8))
	})

	It("retries transient failures and ends in an error board", func() {
		subject := "subject-flaky"
		_, err := s.Evidence().Import(ctx, evidencetest.Bundle(subject, 10, 8, now))
		Expect(err).To(BeNil())
		calls := 0
		synth = synthesizerFunc(func(context.Context, synthesizer.Request) (synthesizer.Result, error) {
			calls++
			return synthesizer.Result{}, pipeline.NewTransientIOError("synthesis", errors.New("upstream 529"))
		})
		pool := newPool()

		jobID, _, err := q.Enqueue(ctx, subject, false)
		Expect(err).To(BeNil())

		_, err = pool.Drain(ctx, "worker-1")
		Expect(err).To(BeNil())
		job, err := q.Get(ctx, jobID)
		Expect(err).To(BeNil())
		Expect(job.Status).To(Equal(model.JobStatusPending))
		Expect(job.AvailableAt).To(BeTemporally("~", now.Add(time.Minute), time.Second))

		view, err := boards.GetBoard(ctx, subject)
		Expect(err).To(BeNil())
		Expect(view.State).To(Equal(model.BoardStateGenerating))

		now = now.Add(2 * time.Minute)
		_, err = pool.Drain(ctx, "worker-1")
		Expect(err).To(BeNil())
		Expect(calls).To(Equal(2))

		job, err = q.Get(ctx, jobID)
		Expect(err).To(BeNil())
		Expect(job.Status).To(Equal(model.JobStatusFailed))
		Expect(*job.LastError).To(ContainSubstring("upstream 529"))

		view, err = boards.GetBoard(ctx, subject)
		Expect(err).To(BeNil())
		Expect(view.State).To(Equal(model.BoardStateError))
		Expect(view.Meta.Remediation).NotTo(BeEmpty())
		Expect(view.Meta.Remediation).NotTo(ContainSubstring("upstream"))

		errorBoard, err := s.Board().Latest(ctx, store.NewBoardQueryFilter().BySubjectID(subject))
		Expect(err).To(BeNil())
		Expect(errorBoard.State).To(Equal(model.BoardStateError))
		Expect(errorBoard.Diagnostic().Step).To(Equal(worker.StepSynthesis))
	})

	It("drops the result of a job reclaimed by the sweep", func() {
		subject := "subject-reclaimed"
		_, err := s.Evidence().Import(ctx, evidencetest.Bundle(subject, 10, 8, now))
		Expect(err).To(BeNil())

		jobID, _, err := q.Enqueue(ctx, subject, false)
		Expect(err).To(BeNil())
		job, err := q.ClaimNext(ctx, "worker-1")
		Expect(err).To(BeNil())
		Expect(job.ID).To(Equal(jobID))

		now = now.Add(time.Hour)
		recovered, err := q.Sweep(ctx, 10*time.Minute, nil)
		Expect(err).To(BeNil())
		Expect(recovered).To(Equal(1))

		Expect(newPool().Process(ctx, job)).To(Succeed())

		_, err = s.Board().Latest(ctx, store.NewBoardQueryFilter().BySubjectID(subject))
		Expect(errors.Is(err, store.ErrRecordNotFound)).To(BeTrue())
		Expect(archiver.boards).To(BeEmpty())
	})

	It("reports an error with the prior board when the sweep exhausts a regeneration", func() {
		subject := "subject-abandoned"
		_, err := s.Evidence().Import(ctx, evidencetest.Bundle(subject, 10, 8, now))
		Expect(err).To(BeNil())
		pool := newPool()

		_, _, err = q.Enqueue(ctx, subject, false)
		Expect(err).To(BeNil())
		_, err = pool.Drain(ctx, "worker-1")
		Expect(err).To(BeNil())
		ready, err := boards.GetBoard(ctx, subject)
		Expect(err).To(BeNil())
		Expect(ready.State).To(Equal(model.BoardStateReady))

		result, err := boards.Regenerate(ctx, subject)
		Expect(err).To(BeNil())

		for attempt := 1; attempt <= q.Policy().MaxAttempts; attempt++ {
			now = now.Add(2 * time.Minute)
			job, err := q.ClaimNext(ctx, "worker-dead")
			Expect(err).To(BeNil())
			Expect(job).NotTo(BeNil())
			Expect(job.ID).To(Equal(result.JobID))

			now = now.Add(time.Hour)
			recovered, err := pool.Sweep(ctx)
			Expect(err).To(BeNil())
			Expect(recovered).To(Equal(1))
		}

		job, err := q.Get(ctx, result.JobID)
		Expect(err).To(BeNil())
		Expect(job.Status).To(Equal(model.JobStatusFailed))

		errorBoard, err := s.Board().Latest(ctx, store.NewBoardQueryFilter().BySubjectID(subject))
		Expect(err).To(BeNil())
		Expect(errorBoard.State).To(Equal(model.BoardStateError))
		Expect(*errorBoard.JobID).To(Equal(result.JobID))
		Expect(errorBoard.Diagnostic().Step).To(Equal(worker.StepLease))

		view, err := boards.GetBoard(ctx, subject)
		Expect(err).To(BeNil())
		Expect(view.State).To(Equal(model.BoardStateError))
		Expect(view.Meta.CacheHit).To(BeFalse())
		Expect(view.Meta.Degraded).To(BeTrue())
		Expect(*view.BoardID).To(Equal(*ready.BoardID))
		Expect(view.Opportunities).To(HaveLen(len(ready.Opportunities)))
		Expect(archiver.boards).To(HaveLen(2))
	})

	It("stops polling when the context ends", func() {
		cfg.Worker.PollInterval = 20 * time.Millisecond
		cfg.Worker.SweepInterval = 20 * time.Millisecond
		runCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		defer cancel()

		Expect(newPool().Run(runCtx)).To(Succeed())
	})
})
