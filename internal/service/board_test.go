package service_test

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/trendboard/opportunity-planner/internal/cache"
	"github.com/trendboard/opportunity-planner/internal/evidence"
	"github.com/trendboard/opportunity-planner/internal/evidence/evidencetest"
	"github.com/trendboard/opportunity-planner/internal/queue"
	"github.com/trendboard/opportunity-planner/internal/service"
	"github.com/trendboard/opportunity-planner/internal/store"
	"github.com/trendboard/opportunity-planner/internal/store/model"
	"gorm.io/gorm"
)

var _ = Describe("board service", Ordered, func() {
	var (
		s      store.Store
		gormDB *gorm.DB
		q      *queue.Queue
		c      *cache.TTLCache[service.BoardView]
		srv    *service.BoardService
		ctx    = context.TODO()
		now    = time.Now().UTC()
	)

	BeforeAll(func() {
		gormDB = newTestDB()
		s = store.NewStore(gormDB)
		q = queue.NewQueue(s, queue.RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Second, MaxBackoff: time.Minute})
	})

	AfterAll(func() {
		s.Close()
	})

	BeforeEach(func() {
		c = cache.NewTTLCache[service.BoardView](time.Minute, "v1")
		srv = service.NewBoardService(s, q, evidence.NewStoreProvider(s), c, 8)
	})

	countJobs := func(subjectID string) int {
		jobs, err := s.Job().List(ctx, store.NewJobQueryFilter().BySubjectID(subjectID), nil)
		Expect(err).To(BeNil())
		return len(jobs)
	}

	readyBoard := func(subjectID string, createdAt time.Time, evidenceIDs ...string) *model.Board {
		board, err := s.Board().Create(ctx, model.Board{
			SubjectID: subjectID,
			State:     model.BoardStateReady,
			CreatedAt: createdAt,
			Opportunities: []model.Opportunity{
				{
					Title:            "Price breakdown of the $9 coffee",
					Angle:            "Walk through the cost of one cup line by line",
					Rationale:        "Several creators question the price this week",
					Type:             "explainer",
					PrimaryChannel:   "tiktok",
					EvidenceIDs:      evidenceIDs,
					Score:            82,
					ScoreBand:        model.ScoreBandStrong,
					ValidationStatus: model.ValidationStatusValid,
					CreatedAt:        createdAt,
				},
			},
		})
		Expect(err).To(BeNil())
		return board
	}

	createJob := func(subjectID string, status model.JobStatus, createdAt time.Time) *model.Job {
		job, err := s.Job().Create(ctx, model.Job{
			ID:          uuid.New(),
			SubjectID:   subjectID,
			Status:      status,
			MaxAttempts: 3,
			Attempts:    3,
			AvailableAt: createdAt,
			CreatedAt:   createdAt,
			UpdatedAt:   createdAt,
		})
		Expect(err).To(BeNil())
		return job
	}

	Context("subject without board or job", func() {
		It("auto-enqueues exactly one job when enough evidence exists", func() {
			subject := "subject-auto"
			_, err := s.Evidence().Import(ctx, evidencetest.Bundle(subject, 10, 8, now))
			Expect(err).To(BeNil())

			first, err := srv.GetBoard(ctx, subject)
			Expect(err).To(BeNil())
			Expect(first.State).To(Equal(model.BoardStateGenerating))
			Expect(first.JobID).NotTo(BeNil())
			Expect(first.Meta.Remediation).NotTo(BeEmpty())

			second, err := srv.GetBoard(ctx, subject)
			Expect(err).To(BeNil())
			Expect(second.State).To(Equal(model.BoardStateGenerating))
			Expect(*second.JobID).To(Equal(*first.JobID))
			Expect(countJobs(subject)).To(Equal(1))
		})

		It("returns not_generated_yet below the auto-enqueue minimum", func() {
			subject := "subject-sparse"
			_, err := s.Evidence().Import(ctx, evidencetest.Bundle(subject, 3, 3, now))
			Expect(err).To(BeNil())

			view, err := srv.GetBoard(ctx, subject)
			Expect(err).To(BeNil())
			Expect(view.State).To(Equal(model.BoardStateNotGeneratedYet))
			Expect(view.JobID).To(BeNil())
			Expect(view.Opportunities).To(BeEmpty())
			Expect(view.Meta.Reason).To(Equal(service.ReasonNotGeneratedYet))
			Expect(view.Meta.Remediation).To(ContainSubstring("8 items"))
			Expect(countJobs(subject)).To(BeZero())
		})

		It("rejects an empty subject", func() {
			_, err := srv.GetBoard(ctx, "  ")
			Expect(err).NotTo(BeNil())
			_, ok := err.(*service.ErrInvalidSubject)
			Expect(ok).To(BeTrue())
		})

		It("measures subject length in characters and keeps the error text valid UTF-8", func() {
			_, err := srv.GetBoard(ctx, strings.Repeat("日", 300))
			Expect(err).NotTo(BeNil())
			Expect(utf8.ValidString(err.Error())).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring(strings.Repeat("日", 32) + "..."))

			view, err := srv.GetBoard(ctx, strings.Repeat("日", 200))
			Expect(err).To(BeNil())
			Expect(view.State).To(Equal(model.BoardStateNotGeneratedYet))
		})
	})

	Context("ready board", func() {
		It("returns the persisted board, then serves it from cache", func() {
			subject := "subject-ready"
			items := evidencetest.Bundle(subject, 10, 8, now)
			_, err := s.Evidence().Import(ctx, items)
			Expect(err).To(BeNil())
			board := readyBoard(subject, now, items[0].ID, items[1].ID)

			first, err := srv.GetBoard(ctx, subject)
			Expect(err).To(BeNil())
			Expect(first.State).To(Equal(model.BoardStateReady))
			Expect(first.Meta.CacheHit).To(BeFalse())
			Expect(*first.BoardID).To(Equal(board.ID))
			Expect(first.Opportunities).To(HaveLen(1))
			Expect(first.Opportunities[0].EvidencePreview).To(HaveLen(2))
			Expect(first.Opportunities[0].EvidencePreview[0].URL).NotTo(BeNil())

			second, err := srv.GetBoard(ctx, subject)
			Expect(err).To(BeNil())
			Expect(second.Meta.CacheHit).To(BeTrue())
			Expect(second.State).To(Equal(first.State))
			Expect(second.Opportunities).To(Equal(first.Opportunities))
			Expect(countJobs(subject)).To(BeZero())
		})

		It("keeps serving the same board on repeated reads without cache", func() {
			subject := "subject-idempotent"
			readyBoard(subject, now, "subject-idempotent-ev-00")

			noCache := service.NewBoardService(s, q, evidence.NewStoreProvider(s), cache.NewTTLCache[service.BoardView](0, "v1"), 8)
			first, err := noCache.GetBoard(ctx, subject)
			Expect(err).To(BeNil())
			for i := 0; i < 3; i++ {
				again, err := noCache.GetBoard(ctx, subject)
				Expect(err).To(BeNil())
				Expect(again).To(Equal(first))
			}
		})
	})

	Context("generation in progress", func() {
		It("returns generating with the previous board as a degraded fallback", func() {
			subject := "subject-regenerating"
			old := readyBoard(subject, now.Add(-time.Hour))
			_, err := s.Board().Create(ctx, model.Board{
				SubjectID: subject,
				State:     model.BoardStateInsufficientEvidence,
				CreatedAt: now.Add(-time.Minute),
			})
			Expect(err).To(BeNil())
			job := createJob(subject, model.JobStatusPending, now)

			view, err := srv.GetBoard(ctx, subject)
			Expect(err).To(BeNil())
			Expect(view.State).To(Equal(model.BoardStateGenerating))
			Expect(*view.JobID).To(Equal(job.ID))
			Expect(*view.BoardID).To(Equal(old.ID))
			Expect(view.Meta.Degraded).To(BeTrue())
			Expect(view.Opportunities).To(HaveLen(1))
		})
	})

	Context("failed generation", func() {
		It("returns error with remediation and the last ready board", func() {
			subject := "subject-failed"
			old := readyBoard(subject, now.Add(-2*time.Hour))
			_, err := s.Board().Create(ctx, model.Board{
				SubjectID: subject,
				State:     model.BoardStateError,
				CreatedAt: now.Add(-time.Minute),
			})
			Expect(err).To(BeNil())
			job := createJob(subject, model.JobStatusFailed, now.Add(-time.Hour))

			view, err := srv.GetBoard(ctx, subject)
			Expect(err).To(BeNil())
			Expect(view.State).To(Equal(model.BoardStateError))
			Expect(*view.JobID).To(Equal(job.ID))
			Expect(*view.BoardID).To(Equal(old.ID))
			Expect(view.Meta.Degraded).To(BeTrue())
			Expect(view.Meta.Reason).To(Equal(service.ReasonFailed))
			Expect(view.Meta.Remediation).NotTo(BeEmpty())
		})

		It("returns error without fallback when nothing was ever ready", func() {
			subject := "subject-failed-first"
			createJob(subject, model.JobStatusFailed, now)

			view, err := srv.GetBoard(ctx, subject)
			Expect(err).To(BeNil())
			Expect(view.State).To(Equal(model.BoardStateError))
			Expect(view.BoardID).To(BeNil())
			Expect(view.Opportunities).To(BeEmpty())
			Expect(view.Meta.Degraded).To(BeFalse())
		})
	})

	Context("insufficient evidence", func() {
		It("returns the shortfall and does not enqueue", func() {
			subject := "subject-insufficient"
			createJob(subject, model.JobStatusInsufficientEvidence, now)
			_, err := s.Board().Create(ctx, model.Board{
				SubjectID: subject,
				State:     model.BoardStateInsufficientEvidence,
				CreatedAt: now,
				EvidenceShortfall: model.MakeJSONField(&model.EvidenceShortfall{
					Gate:          "quality",
					FoundItems:    3,
					RequiredItems: 8,
					Violations: []model.Shortfall{
						{Code: "min_items", Found: 3, Required: 8, Message: "found 3 evidence items, at least 8 are required"},
					},
				}),
			})
			Expect(err).To(BeNil())

			view, err := srv.GetBoard(ctx, subject)
			Expect(err).To(BeNil())
			Expect(view.State).To(Equal(model.BoardStateInsufficientEvidence))
			Expect(view.Meta.EvidenceShortfall).NotTo(BeNil())
			Expect(view.Meta.EvidenceShortfall.FoundItems).To(Equal(3))
			Expect(view.Meta.EvidenceShortfall.RequiredItems).To(Equal(8))
			Expect(view.Meta.Remediation).To(ContainSubstring("at least 8 are required"))
			Expect(countJobs(subject)).To(Equal(1))
		})
	})

	Context("cache shared with other processes", func() {
		It("drops a cached view once another process persists a newer board", func() {
			subject := "subject-split"
			first := readyBoard(subject, now.Add(-time.Hour))

			view, err := srv.GetBoard(ctx, subject)
			Expect(err).To(BeNil())
			Expect(*view.BoardID).To(Equal(first.ID))
			view, err = srv.GetBoard(ctx, subject)
			Expect(err).To(BeNil())
			Expect(view.Meta.CacheHit).To(BeTrue())

			workerSide := service.NewBoardService(s, q, evidence.NewStoreProvider(s), cache.NewTTLCache[service.BoardView](time.Minute, "v1"), 8)
			second := readyBoard(subject, now)
			Expect(workerSide.Publish(ctx, second)).To(Succeed())

			view, err = srv.GetBoard(ctx, subject)
			Expect(err).To(BeNil())
			Expect(view.Meta.CacheHit).To(BeFalse())
			Expect(*view.BoardID).To(Equal(second.ID))

			view, err = srv.GetBoard(ctx, subject)
			Expect(err).To(BeNil())
			Expect(view.Meta.CacheHit).To(BeTrue())
			Expect(*view.BoardID).To(Equal(second.ID))
		})

		It("stops serving a cached ready view after a newer error board", func() {
			subject := "subject-split-error"
			ready := readyBoard(subject, now.Add(-time.Hour))

			_, err := srv.GetBoard(ctx, subject)
			Expect(err).To(BeNil())
			Expect(c.Len()).To(BeNumerically(">=", 1))

			_, err = s.Board().Create(ctx, model.Board{SubjectID: subject, State: model.BoardStateError, CreatedAt: now})
			Expect(err).To(BeNil())

			view, err := srv.GetBoard(ctx, subject)
			Expect(err).To(BeNil())
			Expect(view.State).To(Equal(model.BoardStateError))
			Expect(view.Meta.CacheHit).To(BeFalse())
			Expect(*view.BoardID).To(Equal(ready.ID))
		})
	})

	Context("regenerate", func() {
		It("invalidates the cache and enqueues a forced job", func() {
			subject := "subject-regenerate"
			readyBoard(subject, now)

			_, err := srv.GetBoard(ctx, subject)
			Expect(err).To(BeNil())
			Expect(c.Len()).To(Equal(1))

			result, err := srv.Regenerate(ctx, subject)
			Expect(err).To(BeNil())
			Expect(result.Created).To(BeTrue())
			Expect(c.Len()).To(BeZero())

			job, err := s.Job().Get(ctx, result.JobID)
			Expect(err).To(BeNil())
			Expect(job.Forced).To(BeTrue())
			Expect(job.Status).To(Equal(model.JobStatusPending))

			again, err := srv.Regenerate(ctx, subject)
			Expect(err).To(BeNil())
			Expect(again.JobID).NotTo(Equal(result.JobID))
		})
	})

	Context("publish", func() {
		It("caches ready boards and drops the entry otherwise", func() {
			subject := "subject-publish"
			board := readyBoard(subject, now)

			Expect(srv.Publish(ctx, board)).To(Succeed())
			view, found := c.Get(subject)
			Expect(found).To(BeTrue())
			Expect(*view.BoardID).To(Equal(board.ID))

			Expect(srv.Publish(ctx, &model.Board{SubjectID: subject, State: model.BoardStateError})).To(Succeed())
			_, found = c.Get(subject)
			Expect(found).To(BeFalse())
		})
	})
})

var _ = Describe("job service", Ordered, func() {
	var (
		s   store.Store
		srv *service.JobService
		ctx = context.TODO()
	)

	BeforeAll(func() {
		s = store.NewStore(newTestDB())
		srv = service.NewJobService(queue.NewQueue(s, queue.RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Second, MaxBackoff: time.Minute}))
	})

	AfterAll(func() {
		s.Close()
	})

	It("returns a job by id", func() {
		q := queue.NewQueue(s, queue.RetryPolicy{MaxAttempts: 3})
		id, _, err := q.Enqueue(ctx, "subject-job", false)
		Expect(err).To(BeNil())

		job, err := srv.GetJob(ctx, id)
		Expect(err).To(BeNil())
		Expect(job.SubjectID).To(Equal("subject-job"))
	})

	It("reports unknown jobs as not found", func() {
		_, err := srv.GetJob(ctx, uuid.New())
		Expect(err).NotTo(BeNil())
		_, ok := err.(*service.ErrResourceNotFound)
		Expect(ok).To(BeTrue())
	})
})
