package store_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	st "github.com/trendboard/opportunity-planner/internal/store"
	"github.com/trendboard/opportunity-planner/internal/store/model"
	"gorm.io/gorm"
)

func pendingJob(subjectID string, forced bool, availableAt time.Time) model.Job {
	return model.Job{
		ID:          uuid.New(),
		SubjectID:   subjectID,
		Status:      model.JobStatusPending,
		Forced:      forced,
		MaxAttempts: 3,
		AvailableAt: availableAt,
	}
}

var _ = Describe("Store", Ordered, func() {
	var (
		store  st.Store
		gormDB *gorm.DB
		now    time.Time
	)

	BeforeAll(func() {
		gormDB = newTestDB()
		store = st.NewStore(gormDB)
		Expect(store).ToNot(BeNil())
	})

	AfterAll(func() {
		store.Close()
	})

	BeforeEach(func() {
		now = time.Now().UTC()
	})

	AfterEach(func() {
		gormDB.Exec("DELETE FROM opportunities;")
		gormDB.Exec("DELETE FROM boards;")
		gormDB.Exec("DELETE FROM jobs;")
		gormDB.Exec("DELETE FROM evidence_items;")
	})

	Context("transaction", func() {
		It("commits a job successfully", func() {
			ctx, err := store.NewTransactionContext(context.TODO())
			Expect(err).To(BeNil())

			job, err := store.Job().Create(ctx, pendingJob("subject-1", false, now))
			Expect(err).To(BeNil())
			Expect(job).ToNot(BeNil())

			_, cerr := st.Commit(ctx)
			Expect(cerr).To(BeNil())

			count := 0
			err = gormDB.Raw("SELECT COUNT(*) from jobs;").Scan(&count).Error
			Expect(err).To(BeNil())
			Expect(count).To(Equal(1))
		})

		It("rolls back a job successfully", func() {
			ctx, err := store.NewTransactionContext(context.TODO())
			Expect(err).To(BeNil())

			_, err = store.Job().Create(ctx, pendingJob("subject-1", false, now))
			Expect(err).To(BeNil())

			jobs, err := store.Job().List(ctx, st.NewJobQueryFilter().BySubjectID("subject-1"), nil)
			Expect(err).To(BeNil())
			Expect(jobs).To(HaveLen(1))

			_, cerr := st.Rollback(ctx)
			Expect(cerr).To(BeNil())

			count := 0
			err = gormDB.Raw("SELECT COUNT(*) from jobs;").Scan(&count).Error
			Expect(err).To(BeNil())
			Expect(count).To(Equal(0))
		})

		It("commits when the function succeeds", func() {
			err := st.WithTransaction(context.TODO(), store, func(ctx context.Context) error {
				_, err := store.Job().Create(ctx, pendingJob("subject-1", false, now))
				return err
			})
			Expect(err).To(BeNil())

			count := 0
			Expect(gormDB.Raw("SELECT COUNT(*) from jobs;").Scan(&count).Error).To(BeNil())
			Expect(count).To(Equal(1))
		})

		It("rolls back and returns the error of the function", func() {
			boom := errors.New("boom")
			err := st.WithTransaction(context.TODO(), store, func(ctx context.Context) error {
				if _, err := store.Job().Create(ctx, pendingJob("subject-1", false, now)); err != nil {
					return err
				}
				return boom
			})
			Expect(err).To(MatchError(boom))

			count := 0
			Expect(gormDB.Raw("SELECT COUNT(*) from jobs;").Scan(&count).Error).To(BeNil())
			Expect(count).To(Equal(0))
		})

		It("joins an outer transaction without committing it", func() {
			ctx, err := store.NewTransactionContext(context.TODO())
			Expect(err).To(BeNil())

			err = st.WithTransaction(ctx, store, func(inner context.Context) error {
				_, err := store.Job().Create(inner, pendingJob("subject-1", false, now))
				return err
			})
			Expect(err).To(BeNil())
			Expect(st.FromContext(ctx)).ToNot(BeNil())

			_, cerr := st.Rollback(ctx)
			Expect(cerr).To(BeNil())

			count := 0
			Expect(gormDB.Raw("SELECT COUNT(*) from jobs;").Scan(&count).Error).To(BeNil())
			Expect(count).To(Equal(0))
		})
	})

	Context("job", func() {
		It("rejects a second queued non-forced job for the same subject", func() {
			_, err := store.Job().Create(context.TODO(), pendingJob("subject-1", false, now))
			Expect(err).To(BeNil())

			_, err = store.Job().Create(context.TODO(), pendingJob("subject-1", false, now))
			Expect(err).To(MatchError(st.ErrDuplicateKey))

			_, err = store.Job().Create(context.TODO(), pendingJob("subject-1", true, now))
			Expect(err).To(BeNil())
		})

		It("returns ErrRecordNotFound for an unknown job", func() {
			_, err := store.Job().Get(context.TODO(), uuid.New())
			Expect(err).To(MatchError(st.ErrRecordNotFound))
		})

		It("lists claimable jobs oldest first and skips future ones", func() {
			older, err := store.Job().Create(context.TODO(), pendingJob("subject-1", false, now.Add(-2*time.Minute)))
			Expect(err).To(BeNil())
			newer, err := store.Job().Create(context.TODO(), pendingJob("subject-2", false, now.Add(-time.Minute)))
			Expect(err).To(BeNil())
			_, err = store.Job().Create(context.TODO(), pendingJob("subject-3", false, now.Add(time.Hour)))
			Expect(err).To(BeNil())

			jobs, err := store.Job().ListClaimable(context.TODO(), now, 10)
			Expect(err).To(BeNil())
			Expect(jobs).To(HaveLen(2))
			Expect(jobs[0].ID).To(Equal(older.ID))
			Expect(jobs[1].ID).To(Equal(newer.ID))
		})

		It("skips subjects that already have a running job", func() {
			first, err := store.Job().Create(context.TODO(), pendingJob("subject-1", false, now.Add(-time.Minute)))
			Expect(err).To(BeNil())
			_, err = store.Job().Create(context.TODO(), pendingJob("subject-1", true, now.Add(-time.Minute)))
			Expect(err).To(BeNil())

			won, err := store.Job().Claim(context.TODO(), first.ID, "worker-1", now)
			Expect(err).To(BeNil())
			Expect(won).To(BeTrue())

			jobs, err := store.Job().ListClaimable(context.TODO(), now, 10)
			Expect(err).To(BeNil())
			Expect(jobs).To(BeEmpty())
		})

		It("claims a job and increments attempts", func() {
			job, err := store.Job().Create(context.TODO(), pendingJob("subject-1", false, now))
			Expect(err).To(BeNil())

			won, err := store.Job().Claim(context.TODO(), job.ID, "worker-1", now)
			Expect(err).To(BeNil())
			Expect(won).To(BeTrue())

			claimed, err := store.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(claimed.Status).To(Equal(model.JobStatusRunning))
			Expect(claimed.Attempts).To(Equal(1))
			Expect(*claimed.LockedBy).To(Equal("worker-1"))
			Expect(claimed.LockedAt).ToNot(BeNil())

			won, err = store.Job().Claim(context.TODO(), job.ID, "worker-2", now)
			Expect(err).To(BeNil())
			Expect(won).To(BeFalse())
		})

		It("lets exactly one of many concurrent claimers win", func() {
			job, err := store.Job().Create(context.TODO(), pendingJob("subject-1", false, now))
			Expect(err).To(BeNil())

			const claimers = 10
			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				wins int
			)
			for i := 0; i < claimers; i++ {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					won, err := store.Job().Claim(context.TODO(), job.ID, uuid.NewString(), now)
					Expect(err).To(BeNil())
					if won {
						mu.Lock()
						wins++
						mu.Unlock()
					}
				}(i)
			}
			wg.Wait()

			Expect(wins).To(Equal(1))
			claimed, err := store.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(claimed.Attempts).To(Equal(1))
		})

		It("refuses a second running job for the same subject", func() {
			first, err := store.Job().Create(context.TODO(), pendingJob("subject-1", false, now))
			Expect(err).To(BeNil())
			second, err := store.Job().Create(context.TODO(), pendingJob("subject-1", true, now))
			Expect(err).To(BeNil())

			won, err := store.Job().Claim(context.TODO(), first.ID, "worker-1", now)
			Expect(err).To(BeNil())
			Expect(won).To(BeTrue())

			won, err = store.Job().Claim(context.TODO(), second.ID, "worker-2", now)
			Expect(err).To(BeNil())
			Expect(won).To(BeFalse())
		})

		It("reports a uniqueness conflict instead of a lost race", func() {
			running, err := store.Job().Create(context.TODO(), pendingJob("subject-1", false, now))
			Expect(err).To(BeNil())
			won, err := store.Job().Claim(context.TODO(), running.ID, "worker-1", now)
			Expect(err).To(BeNil())
			Expect(won).To(BeTrue())
			_, err = store.Job().Create(context.TODO(), pendingJob("subject-1", false, now))
			Expect(err).To(BeNil())

			availableAt := now.Add(time.Minute)
			ok, err := store.Job().Transition(context.TODO(), running.ID, model.JobStatusRunning, st.JobTransition{
				Status:      model.JobStatusPending,
				AvailableAt: &availableAt,
				ClearLock:   true,
				Now:         now,
			})
			Expect(err).To(MatchError(st.ErrDuplicateKey))
			Expect(ok).To(BeFalse())

			unchanged, err := store.Job().Get(context.TODO(), running.ID)
			Expect(err).To(BeNil())
			Expect(unchanged.Status).To(Equal(model.JobStatusRunning))
		})

		It("transitions only from the expected status", func() {
			job, err := store.Job().Create(context.TODO(), pendingJob("subject-1", false, now))
			Expect(err).To(BeNil())
			won, err := store.Job().Claim(context.TODO(), job.ID, "worker-1", now)
			Expect(err).To(BeNil())
			Expect(won).To(BeTrue())

			boardID := uuid.New()
			ok, err := store.Job().Transition(context.TODO(), job.ID, model.JobStatusRunning, st.JobTransition{
				Status:    model.JobStatusSucceeded,
				BoardID:   &boardID,
				ClearLock: true,
				Now:       now,
			})
			Expect(err).To(BeNil())
			Expect(ok).To(BeTrue())

			ok, err = store.Job().Transition(context.TODO(), job.ID, model.JobStatusRunning, st.JobTransition{
				Status: model.JobStatusFailed,
				Now:    now,
			})
			Expect(err).To(BeNil())
			Expect(ok).To(BeFalse())

			done, err := store.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(done.Status).To(Equal(model.JobStatusSucceeded))
			Expect(done.LockedBy).To(BeNil())
			Expect(done.LockedAt).To(BeNil())
			Expect(*done.BoardID).To(Equal(boardID))
		})

		It("filters running jobs by lock age", func() {
			job, err := store.Job().Create(context.TODO(), pendingJob("subject-1", false, now))
			Expect(err).To(BeNil())
			_, err = store.Job().Claim(context.TODO(), job.ID, "worker-1", now.Add(-time.Hour))
			Expect(err).To(BeNil())

			expired, err := store.Job().List(context.TODO(),
				st.NewJobQueryFilter().ByStatus(model.JobStatusRunning).LockedBefore(now.Add(-10*time.Minute)), nil)
			Expect(err).To(BeNil())
			Expect(expired).To(HaveLen(1))

			expired, err = store.Job().List(context.TODO(),
				st.NewJobQueryFilter().ByStatus(model.JobStatusRunning).LockedBefore(now.Add(-2*time.Hour)), nil)
			Expect(err).To(BeNil())
			Expect(expired).To(BeEmpty())
		})
	})

	Context("board", func() {
		It("creates a board with ordered opportunities", func() {
			jobID := uuid.New()
			board, err := store.Board().Create(context.TODO(), model.Board{
				SubjectID: "subject-1",
				JobID:     &jobID,
				State:     model.BoardStateReady,
				Diagnostics: model.MakeJSONField(&model.Diagnostics{
					EvidenceCount:      10,
					CandidatesProposed: 3,
					CandidatesRejected: 1,
					RejectionReasons:   map[string]int{"evidence_unknown": 1},
				}),
				Opportunities: []model.Opportunity{
					{Title: "first title", Angle: "angle", Rationale: "why", EvidenceIDs: []string{"e1"}, Score: 90, ScoreBand: model.ScoreBandStrong, ValidationStatus: model.ValidationStatusValid},
					{Title: "second title", Angle: "angle", Rationale: "why", EvidenceIDs: []string{"e2", "e3"}, Score: 40, ScoreBand: model.ScoreBandWeak, ValidationStatus: model.ValidationStatusValid},
				},
			})
			Expect(err).To(BeNil())
			Expect(board.OpportunityIDs).To(HaveLen(2))

			latest, err := store.Board().Latest(context.TODO(), st.NewBoardQueryFilter().BySubjectID("subject-1"))
			Expect(err).To(BeNil())
			Expect(latest.ID).To(Equal(board.ID))
			Expect(*latest.JobID).To(Equal(jobID))
			Expect(latest.Opportunities).To(HaveLen(2))
			Expect(latest.Opportunities[0].Title).To(Equal("first title"))
			Expect(latest.Opportunities[1].EvidenceIDs).To(ConsistOf("e2", "e3"))
			Expect(latest.Opportunities[0].RejectionReasons).To(BeEmpty())
			Expect(latest.Diagnostic().RejectionReasons).To(HaveKeyWithValue("evidence_unknown", 1))
			Expect(latest.Shortfall()).To(BeNil())
		})

		It("returns the latest board and filters by state", func() {
			_, err := store.Board().Create(context.TODO(), model.Board{SubjectID: "subject-1", State: model.BoardStateReady, CreatedAt: now.Add(-time.Hour)})
			Expect(err).To(BeNil())
			insufficient, err := store.Board().Create(context.TODO(), model.Board{
				SubjectID: "subject-1",
				State:     model.BoardStateInsufficientEvidence,
				CreatedAt: now,
				EvidenceShortfall: model.MakeJSONField(&model.EvidenceShortfall{
					Gate:          "quality",
					FoundItems:    2,
					RequiredItems: 8,
					Violations:    []model.Shortfall{{Code: "min_items", Found: 2, Required: 8}},
				}),
			})
			Expect(err).To(BeNil())

			latest, err := store.Board().Latest(context.TODO(), st.NewBoardQueryFilter().BySubjectID("subject-1"))
			Expect(err).To(BeNil())
			Expect(latest.ID).To(Equal(insufficient.ID))
			Expect(latest.Shortfall().Violations).To(HaveLen(1))

			ready, err := store.Board().Latest(context.TODO(), st.NewBoardQueryFilter().BySubjectID("subject-1").ByState(model.BoardStateReady))
			Expect(err).To(BeNil())
			Expect(ready.State).To(Equal(model.BoardStateReady))

			latestID, err := store.Board().LatestID(context.TODO(), "subject-1")
			Expect(err).To(BeNil())
			Expect(latestID).To(Equal(insufficient.ID))
		})

		It("returns ErrRecordNotFound when a subject has no board", func() {
			_, err := store.Board().Latest(context.TODO(), st.NewBoardQueryFilter().BySubjectID("nobody"))
			Expect(err).To(MatchError(st.ErrRecordNotFound))

			_, err = store.Board().LatestID(context.TODO(), "nobody")
			Expect(err).To(MatchError(st.ErrRecordNotFound))
		})
	})

	Context("evidence", func() {
		It("imports items once and filters them", func() {
			old := now.Add(-100 * 24 * time.Hour)
			items := model.EvidenceList{
				{ID: "e1", SubjectID: "subject-1", Platform: "tiktok", TextPrimary: "fresh", PublishedAt: &now},
				{ID: "e2", SubjectID: "subject-1", Platform: "instagram", TextPrimary: "stale", PublishedAt: &old},
				{ID: "e3", SubjectID: "subject-1", Platform: "tiktok", TextPrimary: "undated"},
				{ID: "e4", SubjectID: "subject-2", Platform: "tiktok", TextPrimary: "other"},
			}
			n, err := store.Evidence().Import(context.TODO(), items)
			Expect(err).To(BeNil())
			Expect(n).To(BeEquivalentTo(4))

			n, err = store.Evidence().Import(context.TODO(), items[:1])
			Expect(err).To(BeNil())
			Expect(n).To(BeEquivalentTo(0))

			count, err := store.Evidence().Count(context.TODO(), st.NewEvidenceQueryFilter().BySubjectID("subject-1"))
			Expect(err).To(BeNil())
			Expect(count).To(BeEquivalentTo(3))

			recent, err := store.Evidence().List(context.TODO(),
				st.NewEvidenceQueryFilter().BySubjectID("subject-1").PublishedSince(now.Add(-30*24*time.Hour)),
				st.NewQueryOptions().WithOrder("id ASC"))
			Expect(err).To(BeNil())
			Expect(recent.IDs()).To(Equal([]string{"e1", "e3"}))

			tiktok, err := store.Evidence().List(context.TODO(),
				st.NewEvidenceQueryFilter().BySubjectID("subject-1").ByPlatforms([]string{"tiktok"}),
				st.NewQueryOptions().WithLimit(1).WithOrder("id ASC"))
			Expect(err).To(BeNil())
			Expect(tiktok.IDs()).To(Equal([]string{"e1"}))
		})
	})
})
