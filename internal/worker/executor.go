package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/trendboard/opportunity-planner/internal/config"
	"github.com/trendboard/opportunity-planner/internal/dedup"
	"github.com/trendboard/opportunity-planner/internal/evidence"
	"github.com/trendboard/opportunity-planner/internal/pipeline"
	"github.com/trendboard/opportunity-planner/internal/scorer"
	"github.com/trendboard/opportunity-planner/internal/store/model"
	"github.com/trendboard/opportunity-planner/internal/synthesizer"
	"github.com/trendboard/opportunity-planner/internal/validation"
	"github.com/trendboard/opportunity-planner/pkg/metrics"
	"go.uber.org/zap"
)

const (
	StepEvidenceFetch = "evidence_fetch"
	StepGates         = "gates"
	StepSynthesis     = "synthesis"
	StepValidation    = "validation"
	StepScoring       = "scoring"
	// StepLease marks jobs abandoned by their worker and failed by the sweep.
	StepLease = "lease"
)

// SubjectSource supplies the profile snapshot of a subject. Onboarding owns
// the data; the executor only reads it.
type SubjectSource interface {
	Subject(ctx context.Context, subjectID string) (pipeline.SubjectContext, error)
}

type bareSubjects struct{}

func (bareSubjects) Subject(_ context.Context, subjectID string) (pipeline.SubjectContext, error) {
	return pipeline.SubjectContext{SubjectID: subjectID}, nil
}

// Executor runs the generation pipeline for one job and builds the board to
// persist. It never writes to the store.
type Executor struct {
	cfg         *config.Config
	provider    evidence.Provider
	subjects    SubjectSource
	quality     *evidence.QualityGate
	usability   *evidence.UsabilityGate
	synthesizer synthesizer.Synthesizer
	validator   *validation.Validator
	scorer      scorer.Scorer
	dedup       *dedup.Deduplicator
	now         func() time.Time
}

func NewExecutor(cfg *config.Config, provider evidence.Provider, synth synthesizer.Synthesizer, validator *validation.Validator, sc scorer.Scorer) *Executor {
	return &Executor{
		cfg:         cfg,
		provider:    provider,
		subjects:    bareSubjects{},
		quality:     evidence.NewQualityGate(cfg.Gates),
		usability:   evidence.NewUsabilityGate(cfg.Gates),
		synthesizer: synth,
		validator:   validator,
		scorer:      sc,
		dedup:       dedup.NewDeduplicator(cfg.Dedup.TitleSimilarity),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (e *Executor) WithSubjectSource(subjects SubjectSource) *Executor {
	e.subjects = subjects
	return e
}

// WithClock replaces the time source. Used by tests.
func (e *Executor) WithClock(now func() time.Time) *Executor {
	e.now = func() time.Time { return now().UTC() }
	return e
}

// Execute runs every step under the job budget. Boards returned in the
// outcome are not yet persisted.
func (e *Executor) Execute(ctx context.Context, job *model.Job) pipeline.Outcome {
	budgets := e.cfg.Budgets
	ctx, cancel := context.WithTimeout(ctx, budgets.JobTimeout)
	defer cancel()

	logger := zap.S().Named("executor").With("job_id", job.ID, "subject_id", job.SubjectID)

	subject, err := e.subjects.Subject(ctx, job.SubjectID)
	if err != nil {
		return pipeline.FailedWith(StepEvidenceFetch, pipeline.NewTransientIOError(StepEvidenceFetch, err))
	}

	var items model.EvidenceList
	err = e.step(ctx, StepEvidenceFetch, budgets.EvidenceFetch, func(stepCtx context.Context) (err error) {
		items, err = e.provider.Fetch(stepCtx, job.SubjectID, evidence.FetchOptions{
			Limit:  budgets.MaxEvidenceItems,
			MaxAge: budgets.EvidenceMaxAge,
		})
		if err != nil {
			return pipeline.NewTransientIOError(StepEvidenceFetch, err)
		}
		return nil
	})
	if err != nil {
		return pipeline.FailedWith(StepEvidenceFetch, err)
	}

	now := e.now()
	if shortfall := e.checkGates(items, now); shortfall != nil {
		logger.Infow("evidence rejected by gate", "gate", shortfall.Gate, "violations", len(shortfall.Violations))
		return pipeline.InsufficientWith(e.board(job, model.BoardStateInsufficientEvidence, func(b *model.Board) {
			b.EvidenceShortfall = model.MakeJSONField(shortfall)
			b.Diagnostics = model.MakeJSONField(&model.Diagnostics{EvidenceCount: len(items), Step: StepGates})
		}))
	}

	var result synthesizer.Result
	err = e.step(ctx, StepSynthesis, budgets.Synthesis, func(stepCtx context.Context) (err error) {
		result, err = e.synthesizer.Synthesize(stepCtx, synthesizer.Request{
			Evidence:        items,
			Subject:         subject,
			Count:           e.cfg.Worker.CandidateCount,
			Temperature:     e.cfg.Synthesizer.Temperature,
			Seed:            e.cfg.Synthesizer.Seed,
			MaxOutputTokens: budgets.MaxOutputTokens,
			MaxOutputBytes:  budgets.MaxOutputBytes,
		})
		return err
	})
	if err != nil {
		return pipeline.FailedWith(StepSynthesis, err)
	}
	if budgets.MaxCandidates > 0 && len(result.Candidates) > budgets.MaxCandidates {
		return pipeline.FailedWith(StepSynthesis, pipeline.NewSizeBudgetExceededError(StepSynthesis, budgets.MaxCandidates))
	}

	report := e.validator.ValidateBatch(result.Candidates, items)
	for reason, count := range report.ReasonCounts {
		metrics.AddCandidateRejections(reason, count)
	}
	diagnostics := &model.Diagnostics{
		EvidenceCount:      len(items),
		SkippedMalformed:   result.SkippedMalformed,
		CandidatesProposed: len(result.Candidates),
		CandidatesRejected: len(report.Rejected),
		RejectionReasons:   report.ReasonCounts,
		HighRejectionRate:  report.HighRejectionRate,
	}
	if report.HighRejectionRate {
		logger.Warnw("high candidate rejection rate", "rate", report.RejectionRate, "reasons", report.ReasonCounts)
	}
	if report.Insufficient {
		diagnostics.Step = StepValidation
		return pipeline.InsufficientWith(e.board(job, model.BoardStateInsufficientEvidence, func(b *model.Board) {
			b.EvidenceShortfall = model.MakeJSONField(report.Shortfall(len(items), e.cfg.Validation.MinSurvivors))
			b.Diagnostics = model.MakeJSONField(diagnostics)
			b.Degraded = report.HighRejectionRate
		}))
	}

	var scores []scorer.Score
	err = e.step(ctx, StepScoring, budgets.Scoring, func(stepCtx context.Context) (err error) {
		scores, err = e.scorer.Score(stepCtx, scorer.Request{
			Candidates:  report.Accepted,
			Evidence:    items,
			Subject:     subject,
			Temperature: e.cfg.Scoring.Temperature,
			Seed:        e.cfg.Synthesizer.Seed,
			Now:         now,
		})
		if err != nil {
			return pipeline.NewTransientIOError(StepScoring, err)
		}
		return nil
	})
	if err != nil {
		return pipeline.FailedWith(StepScoring, err)
	}

	scored := scorer.Apply(report.Accepted, scores)
	for _, s := range scores {
		if len(s.PolicyViolations) > 0 {
			diagnostics.PolicyViolations++
		}
	}

	deduped := e.dedup.Dedup(scored)
	diagnostics.Duplicates = deduped.Dropped

	opportunities := make([]model.Opportunity, 0, len(deduped.Kept))
	for _, c := range deduped.Kept {
		if c.Band == model.ScoreBandInvalid {
			continue
		}
		opportunities = append(opportunities, c.Opportunity())
	}

	if len(opportunities) < e.cfg.Validation.MinSurvivors || len(opportunities) == 0 {
		diagnostics.Step = StepScoring
		shortfall := report.Shortfall(len(items), e.cfg.Validation.MinSurvivors)
		shortfall.Violations[0].Found = float64(len(opportunities))
		shortfall.Violations[0].Message = fmt.Sprintf("%d candidates remained after scoring and deduplication, %d required", len(opportunities), max(e.cfg.Validation.MinSurvivors, 1))
		return pipeline.InsufficientWith(e.board(job, model.BoardStateInsufficientEvidence, func(b *model.Board) {
			b.EvidenceShortfall = model.MakeJSONField(shortfall)
			b.Diagnostics = model.MakeJSONField(diagnostics)
			b.Degraded = report.HighRejectionRate
		}))
	}

	logger.Infow("board generated", "opportunities", len(opportunities), "rejected", len(report.Rejected), "duplicates", len(deduped.Dropped))
	return pipeline.SucceededWith(e.board(job, model.BoardStateReady, func(b *model.Board) {
		b.Opportunities = opportunities
		b.Diagnostics = model.MakeJSONField(diagnostics)
		b.Degraded = report.HighRejectionRate
	}))
}

// ErrorBoard is persisted once a job has exhausted its attempts.
func (e *Executor) ErrorBoard(job *model.Job, outcome pipeline.Outcome) *model.Board {
	return e.board(job, model.BoardStateError, func(b *model.Board) {
		diagnostics := &model.Diagnostics{Step: outcome.Step}
		if outcome.Err != nil {
			diagnostics.Error = outcome.Err.Error()
		}
		b.Diagnostics = model.MakeJSONField(diagnostics)
	})
}

func (e *Executor) checkGates(items model.EvidenceList, now time.Time) *model.EvidenceShortfall {
	quality := e.quality.Check(items, now)
	if !quality.Passed {
		for _, v := range quality.Violations {
			metrics.IncreaseGateViolation(quality.Gate, v.Code)
		}
		return quality.Shortfall()
	}

	usability := e.usability.Check(items)
	if !usability.Passed {
		for _, v := range usability.Violations {
			metrics.IncreaseGateViolation(usability.Gate, v.Code)
		}
		return usability.Shortfall()
	}
	return nil
}

// step runs fn under its own deadline. A deadline hit becomes a retryable
// budget error whatever fn returned.
func (e *Executor) step(ctx context.Context, name string, budget time.Duration, fn func(ctx context.Context) error) error {
	start := time.Now()
	defer metrics.ObserveStep(name, start)

	stepCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	err := fn(stepCtx)
	if errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
		return pipeline.NewTimeBudgetExceededError(name, budget)
	}
	return err
}

func (e *Executor) board(job *model.Job, state model.BoardState, fill func(b *model.Board)) *model.Board {
	jobID := job.ID
	b := &model.Board{
		SubjectID: job.SubjectID,
		JobID:     &jobID,
		State:     state,
		CreatedAt: e.now(),
	}
	fill(b)
	return b
}
