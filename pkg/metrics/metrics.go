package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	subsystem = "opportunity_planner"

	statusLabel = "status"
	gateLabel   = "gate"
	codeLabel   = "code"
	reasonLabel = "reason"
	stepLabel   = "step"
	resultLabel = "result"
)

var jobsClaimedMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "jobs_claimed_total",
		Help:      "number of jobs claimed by workers",
	},
)

var jobsFinishedMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "jobs_finished_total",
		Help:      "number of job executions partitioned by resulting job status",
	},
	[]string{statusLabel},
)

var jobsRecoveredMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "jobs_lease_expired_total",
		Help:      "number of running jobs recovered by the stale lock sweep",
	},
	[]string{statusLabel},
)

var gateViolationsMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "evidence_gate_violations_total",
		Help:      "number of violated evidence thresholds partitioned by gate and code",
	},
	[]string{gateLabel, codeLabel},
)

var candidateRejectionsMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "candidate_rejections_total",
		Help:      "number of candidate rejections partitioned by reason code",
	},
	[]string{reasonLabel},
)

var stepDurationMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Subsystem: subsystem,
		Name:      "pipeline_step_duration_seconds",
		Help:      "time spent in each pipeline step",
		Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 120},
	},
	[]string{stepLabel},
)

var boardReadsMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "board_reads_total",
		Help:      "number of board reads partitioned by served state and cache result",
	},
	[]string{statusLabel, resultLabel},
)

var boardsPersistedMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "boards_persisted_total",
		Help:      "number of terminal boards written partitioned by state",
	},
	[]string{statusLabel},
)

func IncreaseJobsClaimed() {
	jobsClaimedMetric.Inc()
}

func IncreaseJobsFinished(status string) {
	jobsFinishedMetric.With(prometheus.Labels{statusLabel: status}).Inc()
}

func IncreaseJobsRecovered(status string) {
	jobsRecoveredMetric.With(prometheus.Labels{statusLabel: status}).Inc()
}

func IncreaseGateViolation(gate, code string) {
	gateViolationsMetric.With(prometheus.Labels{gateLabel: gate, codeLabel: code}).Inc()
}

func AddCandidateRejections(reason string, count int) {
	candidateRejectionsMetric.With(prometheus.Labels{reasonLabel: reason}).Add(float64(count))
}

func ObserveStep(step string, since time.Time) {
	stepDurationMetric.With(prometheus.Labels{stepLabel: step}).Observe(time.Since(since).Seconds())
}

func IncreaseBoardsPersisted(state string) {
	boardsPersistedMetric.With(prometheus.Labels{statusLabel: state}).Inc()
}

func IncreaseBoardReads(state string, cacheHit bool) {
	result := "miss"
	if cacheHit {
		result = "hit"
	}
	boardReadsMetric.With(prometheus.Labels{statusLabel: state, resultLabel: result}).Inc()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(jobsClaimedMetric)
	prometheus.MustRegister(jobsFinishedMetric)
	prometheus.MustRegister(jobsRecoveredMetric)
	prometheus.MustRegister(gateViolationsMetric)
	prometheus.MustRegister(candidateRejectionsMetric)
	prometheus.MustRegister(stepDurationMetric)
	prometheus.MustRegister(boardReadsMetric)
	prometheus.MustRegister(boardsPersistedMetric)
}
