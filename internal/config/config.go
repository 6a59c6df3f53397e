package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

var singleConfig *Config = nil

type Config struct {
	Database    *dbConfig
	Service     *svcConfig
	Worker      *WorkerConfig
	Gates       *GatesConfig
	Validation  *ValidationConfig
	Dedup       *DedupConfig
	Scoring     *ScoringConfig
	Budgets     *BudgetsConfig
	Cache       *CacheConfig
	Synthesizer *SynthesizerConfig
	Archive     *ArchiveConfig
}

type dbConfig struct {
	Type     string `envconfig:"DB_TYPE" default:"pgsql"`
	Hostname string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"planner"`
	User     string `envconfig:"DB_USER" default:"admin"`
	Password string `envconfig:"DB_PASS" default:"adminpass"`
}

type svcConfig struct {
	Address            string   `envconfig:"OPPORTUNITY_PLANNER_ADDRESS" default:":3443"`
	MetricsAddress     string   `envconfig:"OPPORTUNITY_PLANNER_METRICS_ADDRESS" default:":8080"`
	GatewayPrefix      string   `envconfig:"OPPORTUNITY_PLANNER_GATEWAY_PREFIX" default:""`
	LogLevel           string   `envconfig:"OPPORTUNITY_PLANNER_LOG_LEVEL" default:"info"`
	LogFormat          string   `envconfig:"OPPORTUNITY_PLANNER_LOG_FORMAT" default:"console"`
	AllowedOrigins     []string `envconfig:"OPPORTUNITY_PLANNER_ALLOWED_ORIGINS" default:"http://localhost:3000"`
	PoliciesDir        string   `envconfig:"OPPORTUNITY_PLANNER_POLICIES_DIR" default:""`
	AutoEnqueueMinimum int      `envconfig:"OPPORTUNITY_PLANNER_AUTO_ENQUEUE_MIN_ITEMS" default:"8"`
}

// WorkerConfig drives the job queue and the polling pool.
type WorkerConfig struct {
	Concurrency    int           `envconfig:"OPPORTUNITY_PLANNER_WORKER_CONCURRENCY" default:"4"`
	PollInterval   time.Duration `envconfig:"OPPORTUNITY_PLANNER_WORKER_POLL_INTERVAL" default:"2s"`
	SweepInterval  time.Duration `envconfig:"OPPORTUNITY_PLANNER_WORKER_SWEEP_INTERVAL" default:"30s"`
	LeaseDuration  time.Duration `envconfig:"OPPORTUNITY_PLANNER_WORKER_LEASE" default:"10m"`
	MaxAttempts    int           `envconfig:"OPPORTUNITY_PLANNER_JOB_MAX_ATTEMPTS" default:"3"`
	InitialBackoff time.Duration `envconfig:"OPPORTUNITY_PLANNER_JOB_INITIAL_BACKOFF" default:"30s"`
	MaxBackoff     time.Duration `envconfig:"OPPORTUNITY_PLANNER_JOB_MAX_BACKOFF" default:"10m"`
	CandidateCount int           `envconfig:"OPPORTUNITY_PLANNER_CANDIDATE_COUNT" default:"8"`
}

// GatesConfig holds the thresholds of the quality and usability gates.
type GatesConfig struct {
	MinItems              int           `envconfig:"OPPORTUNITY_PLANNER_GATE_MIN_ITEMS" default:"8"`
	MinTextItems          int           `envconfig:"OPPORTUNITY_PLANNER_GATE_MIN_TEXT_ITEMS" default:"6"`
	MinTextChars          int           `envconfig:"OPPORTUNITY_PLANNER_GATE_MIN_TEXT_CHARS" default:"40"`
	RequiredPlatforms     []string      `envconfig:"OPPORTUNITY_PLANNER_GATE_REQUIRED_PLATFORMS" default:"tiktok"`
	FreshnessWindow       time.Duration `envconfig:"OPPORTUNITY_PLANNER_GATE_FRESHNESS_WINDOW" default:"336h"`
	MinSecondaryCoverage  float64       `envconfig:"OPPORTUNITY_PLANNER_GATE_MIN_SECONDARY_COVERAGE" default:"0.3"`
	MinLongItems          int           `envconfig:"OPPORTUNITY_PLANNER_GATE_MIN_LONG_ITEMS" default:"5"`
	MinLongTextChars      int           `envconfig:"OPPORTUNITY_PLANNER_GATE_MIN_LONG_TEXT_CHARS" default:"80"`
	MinDistinctAuthors    int           `envconfig:"OPPORTUNITY_PLANNER_GATE_MIN_DISTINCT_AUTHORS" default:"3"`
	MinDistinctURLs       int           `envconfig:"OPPORTUNITY_PLANNER_GATE_MIN_DISTINCT_URLS" default:"6"`
	MaxNearDuplicateRatio float64       `envconfig:"OPPORTUNITY_PLANNER_GATE_MAX_NEAR_DUPLICATE_RATIO" default:"0.3"`
	NearDuplicateJaccard  float64       `envconfig:"OPPORTUNITY_PLANNER_GATE_NEAR_DUPLICATE_JACCARD" default:"0.8"`
	MinContentRatio       float64       `envconfig:"OPPORTUNITY_PLANNER_GATE_MIN_CONTENT_RATIO" default:"0.7"`
}

type ValidationConfig struct {
	MinTitleChars     int      `envconfig:"OPPORTUNITY_PLANNER_VALIDATION_MIN_TITLE_CHARS" default:"12"`
	MinAngleChars     int      `envconfig:"OPPORTUNITY_PLANNER_VALIDATION_MIN_ANGLE_CHARS" default:"20"`
	MinRationaleChars int      `envconfig:"OPPORTUNITY_PLANNER_VALIDATION_MIN_RATIONALE_CHARS" default:"30"`
	ForbiddenPatterns []string `envconfig:"OPPORTUNITY_PLANNER_VALIDATION_FORBIDDEN_PATTERNS" default:""`
	MaxRejectionRate  float64  `envconfig:"OPPORTUNITY_PLANNER_VALIDATION_MAX_REJECTION_RATE" default:"0.6"`
	MinSurvivors      int      `envconfig:"OPPORTUNITY_PLANNER_VALIDATION_MIN_SURVIVORS" default:"1"`
}

type DedupConfig struct {
	TitleSimilarity float64 `envconfig:"OPPORTUNITY_PLANNER_DEDUP_TITLE_SIMILARITY" default:"0.6"`
}

type ScoringConfig struct {
	StrongThreshold int     `envconfig:"OPPORTUNITY_PLANNER_SCORING_STRONG_THRESHOLD" default:"70"`
	Temperature     float64 `envconfig:"OPPORTUNITY_PLANNER_SCORING_TEMPERATURE" default:"0"`
}

// BudgetsConfig bounds a single job execution.
type BudgetsConfig struct {
	JobTimeout       time.Duration `envconfig:"OPPORTUNITY_PLANNER_BUDGET_JOB_TIMEOUT" default:"5m"`
	EvidenceFetch    time.Duration `envconfig:"OPPORTUNITY_PLANNER_BUDGET_EVIDENCE_FETCH" default:"10s"`
	Synthesis        time.Duration `envconfig:"OPPORTUNITY_PLANNER_BUDGET_SYNTHESIS" default:"2m"`
	Scoring          time.Duration `envconfig:"OPPORTUNITY_PLANNER_BUDGET_SCORING" default:"30s"`
	MaxEvidenceItems int           `envconfig:"OPPORTUNITY_PLANNER_BUDGET_MAX_EVIDENCE_ITEMS" default:"60"`
	EvidenceMaxAge   time.Duration `envconfig:"OPPORTUNITY_PLANNER_BUDGET_EVIDENCE_MAX_AGE" default:"2160h"`
	MaxCandidates    int           `envconfig:"OPPORTUNITY_PLANNER_BUDGET_MAX_CANDIDATES" default:"20"`
	MaxOutputBytes   int           `envconfig:"OPPORTUNITY_PLANNER_BUDGET_MAX_OUTPUT_BYTES" default:"262144"`
	MaxOutputTokens  int           `envconfig:"OPPORTUNITY_PLANNER_BUDGET_MAX_OUTPUT_TOKENS" default:"4096"`
}

type CacheConfig struct {
	TTL           time.Duration `envconfig:"OPPORTUNITY_PLANNER_CACHE_TTL" default:"10m"`
	SchemaVersion string        `envconfig:"OPPORTUNITY_PLANNER_CACHE_SCHEMA_VERSION" default:"v1"`
}

type SynthesizerConfig struct {
	APIKey         string  `envconfig:"ANTHROPIC_API_KEY" default:""`
	Model          string  `envconfig:"OPPORTUNITY_PLANNER_SYNTHESIZER_MODEL" default:"claude-sonnet-4-5-20250929"`
	Temperature    float64 `envconfig:"OPPORTUNITY_PLANNER_SYNTHESIZER_TEMPERATURE" default:"0.4"`
	Seed           *int64  `envconfig:"OPPORTUNITY_PLANNER_SYNTHESIZER_SEED"`
	RequestsPerMin int     `envconfig:"OPPORTUNITY_PLANNER_SYNTHESIZER_RPM" default:"30"`
}

type ArchiveConfig struct {
	Enabled   bool   `envconfig:"OPPORTUNITY_PLANNER_ARCHIVE_ENABLED" default:"false"`
	Endpoint  string `envconfig:"OPPORTUNITY_PLANNER_S3_ENDPOINT" default:""`
	Bucket    string `envconfig:"OPPORTUNITY_PLANNER_S3_BUCKET" default:"boards"`
	AccessKey string `envconfig:"OPPORTUNITY_PLANNER_S3_ACCESS_KEY" default:""`
	SecretKey string `envconfig:"OPPORTUNITY_PLANNER_S3_SECRET_KEY" default:""`
	UseSSL    bool   `envconfig:"OPPORTUNITY_PLANNER_S3_USE_SSL" default:"true"`
}

func New() (*Config, error) {
	if singleConfig == nil {
		singleConfig = new(Config)
		if err := envconfig.Process("", singleConfig); err != nil {
			return nil, err
		}
	}
	return singleConfig, nil
}

// NewDefault returns a fresh configuration built only from the default tags.
// It does not touch the process-wide configuration returned by New.
func NewDefault() (*Config, error) {
	cfg := new(Config)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
