package queue

import (
	"time"

	"github.com/trendboard/opportunity-planner/internal/config"
)

// RetryPolicy is the single place deciding whether and when a failed job runs again.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func NewRetryPolicy(cfg *config.WorkerConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
	}
}

// Backoff returns the delay after the given number of attempts:
// InitialBackoff * 2^(attempts-1), capped at MaxBackoff.
func (p RetryPolicy) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := p.InitialBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// CanRetry reports whether a job that already ran attempts times may run again.
func (p RetryPolicy) CanRetry(attempts, maxAttempts int) bool {
	if maxAttempts <= 0 {
		maxAttempts = p.MaxAttempts
	}
	return attempts < maxAttempts
}
