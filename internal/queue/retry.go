package queue

import (
	"math/rand"
	"time"

	"github.com/ed-baer97/mektab/internal/common"
	"github.com/ed-baer97/mektab/internal/models"
)

// RetryPolicy defines requeue behavior for transient failures. Attempts
// count from 1 and include the first run, so MaxAttempts = retries + 1.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// NewRetryPolicy builds a policy from the retry config section.
func NewRetryPolicy(cfg *common.RetryConfig) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:    cfg.MaxRetries + 1,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		Multiplier:     cfg.Multiplier,
	}
}

// ShouldRetry reports whether the attempt that just failed should go back
// on the queue. Permanent failures never retry; a wrong password stays
// wrong no matter how often the login form sees it.
func (p *RetryPolicy) ShouldRetry(attempt int, serr *models.ScrapeError) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	return serr.IsTransient()
}

// Backoff returns the delay before the job becomes visible again after the
// given attempt, growing exponentially with ±25% jitter.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	backoff := float64(p.InitialBackoff) * pow(p.Multiplier, float64(attempt-1))
	if backoff > float64(p.MaxBackoff) {
		backoff = float64(p.MaxBackoff)
	}

	// Jitter spreads retries so parallel failures don't hit the portal in
	// lockstep again.
	jitter := backoff * 0.25 * (rand.Float64()*2 - 1)
	backoff += jitter

	if backoff < 0 {
		backoff = float64(p.InitialBackoff)
	}

	return time.Duration(backoff)
}

// pow calculates base^exp for float64
func pow(base, exp float64) float64 {
	result := 1.0
	for i := 0; i < int(exp); i++ {
		result *= base
	}
	return result
}
