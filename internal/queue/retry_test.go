package queue

import (
	"testing"
	"time"

	"github.com/ed-baer97/mektab/internal/common"
	"github.com/ed-baer97/mektab/internal/models"
)

func testPolicy() *RetryPolicy {
	return NewRetryPolicy(&common.RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 5 * time.Second,
		MaxBackoff:     2 * time.Minute,
		Multiplier:     2.0,
	})
}

func TestShouldRetry(t *testing.T) {
	policy := testPolicy()

	tests := []struct {
		name    string
		attempt int
		kind    models.ErrorKind
		want    bool
	}{
		{"transient first attempt", 1, models.ErrKindNavigationTimeout, true},
		{"transient mid budget", 3, models.ErrKindSessionExpired, true},
		{"transient budget spent", 4, models.ErrKindNavigationTimeout, false},
		{"auth never retries", 1, models.ErrKindAuth, false},
		{"layout change never retries", 1, models.ErrKindLayoutChanged, false},
		{"partial data never retries", 1, models.ErrKindPartialData, false},
		{"template never retries", 1, models.ErrKindTemplate, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			serr := models.NewScrapeError(tt.kind, "boom")
			if got := policy.ShouldRetry(tt.attempt, serr); got != tt.want {
				t.Errorf("ShouldRetry(%d, %s) = %v, want %v", tt.attempt, tt.kind, got, tt.want)
			}
		})
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	policy := testPolicy()

	// Jitter is ±25%, so check windows rather than exact values
	checks := []struct {
		attempt int
		base    time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{10, 2 * time.Minute}, // capped
	}

	for _, c := range checks {
		for i := 0; i < 50; i++ {
			got := policy.Backoff(c.attempt)
			min := time.Duration(float64(c.base) * 0.74)
			max := time.Duration(float64(c.base) * 1.26)
			if got < min || got > max {
				t.Fatalf("Backoff(%d) = %s, want within [%s, %s]", c.attempt, got, min, max)
			}
		}
	}
}

func TestBackoffNeverNegative(t *testing.T) {
	policy := testPolicy()
	for attempt := 0; attempt < 12; attempt++ {
		if got := policy.Backoff(attempt); got <= 0 {
			t.Errorf("Backoff(%d) = %s, want positive", attempt, got)
		}
	}
}
