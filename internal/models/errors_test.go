package models

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestScrapeError_Transience(t *testing.T) {
	tests := []struct {
		kind      ErrorKind
		transient bool
	}{
		{ErrKindAuth, false},
		{ErrKindSessionExpired, true},
		{ErrKindNavigationTimeout, true},
		{ErrKindLayoutChanged, false},
		{ErrKindPartialData, false},
		{ErrKindTemplate, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			serr := NewScrapeError(tt.kind, "boom")
			if got := serr.IsTransient(); got != tt.transient {
				t.Errorf("IsTransient: got %v, want %v", got, tt.transient)
			}
			if got := serr.IsPermanent(); got == tt.transient {
				t.Errorf("IsPermanent: got %v, want %v", got, !tt.transient)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	layout := NewScrapeError(ErrKindLayoutChanged, "unknown period tabs")

	tests := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{
			name: "scrape error passes through",
			err:  layout,
			kind: ErrKindLayoutChanged,
		},
		{
			name: "wrapped scrape error is unwrapped",
			err:  fmt.Errorf("step selecting_period: %w", layout),
			kind: ErrKindLayoutChanged,
		},
		{
			name: "context deadline becomes navigation timeout",
			err:  context.DeadlineExceeded,
			kind: ErrKindNavigationTimeout,
		},
		{
			name: "unclassified errors default transient",
			err:  errors.New("tab crashed"),
			kind: ErrKindNavigationTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if got.Kind != tt.kind {
				t.Errorf("kind: got %v, want %v", got.Kind, tt.kind)
			}
		})
	}
}

func TestWrapScrapeError_Unwrap(t *testing.T) {
	cause := errors.New("net::ERR_CONNECTION_RESET")
	serr := WrapScrapeError(ErrKindNavigationTimeout, cause, "open grades page")

	if !errors.Is(serr, cause) {
		t.Error("wrapped cause not reachable through errors.Is")
	}
	if serr.Error() == "" {
		t.Error("empty error text")
	}
}
