package models

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a scrape failure. The orchestrator's retry decision
// and the status surface both key off the kind, never off message text.
type ErrorKind string

const (
	// ErrKindAuth means the portal rejected the credentials.
	ErrKindAuth ErrorKind = "auth"

	// ErrKindSessionExpired means a navigation step landed on the login
	// page instead of the expected screen.
	ErrKindSessionExpired ErrorKind = "session_expired"

	// ErrKindNavigationTimeout means an expected element did not appear
	// within the bounded wait.
	ErrKindNavigationTimeout ErrorKind = "navigation_timeout"

	// ErrKindLayoutChanged means the page loaded but its structure no
	// longer matches the selectors this scraper understands.
	ErrKindLayoutChanged ErrorKind = "layout_changed"

	// ErrKindPartialData means some rows were missing expected cells. The
	// job still completes; the malformed rows are flagged in the output.
	ErrKindPartialData ErrorKind = "partial_data"

	// ErrKindTemplate means a report template or one of its locale
	// variants is missing or malformed.
	ErrKindTemplate ErrorKind = "template"
)

// ErrNoCriteria marks a class whose grading criteria were never set up in
// the portal. The grade table for such a class is empty by construction, so
// the job completes with SkippedClass set instead of failing.
var ErrNoCriteria = errors.New("class has no grading criteria")

// ScrapeError is the classified failure carried through the pipeline.
// DiagnosticRef points at a saved page snapshot when one was captured.
type ScrapeError struct {
	Kind          ErrorKind `json:"kind"`
	Message       string    `json:"message"`
	DiagnosticRef string    `json:"diagnostic_ref,omitempty"`
	Err           error     `json:"-"`
}

func (e *ScrapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ScrapeError) Unwrap() error { return e.Err }

// IsTransient returns true if the failure is worth re-enqueueing: the page
// may simply have been slow, or the session can be re-established.
func (e *ScrapeError) IsTransient() bool {
	return e.Kind == ErrKindNavigationTimeout || e.Kind == ErrKindSessionExpired
}

// IsPermanent returns true if retrying cannot help (bad credentials, changed
// markup, broken template).
func (e *ScrapeError) IsPermanent() bool {
	return !e.IsTransient()
}

// NewScrapeError creates a classified error with a formatted message.
func NewScrapeError(kind ErrorKind, format string, args ...interface{}) *ScrapeError {
	return &ScrapeError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapScrapeError classifies an underlying error, keeping it unwrappable.
func WrapScrapeError(kind ErrorKind, err error, format string, args ...interface{}) *ScrapeError {
	return &ScrapeError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Classify coerces any error into a ScrapeError. Context deadlines become
// navigation timeouts. Unclassified errors are treated as transient so the
// retry budget, not the classifier, decides their fate.
func Classify(err error) *ScrapeError {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return WrapScrapeError(ErrKindNavigationTimeout, err, "wait deadline exceeded")
	}
	return WrapScrapeError(ErrKindNavigationTimeout, err, "unclassified failure")
}

// IsTransient reports whether err should be retried, unwrapping as needed.
func IsTransient(err error) bool {
	return Classify(err).IsTransient()
}
