package interfaces

import (
	"context"

	"github.com/ed-baer97/mektab/internal/models"
)

// Orchestrator accepts, tracks, and cancels scrape jobs.
type Orchestrator interface {
	// Submit validates the spec and returns the job id. Resubmitting a
	// fingerprint that is still in flight returns the existing id.
	Submit(ctx context.Context, spec models.JobSpec) (string, error)

	// SubmitBatch submits one job per spec, returning ids in input order.
	SubmitBatch(ctx context.Context, specs []models.JobSpec) ([]string, error)

	Status(ctx context.Context, jobID string) (*models.ScrapeJob, error)

	// Cancel moves a queued job directly to Cancelled; a running job gets
	// a cancel request the extraction observes between steps.
	Cancel(ctx context.Context, jobID string) error

	History(ctx context.Context, filter JobFilter) ([]*models.ScrapeJob, error)

	Start() error
	Stop()
}

// SessionManager owns at most one authenticated session per credential.
// Acquire hands the session to exactly one worker at a time (per-credential
// lock) after making the given browser carry its cookies, driving the login
// flow only when no valid session exists.
type SessionManager interface {
	Acquire(ctx context.Context, browser Browser, credentialRef string) (*models.Session, error)
	Release(session *models.Session)

	// Invalidate marks the session stale; the next Acquire re-logins.
	Invalidate(session *models.Session)

	Shutdown()
}

// StageObserver receives step-level progress from a running extraction.
type StageObserver func(stage models.Stage, step string, done, total int)

// Extractor runs the portal navigation/extraction sequence for one job.
type Extractor interface {
	Run(ctx context.Context, job *models.ScrapeJob, browser Browser, observe StageObserver) (*models.ExtractionResult, error)
}

// Normalizer converts an extraction's raw rows into typed records.
type Normalizer interface {
	Normalize(result *models.ExtractionResult) ([]models.GradeRecord, []models.AttendanceRecord, *models.NormalizeReport)
}

// SynthesisInput carries everything a template needs: page context scalars
// plus the normalized records in roster order.
type SynthesisInput struct {
	JobID       string
	TemplateID  string
	Locale      string
	OrgName     string
	ClassLabel  string
	Teacher     string
	Subject     string
	Period      int
	PeriodLabel string
	Grades      []models.GradeRecord
	Attendance  []models.AttendanceRecord
}

// Synthesizer merges records into a locale template variant and registers
// the resulting artifact.
type Synthesizer interface {
	Synthesize(ctx context.Context, input SynthesisInput) (*models.ReportArtifact, error)
}

// Scheduler owns cron-driven work: retention cleanup and recurring scrapes.
type Scheduler interface {
	Start() error
	Stop()
}
