// -----------------------------------------------------------------------
// Scrape Job - persisted unit of work for the extraction pipeline
// -----------------------------------------------------------------------

package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusRetrying  JobStatus = "retrying"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal returns true for statuses a job never leaves.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobSpec is the caller-supplied description of one extraction: which class
// on which school account, which reporting period, and what to synthesize
// from the result. Validated at submit time.
type JobSpec struct {
	SchoolID      string `json:"school_id" validate:"required"`
	ClassID       string `json:"class_id" validate:"required"`
	Period        int    `json:"period" validate:"required,min=1,max=4"`
	CredentialRef string `json:"credential_ref" validate:"required"`
	Locale        string `json:"locale" validate:"required,oneof=kk ru"`
	TemplateID    string `json:"template_id" validate:"required"`

	// Subject narrows extraction to one subject when the class page lists
	// several for the same teacher. Empty means first match.
	Subject string `json:"subject,omitempty"`
}

// Fingerprint identifies the unit of portal work. Locale, template, and
// subject filter are presentation concerns and deliberately excluded: two
// submissions that would drive the same browsing steps share a fingerprint.
func (s *JobSpec) Fingerprint() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%s", s.SchoolID, s.ClassID, s.Period, s.CredentialRef)))
	return hex.EncodeToString(sum[:])
}

// JobProgress tracks where inside the extraction sequence a running job is.
type JobProgress struct {
	Stage      Stage  `json:"stage"`
	Step       string `json:"step,omitempty"`
	StepsDone  int    `json:"steps_done"`
	StepsTotal int    `json:"steps_total"`
}

// ScrapeJob is the persisted job record. The Spec is an immutable snapshot
// taken at submit time; status, attempt counter, and error fields are owned
// by the orchestrator. The append-only JobLog carries the full history; this
// record is the queryable summary.
type ScrapeJob struct {
	ID          string `json:"id"`
	Fingerprint string `json:"fingerprint" badgerhold:"index"`

	Spec JobSpec `json:"spec"`

	Status   JobStatus   `json:"status" badgerhold:"index"`
	Progress JobProgress `json:"progress"`

	// Attempt counts executions, 1-based once running. Transient failures
	// re-enqueue with the counter bumped until the retry budget runs out.
	Attempt int `json:"attempt"`

	// CancelRequested is observed by the state machine between steps. A
	// still-queued job never sees it; the queue drops the entry instead.
	CancelRequested bool `json:"cancel_requested"`

	// Error holds the last classified failure, populated on Failed and on
	// each Retrying transition.
	ErrorKind     ErrorKind `json:"error_kind,omitempty"`
	Error         string    `json:"error,omitempty"`
	DiagnosticRef string    `json:"diagnostic_ref,omitempty"`

	ArtifactIDs []string `json:"artifact_ids,omitempty"`

	// SkippedClass is set when the portal reported the class has no
	// assessment criteria configured; the job completes without records.
	SkippedClass bool `json:"skipped_class,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewScrapeJob creates a queued job from a validated spec.
func NewScrapeJob(spec JobSpec) *ScrapeJob {
	now := time.Now()
	return &ScrapeJob{
		ID:          uuid.New().String(),
		Fingerprint: spec.Fingerprint(),
		Spec:        spec,
		Status:      JobStatusQueued,
		Progress:    JobProgress{Stage: StageInit},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// IsTerminal returns true if the job is in a terminal state.
func (j *ScrapeJob) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// MarkRunning transitions the job into execution and bumps the attempt
// counter. StartedAt is set once, on the first attempt.
func (j *ScrapeJob) MarkRunning() {
	now := time.Now()
	j.Status = JobStatusRunning
	j.Attempt++
	if j.StartedAt == nil {
		j.StartedAt = &now
	}
	j.UpdatedAt = now
}

// MarkRetrying records a transient failure ahead of re-enqueueing.
func (j *ScrapeJob) MarkRetrying(serr *ScrapeError) {
	j.Status = JobStatusRetrying
	j.applyError(serr)
	j.UpdatedAt = time.Now()
}

// MarkRequeued returns an interrupted job to the queue without burning an
// attempt, as after a process restart.
func (j *ScrapeJob) MarkRequeued() {
	j.Status = JobStatusQueued
	j.Progress = JobProgress{Stage: StageInit}
	j.UpdatedAt = time.Now()
}

// MarkCompleted finalizes a successful run with its artifact ids.
func (j *ScrapeJob) MarkCompleted(artifactIDs []string) {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.Progress.Stage = StageCompleted
	j.ArtifactIDs = artifactIDs
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// MarkFailed finalizes the job with its last classified failure.
func (j *ScrapeJob) MarkFailed(serr *ScrapeError) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.Progress.Stage = StageFailed
	j.applyError(serr)
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// MarkCancelled finalizes a cancelled job.
func (j *ScrapeJob) MarkCancelled() {
	now := time.Now()
	j.Status = JobStatusCancelled
	j.CompletedAt = &now
	j.UpdatedAt = now
}

func (j *ScrapeJob) applyError(serr *ScrapeError) {
	if serr == nil {
		return
	}
	j.ErrorKind = serr.Kind
	j.Error = serr.Message
	if serr.DiagnosticRef != "" {
		j.DiagnosticRef = serr.DiagnosticRef
	}
}

// SetProgress updates the step-level progress of a running job.
func (j *ScrapeJob) SetProgress(stage Stage, step string, done, total int) {
	j.Progress = JobProgress{Stage: stage, Step: step, StepsDone: done, StepsTotal: total}
	j.UpdatedAt = time.Now()
}
