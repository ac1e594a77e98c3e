package interfaces

import (
	"context"
	"time"

	"github.com/ed-baer97/mektab/internal/models"
)

// JobFilter narrows history queries. Zero values mean "any".
type JobFilter struct {
	SchoolID      string
	CredentialRef string
	Status        models.JobStatus
	From          time.Time
	To            time.Time
	Limit         int
}

// JobStorage - persisted scrape job index
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.ScrapeJob) error
	GetJob(ctx context.Context, id string) (*models.ScrapeJob, error)

	// GetActiveByFingerprint returns the non-terminal job carrying the
	// fingerprint, or nil when every job with it already finished.
	GetActiveByFingerprint(ctx context.Context, fingerprint string) (*models.ScrapeJob, error)

	QueryJobs(ctx context.Context, filter JobFilter) ([]*models.ScrapeJob, error)
	DeleteJob(ctx context.Context, id string) error
	CountJobs(ctx context.Context) (int, error)
}

// JobLogStorage - append-only per-job event history
type JobLogStorage interface {
	// Append stores the event with the next per-job sequence number.
	Append(ctx context.Context, jobID string, event models.JobEvent) error

	// GetEvents returns the job's events in append order.
	GetEvents(ctx context.Context, jobID string) ([]models.JobEvent, error)

	// FoldStatus derives the job's status from its event sequence alone.
	FoldStatus(ctx context.Context, jobID string) (models.JobStatus, error)

	DeleteEvents(ctx context.Context, jobID string) error
}

// ArtifactStorage - synthesized document registry
type ArtifactStorage interface {
	SaveArtifact(ctx context.Context, artifact *models.ReportArtifact) error
	GetArtifact(ctx context.Context, id string) (*models.ReportArtifact, error)
	GetByJob(ctx context.Context, jobID string) ([]*models.ReportArtifact, error)
	DeleteArtifact(ctx context.Context, id string) error
}

// QueueStorage - FIFO of pending job ids. Entries become visible at their
// VisibleAfter time, which is how retry backoff is expressed: a delayed
// re-enqueue rather than a sleeping worker.
type QueueStorage interface {
	Enqueue(ctx context.Context, jobID string, visibleAfter time.Time) error

	// Dequeue removes and returns the oldest visible entry. ok is false
	// when nothing is ready.
	Dequeue(ctx context.Context, now time.Time) (jobID string, ok bool, err error)

	// Remove deletes a pending entry by job id; used by Cancel so a queued
	// job never starts. Returns true if an entry was removed.
	Remove(ctx context.Context, jobID string) (bool, error)

	Len(ctx context.Context) (int, error)
}

// StorageManager - composite interface for all storage operations
type StorageManager interface {
	JobStorage() JobStorage
	JobLogStorage() JobLogStorage
	ArtifactStorage() ArtifactStorage
	QueueStorage() QueueStorage

	// RunGC compacts the underlying store. Called after retention pruning;
	// the store reclaims deleted space only when asked.
	RunGC() error

	Close() error
}
