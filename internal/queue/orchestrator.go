package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ed-baer97/mektab/internal/common"
	"github.com/ed-baer97/mektab/internal/interfaces"
	"github.com/ed-baer97/mektab/internal/models"
)

// Orchestrator is the submission surface for scrape jobs. It validates
// specs, coalesces duplicate submissions by fingerprint, and owns the
// worker pool lifecycle.
type Orchestrator struct {
	config   *common.Config
	storage  interfaces.StorageManager
	pool     *WorkerPool
	validate *validator.Validate
	logger   arbor.ILogger

	// Serializes the dedup-check-then-insert in Submit.
	submitMu sync.Mutex
}

// NewOrchestrator creates an orchestrator over the given worker pool.
func NewOrchestrator(config *common.Config, storage interfaces.StorageManager, pool *WorkerPool, logger arbor.ILogger) *Orchestrator {
	return &Orchestrator{
		config:   config,
		storage:  storage,
		pool:     pool,
		validate: validator.New(),
		logger:   logger,
	}
}

// Submit validates the spec and queues a job for it. A spec whose
// fingerprint matches a job that is still in flight does not create a
// second job; the existing id comes back instead.
func (o *Orchestrator) Submit(ctx context.Context, spec models.JobSpec) (string, error) {
	if err := o.validateSpec(&spec); err != nil {
		return "", err
	}

	o.submitMu.Lock()
	defer o.submitMu.Unlock()

	fingerprint := spec.Fingerprint()
	active, err := o.storage.JobStorage().GetActiveByFingerprint(ctx, fingerprint)
	if err != nil {
		return "", fmt.Errorf("failed to check for duplicate submission: %w", err)
	}
	if active != nil {
		o.logger.Info().
			Str("job_id", active.ID).
			Str("class", spec.ClassID).
			Int("period", spec.Period).
			Msg("Submission coalesced into job already in flight")
		return active.ID, nil
	}

	job := models.NewScrapeJob(spec)
	if err := o.storage.JobStorage().SaveJob(ctx, job); err != nil {
		return "", fmt.Errorf("failed to persist job: %w", err)
	}
	appendEvent(o.logger, o.storage.JobLogStorage(), job.ID, models.JobEvent{
		Type:    models.EventSubmitted,
		Message: fmt.Sprintf("school %s, class %s, period %d", spec.SchoolID, spec.ClassID, spec.Period),
	})

	if err := o.storage.QueueStorage().Enqueue(ctx, job.ID, time.Now()); err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	o.logger.Info().
		Str("job_id", job.ID).
		Str("school", spec.SchoolID).
		Str("class", spec.ClassID).
		Int("period", spec.Period).
		Str("locale", spec.Locale).
		Msg("Job submitted")
	return job.ID, nil
}

// SubmitBatch submits one job per spec, returning ids in input order. The
// first invalid spec stops the batch; jobs already submitted stay queued.
func (o *Orchestrator) SubmitBatch(ctx context.Context, specs []models.JobSpec) ([]string, error) {
	ids := make([]string, 0, len(specs))
	for i, spec := range specs {
		id, err := o.Submit(ctx, spec)
		if err != nil {
			return ids, fmt.Errorf("spec %d (class %s, period %d): %w", i, spec.ClassID, spec.Period, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Status returns the job's current snapshot.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (*models.ScrapeJob, error) {
	return o.storage.JobStorage().GetJob(ctx, jobID)
}

// Cancel stops a job. Queued and retrying jobs leave the queue and go
// straight to cancelled; a running job gets a cancel request that takes
// effect at its next stage boundary.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	job, err := o.storage.JobStorage().GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return fmt.Errorf("job %s already %s", jobID, job.Status)
	}

	// While the entry is still in the queue, removing it guarantees no
	// worker ever starts the job.
	removed, err := o.storage.QueueStorage().Remove(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to remove queue entry: %w", err)
	}
	if removed {
		appendEvent(o.logger, o.storage.JobLogStorage(), jobID, models.JobEvent{
			Type:    models.EventCancelled,
			Message: "cancelled while queued",
		})
		job.MarkCancelled()
		if err := o.storage.JobStorage().SaveJob(ctx, job); err != nil {
			return fmt.Errorf("failed to persist cancellation: %w", err)
		}
		o.logger.Info().Str("job_id", jobID).Msg("Queued job cancelled")
		return nil
	}

	// A worker owns it: set the flag, then interrupt the stage boundary
	job.CancelRequested = true
	if err := o.storage.JobStorage().SaveJob(ctx, job); err != nil {
		return fmt.Errorf("failed to persist cancel request: %w", err)
	}
	appendEvent(o.logger, o.storage.JobLogStorage(), jobID, models.JobEvent{
		Type:    models.EventLog,
		Level:   "info",
		Message: "cancellation requested",
	})
	o.pool.CancelRunning(jobID)
	o.logger.Info().Str("job_id", jobID).Msg("Cancellation requested for running job")
	return nil
}

// History lists jobs matching the filter, newest first.
func (o *Orchestrator) History(ctx context.Context, filter interfaces.JobFilter) ([]*models.ScrapeJob, error) {
	return o.storage.JobStorage().QueryJobs(ctx, filter)
}

// Events returns the job's append-only history.
func (o *Orchestrator) Events(ctx context.Context, jobID string) ([]models.JobEvent, error) {
	return o.storage.JobLogStorage().GetEvents(ctx, jobID)
}

// Start recovers jobs interrupted by the previous shutdown, then launches
// the worker pool.
func (o *Orchestrator) Start() error {
	if err := o.recoverInterrupted(); err != nil {
		o.logger.Warn().Err(err).Msg("Startup recovery incomplete")
	}
	return o.pool.Start()
}

// Stop shuts the worker pool down.
func (o *Orchestrator) Stop() {
	o.pool.Stop()
}

// recoverInterrupted requeues every non-terminal job found at startup.
// Jobs that were running when the process died lose their backoff position
// but keep their attempt count.
func (o *Orchestrator) recoverInterrupted() error {
	ctx := context.Background()

	for _, status := range []models.JobStatus{models.JobStatusQueued, models.JobStatusRunning, models.JobStatusRetrying} {
		jobs, err := o.storage.JobStorage().QueryJobs(ctx, interfaces.JobFilter{Status: status})
		if err != nil {
			return fmt.Errorf("failed to scan %s jobs: %w", status, err)
		}

		for _, job := range jobs {
			if job.CancelRequested {
				appendEvent(o.logger, o.storage.JobLogStorage(), job.ID, models.JobEvent{
					Type:    models.EventCancelled,
					Message: "cancel request honored after restart",
				})
				job.MarkCancelled()
				if err := o.storage.JobStorage().SaveJob(ctx, job); err != nil {
					o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to finalize cancelled job")
				}
				continue
			}

			// Drop any stale entry before re-enqueueing so the job never
			// appears twice.
			if _, err := o.storage.QueueStorage().Remove(ctx, job.ID); err != nil {
				o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to clear stale queue entry")
				continue
			}

			job.MarkRequeued()
			if err := o.storage.JobStorage().SaveJob(ctx, job); err != nil {
				o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to requeue job")
				continue
			}
			if err := o.storage.QueueStorage().Enqueue(ctx, job.ID, time.Now()); err != nil {
				o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to enqueue recovered job")
				continue
			}
			appendEvent(o.logger, o.storage.JobLogStorage(), job.ID, models.JobEvent{
				Type:    models.EventLog,
				Level:   "info",
				Message: "requeued after restart",
			})
			o.logger.Info().Str("job_id", job.ID).Str("was", string(status)).Msg("Job requeued after restart")
		}
	}

	return nil
}

// validateSpec applies struct validation plus checks the config can
// actually satisfy the spec (credential must exist).
func (o *Orchestrator) validateSpec(spec *models.JobSpec) error {
	if err := o.validate.Struct(spec); err != nil {
		return fmt.Errorf("invalid job spec: %w", err)
	}
	if _, ok := o.config.CredentialByRef(spec.CredentialRef); !ok {
		return fmt.Errorf("invalid job spec: credential %q is not configured", spec.CredentialRef)
	}
	return nil
}
