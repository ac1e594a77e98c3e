package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ed-baer97/mektab/internal/common"
	"github.com/ed-baer97/mektab/internal/interfaces"
	"github.com/ed-baer97/mektab/internal/models"
)

// WorkerPool runs queued scrape jobs through the full pipeline: browser
// lease, session acquire, extraction, normalization, synthesis. Each worker
// polls the queue on a ticker; concurrency is bounded by the pool size.
type WorkerPool struct {
	config      *common.Config
	storage     interfaces.StorageManager
	browsers    interfaces.BrowserPool
	sessions    interfaces.SessionManager
	extractor   interfaces.Extractor
	normalizer  interfaces.Normalizer
	synthesizer interfaces.Synthesizer
	policy      *RetryPolicy
	limiter     *rate.Limiter
	logger      arbor.ILogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// running maps a job id to the cancel func of its execution context so
	// Cancel can interrupt the job at the next stage boundary.
	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewWorkerPool creates a worker pool over the given pipeline services.
func NewWorkerPool(
	config *common.Config,
	storage interfaces.StorageManager,
	browsers interfaces.BrowserPool,
	sessions interfaces.SessionManager,
	extractor interfaces.Extractor,
	normalizer interfaces.Normalizer,
	synthesizer interfaces.Synthesizer,
	logger arbor.ILogger,
) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		config:      config,
		storage:     storage,
		browsers:    browsers,
		sessions:    sessions,
		extractor:   extractor,
		normalizer:  normalizer,
		synthesizer: synthesizer,
		policy:      NewRetryPolicy(&config.Retry),
		limiter:     rate.NewLimiter(rate.Every(config.Portal.RateLimit), 1),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		running:     make(map[string]context.CancelFunc),
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start() error {
	wp.logger.Info().
		Int("pool_size", wp.config.Workers.PoolSize).
		Msg("Starting worker pool")

	for i := 0; i < wp.config.Workers.PoolSize; i++ {
		workerID := i
		wp.wg.Add(1)
		common.SafeGo(wp.logger, fmt.Sprintf("worker-%d", workerID), func() {
			defer wp.wg.Done()
			wp.worker(workerID)
		})
	}

	return nil
}

// Stop cancels all workers and waits for in-flight jobs to wind down.
func (wp *WorkerPool) Stop() {
	wp.logger.Info().Msg("Stopping worker pool")
	wp.cancel()
	wp.wg.Wait()
}

// CancelRunning interrupts the job's execution context if a worker holds
// it. Returns false when no worker is executing the job right now.
func (wp *WorkerPool) CancelRunning(jobID string) bool {
	wp.mu.Lock()
	cancelJob, ok := wp.running[jobID]
	wp.mu.Unlock()

	if ok {
		cancelJob()
	}
	return ok
}

// worker is the main poll loop.
func (wp *WorkerPool) worker(workerID int) {
	// Stagger worker starts so they don't hit the queue in lockstep
	stagger := (wp.config.Workers.PollInterval / time.Duration(wp.config.Workers.PoolSize)) * time.Duration(workerID)
	if stagger > 0 {
		select {
		case <-wp.ctx.Done():
			return
		case <-time.After(stagger):
		}
	}

	wp.logger.Debug().Int("worker_id", workerID).Msg("Worker started")

	ticker := time.NewTicker(wp.config.Workers.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debug().Int("worker_id", workerID).Msg("Worker stopped")
			return
		case <-ticker.C:
			wp.processNext(workerID)
		}
	}
}

// processNext claims the oldest visible queue entry and runs it.
func (wp *WorkerPool) processNext(workerID int) {
	jobID, ok, err := wp.storage.QueueStorage().Dequeue(wp.ctx, time.Now())
	if err != nil {
		wp.logger.Warn().Err(err).Int("worker_id", workerID).Msg("Queue poll failed")
		return
	}
	if !ok {
		return
	}

	job, err := wp.storage.JobStorage().GetJob(wp.ctx, jobID)
	if err != nil {
		wp.logger.Error().Err(err).Str("job_id", jobID).Msg("Dequeued job missing from index, dropping entry")
		return
	}

	wp.runJob(workerID, job)
}

// runJob executes the scrape pipeline for one job attempt.
func (wp *WorkerPool) runJob(workerID int, job *models.ScrapeJob) {
	jobCtx, cancelJob := context.WithCancel(wp.ctx)
	defer cancelJob()

	wp.mu.Lock()
	wp.running[job.ID] = cancelJob
	wp.mu.Unlock()
	defer func() {
		wp.mu.Lock()
		delete(wp.running, job.ID)
		wp.mu.Unlock()
	}()

	logger := wp.logger.WithCorrelationId(job.ID)

	// Cancellation may have landed while the entry sat in the queue
	if job.CancelRequested {
		wp.finishCancelled(job)
		return
	}

	// Pace job starts; the portal tolerates little traffic
	if err := wp.limiter.Wait(jobCtx); err != nil {
		wp.interrupted(jobCtx, job)
		return
	}

	job.MarkRunning()
	wp.saveJob(job)
	appendEvent(wp.logger, wp.storage.JobLogStorage(), job.ID, models.JobEvent{
		Type:    models.EventStarted,
		Message: fmt.Sprintf("attempt %d of %d", job.Attempt, wp.policy.MaxAttempts),
		Attempt: job.Attempt,
	})
	logger.Info().
		Int("worker_id", workerID).
		Int("attempt", job.Attempt).
		Str("class", job.Spec.ClassID).
		Int("period", job.Spec.Period).
		Msg("Job started")

	browser, release, err := wp.browsers.Lease(jobCtx)
	if err != nil {
		wp.handleFailure(jobCtx, job, models.Classify(err))
		return
	}
	defer release()

	if wp.interrupted(jobCtx, job) {
		return
	}

	session, err := wp.sessions.Acquire(jobCtx, browser, job.Spec.CredentialRef)
	if err != nil {
		wp.handleFailure(jobCtx, job, models.Classify(err))
		return
	}
	sessionHeld := true
	defer func() {
		if sessionHeld {
			wp.sessions.Release(session)
		}
	}()

	if wp.interrupted(jobCtx, job) {
		return
	}

	observe := func(stage models.Stage, step string, done, total int) {
		job.SetProgress(stage, step, done, total)
		wp.saveJob(job)
		appendEvent(wp.logger, wp.storage.JobLogStorage(), job.ID, models.JobEvent{
			Type:    models.EventStage,
			Stage:   stage,
			Message: step,
			Attempt: job.Attempt,
		})
	}

	// A stale session surfaces as a login redirect mid-run. One re-login
	// and resume per attempt; a second expiry goes through the retry path.
	var result *models.ExtractionResult
	resumed := false
	for {
		result, err = wp.extractor.Run(jobCtx, job, browser, observe)
		if err == nil || !resumable(err) || resumed {
			break
		}
		resumed = true

		appendEvent(wp.logger, wp.storage.JobLogStorage(), job.ID, models.JobEvent{
			Type:      models.EventError,
			ErrorKind: models.ErrKindSessionExpired,
			Message:   "session expired mid-run, re-login and resume",
			Attempt:   job.Attempt,
		})
		logger.Warn().Str("credential", job.Spec.CredentialRef).Msg("Session expired mid-run, re-login and resume")

		wp.sessions.Invalidate(session)
		wp.sessions.Release(session)
		sessionHeld = false

		session, err = wp.sessions.Acquire(jobCtx, browser, job.Spec.CredentialRef)
		if err != nil {
			wp.handleFailure(jobCtx, job, models.Classify(err))
			return
		}
		sessionHeld = true

		if wp.interrupted(jobCtx, job) {
			return
		}
	}
	if err != nil {
		if errors.Is(err, models.ErrNoCriteria) {
			wp.finishSkipped(job)
			return
		}
		serr := models.Classify(err)
		if serr.Kind == models.ErrKindSessionExpired {
			wp.sessions.Invalidate(session)
		}
		wp.handleFailure(jobCtx, job, serr)
		return
	}

	if wp.interrupted(jobCtx, job) {
		return
	}

	wp.setStage(job, models.StageParsing, "normalizing rows")
	grades, attendance, report := wp.normalizer.Normalize(result)

	if report.TotalRows > 0 && len(grades) == 0 && len(attendance) == 0 {
		wp.handleFailure(jobCtx, job, models.NewScrapeError(models.ErrKindPartialData,
			"no usable rows: all %d raw rows dropped", report.TotalRows))
		return
	}
	if report.Incomplete > 0 || len(report.Dropped) > 0 {
		msg := fmt.Sprintf("normalization: %d incomplete rows, %d dropped", report.Incomplete, len(report.Dropped))
		if len(report.Dropped) > 0 {
			msg += " (" + strings.Join(report.Dropped, "; ") + ")"
		}
		appendEvent(wp.logger, wp.storage.JobLogStorage(), job.ID, models.JobEvent{
			Type:    models.EventLog,
			Level:   "warn",
			Message: msg,
			Attempt: job.Attempt,
		})
	}

	wp.setStage(job, models.StageParsing, "synthesizing report")
	artifact, err := wp.synthesizer.Synthesize(jobCtx, interfaces.SynthesisInput{
		JobID:       job.ID,
		TemplateID:  job.Spec.TemplateID,
		Locale:      job.Spec.Locale,
		OrgName:     result.OrgName,
		ClassLabel:  result.ClassLabel,
		Teacher:     result.Teacher,
		Subject:     result.Subject,
		Period:      job.Spec.Period,
		PeriodLabel: result.PeriodLabel,
		Grades:      grades,
		Attendance:  attendance,
	})
	if err != nil {
		wp.handleFailure(jobCtx, job, models.Classify(err))
		return
	}

	appendEvent(wp.logger, wp.storage.JobLogStorage(), job.ID, models.JobEvent{
		Type:       models.EventArtifact,
		ArtifactID: artifact.ID,
		Message:    artifact.Filename,
		Attempt:    job.Attempt,
	})

	// Terminal events land before the status flips; anyone who sees a
	// terminal job finds the matching event already in its history.
	appendEvent(wp.logger, wp.storage.JobLogStorage(), job.ID, models.JobEvent{
		Type:    models.EventCompleted,
		Message: fmt.Sprintf("completed with artifact %s", artifact.Filename),
		Attempt: job.Attempt,
	})
	job.MarkCompleted([]string{artifact.ID})
	wp.saveJob(job)

	logger.Info().
		Int("worker_id", workerID).
		Str("artifact", artifact.Filename).
		Int("grades", len(grades)).
		Int("attendance", len(attendance)).
		Msg("Job completed")
}

// handleFailure classifies the attempt outcome into retry or failure.
func (wp *WorkerPool) handleFailure(jobCtx context.Context, job *models.ScrapeJob, serr *models.ScrapeError) {
	// Shutdown interruptions are not attempts gone wrong; startup recovery
	// requeues the job untouched.
	if wp.ctx.Err() != nil {
		wp.logger.Info().Str("job_id", job.ID).Msg("Job interrupted by shutdown")
		return
	}
	// A cancel request that surfaced as a context error
	if jobCtx.Err() != nil || wp.cancelRequested(job) {
		wp.finishCancelled(job)
		return
	}

	appendEvent(wp.logger, wp.storage.JobLogStorage(), job.ID, models.JobEvent{
		Type:      models.EventError,
		Level:     "error",
		ErrorKind: serr.Kind,
		Message:   serr.Message,
		Attempt:   job.Attempt,
	})

	if wp.policy.ShouldRetry(job.Attempt, serr) {
		backoff := wp.policy.Backoff(job.Attempt)
		job.MarkRetrying(serr)
		wp.saveJob(job)
		appendEvent(wp.logger, wp.storage.JobLogStorage(), job.ID, models.JobEvent{
			Type:      models.EventRetry,
			Level:     "warn",
			ErrorKind: serr.Kind,
			Message:   fmt.Sprintf("attempt %d failed (%s), retry in %s", job.Attempt, serr.Kind, backoff.Round(time.Millisecond)),
			Attempt:   job.Attempt,
		})

		if err := wp.storage.QueueStorage().Enqueue(context.Background(), job.ID, time.Now().Add(backoff)); err != nil {
			wp.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to requeue job, failing it")
			appendEvent(wp.logger, wp.storage.JobLogStorage(), job.ID, models.JobEvent{
				Type:      models.EventFailed,
				Level:     "error",
				ErrorKind: serr.Kind,
				Message:   serr.Message,
				Attempt:   job.Attempt,
			})
			job.MarkFailed(serr)
			wp.saveJob(job)
			return
		}

		wp.logger.Warn().
			Str("job_id", job.ID).
			Str("kind", string(serr.Kind)).
			Int("attempt", job.Attempt).
			Str("backoff", backoff.Round(time.Millisecond).String()).
			Msg("Job scheduled for retry")
		return
	}

	appendEvent(wp.logger, wp.storage.JobLogStorage(), job.ID, models.JobEvent{
		Type:      models.EventFailed,
		Level:     "error",
		ErrorKind: serr.Kind,
		Message:   serr.Message,
		Attempt:   job.Attempt,
	})
	job.MarkFailed(serr)
	wp.saveJob(job)

	wp.logger.Error().
		Str("job_id", job.ID).
		Str("kind", string(serr.Kind)).
		Int("attempt", job.Attempt).
		Str("error", serr.Message).
		Msg("Job failed")
}

// interrupted checks the stage boundary for shutdown or cancellation.
func (wp *WorkerPool) interrupted(jobCtx context.Context, job *models.ScrapeJob) bool {
	if wp.ctx.Err() != nil {
		// Shutdown: the job stays non-terminal and is requeued on restart
		wp.logger.Info().Str("job_id", job.ID).Msg("Job interrupted by shutdown")
		return true
	}
	if jobCtx.Err() != nil || wp.cancelRequested(job) {
		wp.finishCancelled(job)
		return true
	}
	return false
}

// cancelRequested re-reads the stored flag; Cancel may have set it after
// this worker loaded the job.
func (wp *WorkerPool) cancelRequested(job *models.ScrapeJob) bool {
	stored, err := wp.storage.JobStorage().GetJob(context.Background(), job.ID)
	if err != nil {
		return false
	}
	return stored.CancelRequested
}

func (wp *WorkerPool) finishCancelled(job *models.ScrapeJob) {
	appendEvent(wp.logger, wp.storage.JobLogStorage(), job.ID, models.JobEvent{
		Type:    models.EventCancelled,
		Message: "cancelled on request",
		Attempt: job.Attempt,
	})
	job.MarkCancelled()
	wp.saveJob(job)
	wp.logger.Info().Str("job_id", job.ID).Msg("Job cancelled")
}

// finishSkipped completes a job whose class has no grading criteria set.
// There is nothing to extract or synthesize, but the outcome is not an
// error: the class is recorded as skipped.
func (wp *WorkerPool) finishSkipped(job *models.ScrapeJob) {
	appendEvent(wp.logger, wp.storage.JobLogStorage(), job.ID, models.JobEvent{
		Type:    models.EventLog,
		Level:   "warn",
		Message: "class skipped: grading criteria not set",
		Attempt: job.Attempt,
	})
	appendEvent(wp.logger, wp.storage.JobLogStorage(), job.ID, models.JobEvent{
		Type:    models.EventCompleted,
		Message: "completed without artifacts (class skipped)",
		Attempt: job.Attempt,
	})
	job.SkippedClass = true
	job.MarkCompleted(nil)
	wp.saveJob(job)
	wp.logger.Info().Str("job_id", job.ID).Str("class", job.Spec.ClassID).Msg("Class skipped, no grading criteria")
}

// setStage updates the job's stage without disturbing the step counters.
func (wp *WorkerPool) setStage(job *models.ScrapeJob, stage models.Stage, step string) {
	job.SetProgress(stage, step, job.Progress.StepsDone, job.Progress.StepsTotal)
	wp.saveJob(job)
	appendEvent(wp.logger, wp.storage.JobLogStorage(), job.ID, models.JobEvent{
		Type:    models.EventStage,
		Stage:   stage,
		Message: step,
		Attempt: job.Attempt,
	})
}

func (wp *WorkerPool) saveJob(job *models.ScrapeJob) {
	if err := wp.storage.JobStorage().SaveJob(context.Background(), job); err != nil {
		wp.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to persist job state")
	}
}

// appendEvent writes a history event; append failures are logged, never
// allowed to break the pipeline.
func appendEvent(logger arbor.ILogger, store interfaces.JobLogStorage, jobID string, event models.JobEvent) {
	if err := store.Append(context.Background(), jobID, event); err != nil {
		logger.Warn().Err(err).Str("job_id", jobID).Str("event", string(event.Type)).Msg("Failed to append job event")
	}
}

// resumable reports whether the failure is a session expiry worth an
// in-attempt re-login.
func resumable(err error) bool {
	if errors.Is(err, models.ErrNoCriteria) {
		return false
	}
	return models.Classify(err).Kind == models.ErrKindSessionExpired
}
