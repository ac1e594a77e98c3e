package queue

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ed-baer97/mektab/internal/common"
	"github.com/ed-baer97/mektab/internal/interfaces"
	"github.com/ed-baer97/mektab/internal/models"
	storage "github.com/ed-baer97/mektab/internal/storage/badger"
)

// Fakes for the pipeline seams. The storage underneath is real Badger.

type fakeBrowser struct{}

func (b *fakeBrowser) Navigate(ctx context.Context, url string) error { return nil }
func (b *fakeBrowser) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return nil
}
func (b *fakeBrowser) Click(ctx context.Context, selector string) error            { return nil }
func (b *fakeBrowser) SendKeys(ctx context.Context, selector, value string) error  { return nil }
func (b *fakeBrowser) Text(ctx context.Context, selector string) (string, error)   { return "", nil }
func (b *fakeBrowser) OuterHTML(ctx context.Context, selector string) (string, error) {
	return "", nil
}
func (b *fakeBrowser) Location(ctx context.Context) (string, error) { return "", nil }
func (b *fakeBrowser) Evaluate(ctx context.Context, script string, res interface{}) error {
	return nil
}
func (b *fakeBrowser) Screenshot(ctx context.Context) ([]byte, error) { return nil, nil }
func (b *fakeBrowser) SetCookies(ctx context.Context, cookies []models.Cookie) error {
	return nil
}
func (b *fakeBrowser) GetCookies(ctx context.Context, urls []string) ([]models.Cookie, error) {
	return nil, nil
}
func (b *fakeBrowser) ClearCookies(ctx context.Context) error { return nil }

type fakeBrowserPool struct {
	browser interfaces.Browser
}

func (p *fakeBrowserPool) Lease(ctx context.Context) (interfaces.Browser, func(), error) {
	return p.browser, func() {}, nil
}
func (p *fakeBrowserPool) Size() int  { return 1 }
func (p *fakeBrowserPool) Shutdown() {}

type fakeSessions struct {
	mu          sync.Mutex
	acquired    int
	released    int
	invalidated int
}

func (s *fakeSessions) Acquire(ctx context.Context, browser interfaces.Browser, credentialRef string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquired++
	return models.NewSession(credentialRef), nil
}
func (s *fakeSessions) Release(session *models.Session) {
	s.mu.Lock()
	s.released++
	s.mu.Unlock()
}
func (s *fakeSessions) Invalidate(session *models.Session) {
	s.mu.Lock()
	s.invalidated++
	s.mu.Unlock()
}
func (s *fakeSessions) Shutdown() {}

// scriptedExtractor consumes one scripted error per call; nil means the
// call succeeds with the canned result.
type scriptedExtractor struct {
	mu     sync.Mutex
	calls  int
	errs   []error
	result *models.ExtractionResult
}

func (e *scriptedExtractor) Run(ctx context.Context, job *models.ScrapeJob, browser interfaces.Browser, observe interfaces.StageObserver) (*models.ExtractionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if len(e.errs) > 0 {
		err := e.errs[0]
		e.errs = e.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if observe != nil {
		observe(models.StageExtractingTable, "collecting class table", 4, 5)
	}
	if e.result != nil {
		return e.result, nil
	}
	return &models.ExtractionResult{
		OrgName:     "School No. 7",
		ClassLabel:  "5B",
		Subject:     "Informatika",
		Period:      2,
		PeriodLabel: "2-tokcan",
		Rows: []models.RawRow{
			{Index: 0, Num: "1", Name: "Aliya A.", Grade: "5"},
			{Index: 1, Num: "2", Name: "Bolat B.", Grade: "4"},
		},
		CapturedAt: time.Now(),
	}, nil
}

func (e *scriptedExtractor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type fakeNormalizer struct {
	dropAll bool
}

func (n *fakeNormalizer) Normalize(result *models.ExtractionResult) ([]models.GradeRecord, []models.AttendanceRecord, *models.NormalizeReport) {
	report := &models.NormalizeReport{TotalRows: len(result.Rows)}
	if n.dropAll {
		for _, row := range result.Rows {
			report.Dropped = append(report.Dropped, row.Name)
		}
		return nil, nil, report
	}

	grades := make([]models.GradeRecord, 0, len(result.Rows))
	for i, row := range result.Rows {
		grades = append(grades, models.GradeRecord{
			Index:       i,
			StudentName: row.Name,
			ClassLabel:  result.ClassLabel,
			Subject:     result.Subject,
			Period:      result.Period,
			Value:       models.GradeValue{Kind: models.ValueNumeric, Numeric: 4, Raw: row.Grade},
			Complete:    true,
		})
	}
	return grades, nil, report
}

type fakeSynthesizer struct {
	mu     sync.Mutex
	inputs []interfaces.SynthesisInput
	err    error
}

func (s *fakeSynthesizer) Synthesize(ctx context.Context, input interfaces.SynthesisInput) (*models.ReportArtifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.inputs = append(s.inputs, input)
	return &models.ReportArtifact{
		ID:       "artifact-" + input.JobID,
		JobID:    input.JobID,
		Kind:     models.ArtifactSpreadsheet,
		Filename: models.ArtifactFilename(input.JobID, input.TemplateID, input.Locale, models.ArtifactSpreadsheet),
	}, nil
}

// pipelineFixture wires an orchestrator over real Badger storage and the
// fakes above.
type pipelineFixture struct {
	config       *common.Config
	storage      interfaces.StorageManager
	extractor    *scriptedExtractor
	normalizer   *fakeNormalizer
	synthesizer  *fakeSynthesizer
	sessions     *fakeSessions
	orchestrator *Orchestrator
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	config := common.NewDefaultConfig()
	config.Storage.Badger.Path = filepath.Join(t.TempDir(), "data")
	config.Workers.PoolSize = 1
	config.Workers.PollInterval = 10 * time.Millisecond
	config.Portal.RateLimit = 0
	config.Retry.MaxRetries = 2
	config.Retry.InitialBackoff = 20 * time.Millisecond
	config.Retry.MaxBackoff = 100 * time.Millisecond
	config.Retry.Multiplier = 2.0
	config.Credentials = []models.Credential{
		{Ref: "default", Username: "teacher", Secret: "secret123"},
	}

	logger := arbor.NewLogger()
	store, err := storage.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		t.Fatalf("Failed to open storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	extractor := &scriptedExtractor{}
	normalizer := &fakeNormalizer{}
	synthesizer := &fakeSynthesizer{}
	sessions := &fakeSessions{}

	pool := NewWorkerPool(config, store, &fakeBrowserPool{browser: &fakeBrowser{}}, sessions, extractor, normalizer, synthesizer, logger)
	orchestrator := NewOrchestrator(config, store, pool, logger)

	return &pipelineFixture{
		config:       config,
		storage:      store,
		extractor:    extractor,
		normalizer:   normalizer,
		synthesizer:  synthesizer,
		sessions:     sessions,
		orchestrator: orchestrator,
	}
}

func (f *pipelineFixture) start(t *testing.T) {
	t.Helper()
	if err := f.orchestrator.Start(); err != nil {
		t.Fatalf("Failed to start orchestrator: %v", err)
	}
	t.Cleanup(f.orchestrator.Stop)
}

func (f *pipelineFixture) waitForStatus(t *testing.T, jobID string, want models.JobStatus) *models.ScrapeJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var last *models.ScrapeJob
	for time.Now().Before(deadline) {
		job, err := f.storage.JobStorage().GetJob(context.Background(), jobID)
		if err == nil {
			last = job
			if job.Status == want {
				return job
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	if last != nil {
		t.Fatalf("Job %s never reached %s, last status %s (error %q)", jobID, want, last.Status, last.Error)
	}
	t.Fatalf("Job %s never reached %s", jobID, want)
	return nil
}

func validSpec() models.JobSpec {
	return models.JobSpec{
		SchoolID:      "school-007",
		ClassID:       "5B",
		Period:        2,
		CredentialRef: "default",
		Locale:        "ru",
		TemplateID:    "grades-standard",
		Subject:       "Informatika",
	}
}

func TestPipelineCompletesJob(t *testing.T) {
	f := newPipelineFixture(t)
	f.start(t)
	ctx := context.Background()

	jobID, err := f.orchestrator.Submit(ctx, validSpec())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	job := f.waitForStatus(t, jobID, models.JobStatusCompleted)
	if job.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1", job.Attempt)
	}
	if len(job.ArtifactIDs) != 1 {
		t.Fatalf("ArtifactIDs = %v, want one artifact", job.ArtifactIDs)
	}
	if job.SkippedClass {
		t.Error("SkippedClass should be false")
	}

	// Synthesis received the extraction context, not spec placeholders
	f.synthesizer.mu.Lock()
	inputs := f.synthesizer.inputs
	f.synthesizer.mu.Unlock()
	if len(inputs) != 1 {
		t.Fatalf("Synthesizer called %d times, want 1", len(inputs))
	}
	if inputs[0].OrgName != "School No. 7" || inputs[0].PeriodLabel != "2-tokcan" {
		t.Errorf("Synthesis input missing extraction context: %+v", inputs[0])
	}
	if len(inputs[0].Grades) != 2 {
		t.Errorf("Synthesis input has %d grades, want 2", len(inputs[0].Grades))
	}

	// Event history folds to the same status the job carries
	events, err := f.orchestrator.Events(ctx, jobID)
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if got := models.FoldStatus(events); got != models.JobStatusCompleted {
		t.Errorf("FoldStatus = %q, want %q", got, models.JobStatusCompleted)
	}
	if events[0].Type != models.EventSubmitted {
		t.Errorf("First event = %q, want %q", events[0].Type, models.EventSubmitted)
	}
	if events[len(events)-1].Type != models.EventCompleted {
		t.Errorf("Last event = %q, want %q", events[len(events)-1].Type, models.EventCompleted)
	}

	// Session bookkeeping balanced
	f.sessions.mu.Lock()
	defer f.sessions.mu.Unlock()
	if f.sessions.acquired != 1 || f.sessions.released != 1 {
		t.Errorf("Session acquire/release = %d/%d, want 1/1", f.sessions.acquired, f.sessions.released)
	}
}

func TestSubmitCoalescesDuplicates(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	first, err := f.orchestrator.Submit(ctx, validSpec())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// Same browsing work, different presentation: still a duplicate
	dup := validSpec()
	dup.Locale = "kk"
	dup.TemplateID = "grades-compact"
	second, err := f.orchestrator.Submit(ctx, dup)
	if err != nil {
		t.Fatalf("Duplicate submit failed: %v", err)
	}
	if second != first {
		t.Errorf("Duplicate submission created job %s, want coalesced %s", second, first)
	}

	// Different period is genuinely different work
	other := validSpec()
	other.Period = 3
	third, err := f.orchestrator.Submit(ctx, other)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if third == first {
		t.Error("Different period should not coalesce")
	}

	count, err := f.storage.JobStorage().CountJobs(ctx)
	if err != nil {
		t.Fatalf("CountJobs failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Job count = %d, want 2", count)
	}

	// Once the job finishes, the same spec may run again
	job, err := f.storage.JobStorage().GetJob(ctx, first)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	job.MarkRunning()
	job.MarkCompleted(nil)
	if err := f.storage.JobStorage().SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob failed: %v", err)
	}

	rerun, err := f.orchestrator.Submit(ctx, validSpec())
	if err != nil {
		t.Fatalf("Resubmit failed: %v", err)
	}
	if rerun == first {
		t.Error("Finished fingerprint should not coalesce new submissions")
	}
}

func TestSubmitRejectsInvalidSpec(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	missing := validSpec()
	missing.ClassID = ""
	if _, err := f.orchestrator.Submit(ctx, missing); err == nil {
		t.Error("Expected error for missing class")
	}

	badPeriod := validSpec()
	badPeriod.Period = 5
	if _, err := f.orchestrator.Submit(ctx, badPeriod); err == nil {
		t.Error("Expected error for period out of range")
	}

	badLocale := validSpec()
	badLocale.Locale = "en"
	if _, err := f.orchestrator.Submit(ctx, badLocale); err == nil {
		t.Error("Expected error for unsupported locale")
	}

	badCred := validSpec()
	badCred.CredentialRef = "nobody"
	if _, err := f.orchestrator.Submit(ctx, badCred); err == nil {
		t.Error("Expected error for unknown credential")
	}

	count, err := f.storage.JobStorage().CountJobs(ctx)
	if err != nil {
		t.Fatalf("CountJobs failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Invalid specs persisted %d jobs, want 0", count)
	}
}

func TestTransientFailureRetriesThenCompletes(t *testing.T) {
	f := newPipelineFixture(t)
	f.extractor.errs = []error{
		models.NewScrapeError(models.ErrKindNavigationTimeout, "grades link never appeared"),
		models.NewScrapeError(models.ErrKindNavigationTimeout, "period tab never appeared"),
		nil,
	}
	f.start(t)
	ctx := context.Background()

	jobID, err := f.orchestrator.Submit(ctx, validSpec())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	job := f.waitForStatus(t, jobID, models.JobStatusCompleted)
	if job.Attempt != 3 {
		t.Errorf("Attempt = %d, want 3", job.Attempt)
	}
	if got := f.extractor.callCount(); got != 3 {
		t.Errorf("Extractor called %d times, want 3", got)
	}

	events, err := f.orchestrator.Events(ctx, jobID)
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	var retries, errorsSeen int
	for _, e := range events {
		switch e.Type {
		case models.EventRetry:
			retries++
		case models.EventError:
			errorsSeen++
		}
	}
	if retries != 2 {
		t.Errorf("Retry events = %d, want 2", retries)
	}
	if errorsSeen != 2 {
		t.Errorf("Error events = %d, want 2", errorsSeen)
	}
}

func TestSessionExpiredResumesWithinAttempt(t *testing.T) {
	f := newPipelineFixture(t)
	f.extractor.errs = []error{
		models.NewScrapeError(models.ErrKindSessionExpired, "landed on login page"),
		nil,
	}
	f.start(t)
	ctx := context.Background()

	jobID, err := f.orchestrator.Submit(ctx, validSpec())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// A single mid-run expiry re-logs-in and resumes without burning the
	// attempt.
	job := f.waitForStatus(t, jobID, models.JobStatusCompleted)
	if job.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1", job.Attempt)
	}
	if got := f.extractor.callCount(); got != 2 {
		t.Errorf("Extractor called %d times, want 2", got)
	}

	f.sessions.mu.Lock()
	acquired, released, invalidated := f.sessions.acquired, f.sessions.released, f.sessions.invalidated
	f.sessions.mu.Unlock()
	if invalidated != 1 {
		t.Errorf("Session invalidated %d times, want 1", invalidated)
	}
	if acquired != 2 || released != 2 {
		t.Errorf("Session acquire/release = %d/%d, want 2/2", acquired, released)
	}

	events, err := f.orchestrator.Events(ctx, jobID)
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	var retries, expiries int
	for _, e := range events {
		switch e.Type {
		case models.EventRetry:
			retries++
		case models.EventError:
			if e.ErrorKind == models.ErrKindSessionExpired {
				expiries++
			}
		}
	}
	if retries != 0 {
		t.Errorf("Retry events = %d, want 0", retries)
	}
	if expiries != 1 {
		t.Errorf("Session expiry events = %d, want 1", expiries)
	}
}

func TestSessionExpiredTwiceFallsBackToRetry(t *testing.T) {
	f := newPipelineFixture(t)
	f.extractor.errs = []error{
		models.NewScrapeError(models.ErrKindSessionExpired, "landed on login page"),
		models.NewScrapeError(models.ErrKindSessionExpired, "landed on login page again"),
		nil,
	}
	f.start(t)
	ctx := context.Background()

	jobID, err := f.orchestrator.Submit(ctx, validSpec())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// Second expiry in the same attempt stops the resume loop; the job goes
	// through a normal retry and succeeds on attempt two.
	job := f.waitForStatus(t, jobID, models.JobStatusCompleted)
	if job.Attempt != 2 {
		t.Errorf("Attempt = %d, want 2", job.Attempt)
	}
	if got := f.extractor.callCount(); got != 3 {
		t.Errorf("Extractor called %d times, want 3", got)
	}

	f.sessions.mu.Lock()
	invalidated := f.sessions.invalidated
	f.sessions.mu.Unlock()
	if invalidated != 2 {
		t.Errorf("Session invalidated %d times, want 2", invalidated)
	}

	events, err := f.orchestrator.Events(ctx, jobID)
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	var retries int
	for _, e := range events {
		if e.Type == models.EventRetry {
			retries++
		}
	}
	if retries != 1 {
		t.Errorf("Retry events = %d, want 1", retries)
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	f := newPipelineFixture(t)
	f.extractor.errs = []error{
		models.NewScrapeError(models.ErrKindNavigationTimeout, "timeout 1"),
		models.NewScrapeError(models.ErrKindNavigationTimeout, "timeout 2"),
		models.NewScrapeError(models.ErrKindNavigationTimeout, "timeout 3"),
	}
	f.start(t)
	ctx := context.Background()

	jobID, err := f.orchestrator.Submit(ctx, validSpec())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// MaxRetries=2 means 3 attempts total
	job := f.waitForStatus(t, jobID, models.JobStatusFailed)
	if job.Attempt != 3 {
		t.Errorf("Attempt = %d, want 3", job.Attempt)
	}
	if job.ErrorKind != models.ErrKindNavigationTimeout {
		t.Errorf("ErrorKind = %q, want %q", job.ErrorKind, models.ErrKindNavigationTimeout)
	}

	events, err := f.orchestrator.Events(ctx, jobID)
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if got := models.FoldStatus(events); got != models.JobStatusFailed {
		t.Errorf("FoldStatus = %q, want %q", got, models.JobStatusFailed)
	}
}

func TestPermanentFailureDoesNotRetry(t *testing.T) {
	f := newPipelineFixture(t)
	f.extractor.errs = []error{
		models.NewScrapeError(models.ErrKindAuth, "portal rejected credentials"),
	}
	f.start(t)
	ctx := context.Background()

	jobID, err := f.orchestrator.Submit(ctx, validSpec())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	job := f.waitForStatus(t, jobID, models.JobStatusFailed)
	if job.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1 (no retry for auth failures)", job.Attempt)
	}
	if got := f.extractor.callCount(); got != 1 {
		t.Errorf("Extractor called %d times, want 1", got)
	}
	if job.ErrorKind != models.ErrKindAuth {
		t.Errorf("ErrorKind = %q, want %q", job.ErrorKind, models.ErrKindAuth)
	}
}

func TestCancelQueuedJobNeverRuns(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	// Submit before any worker exists, then cancel
	jobID, err := f.orchestrator.Submit(ctx, validSpec())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := f.orchestrator.Cancel(ctx, jobID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	job, err := f.orchestrator.Status(ctx, jobID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if job.Status != models.JobStatusCancelled {
		t.Fatalf("Status = %q, want %q", job.Status, models.JobStatusCancelled)
	}

	// Workers coming up later must not resurrect it
	f.start(t)
	time.Sleep(100 * time.Millisecond)
	if got := f.extractor.callCount(); got != 0 {
		t.Errorf("Extractor called %d times for a cancelled job, want 0", got)
	}

	events, err := f.orchestrator.Events(ctx, jobID)
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	for _, e := range events {
		if e.Type == models.EventStarted {
			t.Error("Cancelled-while-queued job must never emit a started event")
		}
	}
	if got := models.FoldStatus(events); got != models.JobStatusCancelled {
		t.Errorf("FoldStatus = %q, want %q", got, models.JobStatusCancelled)
	}
}

func TestCancelTerminalJobFails(t *testing.T) {
	f := newPipelineFixture(t)
	f.start(t)
	ctx := context.Background()

	jobID, err := f.orchestrator.Submit(ctx, validSpec())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	f.waitForStatus(t, jobID, models.JobStatusCompleted)

	if err := f.orchestrator.Cancel(ctx, jobID); err == nil {
		t.Error("Expected error cancelling a completed job")
	}
}

func TestSkippedClassCompletesWithoutArtifacts(t *testing.T) {
	f := newPipelineFixture(t)
	f.extractor.errs = []error{models.ErrNoCriteria}
	f.start(t)
	ctx := context.Background()

	jobID, err := f.orchestrator.Submit(ctx, validSpec())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	job := f.waitForStatus(t, jobID, models.JobStatusCompleted)
	if !job.SkippedClass {
		t.Error("SkippedClass should be set")
	}
	if len(job.ArtifactIDs) != 0 {
		t.Errorf("ArtifactIDs = %v, want none", job.ArtifactIDs)
	}

	f.synthesizer.mu.Lock()
	defer f.synthesizer.mu.Unlock()
	if len(f.synthesizer.inputs) != 0 {
		t.Error("Synthesizer must not run for a skipped class")
	}
}

func TestAllRowsDroppedFailsPermanently(t *testing.T) {
	f := newPipelineFixture(t)
	f.normalizer.dropAll = true
	f.start(t)
	ctx := context.Background()

	jobID, err := f.orchestrator.Submit(ctx, validSpec())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	job := f.waitForStatus(t, jobID, models.JobStatusFailed)
	if job.ErrorKind != models.ErrKindPartialData {
		t.Errorf("ErrorKind = %q, want %q", job.ErrorKind, models.ErrKindPartialData)
	}
	if job.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1 (partial data is permanent)", job.Attempt)
	}
}

func TestRecoveryRequeuesInterruptedJobs(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	// Simulate a job the previous process died holding: status running,
	// no queue entry.
	job := models.NewScrapeJob(validSpec())
	job.MarkRunning()
	if err := f.storage.JobStorage().SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob failed: %v", err)
	}

	f.start(t)

	recovered := f.waitForStatus(t, job.ID, models.JobStatusCompleted)
	if recovered.ID != job.ID {
		t.Fatalf("Recovered wrong job")
	}
	if got := f.extractor.callCount(); got != 1 {
		t.Errorf("Extractor called %d times, want 1", got)
	}
}
