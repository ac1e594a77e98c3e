package portal

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ed-baer97/mektab/internal/common"
	"github.com/ed-baer97/mektab/internal/interfaces"
	"github.com/ed-baer97/mektab/internal/models"
)

// Service drives the portal extraction sequence for one job: ensure the
// interface language, walk to the class journal, select the period tab,
// capture the rendered table, and parse it into raw rows. Navigation is a
// data-driven step table; the runner checks cancellation and session
// validity between steps so a cancel request or an expired session never
// waits for a full page timeout.
type Service struct {
	config *common.Config
	logger arbor.ILogger
}

// NewService creates the portal extractor.
func NewService(config *common.Config, logger arbor.ILogger) *Service {
	return &Service{
		config: config,
		logger: logger,
	}
}

// step is one bounded unit of the sequence. Every wait inside run is capped
// by the portal step timeout, so a step either advances or fails classified.
type step struct {
	stage models.Stage
	name  string
	run   func(ctx context.Context, ex *execution) error
}

// execution accumulates page state across steps of a single run.
type execution struct {
	job     *models.ScrapeJob
	browser interfaces.Browser
	logger  arbor.ILogger

	class    models.PortalClass
	tabLabel string
	paneID   string
	paneHTML string

	result *models.ExtractionResult
}

func (s *Service) plan() []step {
	return []step{
		{models.StageNavigating, "set interface language", s.stepEnsureLanguage},
		{models.StageNavigating, "open grades section", s.stepOpenGrades},
		{models.StageNavigating, "locate class row", s.stepLocateClass},
		{models.StageNavigating, "open assessment journal", s.stepOpenJournal},
		{models.StageSelectingPeriod, "select period tab", s.stepSelectPeriod},
		{models.StageExtractingTable, "capture period table", s.stepCaptureTable},
		{models.StageParsing, "parse student rows", s.stepParseRows},
	}
}

// Run executes the extraction sequence against an already authenticated
// browser. Errors come back classified: ErrNoCriteria for classes without
// assessment data, session expiry and element timeouts as transient kinds,
// unrecognizable page structure as permanent LayoutChanged with a diagnostic
// snapshot attached.
func (s *Service) Run(ctx context.Context, job *models.ScrapeJob, browser interfaces.Browser, observe interfaces.StageObserver) (*models.ExtractionResult, error) {
	ex := &execution{
		job:     job,
		browser: browser,
		logger:  s.logger.WithCorrelationId(job.ID),
		result: &models.ExtractionResult{
			Period: job.Spec.Period,
		},
	}

	steps := s.plan()
	for i, st := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// The first step navigates immediately; from then on a redirect to
		// the login screen between steps means the session died under us.
		if i > 0 {
			if err := s.checkSession(ctx, ex); err != nil {
				return nil, err
			}
		}
		if observe != nil {
			observe(st.stage, st.name, i, len(steps))
		}

		ex.logger.Debug().
			Str("stage", string(st.stage)).
			Str("step", st.name).
			Msg("Portal step")

		if err := st.run(ctx, ex); err != nil {
			return nil, s.classifyStepError(ctx, ex, st, err)
		}
	}

	if observe != nil {
		observe(models.StageParsing, "extraction complete", len(steps), len(steps))
	}

	ex.result.CapturedAt = time.Now()
	ex.logger.Info().
		Str("class", ex.result.ClassLabel).
		Str("subject", ex.result.Subject).
		Str("period_tab", ex.result.PeriodLabel).
		Int("rows", len(ex.result.Rows)).
		Msg("Extraction complete")

	return ex.result, nil
}

// checkSession sniffs the current URL. The portal expresses an expired
// session as a redirect to the logout/login screen rather than an error
// page, so the URL is the cheapest reliable signal.
func (s *Service) checkSession(ctx context.Context, ex *execution) error {
	loc, err := ex.browser.Location(ctx)
	if err != nil {
		ex.logger.Debug().Err(err).Msg("Could not read page location")
		return nil
	}
	if isLoginURL(loc) {
		return models.NewScrapeError(models.ErrKindSessionExpired, "portal redirected to login at %s", loc)
	}
	return nil
}

// classifyStepError turns a raw step failure into a classified one. Element
// waits that expired are probed once: landing on the login page means the
// session expired, anything else is a navigation timeout. LayoutChanged
// failures get a diagnostic snapshot attached before they surface.
func (s *Service) classifyStepError(ctx context.Context, ex *execution, st step, err error) error {
	if errors.Is(err, models.ErrNoCriteria) {
		return err
	}

	var serr *models.ScrapeError
	if errors.As(err, &serr) {
		if serr.Kind == models.ErrKindLayoutChanged && serr.DiagnosticRef == "" {
			serr.DiagnosticRef = s.snapshot(ctx, ex, st.name)
		}
		return serr
	}

	if ctx.Err() != nil {
		// Cancellation or shutdown; the worker resolves which.
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		if loc, lerr := ex.browser.Location(ctx); lerr == nil && isLoginURL(loc) {
			return models.WrapScrapeError(models.ErrKindSessionExpired, err,
				"%s landed on the login page", st.name)
		}
		return models.WrapScrapeError(models.ErrKindNavigationTimeout, err,
			"%s: expected element never appeared", st.name)
	}

	return models.WrapScrapeError(models.ErrKindNavigationTimeout, err, "%s failed", st.name)
}

func isLoginURL(loc string) bool {
	lower := strings.ToLower(loc)
	return strings.Contains(lower, "school=logout") || strings.Contains(lower, "action=login")
}
