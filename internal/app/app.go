// Package app assembles the scrape pipeline from configuration: storage,
// job event capture, the headless browser pool, portal sessions, extraction,
// normalization, report synthesis, the job queue, and the scheduler.
package app

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ed-baer97/mektab/internal/common"
	"github.com/ed-baer97/mektab/internal/interfaces"
	"github.com/ed-baer97/mektab/internal/logs"
	"github.com/ed-baer97/mektab/internal/queue"
	"github.com/ed-baer97/mektab/internal/services/browser"
	"github.com/ed-baer97/mektab/internal/services/normalizer"
	"github.com/ed-baer97/mektab/internal/services/portal"
	"github.com/ed-baer97/mektab/internal/services/report"
	"github.com/ed-baer97/mektab/internal/services/scheduler"
	"github.com/ed-baer97/mektab/internal/services/session"
	storage "github.com/ed-baer97/mektab/internal/storage/badger"
)

// App holds every wired subsystem. Fields are exported so commands can
// reach individual services directly.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager interfaces.StorageManager
	LogConsumer    *logs.Consumer

	Browsers    *browser.Pool
	Sessions    *session.Manager
	Extractor   interfaces.Extractor
	Normalizer  interfaces.Normalizer
	Registry    *report.Registry
	Synthesizer interfaces.Synthesizer

	WorkerPool   *queue.WorkerPool
	Orchestrator interfaces.Orchestrator
	Scheduler    interfaces.Scheduler
}

// New wires the application in dependency order. Nothing processes jobs
// until Start is called, but template manifests are validated and browser
// instances are launched here so misconfiguration fails before any job is
// accepted.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initStorage(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	// Job event capture must be wired before any service logs with a
	// correlation id, otherwise early job events never reach storage.
	consumer := logs.NewConsumer(app.StorageManager.JobLogStorage(), logger, cfg.Logging.MinEventLevel)
	if err := consumer.Start(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to start log consumer: %w", err)
	}
	app.LogConsumer = consumer
	logger.SetChannel("context", consumer.GetChannel())

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, err
	}

	logger.Info().
		Int("workers", cfg.Workers.PoolSize).
		Int("browsers", app.Browsers.Size()).
		Int("templates", len(app.Registry.List())).
		Int("schedules", len(cfg.Schedule.Scrape)).
		Msg("Application initialization complete")

	return app, nil
}

// initStorage opens the Badger stores backing jobs, events, artifacts and
// the pending queue.
func (a *App) initStorage() error {
	store, err := storage.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return err
	}
	a.StorageManager = store

	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	return nil
}

// initServices builds the pipeline services in dependency order. Template
// manifests load first: a broken template is a configuration error and
// should surface before Chrome is paid for.
func (a *App) initServices() error {
	registry, err := report.LoadRegistry(a.Config, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to load report templates: %w", err)
	}
	a.Registry = registry

	browsers, err := browser.NewPool(a.Config.Workers.PoolSize, &a.Config.Portal, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to start browser pool: %w", err)
	}
	a.Browsers = browsers

	a.Sessions = session.NewManager(a.Config, a.Logger)
	a.Extractor = portal.NewService(a.Config, a.Logger)
	a.Normalizer = normalizer.NewService()
	a.Synthesizer = report.NewService(a.Config, registry, a.StorageManager.ArtifactStorage(), a.Logger)

	a.WorkerPool = queue.NewWorkerPool(
		a.Config,
		a.StorageManager,
		a.Browsers,
		a.Sessions,
		a.Extractor,
		a.Normalizer,
		a.Synthesizer,
		a.Logger,
	)
	a.Orchestrator = queue.NewOrchestrator(a.Config, a.StorageManager, a.WorkerPool, a.Logger)
	a.Scheduler = scheduler.NewService(a.Config, a.Orchestrator, a.StorageManager, a.Logger)

	return nil
}

// Start begins job processing: interrupted jobs are recovered and requeued,
// workers start polling, and cron entries are registered.
func (a *App) Start() error {
	if err := a.Orchestrator.Start(); err != nil {
		return fmt.Errorf("failed to start job processing: %w", err)
	}
	if err := a.Scheduler.Start(); err != nil {
		a.Orchestrator.Stop()
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	return nil
}

// Close shuts the pipeline down in reverse dependency order. Safe to call
// on a partially constructed App.
func (a *App) Close() {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.Orchestrator != nil {
		a.Orchestrator.Stop()
	}
	if a.Sessions != nil {
		a.Sessions.Shutdown()
	}
	if a.Browsers != nil {
		a.Browsers.Shutdown()
	}
	if a.LogConsumer != nil {
		if err := a.LogConsumer.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop log consumer")
		}
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close storage")
		}
	}
	a.Logger.Info().Msg("Application shut down")
}
