// Package scheduler drives the cron work: recurring scrape submissions from
// [[schedule.scrape]] blocks and the retention cleanup pass.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ed-baer97/mektab/internal/common"
	"github.com/ed-baer97/mektab/internal/interfaces"
)

type Service struct {
	config       *common.Config
	orchestrator interfaces.Orchestrator
	storage      interfaces.StorageManager
	logger       arbor.ILogger

	cron     *cron.Cron
	mu       sync.Mutex
	cleaning bool
	running  bool
	clock    func() time.Time
}

// NewService creates the scheduler. Nothing runs until Start.
func NewService(config *common.Config, orchestrator interfaces.Orchestrator, storage interfaces.StorageManager, logger arbor.ILogger) *Service {
	return &Service{
		config:       config,
		orchestrator: orchestrator,
		storage:      storage,
		logger:       logger,
		cron:         cron.New(),
		clock:        time.Now,
	}
}

// Start registers the configured cron entries and starts them.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	entries := 0
	if s.config.Retention.Enabled {
		if _, err := s.cron.AddFunc(s.config.Retention.Schedule, s.runRetention); err != nil {
			return fmt.Errorf("failed to schedule retention cleanup: %w", err)
		}
		entries++
		s.logger.Info().
			Str("schedule", s.config.Retention.Schedule).
			Int("max_age_days", s.config.Retention.MaxAgeDays).
			Msg("Retention cleanup scheduled")
	}

	for i := range s.config.Schedule.Scrape {
		entry := s.config.Schedule.Scrape[i]
		if _, err := s.cron.AddFunc(entry.Cron, func() { s.runScheduledScrape(entry) }); err != nil {
			return fmt.Errorf("failed to schedule scrape of class %s period %d: %w", entry.ClassID, entry.Period, err)
		}
		entries++
		s.logger.Info().
			Str("cron", entry.Cron).
			Str("class", entry.ClassID).
			Int("period", entry.Period).
			Msg("Recurring scrape scheduled")
	}

	s.cron.Start()
	s.running = true
	s.logger.Info().Int("entries", entries).Msg("Scheduler started")
	return nil
}

// Stop halts the cron loop and waits for an entry still running to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Scheduled work did not finish within 30s")
	}
	s.logger.Info().Msg("Scheduler stopped")
}

// runScheduledScrape submits one configured scrape. Submission coalesces by
// fingerprint, so an entry firing while its previous job is still in flight
// does not pile up portal work.
func (s *Service) runScheduledScrape(entry common.ScrapeScheduleConfig) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("panic", fmt.Sprintf("%v", r)).Msg("Recovered panic in scheduled scrape")
		}
	}()

	jobID, err := s.orchestrator.Submit(context.Background(), entry.ToSpec())
	if err != nil {
		s.logger.Error().Err(err).
			Str("class", entry.ClassID).
			Int("period", entry.Period).
			Msg("Scheduled scrape submission failed")
		return
	}

	s.logger.Info().
		Str("job_id", jobID).
		Str("class", entry.ClassID).
		Int("period", entry.Period).
		Msg("Scheduled scrape submitted")
}

func (s *Service) runRetention() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("panic", fmt.Sprintf("%v", r)).Msg("Recovered panic in retention cleanup")
		}
	}()

	s.mu.Lock()
	if s.cleaning {
		s.mu.Unlock()
		s.logger.Debug().Msg("Retention cleanup still running, skipping this cycle")
		return
	}
	s.cleaning = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cleaning = false
		s.mu.Unlock()
	}()

	if _, err := s.CleanupOnce(context.Background()); err != nil {
		s.logger.Error().Err(err).Msg("Retention cleanup failed")
	}
}
