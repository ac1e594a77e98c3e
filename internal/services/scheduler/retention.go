package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ed-baer97/mektab/internal/interfaces"
	"github.com/ed-baer97/mektab/internal/models"
)

// CleanupReport summarizes one retention pass.
type CleanupReport struct {
	Cutoff      time.Time
	Jobs        int
	Artifacts   int
	Files       int
	Diagnostics int
	Skipped     int // jobs past the cutoff but not yet terminal
}

// CleanupOnce deletes terminal jobs created before the retention cutoff
// together with their event history, artifact records, artifact files and
// failure snapshots. Individual failures are logged and skipped so one bad
// record cannot wedge the pass.
func (s *Service) CleanupOnce(ctx context.Context) (*CleanupReport, error) {
	cutoff := s.clock().AddDate(0, 0, -s.config.Retention.MaxAgeDays)
	report := &CleanupReport{Cutoff: cutoff}

	jobs, err := s.storage.JobStorage().QueryJobs(ctx, interfaces.JobFilter{To: cutoff})
	if err != nil {
		return nil, fmt.Errorf("failed to list expired jobs: %w", err)
	}

	for _, job := range jobs {
		if !job.IsTerminal() {
			report.Skipped++
			continue
		}
		s.cleanupJob(ctx, job, report)
	}

	if report.Jobs > 0 {
		if err := s.storage.RunGC(); err != nil {
			s.logger.Warn().Err(err).Msg("Store compaction after cleanup failed")
		}
	}

	s.logger.Info().
		Str("cutoff", cutoff.Format(time.RFC3339)).
		Int("jobs", report.Jobs).
		Int("artifacts", report.Artifacts).
		Int("files", report.Files).
		Int("diagnostics", report.Diagnostics).
		Int("skipped", report.Skipped).
		Msg("Retention cleanup finished")
	return report, nil
}

func (s *Service) cleanupJob(ctx context.Context, job *models.ScrapeJob, report *CleanupReport) {
	artifacts, err := s.storage.ArtifactStorage().GetByJob(ctx, job.ID)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to list job artifacts, leaving job in place")
		return
	}

	for _, artifact := range artifacts {
		if artifact.Path != "" {
			switch err := os.Remove(artifact.Path); {
			case err == nil:
				report.Files++
			case !os.IsNotExist(err):
				s.logger.Warn().Err(err).Str("path", artifact.Path).Msg("Failed to delete artifact file")
			}
		}
		if err := s.storage.ArtifactStorage().DeleteArtifact(ctx, artifact.ID); err != nil {
			s.logger.Warn().Err(err).Str("artifact_id", artifact.ID).Msg("Failed to delete artifact record")
			continue
		}
		report.Artifacts++
	}

	if job.DiagnosticRef != "" {
		dir := filepath.Join(s.config.Output.DiagnosticsDir, job.DiagnosticRef)
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn().Err(err).Str("dir", dir).Msg("Failed to delete failure snapshot")
		} else {
			report.Diagnostics++
		}
	}

	if err := s.storage.JobLogStorage().DeleteEvents(ctx, job.ID); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to delete job events")
	}
	if err := s.storage.JobStorage().DeleteJob(ctx, job.ID); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to delete job")
		return
	}
	report.Jobs++

	s.logger.Debug().
		Str("job_id", job.ID).
		Str("created_at", job.CreatedAt.Format(time.RFC3339)).
		Msg("Expired job removed")
}
