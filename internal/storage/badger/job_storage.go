package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ed-baer97/mektab/internal/interfaces"
	"github.com/ed-baer97/mektab/internal/models"
)

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) SaveJob(ctx context.Context, job *models.ScrapeJob) error {
	if job == nil {
		return fmt.Errorf("job is required")
	}
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}

	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, id string) (*models.ScrapeJob, error) {
	var job models.ScrapeJob
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("job not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// GetActiveByFingerprint returns the job carrying the fingerprint whose
// status is not terminal yet. Finished jobs with the same fingerprint do
// not count: a resubmitted request may run the scrape again.
func (s *JobStorage) GetActiveByFingerprint(ctx context.Context, fingerprint string) (*models.ScrapeJob, error) {
	if fingerprint == "" {
		return nil, fmt.Errorf("fingerprint is required")
	}

	var jobs []models.ScrapeJob
	if err := s.db.Store().Find(&jobs, badgerhold.Where("Fingerprint").Eq(fingerprint)); err != nil {
		return nil, fmt.Errorf("failed to query jobs by fingerprint: %w", err)
	}

	for i := range jobs {
		if !jobs[i].Status.IsTerminal() {
			return &jobs[i], nil
		}
	}
	return nil, nil
}

// QueryJobs returns jobs matching the filter, newest first. Status and the
// CreatedAt window narrow the badgerhold query; school and credential are
// nested in the spec, so they filter in memory here.
func (s *JobStorage) QueryJobs(ctx context.Context, filter interfaces.JobFilter) ([]*models.ScrapeJob, error) {
	query := badgerhold.Where("ID").Ne("")

	if filter.Status != "" {
		query = query.And("Status").Eq(filter.Status)
	}
	if !filter.From.IsZero() {
		query = query.And("CreatedAt").Ge(filter.From)
	}
	if !filter.To.IsZero() {
		query = query.And("CreatedAt").Le(filter.To)
	}
	query = query.SortBy("CreatedAt").Reverse()

	var jobs []models.ScrapeJob
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}

	result := make([]*models.ScrapeJob, 0, len(jobs))
	for i := range jobs {
		if filter.SchoolID != "" && jobs[i].Spec.SchoolID != filter.SchoolID {
			continue
		}
		if filter.CredentialRef != "" && jobs[i].Spec.CredentialRef != filter.CredentialRef {
			continue
		}
		result = append(result, &jobs[i])
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

func (s *JobStorage) DeleteJob(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.ScrapeJob{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

func (s *JobStorage) CountJobs(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.ScrapeJob{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return int(count), nil
}
