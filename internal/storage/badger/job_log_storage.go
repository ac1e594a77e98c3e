package badger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ed-baer97/mektab/internal/interfaces"
	"github.com/ed-baer97/mektab/internal/models"
)

// JobLogStorage implements the JobLogStorage interface for Badger.
// Events are keyed "<jobID>:<zero-padded seq>" so the key order matches the
// append order. The sequence counter per job lives in memory and is seeded
// from the stored count on first use; only one process appends to a job's
// history at a time.
type JobLogStorage struct {
	db     *BadgerDB
	logger arbor.ILogger

	mu      sync.Mutex
	nextSeq map[string]int
}

// NewJobLogStorage creates a new JobLogStorage instance
func NewJobLogStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobLogStorage {
	return &JobLogStorage{
		db:      db,
		logger:  logger,
		nextSeq: make(map[string]int),
	}
}

func (s *JobLogStorage) Append(ctx context.Context, jobID string, event models.JobEvent) error {
	if jobID == "" {
		return fmt.Errorf("job ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq, ok := s.nextSeq[jobID]
	if !ok {
		count, err := s.db.Store().Count(&models.JobEvent{}, badgerhold.Where("JobID").Eq(jobID))
		if err != nil {
			return fmt.Errorf("failed to seed event sequence: %w", err)
		}
		seq = int(count) + 1
	}

	event.JobID = jobID
	event.Seq = seq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	key := fmt.Sprintf("%s:%010d", jobID, seq)
	if err := s.db.Store().Insert(key, &event); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	s.nextSeq[jobID] = seq + 1
	return nil
}

func (s *JobLogStorage) GetEvents(ctx context.Context, jobID string) ([]models.JobEvent, error) {
	var events []models.JobEvent
	if err := s.db.Store().Find(&events, badgerhold.Where("JobID").Eq(jobID).SortBy("Seq")); err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	return events, nil
}

func (s *JobLogStorage) FoldStatus(ctx context.Context, jobID string) (models.JobStatus, error) {
	events, err := s.GetEvents(ctx, jobID)
	if err != nil {
		return "", err
	}
	return models.FoldStatus(events), nil
}

func (s *JobLogStorage) DeleteEvents(ctx context.Context, jobID string) error {
	if err := s.db.Store().DeleteMatching(&models.JobEvent{}, badgerhold.Where("JobID").Eq(jobID)); err != nil {
		return fmt.Errorf("failed to delete events: %w", err)
	}

	s.mu.Lock()
	delete(s.nextSeq, jobID)
	s.mu.Unlock()
	return nil
}
