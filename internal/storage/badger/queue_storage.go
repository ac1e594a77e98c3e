package badger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ed-baer97/mektab/internal/interfaces"
)

// enqueueSeq breaks ties between entries enqueued within the same nanosecond
var enqueueSeq uint64

// queueEntry is a pending pointer into the job index. The key encodes the
// enqueue time plus a tiebreak counter, so lexical key order is FIFO order
// and survives restarts. VisibleAfter delays retried jobs without holding a
// worker: a backed-off job is simply not visible yet.
type queueEntry struct {
	Key          string `badgerhold:"key"`
	JobID        string `badgerhold:"index"`
	VisibleAfter time.Time
	EnqueuedAt   time.Time
}

// QueueStorage implements the QueueStorage interface for Badger
type QueueStorage struct {
	db     *BadgerDB
	logger arbor.ILogger

	// Serializes dequeue and remove so two workers never claim one entry.
	mu sync.Mutex
}

// NewQueueStorage creates a new QueueStorage instance
func NewQueueStorage(db *BadgerDB, logger arbor.ILogger) interfaces.QueueStorage {
	return &QueueStorage{
		db:     db,
		logger: logger,
	}
}

func (s *QueueStorage) Enqueue(ctx context.Context, jobID string, visibleAfter time.Time) error {
	if jobID == "" {
		return fmt.Errorf("job ID is required")
	}

	now := time.Now()
	if visibleAfter.IsZero() {
		visibleAfter = now
	}

	seq := atomic.AddUint64(&enqueueSeq, 1)
	entry := queueEntry{
		Key:          fmt.Sprintf("%020d_%06d", now.UnixNano(), seq%1000000),
		JobID:        jobID,
		VisibleAfter: visibleAfter,
		EnqueuedAt:   now,
	}

	if err := s.db.Store().Insert(entry.Key, &entry); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	s.logger.Trace().
		Str("job_id", jobID).
		Str("visible_after", visibleAfter.Format(time.RFC3339)).
		Msg("BadgerDB: Job enqueued")
	return nil
}

// Dequeue removes and returns the oldest entry whose VisibleAfter has
// passed. ok is false when the queue holds nothing ready yet.
func (s *QueueStorage) Dequeue(ctx context.Context, now time.Time) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []queueEntry
	query := badgerhold.Where("VisibleAfter").Le(now).SortBy("Key").Limit(1)
	if err := s.db.Store().Find(&entries, query); err != nil {
		return "", false, fmt.Errorf("failed to scan queue: %w", err)
	}
	if len(entries) == 0 {
		return "", false, nil
	}

	entry := entries[0]
	if err := s.db.Store().Delete(entry.Key, &queueEntry{}); err != nil {
		return "", false, fmt.Errorf("failed to claim queue entry: %w", err)
	}

	s.logger.Trace().
		Str("job_id", entry.JobID).
		Msg("BadgerDB: Job dequeued")
	return entry.JobID, true, nil
}

// Remove deletes pending entries for the job. Returns true when at least
// one entry was removed, which tells Cancel the job never reached a worker.
func (s *QueueStorage) Remove(ctx context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []queueEntry
	if err := s.db.Store().Find(&entries, badgerhold.Where("JobID").Eq(jobID)); err != nil {
		return false, fmt.Errorf("failed to find queue entries: %w", err)
	}
	if len(entries) == 0 {
		return false, nil
	}

	for _, entry := range entries {
		if err := s.db.Store().Delete(entry.Key, &queueEntry{}); err != nil && err != badgerhold.ErrNotFound {
			return false, fmt.Errorf("failed to remove queue entry: %w", err)
		}
	}
	return true, nil
}

func (s *QueueStorage) Len(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&queueEntry{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count queue entries: %w", err)
	}
	return int(count), nil
}
