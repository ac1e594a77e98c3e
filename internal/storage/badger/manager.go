package badger

import (
	"github.com/ternarybob/arbor"

	"github.com/ed-baer97/mektab/internal/common"
	"github.com/ed-baer97/mektab/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db       *BadgerDB
	job      interfaces.JobStorage
	jobLog   interfaces.JobLogStorage
	artifact interfaces.ArtifactStorage
	queue    interfaces.QueueStorage
	logger   arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:       db,
		job:      NewJobStorage(db, logger),
		jobLog:   NewJobLogStorage(db, logger),
		artifact: NewArtifactStorage(db, logger),
		queue:    NewQueueStorage(db, logger),
		logger:   logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// JobStorage returns the scrape job index
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

// JobLogStorage returns the per-job event history
func (m *Manager) JobLogStorage() interfaces.JobLogStorage {
	return m.jobLog
}

// ArtifactStorage returns the synthesized document registry
func (m *Manager) ArtifactStorage() interfaces.ArtifactStorage {
	return m.artifact
}

// QueueStorage returns the pending job queue
func (m *Manager) QueueStorage() interfaces.QueueStorage {
	return m.queue
}

// RunGC compacts the value log after bulk deletes.
func (m *Manager) RunGC() error {
	return m.db.RunGC()
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
