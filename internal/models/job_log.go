package models

import "time"

// EventType classifies entries in a job's append-only event log.
type EventType string

const (
	EventSubmitted EventType = "submitted"
	EventStarted   EventType = "started"
	EventStage     EventType = "stage"
	EventRetry     EventType = "retry"
	EventError     EventType = "error"
	EventLog       EventType = "log"
	EventArtifact  EventType = "artifact"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventCancelled EventType = "cancelled"
)

// JobEvent is one entry in a job's history. Events are only ever appended;
// the job's current status is the fold of its event sequence, so the log
// alone can reconstruct what happened and when.
type JobEvent struct {
	JobID     string    `json:"job_id" badgerhold:"index"`
	Seq       int       `json:"seq"` // per-job, monotonic, 1-based
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	Stage      Stage     `json:"stage,omitempty"`
	Level      string    `json:"level,omitempty"` // log events: debug|info|warn|error
	Message    string    `json:"message,omitempty"`
	ErrorKind  ErrorKind `json:"error_kind,omitempty"`
	ArtifactID string    `json:"artifact_id,omitempty"`
	Attempt    int       `json:"attempt,omitempty"`
}

// FoldStatus derives the job status implied by an ordered event sequence.
// An empty sequence folds to Queued: a job exists only once submitted.
func FoldStatus(events []JobEvent) JobStatus {
	status := JobStatusQueued
	for _, ev := range events {
		switch ev.Type {
		case EventSubmitted:
			status = JobStatusQueued
		case EventStarted:
			status = JobStatusRunning
		case EventRetry:
			status = JobStatusRetrying
		case EventCompleted:
			status = JobStatusCompleted
		case EventFailed:
			status = JobStatusFailed
		case EventCancelled:
			status = JobStatusCancelled
		}
	}
	return status
}
