package badger

import (
	"context"
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/ed-baer97/mektab/internal/models"
)

func TestAppendAssignsSequence(t *testing.T) {
	db := openTestStore(t)
	storage := NewJobLogStorage(db, arbor.NewLogger())
	ctx := context.Background()

	events := []models.JobEvent{
		{Type: models.EventSubmitted, Message: "job accepted"},
		{Type: models.EventStarted, Attempt: 1},
		{Type: models.EventStage, Stage: models.StageAuthenticating},
	}
	for _, e := range events {
		if err := storage.Append(ctx, "job-1", e); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got, err := storage.GetEvents(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(got))
	}
	for i, e := range got {
		if e.Seq != i+1 {
			t.Errorf("Event %d: Seq = %d, want %d", i, e.Seq, i+1)
		}
		if e.JobID != "job-1" {
			t.Errorf("Event %d: JobID = %q, want %q", i, e.JobID, "job-1")
		}
		if e.Timestamp.IsZero() {
			t.Errorf("Event %d: Timestamp not set", i)
		}
	}
	if got[0].Type != models.EventSubmitted || got[2].Type != models.EventStage {
		t.Error("Events not returned in append order")
	}
}

func TestSequencePerJob(t *testing.T) {
	db := openTestStore(t)
	storage := NewJobLogStorage(db, arbor.NewLogger())
	ctx := context.Background()

	if err := storage.Append(ctx, "job-a", models.JobEvent{Type: models.EventSubmitted}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := storage.Append(ctx, "job-a", models.JobEvent{Type: models.EventStarted}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := storage.Append(ctx, "job-b", models.JobEvent{Type: models.EventSubmitted}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	bEvents, err := storage.GetEvents(ctx, "job-b")
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(bEvents) != 1 || bEvents[0].Seq != 1 {
		t.Errorf("job-b sequence should start at 1, got %+v", bEvents)
	}
}

func TestSequenceSeedsFromStore(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()

	first := NewJobLogStorage(db, arbor.NewLogger())
	if err := first.Append(ctx, "job-1", models.JobEvent{Type: models.EventSubmitted}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := first.Append(ctx, "job-1", models.JobEvent{Type: models.EventStarted}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	// A fresh instance over the same store continues the sequence
	second := NewJobLogStorage(db, arbor.NewLogger())
	if err := second.Append(ctx, "job-1", models.JobEvent{Type: models.EventCompleted}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	events, err := second.GetEvents(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}
	if events[2].Seq != 3 {
		t.Errorf("Continued Seq = %d, want 3", events[2].Seq)
	}
}

func TestFoldStatusFromStore(t *testing.T) {
	db := openTestStore(t)
	storage := NewJobLogStorage(db, arbor.NewLogger())
	ctx := context.Background()

	status, err := storage.FoldStatus(ctx, "empty-job")
	if err != nil {
		t.Fatalf("FoldStatus failed: %v", err)
	}
	if status != models.JobStatusQueued {
		t.Errorf("Empty history folds to %q, want %q", status, models.JobStatusQueued)
	}

	seq := []models.JobEvent{
		{Type: models.EventSubmitted},
		{Type: models.EventStarted, Attempt: 1},
		{Type: models.EventError, ErrorKind: models.ErrKindNavigationTimeout},
		{Type: models.EventRetry, Attempt: 1},
		{Type: models.EventStarted, Attempt: 2},
		{Type: models.EventCompleted},
	}
	for _, e := range seq {
		if err := storage.Append(ctx, "job-1", e); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	status, err = storage.FoldStatus(ctx, "job-1")
	if err != nil {
		t.Fatalf("FoldStatus failed: %v", err)
	}
	if status != models.JobStatusCompleted {
		t.Errorf("FoldStatus = %q, want %q", status, models.JobStatusCompleted)
	}
}

func TestDeleteEvents(t *testing.T) {
	db := openTestStore(t)
	storage := NewJobLogStorage(db, arbor.NewLogger())
	ctx := context.Background()

	for _, jobID := range []string{"job-1", "job-2"} {
		if err := storage.Append(ctx, jobID, models.JobEvent{Type: models.EventSubmitted}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	if err := storage.DeleteEvents(ctx, "job-1"); err != nil {
		t.Fatalf("DeleteEvents failed: %v", err)
	}

	gone, err := storage.GetEvents(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(gone) != 0 {
		t.Errorf("Expected no events after delete, got %d", len(gone))
	}

	kept, err := storage.GetEvents(ctx, "job-2")
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(kept) != 1 {
		t.Errorf("job-2 events should survive, got %d", len(kept))
	}

	// Sequence restarts cleanly after a purge
	if err := storage.Append(ctx, "job-1", models.JobEvent{Type: models.EventSubmitted}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	events, err := storage.GetEvents(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].Seq != 1 {
		t.Errorf("Expected fresh sequence after purge, got %+v", events)
	}
}
