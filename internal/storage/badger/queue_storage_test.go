package badger

import (
	"context"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
)

func TestQueueFIFO(t *testing.T) {
	db := openTestStore(t)
	queue := NewQueueStorage(db, arbor.NewLogger())
	ctx := context.Background()
	now := time.Now()

	for _, id := range []string{"job-a", "job-b", "job-c"} {
		if err := queue.Enqueue(ctx, id, now); err != nil {
			t.Fatalf("Enqueue %s failed: %v", id, err)
		}
	}

	length, err := queue.Len(ctx)
	if err != nil {
		t.Fatalf("Len failed: %v", err)
	}
	if length != 3 {
		t.Errorf("Len = %d, want 3", length)
	}

	want := []string{"job-a", "job-b", "job-c"}
	for _, expected := range want {
		jobID, ok, err := queue.Dequeue(ctx, time.Now())
		if err != nil {
			t.Fatalf("Dequeue failed: %v", err)
		}
		if !ok {
			t.Fatalf("Expected entry %s, queue reported empty", expected)
		}
		if jobID != expected {
			t.Errorf("Dequeued %q, want %q", jobID, expected)
		}
	}

	// Drained
	_, ok, err := queue.Dequeue(ctx, time.Now())
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if ok {
		t.Error("Expected empty queue after draining")
	}
}

func TestQueueVisibility(t *testing.T) {
	db := openTestStore(t)
	queue := NewQueueStorage(db, arbor.NewLogger())
	ctx := context.Background()
	now := time.Now()

	// Backed-off entry is invisible until its time comes
	if err := queue.Enqueue(ctx, "job-later", now.Add(time.Hour)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := queue.Enqueue(ctx, "job-now", now); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	jobID, ok, err := queue.Dequeue(ctx, now.Add(time.Second))
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if !ok || jobID != "job-now" {
		t.Errorf("Dequeued %q (ok=%v), want job-now", jobID, ok)
	}

	// Only the delayed entry remains and it is still hidden
	_, ok, err = queue.Dequeue(ctx, now.Add(time.Second))
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if ok {
		t.Error("Delayed entry should not be visible yet")
	}

	// After the backoff window it surfaces
	jobID, ok, err = queue.Dequeue(ctx, now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if !ok || jobID != "job-later" {
		t.Errorf("Dequeued %q (ok=%v), want job-later", jobID, ok)
	}
}

func TestQueueRemove(t *testing.T) {
	db := openTestStore(t)
	queue := NewQueueStorage(db, arbor.NewLogger())
	ctx := context.Background()
	now := time.Now()

	if err := queue.Enqueue(ctx, "job-keep", now); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := queue.Enqueue(ctx, "job-cancel", now); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	removed, err := queue.Remove(ctx, "job-cancel")
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if !removed {
		t.Error("Expected Remove to report an entry removed")
	}

	removed, err = queue.Remove(ctx, "job-unknown")
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if removed {
		t.Error("Remove of unknown job should report false")
	}

	// The cancelled entry never surfaces
	jobID, ok, err := queue.Dequeue(ctx, time.Now())
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if !ok || jobID != "job-keep" {
		t.Errorf("Dequeued %q (ok=%v), want job-keep", jobID, ok)
	}
	_, ok, err = queue.Dequeue(ctx, time.Now())
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if ok {
		t.Error("Queue should be empty after remove and dequeue")
	}
}
