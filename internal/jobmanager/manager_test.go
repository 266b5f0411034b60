package jobmanager

import (
	"context"
	"testing"
	"time"

	"github.com/tomas/slidemanager-daemon/internal/config"
	"github.com/tomas/slidemanager-daemon/internal/constants"
)

// TestStartJob_EmptyLibraryRootReachesCompleted exercises the full
// planning -> running -> worker pools -> finalize path end to end against
// an empty library root, so it never has to shell out to soffice or the
// OpenAI API (spec §8 property #8, scenario: a job with nothing to do
// still reaches a terminal status).
func TestStartJob_EmptyLibraryRootReachesCompleted(t *testing.T) {
	mgr, s := newTestManager(t)
	ctx := context.Background()

	opts := config.JobOptions{
		EnableText:       true,
		EnableThumb:      true,
		EnableTextVec:    true,
		EnableImgVec:     true,
		EnableBm25:       true,
		CommitEveryPages: 1,
		CommitEverySec:   5,
		PdfTimeoutSec:    5,
	}

	jobID, err := mgr.StartJob(ctx, opts)
	if err != nil {
		t.Fatalf("start job: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := s.GetJob(ctx, jobID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if job.Status == constants.JobCompleted {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job never reached completed status")
}

// TestStartJob_PersistsAndPublishesEvents covers spec 4.2's dual
// durability/fan-out split: every emitted event must be both durable
// (readable back from the store) and delivered live on the bus.
func TestStartJob_PersistsAndPublishesEvents(t *testing.T) {
	mgr, s := newTestManager(t)
	ctx := context.Background()

	jobID, err := mgr.StartJob(ctx, config.JobOptions{CommitEveryPages: 1, CommitEverySec: 5, PdfTimeoutSec: 5})
	if err != nil {
		t.Fatalf("start job: %v", err)
	}
	mgr.Wait()

	events, err := s.ListEventsSince(ctx, jobID, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) == 0 {
		t.Fatal("expected at least one durable event")
	}

	sawCreated := false
	sawFinished := false
	for _, e := range events {
		switch e.Type {
		case constants.EventJobCreated:
			sawCreated = true
		case constants.EventJobFinished:
			sawFinished = true
		}
	}
	if !sawCreated {
		t.Error("expected a job_created event")
	}
	if !sawFinished {
		t.Error("expected a job_finished event")
	}
}

// TestGetSnapshot_ReflectsCompletedJobWithoutLiveWorkers covers spec 4.12:
// GET /jobs/{id} must work purely off the store, even once every worker
// goroutine for the job has already exited.
func TestGetSnapshot_ReflectsCompletedJobWithoutLiveWorkers(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	jobID, err := mgr.StartJob(ctx, config.JobOptions{CommitEveryPages: 1, CommitEverySec: 5, PdfTimeoutSec: 5})
	if err != nil {
		t.Fatalf("start job: %v", err)
	}
	mgr.Wait()

	snap, err := mgr.GetSnapshot(ctx, jobID)
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if snap.Status != constants.JobCompleted {
		t.Errorf("expected status completed, got %s", snap.Status)
	}
	if snap.NowRunning != nil {
		t.Error("expected no running task once workers have drained")
	}
}
