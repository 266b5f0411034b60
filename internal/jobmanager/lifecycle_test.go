package jobmanager

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tomas/slidemanager-daemon/internal/constants"
	"github.com/tomas/slidemanager-daemon/internal/eventbus"
	"github.com/tomas/slidemanager-daemon/internal/logging"
	"github.com/tomas/slidemanager-daemon/internal/ratelimit"
	"github.com/tomas/slidemanager-daemon/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(context.Background(), dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	mgr := New(Deps{
		Store:        s,
		Bus:          eventbus.New(),
		Log:          logging.Default(),
		Limiter:      ratelimit.New(1000, 1_000_000),
		OpenAIKey:    "test-key",
		ConverterBin: "/bin/true",
		ProfileRoot:  t.TempDir(),
		LibraryRoot:  dir,
	})
	return mgr, s
}

func newBareJob(t *testing.T, s *store.Store, status string) string {
	t.Helper()
	jobID := uuid.NewString()
	if err := s.CreateJob(context.Background(), jobID, "/tmp", status, "{}"); err != nil {
		t.Fatalf("create job: %v", err)
	}
	return jobID
}

// TestPauseJob_IsIdempotent covers spec §8 property #8: re-pausing an
// already-paused job succeeds as a no-op rather than erroring.
func TestPauseJob_IsIdempotent(t *testing.T) {
	mgr, s := newTestManager(t)
	jobID := newBareJob(t, s, constants.JobRunning)

	if err := mgr.PauseJob(context.Background(), jobID); err != nil {
		t.Fatalf("first pause: %v", err)
	}
	if err := mgr.PauseJob(context.Background(), jobID); err != nil {
		t.Fatalf("second pause should be a no-op, got: %v", err)
	}

	job, err := s.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != constants.JobPaused {
		t.Errorf("expected status paused, got %s", job.Status)
	}
}

func TestResumeJob_IsIdempotent(t *testing.T) {
	mgr, s := newTestManager(t)
	jobID := newBareJob(t, s, constants.JobRunning)

	if err := mgr.ResumeJob(context.Background(), jobID); err != nil {
		t.Fatalf("resume on already-running job should be a no-op, got: %v", err)
	}
	job, err := s.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != constants.JobRunning {
		t.Errorf("expected status running, got %s", job.Status)
	}
}

func TestResumeJob_FromPausedReturnsToRunning(t *testing.T) {
	mgr, s := newTestManager(t)
	jobID := newBareJob(t, s, constants.JobPaused)

	if err := mgr.ResumeJob(context.Background(), jobID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	job, err := s.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != constants.JobRunning {
		t.Errorf("expected status running, got %s", job.Status)
	}
}

// TestCancelJob_OnTerminalJobIsNoop covers spec §8 property #8: cancelling
// an already-completed job must not error or change its status.
func TestCancelJob_OnTerminalJobIsNoop(t *testing.T) {
	mgr, s := newTestManager(t)
	jobID := newBareJob(t, s, constants.JobCompleted)

	if err := mgr.CancelJob(context.Background(), jobID); err != nil {
		t.Fatalf("cancel on completed job should be a no-op, got: %v", err)
	}
	job, err := s.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != constants.JobCompleted {
		t.Errorf("expected status to remain completed, got %s", job.Status)
	}
}

// TestCancelJob_CancelsQueuedTasks covers spec 4.11: cancelling a job
// immediately cancels its still-queued tasks rather than waiting for a
// worker to notice.
func TestCancelJob_CancelsQueuedTasks(t *testing.T) {
	mgr, s := newTestManager(t)
	jobID := newBareJob(t, s, constants.JobRunning)

	taskID := uuid.NewString()
	if err := s.InsertTask(context.Background(), taskID, jobID, nil, nil, constants.ArtifactText, constants.StatusQueued, 0, ""); err != nil {
		t.Fatalf("insert task: %v", err)
	}

	if err := mgr.CancelJob(context.Background(), jobID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	task, err := s.GetTask(context.Background(), taskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != constants.StatusCancelled {
		t.Errorf("expected queued task to be cancelled, got %s", task.Status)
	}

	job, err := s.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != constants.JobCancelRequested {
		t.Errorf("expected status cancel_requested, got %s", job.Status)
	}
}

// TestWatchdogTick_RecoversStaleRunningTask covers spec §8 property #6 /
// scenario S6: a task whose heartbeat has gone stale is failed with
// WATCHDOG_TIMEOUT so the job can't hang forever on a crashed worker.
func TestWatchdogTick_RecoversStaleRunningTask(t *testing.T) {
	mgr, s := newTestManager(t)
	jobID := newBareJob(t, s, constants.JobRunning)
	ctx := context.Background()

	taskID := uuid.NewString()
	if err := s.InsertTask(ctx, taskID, jobID, nil, nil, constants.ArtifactText, constants.StatusQueued, 0, ""); err != nil {
		t.Fatalf("insert task: %v", err)
	}
	claimed, err := s.ClaimNextTask(ctx, jobID, constants.ArtifactText)
	if err != nil || claimed == nil {
		t.Fatalf("claim task: %v", err)
	}

	// A negative threshold pushes the cutoff into the future, so even a
	// heartbeat from "now" reads as stale without needing to fake the clock.
	if err := mgr.WatchdogTick(ctx, -1*time.Hour); err != nil {
		t.Fatalf("watchdog tick: %v", err)
	}

	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != constants.StatusError {
		t.Errorf("expected task status error, got %s", task.Status)
	}
	if task.ErrorCode != constants.ErrWatchdogTimeout {
		t.Errorf("expected error code %s, got %s", constants.ErrWatchdogTimeout, task.ErrorCode)
	}
}

func TestWatchdogTick_LeavesFreshRunningTaskAlone(t *testing.T) {
	mgr, s := newTestManager(t)
	jobID := newBareJob(t, s, constants.JobRunning)
	ctx := context.Background()

	taskID := uuid.NewString()
	if err := s.InsertTask(ctx, taskID, jobID, nil, nil, constants.ArtifactText, constants.StatusQueued, 0, ""); err != nil {
		t.Fatalf("insert task: %v", err)
	}
	if _, err := s.ClaimNextTask(ctx, jobID, constants.ArtifactText); err != nil {
		t.Fatalf("claim task: %v", err)
	}

	if err := mgr.WatchdogTick(ctx, 1*time.Hour); err != nil {
		t.Fatalf("watchdog tick: %v", err)
	}

	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != constants.StatusRunning {
		t.Errorf("expected task to remain running, got %s", task.Status)
	}
}
