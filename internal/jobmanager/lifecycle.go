package jobmanager

import (
	"context"
	"fmt"
	"time"

	"github.com/tomas/slidemanager-daemon/internal/constants"
)

// PauseJob moves a running job to paused. Idempotent: pausing an
// already-paused job is a no-op success (spec §8 property #8).
func (m *Manager) PauseJob(ctx context.Context, jobID string) error {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("pause job %s: %w", jobID, err)
	}
	if job.Status == constants.JobPaused {
		return nil
	}
	ok, err := m.store.CompareAndSwapJobStatus(ctx, jobID, []string{constants.JobRunning, constants.JobPlanning}, constants.JobPaused)
	if err != nil {
		return fmt.Errorf("pause job %s: %w", jobID, err)
	}
	if !ok {
		return fmt.Errorf("pause job %s: not in a pausable state (status=%s)", jobID, job.Status)
	}
	m.emit(ctx, jobID, constants.EventJobStateChanged, map[string]any{"status": constants.JobPaused})
	return nil
}

// ResumeJob moves a paused job back to running. Idempotent: resuming an
// already-running job is a no-op success.
func (m *Manager) ResumeJob(ctx context.Context, jobID string) error {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("resume job %s: %w", jobID, err)
	}
	if job.Status == constants.JobRunning {
		return nil
	}
	ok, err := m.store.CompareAndSwapJobStatus(ctx, jobID, []string{constants.JobPaused}, constants.JobRunning)
	if err != nil {
		return fmt.Errorf("resume job %s: %w", jobID, err)
	}
	if !ok {
		return fmt.Errorf("resume job %s: not paused (status=%s)", jobID, job.Status)
	}
	m.emit(ctx, jobID, constants.EventJobStateChanged, map[string]any{"status": constants.JobRunning})
	return nil
}

// CancelJob requests cancellation of a job from any non-terminal state:
// queued tasks are cancelled immediately and workers notice
// cancel_requested at their next checkControl poll (spec 4.11). Idempotent:
// cancelling an already-terminal job is a no-op success (spec §8 property #8).
func (m *Manager) CancelJob(ctx context.Context, jobID string) error {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("cancel job %s: %w", jobID, err)
	}
	switch job.Status {
	case constants.JobCancelled, constants.JobCompleted, constants.JobFailed, constants.JobCancelRequested:
		return nil
	}

	ok, err := m.store.CompareAndSwapJobStatus(ctx, jobID,
		[]string{constants.JobCreated, constants.JobPlanning, constants.JobRunning, constants.JobPaused},
		constants.JobCancelRequested)
	if err != nil {
		return fmt.Errorf("cancel job %s: %w", jobID, err)
	}
	if !ok {
		return nil
	}
	if err := m.store.CancelQueuedTasks(ctx, jobID); err != nil {
		return fmt.Errorf("cancel queued tasks for job %s: %w", jobID, err)
	}
	m.emit(ctx, jobID, constants.EventJobStateChanged, map[string]any{"status": constants.JobCancelRequested})
	return nil
}

// GetSnapshot is a thin convenience wrapper around BuildSnapshot scoped to
// this Manager's Store, used by the control API's GET /jobs/{id} handler.
func (m *Manager) GetSnapshot(ctx context.Context, jobID string) (Snapshot, error) {
	return BuildSnapshot(ctx, m.store, jobID)
}

// WatchdogTick scans for tasks whose heartbeat has gone stale past
// threshold and fails them with WATCHDOG_TIMEOUT, recovering a job that
// would otherwise wait forever on a crashed worker (spec §8 property #6,
// scenario S6). It is safe to call repeatedly from a periodic ticker.
func (m *Manager) WatchdogTick(ctx context.Context, threshold time.Duration) error {
	cutoff := time.Now().Add(-threshold).Unix()
	stale, err := m.store.ListStaleRunningTasks(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("watchdog list stale tasks: %w", err)
	}

	for _, task := range stale {
		task := task
		msg := fmt.Sprintf("no heartbeat for over %s", threshold)
		if err := m.store.FinishTask(ctx, task.ID, constants.StatusError, constants.ErrWatchdogTimeout, msg); err != nil {
			m.log.JobError(task.JobID, "watchdog finish task %s: %v", task.ID, err)
			continue
		}
		if task.PageID != nil {
			if err := m.store.TransitionArtifact(ctx, *task.PageID, task.Kind, constants.StatusError, constants.ErrWatchdogTimeout, msg); err != nil {
				m.log.JobError(task.JobID, "watchdog transition artifact page=%d kind=%s: %v", *task.PageID, task.Kind, err)
			}
		}
		m.emit(ctx, task.JobID, constants.EventTaskError, map[string]any{
			"task_id": task.ID, "kind": task.Kind, "error_code": constants.ErrWatchdogTimeout, "error_message": msg,
		})
	}
	return nil
}
