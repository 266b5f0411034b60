package store

import (
	"context"
	"database/sql"
	"fmt"
)

// InsertTask queues a unit of work for a job. pageID/fileID are nullable
// (a planning task has neither yet).
func (s *Store) InsertTask(ctx context.Context, id, jobID string, pageID, fileID *int64, kind, status string, priority int, dependsOnTask string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, job_id, page_id, file_id, kind, status, priority, depends_on_task, progress, message, error_code, error_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), 0, '', '', '')`,
		id, jobID, pageID, fileID, kind, status, priority, dependsOnTask)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// ClaimNextTask atomically claims the highest-priority queued task of kind
// for jobID (oldest first within a priority tier) and marks it running with
// a fresh heartbeat. Returns nil, nil if nothing is queued.
func (s *Store) ClaimNextTask(ctx context.Context, jobID, kind string) (*Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim task: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT t.id FROM tasks t WHERE t.job_id = ? AND t.kind = ? AND t.status = 'queued'
		 AND (t.depends_on_task IS NULL OR EXISTS (
		       SELECT 1 FROM tasks dep WHERE dep.id = t.depends_on_task AND dep.status = 'finished'
		 ))
		 ORDER BY t.priority DESC, t.rowid ASC LIMIT 1`, jobID, kind)
	var id string
	if err := row.Scan(&id); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("claim task lookup: %w", err)
	}

	now := nowUnix()
	if _, err := tx.ExecContext(ctx,
		"UPDATE tasks SET status = 'running', started_at = ?, heartbeat_at = ? WHERE id = ?",
		now, now, id); err != nil {
		return nil, fmt.Errorf("claim task update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim task: %w", err)
	}
	return s.GetTask(ctx, id)
}

// GetTask fetches one task row by id.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, job_id, page_id, file_id, kind, status, priority, COALESCE(depends_on_task, ''),
		        started_at, heartbeat_at, finished_at, progress, message, COALESCE(error_code, ''), COALESCE(error_message, '')
		 FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

func scanTask(row *sql.Row) (*Task, error) {
	var t Task
	if err := row.Scan(&t.ID, &t.JobID, &t.PageID, &t.FileID, &t.Kind, &t.Status, &t.Priority, &t.DependsOnTask,
		&t.StartedAt, &t.HeartbeatAt, &t.FinishedAt, &t.Progress, &t.Message, &t.ErrorCode, &t.ErrorMessage); err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &t, nil
}

// UpdateHeartbeat refreshes a running task's heartbeat timestamp and
// optional progress/message (spec 4.11 watchdog liveness contract).
func (s *Store) UpdateHeartbeat(ctx context.Context, id string, progress int, message string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET heartbeat_at = ?, progress = ?, message = ? WHERE id = ? AND status = 'running'",
		nowUnix(), progress, message, id)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// FinishTask transitions a task to a terminal status (finished, error,
// cancelled) and records the finish time plus any error detail.
func (s *Store) FinishTask(ctx context.Context, id, status, errorCode, errorMessage string) error {
	now := nowUnix()
	_, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET status = ?, finished_at = ?, error_code = NULLIF(?, ''), error_message = NULLIF(?, '') WHERE id = ?",
		status, now, errorCode, errorMessage, id)
	if err != nil {
		return fmt.Errorf("finish task: %w", err)
	}
	return nil
}

// ListTasksByJobAndStatus returns every task of a job in a given status.
func (s *Store) ListTasksByJobAndStatus(ctx context.Context, jobID, status string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, page_id, file_id, kind, status, priority, COALESCE(depends_on_task, ''),
		        started_at, heartbeat_at, finished_at, progress, message, COALESCE(error_code, ''), COALESCE(error_message, '')
		 FROM tasks WHERE job_id = ? AND status = ?`, jobID, status)
	if err != nil {
		return nil, fmt.Errorf("list tasks by status: %w", err)
	}
	return scanTaskRows(rows)
}

// ListStaleRunningTasks returns running tasks across all jobs whose last
// heartbeat is older than the watchdog threshold (spec 4.11 watchdog).
func (s *Store) ListStaleRunningTasks(ctx context.Context, olderThanUnix int64) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, page_id, file_id, kind, status, priority, COALESCE(depends_on_task, ''),
		        started_at, heartbeat_at, finished_at, progress, message, COALESCE(error_code, ''), COALESCE(error_message, '')
		 FROM tasks WHERE status = 'running' AND (heartbeat_at IS NULL OR heartbeat_at < ?)`, olderThanUnix)
	if err != nil {
		return nil, fmt.Errorf("list stale tasks: %w", err)
	}
	return scanTaskRows(rows)
}

func scanTaskRows(rows *sql.Rows) ([]Task, error) {
	defer rows.Close()
	var out []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.JobID, &t.PageID, &t.FileID, &t.Kind, &t.Status, &t.Priority, &t.DependsOnTask,
			&t.StartedAt, &t.HeartbeatAt, &t.FinishedAt, &t.Progress, &t.Message, &t.ErrorCode, &t.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountQueuedOrRunning returns how many non-terminal tasks a job still has,
// used to gate the terminal-state invariant (spec §8 testable property #1:
// a terminal job has no queued/running tasks).
func (s *Store) CountQueuedOrRunning(ctx context.Context, jobID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM tasks WHERE job_id = ? AND status IN ('queued', 'running')", jobID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count queued or running: %w", err)
	}
	return n, nil
}

// ListQueuedTasksDependingOn returns every still-queued task whose
// depends_on_task points at taskID, used to cascade a failure down the
// dependency chain instead of leaving a dependent permanently unclaimable
// (spec 4.11's task dependency ordering).
func (s *Store) ListQueuedTasksDependingOn(ctx context.Context, taskID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, page_id, file_id, kind, status, priority, COALESCE(depends_on_task, ''),
		        started_at, heartbeat_at, finished_at, progress, message, COALESCE(error_code, ''), COALESCE(error_message, '')
		 FROM tasks WHERE depends_on_task = ? AND status = 'queued'`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list queued tasks depending on %s: %w", taskID, err)
	}
	return scanTaskRows(rows)
}

// CancelQueuedTasks transitions every still-queued task of a job to
// cancelled, used when a job receives a cancel request (spec 4.11).
func (s *Store) CancelQueuedTasks(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET status = 'cancelled', finished_at = ? WHERE job_id = ? AND status = 'queued'",
		nowUnix(), jobID)
	if err != nil {
		return fmt.Errorf("cancel queued tasks: %w", err)
	}
	return nil
}
