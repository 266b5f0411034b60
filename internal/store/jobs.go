package store

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateJob inserts a new job row in the created state.
func (s *Store) CreateJob(ctx context.Context, id, libraryRoot, status, optionsJSON string) error {
	now := nowUnix()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, library_root, created_at, updated_at, status, options_json, summary_json)
		 VALUES (?, ?, ?, ?, ?, ?, '{}')`,
		id, libraryRoot, now, now, status, optionsJSON)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// GetJob fetches one job row by id.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, library_root, created_at, updated_at, status, options_json, summary_json FROM jobs WHERE id = ?", id)
	var j Job
	if err := row.Scan(&j.ID, &j.LibraryRoot, &j.CreatedAt, &j.UpdatedAt, &j.Status, &j.OptionsJSON, &j.SummaryJSON); err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &j, nil
}

// ListJobs returns every job, most recently created first.
func (s *Store) ListJobs(ctx context.Context) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, library_root, created_at, updated_at, status, options_json, summary_json FROM jobs ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.LibraryRoot, &j.CreatedAt, &j.UpdatedAt, &j.Status, &j.OptionsJSON, &j.SummaryJSON); err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// UpdateJobStatus transitions a job to a new status.
func (s *Store) UpdateJobStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?", status, nowUnix(), id)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

// SetJobSummary stores the final (or latest) summary snapshot JSON for a job.
func (s *Store) SetJobSummary(ctx context.Context, id, summaryJSON string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE jobs SET summary_json = ?, updated_at = ? WHERE id = ?", summaryJSON, nowUnix(), id)
	if err != nil {
		return fmt.Errorf("set job summary: %w", err)
	}
	return nil
}

// CompareAndSwapJobStatus transitions a job to newStatus only if it is
// currently in one of fromStatuses, guarding concurrent pause/resume/cancel
// requests from racing each other (spec 4.11 job state machine). Returns
// false, nil if the current status didn't match.
func (s *Store) CompareAndSwapJobStatus(ctx context.Context, id string, fromStatuses []string, newStatus string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin cas job status: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT status FROM jobs WHERE id = ?", id).Scan(&current)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("cas job status: job %s not found", id)
	}
	if err != nil {
		return false, fmt.Errorf("cas job status lookup: %w", err)
	}

	matched := false
	for _, s := range fromStatuses {
		if s == current {
			matched = true
			break
		}
	}
	if !matched {
		return false, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, "UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?", newStatus, nowUnix(), id); err != nil {
		return false, fmt.Errorf("cas job status update: %w", err)
	}
	return true, tx.Commit()
}
