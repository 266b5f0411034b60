package store

import (
	"context"
	"database/sql"
	"fmt"
)

// AppendEvent assigns the next sequence number for jobID and inserts the
// event row atomically, guaranteeing the append-only, gap-free, strictly
// increasing sequence the persisted event log requires (spec §8 testable
// property #5). The in-memory EventBus fan-out (which may drop events for
// slow subscribers) is a separate concern layered on top of this durable log.
func (s *Store) AppendEvent(ctx context.Context, jobID, eventType, payloadJSON string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin append event: %w", err)
	}
	defer tx.Rollback()

	var lastSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx, "SELECT MAX(seq) FROM events WHERE job_id = ?", jobID).Scan(&lastSeq); err != nil {
		return 0, fmt.Errorf("append event seq lookup: %w", err)
	}
	seq := lastSeq.Int64 + 1

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO events (job_id, seq, type, payload_json, created_at) VALUES (?, ?, ?, ?, ?)",
		jobID, seq, eventType, payloadJSON, nowUnix()); err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit append event: %w", err)
	}
	return seq, nil
}

// ListEventsSince returns every event for jobID with seq > afterSeq, in
// order.
func (s *Store) ListEventsSince(ctx context.Context, jobID string, afterSeq int64) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT job_id, seq, type, payload_json, created_at FROM events WHERE job_id = ? AND seq > ? ORDER BY seq",
		jobID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("list events since: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.JobID, &e.Seq, &e.Type, &e.PayloadJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LatestSeq returns the highest seq recorded for a job, or 0 if none.
func (s *Store) LatestSeq(ctx context.Context, jobID string) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, "SELECT MAX(seq) FROM events WHERE job_id = ?", jobID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("latest seq: %w", err)
	}
	return seq.Int64, nil
}
