package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tomas/slidemanager-daemon/internal/constants"
)

// GetArtifact fetches one artifact row by (page, kind).
func (s *Store) GetArtifact(ctx context.Context, pageID int64, kind string) (*Artifact, error) {
	return scanArtifact(s.db.QueryRowContext(ctx,
		`SELECT id, page_id, kind, status, updated_at, COALESCE(params_json, ''), COALESCE(error_code, ''), COALESCE(error_message, ''), attempts
		 FROM artifacts WHERE page_id = ? AND kind = ?`, pageID, kind))
}

func scanArtifact(row *sql.Row) (*Artifact, error) {
	var a Artifact
	if err := row.Scan(&a.ID, &a.PageID, &a.Kind, &a.Status, &a.UpdatedAt, &a.ParamsJSON, &a.ErrorCode, &a.ErrorMessage, &a.Attempts); err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return &a, nil
}

// QueueArtifact transitions the artifact row for pageID and kind if it is
// currently `missing` (or any status, if force) to `queued`. Returns true if
// the row was queued.
func (s *Store) QueueArtifact(ctx context.Context, pageID int64, kind string, force bool) (bool, error) {
	var res sql.Result
	var err error
	if force {
		res, err = s.db.ExecContext(ctx,
			"UPDATE artifacts SET status = ?, updated_at = ? WHERE page_id = ? AND kind = ?",
			constants.StatusQueued, nowUnix(), pageID, kind)
	} else {
		res, err = s.db.ExecContext(ctx,
			"UPDATE artifacts SET status = ?, updated_at = ? WHERE page_id = ? AND kind = ? AND status = ?",
			constants.StatusQueued, nowUnix(), pageID, kind, constants.StatusMissing)
	}
	if err != nil {
		return false, fmt.Errorf("queue artifact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("queue artifact rows affected: %w", err)
	}
	return n > 0, nil
}

// TransitionArtifact moves an artifact to a new status, optionally recording
// an error code/message. Used for running/error/cancelled transitions that
// carry no payload row of their own.
func (s *Store) TransitionArtifact(ctx context.Context, pageID int64, kind, status, errorCode, errorMessage string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE artifacts SET status = ?, updated_at = ?, error_code = NULLIF(?, ''), error_message = NULLIF(?, '')
		 WHERE page_id = ? AND kind = ?`,
		status, nowUnix(), errorCode, errorMessage, pageID, kind)
	if err != nil {
		return fmt.Errorf("transition artifact: %w", err)
	}
	return nil
}

// IncrementArtifactAttempts bumps the attempts counter, used before a retry.
func (s *Store) IncrementArtifactAttempts(ctx context.Context, pageID int64, kind string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE artifacts SET attempts = attempts + 1, updated_at = ? WHERE page_id = ? AND kind = ?",
		nowUnix(), pageID, kind)
	if err != nil {
		return fmt.Errorf("increment artifact attempts: %w", err)
	}
	return nil
}

// CompleteTextArtifact writes the PageText payload and transitions the text
// artifact to ready in one transaction (spec 4.1's atomicity contract: a
// ready artifact's payload row commits in the same transaction).
func (s *Store) CompleteTextArtifact(ctx context.Context, pageID int64, rawText, normText, textSig string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin complete text: %w", err)
	}
	defer tx.Rollback()

	now := nowUnix()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO page_text (page_id, raw_text, norm_text, text_sig, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(page_id) DO UPDATE SET raw_text = excluded.raw_text, norm_text = excluded.norm_text,
		   text_sig = excluded.text_sig, updated_at = excluded.updated_at`,
		pageID, rawText, normText, textSig, now); err != nil {
		return fmt.Errorf("upsert page_text: %w", err)
	}

	if err := transitionArtifactTx(ctx, tx, pageID, constants.ArtifactText, constants.StatusReady, now); err != nil {
		return err
	}
	return tx.Commit()
}

// CompleteThumbArtifact writes the Thumbnail payload and transitions the
// thumb artifact to ready in one transaction.
func (s *Store) CompleteThumbArtifact(ctx context.Context, pageID int64, aspect string, width, height int, imagePath string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin complete thumb: %w", err)
	}
	defer tx.Rollback()

	now := nowUnix()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO thumbnails (page_id, aspect, width, height, image_path) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(page_id, aspect, width, height) DO UPDATE SET image_path = excluded.image_path`,
		pageID, aspect, width, height, imagePath); err != nil {
		return fmt.Errorf("upsert thumbnail: %w", err)
	}

	if err := transitionArtifactTx(ctx, tx, pageID, constants.ArtifactThumb, constants.StatusReady, now); err != nil {
		return err
	}
	return tx.Commit()
}

// CompleteTextVecArtifact ensures the (model, text_sig) cache row exists,
// links the page to it, and transitions text_vec to ready, all in one
// transaction. If the cache already has this (model, text_sig), the vector
// insert is ignored (content-addressed: the caller is expected to have checked the
// cache before calling the remote embedding API at all).
func (s *Store) CompleteTextVecArtifact(ctx context.Context, pageID int64, model, textSig string, dim int, vector []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin complete text_vec: %w", err)
	}
	defer tx.Rollback()

	now := nowUnix()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO embedding_cache_text (model, text_sig, dim, vector_blob, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(model, text_sig) DO NOTHING`,
		model, textSig, dim, vector, now); err != nil {
		return fmt.Errorf("upsert embedding cache: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO page_text_embedding (page_id, model, text_sig) VALUES (?, ?, ?)
		 ON CONFLICT(page_id, model) DO UPDATE SET text_sig = excluded.text_sig`,
		pageID, model, textSig); err != nil {
		return fmt.Errorf("upsert page_text_embedding: %w", err)
	}

	if err := transitionArtifactTx(ctx, tx, pageID, constants.ArtifactTextVec, constants.StatusReady, now); err != nil {
		return err
	}
	return tx.Commit()
}

// LookupTextEmbeddingCache looks up a previously-computed text embedding by
// (model, text_sig), letting callers skip the remote embedding call entirely
// for content they've already embedded (spec §8 property #4).
func (s *Store) LookupTextEmbeddingCache(ctx context.Context, model, textSig string) (int, []byte, bool, error) {
	var dim int
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT dim, vector_blob FROM embedding_cache_text WHERE model = ? AND text_sig = ?`,
		model, textSig).Scan(&dim, &blob)
	if err == sql.ErrNoRows {
		return 0, nil, false, nil
	}
	if err != nil {
		return 0, nil, false, fmt.Errorf("lookup embedding cache: %w", err)
	}
	return dim, blob, true, nil
}

// CompleteImgVecArtifact writes the PageImageEmbedding payload and
// transitions img_vec to ready in one transaction.
func (s *Store) CompleteImgVecArtifact(ctx context.Context, pageID int64, model string, dim int, vector []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin complete img_vec: %w", err)
	}
	defer tx.Rollback()

	now := nowUnix()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO page_image_embedding (page_id, model, dim, vector_blob) VALUES (?, ?, ?, ?)
		 ON CONFLICT(page_id, model) DO UPDATE SET dim = excluded.dim, vector_blob = excluded.vector_blob`,
		pageID, model, dim, vector); err != nil {
		return fmt.Errorf("upsert page_image_embedding: %w", err)
	}

	if err := transitionArtifactTx(ctx, tx, pageID, constants.ArtifactImgVec, constants.StatusReady, now); err != nil {
		return err
	}
	return tx.Commit()
}

// CompleteBm25Artifact upserts the FTS row and transitions bm25 to ready in
// one transaction. Empty text is accepted and stored as empty (spec 4.9).
func (s *Store) CompleteBm25Artifact(ctx context.Context, pageID int64, normText string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin complete bm25: %w", err)
	}
	defer tx.Rollback()

	now := nowUnix()
	if _, err := tx.ExecContext(ctx, "DELETE FROM fts_pages WHERE page_id = ?", pageID); err != nil {
		return fmt.Errorf("clear fts row: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO fts_pages (content, page_id) VALUES (?, ?)", normText, pageID); err != nil {
		return fmt.Errorf("insert fts row: %w", err)
	}

	if err := transitionArtifactTx(ctx, tx, pageID, constants.ArtifactBm25, constants.StatusReady, now); err != nil {
		return err
	}
	return tx.Commit()
}

func transitionArtifactTx(ctx context.Context, tx *sql.Tx, pageID int64, kind, status string, now int64) error {
	if _, err := tx.ExecContext(ctx,
		"UPDATE artifacts SET status = ?, updated_at = ?, error_code = NULL, error_message = NULL WHERE page_id = ? AND kind = ?",
		status, now, pageID, kind); err != nil {
		return fmt.Errorf("transition artifact %s: %w", kind, err)
	}
	return nil
}

// CountersForKind returns the five-flag-model status counts for one artifact
// kind across a job's pages (identified by the file's library scope — this
// daemon indexes one library root per Store, so the count is simply
// per-kind over the whole database).
func (s *Store) CountersForKind(ctx context.Context, kind string) (ArtifactCounters, error) {
	var c ArtifactCounters
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM artifacts WHERE kind = ? GROUP BY status", kind)
	if err != nil {
		return c, fmt.Errorf("count artifacts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return c, fmt.Errorf("scan artifact count: %w", err)
		}
		switch status {
		case constants.StatusQueued:
			c.Queued = n
		case constants.StatusRunning:
			c.Running = n
		case constants.StatusReady:
			c.Ready = n
		case constants.StatusError:
			c.Error = n
		case constants.StatusCancelled:
			c.Cancelled = n
		}
	}
	return c, rows.Err()
}

// ArtifactsForFile returns every artifact row of a given kind belonging to
// pages of fileID, used by the file-scoped PDF-failure sweep (spec 4.11).
func (s *Store) ArtifactsForFile(ctx context.Context, fileID int64, kind string) ([]Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.id, a.page_id, a.kind, a.status, a.updated_at, COALESCE(a.params_json, ''), COALESCE(a.error_code, ''), COALESCE(a.error_message, ''), a.attempts
		 FROM artifacts a JOIN pages p ON p.id = a.page_id
		 WHERE p.file_id = ? AND a.kind = ?`, fileID, kind)
	if err != nil {
		return nil, fmt.Errorf("artifacts for file: %w", err)
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.ID, &a.PageID, &a.Kind, &a.Status, &a.UpdatedAt, &a.ParamsJSON, &a.ErrorCode, &a.ErrorMessage, &a.Attempts); err != nil {
			return nil, fmt.Errorf("scan artifact row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// FailArtifactsForFile transitions every artifact of kind belonging to
// fileID's pages that is not already ready or cancelled to error with the given code/message, in one transaction
// (the "single sweep" spec 4.11/4.6/S4 require on PDF conversion failure).
func (s *Store) FailArtifactsForFile(ctx context.Context, fileID int64, kind, errorCode, errorMessage string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fail artifacts for file: %w", err)
	}
	defer tx.Rollback()

	now := nowUnix()
	_, err = tx.ExecContext(ctx,
		`UPDATE artifacts SET status = ?, updated_at = ?, error_code = ?, error_message = ?
		 WHERE kind = ? AND page_id IN (SELECT id FROM pages WHERE file_id = ?)
		   AND status NOT IN (?, ?)`,
		constants.StatusError, now, errorCode, errorMessage, kind, fileID, constants.StatusReady, constants.StatusCancelled)
	if err != nil {
		return fmt.Errorf("fail artifacts for file: %w", err)
	}
	return tx.Commit()
}
