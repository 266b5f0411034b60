package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tomas/slidemanager-daemon/internal/constants"
)

// EnsurePagesRows creates (or leaves) exactly slideCount page rows for a
// file, and exactly five artifact rows per page with status=missing (spec
// 4.10). Idempotent: rerunning on an unchanged file changes no rows.
func (s *Store) EnsurePagesRows(ctx context.Context, fileID int64, slideCount int, aspect string, sourceSize, sourceMtime int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ensure pages: %w", err)
	}
	defer tx.Rollback()

	for pageNo := 1; pageNo <= slideCount; pageNo++ {
		var pageID int64
		err := tx.QueryRowContext(ctx, "SELECT id FROM pages WHERE file_id = ? AND page_no = ?", fileID, pageNo).Scan(&pageID)
		switch {
		case err == sql.ErrNoRows:
			res, err := tx.ExecContext(ctx,
				`INSERT INTO pages (file_id, page_no, aspect, source_size, source_mtime, created_at)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				fileID, pageNo, aspect, sourceSize, sourceMtime, nowUnix())
			if err != nil {
				return fmt.Errorf("insert page %d: %w", pageNo, err)
			}
			pageID, err = res.LastInsertId()
			if err != nil {
				return fmt.Errorf("last insert id for page %d: %w", pageNo, err)
			}
		case err != nil:
			return fmt.Errorf("lookup page %d: %w", pageNo, err)
		default:
			if _, err := tx.ExecContext(ctx, "UPDATE pages SET aspect = ?, source_size = ?, source_mtime = ? WHERE id = ?",
				aspect, sourceSize, sourceMtime, pageID); err != nil {
				return fmt.Errorf("update page %d: %w", pageNo, err)
			}
		}

		if err := ensureArtifactRows(ctx, tx, pageID); err != nil {
			return err
		}
	}

	// Remove page rows beyond the current slide count (cascade-deletes their
	// artifacts) so a shrinking deck doesn't leave orphaned trailing pages.
	if _, err := tx.ExecContext(ctx, "DELETE FROM pages WHERE file_id = ? AND page_no > ?", fileID, slideCount); err != nil {
		return fmt.Errorf("trim trailing pages: %w", err)
	}

	return tx.Commit()
}

func ensureArtifactRows(ctx context.Context, tx *sql.Tx, pageID int64) error {
	for _, kind := range constants.ArtifactKinds {
		var exists int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM artifacts WHERE page_id = ? AND kind = ?", pageID, kind).Scan(&exists)
		if err == sql.ErrNoRows {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO artifacts (page_id, kind, status, updated_at) VALUES (?, ?, ?, ?)`,
				pageID, kind, constants.StatusMissing, nowUnix()); err != nil {
				return fmt.Errorf("insert artifact %s for page %d: %w", kind, pageID, err)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("lookup artifact %s for page %d: %w", kind, pageID, err)
		}
	}
	return nil
}

// ListPagesForFile returns every page row belonging to a file, in page-number order.
func (s *Store) ListPagesForFile(ctx context.Context, fileID int64) ([]Page, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, file_id, page_no, aspect, source_size, source_mtime, created_at FROM pages WHERE file_id = ? ORDER BY page_no",
		fileID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	var out []Page
	for rows.Next() {
		var p Page
		if err := rows.Scan(&p.ID, &p.FileID, &p.PageNo, &p.Aspect, &p.SourceSize, &p.SourceMtime, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan page row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PageText mirrors one row of the page_text table.
type PageText struct {
	PageID   int64
	RawText  string
	NormText string
	TextSig  string
}

// GetPageText reads back a page's extracted text payload, used by
// downstream text_vec/bm25 tasks that depend on the text artifact having
// already reached ready.
func (s *Store) GetPageText(ctx context.Context, pageID int64) (*PageText, error) {
	var pt PageText
	pt.PageID = pageID
	err := s.db.QueryRowContext(ctx,
		"SELECT raw_text, norm_text, text_sig FROM page_text WHERE page_id = ?", pageID).
		Scan(&pt.RawText, &pt.NormText, &pt.TextSig)
	if err != nil {
		return nil, fmt.Errorf("get page_text for page %d: %w", pageID, err)
	}
	return &pt, nil
}

// GetPage fetches one page row by id.
func (s *Store) GetPage(ctx context.Context, pageID int64) (*Page, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, file_id, page_no, aspect, source_size, source_mtime, created_at FROM pages WHERE id = ?", pageID)
	var p Page
	if err := row.Scan(&p.ID, &p.FileID, &p.PageNo, &p.Aspect, &p.SourceSize, &p.SourceMtime, &p.CreatedAt); err != nil {
		return nil, fmt.Errorf("get page: %w", err)
	}
	return &p, nil
}
