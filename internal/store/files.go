package store

import (
	"context"
	"database/sql"
	"fmt"
)

// UpsertFile inserts a new file row or updates size/mtime/slide-aspect in
// place, keeping file_id stable across updates (spec 4.10). Returns the
// file id and whether the row was newly created.
func (s *Store) UpsertFile(ctx context.Context, path string, size, mtime int64, slideCount int, slideAspect string) (int64, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("begin upsert file: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, "SELECT id FROM files WHERE path = ?", path).Scan(&id)
	now := nowUnix()

	switch {
	case err == sql.ErrNoRows:
		res, err := tx.ExecContext(ctx,
			`INSERT INTO files (path, size, mtime, slide_count, slide_aspect, last_scanned_at, scan_error)
			 VALUES (?, ?, ?, ?, ?, ?, NULL)`,
			path, size, mtime, slideCount, slideAspect, now)
		if err != nil {
			return 0, false, fmt.Errorf("insert file: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return 0, false, fmt.Errorf("last insert id: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return 0, false, fmt.Errorf("commit upsert file: %w", err)
		}
		return id, true, nil

	case err != nil:
		return 0, false, fmt.Errorf("lookup file: %w", err)

	default:
		_, err = tx.ExecContext(ctx,
			`UPDATE files SET size = ?, mtime = ?, slide_count = ?, slide_aspect = ?, last_scanned_at = ?, scan_error = NULL
			 WHERE id = ?`,
			size, mtime, slideCount, slideAspect, now, id)
		if err != nil {
			return 0, false, fmt.Errorf("update file: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return 0, false, fmt.Errorf("commit upsert file: %w", err)
		}
		return id, false, nil
	}
}

// MarkFileScanError records a scan error on a file without touching its
// other fields, used when a presentation fails to open at all.
func (s *Store) MarkFileScanError(ctx context.Context, fileID int64, message string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE files SET scan_error = ?, last_scanned_at = ? WHERE id = ?",
		message, nowUnix(), fileID)
	if err != nil {
		return fmt.Errorf("mark file scan error: %w", err)
	}
	return nil
}

// GetFile fetches one file row by id.
func (s *Store) GetFile(ctx context.Context, fileID int64) (*File, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, path, size, mtime, slide_count, slide_aspect, last_scanned_at, COALESCE(scan_error, '') FROM files WHERE id = ?",
		fileID)
	var f File
	if err := row.Scan(&f.ID, &f.Path, &f.Size, &f.Mtime, &f.SlideCount, &f.SlideAspect, &f.LastScannedAt, &f.ScanError); err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	return &f, nil
}

// ListFiles returns every file row known to this index, in path order.
func (s *Store) ListFiles(ctx context.Context) ([]File, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, path, size, mtime, slide_count, slide_aspect, last_scanned_at, COALESCE(scan_error, '') FROM files ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var out []File
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.ID, &f.Path, &f.Size, &f.Mtime, &f.SlideCount, &f.SlideAspect, &f.LastScannedAt, &f.ScanError); err != nil {
			return nil, fmt.Errorf("scan file row: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// FileChanged returns true iff size or mtime differs from the last
// persisted value for the given path (spec 4.10). A path with no existing
// row counts as changed.
func (s *Store) FileChanged(ctx context.Context, path string, size, mtime int64) (bool, error) {
	var existingSize, existingMtime int64
	err := s.db.QueryRowContext(ctx, "SELECT size, mtime FROM files WHERE path = ?", path).Scan(&existingSize, &existingMtime)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("file changed lookup: %w", err)
	}
	return existingSize != size || existingMtime != mtime, nil
}
