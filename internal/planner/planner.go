// Package planner scans a library root for presentation files and brings
// the store's files/pages/artifacts rows up to date with what's on disk
// (spec component C10). ScanFilesUnder is grounded directly on the
// teacher's collectImagesFromFolder/collectImagesRecursive/collectImagesFlat
// dual-path in cmd/upload.go, swapping the image extension whitelist for
// the single .pptx extension this daemon indexes.
package planner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tomas/slidemanager-daemon/internal/pptx"
	"github.com/tomas/slidemanager-daemon/internal/store"
)

// ScanFilesUnder implements scan_files_under(root, recursive) (spec 4.10 /
// 9's open question resolution: recursion is the caller's choice via the
// options record's Recursive flag, non-recursive is the default).
func ScanFilesUnder(root string, recursive bool) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("cannot access library root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	if recursive {
		return scanRecursive(root)
	}
	return scanFlat(root)
}

func scanRecursive(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == ".slidemanager" {
			return filepath.SkipDir
		}
		if !d.IsDir() && pptx.IsPresentationFile(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cannot walk library root %s: %w", root, err)
	}
	return paths, nil
}

func scanFlat(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("cannot read library root %s: %w", root, err)
	}
	var paths []string
	for _, entry := range entries {
		if !entry.IsDir() && pptx.IsPresentationFile(entry.Name()) {
			paths = append(paths, filepath.Join(root, entry.Name()))
		}
	}
	return paths, nil
}

// Planner brings the store up to date with a library root's presentation
// files: it scans, upserts file rows, and ensures each file's page and
// artifact rows exist.
type Planner struct {
	store *store.Store
}

// New constructs a Planner over an open Store.
func New(s *store.Store) *Planner {
	return &Planner{store: s}
}

// ScannedFile is one file discovered and reconciled against the store
// during a planning pass.
type ScannedFile struct {
	FileID  int64
	Path    string
	Changed bool
}

// Plan scans root and reconciles every discovered file's row, page rows,
// and artifact rows in the store. It does not itself enqueue tasks — that
// is JobManager's responsibility once it decides which artifact kinds are
// enabled for the job.
func (p *Planner) Plan(ctx context.Context, root string, recursive bool) ([]ScannedFile, error) {
	paths, err := ScanFilesUnder(root, recursive)
	if err != nil {
		return nil, err
	}

	results := make([]ScannedFile, 0, len(paths))
	for _, path := range paths {
		scanned, err := p.planOne(ctx, path)
		if err != nil {
			// A single unreadable/corrupt package must not abort the scan
			// (spec 4.10 + 7: per-file errors are recorded, not propagated).
			continue
		}
		results = append(results, scanned)
	}
	return results, nil
}

func (p *Planner) planOne(ctx context.Context, path string) (ScannedFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return ScannedFile{}, fmt.Errorf("stat %s: %w", path, err)
	}
	size := info.Size()
	mtime := info.ModTime().Unix()

	changed, err := p.store.FileChanged(ctx, path, size, mtime)
	if err != nil {
		return ScannedFile{}, fmt.Errorf("file changed check %s: %w", path, err)
	}

	slideCount, err := pptx.SlideCount(path)
	if err != nil {
		fileID, _, upsertErr := p.store.UpsertFile(ctx, path, size, mtime, 0, "")
		if upsertErr == nil {
			_ = p.store.MarkFileScanError(ctx, fileID, err.Error())
		}
		return ScannedFile{}, fmt.Errorf("slide count %s: %w", path, err)
	}

	aspect, err := pptx.DetectAspect(path)
	if err != nil {
		return ScannedFile{}, fmt.Errorf("detect aspect %s: %w", path, err)
	}

	fileID, _, err := p.store.UpsertFile(ctx, path, size, mtime, slideCount, aspect)
	if err != nil {
		return ScannedFile{}, fmt.Errorf("upsert file %s: %w", path, err)
	}

	if err := p.store.EnsurePagesRows(ctx, fileID, slideCount, aspect, size, mtime); err != nil {
		return ScannedFile{}, fmt.Errorf("ensure pages rows %s: %w", path, err)
	}

	return ScannedFile{FileID: fileID, Path: path, Changed: changed}, nil
}
