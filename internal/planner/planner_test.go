package planner

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/tomas/slidemanager-daemon/internal/store"
)

func openTestStore(t *testing.T, libraryRoot string) *store.Store {
	t.Helper()
	if err := os.MkdirAll(libraryRoot, 0o755); err != nil {
		t.Fatalf("mkdir library root: %v", err)
	}
	s, err := store.Open(context.Background(), libraryRoot)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func writeMinimalPptx(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	w, err := zw.Create("ppt/slides/slide1.xml")
	if err != nil {
		t.Fatalf("zip create: %v", err)
	}
	w.Write([]byte(`<p:sld xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"><p:cSld><p:spTree/></p:cSld></p:sld>`))
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
}

func TestScanFilesUnder_NonRecursiveFindsTopLevelOnly(t *testing.T) {
	root := t.TempDir()
	writeMinimalPptx(t, filepath.Join(root, "a.pptx"))
	sub := filepath.Join(root, "sub")
	os.Mkdir(sub, 0o755)
	writeMinimalPptx(t, filepath.Join(sub, "b.pptx"))

	files, err := ScanFilesUnder(root, false)
	if err != nil {
		t.Fatalf("ScanFilesUnder: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("got %d files, want 1 (non-recursive)", len(files))
	}
}

func TestScanFilesUnder_RecursiveFindsNestedFiles(t *testing.T) {
	root := t.TempDir()
	writeMinimalPptx(t, filepath.Join(root, "a.pptx"))
	sub := filepath.Join(root, "sub")
	os.Mkdir(sub, 0o755)
	writeMinimalPptx(t, filepath.Join(sub, "b.pptx"))

	files, err := ScanFilesUnder(root, true)
	if err != nil {
		t.Fatalf("ScanFilesUnder: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d files, want 2 (recursive)", len(files))
	}
}

func TestScanFilesUnder_IgnoresNonPptxFiles(t *testing.T) {
	root := t.TempDir()
	writeMinimalPptx(t, filepath.Join(root, "a.pptx"))
	os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hi"), 0o644)

	files, err := ScanFilesUnder(root, false)
	if err != nil {
		t.Fatalf("ScanFilesUnder: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("got %d files, want 1", len(files))
	}
}

func TestPlan_CreatesFilesAndPages(t *testing.T) {
	root := t.TempDir()
	writeMinimalPptx(t, filepath.Join(root, "a.pptx"))

	s := openTestStore(t, root)
	p := New(s)

	scanned, err := p.Plan(context.Background(), root, false)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(scanned) != 1 {
		t.Fatalf("got %d scanned files, want 1", len(scanned))
	}
	if !scanned[0].Changed {
		t.Error("expected newly discovered file to report Changed=true")
	}

	pages, err := s.ListPagesForFile(context.Background(), scanned[0].FileID)
	if err != nil {
		t.Fatalf("ListPagesForFile: %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("got %d pages, want 1", len(pages))
	}
}

func TestPlan_RerunOnUnchangedFileReportsUnchanged(t *testing.T) {
	root := t.TempDir()
	writeMinimalPptx(t, filepath.Join(root, "a.pptx"))

	s := openTestStore(t, filepath.Join(t.TempDir(), "lib"))
	p := New(s)
	ctx := context.Background()

	if _, err := p.Plan(ctx, root, false); err != nil {
		t.Fatalf("Plan (first): %v", err)
	}
	scanned, err := p.Plan(ctx, root, false)
	if err != nil {
		t.Fatalf("Plan (second): %v", err)
	}
	if scanned[0].Changed {
		t.Error("expected unchanged file to report Changed=false on rerun")
	}
}
