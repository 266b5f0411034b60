package store

import (
	"context"
	"testing"

	"github.com/tomas/slidemanager-daemon/internal/constants"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEnsurePagesRows_CreatesMissingArtifacts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	fileID, created, err := s.UpsertFile(ctx, "/library/deck.pptx", 100, 1000, 3, constants.Aspect16x9)
	if err != nil {
		t.Fatalf("UpsertFile: %v", err)
	}
	if !created {
		t.Fatalf("expected new file to report created=true")
	}

	if err := s.EnsurePagesRows(ctx, fileID, 3, constants.Aspect16x9, 100, 1000); err != nil {
		t.Fatalf("EnsurePagesRows: %v", err)
	}

	pages, err := s.ListPagesForFile(ctx, fileID)
	if err != nil {
		t.Fatalf("ListPagesForFile: %v", err)
	}
	if len(pages) != 3 {
		t.Fatalf("expected 3 pages, got %d", len(pages))
	}

	for _, p := range pages {
		for _, kind := range constants.ArtifactKinds {
			a, err := s.GetArtifact(ctx, p.ID, kind)
			if err != nil {
				t.Fatalf("GetArtifact(%d, %s): %v", p.ID, kind, err)
			}
			if a.Status != constants.StatusMissing {
				t.Errorf("page %d artifact %s: got status %q, want %q", p.ID, kind, a.Status, constants.StatusMissing)
			}
		}
	}
}

func TestEnsurePagesRows_IsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	fileID, _, err := s.UpsertFile(ctx, "/library/deck.pptx", 100, 1000, 2, constants.Aspect4x3)
	if err != nil {
		t.Fatalf("UpsertFile: %v", err)
	}
	if err := s.EnsurePagesRows(ctx, fileID, 2, constants.Aspect4x3, 100, 1000); err != nil {
		t.Fatalf("EnsurePagesRows (first): %v", err)
	}

	pagesBefore, err := s.ListPagesForFile(ctx, fileID)
	if err != nil {
		t.Fatalf("ListPagesForFile: %v", err)
	}

	if err := s.EnsurePagesRows(ctx, fileID, 2, constants.Aspect4x3, 100, 1000); err != nil {
		t.Fatalf("EnsurePagesRows (second): %v", err)
	}

	pagesAfter, err := s.ListPagesForFile(ctx, fileID)
	if err != nil {
		t.Fatalf("ListPagesForFile: %v", err)
	}
	if len(pagesAfter) != len(pagesBefore) {
		t.Fatalf("rerun changed page count: before %d after %d", len(pagesBefore), len(pagesAfter))
	}
	for i := range pagesBefore {
		if pagesBefore[i].ID != pagesAfter[i].ID {
			t.Errorf("page id drifted on rerun: %d -> %d", pagesBefore[i].ID, pagesAfter[i].ID)
		}
	}
}

func TestEnsurePagesRows_TrimsShrinkingDeck(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	fileID, _, err := s.UpsertFile(ctx, "/library/deck.pptx", 100, 1000, 5, constants.Aspect16x9)
	if err != nil {
		t.Fatalf("UpsertFile: %v", err)
	}
	if err := s.EnsurePagesRows(ctx, fileID, 5, constants.Aspect16x9, 100, 1000); err != nil {
		t.Fatalf("EnsurePagesRows (5 pages): %v", err)
	}
	if err := s.EnsurePagesRows(ctx, fileID, 2, constants.Aspect16x9, 110, 1001); err != nil {
		t.Fatalf("EnsurePagesRows (shrink to 2): %v", err)
	}

	pages, err := s.ListPagesForFile(ctx, fileID)
	if err != nil {
		t.Fatalf("ListPagesForFile: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("expected trailing pages trimmed to 2, got %d", len(pages))
	}
}

// TestCompleteArtifact_PayloadCommitsWithStatus verifies spec 4.1's
// atomicity contract: a ready artifact's payload row is visible in the same
// read that observes the ready status.
func TestCompleteArtifact_PayloadCommitsWithStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	fileID, _, err := s.UpsertFile(ctx, "/library/deck.pptx", 100, 1000, 1, constants.Aspect16x9)
	if err != nil {
		t.Fatalf("UpsertFile: %v", err)
	}
	if err := s.EnsurePagesRows(ctx, fileID, 1, constants.Aspect16x9, 100, 1000); err != nil {
		t.Fatalf("EnsurePagesRows: %v", err)
	}
	pages, err := s.ListPagesForFile(ctx, fileID)
	if err != nil || len(pages) != 1 {
		t.Fatalf("ListPagesForFile: %v (pages=%d)", err, len(pages))
	}
	pageID := pages[0].ID

	if err := s.CompleteTextArtifact(ctx, pageID, "Hello world", "hello world", "sig123"); err != nil {
		t.Fatalf("CompleteTextArtifact: %v", err)
	}

	a, err := s.GetArtifact(ctx, pageID, constants.ArtifactText)
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if a.Status != constants.StatusReady {
		t.Fatalf("expected text artifact ready, got %q", a.Status)
	}

	var rawText string
	if err := s.db.QueryRowContext(ctx, "SELECT raw_text FROM page_text WHERE page_id = ?", pageID).Scan(&rawText); err != nil {
		t.Fatalf("ready text artifact has no page_text payload row: %v", err)
	}
	if rawText != "Hello world" {
		t.Errorf("got raw_text %q, want %q", rawText, "Hello world")
	}
}

// TestTerminalJob_HasNoQueuedOrRunningTasks verifies spec §8 testable
// property #1.
func TestTerminalJob_HasNoQueuedOrRunningTasks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.CreateJob(ctx, "job-1", "/library", constants.JobRunning, "{}"); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := s.InsertTask(ctx, "task-1", "job-1", nil, nil, constants.ArtifactText, "queued", 0, ""); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	if err := s.CancelQueuedTasks(ctx, "job-1"); err != nil {
		t.Fatalf("CancelQueuedTasks: %v", err)
	}
	if _, err := s.CompareAndSwapJobStatus(ctx, "job-1", []string{constants.JobRunning, constants.JobCancelRequested}, constants.JobCancelled); err != nil {
		t.Fatalf("CompareAndSwapJobStatus: %v", err)
	}

	n, err := s.CountQueuedOrRunning(ctx, "job-1")
	if err != nil {
		t.Fatalf("CountQueuedOrRunning: %v", err)
	}
	if n != 0 {
		t.Errorf("terminal job still has %d queued/running tasks", n)
	}
}

func TestAppendEvent_StrictlyIncreasingSeq(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.CreateJob(ctx, "job-1", "/library", constants.JobRunning, "{}"); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	var seqs []int64
	for i := 0; i < 3; i++ {
		seq, err := s.AppendEvent(ctx, "job-1", constants.EventTaskProgress, "{}")
		if err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
		seqs = append(seqs, seq)
	}
	for i := 1; i < len(seqs); i++ {
		if seqs[i] <= seqs[i-1] {
			t.Errorf("sequence not strictly increasing: %v", seqs)
		}
	}
}

func TestEncodeDecodeVector_RoundTrips(t *testing.T) {
	v := []float32{1.5, -2.25, 0, 3.75}
	blob := EncodeVector(v)
	if len(blob) != len(v)*4 {
		t.Fatalf("blob length %d, want %d", len(blob), len(v)*4)
	}
	got, err := DecodeVector(blob, len(v))
	if err != nil {
		t.Fatalf("DecodeVector: %v", err)
	}
	for i := range v {
		if got[i] != v[i] {
			t.Errorf("index %d: got %v, want %v", i, got[i], v[i])
		}
	}
}

func TestDecodeVector_RejectsDimMismatch(t *testing.T) {
	blob := EncodeVector([]float32{1, 2, 3})
	if _, err := DecodeVector(blob, 4); err == nil {
		t.Fatal("expected error for mismatched dim")
	}
}
