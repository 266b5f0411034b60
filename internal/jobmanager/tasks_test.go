package jobmanager

import (
	"context"
	"errors"
	"testing"

	"github.com/tomas/slidemanager-daemon/internal/constants"
	"github.com/tomas/slidemanager-daemon/internal/embedclient"
	"github.com/tomas/slidemanager-daemon/internal/ratelimit"
)

// TestClassifyEmbedErr_DimMismatch covers the EMBED_DIM_MISMATCH branch of
// spec 6/7's error code taxonomy.
func TestClassifyEmbedErr_DimMismatch(t *testing.T) {
	err := classifyEmbedErr(&embedclient.DimMismatchError{Model: "text-embedding-3-small", Expected: 1536, Got: 768})
	if errCode(err) != constants.ErrEmbedDimMismatch {
		t.Errorf("expected %s, got %s", constants.ErrEmbedDimMismatch, errCode(err))
	}
}

func TestClassifyEmbedErr_RateLimit(t *testing.T) {
	err := classifyEmbedErr(&ratelimit.RetryableError{Err: errors.New("429"), Retryable: true, IsRateLimit: true})
	if errCode(err) != constants.ErrOpenAIRateLimit {
		t.Errorf("expected %s, got %s", constants.ErrOpenAIRateLimit, errCode(err))
	}
}

func TestClassifyEmbedErr_AuthFailureIsNotRateLimit(t *testing.T) {
	err := classifyEmbedErr(&ratelimit.RetryableError{Err: errors.New("401"), Retryable: false, IsRateLimit: false})
	if errCode(err) != constants.ErrOpenAIAuth {
		t.Errorf("expected %s, got %s", constants.ErrOpenAIAuth, errCode(err))
	}
}

// TestFailCascade_FailsThumbAndImgVecButNotTextOrBm25 covers spec 4.11/7/S4:
// a file-scoped PDF failure must cascade to every page's thumb and img_vec
// artifact for that file, leaving text and bm25 untouched since neither
// depends on the PDF conversion.
func TestFailCascade_FailsThumbAndImgVecButNotTextOrBm25(t *testing.T) {
	mgr, s := newTestManager(t)
	ctx := context.Background()

	fileID, _, err := s.UpsertFile(ctx, "/tmp/deck.pptx", 100, 1, 2, constants.Aspect4x3)
	if err != nil {
		t.Fatalf("upsert file: %v", err)
	}
	if err := s.EnsurePagesRows(ctx, fileID, 2, constants.Aspect4x3, 100, 1); err != nil {
		t.Fatalf("ensure pages: %v", err)
	}
	pages, err := s.ListPagesForFile(ctx, fileID)
	if err != nil || len(pages) == 0 {
		t.Fatalf("list pages: %v", err)
	}

	for _, kind := range constants.ArtifactKinds {
		for _, p := range pages {
			if _, err := s.QueueArtifact(ctx, p.ID, kind, false); err != nil {
				t.Fatalf("queue artifact %s for page %d: %v", kind, p.ID, err)
			}
		}
	}

	mgr.failCascade(ctx, "job-1", fileID, constants.ErrPdfConvertFail, "soffice timed out")

	for _, p := range pages {
		thumb, err := s.GetArtifact(ctx, p.ID, constants.ArtifactThumb)
		if err != nil {
			t.Fatalf("get thumb artifact: %v", err)
		}
		if thumb.Status != constants.StatusError {
			t.Errorf("page %d: expected thumb status error, got %s", p.ID, thumb.Status)
		}

		imgVec, err := s.GetArtifact(ctx, p.ID, constants.ArtifactImgVec)
		if err != nil {
			t.Fatalf("get img_vec artifact: %v", err)
		}
		if imgVec.Status != constants.StatusError {
			t.Errorf("page %d: expected img_vec status error, got %s", p.ID, imgVec.Status)
		}

		text, err := s.GetArtifact(ctx, p.ID, constants.ArtifactText)
		if err != nil {
			t.Fatalf("get text artifact: %v", err)
		}
		if text.Status == constants.StatusError {
			t.Errorf("page %d: text artifact should be unaffected by the pdf cascade", p.ID)
		}

		bm25, err := s.GetArtifact(ctx, p.ID, constants.ArtifactBm25)
		if err != nil {
			t.Fatalf("get bm25 artifact: %v", err)
		}
		if bm25.Status == constants.StatusError {
			t.Errorf("page %d: bm25 artifact should be unaffected by the pdf cascade", p.ID)
		}
	}
}
