package jobmanager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tomas/slidemanager-daemon/internal/config"
	"github.com/tomas/slidemanager-daemon/internal/constants"
	"github.com/tomas/slidemanager-daemon/internal/embedclient"
	"github.com/tomas/slidemanager-daemon/internal/pdfconvert"
	"github.com/tomas/slidemanager-daemon/internal/pptx"
	"github.com/tomas/slidemanager-daemon/internal/ratelimit"
	"github.com/tomas/slidemanager-daemon/internal/store"
	"github.com/tomas/slidemanager-daemon/internal/thumbnail"
)

// runPdfTask converts one file's .pptx to a cached .pdf, the prerequisite
// for every thumb/img_vec task on that file (spec 4.11). On timeout or
// failure every queued thumb/img_vec artifact for the file is failed in one
// sweep instead of retried page by page (spec 4.7/S4).
func (m *Manager) runPdfTask(ctx context.Context, jobID string, task *store.Task, opts config.JobOptions) error {
	if task.FileID == nil {
		return &taggedError{Code: constants.ErrStoreConflict, Err: fmt.Errorf("pdf task %s missing file_id", task.ID)}
	}
	file, err := m.store.GetFile(ctx, *task.FileID)
	if err != nil {
		return &taggedError{Code: constants.ErrStoreConflict, Err: fmt.Errorf("lookup file %d: %w", *task.FileID, err)}
	}

	dst := m.pdfPath(*task.FileID)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return &taggedError{Code: constants.ErrPdfConvertFail, Err: err}
	}

	if err := m.nativeOpSem.Acquire(ctx, 1); err != nil {
		return &taggedError{Code: constants.ErrPdfConvertFail, Err: err}
	}
	defer m.nativeOpSem.Release(1)

	timeout := time.Duration(opts.PdfTimeoutSec) * time.Second
	if err := m.convert.Convert(ctx, file.Path, dst, timeout); err != nil {
		code := constants.ErrPdfConvertFail
		var convertErr *pdfconvert.ConvertError
		if errors.As(err, &convertErr) {
			code = convertErr.Code
		}
		m.failCascade(ctx, jobID, *task.FileID, code, err.Error())
		return &taggedError{Code: code, Err: err}
	}
	return nil
}

// failCascade fails every still-pending thumb and img_vec artifact for a
// file in one sweep, the required response to a file-scoped PDF failure
// (spec 4.11/7/S4): the cascade does not touch text or bm25 artifacts,
// since those never depended on the PDF in the first place.
func (m *Manager) failCascade(ctx context.Context, jobID string, fileID int64, code, message string) {
	for _, kind := range []string{constants.ArtifactThumb, constants.ArtifactImgVec} {
		if err := m.store.FailArtifactsForFile(ctx, fileID, kind, code, message); err != nil {
			m.log.JobError(jobID, "fail cascade kind=%s file=%d: %v", kind, fileID, err)
		}
	}
}

// runTextTask extracts and normalizes one slide's text and commits the
// payload+ready transition atomically (spec 4.1/4.3).
func (m *Manager) runTextTask(ctx context.Context, jobID string, task *store.Task, opts config.JobOptions) error {
	page, file, err := m.loadPageAndFile(ctx, task)
	if err != nil {
		return err
	}

	raw, err := pptx.ExtractText(file.Path, page.PageNo)
	if err != nil {
		return &taggedError{Code: constants.ErrTextExtractFail, Err: err}
	}
	norm := pptx.NormalizeText(raw)
	sig := pptx.TextSig(norm)

	if err := m.store.CompleteTextArtifact(ctx, page.ID, raw, norm, sig); err != nil {
		return &taggedError{Code: constants.ErrStoreConflict, Err: err}
	}
	m.emit(ctx, jobID, constants.EventArtifactStateChanged, map[string]any{"page_id": page.ID, "kind": constants.ArtifactText, "status": constants.StatusReady})
	return nil
}

// runThumbTask rasterizes one slide's page of the file's cached PDF into a
// fixed-size JPEG (spec 4.7).
func (m *Manager) runThumbTask(ctx context.Context, jobID string, task *store.Task, opts config.JobOptions) error {
	page, file, err := m.loadPageAndFile(ctx, task)
	if err != nil {
		return err
	}

	pdfPath := m.pdfPath(file.ID)
	if _, err := os.Stat(pdfPath); err != nil {
		return &taggedError{Code: constants.ErrThumbRenderFail, Err: fmt.Errorf("pdf not available for file %d: %w", file.ID, err)}
	}

	aspect := page.Aspect
	if aspect == "" {
		aspect = opts.ThumbDefaultAspect
	}
	outPath := filepath.Join(m.thumbsDir(file.ID), fmt.Sprintf("%d.jpg", page.PageNo))
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return &taggedError{Code: constants.ErrThumbRenderFail, Err: err}
	}

	if err := m.nativeOpSem.Acquire(ctx, 1); err != nil {
		return &taggedError{Code: constants.ErrThumbRenderFail, Err: err}
	}
	defer m.nativeOpSem.Release(1)

	if err := thumbnail.RenderPageToThumb(pdfPath, page.PageNo-1, outPath, aspect); err != nil {
		return &taggedError{Code: constants.ErrThumbRenderFail, Err: err}
	}

	width, height := thumbnail.Size(aspect)
	if err := m.store.CompleteThumbArtifact(ctx, page.ID, aspect, width, height, outPath); err != nil {
		return &taggedError{Code: constants.ErrStoreConflict, Err: err}
	}
	m.emit(ctx, jobID, constants.EventArtifactStateChanged, map[string]any{"page_id": page.ID, "kind": constants.ArtifactThumb, "status": constants.StatusReady})
	return nil
}

// runTextVecTask embeds one slide's normalized text, consulting the
// content-addressed cache before any remote call (spec §8 property #3/#4).
func (m *Manager) runTextVecTask(ctx context.Context, jobID string, task *store.Task, opts config.JobOptions) error {
	page, _, err := m.loadPageAndFile(ctx, task)
	if err != nil {
		return err
	}

	textArtifact, err := m.requireReadyText(ctx, page.ID)
	if err != nil {
		return err
	}

	dim, vector, err := m.embed.EmbedOne(ctx, opts.TextEmbedModel, textArtifact.normText, textArtifact.textSig)
	if err != nil {
		return classifyEmbedErr(err)
	}
	if err := m.embed.CheckDim(opts.TextEmbedModel, dim); err != nil {
		return &taggedError{Code: constants.ErrEmbedDimMismatch, Err: err}
	}

	if err := m.store.CompleteTextVecArtifact(ctx, page.ID, opts.TextEmbedModel, textArtifact.textSig, dim, vector); err != nil {
		return &taggedError{Code: constants.ErrStoreConflict, Err: err}
	}
	m.emit(ctx, jobID, constants.EventArtifactStateChanged, map[string]any{"page_id": page.ID, "kind": constants.ArtifactTextVec, "status": constants.StatusReady})
	return nil
}

// runImgVecTask embeds one slide's rendered thumbnail image. Image
// embeddings are never cache-addressed (unlike text), since two different
// slides rarely render to byte-identical images.
func (m *Manager) runImgVecTask(ctx context.Context, jobID string, task *store.Task, opts config.JobOptions) error {
	page, file, err := m.loadPageAndFile(ctx, task)
	if err != nil {
		return err
	}

	thumbPath := filepath.Join(m.thumbsDir(file.ID), fmt.Sprintf("%d.jpg", page.PageNo))
	if _, err := os.Stat(thumbPath); err != nil {
		return &taggedError{Code: constants.ErrThumbRenderFail, Err: fmt.Errorf("thumb not available for page %d: %w", page.ID, err)}
	}

	dim, vector, err := m.embed.EmbedImage(ctx, opts.ImageEmbedModel, thumbPath)
	if err != nil {
		return classifyEmbedErr(err)
	}
	if err := m.embed.CheckDim(opts.ImageEmbedModel, dim); err != nil {
		return &taggedError{Code: constants.ErrEmbedDimMismatch, Err: err}
	}

	if err := m.store.CompleteImgVecArtifact(ctx, page.ID, opts.ImageEmbedModel, dim, vector); err != nil {
		return &taggedError{Code: constants.ErrStoreConflict, Err: err}
	}
	m.emit(ctx, jobID, constants.EventArtifactStateChanged, map[string]any{"page_id": page.ID, "kind": constants.ArtifactImgVec, "status": constants.StatusReady})
	return nil
}

// runBm25Task indexes one slide's normalized text into the full-text search
// table, accepting empty text as a valid, indexable value (spec 4.9).
func (m *Manager) runBm25Task(ctx context.Context, jobID string, task *store.Task, opts config.JobOptions) error {
	page, _, err := m.loadPageAndFile(ctx, task)
	if err != nil {
		return err
	}

	textArtifact, err := m.requireReadyText(ctx, page.ID)
	if err != nil {
		return err
	}
	if err := m.bm25.UpsertPage(ctx, page.ID, textArtifact.normText); err != nil {
		return &taggedError{Code: constants.ErrStoreConflict, Err: err}
	}
	m.emit(ctx, jobID, constants.EventArtifactStateChanged, map[string]any{"page_id": page.ID, "kind": constants.ArtifactBm25, "status": constants.StatusReady})
	return nil
}

func (m *Manager) loadPageAndFile(ctx context.Context, task *store.Task) (*store.Page, *store.File, error) {
	if task.PageID == nil {
		return nil, nil, &taggedError{Code: constants.ErrStoreConflict, Err: fmt.Errorf("task %s missing page_id", task.ID)}
	}
	page, err := m.store.GetPage(ctx, *task.PageID)
	if err != nil {
		return nil, nil, &taggedError{Code: constants.ErrStoreConflict, Err: fmt.Errorf("lookup page %d: %w", *task.PageID, err)}
	}
	file, err := m.store.GetFile(ctx, page.FileID)
	if err != nil {
		return nil, nil, &taggedError{Code: constants.ErrStoreConflict, Err: fmt.Errorf("lookup file %d: %w", page.FileID, err)}
	}
	return page, file, nil
}

type readyText struct {
	normText string
	textSig  string
}

// requireReadyText reads back the page_text row a text_vec/bm25 task
// depends on, failing with a store-conflict code if the text artifact
// hasn't reached ready yet (the planner should never queue text_vec/bm25
// ahead of text, but a worker must not assume that invariant blindly).
func (m *Manager) requireReadyText(ctx context.Context, pageID int64) (*readyText, error) {
	rt, err := m.store.GetPageText(ctx, pageID)
	if err != nil {
		return nil, &taggedError{Code: constants.ErrStoreConflict, Err: fmt.Errorf("page %d has no ready text: %w", pageID, err)}
	}
	return &readyText{normText: rt.NormText, textSig: rt.TextSig}, nil
}

// classifyEmbedErr maps an embedclient error into the stable error code
// taxonomy (spec 6/7), distinguishing rate-limit, auth, and dim-mismatch
// failures rather than collapsing every embedding failure into one code.
func classifyEmbedErr(err error) error {
	var dimErr *embedclient.DimMismatchError
	if errors.As(err, &dimErr) {
		return &taggedError{Code: constants.ErrEmbedDimMismatch, Err: err}
	}
	var retryable *ratelimit.RetryableError
	if errors.As(err, &retryable) {
		if retryable.IsRateLimit || retryable.Retryable {
			return &taggedError{Code: constants.ErrOpenAIRateLimit, Err: err}
		}
		return &taggedError{Code: constants.ErrOpenAIAuth, Err: err}
	}
	return &taggedError{Code: constants.ErrOpenAIRateLimit, Err: err}
}
