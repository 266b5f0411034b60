package jobmanager

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tomas/slidemanager-daemon/internal/config"
	"github.com/tomas/slidemanager-daemon/internal/constants"
	"github.com/tomas/slidemanager-daemon/internal/planner"
)

// plan runs the Planner over the job's library root and queues one Task
// per enabled, not-yet-ready (or all, if force_rebuild) artifact, plus one
// file-scoped "pdf" task per file that needs thumb or img_vec (spec 4.11:
// "thumb depends on the file-scoped PDF task having produced a PDF").
func (m *Manager) plan(ctx context.Context, jobID, libraryRoot string, opts config.JobOptions) error {
	p := planner.New(m.store)
	scanned, err := p.Plan(ctx, libraryRoot, opts.Recursive)
	if err != nil {
		return fmt.Errorf("plan job %s: %w", jobID, err)
	}

	for _, file := range scanned {
		if err := m.queueFileWork(ctx, jobID, file, opts); err != nil {
			return err
		}
		m.emit(ctx, jobID, constants.EventPlanningProgress, map[string]any{"file_id": file.FileID, "path": file.Path})
	}
	return nil
}

// queueFileWork queues one file's tasks in the dependency order spec 4.11
// requires: "text_vec and bm25 depend on text being ready (same page).
// img_vec depends on thumb being ready. thumb depends on the file-scoped
// PDF task having produced a PDF." Tasks are inserted in dependency order
// (upstream before downstream) so each downstream InsertTask can carry its
// upstream's freshly-minted task id in depends_on_task; ClaimNextTask then
// refuses to hand out a task whose dependency hasn't finished yet.
func (m *Manager) queueFileWork(ctx context.Context, jobID string, file planner.ScannedFile, opts config.JobOptions) error {
	pages, err := m.store.ListPagesForFile(ctx, file.FileID)
	if err != nil {
		return fmt.Errorf("list pages for file %d: %w", file.FileID, err)
	}

	textTaskID := make(map[int64]string)
	thumbQueuedPages := make(map[int64]bool)
	imgVecQueuedPages := make(map[int64]bool)
	needsPdfTask := false

	// Pass 1: text, the only kind with no dependency of its own.
	if opts.EnableText {
		for _, page := range pages {
			queued, err := m.store.QueueArtifact(ctx, page.ID, constants.ArtifactText, opts.ForceRebuild)
			if err != nil {
				return fmt.Errorf("queue artifact text for page %d: %w", page.ID, err)
			}
			if !queued {
				continue
			}
			taskID := uuid.NewString()
			pageID := page.ID
			if err := m.store.InsertTask(ctx, taskID, jobID, &pageID, &file.FileID, constants.ArtifactText, constants.StatusQueued, 0, ""); err != nil {
				return fmt.Errorf("insert task text for page %d: %w", page.ID, err)
			}
			textTaskID[page.ID] = taskID
		}
	}

	// Pass 2: note which pages need thumb/img_vec, without inserting their
	// tasks yet — thumb's depends_on_task needs the pdf task's id, which
	// doesn't exist until pass 3.
	if opts.EnableThumb {
		for _, page := range pages {
			queued, err := m.store.QueueArtifact(ctx, page.ID, constants.ArtifactThumb, opts.ForceRebuild)
			if err != nil {
				return fmt.Errorf("queue artifact thumb for page %d: %w", page.ID, err)
			}
			if queued {
				thumbQueuedPages[page.ID] = true
				needsPdfTask = true
			}
		}
	}
	if opts.EnableImgVec {
		for _, page := range pages {
			queued, err := m.store.QueueArtifact(ctx, page.ID, constants.ArtifactImgVec, opts.ForceRebuild)
			if err != nil {
				return fmt.Errorf("queue artifact img_vec for page %d: %w", page.ID, err)
			}
			if queued {
				imgVecQueuedPages[page.ID] = true
				needsPdfTask = true
			}
		}
	}

	// Pass 3: the file-scoped pdf task, the dependency every queued thumb
	// task chains to.
	pdfTaskID := ""
	if needsPdfTask {
		pdfTaskID = uuid.NewString()
		if err := m.store.InsertTask(ctx, pdfTaskID, jobID, nil, &file.FileID, kindPdf, constants.StatusQueued, 10, ""); err != nil {
			return fmt.Errorf("insert pdf task for file %d: %w", file.FileID, err)
		}
	}

	// Pass 4: thumb, chained to the pdf task.
	thumbTaskID := make(map[int64]string)
	for _, page := range pages {
		if !thumbQueuedPages[page.ID] {
			continue
		}
		taskID := uuid.NewString()
		pageID := page.ID
		if err := m.store.InsertTask(ctx, taskID, jobID, &pageID, &file.FileID, constants.ArtifactThumb, constants.StatusQueued, 0, pdfTaskID); err != nil {
			return fmt.Errorf("insert task thumb for page %d: %w", page.ID, err)
		}
		thumbTaskID[page.ID] = taskID
	}

	// Pass 5: img_vec, chained to this page's freshly-queued thumb task if
	// one was just inserted; otherwise no thumb task was queued for the page
	// in this job (thumb already ready, or thumbs not enabled), so img_vec
	// has no dependency and can run as soon as it's claimed.
	for _, page := range pages {
		if !imgVecQueuedPages[page.ID] {
			continue
		}
		pageID := page.ID
		if err := m.store.InsertTask(ctx, uuid.NewString(), jobID, &pageID, &file.FileID, constants.ArtifactImgVec, constants.StatusQueued, 0, thumbTaskID[page.ID]); err != nil {
			return fmt.Errorf("insert task img_vec for page %d: %w", page.ID, err)
		}
	}

	// Pass 6: text_vec/bm25, chained to this page's freshly-queued text
	// task if one was just inserted; otherwise no text task was queued for
	// the page in this job (text already ready, or text not enabled).
	if opts.EnableTextVec {
		for _, page := range pages {
			queued, err := m.store.QueueArtifact(ctx, page.ID, constants.ArtifactTextVec, opts.ForceRebuild)
			if err != nil {
				return fmt.Errorf("queue artifact text_vec for page %d: %w", page.ID, err)
			}
			if !queued {
				continue
			}
			pageID := page.ID
			if err := m.store.InsertTask(ctx, uuid.NewString(), jobID, &pageID, &file.FileID, constants.ArtifactTextVec, constants.StatusQueued, 0, textTaskID[page.ID]); err != nil {
				return fmt.Errorf("insert task text_vec for page %d: %w", page.ID, err)
			}
		}
	}
	if opts.EnableBm25 {
		for _, page := range pages {
			queued, err := m.store.QueueArtifact(ctx, page.ID, constants.ArtifactBm25, opts.ForceRebuild)
			if err != nil {
				return fmt.Errorf("queue artifact bm25 for page %d: %w", page.ID, err)
			}
			if !queued {
				continue
			}
			pageID := page.ID
			if err := m.store.InsertTask(ctx, uuid.NewString(), jobID, &pageID, &file.FileID, constants.ArtifactBm25, constants.StatusQueued, 0, textTaskID[page.ID]); err != nil {
				return fmt.Errorf("insert task bm25 for page %d: %w", page.ID, err)
			}
		}
	}
	return nil
}

// kindPdf is the file-scoped task kind that isn't one of the five artifact
// kinds but still needs its own worker pool and queue entries.
const kindPdf = "pdf"
