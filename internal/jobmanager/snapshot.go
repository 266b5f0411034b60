package jobmanager

import (
	"context"
	"fmt"

	"github.com/tomas/slidemanager-daemon/internal/constants"
	"github.com/tomas/slidemanager-daemon/internal/store"
)

// Snapshot is the GET /jobs/{id} response shape and the stats_snapshot
// event payload (spec 4.2/4.12): counters for the five artifact kinds,
// the identity of whatever task is currently running (nullable), and an
// error summary.
type Snapshot struct {
	Status        string                              `json:"status"`
	Counters      map[string]store.ArtifactCounters    `json:"counters"`
	NowRunning    *RunningTask                         `json:"now_running"`
	Rates         Rates                                `json:"rates"`
	ErrorsSummary map[string]int                       `json:"errors_summary"`
}

// RunningTask identifies whatever task a job's workers are currently
// executing, surfaced so the UI can show live progress.
type RunningTask struct {
	TaskID string `json:"task_id"`
	Kind   string `json:"kind"`
	PageID *int64 `json:"page_id,omitempty"`
}

// Rates is a best-effort throughput estimate; zero values are valid.
type Rates struct {
	PagesPerMinute float64 `json:"pages_per_minute"`
}

// BuildSnapshot assembles a Snapshot by querying Store directly, so it can
// be served even after every in-memory worker for a job has exited (spec
// 4.12: "Always callable; even after stream disconnects, UI can recover
// progress").
func BuildSnapshot(ctx context.Context, s *store.Store, jobID string) (Snapshot, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("build snapshot: %w", err)
	}

	counters := make(map[string]store.ArtifactCounters, len(constants.ArtifactKinds))
	errorsSummary := make(map[string]int)
	for _, kind := range constants.ArtifactKinds {
		c, err := s.CountersForKind(ctx, kind)
		if err != nil {
			return Snapshot{}, fmt.Errorf("build snapshot counters for %s: %w", kind, err)
		}
		counters[kind] = c
		if c.Error > 0 {
			errorsSummary[kind] = c.Error
		}
	}

	var running *RunningTask
	runningTasks, err := s.ListTasksByJobAndStatus(ctx, jobID, constants.StatusRunning)
	if err != nil {
		return Snapshot{}, fmt.Errorf("build snapshot running tasks: %w", err)
	}
	if len(runningTasks) > 0 {
		t := runningTasks[0]
		running = &RunningTask{TaskID: t.ID, Kind: t.Kind, PageID: t.PageID}
	}

	return Snapshot{
		Status:        job.Status,
		Counters:      counters,
		NowRunning:    running,
		Rates:         Rates{},
		ErrorsSummary: errorsSummary,
	}, nil
}
