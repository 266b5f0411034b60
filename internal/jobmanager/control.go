package jobmanager

import (
	"context"
	"time"

	"github.com/tomas/slidemanager-daemon/internal/constants"
	"github.com/tomas/slidemanager-daemon/internal/store"
)

// pausePollInterval bounds how quickly a paused worker notices a resume,
// since "no in-memory pending-set is authoritative" (spec 4.11) — workers
// always re-read job status from the store rather than trust a cached flag.
const pausePollInterval = 200 * time.Millisecond

// checkControl implements the work-loop's mandatory checkpoint (spec 4.11
// step 1): before dequeuing and before any external call, a worker blocks
// while the job is paused and returns done=true the moment the job reaches
// cancel_requested or any terminal status.
func checkControl(ctx context.Context, s *store.Store, jobID string) (done bool, err error) {
	for {
		job, err := s.GetJob(ctx, jobID)
		if err != nil {
			return true, err
		}
		switch job.Status {
		case constants.JobPaused:
			t := time.NewTimer(pausePollInterval)
			select {
			case <-ctx.Done():
				t.Stop()
				return true, ctx.Err()
			case <-t.C:
			}
			continue
		case constants.JobCancelRequested, constants.JobCancelled, constants.JobCompleted, constants.JobFailed:
			return true, nil
		default:
			return false, nil
		}
	}
}
