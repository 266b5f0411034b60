package eventbus

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/tomas/slidemanager-daemon/internal/constants"
)

// WriteFrame writes event as one SSE frame. Unlike the teacher's
// sendSSEEvent (internal/web/handlers/sort.go), which splits the event
// across an "event: <type>" line and a "data: <json>" line, the control
// API's wire format carries the type inside the JSON payload itself (spec
// 4.12): a frame is exactly "data: <json>\n\n".
func WriteFrame(w io.Writer, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal sse event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", body); err != nil {
		return fmt.Errorf("write sse frame: %w", err)
	}
	return nil
}

// HelloEvent builds the mandatory first frame of every /jobs/{id}/events
// stream (spec 4.12): it carries no sequence number of its own since it
// isn't a durable event, only a connection acknowledgement.
func HelloEvent(jobID string) Event {
	return Event{Type: constants.EventHello, JobID: jobID}
}
