package controlapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomas/slidemanager-daemon/internal/constants"
	"github.com/tomas/slidemanager-daemon/internal/eventbus"
)

// streamEvents serves GET /jobs/{id}/events: an SSE stream whose mandatory
// first frame is "hello" (spec §6/4.12), followed by every live event the
// EventBus publishes for this job until the client disconnects.
//
// Grounded on the teacher's streamSSEEvents in
// internal/web/handlers/sse.go, generalized from its per-job in-process
// channel to the shared EventBus's Subscribe/unsubscribe pair and the
// spec's hello-frame + drop-oldest contract (eventbus.WriteFrame emits only
// "data: <json>\n\n", unlike the teacher's two-line event+data format).
func (h *handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if _, err := h.store.GetJob(r.Context(), jobID); err != nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch, unsubscribe := h.bus.Subscribe(jobID)
	defer unsubscribe()

	if err := eventbus.WriteFrame(w, eventbus.HelloEvent(jobID)); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if err := eventbus.WriteFrame(w, event); err != nil {
				return
			}
			flusher.Flush()
			if event.Type == constants.EventJobFinished {
				return
			}
		}
	}
}
