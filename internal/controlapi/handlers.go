package controlapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomas/slidemanager-daemon/internal/config"
	"github.com/tomas/slidemanager-daemon/internal/eventbus"
	"github.com/tomas/slidemanager-daemon/internal/jobmanager"
	"github.com/tomas/slidemanager-daemon/internal/logging"
	"github.com/tomas/slidemanager-daemon/internal/store"
)

type handler struct {
	mgr   *jobmanager.Manager
	store *store.Store
	bus   *eventbus.Bus
	log   *logging.Logger

	// libraryRoot is the single root this daemon process was started
	// against (cmd/serve.go). One Manager/Store pair binds to exactly one
	// root; see DESIGN.md's "one daemon per library root" decision.
	libraryRoot string
}

// respondJSON writes a JSON response, grounded on the teacher's
// handlers.respondJSON helper in internal/web/handlers/common.go.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (h *handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// indexRequest is the POST /jobs/index request body (spec 4.12). LibraryRoot
// is optional: a daemon binds to exactly one library root at startup
// (DESIGN.md's "one daemon per library root" decision), so when a caller
// supplies one it must name that same root rather than silently being
// ignored.
type indexRequest struct {
	LibraryRoot string            `json:"library_root"`
	Options     config.JobOptions `json:"options"`
}

func (h *handler) startJob(w http.ResponseWriter, r *http.Request) {
	req := indexRequest{Options: config.Load().Defaults}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.LibraryRoot != "" && req.LibraryRoot != h.libraryRoot {
		respondError(w, http.StatusUnprocessableEntity,
			fmt.Sprintf("library_root %q does not match the root this daemon was started against (%q)", req.LibraryRoot, h.libraryRoot))
		return
	}

	jobID, err := h.mgr.StartJob(r.Context(), req.Options)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"job_id": jobID})
}

func (h *handler) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.store.ListJobs(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, jobs)
}

func (h *handler) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	snap, err := h.mgr.GetSnapshot(r.Context(), jobID)
	if err != nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (h *handler) pauseJob(w http.ResponseWriter, r *http.Request) {
	h.controlOp(w, r, h.mgr.PauseJob)
}

func (h *handler) resumeJob(w http.ResponseWriter, r *http.Request) {
	h.controlOp(w, r, h.mgr.ResumeJob)
}

func (h *handler) cancelJob(w http.ResponseWriter, r *http.Request) {
	h.controlOp(w, r, h.mgr.CancelJob)
}

// controlOp is shared by pause/resume/cancel: each is an idempotent
// POST /jobs/{id}/<verb> returning {ok:true} (spec 4.12/§8 property #8).
// Any failure — unknown job id included — surfaces as 422, since the body
// already carries the specific reason.
func (h *handler) controlOp(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, jobID string) error) {
	jobID := chi.URLParam(r, "id")
	if err := op(r.Context(), jobID); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
