package controlapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tomas/slidemanager-daemon/internal/config"
	"github.com/tomas/slidemanager-daemon/internal/eventbus"
	"github.com/tomas/slidemanager-daemon/internal/jobmanager"
	"github.com/tomas/slidemanager-daemon/internal/logging"
	"github.com/tomas/slidemanager-daemon/internal/ratelimit"
	"github.com/tomas/slidemanager-daemon/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(context.Background(), dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	bus := eventbus.New()
	log := logging.Default()
	limiter := ratelimit.New(1000, 1_000_000)
	mgr := jobmanager.New(jobmanager.Deps{
		Store:        s,
		Bus:          bus,
		Log:          log,
		Limiter:      limiter,
		OpenAIKey:    "test-key",
		ConverterBin: "/bin/true",
		ProfileRoot:  t.TempDir(),
		LibraryRoot:  dir,
	})

	srv := NewServer("127.0.0.1:0", mgr, s, bus, log, dir)
	return srv, s
}

// TestStartJob_WithEverythingDisabledReachesCompleted exercises the full
// HTTP-level StartJob -> GetJob path with every artifact kind disabled, so
// planning finds nothing to queue and the job drains to completed without
// touching any external tool.
func TestStartJob_WithEverythingDisabledReachesCompleted(t *testing.T) {
	srv, _ := newTestServer(t)

	body := indexRequest{Options: config.JobOptions{
		CommitEveryPages: 1,
		CommitEverySec:   5,
		PdfTimeoutSec:    5,
	}}
	buf, _ := json.Marshal(body)

	req := httptest.NewRequest(http.MethodPost, "/jobs/index", bytes.NewReader(buf))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	jobID := resp["job_id"]
	if jobID == "" {
		t.Fatal("expected non-empty job_id")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		getReq := httptest.NewRequest(http.MethodGet, "/jobs/"+jobID, nil)
		getRec := httptest.NewRecorder()
		srv.Router().ServeHTTP(getRec, getReq)

		var snap jobmanager.Snapshot
		if err := json.Unmarshal(getRec.Body.Bytes(), &snap); err != nil {
			t.Fatalf("unmarshal snapshot: %v", err)
		}
		if snap.Status == "completed" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job never reached completed status")
}

// TestStartJob_MismatchedLibraryRootReturns422 covers spec 4.12's
// library_root contract: a daemon binds to one root at startup, so a
// request naming a different root must be rejected rather than silently
// running against the daemon's actual root.
func TestStartJob_MismatchedLibraryRootReturns422(t *testing.T) {
	srv, _ := newTestServer(t)

	body := indexRequest{LibraryRoot: "/not/the/bound/root", Options: config.JobOptions{
		CommitEveryPages: 1,
		CommitEverySec:   5,
		PdfTimeoutSec:    5,
	}}
	buf, _ := json.Marshal(body)

	req := httptest.NewRequest(http.MethodPost, "/jobs/index", bytes.NewReader(buf))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCancelJob_OnUnknownJobReturnsUnprocessable(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/jobs/does-not-exist/cancel", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", rec.Code)
	}
}

func TestHealthCheck_ReturnsOK(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
