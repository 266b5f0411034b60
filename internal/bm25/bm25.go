// Package bm25 provides the incremental full-text-index writer (spec
// component C9). The FTS5 virtual table itself lives in internal/store
// alongside the rest of the schema; this package is the narrow,
// domain-named entry point JobManager calls so the five-artifact-kind
// worker-pool dispatch (spec 4.11) has one handler per kind, mirroring how
// the teacher keeps each concern in its own small package.
package bm25

import (
	"context"
	"fmt"

	"github.com/tomas/slidemanager-daemon/internal/store"
)

// Writer upserts normalized page text into the FTS index and transitions
// the bm25 artifact to ready, in one transaction.
type Writer struct {
	store *store.Store
}

// New constructs a Writer over an open Store.
func New(s *store.Store) *Writer {
	return &Writer{store: s}
}

// UpsertPage implements upsert_fts_page(page_id, norm_text) (spec 4.9).
// Empty text is accepted and stored as empty so deletion counts stay
// coherent (a row is always present once bm25 is ready for a page).
func (w *Writer) UpsertPage(ctx context.Context, pageID int64, normText string) error {
	if err := w.store.CompleteBm25Artifact(ctx, pageID, normText); err != nil {
		return fmt.Errorf("bm25 upsert page %d: %w", pageID, err)
	}
	return nil
}
