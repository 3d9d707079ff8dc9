// Package ingest turns uploaded documents into namespaced vector records.
// The controller owns the document status lifecycle: every run ends with
// exactly one transition to SUCCESS or FAILED, and status is the only
// externally observable progress signal.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/papyr-ai/papyr-go/internal/docstore"
	"github.com/papyr-ai/papyr-go/internal/logging"
	"github.com/papyr-ai/papyr-go/internal/rag"
)

// ErrPageLimit marks an ingestion stopped by the plan's page ceiling.
var ErrPageLimit = errors.New("ingest: page limit exceeded")

// Parser turns an uploaded blob into page-level text units.
type Parser interface {
	Pages(rs io.ReadSeeker) ([]string, error)
}

// Controller runs the ingestion pipeline for one document at a time.
type Controller struct {
	store    docstore.Store
	parser   Parser
	embedder rag.Embedder
	vectors  rag.VectorStore

	// ceiling maps a quota plan to its per-document page limit.
	ceiling func(plan string) int

	// embedBatch bounds how many pages go to the embedder per call.
	embedBatch int
}

// New wires a Controller from the process-wide clients.
func New(store docstore.Store, parser Parser, embedder rag.Embedder, vectors rag.VectorStore, ceiling func(plan string) int) *Controller {
	return &Controller{
		store:      store,
		parser:     parser,
		embedder:   embedder,
		vectors:    vectors,
		ceiling:    ceiling,
		embedBatch: 32,
	}
}

// Run ingests the blob for doc, which must be in status PROCESSING and
// belong to user. It always drives doc to a terminal status; the returned
// error carries the cause when that status is FAILED.
//
// reopened marks a re-upload of a previously terminal document: its
// namespace is cleared before the new vectors are written so stale pages
// cannot survive a re-ingest.
func (c *Controller) Run(ctx context.Context, user docstore.User, doc docstore.Document, blob io.ReadSeeker, reopened bool) error {
	log := logging.FromContext(ctx).With(
		slog.String("document_id", doc.ID),
		slog.String("user_id", user.ID),
	)

	pages, err := c.parser.Pages(blob)
	if err != nil {
		return c.fail(ctx, log, doc.ID, "document could not be parsed", err)
	}

	limit := c.ceiling(user.Plan)
	if len(pages) > limit {
		log.Warn("page ceiling exceeded", slog.Int("pages", len(pages)), slog.Int("limit", limit))
		reason := fmt.Sprintf("document has %d pages, plan %q allows %d", len(pages), user.Plan, limit)
		if err := c.store.TransitionDocument(ctx, doc.ID, docstore.StatusFailed, len(pages), reason); err != nil {
			return fmt.Errorf("ingest: mark failed: %w", err)
		}
		return fmt.Errorf("%w: %s", ErrPageLimit, reason)
	}

	if reopened {
		if err := c.vectors.DeleteNamespace(ctx, doc.ID); err != nil {
			return c.fail(ctx, log, doc.ID, "stale vectors could not be cleared", err)
		}
	}

	passages := make([]rag.Passage, len(pages))
	for i, text := range pages {
		passages[i] = rag.Passage{
			ID:           uuid.NewString(),
			Text:         text,
			Page:         i + 1,
			DocumentID:   doc.ID,
			DocumentName: doc.Name,
		}
	}

	for start := 0; start < len(passages); start += c.embedBatch {
		end := min(start+c.embedBatch, len(passages))
		batch := passages[start:end]

		texts := make([]string, len(batch))
		for i, p := range batch {
			texts[i] = p.Text
		}
		embeddings, err := c.embedder.Embed(ctx, texts)
		if err != nil {
			return c.fail(ctx, log, doc.ID, "embedding failed", err)
		}
		if len(embeddings) != len(batch) {
			return c.fail(ctx, log, doc.ID, "embedding failed",
				fmt.Errorf("got %d embeddings for %d pages", len(embeddings), len(batch)))
		}
		if err := c.vectors.Upsert(ctx, doc.ID, batch, embeddings); err != nil {
			return c.fail(ctx, log, doc.ID, "vector upsert failed", err)
		}
	}

	if err := c.store.TransitionDocument(ctx, doc.ID, docstore.StatusSuccess, len(pages), ""); err != nil {
		return fmt.Errorf("ingest: mark success: %w", err)
	}
	log.Info("document ingested", slog.Int("pages", len(pages)))
	return nil
}

// fail records the terminal FAILED status with a short reason and returns
// the wrapped cause. A failed transition is logged but does not mask the
// original error.
func (c *Controller) fail(ctx context.Context, log *slog.Logger, docID, reason string, cause error) error {
	log.Error("ingestion failed", slog.String("reason", reason), slog.String("error", cause.Error()))
	if err := c.store.TransitionDocument(ctx, docID, docstore.StatusFailed, 0, reason); err != nil {
		log.Error("failed status transition rejected", slog.String("error", err.Error()))
	}
	return fmt.Errorf("ingest: %s: %w", reason, cause)
}
