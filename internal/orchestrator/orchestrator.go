// Package orchestrator runs the retrieval-augmented answer pipelines:
// single-document chat, cross-document synthesis, and note assist. It owns
// the ordering guarantees around message persistence: the user turn is
// written before retrieval begins, the assistant turn exactly once after
// the stream completes, and never on a mid-stream failure.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/papyr-ai/papyr-go/internal/budget"
	"github.com/papyr-ai/papyr-go/internal/config"
	"github.com/papyr-ai/papyr-go/internal/docstore"
	"github.com/papyr-ai/papyr-go/internal/logging"
	"github.com/papyr-ai/papyr-go/internal/prompt"
	"github.com/papyr-ai/papyr-go/internal/provider"
	"github.com/papyr-ai/papyr-go/internal/rag"
	"github.com/papyr-ai/papyr-go/internal/stream"
)

// ErrDocumentNotReady rejects queries against documents that are not in
// status SUCCESS.
var ErrDocumentNotReady = errors.New("orchestrator: document is not ready for questions")

// GenericFailure is the one user-facing message for any upstream failure.
// Specific causes go to the log, never to the client.
const GenericFailure = "Something went wrong while answering your question. Please try again."

// glossWorkers bounds the concurrent relevance-gloss calls in global mode.
const glossWorkers = 4

// Orchestrator wires the process-wide clients into the query pipelines.
type Orchestrator struct {
	store    docstore.Store
	embedder rag.Embedder
	vectors  rag.VectorStore
	reranker rag.Reranker
	chat     model.BaseChatModel
	retr     config.RetrievalConfig
}

// New returns an Orchestrator over the given singletons.
func New(store docstore.Store, embedder rag.Embedder, vectors rag.VectorStore, reranker rag.Reranker, chat model.BaseChatModel, retr config.RetrievalConfig) *Orchestrator {
	return &Orchestrator{
		store:    store,
		embedder: embedder,
		vectors:  vectors,
		reranker: reranker,
		chat:     chat,
		retr:     retr,
	}
}

// ChatSingle answers a question against one SUCCESS document owned by
// userID. The returned stream carries the answer text; closing it aborts
// generation.
func (o *Orchestrator) ChatSingle(ctx context.Context, userID, documentID, question string, toggles prompt.Toggles) (*stream.Stream, error) {
	log := logging.FromContext(ctx).With(
		slog.String("user_id", userID),
		slog.String("document_id", documentID),
	)

	doc, err := o.store.Document(ctx, userID, documentID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: resolve document: %w", err)
	}
	if doc.Status != docstore.StatusSuccess {
		return nil, fmt.Errorf("%w: status %s", ErrDocumentNotReady, doc.Status)
	}

	history, err := o.store.RecentMessages(ctx, userID, documentID, o.retr.HistoryDepth)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load history: %w", err)
	}

	// The user turn is persisted before retrieval so a later failure
	// never loses the question.
	if err := o.store.AppendMessage(ctx, docstore.Message{
		ID:         uuid.NewString(),
		UserID:     userID,
		DocumentID: documentID,
		Content:    question,
		IsUser:     true,
	}); err != nil {
		return nil, fmt.Errorf("orchestrator: persist question: %w", err)
	}

	passages, err := o.retrieve(ctx, documentID, question, o.retr.SingleTopK)
	if err != nil {
		return nil, err
	}
	log.Debug("retrieval complete", slog.Int("candidates", len(passages)))

	history = o.trimHistory(question, history, passages, toggles)
	msgs := prompt.SingleDocument(question, history, passages, toggles)

	sr, err := o.chat.Stream(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: start generation: %w", err)
	}

	out := stream.New()
	go o.pump(ctx, stream.FromEino(ctx, sr), out, func(ctx context.Context, full string) error {
		return o.store.AppendMessage(ctx, docstore.Message{
			ID:         uuid.NewString(),
			UserID:     userID,
			DocumentID: documentID,
			Content:    full,
			IsUser:     false,
		})
	})
	return out, nil
}

// ChatGlobal answers a question across all of the user's ready documents.
// Progress is reported as "status: <text>" lines on the same stream before
// the synthesized answer starts; the answer carries document titles but no
// citation block.
func (o *Orchestrator) ChatGlobal(ctx context.Context, userID, question string) (*stream.Stream, error) {
	log := logging.FromContext(ctx).With(slog.String("user_id", userID))

	docs, err := o.store.Documents(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: list documents: %w", err)
	}

	if err := o.store.AppendMessage(ctx, docstore.Message{
		ID:      uuid.NewString(),
		UserID:  userID,
		Content: question,
		IsUser:  true,
	}); err != nil {
		return nil, fmt.Errorf("orchestrator: persist question: %w", err)
	}

	out := stream.New()
	go func() {
		if err := o.runGlobal(ctx, log, userID, question, docs, out); err != nil {
			log.Error("global query failed", slog.String("error", err.Error()))
			out.CloseSend(err)
		}
	}()
	return out, nil
}

// runGlobal drives the cross-document pipeline onto out. Any returned
// error closes the stream without persisting an assistant message.
func (o *Orchestrator) runGlobal(ctx context.Context, log *slog.Logger, userID, question string, docs []docstore.Document, out *stream.Stream) error {
	if err := o.progress(ctx, out, "searching your documents"); err != nil {
		return err
	}

	embeddings, err := o.embedder.Embed(ctx, []string{question})
	if err != nil {
		return fmt.Errorf("orchestrator: embed question: %w", err)
	}

	// Per-document top-5, appended in iteration order, then cut to the
	// first entries rather than re-sorted by score across documents.
	var combined []rag.Passage
	for _, doc := range docs {
		if doc.Status != docstore.StatusSuccess {
			continue
		}
		passages, err := o.vectors.Query(ctx, doc.ID, embeddings[0], o.retr.GlobalPerDoc)
		if err != nil {
			return fmt.Errorf("orchestrator: search %s: %w", doc.ID, err)
		}
		for i := range passages {
			passages[i].DocumentName = doc.Name
		}
		combined = append(combined, passages...)
	}
	if len(combined) > o.retr.GlobalCap {
		combined = combined[:o.retr.GlobalCap]
	}
	log.Debug("global retrieval complete", slog.Int("candidates", len(combined)))

	var ranked []rag.Passage
	if len(combined) > 0 {
		if err := o.progress(ctx, out, "ranking the best passages"); err != nil {
			return err
		}
		ranked, err = o.reranker.Rerank(ctx, question, combined, min(o.retr.RerankTopN, len(combined)))
		if err != nil {
			return fmt.Errorf("orchestrator: rerank: %w", err)
		}
	}

	if err := o.progress(ctx, out, "summarizing per-document findings"); err != nil {
		return err
	}
	findings, err := o.gloss(ctx, question, ranked)
	if err != nil {
		return fmt.Errorf("orchestrator: gloss: %w", err)
	}

	sr, err := o.chat.Stream(ctx, prompt.Global(question, findings))
	if err != nil {
		return fmt.Errorf("orchestrator: start synthesis: %w", err)
	}

	o.pump(ctx, stream.FromEino(ctx, sr), out, func(ctx context.Context, full string) error {
		return o.store.AppendMessage(ctx, docstore.Message{
			ID:      uuid.NewString(),
			UserID:  userID,
			Content: full,
			IsUser:  false,
		})
	})
	return nil
}

// NoteAssist streams a short AI response for a note. There is no retrieval
// step; on clean completion the text is persisted as the note's aiResponse
// under its optimistic version lock.
func (o *Orchestrator) NoteAssist(ctx context.Context, userID, noteID, question string) (*stream.Stream, error) {
	note, err := o.store.Note(ctx, userID, noteID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: resolve note: %w", err)
	}

	sr, err := o.chat.Stream(ctx, prompt.NoteAssist(note.Content, question))
	if err != nil {
		return nil, fmt.Errorf("orchestrator: start generation: %w", err)
	}

	out := stream.New()
	go o.pump(ctx, stream.FromEino(ctx, sr), out, func(ctx context.Context, full string) error {
		_, err := o.store.SetNoteAIResponse(ctx, userID, noteID, full)
		return err
	})
	return out, nil
}

// retrieve embeds the question and returns the reranked passages for one
// namespace. An empty namespace yields an empty slice, not an error.
func (o *Orchestrator) retrieve(ctx context.Context, namespace, question string, topK int) ([]rag.Passage, error) {
	embeddings, err := o.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: embed question: %w", err)
	}
	candidates, err := o.vectors.Query(ctx, namespace, embeddings[0], topK)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: search: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	ranked, err := o.reranker.Rerank(ctx, question, candidates, min(o.retr.RerankTopN, len(candidates)))
	if err != nil {
		return nil, fmt.Errorf("orchestrator: rerank: %w", err)
	}
	return ranked, nil
}

// gloss produces one structured relevance sentence per ranked passage,
// preserving rerank order regardless of completion order.
func (o *Orchestrator) gloss(ctx context.Context, question string, ranked []rag.Passage) ([]prompt.Finding, error) {
	findings := make([]prompt.Finding, len(ranked))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(glossWorkers)
	for i, p := range ranked {
		g.Go(func() error {
			relevance, err := provider.GenerateGloss(ctx, o.chat, question, p.Text)
			if err != nil {
				return fmt.Errorf("passage %d: %w", i+1, err)
			}
			findings[i] = prompt.Finding{Title: p.DocumentName, Relevance: relevance}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return findings, nil
}

// trimHistory drops the oldest history turns that would overflow the
// context budget alongside the fixed prompt parts.
func (o *Orchestrator) trimHistory(question string, history []docstore.Message, passages []rag.Passage, toggles prompt.Toggles) []docstore.Message {
	fixed := prompt.SingleDocument(question, nil, passages, toggles)
	asSchema := make([]*schema.Message, len(history))
	for i, m := range history {
		asSchema[i] = schema.UserMessage(m.Content)
	}
	trimmed := budget.TrimHistory(fixed, asSchema, budget.DefaultMaxContextTokens)
	return history[len(history)-len(trimmed):]
}

// progress writes one "status:" line onto the stream. Clients treat these
// lines as transient UI state, not answer text.
func (o *Orchestrator) progress(ctx context.Context, out *stream.Stream, text string) error {
	return out.Send(ctx, "status: "+text+"\n")
}

// pump copies src onto out while accumulating the full text, then runs
// persist exactly once on clean completion. A consumer abort or stream
// error skips persistence: the partial answer exists only in whatever the
// client accumulated.
func (o *Orchestrator) pump(ctx context.Context, src *stream.Stream, out *stream.Stream, persist func(context.Context, string) error) {
	var full string
	for {
		text, err := src.Recv()
		if errors.Is(err, io.EOF) {
			if perr := persist(ctx, full); perr != nil {
				out.CloseSend(fmt.Errorf("orchestrator: persist answer: %w", perr))
				return
			}
			out.CloseSend(nil)
			return
		}
		if err != nil {
			out.CloseSend(err)
			return
		}
		full += text
		if err := out.Send(ctx, text); err != nil {
			src.Close()
			out.CloseSend(err)
			return
		}
	}
}
