package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/papyr-ai/papyr-go/internal/config"
	"github.com/papyr-ai/papyr-go/internal/docstore"
	"github.com/papyr-ai/papyr-go/internal/prompt"
	"github.com/papyr-ai/papyr-go/internal/rag"
	"github.com/papyr-ai/papyr-go/internal/stream"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

// fakeVectors serves preset passages per namespace.
type fakeVectors struct {
	byNamespace map[string][]rag.Passage
	queryErr    error
}

func (f *fakeVectors) Query(_ context.Context, ns string, _ []float32, topK int) ([]rag.Passage, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	passages := f.byNamespace[ns]
	if len(passages) > topK {
		passages = passages[:topK]
	}
	out := make([]rag.Passage, len(passages))
	copy(out, passages)
	return out, nil
}

func (f *fakeVectors) Upsert(context.Context, string, []rag.Passage, [][]float32) error {
	return nil
}
func (f *fakeVectors) DeleteNamespace(context.Context, string) error { return nil }
func (f *fakeVectors) Count(context.Context, string) (int, error)    { return 0, nil }
func (f *fakeVectors) Close() error                                  { return nil }

// fakeReranker keeps input order and records what it was asked to rank.
type fakeReranker struct {
	mu        sync.Mutex
	lastInput int
}

func (f *fakeReranker) Rerank(_ context.Context, _ string, passages []rag.Passage, topN int) ([]rag.Passage, error) {
	f.mu.Lock()
	f.lastInput = len(passages)
	f.mu.Unlock()
	if topN > len(passages) {
		topN = len(passages)
	}
	out := make([]rag.Passage, topN)
	copy(out, passages[:topN])
	return out, nil
}

// fakeChat streams fixed chunks and answers gloss calls with a fixed
// relevance envelope. It records the last prompt of each kind.
type fakeChat struct {
	chunks    []string
	streamErr error

	mu             sync.Mutex
	lastStreamMsgs []*schema.Message
	glossCalls     int
}

func (f *fakeChat) Generate(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	f.glossCalls++
	f.mu.Unlock()
	return schema.AssistantMessage(`{"relevance": "Talks about the question."}`, nil), nil
}

func (f *fakeChat) Stream(_ context.Context, msgs []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.mu.Lock()
	f.lastStreamMsgs = msgs
	f.mu.Unlock()

	sr, sw := schema.Pipe[*schema.Message](len(f.chunks) + 1)
	go func() {
		defer sw.Close()
		for _, c := range f.chunks {
			if sw.Send(schema.AssistantMessage(c, nil), nil) {
				return
			}
		}
		if f.streamErr != nil {
			sw.Send(nil, f.streamErr)
		}
	}()
	return sr, nil
}

func (f *fakeChat) streamedUserTurn() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.lastStreamMsgs {
		if m.Role == schema.User {
			return m.Content
		}
	}
	return ""
}

func retrieval() config.RetrievalConfig {
	return config.RetrievalConfig{
		SingleTopK:   20,
		GlobalPerDoc: 5,
		GlobalCap:    20,
		RerankTopN:   4,
		HistoryDepth: 6,
	}
}

func openStore(t *testing.T) *docstore.SQLiteStore {
	t.Helper()
	s, err := docstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seedDocument creates a SUCCESS document with n pages of vectors.
func seedDocument(t *testing.T, store docstore.Store, vec *fakeVectors, userID, docID, name string, pages int) {
	t.Helper()
	ctx := context.Background()
	if _, err := store.EnsureUser(ctx, userID, "free"); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if _, _, err := store.LookupOrCreateDocument(ctx, userID, docID, name, "uploads/"+name); err != nil {
		t.Fatalf("create doc: %v", err)
	}
	if err := store.TransitionDocument(ctx, docID, docstore.StatusSuccess, pages, ""); err != nil {
		t.Fatalf("transition: %v", err)
	}
	for p := 1; p <= pages; p++ {
		vec.byNamespace[docID] = append(vec.byNamespace[docID], rag.Passage{
			ID:         fmt.Sprintf("%s-p%d", docID, p),
			Text:       fmt.Sprintf("%s passage %d", name, p),
			Page:       p,
			DocumentID: docID,
		})
	}
}

func Test_ChatSingle_StreamsAndPersistsOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openStore(t)
	vec := &fakeVectors{byNamespace: map[string][]rag.Passage{}}
	seedDocument(t, store, vec, "u1", "d1", "lease.pdf", 3)
	chat := &fakeChat{chunks: []string{"The answer ", "is 30 days ", "[1]."}}

	o := New(store, fakeEmbedder{}, vec, &fakeReranker{}, chat, retrieval())
	s, err := o.ChatSingle(ctx, "u1", "d1", "what is the notice period?", prompt.Toggles{})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	full, err := stream.Collect(s)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if full != "The answer is 30 days [1]." {
		t.Errorf("streamed text = %q", full)
	}

	msgs, err := store.RecentMessages(ctx, "u1", "d1", 10)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("persisted messages = %d, want user + assistant", len(msgs))
	}
	if !msgs[0].IsUser || msgs[0].Content != "what is the notice period?" {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[1].IsUser || msgs[1].Content != full {
		t.Errorf("assistant message = %+v", msgs[1])
	}
}

func Test_ChatSingle_ContextHoldsAllRankedPassages(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openStore(t)
	vec := &fakeVectors{byNamespace: map[string][]rag.Passage{}}
	seedDocument(t, store, vec, "u1", "d1", "lease.pdf", 3)
	chat := &fakeChat{chunks: []string{"ok"}}

	o := New(store, fakeEmbedder{}, vec, &fakeReranker{}, chat, retrieval())
	s, err := o.ChatSingle(ctx, "u1", "d1", "q", prompt.Toggles{})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if _, err := stream.Collect(s); err != nil {
		t.Fatalf("collect: %v", err)
	}

	// 3 candidates, rerank top min(4, 3) = 3: all three pages appear as
	// numbered context lines.
	user := chat.streamedUserTurn()
	for i := 1; i <= 3; i++ {
		marker := fmt.Sprintf("[%d] lease.pdf passage %d (page: %d)", i, i, i)
		if !strings.Contains(user, marker) {
			t.Errorf("context missing %q:\n%s", marker, user)
		}
	}
}

func Test_ChatSingle_DocumentNotReady(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openStore(t)
	vec := &fakeVectors{byNamespace: map[string][]rag.Passage{}}
	if _, err := store.EnsureUser(ctx, "u1", "free"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := store.LookupOrCreateDocument(ctx, "u1", "d1", "a.pdf", "k"); err != nil {
		t.Fatal(err)
	}

	o := New(store, fakeEmbedder{}, vec, &fakeReranker{}, &fakeChat{}, retrieval())
	if _, err := o.ChatSingle(ctx, "u1", "d1", "q", prompt.Toggles{}); !errors.Is(err, ErrDocumentNotReady) {
		t.Errorf("err = %v, want ErrDocumentNotReady", err)
	}
}

func Test_ChatSingle_OtherUsersDocumentNotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openStore(t)
	vec := &fakeVectors{byNamespace: map[string][]rag.Passage{}}
	seedDocument(t, store, vec, "u1", "d1", "lease.pdf", 1)
	if _, err := store.EnsureUser(ctx, "u2", "free"); err != nil {
		t.Fatal(err)
	}

	o := New(store, fakeEmbedder{}, vec, &fakeReranker{}, &fakeChat{}, retrieval())
	if _, err := o.ChatSingle(ctx, "u2", "d1", "q", prompt.Toggles{}); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func Test_ChatSingle_MidStreamFailureDoesNotPersistAssistant(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openStore(t)
	vec := &fakeVectors{byNamespace: map[string][]rag.Passage{}}
	seedDocument(t, store, vec, "u1", "d1", "lease.pdf", 2)
	chat := &fakeChat{chunks: []string{"partial "}, streamErr: errors.New("upstream reset")}

	o := New(store, fakeEmbedder{}, vec, &fakeReranker{}, chat, retrieval())
	s, err := o.ChatSingle(ctx, "u1", "d1", "q", prompt.Toggles{})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	partial, err := stream.Collect(s)
	if err == nil {
		t.Fatal("expected stream error")
	}
	if partial != "partial " {
		t.Errorf("partial = %q", partial)
	}

	// A fresh load shows only the user turn.
	msgs, _ := store.RecentMessages(ctx, "u1", "d1", 10)
	if len(msgs) != 1 || !msgs[0].IsUser {
		t.Errorf("persisted messages = %+v, want only the user turn", msgs)
	}
}

func Test_ChatGlobal_TwoDocuments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openStore(t)
	vec := &fakeVectors{byNamespace: map[string][]rag.Passage{}}
	seedDocument(t, store, vec, "u1", "d1", "lease.pdf", 5)
	seedDocument(t, store, vec, "u1", "d2", "amendment.pdf", 5)
	chat := &fakeChat{chunks: []string{"Both documents ", "cover it."}}
	rr := &fakeReranker{}

	o := New(store, fakeEmbedder{}, vec, rr, chat, retrieval())
	s, err := o.ChatGlobal(ctx, "u1", "how does rent escalate?")
	if err != nil {
		t.Fatalf("global chat: %v", err)
	}

	var statusLines, answer []string
	for {
		text, err := s.Recv()
		if err != nil {
			break
		}
		if strings.HasPrefix(text, "status: ") {
			statusLines = append(statusLines, text)
			continue
		}
		answer = append(answer, text)
	}

	if len(statusLines) == 0 {
		t.Error("no progress lines before synthesis")
	}
	if got := strings.Join(answer, ""); got != "Both documents cover it." {
		t.Errorf("answer = %q", got)
	}

	// 2 documents x top-5 = 10 pre-rerank candidates, ≤ cap.
	if rr.lastInput != 10 {
		t.Errorf("rerank input = %d, want 10", rr.lastInput)
	}
	// One gloss call per reranked passage.
	if chat.glossCalls != 4 {
		t.Errorf("gloss calls = %d, want 4", chat.glossCalls)
	}

	// The findings list names the contributing document titles. Rerank
	// kept iteration order, so the top-4 comes from whichever document
	// iterated first.
	user := chat.streamedUserTurn()
	if !strings.Contains(user, "lease.pdf") && !strings.Contains(user, "amendment.pdf") {
		t.Errorf("synthesis prompt missing contributing title:\n%s", user)
	}

	// Persisted assistant text has no status lines.
	msgs, _ := store.RecentMessages(ctx, "u1", "", 10)
	if len(msgs) != 2 {
		t.Fatalf("persisted global messages = %d", len(msgs))
	}
	if strings.Contains(msgs[1].Content, "status: ") {
		t.Errorf("status lines persisted: %q", msgs[1].Content)
	}
}

func Test_ChatGlobal_CombinedListTruncatedToCap(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openStore(t)
	vec := &fakeVectors{byNamespace: map[string][]rag.Passage{}}
	for i := range 6 {
		id := fmt.Sprintf("d%d", i+1)
		seedDocument(t, store, vec, "u1", id, id+".pdf", 5)
	}
	rr := &fakeReranker{}
	chat := &fakeChat{chunks: []string{"ok"}}

	o := New(store, fakeEmbedder{}, vec, rr, chat, retrieval())
	s, err := o.ChatGlobal(ctx, "u1", "q")
	if err != nil {
		t.Fatalf("global chat: %v", err)
	}
	if _, err := stream.Collect(s); err != nil {
		t.Fatalf("collect: %v", err)
	}

	// 6 documents x 5 = 30 candidates, truncated to the first 20 in
	// iteration order before reranking.
	if rr.lastInput != 20 {
		t.Errorf("rerank input = %d, want 20", rr.lastInput)
	}
}

func Test_ChatGlobal_SkipsUnreadyDocuments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openStore(t)
	vec := &fakeVectors{byNamespace: map[string][]rag.Passage{}}
	seedDocument(t, store, vec, "u1", "d1", "ready.pdf", 2)
	if _, _, err := store.LookupOrCreateDocument(ctx, "u1", "d2", "pending.pdf", "k2"); err != nil {
		t.Fatal(err)
	}
	vec.byNamespace["d2"] = []rag.Passage{{ID: "x", Text: "leak", Page: 1}}
	rr := &fakeReranker{}

	o := New(store, fakeEmbedder{}, vec, rr, &fakeChat{chunks: []string{"ok"}}, retrieval())
	s, err := o.ChatGlobal(ctx, "u1", "q")
	if err != nil {
		t.Fatalf("global chat: %v", err)
	}
	if _, err := stream.Collect(s); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if rr.lastInput != 2 {
		t.Errorf("rerank input = %d, want only the ready document's 2", rr.lastInput)
	}
}

func Test_NoteAssist_PersistsAIResponse(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openStore(t)
	vec := &fakeVectors{byNamespace: map[string][]rag.Passage{}}
	seedDocument(t, store, vec, "u1", "d1", "lease.pdf", 1)
	note, err := store.CreateNote(ctx, docstore.Note{
		ID: "n1", UserID: "u1", DocumentID: "d1", Title: "t", Content: "existing notes",
	})
	if err != nil {
		t.Fatalf("create note: %v", err)
	}
	chat := &fakeChat{chunks: []string{"## Summary\n", "Two action items remain."}}

	o := New(store, fakeEmbedder{}, vec, &fakeReranker{}, chat, retrieval())
	s, err := o.NoteAssist(ctx, "u1", note.ID, "summarize")
	if err != nil {
		t.Fatalf("note assist: %v", err)
	}
	full, err := stream.Collect(s)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}

	got, err := store.Note(ctx, "u1", note.ID)
	if err != nil {
		t.Fatalf("note: %v", err)
	}
	if got.AIResponse != full {
		t.Errorf("aiResponse = %q, want %q", got.AIResponse, full)
	}
	if got.Version <= note.Version {
		t.Errorf("version not bumped: %d", got.Version)
	}
}
