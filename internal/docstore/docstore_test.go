package docstore

import (
	"context"
	"errors"
	"testing"
	"time"
)

// openTestStore opens an in-memory SQLiteStore for use in tests.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seedUser creates a user record so foreign keys resolve.
func seedUser(t *testing.T, s *SQLiteStore, id string) {
	t.Helper()
	if _, err := s.EnsureUser(context.Background(), id, "free"); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
}

func Test_EnsureUser_KeepsExistingPlan(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	u, err := s.EnsureUser(ctx, "u1", "pro")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if u.Plan != "pro" {
		t.Errorf("want pro, got %s", u.Plan)
	}

	// A second ensure with a different plan must not downgrade.
	u, err = s.EnsureUser(ctx, "u1", "free")
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if u.Plan != "pro" {
		t.Errorf("plan changed on re-ensure: got %s", u.Plan)
	}
}

func Test_LookupOrCreateDocument_IdempotentBySourceKey(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1")

	d1, created, err := s.LookupOrCreateDocument(ctx, "u1", "doc-1", "contract.pdf", "key-a")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created {
		t.Error("first call should create")
	}
	if d1.Status != StatusProcessing {
		t.Errorf("new document should be PROCESSING, got %s", d1.Status)
	}

	d2, created, err := s.LookupOrCreateDocument(ctx, "u1", "doc-2", "contract.pdf", "key-a")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if created {
		t.Error("second call should not create")
	}
	if d2.ID != d1.ID {
		t.Errorf("same source key should resolve to same document: %s vs %s", d1.ID, d2.ID)
	}
}

func Test_Document_OwnershipEnforced(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "owner")
	seedUser(t, s, "intruder")

	if _, _, err := s.LookupOrCreateDocument(ctx, "owner", "doc-1", "a.pdf", "k1"); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := s.Document(ctx, "intruder", "doc-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-user read should be ErrNotFound, got %v", err)
	}
}

func Test_TransitionDocument_TerminalIsSticky(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1")

	if _, _, err := s.LookupOrCreateDocument(ctx, "u1", "doc-1", "a.pdf", "k1"); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.TransitionDocument(ctx, "doc-1", StatusSuccess, 7, ""); err != nil {
		t.Fatalf("first transition: %v", err)
	}

	err := s.TransitionDocument(ctx, "doc-1", StatusFailed, 0, "should not apply")
	if !errors.Is(err, ErrTerminalStatus) {
		t.Fatalf("want ErrTerminalStatus, got %v", err)
	}

	doc, err := s.Document(ctx, "u1", "doc-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.Status != StatusSuccess || doc.PageCount != 7 {
		t.Errorf("terminal state mutated: %s/%d", doc.Status, doc.PageCount)
	}
}

func Test_ReopenDocument_AllowsReingestion(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1")

	if _, _, err := s.LookupOrCreateDocument(ctx, "u1", "doc-1", "a.pdf", "k1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.TransitionDocument(ctx, "doc-1", StatusFailed, 0, "too many pages"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	if err := s.ReopenDocument(ctx, "doc-1"); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	doc, err := s.Document(ctx, "u1", "doc-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.Status != StatusProcessing || doc.FailureReason != "" {
		t.Errorf("reopen should clear state: %s/%q", doc.Status, doc.FailureReason)
	}

	if err := s.TransitionDocument(ctx, "doc-1", StatusSuccess, 3, ""); err != nil {
		t.Errorf("transition after reopen: %v", err)
	}
}

func Test_RecentMessages_WindowAndOrder(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1")

	contents := []string{"m1", "m2", "m3", "m4", "m5", "m6", "m7", "m8"}
	for i, c := range contents {
		err := s.AppendMessage(ctx, Message{
			ID:         c,
			UserID:     "u1",
			DocumentID: "doc-1",
			Content:    c,
			IsUser:     i%2 == 0,
		})
		if err != nil {
			t.Fatalf("append %s: %v", c, err)
		}
	}

	msgs, err := s.RecentMessages(ctx, "u1", "doc-1", 6)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 6 {
		t.Fatalf("want 6 messages, got %d", len(msgs))
	}
	// The window keeps the 6 newest, returned ascending.
	for i, want := range []string{"m3", "m4", "m5", "m6", "m7", "m8"} {
		if msgs[i].Content != want {
			t.Errorf("msg[%d]: want %s, got %s", i, want, msgs[i].Content)
		}
	}
}

func Test_RecentMessages_SameSecondKeepsTurnOrder(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1")

	// A user turn and its answer persisted within the same second, with
	// IDs that would reverse the order if the ID were the tiebreaker.
	base := time.Now()
	turns := []Message{
		{ID: "zz-user", UserID: "u1", DocumentID: "doc-1", Content: "question", IsUser: true, CreatedAt: base},
		{ID: "aa-assistant", UserID: "u1", DocumentID: "doc-1", Content: "answer", IsUser: false, CreatedAt: base.Add(50 * time.Millisecond)},
	}
	for _, m := range turns {
		if err := s.AppendMessage(ctx, m); err != nil {
			t.Fatalf("append %s: %v", m.ID, err)
		}
	}

	msgs, err := s.RecentMessages(ctx, "u1", "doc-1", 6)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("want 2 messages, got %d", len(msgs))
	}
	if !msgs[0].IsUser || msgs[1].IsUser {
		t.Errorf("turn order flipped: got [%s %s]", msgs[0].ID, msgs[1].ID)
	}
	if msgs[1].CreatedAt.Before(msgs[0].CreatedAt) {
		t.Errorf("timestamps lost sub-second ordering: %v before %v", msgs[1].CreatedAt, msgs[0].CreatedAt)
	}
}

func Test_RecentMessages_ConversationIsolation(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1")

	if err := s.AppendMessage(ctx, Message{ID: "a", UserID: "u1", DocumentID: "doc-1", Content: "doc chat", IsUser: true}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendMessage(ctx, Message{ID: "b", UserID: "u1", DocumentID: "", Content: "global chat", IsUser: true}); err != nil {
		t.Fatalf("append: %v", err)
	}

	docMsgs, err := s.RecentMessages(ctx, "u1", "doc-1", 10)
	if err != nil {
		t.Fatalf("recent doc: %v", err)
	}
	globalMsgs, err := s.RecentMessages(ctx, "u1", "", 10)
	if err != nil {
		t.Fatalf("recent global: %v", err)
	}

	if len(docMsgs) != 1 || docMsgs[0].Content != "doc chat" {
		t.Errorf("document conversation isolation failed: %v", docMsgs)
	}
	if len(globalMsgs) != 1 || globalMsgs[0].Content != "global chat" {
		t.Errorf("global conversation isolation failed: %v", globalMsgs)
	}
}

func Test_UpdateNote_VersionConflict(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1")

	n, err := s.CreateNote(ctx, Note{ID: "n1", UserID: "u1", DocumentID: "doc-1", Title: "t", Content: "c"})
	if err != nil {
		t.Fatalf("create note: %v", err)
	}
	if n.Version != 1 {
		t.Fatalf("new note version: want 1, got %d", n.Version)
	}

	// AI assist lands first and bumps the version.
	if _, err := s.SetNoteAIResponse(ctx, "u1", "n1", "summary"); err != nil {
		t.Fatalf("set ai response: %v", err)
	}

	// A manual edit carrying the stale version must be rejected.
	_, err = s.UpdateNote(ctx, "u1", "n1", "t2", "c2", n.Version)
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("want ErrVersionConflict, got %v", err)
	}

	// Re-reading and retrying with the fresh version succeeds.
	fresh, err := s.Note(ctx, "u1", "n1")
	if err != nil {
		t.Fatalf("get note: %v", err)
	}
	updated, err := s.UpdateNote(ctx, "u1", "n1", "t2", "c2", fresh.Version)
	if err != nil {
		t.Fatalf("retry update: %v", err)
	}
	if updated.Title != "t2" || updated.AIResponse != "summary" {
		t.Errorf("update lost data: %+v", updated)
	}
}

func Test_UpdateNote_MissingNoteIsNotFound(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	seedUser(t, s, "u1")

	_, err := s.UpdateNote(context.Background(), "u1", "ghost", "t", "c", 1)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
}
