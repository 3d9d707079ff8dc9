package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/papyr-ai/papyr-go/internal/prompt"
	"github.com/papyr-ai/papyr-go/internal/session"
)

// chunkedReader yields one preset fragment per Read call, mimicking
// arbitrary network chunk boundaries.
type chunkedReader struct {
	chunks []string
	i      int
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if c.i >= len(c.chunks) {
		return 0, io.EOF
	}
	n := copy(p, c.chunks[c.i])
	c.i++
	return n, nil
}

func runFilter(t *testing.T, chunks []string) (answer string, statuses []string) {
	t.Helper()
	var sb strings.Builder
	err := filterStream(&chunkedReader{chunks: chunks},
		func(s string) { sb.WriteString(s) },
		func(s string) { statuses = append(statuses, s) },
	)
	if err != nil {
		t.Fatalf("filterStream: %v", err)
	}
	return sb.String(), statuses
}

func Test_filterStream_SeparatesStatusLines(t *testing.T) {
	t.Parallel()
	answer, statuses := runFilter(t, []string{
		"status: searching your documents\n",
		"status: ranking the best passages\n",
		"The answer ", "spans two chunks.",
	})
	if answer != "The answer spans two chunks." {
		t.Errorf("answer = %q", answer)
	}
	if len(statuses) != 2 || statuses[0] != "searching your documents" {
		t.Errorf("statuses = %v", statuses)
	}
}

func Test_filterStream_StatusSplitAcrossReads(t *testing.T) {
	t.Parallel()
	answer, statuses := runFilter(t, []string{"sta", "tus: sum", "marizing\nDone."})
	if answer != "Done." {
		t.Errorf("answer = %q", answer)
	}
	if len(statuses) != 1 || statuses[0] != "summarizing" {
		t.Errorf("statuses = %v", statuses)
	}
}

func Test_filterStream_MidLinePrefixPassesThrough(t *testing.T) {
	t.Parallel()
	answer, statuses := runFilter(t, []string{"The build status: green today."})
	if answer != "The build status: green today." {
		t.Errorf("answer = %q", answer)
	}
	if len(statuses) != 0 {
		t.Errorf("statuses = %v", statuses)
	}
}

func Test_filterStream_StatusAfterNewlineInsideChunk(t *testing.T) {
	t.Parallel()
	answer, statuses := runFilter(t, []string{"line one\nstatus: working\nline two"})
	if answer != "line one\nline two" {
		t.Errorf("answer = %q", answer)
	}
	if len(statuses) != 1 || statuses[0] != "working" {
		t.Errorf("statuses = %v", statuses)
	}
}

func Test_filterStream_ErrorLineEndsStream(t *testing.T) {
	t.Parallel()
	var sb strings.Builder
	err := filterStream(
		&chunkedReader{chunks: []string{"The contract says", "\nerror: Something went wrong while answering your question. Please try again.\n"}},
		func(s string) { sb.WriteString(s) },
		func(string) { t.Error("unexpected status line") },
	)
	if !errors.Is(err, ErrAnswerFailed) {
		t.Fatalf("err = %v, want ErrAnswerFailed", err)
	}
	if !strings.Contains(err.Error(), "Something went wrong") {
		t.Errorf("err = %v, want the failure message attached", err)
	}
	// The failure line itself is not answer text.
	if got := sb.String(); got != "The contract says\n" {
		t.Errorf("answer = %q", got)
	}
}

func Test_filterStream_ErrorLineSplitAcrossReads(t *testing.T) {
	t.Parallel()
	err := filterStream(
		&chunkedReader{chunks: []string{"err", "or: mod", "el unavailable\n"}},
		func(s string) { t.Errorf("unexpected chunk %q", s) },
		func(string) { t.Error("unexpected status line") },
	)
	if !errors.Is(err, ErrAnswerFailed) {
		t.Fatalf("err = %v, want ErrAnswerFailed", err)
	}
}

func Test_filterStream_ErrorLineWithoutTrailingNewline(t *testing.T) {
	t.Parallel()
	err := filterStream(
		&chunkedReader{chunks: []string{"error: model unavailable"}},
		func(s string) { t.Errorf("unexpected chunk %q", s) },
		func(string) { t.Error("unexpected status line") },
	)
	if !errors.Is(err, ErrAnswerFailed) {
		t.Fatalf("err = %v, want ErrAnswerFailed", err)
	}
}

func Test_filterStream_MidLineErrorPrefixPassesThrough(t *testing.T) {
	t.Parallel()
	answer, statuses := runFilter(t, []string{"a parse error: missing brace."})
	if answer != "a parse error: missing brace." {
		t.Errorf("answer = %q", answer)
	}
	if len(statuses) != 0 {
		t.Errorf("statuses = %v", statuses)
	}
}

func Test_filterStream_PlainAnswerOnly(t *testing.T) {
	t.Parallel()
	answer, statuses := runFilter(t, []string{"Just ", "prose."})
	if answer != "Just prose." {
		t.Errorf("answer = %q", answer)
	}
	if len(statuses) != 0 {
		t.Errorf("statuses = %v", statuses)
	}
}

func newChatTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, "key", "u1")
}

func Test_Chat_SendsIdentityAndStreams(t *testing.T) {
	t.Parallel()
	c := newChatTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Papyr-User") != "u1" {
			t.Errorf("user header = %q", r.Header.Get("X-Papyr-User"))
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("auth header = %q", r.Header.Get("Authorization"))
		}
		var req chatPayload
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if req.DocumentID != "doc-1" || req.Message != "q" {
			t.Errorf("payload = %+v", req)
		}
		fmt.Fprint(w, "status: searching\n")
		fmt.Fprint(w, "answer text")
	})

	var chunks, statuses []string
	err := c.Chat(context.Background(), "doc-1", "q", prompt.Toggles{},
		func(s string) { chunks = append(chunks, s) },
		func(s string) { statuses = append(statuses, s) },
	)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if strings.Join(chunks, "") != "answer text" {
		t.Errorf("chunks = %v", chunks)
	}
	if len(statuses) != 1 || statuses[0] != "searching" {
		t.Errorf("statuses = %v", statuses)
	}
}

func Test_Chat_ServerErrorSurfaced(t *testing.T) {
	t.Parallel()
	c := newChatTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"error":"document is still processing or failed to ingest"}`)
	})

	err := c.Chat(context.Background(), "doc-1", "q", prompt.Toggles{}, func(string) {}, func(string) {})
	if err == nil || !strings.Contains(err.Error(), "document is still processing") {
		t.Errorf("err = %v", err)
	}
}

func Test_Conversation_AskDrivesReducer(t *testing.T) {
	t.Parallel()
	c := newChatTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/messages":
			fmt.Fprint(w, `[{"id":"m1","content":"earlier","isUser":true}]`)
		case "/api/chat":
			fmt.Fprint(w, "streamed answer")
		default:
			http.NotFound(w, r)
		}
	})

	cv, err := NewConversation(context.Background(), c, "")
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	if got := len(cv.State().Messages); got != 1 {
		t.Fatalf("seeded history = %d messages", got)
	}

	var phases []session.Phase
	err = cv.Ask(context.Background(), "next question", prompt.Toggles{},
		func(st session.State) { phases = append(phases, st.Phase) }, nil)
	if err != nil {
		t.Fatalf("ask: %v", err)
	}

	final := cv.State()
	if final.Phase != session.PhaseSettledSuccess {
		t.Errorf("final phase = %s", final.Phase)
	}
	if got := final.Messages[len(final.Messages)-1].Content; got != "streamed answer" {
		t.Errorf("final assistant text = %q", got)
	}
	if phases[0] != session.PhaseAwaitingResponse {
		t.Errorf("first transition = %s", phases[0])
	}
}

func Test_Conversation_NetworkFailureRollsBack(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/messages" {
			fmt.Fprint(w, `[]`)
			return
		}
		// Respond 503 so Chat fails before any byte of answer.
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	c := New(srv.URL, "", "u1")

	cv, err := NewConversation(context.Background(), c, "")
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}

	askErr := cv.Ask(context.Background(), "my draft", prompt.Toggles{}, nil, nil)
	if askErr == nil {
		t.Fatal("expected error")
	}
	st := cv.State()
	if st.Phase != session.PhaseSettledError {
		t.Errorf("phase = %s", st.Phase)
	}
	if st.Draft != "my draft" {
		t.Errorf("draft = %q, want restored", st.Draft)
	}
}

func Test_Conversation_MidStreamFailureRollsBack(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/messages" {
			fmt.Fprint(w, `[]`)
			return
		}
		// The stream starts cleanly, then the server aborts generation
		// with its in-band failure line.
		fmt.Fprint(w, "The contract says")
		fmt.Fprint(w, "\nerror: Something went wrong while answering your question. Please try again.\n")
	}))
	t.Cleanup(srv.Close)
	c := New(srv.URL, "", "u1")

	cv, err := NewConversation(context.Background(), c, "")
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}

	askErr := cv.Ask(context.Background(), "my draft", prompt.Toggles{}, nil, nil)
	if !errors.Is(askErr, ErrAnswerFailed) {
		t.Fatalf("ask err = %v, want ErrAnswerFailed", askErr)
	}

	st := cv.State()
	if st.Phase != session.PhaseSettledError {
		t.Errorf("phase = %s, want settled_error", st.Phase)
	}
	if st.Draft != "my draft" {
		t.Errorf("draft = %q, want restored", st.Draft)
	}
	// The partial stays visible but the failure line is not part of it.
	if got := st.Partial(); got != "The contract says\n" {
		t.Errorf("partial = %q", got)
	}
	// Nothing was committed as a finished answer.
	for _, m := range st.Messages {
		if !m.IsUser && m.ID != session.PlaceholderID {
			t.Errorf("unexpected committed assistant message %q", m.Content)
		}
	}
}
