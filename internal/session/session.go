// Package session models the client-side conversation lifecycle as an
// explicit state machine. Each conversation is reduced by pure transition
// functions instead of ad hoc list splicing, so optimistic updates and
// their rollback are testable without a transport.
package session

import (
	"fmt"

	"github.com/papyr-ai/papyr-go/internal/docstore"
)

// Phase is the lifecycle state of one conversation.
type Phase string

const (
	// PhaseIdle means no request is in flight.
	PhaseIdle Phase = "idle"
	// PhaseAwaitingResponse means the user message was submitted and no
	// byte of the answer has arrived yet.
	PhaseAwaitingResponse Phase = "awaiting_response"
	// PhaseStreaming means the assistant placeholder exists and chunks
	// are being accumulated into it.
	PhaseStreaming Phase = "streaming"
	// PhaseSettledSuccess and PhaseSettledError are the terminal phases
	// of one exchange; the next Submit starts a fresh cycle from them.
	PhaseSettledSuccess Phase = "settled_success"
	PhaseSettledError   Phase = "settled_error"
)

// PlaceholderID is the stable sentinel identifier of the in-flight
// assistant message. It never collides with persisted message IDs, which
// are UUIDs.
const PlaceholderID = "__streaming__"

// State is one conversation's visible history plus the bookkeeping needed
// to roll an optimistic update back. Values are immutable: every
// transition returns a new State and leaves its receiver untouched.
type State struct {
	// ConversationID keys the state; the empty document ID marks the
	// cross-document conversation.
	ConversationID string
	Phase          Phase
	// Messages is the visible history, oldest first. During streaming the
	// last entry is the placeholder.
	Messages []docstore.Message
	// Draft is the input box content, captured as rollback backup on
	// submit.
	Draft string
	// accumulator grows monotonically with each chunk.
	accumulator string
	// backup holds the draft text to restore on rollback.
	backup string
}

// NewState returns an idle conversation seeded with its persisted history.
func NewState(conversationID string, history []docstore.Message) State {
	return State{
		ConversationID: conversationID,
		Phase:          PhaseIdle,
		Messages:       history,
	}
}

// Partial returns the assistant text accumulated so far. After a rollback
// it is the in-memory partial that was never persisted.
func (s State) Partial() string { return s.accumulator }

// clone copies the message slice so transitions never alias the input
// state's backing array.
func (s State) clone() State {
	out := s
	out.Messages = make([]docstore.Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	return out
}

// Submit captures the draft as rollback backup, clears the input,
// optimistically appends the user message, and enters awaiting_response.
// Valid from idle and both settled phases.
func Submit(s State, userID, text string) (State, error) {
	switch s.Phase {
	case PhaseIdle, PhaseSettledSuccess, PhaseSettledError:
	default:
		return s, fmt.Errorf("session: submit in phase %s", s.Phase)
	}

	out := s.clone()
	out.backup = text
	out.Draft = ""
	out.accumulator = ""
	out.Messages = append(out.Messages, docstore.Message{
		UserID:     userID,
		DocumentID: s.ConversationID,
		Content:    text,
		IsUser:     true,
	})
	out.Phase = PhaseAwaitingResponse
	return out, nil
}

// OpenPlaceholder inserts the synthetic assistant message on first byte
// and enters streaming.
func OpenPlaceholder(s State) (State, error) {
	if s.Phase != PhaseAwaitingResponse {
		return s, fmt.Errorf("session: open placeholder in phase %s", s.Phase)
	}

	out := s.clone()
	out.Messages = append(out.Messages, docstore.Message{
		ID:         PlaceholderID,
		DocumentID: s.ConversationID,
	})
	out.Phase = PhaseStreaming
	return out, nil
}

// AppendChunk concatenates chunk into the accumulator and overwrites the
// placeholder text with the accumulated total, which only ever grows.
func AppendChunk(s State, chunk string) (State, error) {
	if s.Phase != PhaseStreaming {
		return s, fmt.Errorf("session: append chunk in phase %s", s.Phase)
	}

	out := s.clone()
	out.accumulator += chunk
	out.Messages[len(out.Messages)-1].Content = out.accumulator
	return out, nil
}

// Commit replaces the placeholder with the persisted assistant message and
// settles the exchange successfully, discarding the rollback backup.
func Commit(s State, persisted docstore.Message) (State, error) {
	if s.Phase != PhaseStreaming {
		return s, fmt.Errorf("session: commit in phase %s", s.Phase)
	}

	out := s.clone()
	out.Messages[len(out.Messages)-1] = persisted
	out.Phase = PhaseSettledSuccess
	out.backup = ""
	return out, nil
}

// Rollback settles the exchange with an error: the draft is restored from
// the backup and any accumulated partial text stays visible in Messages
// but is never persisted. Valid from awaiting_response and streaming.
func Rollback(s State) (State, error) {
	switch s.Phase {
	case PhaseAwaitingResponse, PhaseStreaming:
	default:
		return s, fmt.Errorf("session: rollback in phase %s", s.Phase)
	}

	out := s.clone()
	out.Draft = out.backup
	out.backup = ""
	out.Phase = PhaseSettledError
	return out, nil
}
