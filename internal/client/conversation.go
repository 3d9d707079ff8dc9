package client

import (
	"context"

	"github.com/papyr-ai/papyr-go/internal/docstore"
	"github.com/papyr-ai/papyr-go/internal/prompt"
	"github.com/papyr-ai/papyr-go/internal/session"
)

// Conversation drives one conversation's visible state through the session
// reducer while the Client streams the answer. It gives the CLI the same
// optimistic-update and rollback behavior a UI would have: the question
// appears immediately, the answer grows chunk by chunk, and a failed
// stream restores the draft while keeping the partial text visible.
type Conversation struct {
	client *Client
	state  session.State
}

// NewConversation seeds a conversation with its persisted history.
func NewConversation(ctx context.Context, c *Client, documentID string) (*Conversation, error) {
	history, err := c.Messages(ctx, documentID)
	if err != nil {
		return nil, err
	}
	msgs := make([]docstore.Message, len(history))
	for i, m := range history {
		msgs[i] = docstore.Message{
			ID:         m.ID,
			UserID:     c.userID,
			DocumentID: m.DocumentID,
			Content:    m.Content,
			IsUser:     m.IsUser,
		}
	}
	return &Conversation{client: c, state: session.NewState(documentID, msgs)}, nil
}

// State returns the current reducer state for rendering.
func (cv *Conversation) State() session.State { return cv.state }

// Ask submits the question, streams the answer through the reducer, and
// settles the exchange. onUpdate is invoked after every transition with
// the new state; onStatus receives progress lines from cross-document
// answers. On stream failure the returned state has the draft restored
// and the error is returned after the rollback is applied.
func (cv *Conversation) Ask(ctx context.Context, question string, toggles prompt.Toggles, onUpdate func(session.State), onStatus func(string)) error {
	next, err := session.Submit(cv.state, cv.client.userID, question)
	if err != nil {
		return err
	}
	cv.apply(next, onUpdate)

	streamErr := cv.client.Chat(ctx, cv.state.ConversationID, question, toggles,
		func(chunk string) {
			st := cv.state
			var terr error
			if st.Phase == session.PhaseAwaitingResponse {
				if st, terr = session.OpenPlaceholder(st); terr != nil {
					return
				}
			}
			if st, terr = session.AppendChunk(st, chunk); terr != nil {
				return
			}
			cv.apply(st, onUpdate)
		},
		onStatus,
	)

	if streamErr != nil {
		if rolled, rerr := session.Rollback(cv.state); rerr == nil {
			cv.apply(rolled, onUpdate)
		}
		return streamErr
	}

	// The server persisted the assistant message; commit the accumulated
	// text locally rather than re-fetching.
	if cv.state.Phase == session.PhaseAwaitingResponse {
		// Stream ended without a single byte; treat as an empty answer.
		st, err := session.OpenPlaceholder(cv.state)
		if err != nil {
			return err
		}
		cv.apply(st, onUpdate)
	}
	committed, err := session.Commit(cv.state, docstore.Message{
		UserID:     cv.client.userID,
		DocumentID: cv.state.ConversationID,
		Content:    cv.state.Partial(),
		IsUser:     false,
	})
	if err != nil {
		return err
	}
	cv.apply(committed, onUpdate)
	return nil
}

func (cv *Conversation) apply(st session.State, onUpdate func(session.State)) {
	cv.state = st
	if onUpdate != nil {
		onUpdate(st)
	}
}
