package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/papyr-ai/papyr-go/internal/docstore"
	"github.com/papyr-ai/papyr-go/internal/logging"
	"github.com/papyr-ai/papyr-go/internal/orchestrator"
)

// handleNoteCreate creates a note attached to one of the caller's
// documents.
func (s *Server) handleNoteCreate(w http.ResponseWriter, r *http.Request) {
	userID := userFromContext(r.Context())

	var req noteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.respondError(w, http.StatusBadRequest, "documentId and title are required")
		return
	}

	// The document must exist and belong to the caller.
	if _, err := s.store.Document(r.Context(), userID, req.DocumentID); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "document not found")
			return
		}
		s.internalError(w, r, "resolve document", err)
		return
	}

	note, err := s.store.CreateNote(r.Context(), docstore.Note{
		ID:         uuid.NewString(),
		UserID:     userID,
		DocumentID: req.DocumentID,
		Title:      req.Title,
		Content:    req.Content,
	})
	if err != nil {
		s.internalError(w, r, "create note", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, toNoteResponse(note))
}

// handleNoteList returns the caller's notes for one document.
func (s *Server) handleNoteList(w http.ResponseWriter, r *http.Request) {
	userID := userFromContext(r.Context())
	documentID := r.URL.Query().Get("documentId")
	if documentID == "" {
		s.respondError(w, http.StatusBadRequest, "documentId query parameter is required")
		return
	}

	notes, err := s.store.NotesByDocument(r.Context(), userID, documentID)
	if err != nil {
		s.internalError(w, r, "list notes", err)
		return
	}

	out := make([]noteResponse, len(notes))
	for i, n := range notes {
		out[i] = toNoteResponse(n)
	}
	s.respondJSON(w, http.StatusOK, out)
}

// handleNoteGet returns one note.
func (s *Server) handleNoteGet(w http.ResponseWriter, r *http.Request) {
	userID := userFromContext(r.Context())

	note, err := s.store.Note(r.Context(), userID, r.PathValue("id"))
	if errors.Is(err, docstore.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "note not found")
		return
	}
	if err != nil {
		s.internalError(w, r, "load note", err)
		return
	}
	s.respondJSON(w, http.StatusOK, toNoteResponse(note))
}

// handleNoteUpdate writes title and content under the optimistic version
// lock. A stale version answers 409 with the note's current state so the
// client can rebase; this is what rejects manual edits racing an AI
// assist.
func (s *Server) handleNoteUpdate(w http.ResponseWriter, r *http.Request) {
	userID := userFromContext(r.Context())
	noteID := r.PathValue("id")

	var req noteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil || req.Version < 1 {
		s.respondError(w, http.StatusBadRequest, "documentId, title, and version are required")
		return
	}

	note, err := s.store.UpdateNote(r.Context(), userID, noteID, req.Title, req.Content, req.Version)
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "note not found")
	case errors.Is(err, docstore.ErrVersionConflict):
		current, cerr := s.store.Note(r.Context(), userID, noteID)
		if cerr != nil {
			s.internalError(w, r, "load conflicting note", cerr)
			return
		}
		s.respondJSON(w, http.StatusConflict, toNoteResponse(current))
	case err != nil:
		s.internalError(w, r, "update note", err)
	default:
		s.respondJSON(w, http.StatusOK, toNoteResponse(note))
	}
}

// handleNoteAssist streams a short AI response for a note as plain text.
// The final text is persisted as the note's aiResponse when the stream
// ends cleanly; the note's version is bumped so concurrent manual edits
// conflict instead of overwriting it.
func (s *Server) handleNoteAssist(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	userID := userFromContext(r.Context())
	noteID := r.PathValue("id")

	var req noteAssistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.respondError(w, http.StatusBadRequest, "question is required")
		return
	}

	answer, err := s.chat.NoteAssist(r.Context(), userID, noteID, req.Question)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "note not found")
			return
		}
		log.Error("note assist setup failed", "error", err.Error())
		s.respondError(w, http.StatusBadGateway, orchestrator.GenericFailure)
		return
	}
	defer answer.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")

	for {
		text, err := answer.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			log.Error("note assist stream failed", "error", err.Error())
			fmt.Fprintf(w, "\nerror: %s\n", orchestrator.GenericFailure)
			flusher.Flush()
			return
		}
		if _, err := io.WriteString(w, text); err != nil {
			return
		}
		flusher.Flush()
	}
}
