package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/papyr-ai/papyr-go/internal/docstore"
	"github.com/papyr-ai/papyr-go/internal/prompt"
	"github.com/papyr-ai/papyr-go/internal/stream"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. Must
	// be long enough for streamed answers.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.NewFromEnv] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks.
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on /api/*
	// (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20.
	RateBurst int
	// APIKey is the Bearer token required on all /api/* routes. If empty,
	// authentication is disabled (development mode).
	APIKey string
	// DefaultPlan is the quota plan assigned to users on first sight.
	DefaultPlan string
}

// chatService is the interface the chat and note handlers stream answers
// through. *orchestrator.Orchestrator satisfies it; tests inject a fake.
type chatService interface {
	ChatSingle(ctx context.Context, userID, documentID, question string, toggles prompt.Toggles) (*stream.Stream, error)
	ChatGlobal(ctx context.Context, userID, question string) (*stream.Stream, error)
	NoteAssist(ctx context.Context, userID, noteID, question string) (*stream.Stream, error)
}

// ingestService runs the ingestion pipeline for one uploaded document.
// *ingest.Controller satisfies it.
type ingestService interface {
	Run(ctx context.Context, user docstore.User, doc docstore.Document, blob io.ReadSeeker, reopened bool) error
}

// Server exposes the papyr API over HTTP.
type Server struct {
	cfg   *Config
	log   *slog.Logger
	store docstore.Store
	chat  chatService
	// ingest runs asynchronously after upload acceptance; handlers only
	// observe its progress through document status.
	ingest     ingestService
	validate   *validator.Validate
	metrics    *serverMetrics
	pingers    []Pinger
	httpServer *http.Server
	// stopRL stops the rate limiter's eviction goroutine on shutdown.
	stopRL func()
}

// chatRequest is the JSON body for POST /api/chat. An empty documentId
// selects cross-document mode.
type chatRequest struct {
	Message    string         `json:"message" validate:"required,max=4000"`
	DocumentID string         `json:"documentId" validate:"omitempty,uuid4"`
	Toggles    prompt.Toggles `json:"toggles"`
}

// documentResponse is the JSON shape of one document.
type documentResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Status        string `json:"status"`
	PageCount     int    `json:"pageCount"`
	FailureReason string `json:"failureReason,omitempty"`
	CreatedAt     int64  `json:"createdAt"`
}

// messageResponse is the JSON shape of one conversation turn.
type messageResponse struct {
	ID         string `json:"id"`
	DocumentID string `json:"documentId,omitempty"`
	Content    string `json:"content"`
	IsUser     bool   `json:"isUser"`
	CreatedAt  int64  `json:"createdAt"`
}

// noteRequest is the JSON body for POST /api/notes and PUT /api/notes/{id}.
// Version is required on update for the optimistic lock; ignored on create.
type noteRequest struct {
	DocumentID string `json:"documentId" validate:"required,uuid4"`
	Title      string `json:"title" validate:"required,max=200"`
	Content    string `json:"content" validate:"max=20000"`
	Version    int    `json:"version"`
}

// noteAssistRequest is the JSON body for POST /api/notes/{id}/assist.
type noteAssistRequest struct {
	Question string `json:"question" validate:"required,max=1000"`
}

// noteResponse is the JSON shape of one note.
type noteResponse struct {
	ID         string `json:"id"`
	DocumentID string `json:"documentId"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	AIResponse string `json:"aiResponse,omitempty"`
	Version    int    `json:"version"`
	CreatedAt  int64  `json:"createdAt"`
}

// errorResponse is the JSON shape of all error bodies.
type errorResponse struct {
	Error string `json:"error"`
}

func toDocumentResponse(d docstore.Document) documentResponse {
	return documentResponse{
		ID:            d.ID,
		Name:          d.Name,
		Status:        string(d.Status),
		PageCount:     d.PageCount,
		FailureReason: d.FailureReason,
		CreatedAt:     d.CreatedAt.Unix(),
	}
}

func toMessageResponse(m docstore.Message) messageResponse {
	return messageResponse{
		ID:         m.ID,
		DocumentID: m.DocumentID,
		Content:    m.Content,
		IsUser:     m.IsUser,
		CreatedAt:  m.CreatedAt.Unix(),
	}
}

func toNoteResponse(n docstore.Note) noteResponse {
	return noteResponse{
		ID:         n.ID,
		DocumentID: n.DocumentID,
		Title:      n.Title,
		Content:    n.Content,
		AIResponse: n.AIResponse,
		Version:    n.Version,
		CreatedAt:  n.CreatedAt.Unix(),
	}
}
