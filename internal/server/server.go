// Package server exposes the papyr document chat over a REST API with
// plain-text streamed answers. The server is started by the `papyr serve`
// CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/papyr-ai/papyr-go/internal/docstore"
	"github.com/papyr-ai/papyr-go/internal/logging"
	"github.com/papyr-ai/papyr-go/internal/orchestrator"
	"github.com/papyr-ai/papyr-go/internal/stream"
)

// New constructs a Server over the given store, chat service, and ingestion
// pipeline. reg receives the server's Prometheus metrics and backs the
// /metrics endpoint; tests pass a fresh registry to stay hermetic.
func New(store docstore.Store, chat chatService, ingest ingestService, cfg *Config, reg *prometheus.Registry) (*Server, error) {
	if store == nil || chat == nil || ingest == nil {
		return nil, fmt.Errorf("server: store, chat, and ingest must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// Streamed answers can take minutes on slow local models.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.DefaultPlan == "" {
		cfg.DefaultPlan = "free"
	}
	log := cfg.Logger
	if log == nil {
		log = logging.NewFromEnv()
	}
	if cfg.APIKey == "" {
		log.Warn("api authentication disabled: no api key configured")
	}

	s := &Server{
		cfg:      cfg,
		log:      log,
		store:    store,
		chat:     chat,
		ingest:   ingest,
		validate: validator.New(),
		metrics:  newServerMetrics(reg),
		pingers:  cfg.Pingers,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/documents", s.handleDocumentUpload)
	mux.HandleFunc("GET /api/documents", s.handleDocumentList)
	mux.HandleFunc("GET /api/documents/{id}", s.handleDocumentGet)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/messages", s.handleMessages)
	mux.HandleFunc("POST /api/notes", s.handleNoteCreate)
	mux.HandleFunc("GET /api/notes", s.handleNoteList)
	mux.HandleFunc("GET /api/notes/{id}", s.handleNoteGet)
	mux.HandleFunc("PUT /api/notes/{id}", s.handleNoteUpdate)
	mux.HandleFunc("POST /api/notes/{id}/assist", s.handleNoteAssist)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	s.stopRL = stopRL

	var handler http.Handler = mux
	handler = s.identify(handler)
	handler = authMiddleware(cfg.APIKey, handler)
	handler = rl.middleware(handler)
	handler = s.instrument(handler)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start listens and serves until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("papyr server listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.stopRL()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// Handler returns the server's root handler for use with httptest.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// handleChat streams the answer for a question as plain text. Chunks are
// flushed as they arrive; cross-document answers are preceded by
// "status:" progress lines on the same stream.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	userID := userFromContext(r.Context())

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.respondError(w, http.StatusBadRequest, "message is required and must be under 4000 characters")
		return
	}

	var (
		answer *stream.Stream
		err    error
	)
	if req.DocumentID == "" {
		answer, err = s.chat.ChatGlobal(r.Context(), userID, req.Message)
	} else {
		answer, err = s.chat.ChatSingle(r.Context(), userID, req.DocumentID, req.Message, req.Toggles)
	}
	if err != nil {
		s.metrics.chatRequestsTotal.WithLabelValues("rejected").Inc()
		switch {
		case errors.Is(err, docstore.ErrNotFound):
			s.respondError(w, http.StatusNotFound, "document not found")
		case errors.Is(err, orchestrator.ErrDocumentNotReady):
			s.respondError(w, http.StatusConflict, "document is still processing or failed to ingest")
		default:
			log.Error("chat setup failed", slog.String("error", err.Error()))
			s.respondError(w, http.StatusBadGateway, orchestrator.GenericFailure)
		}
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
	w.Header().Set("X-Accel-Buffering", "no")

	s.metrics.chatActiveStreams.Inc()
	defer s.metrics.chatActiveStreams.Dec()
	start := time.Now()

	for {
		text, err := answer.Recv()
		if errors.Is(err, io.EOF) {
			s.metrics.chatRequestsTotal.WithLabelValues("ok").Inc()
			s.metrics.chatDurationSeconds.WithLabelValues("ok").Observe(time.Since(start).Seconds())
			return
		}
		if err != nil {
			// Headers are already written; the generic failure is
			// appended to the body so the client can surface it.
			log.Error("chat stream failed", slog.String("error", err.Error()))
			s.metrics.chatRequestsTotal.WithLabelValues("error").Inc()
			s.metrics.chatDurationSeconds.WithLabelValues("error").Observe(time.Since(start).Seconds())
			fmt.Fprintf(w, "\nerror: %s\n", orchestrator.GenericFailure)
			flusher.Flush()
			return
		}
		if _, err := io.WriteString(w, text); err != nil {
			// Client went away; closing the stream aborts generation.
			s.metrics.chatRequestsTotal.WithLabelValues("aborted").Inc()
			return
		}
		flusher.Flush()
	}
}

// handleMessages returns the persisted conversation for a document, or the
// cross-document conversation when documentId is absent. Oldest first.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	userID := userFromContext(r.Context())
	documentID := r.URL.Query().Get("documentId")

	msgs, err := s.store.RecentMessages(r.Context(), userID, documentID, 200)
	if err != nil {
		s.internalError(w, r, "load messages", err)
		return
	}

	out := make([]messageResponse, len(msgs))
	for i, m := range msgs {
		out[i] = toMessageResponse(m)
	}
	s.respondJSON(w, http.StatusOK, out)
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// respondJSON writes v as the JSON response body.
func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("response encode error", slog.String("error", err.Error()))
	}
}

// respondError writes a JSON error body with the given status.
func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, errorResponse{Error: msg})
}

// internalError logs the cause and answers with a generic 500. Causes are
// never echoed to the client.
func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	logging.FromContext(r.Context()).Error(op, slog.String("error", err.Error()))
	s.respondError(w, http.StatusInternalServerError, "internal error")
}
