package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/papyr-ai/papyr-go/internal/docstore"
	"github.com/papyr-ai/papyr-go/internal/ingest"
	"github.com/papyr-ai/papyr-go/internal/logging"
)

// maxUploadBytes bounds one document upload.
const maxUploadBytes = 64 << 20

// handleDocumentUpload accepts a multipart PDF upload, creates (or reopens)
// the document record, and answers 202 immediately. Ingestion runs in the
// background; callers poll GET /api/documents/{id} until a terminal status.
func (s *Server) handleDocumentUpload(w http.ResponseWriter, r *http.Request) {
	userID := userFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.respondError(w, http.StatusBadRequest, "multipart upload with a \"file\" part is required")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "multipart upload with a \"file\" part is required")
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if name == "" || name == "." || !strings.EqualFold(filepath.Ext(name), ".pdf") {
		s.respondError(w, http.StatusBadRequest, "only .pdf uploads are supported")
		return
	}

	// The multipart temp file disappears when the handler returns, so the
	// blob is buffered before the background run starts.
	data, err := io.ReadAll(file)
	if err != nil {
		s.internalError(w, r, "read upload", err)
		return
	}

	user, err := s.store.EnsureUser(r.Context(), userID, s.cfg.DefaultPlan)
	if err != nil {
		s.internalError(w, r, "resolve user", err)
		return
	}

	// Uploads are idempotent per (user, filename): a re-upload of the same
	// name reopens the existing document instead of creating a duplicate.
	doc, created, err := s.store.LookupOrCreateDocument(r.Context(), userID, uuid.NewString(), name, name)
	if err != nil {
		s.internalError(w, r, "create document", err)
		return
	}

	reopened := false
	if !created {
		if doc.Status == docstore.StatusProcessing {
			s.respondError(w, http.StatusConflict, "document is already being processed")
			return
		}
		if err := s.store.ReopenDocument(r.Context(), doc.ID); err != nil {
			s.internalError(w, r, "reopen document", err)
			return
		}
		doc.Status = docstore.StatusProcessing
		reopened = true
	}

	go s.runIngestion(user, doc, data, reopened)

	s.respondJSON(w, http.StatusAccepted, toDocumentResponse(doc))
}

// runIngestion executes the pipeline detached from the upload request.
// Its outcome is observable only through document status and metrics.
func (s *Server) runIngestion(user docstore.User, doc docstore.Document, data []byte, reopened bool) {
	log := s.log.With(
		slog.String("document_id", doc.ID),
		slog.String("user_id", user.ID),
	)
	ctx := logging.WithLogger(context.Background(), log)

	err := s.ingest.Run(ctx, user, doc, bytes.NewReader(data), reopened)
	switch {
	case errors.Is(err, ingest.ErrPageLimit):
		s.metrics.ingestTotal.WithLabelValues("quota").Inc()
	case err != nil:
		s.metrics.ingestTotal.WithLabelValues("failed").Inc()
	default:
		s.metrics.ingestTotal.WithLabelValues("success").Inc()
		if final, derr := s.store.Document(ctx, user.ID, doc.ID); derr == nil {
			s.metrics.ingestPages.Add(float64(final.PageCount))
		}
	}
}

// handleDocumentList returns the caller's documents, newest first.
func (s *Server) handleDocumentList(w http.ResponseWriter, r *http.Request) {
	userID := userFromContext(r.Context())

	docs, err := s.store.Documents(r.Context(), userID)
	if err != nil {
		s.internalError(w, r, "list documents", err)
		return
	}

	out := make([]documentResponse, len(docs))
	for i, d := range docs {
		out[i] = toDocumentResponse(d)
	}
	s.respondJSON(w, http.StatusOK, out)
}

// handleDocumentGet returns one document, including its ingestion status
// for upload polling.
func (s *Server) handleDocumentGet(w http.ResponseWriter, r *http.Request) {
	userID := userFromContext(r.Context())

	doc, err := s.store.Document(r.Context(), userID, r.PathValue("id"))
	if errors.Is(err, docstore.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		s.internalError(w, r, "load document", err)
		return
	}
	s.respondJSON(w, http.StatusOK, toDocumentResponse(doc))
}
