// Package client is the HTTP client for the papyr API, used by the CLI.
// It consumes streamed answers incrementally and separates "status:"
// progress lines from answer text so callers can route them differently.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/papyr-ai/papyr-go/internal/prompt"
)

// statusPrefix marks a transient progress line inside an answer stream.
const statusPrefix = "status: "

// errorPrefix marks the in-band line the server appends when generation
// fails after the stream has started and headers are already sent.
const errorPrefix = "error: "

// ErrAnswerFailed reports that the server ended the stream with an in-band
// failure line instead of a complete answer. Callers should discard the
// partial text rather than treat it as a finished answer.
var ErrAnswerFailed = errors.New("client: answer failed mid-stream")

// Client talks to one papyr server on behalf of one user.
type Client struct {
	baseURL string
	apiKey  string
	userID  string
	http    *http.Client
}

// New returns a Client for the given server and user identity.
func New(baseURL, apiKey, userID string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		userID:  userID,
		// No overall timeout: answers stream for as long as the model
		// needs. Cancellation comes from the request context.
		http: &http.Client{},
	}
}

// Document mirrors the server's document JSON.
type Document struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Status        string `json:"status"`
	PageCount     int    `json:"pageCount"`
	FailureReason string `json:"failureReason,omitempty"`
}

// Message mirrors the server's message JSON.
type Message struct {
	ID         string `json:"id"`
	DocumentID string `json:"documentId,omitempty"`
	Content    string `json:"content"`
	IsUser     bool   `json:"isUser"`
}

type chatPayload struct {
	Message    string         `json:"message"`
	DocumentID string         `json:"documentId,omitempty"`
	Toggles    prompt.Toggles `json:"toggles"`
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("X-Papyr-User", c.userID)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

// decodeError turns a non-2xx response into an error carrying the server's
// error message when one was sent.
func decodeError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("client: server answered %d: %s", resp.StatusCode, body.Error)
	}
	return fmt.Errorf("client: server answered %d", resp.StatusCode)
}

// Upload sends a PDF and returns the accepted document, which starts in
// status PROCESSING.
func (c *Client) Upload(ctx context.Context, name string, blob io.Reader) (Document, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(name))
	if err != nil {
		return Document{}, fmt.Errorf("client: build upload: %w", err)
	}
	if _, err := io.Copy(part, blob); err != nil {
		return Document{}, fmt.Errorf("client: buffer upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Document{}, fmt.Errorf("client: finish upload: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/documents", &buf)
	if err != nil {
		return Document{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("client: upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return Document{}, decodeError(resp)
	}

	var doc Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("client: decode document: %w", err)
	}
	return doc, nil
}

// Document fetches one document's current state.
func (c *Client) Document(ctx context.Context, id string) (Document, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/documents/"+id, nil)
	if err != nil {
		return Document{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("client: get document: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Document{}, decodeError(resp)
	}
	var doc Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("client: decode document: %w", err)
	}
	return doc, nil
}

// Documents lists the user's documents.
func (c *Client) Documents(ctx context.Context) ([]Document, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/documents", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: list documents: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	var docs []Document
	if err := json.NewDecoder(resp.Body).Decode(&docs); err != nil {
		return nil, fmt.Errorf("client: decode documents: %w", err)
	}
	return docs, nil
}

// Messages loads a conversation's persisted history, oldest first. An
// empty documentID selects the cross-document conversation.
func (c *Client) Messages(ctx context.Context, documentID string) ([]Message, error) {
	path := "/api/messages"
	if documentID != "" {
		path += "?documentId=" + documentID
	}
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: load messages: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	var msgs []Message
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		return nil, fmt.Errorf("client: decode messages: %w", err)
	}
	return msgs, nil
}

// WaitForDocument polls until the document reaches a terminal status or
// ctx ends. Status transitions are the only ingestion progress signal the
// server exposes.
func (c *Client) WaitForDocument(ctx context.Context, id string, interval time.Duration) (Document, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		doc, err := c.Document(ctx, id)
		if err != nil {
			return Document{}, err
		}
		if doc.Status != "PROCESSING" {
			return doc, nil
		}
		select {
		case <-ctx.Done():
			return doc, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Chat streams the answer for message. documentID selects single-document
// mode; empty selects cross-document mode. onChunk receives answer text as
// it arrives, onStatus each progress line (without prefix or newline).
func (c *Client) Chat(ctx context.Context, documentID, message string, toggles prompt.Toggles, onChunk, onStatus func(string)) error {
	payload, err := json.Marshal(chatPayload{Message: message, DocumentID: documentID, Toggles: toggles})
	if err != nil {
		return fmt.Errorf("client: encode chat request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/chat", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: chat: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	return filterStream(resp.Body, onChunk, onStatus)
}

// filterStream forwards answer bytes to onChunk as they arrive while
// routing complete "status:" lines to onStatus. An "error:" line ends
// the stream with [ErrAnswerFailed] instead of reaching onChunk. Only
// lines that start a new line carry either prefix; answer text containing
// them mid-line passes through untouched.
func filterStream(r io.Reader, onChunk, onStatus func(string)) error {
	var (
		buf         = make([]byte, 4096)
		pending     []byte
		atLineStart = true
		status      = []byte(statusPrefix)
		failure     = []byte(errorPrefix)
	)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := buf[:n]
			for len(data) > 0 {
				if !atLineStart {
					// Pass through to the end of the current line.
					idx := bytes.IndexByte(data, '\n')
					if idx < 0 {
						onChunk(string(data))
						data = nil
						break
					}
					onChunk(string(data[:idx+1]))
					data = data[idx+1:]
					atLineStart = true
					continue
				}

				// At a line start the bytes are held back until one of
				// the prefixes is confirmed or both are ruled out.
				pending = append(pending, data...)
				data = nil

				if bytes.HasPrefix(pending, status) {
					// Confirmed status line: wait for its newline, then
					// replay whatever follows it.
					idx := bytes.IndexByte(pending, '\n')
					if idx < 0 {
						break
					}
					onStatus(string(pending[len(status):idx]))
					data = append([]byte(nil), pending[idx+1:]...)
					pending = pending[:0]
					continue
				}
				if bytes.HasPrefix(pending, failure) {
					// The server aborted generation; the rest of the
					// line is the user-facing failure message.
					idx := bytes.IndexByte(pending, '\n')
					if idx < 0 {
						break
					}
					return fmt.Errorf("%w: %s", ErrAnswerFailed, pending[len(failure):idx])
				}
				if bytes.HasPrefix(status, pending) || bytes.HasPrefix(failure, pending) {
					break // undecided, wait for more bytes
				}

				// Ruled out: replay the held bytes through the
				// pass-through branch so any later line start is still
				// examined.
				atLineStart = false
				data = append([]byte(nil), pending...)
				pending = pending[:0]
			}
		}
		if err == io.EOF {
			// A trailing unterminated fragment is answer text unless it
			// is a complete status or error line.
			if bytes.HasPrefix(pending, failure) {
				return fmt.Errorf("%w: %s", ErrAnswerFailed,
					strings.TrimSuffix(string(pending[len(failure):]), "\n"))
			}
			if bytes.HasPrefix(pending, status) {
				onStatus(strings.TrimSuffix(string(pending[len(status):]), "\n"))
			} else if len(pending) > 0 {
				onChunk(string(pending))
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("client: read stream: %w", err)
		}
	}
}
