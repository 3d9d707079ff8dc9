// Package docstore provides the SQLite-backed relational store for papyr:
// users and their plans, documents and their ingestion lifecycle, chat
// messages, and notes. Every read and write is scoped by the owning user so
// one user can never observe another's records.
package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Sentinel errors returned by store operations.
var (
	// ErrNotFound is returned when a record does not exist or is not owned
	// by the requesting user. The two cases are deliberately
	// indistinguishable so ownership cannot be probed.
	ErrNotFound = errors.New("docstore: not found")

	// ErrTerminalStatus is returned when a status transition is attempted
	// on a document already in SUCCESS or FAILED.
	ErrTerminalStatus = errors.New("docstore: document status is terminal")

	// ErrVersionConflict is returned when a note write carries a stale
	// version counter, meaning another writer (typically the AI assist
	// stream) got there first.
	ErrVersionConflict = errors.New("docstore: note version conflict")
)

// DocumentStatus is the ingestion lifecycle state of a document.
// PROCESSING is the only non-terminal state; SUCCESS and FAILED are terminal.
type DocumentStatus string

const (
	// StatusProcessing means ingestion is in flight.
	StatusProcessing DocumentStatus = "PROCESSING"
	// StatusSuccess means all page vectors are indexed and queryable.
	StatusSuccess DocumentStatus = "SUCCESS"
	// StatusFailed means ingestion stopped; no further automatic transition occurs.
	StatusFailed DocumentStatus = "FAILED"
)

// User is an account known to the store, carrying its quota plan.
type User struct {
	// ID is the external user identifier.
	ID string
	// Plan names the quota plan ("free", "pro", ...).
	Plan string
	// CreatedAt is when the user record was created.
	CreatedAt time.Time
}

// Document is an uploaded document and its ingestion state.
type Document struct {
	// ID is the document identifier, also the vector index namespace.
	ID string
	// UserID is the owning user.
	UserID string
	// Name is the display name shown in citations and listings.
	Name string
	// SourceKey identifies the upload source; re-uploads with the same key
	// resolve to the same document.
	SourceKey string
	// Status is the ingestion lifecycle state.
	Status DocumentStatus
	// PageCount is the number of parsed pages (0 until parsing completes).
	PageCount int
	// FailureReason explains a FAILED status (empty otherwise).
	FailureReason string
	// CreatedAt is when the document record was created.
	CreatedAt time.Time
}

// Message is one turn of a conversation, tied to a document (or to the
// cross-document conversation when DocumentID is empty).
type Message struct {
	// ID is the message identifier.
	ID string
	// UserID is the owning user.
	UserID string
	// DocumentID ties the message to a document conversation; empty for
	// the cross-document conversation.
	DocumentID string
	// Content is the message text.
	Content string
	// IsUser is true for the human turn, false for the assistant turn.
	IsUser bool
	// CreatedAt is when the message was persisted.
	CreatedAt time.Time
}

// Note is a user-authored note attached to a document. Version is a
// monotonically increasing counter used for optimistic locking: every write
// must carry the version it read, and the AI assist flow bumps it on
// completion so concurrent manual edits are rejected rather than lost.
type Note struct {
	// ID is the note identifier.
	ID string
	// UserID is the owning user.
	UserID string
	// DocumentID is the associated document.
	DocumentID string
	// Title is the note heading.
	Title string
	// Content is the note body.
	Content string
	// AIResponse is the persisted output of the last note-assist run.
	AIResponse string
	// Version is the optimistic lock counter, starting at 1.
	Version int
	// CreatedAt is when the note was created.
	CreatedAt time.Time
	// UpdatedAt is when the note was last written.
	UpdatedAt time.Time
}

// Store persists users, documents, messages, and notes. Implementations
// must be safe for concurrent use.
type Store interface {
	// EnsureUser creates the user with the given plan if absent and returns
	// the stored record. An existing user's plan is not modified.
	EnsureUser(ctx context.Context, id, plan string) (User, error)

	// LookupOrCreateDocument resolves a document by (sourceKey, userID),
	// creating it in PROCESSING when absent. The second return value is
	// true when the document was created by this call.
	LookupOrCreateDocument(ctx context.Context, userID, id, name, sourceKey string) (Document, bool, error)

	// Document returns the user's document by ID, or ErrNotFound.
	Document(ctx context.Context, userID, id string) (Document, error)

	// Documents lists the user's documents, newest first.
	Documents(ctx context.Context, userID string) ([]Document, error)

	// TransitionDocument moves a PROCESSING document to a terminal status,
	// recording page count and failure reason. Returns ErrTerminalStatus
	// if the document already reached SUCCESS or FAILED.
	TransitionDocument(ctx context.Context, id string, status DocumentStatus, pageCount int, failureReason string) error

	// ReopenDocument resets a document to PROCESSING for re-ingestion.
	ReopenDocument(ctx context.Context, id string) error

	// AppendMessage persists one conversation turn.
	AppendMessage(ctx context.Context, m Message) error

	// RecentMessages returns the most recent n messages of the user's
	// conversation for the document (empty documentID = cross-document),
	// ordered oldest-first for direct prompt injection.
	RecentMessages(ctx context.Context, userID, documentID string, n int) ([]Message, error)

	// CreateNote persists a new note with Version 1.
	CreateNote(ctx context.Context, n Note) (Note, error)

	// Note returns the user's note by ID, or ErrNotFound.
	Note(ctx context.Context, userID, id string) (Note, error)

	// NotesByDocument lists the user's notes for a document, newest first.
	NotesByDocument(ctx context.Context, userID, documentID string) ([]Note, error)

	// UpdateNote writes title and content if expectedVersion matches the
	// stored version, bumping it. Returns ErrVersionConflict on mismatch.
	UpdateNote(ctx context.Context, userID, id, title, content string, expectedVersion int) (Note, error)

	// SetNoteAIResponse persists the AI assist output and bumps the
	// version, invalidating any concurrent manual edit.
	SetNoteAIResponse(ctx context.Context, userID, id, aiResponse string) (Note, error)

	// Close releases any resources held by the store.
	Close() error
}

// SQLiteStore is a Store backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("docstore: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS users (
    id         TEXT PRIMARY KEY,
    plan       TEXT    NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS documents (
    id             TEXT PRIMARY KEY,
    user_id        TEXT    NOT NULL REFERENCES users(id),
    name           TEXT    NOT NULL,
    source_key     TEXT    NOT NULL,
    status         TEXT    NOT NULL CHECK(status IN ('PROCESSING','SUCCESS','FAILED')),
    page_count     INTEGER NOT NULL DEFAULT 0,
    failure_reason TEXT    NOT NULL DEFAULT '',
    created_at     INTEGER NOT NULL,
    UNIQUE (user_id, source_key)
);
CREATE TABLE IF NOT EXISTS messages (
    id          TEXT PRIMARY KEY,
    user_id     TEXT    NOT NULL REFERENCES users(id),
    document_id TEXT    NOT NULL DEFAULT '',
    content     TEXT    NOT NULL,
    is_user     INTEGER NOT NULL,
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation
    ON messages (user_id, document_id, created_at);
CREATE TABLE IF NOT EXISTS notes (
    id          TEXT PRIMARY KEY,
    user_id     TEXT    NOT NULL REFERENCES users(id),
    document_id TEXT    NOT NULL,
    title       TEXT    NOT NULL,
    content     TEXT    NOT NULL,
    ai_response TEXT    NOT NULL DEFAULT '',
    version     INTEGER NOT NULL DEFAULT 1,
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notes_document
    ON notes (user_id, document_id, created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("docstore: migrate: %w", err)
	}
	return nil
}

// EnsureUser creates the user with the given plan if absent.
func (s *SQLiteStore) EnsureUser(ctx context.Context, id, plan string) (User, error) {
	const ins = `INSERT INTO users (id, plan, created_at) VALUES (?, ?, ?)
                 ON CONFLICT(id) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, ins, id, plan, time.Now().Unix()); err != nil {
		return User{}, fmt.Errorf("docstore: ensure user: %w", err)
	}

	const sel = `SELECT id, plan, created_at FROM users WHERE id = ?`
	var u User
	var ts int64
	if err := s.db.QueryRowContext(ctx, sel, id).Scan(&u.ID, &u.Plan, &ts); err != nil {
		return User{}, fmt.Errorf("docstore: ensure user readback: %w", err)
	}
	u.CreatedAt = time.Unix(ts, 0)
	return u, nil
}

// LookupOrCreateDocument resolves a document by (sourceKey, userID),
// creating it in PROCESSING when absent.
func (s *SQLiteStore) LookupOrCreateDocument(ctx context.Context, userID, id, name, sourceKey string) (Document, bool, error) {
	const sel = `SELECT id, user_id, name, source_key, status, page_count, failure_reason, created_at
                 FROM documents WHERE user_id = ? AND source_key = ?`

	doc, err := s.scanDocument(s.db.QueryRowContext(ctx, sel, userID, sourceKey))
	if err == nil {
		return doc, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Document{}, false, fmt.Errorf("docstore: lookup document: %w", err)
	}

	const ins = `INSERT INTO documents (id, user_id, name, source_key, status, created_at)
                 VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, ins, id, userID, name, sourceKey, string(StatusProcessing), time.Now().Unix()); err != nil {
		return Document{}, false, fmt.Errorf("docstore: create document: %w", err)
	}

	doc, err = s.scanDocument(s.db.QueryRowContext(ctx, sel, userID, sourceKey))
	if err != nil {
		return Document{}, false, fmt.Errorf("docstore: create document readback: %w", err)
	}
	return doc, true, nil
}

// Document returns the user's document by ID, or ErrNotFound.
func (s *SQLiteStore) Document(ctx context.Context, userID, id string) (Document, error) {
	const q = `SELECT id, user_id, name, source_key, status, page_count, failure_reason, created_at
               FROM documents WHERE id = ? AND user_id = ?`
	doc, err := s.scanDocument(s.db.QueryRowContext(ctx, q, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("docstore: get document: %w", err)
	}
	return doc, nil
}

// Documents lists the user's documents, newest first.
func (s *SQLiteStore) Documents(ctx context.Context, userID string) ([]Document, error) {
	const q = `SELECT id, user_id, name, source_key, status, page_count, failure_reason, created_at
               FROM documents WHERE user_id = ? ORDER BY created_at DESC, id DESC`
	rows, err := s.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("docstore: list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := s.scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("docstore: list documents scan: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docstore: list documents rows: %w", err)
	}
	return docs, nil
}

// TransitionDocument moves a PROCESSING document to a terminal status.
// The WHERE clause makes terminal states sticky: once SUCCESS or FAILED,
// no further transition happens.
func (s *SQLiteStore) TransitionDocument(ctx context.Context, id string, status DocumentStatus, pageCount int, failureReason string) error {
	const q = `UPDATE documents SET status = ?, page_count = ?, failure_reason = ?
               WHERE id = ? AND status = 'PROCESSING'`
	res, err := s.db.ExecContext(ctx, q, string(status), pageCount, failureReason, id)
	if err != nil {
		return fmt.Errorf("docstore: transition document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("docstore: transition document rows: %w", err)
	}
	if n == 0 {
		return ErrTerminalStatus
	}
	return nil
}

// ReopenDocument resets a document to PROCESSING for re-ingestion.
func (s *SQLiteStore) ReopenDocument(ctx context.Context, id string) error {
	const q = `UPDATE documents SET status = 'PROCESSING', page_count = 0, failure_reason = ''
               WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("docstore: reopen document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("docstore: reopen document rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage persists one conversation turn. Message timestamps are
// stored at nanosecond granularity: a user turn and its answer land within
// the same second, and their relative order must survive a reload.
func (s *SQLiteStore) AppendMessage(ctx context.Context, m Message) error {
	const q = `INSERT INTO messages (id, user_id, document_id, content, is_user, created_at)
               VALUES (?, ?, ?, ?, ?, ?)`
	created := m.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	if _, err := s.db.ExecContext(ctx, q, m.ID, m.UserID, m.DocumentID, m.Content, boolInt(m.IsUser), created.UnixNano()); err != nil {
		return fmt.Errorf("docstore: append message: %w", err)
	}
	return nil
}

// RecentMessages returns the most recent n messages of the conversation,
// ordered oldest-first. Uses a subquery to select the tail, then re-orders
// for direct prompt injection.
func (s *SQLiteStore) RecentMessages(ctx context.Context, userID, documentID string, n int) ([]Message, error) {
	const q = `
SELECT id, user_id, document_id, content, is_user, created_at FROM (
    SELECT id, user_id, document_id, content, is_user, created_at
    FROM   messages
    WHERE  user_id = ? AND document_id = ?
    ORDER  BY created_at DESC, id DESC
    LIMIT  ?
) ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, q, userID, documentID, n)
	if err != nil {
		return nil, fmt.Errorf("docstore: recent messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var ts int64
		var isUser int
		if err := rows.Scan(&m.ID, &m.UserID, &m.DocumentID, &m.Content, &isUser, &ts); err != nil {
			return nil, fmt.Errorf("docstore: recent messages scan: %w", err)
		}
		m.IsUser = isUser != 0
		m.CreatedAt = time.Unix(0, ts)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docstore: recent messages rows: %w", err)
	}
	return msgs, nil
}

// CreateNote persists a new note with Version 1.
func (s *SQLiteStore) CreateNote(ctx context.Context, n Note) (Note, error) {
	now := time.Now().Unix()
	const q = `INSERT INTO notes (id, user_id, document_id, title, content, version, created_at, updated_at)
               VALUES (?, ?, ?, ?, ?, 1, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, n.ID, n.UserID, n.DocumentID, n.Title, n.Content, now, now); err != nil {
		return Note{}, fmt.Errorf("docstore: create note: %w", err)
	}
	return s.Note(ctx, n.UserID, n.ID)
}

// Note returns the user's note by ID, or ErrNotFound.
func (s *SQLiteStore) Note(ctx context.Context, userID, id string) (Note, error) {
	const q = `SELECT id, user_id, document_id, title, content, ai_response, version, created_at, updated_at
               FROM notes WHERE id = ? AND user_id = ?`
	var n Note
	var created, updated int64
	err := s.db.QueryRowContext(ctx, q, id, userID).
		Scan(&n.ID, &n.UserID, &n.DocumentID, &n.Title, &n.Content, &n.AIResponse, &n.Version, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Note{}, ErrNotFound
	}
	if err != nil {
		return Note{}, fmt.Errorf("docstore: get note: %w", err)
	}
	n.CreatedAt = time.Unix(created, 0)
	n.UpdatedAt = time.Unix(updated, 0)
	return n, nil
}

// NotesByDocument lists the user's notes for a document, newest first.
func (s *SQLiteStore) NotesByDocument(ctx context.Context, userID, documentID string) ([]Note, error) {
	const q = `SELECT id, user_id, document_id, title, content, ai_response, version, created_at, updated_at
               FROM notes WHERE user_id = ? AND document_id = ?
               ORDER BY created_at DESC, id DESC`
	rows, err := s.db.QueryContext(ctx, q, userID, documentID)
	if err != nil {
		return nil, fmt.Errorf("docstore: list notes: %w", err)
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		var n Note
		var created, updated int64
		if err := rows.Scan(&n.ID, &n.UserID, &n.DocumentID, &n.Title, &n.Content, &n.AIResponse, &n.Version, &created, &updated); err != nil {
			return nil, fmt.Errorf("docstore: list notes scan: %w", err)
		}
		n.CreatedAt = time.Unix(created, 0)
		n.UpdatedAt = time.Unix(updated, 0)
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docstore: list notes rows: %w", err)
	}
	return notes, nil
}

// UpdateNote writes title and content under the optimistic lock.
func (s *SQLiteStore) UpdateNote(ctx context.Context, userID, id, title, content string, expectedVersion int) (Note, error) {
	const q = `UPDATE notes SET title = ?, content = ?, version = version + 1, updated_at = ?
               WHERE id = ? AND user_id = ? AND version = ?`
	res, err := s.db.ExecContext(ctx, q, title, content, time.Now().Unix(), id, userID, expectedVersion)
	if err != nil {
		return Note{}, fmt.Errorf("docstore: update note: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Note{}, fmt.Errorf("docstore: update note rows: %w", err)
	}
	if n == 0 {
		// Distinguish a missing note from a stale version.
		if _, getErr := s.Note(ctx, userID, id); getErr != nil {
			return Note{}, getErr
		}
		return Note{}, ErrVersionConflict
	}
	return s.Note(ctx, userID, id)
}

// SetNoteAIResponse persists the AI assist output and bumps the version.
func (s *SQLiteStore) SetNoteAIResponse(ctx context.Context, userID, id, aiResponse string) (Note, error) {
	const q = `UPDATE notes SET ai_response = ?, version = version + 1, updated_at = ?
               WHERE id = ? AND user_id = ?`
	res, err := s.db.ExecContext(ctx, q, aiResponse, time.Now().Unix(), id, userID)
	if err != nil {
		return Note{}, fmt.Errorf("docstore: set note ai response: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Note{}, fmt.Errorf("docstore: set note ai response rows: %w", err)
	}
	if n == 0 {
		return Note{}, ErrNotFound
	}
	return s.Note(ctx, userID, id)
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("docstore: close: %w", err)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

// scanDocument scans one documents row.
func (s *SQLiteStore) scanDocument(row scanner) (Document, error) {
	var d Document
	var ts int64
	var status string
	if err := row.Scan(&d.ID, &d.UserID, &d.Name, &d.SourceKey, &status, &d.PageCount, &d.FailureReason, &ts); err != nil {
		return Document{}, err
	}
	d.Status = DocumentStatus(status)
	d.CreatedAt = time.Unix(ts, 0)
	return d, nil
}

// boolInt converts a bool to its SQLite integer representation.
func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
