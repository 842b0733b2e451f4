// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package feed

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yessusuper/alpha-source/internal/model"
)

// ErrUserNotFound is returned when a username has no stored credentials.
var ErrUserNotFound = errors.New("user not found")

// =============================================================================
// STORE
// =============================================================================

// Store is the SQLite-backed authoritative log.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and opens the database at dbPath.
// An empty path defaults to ./data/source.db.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	if dbPath == "" {
		dbPath = "./data/source.db"
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// initSchema creates tables if they don't exist.
func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		author TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		temp_id TEXT NOT NULL DEFAULT '',
		attachment_name TEXT NOT NULL DEFAULT '',
		attachment_mime TEXT NOT NULL DEFAULT '',
		attachment_path TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);

	CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS courses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		file_path TEXT NOT NULL,
		uploaded_at DATETIME NOT NULL
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// =============================================================================
// MESSAGE OPERATIONS
// =============================================================================

// Append stores a new authoritative record for the conversation and
// returns it with the server-assigned id and timestamp filled in. The
// client's provisional id is persisted so later polls can echo it.
func (s *Store) Append(ctx context.Context, conversationID string, msg *model.Message) (*model.Message, error) {
	out := msg.Clone()
	out.CreatedAt = time.Now().UTC()
	out.Status = model.StatusConfirmed

	var attName, attMIME, attPath string
	if out.Attachment != nil {
		attName = out.Attachment.Name
		attMIME = out.Attachment.MIMEType
		attPath = out.Attachment.Path
		out.Attachment.Data = nil // the server owns the stored file now
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, author, body, temp_id, attachment_name, attachment_mime, attachment_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		conversationID, out.Author, out.Body, out.TempID, attName, attMIME, attPath, out.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	out.ID = id

	return out, nil
}

// List returns the full current log for a conversation in authoritative
// order. Rows that fail to scan are skipped rather than failing the batch.
func (s *Store) List(ctx context.Context, conversationID string) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, author, body, temp_id, attachment_name, attachment_mime, attachment_path, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Message, 0, 64)
	for rows.Next() {
		var m model.Message
		var attName, attMIME, attPath string
		if err := rows.Scan(&m.ID, &m.Author, &m.Body, &m.TempID, &attName, &attMIME, &attPath, &m.CreatedAt); err != nil {
			continue
		}
		m.Status = model.StatusConfirmed
		if attPath != "" || attName != "" {
			m.Attachment = &model.Attachment{Name: attName, MIMEType: attMIME, Path: attPath}
		}
		out = append(out, m)
	}

	return out, rows.Err()
}

// Count returns the total number of stored messages.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}

// =============================================================================
// COURSE OPERATIONS
// =============================================================================

// AddCourse catalogues a deposited course file and returns the record
// with the server-assigned id and timestamp filled in.
func (s *Store) AddCourse(ctx context.Context, course *model.Course) (*model.Course, error) {
	out := *course
	out.UploadedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO courses (title, subject, description, file_path, uploaded_at)
		VALUES (?, ?, ?, ?, ?)`,
		out.Title, out.Subject, out.Description, out.FilePath, out.UploadedAt,
	)
	if err != nil {
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	out.ID = id

	return &out, nil
}

// Courses returns the full catalogue, oldest deposit first.
func (s *Store) Courses(ctx context.Context) ([]model.Course, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, subject, description, file_path, uploaded_at
		FROM courses
		ORDER BY id ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Course, 0, 16)
	for rows.Next() {
		var c model.Course
		if err := rows.Scan(&c.ID, &c.Title, &c.Subject, &c.Description, &c.FilePath, &c.UploadedAt); err != nil {
			continue
		}
		out = append(out, c)
	}

	return out, rows.Err()
}

// =============================================================================
// USER OPERATIONS
// =============================================================================

// UpsertUser stores (or replaces) a user's bcrypt password hash.
func (s *Store) UpsertUser(ctx context.Context, username, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET password_hash = excluded.password_hash`,
		username, passwordHash, time.Now().UTC(),
	)
	return err
}

// UserHash returns the stored bcrypt hash for a username.
func (s *Store) UserHash(ctx context.Context, username string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT password_hash FROM users WHERE username = ?`, username).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrUserNotFound
	}
	return hash, err
}
