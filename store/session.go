package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// SessionStore appends sealed session records and lists history. Sessions
// are never mutated after insert.
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore creates a SessionStore backed by the given database.
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Append records a sealed session.
func (s *SessionStore) Append(sess SyncSession) error {
	if sess.Errors == nil {
		sess.Errors = []string{}
	}
	errsJSON, err := json.Marshal(sess.Errors)
	if err != nil {
		return fmt.Errorf("marshal session errors: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO sync_sessions (id, started_at, method, files_queued, files_transferred, total_bytes, duration_ms, errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.StartedAt, sess.Method, sess.FilesQueued, sess.FilesTransferred, sess.TotalBytes, sess.DurationMS, string(errsJSON))
	if err != nil {
		return fmt.Errorf("append session: %w", err)
	}
	return nil
}

// Recent returns up to limit sessions, newest first.
func (s *SessionStore) Recent(limit int) ([]SyncSession, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, method, files_queued, files_transferred, total_bytes, duration_ms, errors
		FROM sync_sessions ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SyncSession
	for rows.Next() {
		var sess SyncSession
		var errsJSON string
		if err := rows.Scan(&sess.ID, &sess.StartedAt, &sess.Method, &sess.FilesQueued,
			&sess.FilesTransferred, &sess.TotalBytes, &sess.DurationMS, &errsJSON); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if err := json.Unmarshal([]byte(errsJSON), &sess.Errors); err != nil {
			return nil, fmt.Errorf("unmarshal session errors: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}
