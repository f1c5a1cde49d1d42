package db

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/0324wy/yana/internal/llm"
	"github.com/0324wy/yana/internal/session"
)

// SessionStore keeps conversation history in the messages table. It
// implements session.Store.
type SessionStore struct {
	db   *DB
	keys session.KeyedMutex
}

func (d *DB) Sessions() *SessionStore {
	return &SessionStore{db: d}
}

func (s *SessionStore) GetOrCreate(key string) (*session.Session, error) {
	rows, err := s.db.conn.Query(
		"SELECT role, content, name, tool_call_id, tool_calls FROM messages WHERE session_key = ? ORDER BY id ASC",
		key,
	)
	if err != nil {
		return nil, fmt.Errorf("loading session %q: %w", key, err)
	}
	defer rows.Close()

	var history []llm.Message
	for rows.Next() {
		var (
			m                             llm.Message
			content, name, callID, calls sql.NullString
		)
		if err := rows.Scan(&m.Role, &content, &name, &callID, &calls); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Content = str(content)
		m.Name = str(name)
		m.ToolCallID = str(callID)
		if calls.Valid && calls.String != "" {
			if err := json.Unmarshal([]byte(calls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("decoding tool calls: %w", err)
			}
		}
		history = append(history, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading session %q: %w", key, err)
	}
	return session.Restore(key, history), nil
}

// Save inserts the session's unsaved messages in one transaction.
func (s *SessionStore) Save(sess *session.Session) error {
	pending := sess.Unsaved()
	if len(pending) == 0 {
		return nil
	}

	unlock := s.keys.Lock(sess.Key)
	defer unlock()

	tx, err := s.db.conn.Begin()
	if err != nil {
		return fmt.Errorf("saving session %q: %w", sess.Key, err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT INTO messages (session_key, role, content, name, tool_call_id, tool_calls) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("saving session %q: %w", sess.Key, err)
	}
	defer stmt.Close()

	for _, m := range pending {
		var calls any
		if len(m.ToolCalls) > 0 {
			b, err := json.Marshal(m.ToolCalls)
			if err != nil {
				return fmt.Errorf("encoding tool calls: %w", err)
			}
			calls = string(b)
		}
		if _, err := stmt.Exec(sess.Key, string(m.Role), nullStr(m.Content), nullStr(m.Name), nullStr(m.ToolCallID), calls); err != nil {
			return fmt.Errorf("saving session %q: %w", sess.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("saving session %q: %w", sess.Key, err)
	}
	sess.MarkSaved()
	return nil
}

func (s *SessionStore) Clear(key string) error {
	unlock := s.keys.Lock(key)
	defer unlock()
	if _, err := s.db.conn.Exec("DELETE FROM messages WHERE session_key = ?", key); err != nil {
		return fmt.Errorf("clearing session %q: %w", key, err)
	}
	return nil
}
