package db

import (
	"database/sql"
	"errors"
	"fmt"
)

// GetNote retrieves a note by key. A missing key yields "".
func (d *DB) GetNote(key string) (string, error) {
	var value string
	err := d.conn.QueryRow("SELECT value FROM notes WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting note: %w", err)
	}
	return value, nil
}

// SetNote stores or updates a note by key.
func (d *DB) SetNote(key, value string) error {
	_, err := d.conn.Exec(
		"INSERT INTO notes (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = datetime('now')",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("setting note: %w", err)
	}
	return nil
}

// ListNotes returns every note, most recently updated first.
func (d *DB) ListNotes() ([]Note, error) {
	rows, err := d.conn.Query("SELECT key, value, updated_at FROM notes ORDER BY updated_at DESC, key ASC")
	if err != nil {
		return nil, fmt.Errorf("listing notes: %w", err)
	}
	defer rows.Close()
	var out []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.Key, &n.Value, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning note: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// DeleteNote removes a note. Deleting a missing key is not an error.
func (d *DB) DeleteNote(key string) error {
	if _, err := d.conn.Exec("DELETE FROM notes WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting note: %w", err)
	}
	return nil
}
