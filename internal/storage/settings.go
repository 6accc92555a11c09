package storage

import (
	"database/sql"
	"errors"
	"time"
)

const sessionKey = "session_id"

func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

func (s *Store) DeleteSetting(key string) error {
	_, err := s.db.Exec("DELETE FROM settings WHERE key = ?", key)
	return err
}

// LoadSessionID returns the persisted session id, or "" when none exists.
func (s *Store) LoadSessionID() (string, error) {
	id, err := s.GetSetting(sessionKey)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return id, err
}

func (s *Store) SaveSessionID(id string) error {
	return s.SetSetting(sessionKey, id)
}

func (s *Store) ClearSessionID() error {
	return s.DeleteSetting(sessionKey)
}
