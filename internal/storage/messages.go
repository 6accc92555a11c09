package storage

import (
	"fmt"
	"time"
)

// AppendMessage adds m to the end of the transcript.
func (s *Store) AppendMessage(m Message) error {
	created := m.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO messages (id, sender, text, answer, source, structured, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Sender, m.Text, m.Answer, m.Source, m.Structured, m.Model,
		created.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// Messages returns the transcript in insertion order. A positive limit keeps
// only the most recent messages.
func (s *Store) Messages(limit int) ([]Message, error) {
	query := `SELECT id, sender, text, answer, source, structured, model, created_at
		FROM messages ORDER BY seq ASC`
	args := []any{}
	if limit > 0 {
		query = `SELECT * FROM (
			SELECT id, sender, text, answer, source, structured, model, created_at, seq
			FROM messages ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Message
	for rows.Next() {
		var m Message
		var createdAt string
		dest := []any{&m.ID, &m.Sender, &m.Text, &m.Answer, &m.Source, &m.Structured, &m.Model, &createdAt}
		if limit > 0 {
			var seq int64
			dest = append(dest, &seq)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		m.CreatedAt = t
		results = append(results, m)
	}
	return results, rows.Err()
}

// ClearMessages empties the transcript.
func (s *Store) ClearMessages() error {
	_, err := s.db.Exec("DELETE FROM messages")
	return err
}
