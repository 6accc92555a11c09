package storage

import (
	"encoding/json"
	"fmt"
	"time"
)

func (s *Store) SaveAcquisition(a Acquisition) error {
	ingested, err := json.Marshal(a.Ingested)
	if err != nil {
		return fmt.Errorf("marshalling ingested names: %w", err)
	}
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = s.db.Exec(`
		INSERT INTO acquisitions (id, origin, query, question, source, num_pdfs, ingested, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Origin, a.Query, a.Question, a.Source, a.NumPDFs, string(ingested),
		created.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *Store) RecentAcquisitions(limit int) ([]Acquisition, error) {
	rows, err := s.db.Query(`
		SELECT id, origin, query, question, source, num_pdfs, ingested, created_at
		FROM acquisitions ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Acquisition
	for rows.Next() {
		var a Acquisition
		var ingested, createdAt string
		if err := rows.Scan(&a.ID, &a.Origin, &a.Query, &a.Question, &a.Source, &a.NumPDFs, &ingested, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(ingested), &a.Ingested); err != nil {
			return nil, fmt.Errorf("parsing ingested names: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		a.CreatedAt = t
		results = append(results, a)
	}
	return results, rows.Err()
}
