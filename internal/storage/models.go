package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Message is a persisted transcript entry.
type Message struct {
	ID     string
	Sender string // "user" or "bot"
	Text   string
	// Structured is set for bot answers carrying Answer and Source.
	Structured bool
	Answer     string
	Source     string
	Model      string
	CreatedAt  time.Time
}

// Acquisition records one completed scholar ingestion.
type Acquisition struct {
	ID        string
	Origin    string // "sidebar" or "fallback"
	Query     string
	Question  string
	Source    string
	NumPDFs   int
	Ingested  []string
	CreatedAt time.Time
}
