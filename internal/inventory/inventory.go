// Package inventory caches the backend's permanent PDF inventory. The cache is
// only ever replaced wholesale: every mutation is followed by a full refetch.
package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/kalambet/pdfqa/internal/backend"
)

// DateLayout is the backend's ingestion timestamp format.
const DateLayout = "2006-01-02 15:04:05"

const entriesKey = "entries"

// Entry is a permanently ingested PDF.
type Entry struct {
	Name   string
	SizeKB float64
	Date   time.Time
	Path   string
}

// Backend is the subset of backend.Client the cache needs.
type Backend interface {
	ListPDFs(ctx context.Context) ([]backend.PDF, error)
	DeletePDF(ctx context.Context, name string) (backend.DeleteResult, error)
}

// DeleteError carries the backend's error payload for a rejected delete.
type DeleteError struct {
	Name    string
	Message string
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("deleting %s: %s", e.Name, e.Message)
}

// Cache holds the last fetched inventory for up to ttl.
type Cache struct {
	backend Backend
	store   *cache.Cache
	logger  *slog.Logger

	// refreshMu serialises fetches so concurrent refreshes do not interleave
	// stale results.
	refreshMu sync.Mutex
}

// New creates a Cache. A non-positive ttl defaults to one minute.
func New(b Backend, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		backend: b,
		store:   cache.New(ttl, 2*ttl),
		logger:  logger,
	}
}

// Refresh fetches the full inventory and replaces the cache with it.
func (c *Cache) Refresh(ctx context.Context) ([]Entry, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	pdfs, err := c.backend.ListPDFs(ctx)
	if err != nil {
		return nil, fmt.Errorf("refreshing inventory: %w", err)
	}

	entries := make([]Entry, 0, len(pdfs))
	for _, p := range pdfs {
		e := Entry{Name: p.Name, SizeKB: p.Size, Path: p.Path}
		if p.Date != "" {
			d, err := time.ParseInLocation(DateLayout, p.Date, time.Local)
			if err != nil {
				c.logger.Debug("unparseable inventory date", "name", p.Name, "date", p.Date)
			} else {
				e.Date = d
			}
		}
		entries = append(entries, e)
	}

	c.store.Set(entriesKey, entries, cache.DefaultExpiration)
	return clone(entries), nil
}

// Entries returns the cached inventory, refreshing it if it is missing or
// expired.
func (c *Cache) Entries(ctx context.Context) ([]Entry, error) {
	if entries, ok := c.Cached(); ok {
		return entries, nil
	}
	return c.Refresh(ctx)
}

// Cached returns the cached inventory without touching the network.
func (c *Cache) Cached() ([]Entry, bool) {
	x, found := c.store.Get(entriesKey)
	if !found {
		return nil, false
	}
	return clone(x.([]Entry)), true
}

// Invalidate drops the cached inventory.
func (c *Cache) Invalidate() {
	c.store.Delete(entriesKey)
}

// Delete removes name from the backend inventory. On the success sentinel the
// cache is refreshed and true is returned. An error payload is returned as a
// *DeleteError. Any other reply is logged and reported as (false, nil).
func (c *Cache) Delete(ctx context.Context, name string) (bool, error) {
	res, err := c.backend.DeletePDF(ctx, name)
	if err != nil {
		return false, fmt.Errorf("deleting %s: %w", name, err)
	}

	switch {
	case res.OK:
		if _, err := c.Refresh(ctx); err != nil {
			c.Invalidate()
			c.logger.Warn("refresh after delete failed", "name", name, "error", err)
		}
		return true, nil
	case res.Error != "":
		return false, &DeleteError{Name: name, Message: res.Error}
	default:
		c.logger.Warn("unexpected delete response", "name", name, "body", res.Raw)
		return false, nil
	}
}

// Filter returns the entries whose name contains q, ignoring case and Unicode
// normalisation differences. An empty q matches everything.
func Filter(entries []Entry, q string) []Entry {
	needle := fold(strings.TrimSpace(q))
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if needle == "" || strings.Contains(fold(e.Name), needle) {
			out = append(out, e)
		}
	}
	return out
}

func fold(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}

func clone(entries []Entry) []Entry {
	return append([]Entry(nil), entries...)
}
