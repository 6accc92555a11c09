package flow

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kalambet/pdfqa/internal/backend"
	"github.com/kalambet/pdfqa/internal/inventory"
	"github.com/kalambet/pdfqa/internal/session"
)

// fakeBackend scripts backend replies and records every call.
type fakeBackend struct {
	mu sync.Mutex

	answers     []backend.Answer // consumed in order; the last one repeats
	queryErr    error
	downloadErr error
	ingestErr   error
	staged      []string
	// gate, when set, blocks QueryPDF until it is closed.
	gate chan struct{}

	calls     []string
	queries   []backend.QueryRequest
	downloads []backend.DownloadRequest
	ingests   []backend.DownloadRequest
	kept      [][]string
}

func (f *fakeBackend) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeBackend) ClearStaging(context.Context) error {
	f.record("clear")
	return nil
}

func (f *fakeBackend) DownloadPDFs(_ context.Context, req backend.DownloadRequest) error {
	f.record("download")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads = append(f.downloads, req)
	return f.downloadErr
}

func (f *fakeBackend) ListStaged(context.Context) ([]string, error) {
	f.record("list")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.staged...), nil
}

func (f *fakeBackend) DeleteUnselected(_ context.Context, keep []string) error {
	f.record("delete_unselected")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kept = append(f.kept, keep)
	return nil
}

func (f *fakeBackend) IngestStaged(_ context.Context, req backend.DownloadRequest) error {
	f.record("ingest")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingests = append(f.ingests, req)
	return f.ingestErr
}

func (f *fakeBackend) QueryPDF(ctx context.Context, req backend.QueryRequest) (backend.Answer, error) {
	f.record("query")
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return backend.Answer{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, req)
	if f.queryErr != nil {
		return backend.Answer{}, f.queryErr
	}
	if len(f.answers) == 0 {
		return backend.Answer{Answer: "No-Response"}, nil
	}
	ans := f.answers[0]
	if len(f.answers) > 1 {
		f.answers = f.answers[1:]
	}
	return ans, nil
}

func (f *fakeBackend) ResetConversation(context.Context, string) error {
	f.record("reset")
	return nil
}

func (f *fakeBackend) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeBackend) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("id-%d", n.Add(1)) }
}

func newTestController(f *fakeBackend, opts ...Option) *Controller {
	sessions := session.NewManager(&session.MemoryStore{}, f, nil)
	base := []Option{
		WithClock(func() time.Time { return testNow }),
		WithIDs(sequentialIDs()),
	}
	return New(f, sessions, append(base, opts...)...)
}

type countingInventory struct {
	mu    sync.Mutex
	calls int
}

func (c *countingInventory) Refresh(context.Context) ([]inventory.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil, nil
}
