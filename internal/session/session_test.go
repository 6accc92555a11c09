package session

import (
	"context"
	"errors"
	"testing"

	"github.com/kalambet/pdfqa/internal/storage"
)

type mockResetter struct {
	calls []string
	err   error
}

func (m *mockResetter) ResetConversation(_ context.Context, id string) error {
	m.calls = append(m.calls, id)
	return m.err
}

func TestGetOrCreate_Lazy(t *testing.T) {
	store := &MemoryStore{}
	m := NewManager(store, &mockResetter{}, nil)

	if got := m.Current(); got != "" {
		t.Fatalf("Current() before create = %q, want empty", got)
	}

	id := m.GetOrCreate()
	if id == "" {
		t.Fatal("GetOrCreate() returned empty id")
	}
	if again := m.GetOrCreate(); again != id {
		t.Errorf("second GetOrCreate() = %q, want %q", again, id)
	}
	if persisted, _ := store.LoadSessionID(); persisted != id {
		t.Errorf("persisted id = %q, want %q", persisted, id)
	}
}

func TestGetOrCreate_ReusesPersisted(t *testing.T) {
	store := &MemoryStore{}
	store.SaveSessionID("existing")

	m := NewManager(store, &mockResetter{}, nil)
	if got := m.GetOrCreate(); got != "existing" {
		t.Errorf("GetOrCreate() = %q, want existing", got)
	}
}

func TestReset_NoSessionIsNoop(t *testing.T) {
	backend := &mockResetter{}
	m := NewManager(&MemoryStore{}, backend, nil)

	had, err := m.Reset(context.Background())
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if had {
		t.Error("Reset reported a session when none existed")
	}
	if len(backend.calls) != 0 {
		t.Errorf("backend called %d times, want 0", len(backend.calls))
	}
}

func TestReset_ClearsEvenWhenBackendFails(t *testing.T) {
	store := &MemoryStore{}
	backend := &mockResetter{err: errors.New("connection refused")}
	m := NewManager(store, backend, nil)

	id := m.GetOrCreate()
	had, err := m.Reset(context.Background())
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if !had {
		t.Error("Reset reported no session")
	}
	if len(backend.calls) != 1 || backend.calls[0] != id {
		t.Errorf("backend calls = %v, want [%s]", backend.calls, id)
	}
	if persisted, _ := store.LoadSessionID(); persisted != "" {
		t.Errorf("persisted id after reset = %q", persisted)
	}
	if next := m.GetOrCreate(); next == id {
		t.Error("GetOrCreate after reset reused the old id")
	}
}

func TestManager_WithSQLiteStore(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer store.Close()

	m := NewManager(store, &mockResetter{}, nil)
	id := m.GetOrCreate()

	m2 := NewManager(store, &mockResetter{}, nil)
	if got := m2.GetOrCreate(); got != id {
		t.Errorf("second manager got %q, want %q", got, id)
	}
}
