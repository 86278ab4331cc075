package firehose

import (
	"context"
	"sync"
)

// CursorStore persists the last processed sequence number across restarts.
type CursorStore interface {
	// Load returns the stored cursor; false when none was saved.
	Load(ctx context.Context) (int64, bool, error)
	Save(ctx context.Context, seq int64) error
}

// MemoryCursorStore keeps the cursor for the life of the process only. A restarted
// process starts from the live head of the stream.
type MemoryCursorStore struct {
	mu  sync.Mutex
	seq int64
	set bool
}

// NewMemoryCursorStore creates an empty store.
func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{}
}

// Load implements CursorStore.
func (m *MemoryCursorStore) Load(_ context.Context) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seq, m.set, nil
}

// Save implements CursorStore.
func (m *MemoryCursorStore) Save(_ context.Context, seq int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq, m.set = seq, true
	return nil
}
