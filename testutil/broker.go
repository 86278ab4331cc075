package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// Published is one message captured by MockBroker.
type Published struct {
	Key  string
	Body []byte
}

// MockBroker is an in-memory broker that records publishes in order.
// It satisfies publisher.Broker and is safe for concurrent use.
type MockBroker struct {
	mu       sync.RWMutex
	messages []Published
	closed   bool

	// PublishErr, when set, is returned for every publish whose key it maps.
	PublishErr map[string]error
}

// NewMockBroker creates an empty mock broker.
func NewMockBroker() *MockBroker {
	return &MockBroker{PublishErr: make(map[string]error)}
}

// Publish records the message.
func (b *MockBroker) Publish(_ context.Context, key string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("broker is closed")
	}
	if err := b.PublishErr[key]; err != nil {
		return err
	}

	cp := make([]byte, len(body))
	copy(cp, body)
	b.messages = append(b.messages, Published{Key: key, Body: cp})
	return nil
}

// FailOn makes publishes under key fail with err.
func (b *MockBroker) FailOn(key string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.PublishErr[key] = err
}

// Close marks the broker closed.
func (b *MockBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Messages returns a copy of every captured message.
func (b *MockBroker) Messages() []Published {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Published, len(b.messages))
	copy(out, b.messages)
	return out
}

// Keys returns the routing keys in publish order.
func (b *MockBroker) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, len(b.messages))
	for i, m := range b.messages {
		keys[i] = m.Key
	}
	return keys
}

// Count returns the number of captured messages.
func (b *MockBroker) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.messages)
}

// WaitForCount waits until at least count messages were captured.
func WaitForCount(t testing.TB, b *MockBroker, count int, timeout time.Duration) []Published {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if b.Count() >= count {
			return b.Messages()
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d messages (got %d)", count, b.Count())
	return nil
}
