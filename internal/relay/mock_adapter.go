package relay

import (
	"context"
	"fmt"
	"sync"
)

// MockAdapter implements Adapter for testing. It records posted events.
type MockAdapter struct {
	mu      sync.Mutex
	closed  bool
	posted  []Event
	postErr error
}

// NewMockAdapter creates an empty MockAdapter.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{}
}

// Post records the event.
func (m *MockAdapter) Post(ctx context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock adapter: closed")
	}
	if m.postErr != nil {
		return m.postErr
	}
	m.posted = append(m.posted, ev)
	return nil
}

// Close marks the adapter closed.
func (m *MockAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// --- Test helpers ---

// SetPostError makes subsequent Post calls fail with err.
func (m *MockAdapter) SetPostError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.postErr = err
}

// Posted returns a copy of all recorded events.
func (m *MockAdapter) Posted() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.posted))
	copy(out, m.posted)
	return out
}

// PostedCount returns the number of recorded events.
func (m *MockAdapter) PostedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.posted)
}

// LastPosted returns the most recent event, or false if none.
func (m *MockAdapter) LastPosted() (Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.posted) == 0 {
		return Event{}, false
	}
	return m.posted[len(m.posted)-1], true
}
