package connector

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockConnector implements Connector for testing. Every Open returns a new
// MockHandle that tests drive with Emit.
type MockConnector struct {
	mu      sync.Mutex
	handles []*MockHandle
	opens   map[string]int
	openErr error
	opened  chan *MockHandle
}

// NewMockConnector creates a MockConnector. Opened handles are also published
// on Opened() so tests can wait for an attempt without polling.
func NewMockConnector() *MockConnector {
	return &MockConnector{
		opens:  make(map[string]int),
		opened: make(chan *MockHandle, 100),
	}
}

// SetOpenError makes subsequent Open calls fail with err (nil clears it).
func (m *MockConnector) SetOpenError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openErr = err
}

// Open records the call and returns a fresh MockHandle.
func (m *MockConnector) Open(ctx context.Context, id, credPath string, opts Options) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens[id]++
	if m.openErr != nil {
		return nil, m.openErr
	}
	h := newMockHandle(id, credPath, opts)
	m.handles = append(m.handles, h)
	select {
	case m.opened <- h:
	default:
	}
	return h, nil
}

// Opened publishes every handle returned by Open.
func (m *MockConnector) Opened() <-chan *MockHandle { return m.opened }

// OpenCount returns how many times Open was called for id.
func (m *MockConnector) OpenCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens[id]
}

// Handles returns every handle created so far.
func (m *MockConnector) Handles() []*MockHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MockHandle, len(m.handles))
	copy(out, m.handles)
	return out
}

// SentMessage is a message recorded by MockHandle.Send.
type SentMessage struct {
	To  string
	Msg Message
}

// MockHandle implements Handle with a buffered event channel.
type MockHandle struct {
	ID       string
	CredPath string
	Opts     Options

	mu       sync.Mutex
	events   chan Event
	done     bool
	closes   int
	detaches int
	sent     []SentMessage
	sendErr  error

	// Sends block while hold is set, until the transport drops or the
	// handle finishes.
	hold     bool
	blocked  int
	lost     chan struct{}
	lostDone bool
}

func newMockHandle(id, credPath string, opts Options) *MockHandle {
	return &MockHandle{
		ID:       id,
		CredPath: credPath,
		Opts:     opts,
		events:   make(chan Event, 64),
		lost:     make(chan struct{}),
	}
}

// Events returns the event channel.
func (h *MockHandle) Events() <-chan Event { return h.events }

// Emit delivers an event as if the transport produced it. It reports false
// when the handle no longer delivers events.
func (h *MockHandle) Emit(ev Event) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return false
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	h.events <- ev
	return true
}

// EmitOpen is shorthand for Emit(ConnectionOpen).
func (h *MockHandle) EmitOpen() bool { return h.Emit(Event{Kind: ConnectionOpen}) }

// EmitClose is shorthand for Emit(ConnectionClose) with code.
func (h *MockHandle) EmitClose(code int) bool {
	return h.Emit(Event{Kind: ConnectionClose, Code: code})
}

// SetSendError makes Send fail with err (nil clears it).
func (h *MockHandle) SetSendError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sendErr = err
}

// BlockSends makes Send wait for Drop, Close or Detach instead of completing,
// like a transport that never acks.
func (h *MockHandle) BlockSends() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hold = true
}

// Drop simulates the transport going away: blocked sends fail with ErrClosed
// and a close event with code is emitted.
func (h *MockHandle) Drop(code int) bool {
	h.mu.Lock()
	h.loseTransport()
	h.mu.Unlock()
	return h.EmitClose(code)
}

// Send records the message.
func (h *MockHandle) Send(ctx context.Context, to string, msg Message) error {
	h.mu.Lock()
	if h.closes > 0 || h.lostDone {
		h.mu.Unlock()
		return ErrClosed
	}
	if h.sendErr != nil {
		h.mu.Unlock()
		return h.sendErr
	}
	if h.hold {
		h.blocked++
		lost := h.lost
		h.mu.Unlock()
		select {
		case <-lost:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	defer h.mu.Unlock()
	h.sent = append(h.sent, SentMessage{To: to, Msg: msg})
	return nil
}

// Detach stops event delivery and closes the event channel.
func (h *MockHandle) Detach() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detaches++
	h.finish()
}

// Close records the call and closes the event channel.
func (h *MockHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closes++
	h.finish()
	return nil
}

func (h *MockHandle) finish() {
	if !h.done {
		h.done = true
		close(h.events)
	}
	h.loseTransport()
}

func (h *MockHandle) loseTransport() {
	if !h.lostDone {
		h.lostDone = true
		close(h.lost)
	}
}

// --- Test helpers ---

// CloseCount returns how many times Close was called.
func (h *MockHandle) CloseCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closes
}

// Detached reports whether Detach was called.
func (h *MockHandle) Detached() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.detaches > 0
}

// Blocked returns how many sends have waited under BlockSends.
func (h *MockHandle) Blocked() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.blocked
}

// Sent returns a copy of every message sent through the handle.
func (h *MockHandle) Sent() []SentMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]SentMessage, len(h.sent))
	copy(out, h.sent)
	return out
}

func (h *MockHandle) String() string {
	return fmt.Sprintf("mock-handle(%s)", h.ID)
}
