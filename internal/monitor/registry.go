package monitor

import (
	"errors"
	"sync"
	"time"

	"github.com/FireKid846/whatsapp-web/internal/connector"
	"github.com/FireKid846/whatsapp-web/internal/metrics"
)

var (
	// ErrNotAdmitted is returned by Register for an identity the gate does not hold.
	ErrNotAdmitted = errors.New("monitor: identity not admitted")
	// ErrAlreadyRegistered is returned by Register when the identity has an entry.
	ErrAlreadyRegistered = errors.New("monitor: identity already registered")
	// ErrClosed is returned by Register once the registry is shut down.
	ErrClosed = errors.New("monitor: registry closed")
)

// State is a session's position in the lifecycle.
type State int

const (
	StateAdmitted State = iota
	StateConnecting
	StateOpen
	StateRetryPending
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAdmitted:
		return "admitted"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateRetryPending:
		return "retry_pending"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Entry is a live connection owned by the registry. The handle and the
// credential directory belong to the entry for its whole lifetime.
type Entry struct {
	ID       string
	Phone    string
	CredPath string
	Handle   connector.Handle

	// guarded by Registry.mu
	state        State
	lastActivity time.Time
	claimed      bool

	// owned by the controller goroutine
	opened bool
}

// EntryInfo is a point-in-time copy of an entry for reporting.
type EntryInfo struct {
	ID           string
	State        State
	LastActivity time.Time
}

// Registry is the admission gate and the connection registry behind one
// mutex. An identity is in at most one of the admission set and the entry
// map; an identity in either is owned.
type Registry struct {
	mu        sync.Mutex
	admitting map[string]struct{}
	entries   map[string]*Entry
	closed    bool
	now       func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		admitting: make(map[string]struct{}),
		entries:   make(map[string]*Entry),
		now:       now,
	}
}

// TryAdmit claims id if nobody owns it. It has no side effects on failure.
func (r *Registry) TryAdmit(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	if _, ok := r.admitting[id]; ok {
		return false
	}
	if _, ok := r.entries[id]; ok {
		return false
	}
	r.admitting[id] = struct{}{}
	r.publish()
	return true
}

// Release drops every claim on id.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.admitting, id)
	if e, ok := r.entries[id]; ok {
		e.claimed = true
		delete(r.entries, id)
	}
	r.publish()
}

// Register moves an admitted identity into the registry.
func (r *Registry) Register(e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[e.ID]; ok {
		return ErrAlreadyRegistered
	}
	if _, ok := r.admitting[e.ID]; !ok {
		return ErrNotAdmitted
	}
	delete(r.admitting, e.ID)
	if r.closed {
		r.publish()
		return ErrClosed
	}
	e.state = StateConnecting
	e.lastActivity = r.now()
	r.entries[e.ID] = e
	r.publish()
	return nil
}

// Holds reports whether e is the live, unclaimed entry for its identity.
func (r *Registry) Holds(e *Entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[e.ID] == e && !e.claimed
}

// Claim grants the caller the single terminal transition for e. Only the
// first caller wins; later callers (duplicate closes, reaper, shutdown) get
// false. The identity stays owned until Remove.
func (r *Registry) Claim(e *Entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[e.ID] != e || e.claimed {
		return false
	}
	e.claimed = true
	return true
}

// Remove deletes a claimed entry and frees its identity.
func (r *Registry) Remove(e *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[e.ID] == e {
		delete(r.entries, e.ID)
	}
	delete(r.admitting, e.ID)
	r.publish()
}

// Touch refreshes the entry's last-activity time.
func (r *Registry) Touch(e *Entry) {
	r.mu.Lock()
	e.lastActivity = r.now()
	r.mu.Unlock()
}

// SetState records a lifecycle transition.
func (r *Registry) SetState(e *Entry, s State) {
	r.mu.Lock()
	e.state = s
	r.mu.Unlock()
	metrics.RecordTransition(s.String())
}

// Stale returns unclaimed entries idle for longer than threshold.
func (r *Registry) Stale(threshold time.Duration) []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var out []*Entry
	for _, e := range r.entries {
		if !e.claimed && now.Sub(e.lastActivity) > threshold {
			out = append(out, e)
		}
	}
	return out
}

// Entries returns every registered entry.
func (r *Registry) Entries() []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// Snapshot returns a copy of every entry's reporting fields.
func (r *Registry) Snapshot() []EntryInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EntryInfo, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, EntryInfo{ID: e.ID, State: e.state, LastActivity: e.lastActivity})
	}
	return out
}

// Counts returns the number of registered entries and pending admissions.
func (r *Registry) Counts() (active, pending int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries), len(r.admitting)
}

// Close stops all further admissions and registrations.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// publish exports occupancy gauges. Callers hold mu.
func (r *Registry) publish() {
	metrics.SetCounts(len(r.entries), len(r.admitting))
}
