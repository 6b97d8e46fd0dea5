package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/FireKid846/whatsapp-web/internal/connector"
	"github.com/FireKid846/whatsapp-web/internal/credstore"
	"github.com/FireKid846/whatsapp-web/internal/lease"
	"github.com/FireKid846/whatsapp-web/internal/models"
	"github.com/FireKid846/whatsapp-web/internal/notify"
	"github.com/FireKid846/whatsapp-web/internal/relay"
	"github.com/FireKid846/whatsapp-web/internal/store"
	"github.com/rs/zerolog"
	"go.uber.org/goleak"
)

// memStore is an in-memory store.Store.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	order    []string
	logs     []models.SessionLog
	listErr  error
}

func newMemStore(recs ...models.Session) *memStore {
	s := &memStore{sessions: make(map[string]*models.Session)}
	for _, r := range recs {
		if r.Status == "" {
			r.Status = models.StatusWaiting
		}
		s.sessions[r.ID] = &r
		s.order = append(s.order, r.ID)
	}
	return s
}

func (s *memStore) ListWaiting(ctx context.Context) ([]models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []models.Session
	for _, id := range s.order {
		if sess := s.sessions[id]; sess.Status == models.StatusWaiting {
			out = append(out, *sess)
		}
	}
	return out, nil
}

func (s *memStore) UpdateStatus(ctx context.Context, id string, f store.Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	if f.Status != "" {
		sess.Status = f.Status
	}
	if f.ConnectedAt != nil {
		sess.ConnectedAt = f.ConnectedAt
	}
	if f.LastActivity != nil {
		sess.LastActivity = f.LastActivity
	}
	if f.ArchiveURL != nil {
		sess.GithubURL = f.ArchiveURL
	}
	if f.Archived != nil {
		sess.SavedToGithub = *f.Archived
	}
	return nil
}

func (s *memStore) AppendLog(ctx context.Context, id, level, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, models.SessionLog{SessionID: id, LogLevel: level, Message: message})
	return nil
}

func (s *memStore) setListErr(err error) {
	s.mu.Lock()
	s.listErr = err
	s.mu.Unlock()
}

func (s *memStore) get(id string) models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.sessions[id]
}

func (s *memStore) hasLog(id, level, message string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.logs {
		if l.SessionID == id && l.LogLevel == level && l.Message == message {
			return true
		}
	}
	return false
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeArchiver struct {
	mu      sync.Mutex
	calls   map[string]int
	locator string
	err     error
}

func (a *fakeArchiver) Archive(ctx context.Context, id, credPath string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.calls == nil {
		a.calls = make(map[string]int)
	}
	a.calls[id]++
	if a.err != nil {
		return "", a.err
	}
	return a.locator, nil
}

func (a *fakeArchiver) count(id string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[id]
}

// fakeLeaser refuses ids listed in held and records every call.
type fakeLeaser struct {
	mu        sync.Mutex
	held      map[string]bool
	released  []string
	refreshed []string
}

func (f *fakeLeaser) Acquire(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[id] {
		return lease.ErrHeld
	}
	return nil
}

func (f *fakeLeaser) Refresh(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, id)
	return nil
}

func (f *fakeLeaser) Release(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, id)
	return nil
}

func (f *fakeLeaser) calls() (released, refreshed []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.released...), append([]string(nil), f.refreshed...)
}

const testLocator = "https://github.com/acme/creds/tree/main/sessions/s1"

type harness struct {
	m        *Monitor
	store    *memStore
	conn     *connector.MockConnector
	creds    *credstore.Store
	archiver *fakeArchiver
	relay    *relay.MockAdapter
	clock    *fakeClock
}

// newHarness builds a Monitor over fakes. Cleanup shuts it down and checks
// that no goroutine outlives it.
func newHarness(t *testing.T, tweak func(*Opts), recs ...models.Session) *harness {
	t.Helper()
	ignore := goleak.IgnoreCurrent()

	creds, err := credstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("credstore.New: %v", err)
	}
	h := &harness{
		store:    newMemStore(recs...),
		conn:     connector.NewMockConnector(),
		creds:    creds,
		archiver: &fakeArchiver{locator: testLocator},
		relay:    relay.NewMockAdapter(),
		clock:    newFakeClock(),
	}
	opts := Opts{
		Store:       h.store,
		Connector:   h.conn,
		Credentials: creds,
		Notifier: notify.New(notify.Config{
			Images:  []string{"https://img.example/welcome.png"},
			Caption: "Welcome aboard",
		}, zerolog.Nop()),
		Archiver:   h.archiver,
		Relay:      h.relay,
		StaleAfter: 5 * time.Minute,
		Now:        h.clock.Now,
	}
	if tweak != nil {
		tweak(&opts)
	}
	m, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.m = m

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.Shutdown(ctx, nil); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
		goleak.VerifyNone(t, ignore)
	})
	return h
}

func (h *harness) nextHandle(t *testing.T) *connector.MockHandle {
	t.Helper()
	select {
	case mh := <-h.conn.Opened():
		return mh
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a connection attempt")
		return nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waiting(ids ...string) []models.Session {
	out := make([]models.Session, 0, len(ids))
	for i, id := range ids {
		out = append(out, models.Session{
			ID:          id,
			PhoneNumber: "+1555000" + string(rune('0'+i)),
			CreatedAt:   time.Date(2026, 3, 1, 11, i, 0, 0, time.UTC),
		})
	}
	return out
}
