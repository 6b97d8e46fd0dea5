// Package monitor drives waiting session records to live connections. It owns
// the admission gate and connection registry, and runs the poll loop, the
// stale-resource reaper and the shutdown coordinator around them.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/FireKid846/whatsapp-web/internal/archive"
	"github.com/FireKid846/whatsapp-web/internal/connector"
	"github.com/FireKid846/whatsapp-web/internal/credstore"
	"github.com/FireKid846/whatsapp-web/internal/lease"
	"github.com/FireKid846/whatsapp-web/internal/log"
	"github.com/FireKid846/whatsapp-web/internal/notify"
	"github.com/FireKid846/whatsapp-web/internal/relay"
	"github.com/FireKid846/whatsapp-web/internal/schedule"
	"github.com/FireKid846/whatsapp-web/internal/store"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Notifier sends the welcome sequence over an open connection.
type Notifier interface {
	Welcome(ctx context.Context, s notify.Sender, sessionID, phone string) error
}

// Opts holds parameters for creating a Monitor.
type Opts struct {
	Store       store.Store
	Connector   connector.Connector
	Credentials *credstore.Store
	Notifier    Notifier        // nil disables the welcome sequence
	Archiver    archive.Archiver // nil skips archival
	Relay       relay.Adapter    // nil disables the ops relay
	Lease       lease.Leaser     // nil means single-process
	Connect     connector.Options

	PollInterval   time.Duration
	Pacing         time.Duration
	ReapInterval   time.Duration
	StaleAfter     time.Duration
	StatusInterval time.Duration
	DrainTimeout   time.Duration
	PurgeOnLogout  bool

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Stats is a point-in-time view of the monitor for the health surface.
type Stats struct {
	Active    int
	Pending   int
	StartedAt time.Time
	Uptime    time.Duration
}

// Monitor is the session lifecycle orchestrator.
type Monitor struct {
	opts     Opts
	registry *Registry
	workers  workerGroup
	pacer    *rate.Limiter
	now      func() time.Time

	// sessions is the parent context of every controller goroutine.
	sessions context.Context
	cancel   context.CancelFunc

	started time.Time
	log     zerolog.Logger
}

// New validates opts and creates a Monitor.
func New(opts Opts) (*Monitor, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("monitor: store is required")
	}
	if opts.Connector == nil {
		return nil, fmt.Errorf("monitor: connector is required")
	}
	if opts.Credentials == nil {
		return nil, fmt.Errorf("monitor: credential store is required")
	}
	if opts.Archiver == nil {
		opts.Archiver = archive.Noop{}
	}
	if opts.Relay == nil {
		opts.Relay = relay.Nop{}
	}
	if opts.Lease == nil {
		opts.Lease = lease.Local{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.StaleAfter <= 0 {
		return nil, fmt.Errorf("monitor: stale threshold must be positive")
	}

	limit := rate.Inf
	if opts.Pacing > 0 {
		limit = rate.Every(opts.Pacing)
	}

	sessions, cancel := context.WithCancel(context.Background())
	return &Monitor{
		opts:     opts,
		registry: NewRegistry(opts.Now),
		pacer:    rate.NewLimiter(limit, 1),
		now:      opts.Now,
		sessions: sessions,
		cancel:   cancel,
		started:  opts.Now(),
		log:      log.WithComponent("monitor"),
	}, nil
}

// Stats reports registry occupancy and uptime.
func (m *Monitor) Stats() Stats {
	active, pending := m.registry.Counts()
	return Stats{
		Active:    active,
		Pending:   pending,
		StartedAt: m.started,
		Uptime:    m.now().Sub(m.started),
	}
}

// Run polls once immediately, then schedules poll, reap and status ticks
// until ctx is done. It then runs the shutdown coordinator and returns.
func (m *Monitor) Run(ctx context.Context) error {
	sched := schedule.New(log.WithComponent("scheduler"))
	jobs := []struct {
		name     string
		interval time.Duration
		fn       func()
	}{
		{"poll", m.opts.PollInterval, func() { m.PollOnce(ctx) }},
		{"reap", m.opts.ReapInterval, func() { m.ReapOnce(ctx) }},
		{"status", m.opts.StatusInterval, func() { m.status(ctx, sched) }},
	}
	for _, j := range jobs {
		if j.interval <= 0 {
			continue
		}
		if err := sched.Every(j.name, j.interval, j.fn); err != nil {
			return err
		}
	}

	m.log.Info().
		Dur("poll_interval", m.opts.PollInterval).
		Dur("reap_interval", m.opts.ReapInterval).
		Dur("stale_after", m.opts.StaleAfter).
		Msg("session monitor started")

	m.PollOnce(ctx)
	sched.Start()

	<-ctx.Done()

	drainCtx, cancel := context.WithTimeout(context.Background(), m.drainTimeout())
	defer cancel()
	return m.Shutdown(drainCtx, sched)
}

func (m *Monitor) drainTimeout() time.Duration {
	if m.opts.DrainTimeout > 0 {
		return m.opts.DrainTimeout
	}
	return 10 * time.Second
}
