package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/FireKid846/whatsapp-web/internal/lease"
	"github.com/FireKid846/whatsapp-web/internal/log"
	"github.com/FireKid846/whatsapp-web/internal/schedule"
)

// StatusOnce logs the heartbeat line and refreshes the lease of every live
// entry. An entry whose lease was lost is left alone; the reaper or its own
// close event ends it.
func (m *Monitor) StatusOnce(ctx context.Context) {
	m.status(ctx, nil)
}

// status is StatusOnce with the running scheduler, whose next poll time is
// added to the line.
func (m *Monitor) status(ctx context.Context, sched *schedule.Scheduler) {
	st := m.Stats()
	l := log.WithComponent("monitor")
	ev := l.Info().
		Int("active", st.Active).
		Int("admitting", st.Pending).
		Dur("uptime", st.Uptime.Round(time.Second))
	if sched != nil {
		if next := sched.Next("poll"); !next.IsZero() {
			ev = ev.Time("next_poll", next)
		}
	}
	ev.Msg("status")

	for _, info := range m.registry.Snapshot() {
		lctx, cancel := context.WithTimeout(ctx, leaseTimeout)
		err := m.opts.Lease.Refresh(lctx, info.ID)
		cancel()
		switch {
		case err == nil:
		case errors.Is(err, lease.ErrNotHeld):
			m.log.Warn().Str(log.FieldSessionID, info.ID).Msg("lease lost")
		default:
			m.log.Warn().Err(err).Str(log.FieldSessionID, info.ID).Msg("lease refresh failed")
		}
	}
}
