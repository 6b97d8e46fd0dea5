package monitor

import (
	"context"
	"time"

	"github.com/FireKid846/whatsapp-web/internal/log"
	"github.com/FireKid846/whatsapp-web/internal/metrics"
	"github.com/FireKid846/whatsapp-web/internal/relay"
)

// ReapOnce force-terminates every entry idle past the staleness threshold and
// deletes its credential storage. It returns the number of entries reaped.
func (m *Monitor) ReapOnce(ctx context.Context) int {
	l := log.WithComponent("reaper")
	reaped := 0
	for _, e := range m.registry.Stale(m.opts.StaleAfter) {
		if !m.registry.Claim(e) {
			continue
		}
		idle := m.idle(e)
		m.forceTerminate(e, true)
		metrics.RecordReaped()
		reaped++
		l.Info().Str(log.FieldSessionID, e.ID).Dur("idle", idle).Msg("stale session reaped")
		relay.Publish(ctx, m.opts.Relay, relay.Reaped(e.ID, idle), l)
	}
	return reaped
}

func (m *Monitor) idle(e *Entry) time.Duration {
	m.registry.mu.Lock()
	defer m.registry.mu.Unlock()
	return m.now().Sub(e.lastActivity)
}

// forceTerminate tears down a claimed entry without consulting the store.
func (m *Monitor) forceTerminate(e *Entry, deleteCreds bool) {
	e.Handle.Detach()
	if err := e.Handle.Close(); err != nil {
		m.log.Debug().Err(err).Str(log.FieldSessionID, e.ID).Msg("close during teardown")
	}
	if deleteCreds {
		if err := m.opts.Credentials.Remove(e.ID); err != nil {
			m.log.Error().Err(err).Str(log.FieldSessionID, e.ID).Msg("remove credentials failed")
		}
	}
	m.registry.SetState(e, StateClosed)
	m.registry.Remove(e)
	m.releaseLease(e.ID)
}
