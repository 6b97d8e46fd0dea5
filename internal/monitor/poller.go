package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/FireKid846/whatsapp-web/internal/lease"
	"github.com/FireKid846/whatsapp-web/internal/log"
	"github.com/FireKid846/whatsapp-web/internal/metrics"
)

const leaseTimeout = 5 * time.Second

// PollOnce runs one poll tick: every waiting record, oldest first, is admitted
// and handed to its own controller goroutine. Successive admissions are paced.
// It returns the number of sessions handed off.
func (m *Monitor) PollOnce(ctx context.Context) int {
	l := log.WithComponent("poller")

	recs, err := m.opts.Store.ListWaiting(ctx)
	if err != nil {
		l.Error().Err(err).Msg("list waiting sessions failed; skipping tick")
		metrics.RecordPollError()
		return 0
	}
	if len(recs) > 0 {
		l.Debug().Int("waiting", len(recs)).Msg("poll found waiting sessions")
	}

	admitted := 0
	for _, rec := range recs {
		if ctx.Err() != nil {
			break
		}
		if !m.registry.TryAdmit(rec.ID) {
			metrics.RecordAdmission(metrics.AdmitDuplicate)
			continue
		}
		if !m.acquireLease(ctx, rec.ID) {
			m.registry.Release(rec.ID)
			continue
		}
		if err := m.pacer.Wait(ctx); err != nil {
			m.registry.Release(rec.ID)
			m.releaseLease(rec.ID)
			break
		}

		if !m.workers.Go(func() { m.runSession(m.sessions, rec) }) {
			m.registry.Release(rec.ID)
			m.releaseLease(rec.ID)
			break
		}
		metrics.RecordAdmission(metrics.AdmitAccepted)
		l.Info().Str(log.FieldSessionID, rec.ID).Str(log.FieldPhone, rec.PhoneNumber).Msg("session admitted")
		admitted++
	}
	return admitted
}

// acquireLease claims id across processes. A claim held elsewhere is not an
// error; the session simply belongs to another monitor.
func (m *Monitor) acquireLease(ctx context.Context, id string) bool {
	lctx, cancel := context.WithTimeout(ctx, leaseTimeout)
	defer cancel()
	err := m.opts.Lease.Acquire(lctx, id)
	switch {
	case err == nil:
		return true
	case errors.Is(err, lease.ErrHeld):
		m.log.Debug().Str(log.FieldSessionID, id).Msg("session leased by another process")
		metrics.RecordAdmission(metrics.AdmitLeaseHeld)
	default:
		m.log.Warn().Err(err).Str(log.FieldSessionID, id).Msg("lease acquire failed")
		metrics.RecordAdmission(metrics.AdmitFailed)
	}
	return false
}
