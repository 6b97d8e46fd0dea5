package monitor

import (
	"context"
	"fmt"

	"github.com/FireKid846/whatsapp-web/internal/connector"
	"github.com/FireKid846/whatsapp-web/internal/log"
	"github.com/FireKid846/whatsapp-web/internal/metrics"
	"github.com/FireKid846/whatsapp-web/internal/models"
	"github.com/FireKid846/whatsapp-web/internal/relay"
	"github.com/FireKid846/whatsapp-web/internal/store"
	"github.com/rs/zerolog"
)

// runSession drives one admitted session from ADMITTED until its terminal
// transition. It runs on its own goroutine and is the only consumer of the
// handle's events.
func (m *Monitor) runSession(ctx context.Context, rec models.Session) {
	l := log.WithSession("controller", rec.ID)
	l.Debug().Str(log.FieldNewState, StateAdmitted.String()).Msg("session admitted")
	metrics.RecordTransition(StateAdmitted.String())

	resumed := m.opts.Credentials.Exists(rec.ID)
	credPath, err := m.opts.Credentials.Ensure(rec.ID)
	if err != nil {
		m.setupFailed(ctx, l, rec.ID, err)
		return
	}

	metrics.RecordTransition(StateConnecting.String())
	h, err := m.opts.Connector.Open(ctx, rec.ID, credPath, m.opts.Connect)
	if err != nil {
		m.setupFailed(ctx, l, rec.ID, err)
		return
	}

	e := &Entry{ID: rec.ID, Phone: rec.PhoneNumber, CredPath: credPath, Handle: h}
	if err := m.registry.Register(e); err != nil {
		// Only reachable when shutdown won the race with a slow connect.
		l.Info().Err(err).Msg("connection opened after shutdown; closing")
		h.Close()
		m.releaseLease(rec.ID)
		return
	}
	l.Info().Str(log.FieldPath, credPath).Bool("resumed", resumed).Msg("connecting")

	m.consume(ctx, l, e)
}

// setupFailed handles errors before a registry entry exists. The record
// stays waiting so a later poll retries it.
func (m *Monitor) setupFailed(ctx context.Context, l zerolog.Logger, id string, err error) {
	l.Error().Err(err).Msg("session setup failed")
	metrics.RecordClose(metrics.CloseError)
	if logErr := m.opts.Store.AppendLog(ctx, id, models.LogError, "Monitor error: "+err.Error()); logErr != nil {
		l.Warn().Err(logErr).Msg("append event log failed")
	}
	m.registry.Release(id)
	m.releaseLease(id)
	relay.Publish(ctx, m.opts.Relay, relay.Failed(id, err), l)
}

// consume is the per-connection state machine.
func (m *Monitor) consume(ctx context.Context, l zerolog.Logger, e *Entry) {
	for ev := range e.Handle.Events() {
		if !m.registry.Holds(e) {
			// Reaped or shut down; anything still buffered is stale.
			continue
		}
		m.registry.Touch(e)

		switch ev.Kind {
		case connector.Heartbeat:
			// Liveness only; Touch above is the whole effect.
		case connector.CredentialsUpdated:
			l.Debug().Str(log.FieldEvent, ev.Kind.String()).Msg("credentials persisted")
		case connector.ConnectionOpen:
			m.onOpen(ctx, l, e)
		case connector.ConnectionClose:
			m.onClose(ctx, l, e, ev.Code)
			return
		}
	}

	// The event stream ended without a close event and nobody else
	// terminated the entry.
	if m.registry.Claim(e) {
		l.Warn().Msg("event stream ended without close")
		m.finish(e, StateClosed)
	}
}

// onOpen runs the success pipeline once per entry.
func (m *Monitor) onOpen(ctx context.Context, l zerolog.Logger, e *Entry) {
	if e.opened {
		l.Debug().Msg("duplicate open event ignored")
		return
	}
	e.opened = true
	m.registry.SetState(e, StateOpen)
	l.Info().Str(log.FieldNewState, StateOpen.String()).Msg("connection open")

	m.runPipeline(ctx, l, e)
}

// onClose applies the close policy for code. Exactly one terminal transition
// is honored per entry.
func (m *Monitor) onClose(ctx context.Context, l zerolog.Logger, e *Entry, code int) {
	if !m.registry.Claim(e) {
		return
	}
	l = l.With().Int(log.FieldCode, code).Logger()

	switch code {
	case connector.CodeRestartRequired:
		metrics.RecordClose(metrics.CloseRestart)
		l.Info().Msg("restart required; credentials kept for retry")
		m.finish(e, StateRetryPending)

	case connector.CodeLoggedOut:
		metrics.RecordClose(metrics.CloseLoggedOut)
		l.Warn().Msg("logged out")
		if err := m.opts.Store.UpdateStatus(ctx, e.ID, store.Disconnected()); err != nil {
			l.Error().Err(err).Msg("mark disconnected failed")
		}
		if m.opts.PurgeOnLogout {
			if err := m.opts.Credentials.Remove(e.ID); err != nil {
				l.Error().Err(err).Msg("purge credentials failed")
			}
		}
		m.finish(e, StateClosed)
		relay.Publish(ctx, m.opts.Relay, relay.LoggedOut(e.ID), l)

	default:
		// Unclassified closes leave the record as it is.
		metrics.RecordClose(metrics.CloseUnexpected)
		l.Warn().Msg("connection closed unexpectedly")
		msg := fmt.Sprintf("Connection closed unexpectedly (code %d)", code)
		if err := m.opts.Store.AppendLog(ctx, e.ID, models.LogWarn, msg); err != nil {
			l.Warn().Err(err).Msg("append event log failed")
		}
		m.finish(e, StateClosed)
	}
}

// finish releases a claimed entry: its handle, its identity and its lease.
// Credential storage is left in place.
func (m *Monitor) finish(e *Entry, final State) {
	m.registry.SetState(e, final)
	e.Handle.Close()
	m.registry.Remove(e)
	m.releaseLease(e.ID)
}

func (m *Monitor) releaseLease(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), leaseTimeout)
	defer cancel()
	if err := m.opts.Lease.Release(ctx, id); err != nil {
		m.log.Warn().Err(err).Str(log.FieldSessionID, id).Msg("lease release failed")
	}
}
