package monitor

import (
	"context"

	"github.com/FireKid846/whatsapp-web/internal/metrics"
	"github.com/FireKid846/whatsapp-web/internal/models"
	"github.com/FireKid846/whatsapp-web/internal/relay"
	"github.com/FireKid846/whatsapp-web/internal/store"
	"github.com/rs/zerolog"
)

// Pipeline step names.
const (
	stepStatus  = "status"
	stepLog     = "log"
	stepNotify  = "notify"
	stepArchive = "archive"
)

// runPipeline performs the success side effects. Every step is attempted;
// failures are logged and never change the session's state.
func (m *Monitor) runPipeline(ctx context.Context, l zerolog.Logger, e *Entry) {
	if err := m.opts.Store.UpdateStatus(ctx, e.ID, store.Connected(m.now())); err != nil {
		l.Error().Err(err).Msg("mark connected failed")
		metrics.RecordPipelineStep(stepStatus, metrics.StepFailed)
	} else {
		metrics.RecordPipelineStep(stepStatus, metrics.StepOK)
	}

	if err := m.opts.Store.AppendLog(ctx, e.ID, models.LogInfo, "Session connected successfully"); err != nil {
		l.Warn().Err(err).Msg("append event log failed")
		metrics.RecordPipelineStep(stepLog, metrics.StepFailed)
	} else {
		metrics.RecordPipelineStep(stepLog, metrics.StepOK)
	}
	relay.Publish(ctx, m.opts.Relay, relay.Connected(e.ID, e.Phone), l)

	switch {
	case m.opts.Notifier == nil:
		metrics.RecordPipelineStep(stepNotify, metrics.StepSkipped)
	default:
		if err := m.opts.Notifier.Welcome(ctx, e.Handle, e.ID, e.Phone); err != nil {
			l.Warn().Err(err).Msg("welcome messages failed")
			metrics.RecordPipelineStep(stepNotify, metrics.StepFailed)
		} else {
			metrics.RecordPipelineStep(stepNotify, metrics.StepOK)
		}
	}

	locator, err := m.opts.Archiver.Archive(ctx, e.ID, e.CredPath)
	switch {
	case err != nil:
		l.Error().Err(err).Msg("archive failed")
		metrics.RecordPipelineStep(stepArchive, metrics.StepFailed)
		if logErr := m.opts.Store.AppendLog(ctx, e.ID, models.LogWarn, "Archive error: "+err.Error()); logErr != nil {
			l.Warn().Err(logErr).Msg("append event log failed")
		}
	case locator == "":
		l.Debug().Msg("archive skipped")
		metrics.RecordPipelineStep(stepArchive, metrics.StepSkipped)
	default:
		if err := m.opts.Store.UpdateStatus(ctx, e.ID, store.Archived(locator)); err != nil {
			l.Error().Err(err).Msg("record archive locator failed")
			metrics.RecordPipelineStep(stepArchive, metrics.StepFailed)
			break
		}
		metrics.RecordPipelineStep(stepArchive, metrics.StepOK)
		relay.Publish(ctx, m.opts.Relay, relay.Archived(e.ID, locator), l)
	}

	l.Info().Msg("setup complete")
}
