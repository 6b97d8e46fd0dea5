// Package metrics exposes Prometheus metrics for the session monitor.
// Labels never carry session identities.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Admission results.
const (
	AdmitAccepted  = "accepted"
	AdmitDuplicate = "duplicate"
	AdmitLeaseHeld = "lease_held"
	AdmitFailed    = "failed"
)

// Close reasons.
const (
	CloseRestart    = "restart"
	CloseLoggedOut  = "logged_out"
	CloseUnexpected = "unexpected"
	CloseError      = "error"
)

// Pipeline step results.
const (
	StepOK      = "ok"
	StepFailed  = "failed"
	StepSkipped = "skipped"
)

var (
	// ActiveConnections is the number of registry entries.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wsm_active_connections",
		Help: "Current number of sessions with a live connection handle.",
	})

	// PendingAdmissions is the number of admitted identities without a registry entry yet.
	PendingAdmissions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wsm_pending_admissions",
		Help: "Current number of sessions admitted but not yet registered.",
	})

	admissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wsm_admissions_total",
		Help: "Admission attempts, by result.",
	}, []string{"result"})

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wsm_transitions_total",
		Help: "Session lifecycle transitions, by target state.",
	}, []string{"state"})

	closesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wsm_closes_total",
		Help: "Connection close events handled, by reason.",
	}, []string{"reason"})

	reapedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wsm_reaped_total",
		Help: "Sessions force-terminated for staleness.",
	})

	pollErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wsm_poll_errors_total",
		Help: "Poll ticks skipped because the store query failed.",
	})

	pipelineStepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wsm_pipeline_steps_total",
		Help: "Success pipeline steps, by step and result.",
	}, []string{"step", "result"})
)

// RecordAdmission counts one admission attempt.
func RecordAdmission(result string) {
	admissionsTotal.WithLabelValues(result).Inc()
}

// RecordTransition counts an entry moving into state.
func RecordTransition(state string) {
	transitionsTotal.WithLabelValues(state).Inc()
}

// RecordClose counts a handled close event.
func RecordClose(reason string) {
	closesTotal.WithLabelValues(reason).Inc()
}

// RecordReaped counts a staleness reap.
func RecordReaped() {
	reapedTotal.Inc()
}

// RecordPollError counts a skipped poll tick.
func RecordPollError() {
	pollErrorsTotal.Inc()
}

// RecordPipelineStep counts one success-pipeline step outcome.
func RecordPipelineStep(step, result string) {
	pipelineStepsTotal.WithLabelValues(step, result).Inc()
}

// SetCounts publishes registry occupancy.
func SetCounts(active, pending int) {
	ActiveConnections.Set(float64(active))
	PendingAdmissions.Set(float64(pending))
}
