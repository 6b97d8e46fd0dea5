// Package relay mirrors session lifecycle events to an ops chat channel
// (Slack, Discord). Relaying is best-effort: failures are logged, never
// propagated into session handling.
package relay

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Severity levels.
const (
	SeveritySuccess = "success"
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Color constants for event severity.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

const postTimeout = 10 * time.Second

// Adapter is implemented by each chat platform.
type Adapter interface {
	// Post delivers one event to the configured channel.
	Post(ctx context.Context, ev Event) error
	// Close releases platform resources.
	Close() error
}

// Event is a lifecycle notification formatted for chat.
type Event struct {
	Title    string
	Body     string
	Severity string
	Fields   []Field
}

// Field is a key-value pair displayed with an event.
type Field struct {
	Name  string
	Value string
	Short bool
}

// Color maps the event severity to a sidebar color.
func (e Event) Color() string {
	switch e.Severity {
	case SeveritySuccess:
		return ColorSuccess
	case SeverityWarning:
		return ColorWarning
	case SeverityError:
		return ColorError
	default:
		return ColorInfo
	}
}

// Publish posts ev with a bounded timeout and logs any failure.
func Publish(ctx context.Context, a Adapter, ev Event, logger zerolog.Logger) {
	if a == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()
	if err := a.Post(ctx, ev); err != nil {
		logger.Warn().Err(err).Str("title", ev.Title).Msg("relay post failed")
	}
}

// Nop discards every event.
type Nop struct{}

func (Nop) Post(context.Context, Event) error { return nil }
func (Nop) Close() error                      { return nil }
