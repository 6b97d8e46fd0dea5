package relay

import (
	"fmt"
	"time"
)

// Connected reports a successful pairing.
func Connected(sessionID, phone string) Event {
	return Event{
		Title:    fmt.Sprintf("Session %s connected", sessionID),
		Body:     "Pairing completed and welcome messages queued.",
		Severity: SeveritySuccess,
		Fields: []Field{
			{Name: "Session", Value: sessionID, Short: true},
			{Name: "Phone", Value: phone, Short: true},
		},
	}
}

// Archived reports where credentials were stored.
func Archived(sessionID, locator string) Event {
	return Event{
		Title:    fmt.Sprintf("Session %s archived", sessionID),
		Body:     locator,
		Severity: SeverityInfo,
		Fields:   []Field{{Name: "Session", Value: sessionID, Short: true}},
	}
}

// LoggedOut reports that the device was unlinked.
func LoggedOut(sessionID string) Event {
	return Event{
		Title:    fmt.Sprintf("Session %s logged out", sessionID),
		Body:     "Device unlinked; session marked disconnected.",
		Severity: SeverityWarning,
		Fields:   []Field{{Name: "Session", Value: sessionID, Short: true}},
	}
}

// Reaped reports a stale session that was force-terminated.
func Reaped(sessionID string, idle time.Duration) Event {
	return Event{
		Title:    fmt.Sprintf("Session %s reaped", sessionID),
		Body:     "No activity past the staleness threshold; resources released.",
		Severity: SeverityWarning,
		Fields: []Field{
			{Name: "Session", Value: sessionID, Short: true},
			{Name: "Idle", Value: idle.Round(time.Second).String(), Short: true},
		},
	}
}

// Failed reports a session that could not be set up.
func Failed(sessionID string, err error) Event {
	return Event{
		Title:    fmt.Sprintf("Session %s failed", sessionID),
		Body:     err.Error(),
		Severity: SeverityError,
		Fields:   []Field{{Name: "Session", Value: sessionID, Short: true}},
	}
}
