package relay

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestEventColor(t *testing.T) {
	tests := []struct {
		severity string
		want     string
	}{
		{SeveritySuccess, ColorSuccess},
		{SeverityInfo, ColorInfo},
		{SeverityWarning, ColorWarning},
		{SeverityError, ColorError},
		{"", ColorInfo},
		{"bogus", ColorInfo},
	}
	for _, tt := range tests {
		if got := (Event{Severity: tt.severity}).Color(); got != tt.want {
			t.Errorf("Color(%q) = %q, want %q", tt.severity, got, tt.want)
		}
	}
}

func TestEventConstructors(t *testing.T) {
	if ev := Connected("s1", "123"); ev.Severity != SeveritySuccess || len(ev.Fields) != 2 || !strings.Contains(ev.Title, "s1") {
		t.Errorf("Connected = %+v", ev)
	}
	if ev := Archived("s1", "https://github.com/o/r/tree/main/sessions/s1"); !strings.HasPrefix(ev.Body, "https://") {
		t.Errorf("Archived = %+v", ev)
	}
	if ev := LoggedOut("s1"); ev.Severity != SeverityWarning {
		t.Errorf("LoggedOut = %+v", ev)
	}
	if ev := Reaped("s1", 301*time.Second); ev.Fields[1].Value != "5m1s" {
		t.Errorf("Reaped idle = %q", ev.Fields[1].Value)
	}
	if ev := Failed("s1", errors.New("dial failed")); ev.Body != "dial failed" || ev.Severity != SeverityError {
		t.Errorf("Failed = %+v", ev)
	}
}

func TestPublish_RecordsAndSwallowsErrors(t *testing.T) {
	m := NewMockAdapter()
	Publish(context.Background(), m, Connected("s1", "1"), zerolog.Nop())
	if m.PostedCount() != 1 {
		t.Fatalf("posted = %d, want 1", m.PostedCount())
	}

	m.SetPostError(errors.New("down"))
	Publish(context.Background(), m, LoggedOut("s1"), zerolog.Nop())
	if m.PostedCount() != 1 {
		t.Errorf("failed post should not be recorded")
	}

	// A nil adapter is a no-op.
	Publish(context.Background(), nil, LoggedOut("s1"), zerolog.Nop())
}

func TestMockAdapter_Close(t *testing.T) {
	m := NewMockAdapter()
	if _, ok := m.LastPosted(); ok {
		t.Error("LastPosted on empty adapter should be false")
	}
	m.Close()
	if err := m.Post(context.Background(), Event{}); err == nil {
		t.Error("expected error after Close")
	}
}

func TestNop(t *testing.T) {
	var a Adapter = Nop{}
	if err := a.Post(context.Background(), Event{}); err != nil {
		t.Errorf("Post: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
