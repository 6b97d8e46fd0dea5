package discord

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/FireKid846/whatsapp-web/internal/relay"
	"github.com/bwmarrin/discordgo"
)

// --- Mock session ---

type mockSession struct {
	mu       sync.Mutex
	embeds   []*discordgo.MessageEmbed
	channels []string
	errs     []error // returned in order, then nil
	closed   bool
}

func (m *mockSession) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return nil, err
	}
	m.embeds = append(m.embeds, embed)
	m.channels = append(m.channels, channelID)
	return &discordgo.Message{ID: "m1", ChannelID: channelID}, nil
}

func (m *mockSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func rateLimited() error {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: 429}}
}

func newTestAdapter(t *testing.T, sess *mockSession) *Adapter {
	t.Helper()
	a, err := New(AdapterOpts{ChannelID: "ops", Session: sess})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.baseBackoff = time.Millisecond
	return a
}

func TestNew_RequiresToken(t *testing.T) {
	if _, err := New(AdapterOpts{ChannelID: "c"}); err == nil {
		t.Fatal("expected error without token")
	}
	if _, err := New(AdapterOpts{BotToken: "t"}); err == nil {
		t.Fatal("expected error without channel")
	}
}

func TestNew_RealSession(t *testing.T) {
	a, err := New(AdapterOpts{BotToken: "token", ChannelID: "c"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.sess == nil {
		t.Error("expected discordgo session")
	}
}

func TestPost_SendsEmbed(t *testing.T) {
	sess := &mockSession{}
	a := newTestAdapter(t, sess)

	if err := a.Post(context.Background(), relay.Reaped("s1", 6*time.Minute)); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if len(sess.embeds) != 1 || sess.channels[0] != "ops" {
		t.Fatalf("embeds = %d channels = %v", len(sess.embeds), sess.channels)
	}
	e := sess.embeds[0]
	if e.Title != "Session s1 reaped" {
		t.Errorf("title = %q", e.Title)
	}
	if e.Color != 0xff9800 {
		t.Errorf("color = %x, want ff9800", e.Color)
	}
	if len(e.Fields) != 2 || !e.Fields[0].Inline {
		t.Errorf("fields = %+v", e.Fields)
	}
}

func TestPost_RetriesRateLimit(t *testing.T) {
	sess := &mockSession{errs: []error{rateLimited(), rateLimited()}}
	a := newTestAdapter(t, sess)
	if err := a.Post(context.Background(), relay.LoggedOut("s1")); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if len(sess.embeds) != 1 {
		t.Errorf("embeds = %d, want 1", len(sess.embeds))
	}
}

func TestPost_NonRateLimitError(t *testing.T) {
	sess := &mockSession{errs: []error{fmt.Errorf("missing access")}}
	a := newTestAdapter(t, sess)
	if err := a.Post(context.Background(), relay.LoggedOut("s1")); err == nil {
		t.Fatal("expected error")
	}
	if len(sess.errs) != 0 {
		t.Error("error should be consumed by exactly one call")
	}
}

func TestPost_ExhaustsRetries(t *testing.T) {
	var errs []error
	for i := 0; i <= maxRetries; i++ {
		errs = append(errs, rateLimited())
	}
	sess := &mockSession{errs: errs}
	a := newTestAdapter(t, sess)
	if err := a.Post(context.Background(), relay.LoggedOut("s1")); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}

func TestClose(t *testing.T) {
	sess := &mockSession{}
	a := newTestAdapter(t, sess)
	a.Close()
	if !sess.closed {
		t.Error("session not closed")
	}
}

func TestParseHexColor(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"#36a64f", 0x36a64f},
		{"E53935", 0xe53935},
		{"", 0},
	}
	for _, tt := range tests {
		if got := parseHexColor(tt.in); got != tt.want {
			t.Errorf("parseHexColor(%q) = %x, want %x", tt.in, got, tt.want)
		}
	}
}
