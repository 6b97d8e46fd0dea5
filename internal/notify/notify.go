// Package notify sends the welcome sequence to a newly paired contact.
package notify

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/FireKid846/whatsapp-web/internal/connector"
	"github.com/rs/zerolog"
)

// Sender delivers one message. connector.Handle satisfies it.
type Sender interface {
	Send(ctx context.Context, to string, msg connector.Message) error
}

// Config holds the welcome content and pacing.
type Config struct {
	Images       []string
	Caption      string
	FirstDelay   time.Duration
	BetweenDelay time.Duration
}

// Notifier composes and sends welcome sequences.
type Notifier struct {
	cfg  Config
	pick func(n int) int
	log  zerolog.Logger
}

// New creates a Notifier.
func New(cfg Config, logger zerolog.Logger) *Notifier {
	return &Notifier{cfg: cfg, pick: rand.IntN, log: logger}
}

// SessionText is the second message of the sequence.
func SessionText(sessionID string) string {
	return fmt.Sprintf("📋 *Session ID:* `%s`", sessionID)
}

// Welcome sends a random image with the caption, then the session identity.
// The sequence stops at the first failed send.
func (n *Notifier) Welcome(ctx context.Context, s Sender, sessionID, phone string) error {
	to := connector.ContactAddress(phone)

	if err := sleep(ctx, n.cfg.FirstDelay); err != nil {
		return err
	}
	if len(n.cfg.Images) > 0 {
		img := n.cfg.Images[n.pick(len(n.cfg.Images))]
		if err := s.Send(ctx, to, connector.ImageMessage(img, n.cfg.Caption)); err != nil {
			return fmt.Errorf("notify: send image: %w", err)
		}
		if err := sleep(ctx, n.cfg.BetweenDelay); err != nil {
			return err
		}
	} else if n.cfg.Caption != "" {
		if err := s.Send(ctx, to, connector.TextMessage(n.cfg.Caption)); err != nil {
			return fmt.Errorf("notify: send caption: %w", err)
		}
		if err := sleep(ctx, n.cfg.BetweenDelay); err != nil {
			return err
		}
	}
	if err := s.Send(ctx, to, connector.TextMessage(SessionText(sessionID))); err != nil {
		return fmt.Errorf("notify: send session id: %w", err)
	}

	n.log.Info().Str("session_id", sessionID).Str("phone", phone).Msg("welcome messages sent")
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
