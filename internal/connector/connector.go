// Package connector defines the contract between the session monitor and the
// transport that produces live, event-emitting connections.
package connector

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Close codes with a fixed meaning for the monitor.
const (
	// CodeLoggedOut means the device was unlinked; credentials are dead.
	CodeLoggedOut = 401
	// CodeRestartRequired means the transport wants a fresh connection with
	// the same credentials.
	CodeRestartRequired = 515
)

// ErrClosed is returned by Send on a handle that has been closed.
var ErrClosed = errors.New("connector: handle closed")

// EventKind identifies a connection lifecycle event.
type EventKind int

const (
	// CredentialsUpdated reports that credential files were persisted.
	CredentialsUpdated EventKind = iota + 1
	// ConnectionOpen reports that the transport connection is established.
	ConnectionOpen
	// ConnectionClose reports that the transport connection ended. Code carries
	// the close reason.
	ConnectionClose
	// Heartbeat reports that the transport answered a keepalive. It carries no
	// state change.
	Heartbeat
)

func (k EventKind) String() string {
	switch k {
	case CredentialsUpdated:
		return "credentials_updated"
	case ConnectionOpen:
		return "connection_open"
	case ConnectionClose:
		return "connection_close"
	case Heartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

// Event is one asynchronous lifecycle notification from a Handle.
type Event struct {
	Kind EventKind
	Code int
	At   time.Time
}

// Version is a three-part protocol version.
type Version [3]int

// ParseVersion parses "2.3000.1015901307".
func ParseVersion(s string) (Version, error) {
	var v Version
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return v, fmt.Errorf("connector: invalid version %q", s)
	}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return v, fmt.Errorf("connector: invalid version %q", s)
		}
		v[i] = n
	}
	return v, nil
}

// IsZero reports whether the version is unset.
func (v Version) IsZero() bool { return v == Version{} }

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v[0], v[1], v[2])
}

// Options configure a new connection.
type Options struct {
	Version         Version
	ConnectTimeout  time.Duration
	KeepAlive       time.Duration
	SyncFullHistory bool
	MarkOnline      bool
	Browser         []string
}

// Message is an outbound chat message: either an image with a caption or text.
type Message struct {
	ImageURL string
	Caption  string
	Text     string
}

// ImageMessage builds an image+caption message.
func ImageMessage(url, caption string) Message {
	return Message{ImageURL: url, Caption: caption}
}

// TextMessage builds a plain text message.
func TextMessage(text string) Message {
	return Message{Text: text}
}

// Handle is a live connection owned by exactly one registry entry.
type Handle interface {
	// Events delivers lifecycle events. The channel is closed once the handle
	// is closed or detached and no further events will arrive.
	Events() <-chan Event
	// Send delivers a message to the target contact address.
	Send(ctx context.Context, to string, msg Message) error
	// Detach stops event delivery without closing the transport.
	Detach()
	// Close ends the connection. It is safe to call more than once.
	Close() error
}

// Connector produces Handles.
type Connector interface {
	// Open starts connecting session id using credentials stored in credPath.
	// The returned handle emits events asynchronously.
	Open(ctx context.Context, id, credPath string, opts Options) (Handle, error)
}

// ContactAddress converts a phone number into the transport's contact address.
func ContactAddress(phone string) string {
	phone = strings.TrimPrefix(strings.TrimSpace(phone), "+")
	return phone + "@s.whatsapp.net"
}
