// Package gateway implements connector.Connector against a protocol gateway
// reachable over a websocket. The gateway speaks the messaging protocol and
// relays lifecycle updates to the monitor as JSON frames.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/FireKid846/whatsapp-web/internal/connector"
	"github.com/FireKid846/whatsapp-web/internal/credstore"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Frame types exchanged with the gateway.
const (
	frameHello            = "hello"
	frameSend             = "send"
	frameSendAck          = "send.ack"
	frameCredsUpdate      = "creds.update"
	frameConnectionUpdate = "connection.update"
)

const (
	defaultConnectTimeout = 30 * time.Second
	writeTimeout          = 10 * time.Second
	ackTimeout            = 30 * time.Second
	versionTimeout        = 10 * time.Second
)

// frame is the single JSON envelope used in both directions.
type frame struct {
	Type       string            `json:"type"`
	SessionID  string            `json:"session_id,omitempty"`
	Version    []int             `json:"version,omitempty"`
	Options    *helloOptions     `json:"options,omitempty"`
	Files      map[string][]byte `json:"files,omitempty"`
	Connection string            `json:"connection,omitempty"`
	StatusCode int               `json:"status_code,omitempty"`
	Ref        uint64            `json:"ref,omitempty"`
	To         string            `json:"to,omitempty"`
	Message    *wireMessage      `json:"message,omitempty"`
	Error      string            `json:"error,omitempty"`
}

type helloOptions struct {
	ConnectTimeoutMs int64    `json:"connect_timeout_ms"`
	KeepAliveMs      int64    `json:"keepalive_interval_ms"`
	SyncFullHistory  bool     `json:"sync_full_history"`
	MarkOnline       bool     `json:"mark_online_on_connect"`
	Browser          []string `json:"browser,omitempty"`
}

type wireMessage struct {
	Image   *wireImage `json:"image,omitempty"`
	Caption string     `json:"caption,omitempty"`
	Text    string     `json:"text,omitempty"`
}

type wireImage struct {
	URL string `json:"url"`
}

// Connector dials the gateway once per session attempt.
type Connector struct {
	wsURL   *url.URL
	httpURL *url.URL
	dialer  *websocket.Dialer
	client  *http.Client
	log     zerolog.Logger

	// ackWait bounds how long Send waits for the gateway's ack.
	ackWait time.Duration

	mu      sync.Mutex
	version connector.Version
}

// New creates a Connector for a ws:// or wss:// gateway base URL.
func New(rawURL string, logger zerolog.Logger) (*Connector, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("gateway: url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("gateway: parse url: %w", err)
	}
	httpURL := *u
	switch u.Scheme {
	case "ws":
		httpURL.Scheme = "http"
	case "wss":
		httpURL.Scheme = "https"
	default:
		return nil, fmt.Errorf("gateway: unsupported scheme %q (ws, wss)", u.Scheme)
	}
	return &Connector{
		wsURL:   u,
		httpURL: &httpURL,
		dialer:  &websocket.Dialer{HandshakeTimeout: defaultConnectTimeout},
		client:  &http.Client{Timeout: versionTimeout},
		log:     logger,
		ackWait: ackTimeout,
	}, nil
}

func (c *Connector) endpoint(base *url.URL, elem string) string {
	u := *base
	u.Path = path.Join("/", u.Path, elem)
	return u.String()
}

// LatestVersion asks the gateway for the protocol version it currently
// negotiates. The result is cached for the life of the Connector.
func (c *Connector) LatestVersion(ctx context.Context) (connector.Version, error) {
	c.mu.Lock()
	cached := c.version
	c.mu.Unlock()
	if !cached.IsZero() {
		return cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(c.httpURL, "version"), nil)
	if err != nil {
		return connector.Version{}, fmt.Errorf("gateway: version request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return connector.Version{}, fmt.Errorf("gateway: fetch version: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return connector.Version{}, fmt.Errorf("gateway: fetch version: status %d", resp.StatusCode)
	}
	var body struct {
		Version []int `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return connector.Version{}, fmt.Errorf("gateway: decode version: %w", err)
	}
	if len(body.Version) != 3 {
		return connector.Version{}, fmt.Errorf("gateway: version has %d parts, want 3", len(body.Version))
	}
	v := connector.Version{body.Version[0], body.Version[1], body.Version[2]}

	c.mu.Lock()
	c.version = v
	c.mu.Unlock()
	return v, nil
}

// Open dials the gateway and announces the session with its stored credentials.
func (c *Connector) Open(ctx context.Context, id, credPath string, opts connector.Options) (connector.Handle, error) {
	version := opts.Version
	if version.IsZero() {
		v, err := c.LatestVersion(ctx)
		if err != nil {
			return nil, err
		}
		version = v
	}

	files, err := storedCredentials(credPath)
	if err != nil {
		return nil, err
	}

	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(dialCtx, c.endpoint(c.wsURL, "connect"), nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: dial %s: %w", id, err)
	}

	hello := frame{
		Type:      frameHello,
		SessionID: id,
		Version:   version[:],
		Files:     files,
		Options: &helloOptions{
			ConnectTimeoutMs: timeout.Milliseconds(),
			KeepAliveMs:      opts.KeepAlive.Milliseconds(),
			SyncFullHistory:  opts.SyncFullHistory,
			MarkOnline:       opts.MarkOnline,
			Browser:          opts.Browser,
		},
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("gateway: hello %s: %w", id, err)
	}

	h := newHandle(conn, credPath, opts.KeepAlive, c.ackWait, c.log.With().Str("session_id", id).Logger())
	h.start()
	c.log.Debug().Str("session_id", id).Str("version", version.String()).Msg("gateway connection opened")
	return h, nil
}

// storedCredentials loads existing credential files so a resumed attempt can
// reuse them. A missing directory means a fresh pairing.
func storedCredentials(credPath string) (map[string][]byte, error) {
	if credPath == "" {
		return nil, nil
	}
	files, err := credstore.ReadAll(credPath)
	if err != nil {
		if _, statErr := os.Stat(credPath); os.IsNotExist(statErr) {
			return nil, nil
		}
		return nil, fmt.Errorf("gateway: load credentials: %w", err)
	}
	return files, nil
}

func toWire(msg connector.Message) *wireMessage {
	if msg.ImageURL != "" {
		return &wireMessage{Image: &wireImage{URL: msg.ImageURL}, Caption: msg.Caption}
	}
	return &wireMessage{Text: msg.Text}
}

// closeCode maps a websocket read error onto a connection close code. The
// gateway mirrors protocol codes as 4000+code in its close frame.
func closeCode(err error) int {
	if ce, ok := err.(*websocket.CloseError); ok && ce.Code >= 4000 && ce.Code < 5000 {
		return ce.Code - 4000
	}
	return 0
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure) ||
		strings.Contains(err.Error(), "use of closed network connection")
}
