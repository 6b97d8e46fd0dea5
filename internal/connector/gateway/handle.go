package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/FireKid846/whatsapp-web/internal/connector"
	"github.com/FireKid846/whatsapp-web/internal/credstore"
	"github.com/eapache/queue"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// handle is one gateway websocket. The read loop never blocks on the
// consumer: events go into an unbounded queue and a pump goroutine feeds the
// Events channel.
type handle struct {
	conn      *websocket.Conn
	credPath  string
	keepAlive time.Duration
	ackWait   time.Duration
	log       zerolog.Logger

	writeMu sync.Mutex

	mu        sync.Mutex
	pending   *queue.Queue
	acks      map[uint64]chan error
	nextRef   uint64
	closeSeen bool
	closed    bool

	// lost is closed once the read loop ends; no ack can arrive after that.
	lost     chan struct{}
	lostOnce sync.Once

	// beat is when the last heartbeat event was queued.
	beat time.Time

	signal   chan struct{}
	events   chan connector.Event
	done     chan struct{}
	doneOnce sync.Once
}

func newHandle(conn *websocket.Conn, credPath string, keepAlive, ackWait time.Duration, logger zerolog.Logger) *handle {
	return &handle{
		conn:      conn,
		credPath:  credPath,
		keepAlive: keepAlive,
		ackWait:   ackWait,
		log:       logger,
		pending:   queue.New(),
		acks:      make(map[uint64]chan error),
		signal:    make(chan struct{}, 1),
		events:    make(chan connector.Event),
		done:      make(chan struct{}),
		lost:      make(chan struct{}),
	}
}

func (h *handle) start() {
	if h.keepAlive > 0 {
		h.extendReadDeadline()
		h.conn.SetPongHandler(func(string) error {
			h.extendReadDeadline()
			h.heartbeat()
			return nil
		})
		go h.pingLoop()
	}
	go h.readLoop()
	go h.pump()
}

// extendReadDeadline gives the peer three keepalive periods to show life.
func (h *handle) extendReadDeadline() {
	h.conn.SetReadDeadline(time.Now().Add(3 * h.keepAlive))
}

// Events implements connector.Handle.
func (h *handle) Events() <-chan connector.Event { return h.events }

// Send implements connector.Handle. It waits for the gateway's ack, for at
// most ackWait, and fails as soon as the connection is lost.
func (h *handle) Send(ctx context.Context, to string, msg connector.Message) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return connector.ErrClosed
	}
	h.nextRef++
	ref := h.nextRef
	ack := make(chan error, 1)
	h.acks[ref] = ack
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.acks, ref)
		h.mu.Unlock()
	}()

	if err := h.write(frame{Type: frameSend, Ref: ref, To: to, Message: toWire(msg)}); err != nil {
		return fmt.Errorf("gateway: send: %w", err)
	}

	var timeout <-chan time.Time
	if h.ackWait > 0 {
		t := time.NewTimer(h.ackWait)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return connector.ErrClosed
	case <-h.lost:
		return fmt.Errorf("gateway: send: connection lost: %w", connector.ErrClosed)
	case <-timeout:
		return fmt.Errorf("gateway: send: no ack within %s", h.ackWait)
	}
}

// Detach implements connector.Handle.
func (h *handle) Detach() {
	h.finish()
}

// Close implements connector.Handle.
func (h *handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	h.finish()

	h.writeMu.Lock()
	_ = h.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	h.writeMu.Unlock()
	return h.conn.Close()
}

func (h *handle) finish() {
	h.doneOnce.Do(func() { close(h.done) })
}

func (h *handle) write(f frame) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	h.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return h.conn.WriteJSON(f)
}

func (h *handle) enqueue(ev connector.Event) {
	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		return
	default:
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	h.pending.Add(ev)
	h.mu.Unlock()

	select {
	case h.signal <- struct{}{}:
	default:
	}
}

// pump moves queued events to the consumer until the handle is finished.
func (h *handle) pump() {
	defer close(h.events)
	for {
		h.mu.Lock()
		for h.pending.Length() > 0 {
			ev := h.pending.Remove().(connector.Event)
			h.mu.Unlock()
			select {
			case h.events <- ev:
			case <-h.done:
				return
			}
			h.mu.Lock()
		}
		h.mu.Unlock()

		select {
		case <-h.signal:
		case <-h.done:
			return
		}
	}
}

func (h *handle) readLoop() {
	for {
		_, data, err := h.conn.ReadMessage()
		if err != nil {
			h.readFailed(err)
			return
		}
		if h.keepAlive > 0 {
			h.extendReadDeadline()
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			h.log.Warn().Err(err).Msg("gateway: malformed frame ignored")
			continue
		}
		h.handleFrame(f)
	}
}

func (h *handle) handleFrame(f frame) {
	switch f.Type {
	case frameCredsUpdate:
		for name, data := range f.Files {
			if err := credstore.WriteFile(h.credPath, name, data); err != nil {
				h.log.Error().Err(err).Str("file", name).Msg("gateway: persist credentials failed")
				return
			}
		}
		h.enqueue(connector.Event{Kind: connector.CredentialsUpdated})

	case frameConnectionUpdate:
		switch f.Connection {
		case "open":
			h.enqueue(connector.Event{Kind: connector.ConnectionOpen})
		case "close":
			h.mu.Lock()
			h.closeSeen = true
			h.mu.Unlock()
			h.enqueue(connector.Event{Kind: connector.ConnectionClose, Code: f.StatusCode})
		default:
			h.log.Debug().Str("connection", f.Connection).Msg("gateway: connection update")
		}

	case frameSendAck:
		h.mu.Lock()
		ack, ok := h.acks[f.Ref]
		h.mu.Unlock()
		if !ok {
			return
		}
		if f.Error != "" {
			ack <- fmt.Errorf("gateway: send rejected: %s", f.Error)
		} else {
			ack <- nil
		}

	default:
		h.log.Debug().Str("type", f.Type).Msg("gateway: unknown frame ignored")
	}
}

// readFailed turns a transport failure into a close event unless the gateway
// already reported one or the handle was closed locally.
func (h *handle) readFailed(err error) {
	h.lostOnce.Do(func() { close(h.lost) })

	h.mu.Lock()
	closed := h.closed
	seen := h.closeSeen
	h.closeSeen = true
	h.mu.Unlock()
	if closed || seen {
		return
	}
	if !isNormalClose(err) {
		h.log.Warn().Err(err).Msg("gateway: connection lost")
	}
	h.enqueue(connector.Event{Kind: connector.ConnectionClose, Code: closeCode(err)})
}

// heartbeat queues a liveness event for a pong, at most once per keepalive
// period.
func (h *handle) heartbeat() {
	now := time.Now()
	h.mu.Lock()
	due := h.beat.IsZero() || now.Sub(h.beat) >= h.keepAlive
	if due {
		h.beat = now
	}
	h.mu.Unlock()
	if due {
		h.enqueue(connector.Event{Kind: connector.Heartbeat, At: now})
	}
}

func (h *handle) pingLoop() {
	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.writeMu.Lock()
			err := h.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			h.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
