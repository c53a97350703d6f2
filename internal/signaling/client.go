// Package signaling maintains the client's connection to the hub: one
// logical, ordered, reliable message channel per session, plus the
// routing of incoming envelopes to their consumers.
package signaling

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lowkeylabs/huddle/internal/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// Identity is what the client presents when dialing the hub. Token wins
// over the guest fields when both are set.
type Identity struct {
	Token  string
	UserID string
	Name   string
}

// Channel is the durable connection to the hub. Sends are fire-and-forget;
// the single underlying WebSocket gives FIFO ordering per sender-recipient
// pair. When the connection drops the incoming channel closes, and the
// owner reconnects and re-joins its room to resynchronize.
type Channel struct {
	hubURL   string
	identity Identity

	mu       sync.Mutex
	conn     *websocket.Conn
	incoming chan model.Envelope
	outgoing chan model.Envelope
	done     chan struct{}
}

// NewChannel prepares a channel for the given hub URL. Nothing is dialed
// until Connect.
func NewChannel(hubURL string, identity Identity) *Channel {
	return &Channel{hubURL: hubURL, identity: identity}
}

// Connect dials the hub and starts the read and write pumps. It may be
// called again after a disconnect to establish a fresh connection.
func (c *Channel) Connect(ctx context.Context) error {
	u, err := url.Parse(c.hubURL)
	if err != nil {
		return fmt.Errorf("invalid hub URL: %w", err)
	}
	q := u.Query()
	var header map[string][]string
	if c.identity.Token != "" {
		header = map[string][]string{"Authorization": {"Bearer " + c.identity.Token}}
	} else {
		if c.identity.UserID != "" {
			q.Set("user", c.identity.UserID)
		}
		if c.identity.Name != "" {
			q.Set("name", c.identity.Name)
		}
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return fmt.Errorf("failed to connect to hub: %w", err)
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	c.mu.Lock()
	c.conn = conn
	c.incoming = make(chan model.Envelope, sendBuffer)
	c.outgoing = make(chan model.Envelope, sendBuffer)
	c.done = make(chan struct{})
	incoming, outgoing, done := c.incoming, c.outgoing, c.done
	c.mu.Unlock()

	go c.readPump(conn, incoming)
	go c.writePump(conn, outgoing, done)
	return nil
}

// Reconnect tears down any current connection and dials again. The caller
// re-issues room:join afterwards rather than assuming queued state
// survived.
func (c *Channel) Reconnect(ctx context.Context) error {
	c.Close()
	return c.Connect(ctx)
}

// Send queues an envelope. It never blocks and never reports delivery:
// already-sent messages are not errored on disconnect, and a full queue
// drops the envelope with a log line.
func (c *Channel) Send(env model.Envelope) {
	c.mu.Lock()
	outgoing, done := c.outgoing, c.done
	c.mu.Unlock()
	if outgoing == nil {
		slog.Warn("send before connect, dropping", "type", env.Type)
		return
	}
	select {
	case <-done:
		slog.Debug("send after close, dropping", "type", env.Type)
	case outgoing <- env:
	default:
		slog.Warn("send queue full, dropping", "type", env.Type)
	}
}

// Incoming returns the channel of envelopes for the current connection.
// It closes when the connection drops.
func (c *Channel) Incoming() <-chan model.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.incoming
}

// Close shuts the current connection down. Safe to call more than once,
// including concurrently: the first caller takes ownership of done under
// the mutex, so it is closed exactly once per connection.
func (c *Channel) Close() {
	c.mu.Lock()
	done, conn := c.done, c.conn
	c.done = nil
	c.conn = nil
	c.outgoing = nil
	c.mu.Unlock()

	if done != nil {
		close(done)
	}
	if conn != nil {
		conn.Close()
	}
}

func (c *Channel) readPump(conn *websocket.Conn, incoming chan<- model.Envelope) {
	defer func() {
		conn.Close()
		close(incoming)
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		var env model.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		incoming <- env
	}
}

func (c *Channel) writePump(conn *websocket.Conn, outgoing <-chan model.Envelope, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case env := <-outgoing:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
