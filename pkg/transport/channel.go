// Package transport implements the persistent bidirectional channel between
// the operator client and the session coordinator. The channel reconnects
// indefinitely after an unexpected close: live sessions depend on it, so
// availability wins over backoff. Readiness is distinct from "connect was
// called" and senders are expected to wait for it before transmitting.
package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/config"
	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/metrics"
	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/protocol"
)

var (
	// ErrReadyTimeout means the channel did not become fully open within the
	// bounded wait.
	ErrReadyTimeout = errors.New("transport channel not ready within timeout")

	// ErrNotConnected means a send was attempted while the channel was down.
	// The message is dropped, never queued.
	ErrNotConnected = errors.New("transport channel not connected")

	// ErrChannelClosed means the channel was closed deliberately.
	ErrChannelClosed = errors.New("transport channel closed")
)

// Handler processes one inbound message payload.
type Handler func(env *protocol.Envelope)

// Channel is a reconnecting WebSocket message channel. All exported methods
// are safe for concurrent use.
type Channel struct {
	url    string
	logger *logrus.Logger
	dialer *websocket.Dialer

	reconnectDelay time.Duration
	readyTimeout   time.Duration

	mu         sync.Mutex
	conn       *websocket.Conn
	ready      chan struct{} // closed while a connection is open; replaced on loss
	closed     bool
	dialing    bool
	redialWait bool
	handlers   map[protocol.Type]Handler
	onClose    func(error)
	onError    func(error)

	writeMu sync.Mutex
}

// NewChannel creates an unconnected channel for the given coordinator URL.
func NewChannel(url string, cfg config.TransportConfig, logger *logrus.Logger) *Channel {
	return &Channel{
		url:            url,
		logger:         logger,
		dialer:         websocket.DefaultDialer,
		reconnectDelay: cfg.ReconnectDelay,
		readyTimeout:   cfg.ReadyTimeout,
		ready:          make(chan struct{}),
		handlers:       make(map[protocol.Type]Handler),
	}
}

// Handle registers the handler for one message type. Messages with no
// registered handler are logged and ignored.
func (c *Channel) Handle(t protocol.Type, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[t] = h
}

// OnClose registers a callback invoked when the connection drops unexpectedly.
func (c *Channel) OnClose(f func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = f
}

// OnError registers a callback for dial and read failures.
func (c *Channel) OnError(f func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = f
}

// Connect starts connecting in the background. It returns immediately; use
// WaitReady to block until the channel is fully open.
func (c *Channel) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	if c.conn != nil || c.dialing || c.redialWait {
		return nil
	}
	c.dialing = true
	go c.dial()
	return nil
}

func (c *Channel) dial() {
	conn, _, err := c.dialer.Dial(c.url, nil)

	c.mu.Lock()
	c.dialing = false
	if c.closed {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		c.logger.WithError(err).WithField("url", c.url).Warn("Failed to connect transport channel")
		onError := c.onError
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		if onError != nil {
			onError(err)
		}
		return
	}

	c.conn = conn
	close(c.ready)
	c.mu.Unlock()

	c.logger.WithField("url", c.url).Info("Transport channel connected")
	go c.readLoop(conn)
}

// scheduleReconnectLocked arms exactly one redial after the fixed delay.
// Caller must hold c.mu.
func (c *Channel) scheduleReconnectLocked() {
	if c.closed || c.redialWait || c.dialing || c.conn != nil {
		return
	}
	c.redialWait = true
	metrics.IncCounter(metrics.TransportReconnects)
	time.AfterFunc(c.reconnectDelay, func() {
		c.mu.Lock()
		c.redialWait = false
		if c.closed || c.conn != nil || c.dialing {
			c.mu.Unlock()
			return
		}
		c.dialing = true
		c.mu.Unlock()
		c.dial()
	})
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}

		env, err := protocol.Decode(data)
		if err != nil {
			c.logger.WithError(err).Warn("Discarding malformed frame")
			continue
		}

		c.mu.Lock()
		handler, ok := c.handlers[env.Type]
		c.mu.Unlock()

		if !ok {
			// Forward compatibility: unknown tags are not fatal.
			c.logger.WithField("type", string(env.Type)).Debug("Ignoring unrecognized message type")
			continue
		}
		handler(env)
	}
}

func (c *Channel) handleDisconnect(conn *websocket.Conn, err error) {
	conn.Close()

	c.mu.Lock()
	if c.conn != conn {
		// A newer connection already replaced this one.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.ready = make(chan struct{})
	onClose := c.onClose
	closed := c.closed
	if !closed {
		c.scheduleReconnectLocked()
	}
	c.mu.Unlock()

	if closed {
		return
	}

	c.logger.WithError(err).Warn("Transport channel lost, reconnecting after delay")
	if onClose != nil {
		onClose(err)
	}
}

// WaitReady blocks until the channel is fully open, the bounded wait expires,
// or the context is canceled.
func (c *Channel) WaitReady(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	ready := c.ready
	c.mu.Unlock()

	timer := time.NewTimer(c.readyTimeout)
	defer timer.Stop()

	select {
	case <-ready:
		return nil
	case <-timer.C:
		return ErrReadyTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsOpen reports whether a live connection is currently established.
func (c *Channel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send marshals and transmits one message. If the channel is down the message
// is dropped with a warning; live data that cannot be delivered now is stale
// by the time the channel returns.
func (c *Channel) Send(t protocol.Type, payload interface{}) error {
	data, err := protocol.Encode(t, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		metrics.IncCounter(metrics.TransportDropped)
		c.logger.WithField("type", string(t)).Warn("Dropping message, channel not connected")
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	return nil
}

// Close shuts the channel down permanently and stops any pending reconnect.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	return nil
}
