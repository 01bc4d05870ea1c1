package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/rickgao/deriv-stream/internal/protocol"
)

// Client represents the WebSocket transport to the venue.
// A Client can be connected, closed and connected again; each connection
// gets its own read loop and keepalive loop.
type Client interface {
	// Connect establishes the WebSocket connection. No-op when already connected.
	Connect(ctx context.Context) error

	// Close tears down the current connection and joins its loops.
	Close() error

	// Send writes one text frame. Concurrent callers are serialized.
	Send(ctx context.Context, data []byte) error

	// Messages returns the channel of all inbound frames, in arrival order.
	// The channel outlives individual connections and is never closed.
	Messages() <-chan TimestampedMessage

	// Lost returns a channel receiving one event per unexpected disconnect.
	Lost() <-chan *LostError

	// IsConnected returns current connection state.
	IsConnected() bool
}

// link is one established connection and its background loops.
type link struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	alive  atomic.Bool
}

// client implements the Client interface.
type client struct {
	cfg     ClientConfig
	logger  *slog.Logger
	limiter *rate.Limiter
	ping    []byte

	// Output channels
	messages chan TimestampedMessage
	lost     chan *LostError

	// Write serialization
	writeMu sync.Mutex

	mu  sync.RWMutex
	cur *link
}

// NewClient creates a new WebSocket client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Inf
	if cfg.SendRate > 0 {
		limit = rate.Limit(cfg.SendRate)
	}
	burst := cfg.SendBurst
	if burst < 1 {
		burst = 1
	}

	ping, _ := protocol.Encode(protocol.PingRequest{Ping: 1})

	return &client{
		cfg:      cfg,
		logger:   logger,
		limiter:  rate.NewLimiter(limit, burst),
		ping:     ping,
		messages: make(chan TimestampedMessage, cfg.BufferSize),
		lost:     make(chan *LostError, 4),
	}
}

// Connect establishes the WebSocket connection.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cur != nil {
		if c.cur.alive.Load() {
			return nil
		}
		// Previous link died; release it before dialing again.
		c.teardown(c.cur)
		c.cur = nil
	}

	header := http.Header{}
	header.Set("Accept", "application/json")

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	linkCtx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(linkCtx)
	l := &link{
		conn:   conn,
		ctx:    linkCtx,
		cancel: cancel,
		group:  group,
	}
	l.alive.Store(true)
	c.cur = l

	group.Go(func() error { return c.readLoop(groupCtx, l) })
	group.Go(func() error { return c.keepaliveLoop(groupCtx, l) })

	c.logger.Debug("websocket connected", "url", c.cfg.URL)

	return nil
}

// Close gracefully closes the connection.
func (c *client) Close() error {
	c.mu.Lock()
	l := c.cur
	c.cur = nil
	c.mu.Unlock()

	if l == nil {
		return nil
	}
	return c.teardown(l)
}

// teardown cancels both loops, closes the socket and waits for the loops to exit.
func (c *client) teardown(l *link) error {
	l.cancel()

	c.writeMu.Lock()
	wasAlive := l.alive.Swap(false)
	if wasAlive {
		l.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
	}
	err := l.conn.Close()
	c.writeMu.Unlock()

	// The group error is the lost event already reported on Lost().
	_ = l.group.Wait()

	c.logger.Debug("websocket closed", "was_alive", wasAlive)
	if !wasAlive {
		return nil
	}
	return err
}

// Send writes raw bytes to the connection.
func (c *client) Send(ctx context.Context, data []byte) error {
	c.mu.RLock()
	l := c.cur
	c.mu.RUnlock()

	if l == nil || !l.alive.Load() {
		return ErrNotConnected
	}
	return c.send(ctx, l, data)
}

func (c *client) send(ctx context.Context, l *link, data []byte) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("send rate limit: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if l.ctx.Err() != nil || !l.alive.Load() {
		return ErrNotConnected
	}

	l.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return l.conn.WriteMessage(websocket.TextMessage, data)
}

// Messages returns the messages channel.
func (c *client) Messages() <-chan TimestampedMessage {
	return c.messages
}

// Lost returns the lost-connection channel.
func (c *client) Lost() <-chan *LostError {
	return c.lost
}

// IsConnected returns the current connection state.
func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cur != nil && c.cur.alive.Load()
}

// readLoop reads frames and forwards them, in order, to the messages channel.
func (c *client) readLoop(ctx context.Context, l *link) error {
	for {
		_, data, err := l.conn.ReadMessage()
		receivedAt := time.Now() // Capture timestamp immediately

		if err != nil {
			// Ignore errors after Close() is called
			if ctx.Err() != nil {
				return nil
			}

			l.alive.Store(false)
			lost := &LostError{
				Reason: describeReadError(err),
				At:     receivedAt,
				Err:    err,
			}
			c.logger.Warn("websocket connection lost", "reason", lost.Reason)

			select {
			case c.lost <- lost:
			default:
				c.logger.Warn("lost event buffer full, dropping", "reason", lost.Reason)
			}
			return lost
		}

		select {
		case c.messages <- TimestampedMessage{Data: data, ReceivedAt: receivedAt}:
		case <-ctx.Done():
			return nil
		}
	}
}

// keepaliveLoop sends a ping frame every KeepaliveInterval while the link is up.
func (c *client) keepaliveLoop(ctx context.Context, l *link) error {
	if c.cfg.KeepaliveInterval <= 0 {
		return nil
	}

	ticker := time.NewTicker(c.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.send(ctx, l, c.ping); err != nil && ctx.Err() == nil {
				c.logger.Warn("keepalive send failed", "error", err)
			}
		}
	}
}

// describeReadError turns a read failure into a human-readable reason.
func describeReadError(err error) string {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if closeErr.Text != "" {
			return fmt.Sprintf("closed by venue (%d): %s", closeErr.Code, closeErr.Text)
		}
		return fmt.Sprintf("closed by venue (%d)", closeErr.Code)
	}
	return err.Error()
}
