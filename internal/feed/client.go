// Package feed receives live bars over WebSocket. The client subscribes to
// a set of symbols, reconnects with exponential backoff and resubscribes
// after every reconnect.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"factor-lab/internal/domain"
	"factor-lab/internal/observability"
)

// ErrClosed is returned by operations on a closed client.
var ErrClosed = errors.New("feed client closed")

// Config configures WebSocket client behavior.
type Config struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// Buffer is the capacity of the bar channel.
	Buffer int
}

// DefaultConfig returns default WebSocket configuration.
func DefaultConfig() Config {
	return Config{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       90 * time.Second,
		WriteTimeout:      10 * time.Second,
		Buffer:            1024,
	}
}

// Client streams bars from a feed endpoint.
type Client struct {
	endpoint string
	sub      Subscription
	config   Config
	logger   *zap.Logger
	metrics  *observability.Metrics

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	bars chan *domain.Bar

	// done signals shutdown
	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
	reconnects   atomic.Int64
}

type Option func(*Client)

func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.logger = l } }

func WithMetrics(m *observability.Metrics) Option { return func(c *Client) { c.metrics = m } }

// Dial connects to endpoint, sends the subscription and starts reading.
func Dial(ctx context.Context, endpoint string, sub Subscription, config *Config, opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1
	}

	c := &Client{
		endpoint: endpoint,
		sub:      sub,
		config:   cfg,
		logger:   zap.NewNop(),
		bars:     make(chan *domain.Bar, cfg.Buffer),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

// Bars returns the channel of received bars. It is closed by Close.
func (c *Client) Bars() <-chan *domain.Bar { return c.bars }

// Reconnects returns the number of successful reconnects.
func (c *Client) Reconnects() int64 { return c.reconnects.Load() }

// connect dials and subscribes.
func (c *Client) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	req := subscribeRequest{Op: "subscribe", Symbols: c.sub.Symbols, Interval: c.sub.Interval}
	conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return fmt.Errorf("write subscribe: %w", err)
	}

	// Quiet feeds (daily bars) stay connected as long as pings are answered
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	})

	c.conn = conn
	if c.metrics != nil {
		c.metrics.FeedConnected.Set(1)
	}
	c.logger.Info("feed connected", zap.String("endpoint", c.endpoint), zap.Strings("symbols", c.sub.Symbols))
	return nil
}

// Close closes the WebSocket connection and the bar channel.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()
	close(c.bars)
	return nil
}

// readLoop reads frames and forwards decoded bars.
func (c *Client) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			// Still disconnected: schedule another attempt
			if !c.reconnecting.Swap(true) {
				c.wg.Add(1)
				go c.reconnect(reconnectDelay)
				reconnectDelay = min(reconnectDelay*2, c.config.MaxReconnectDelay)
			}
			select {
			case <-c.done:
				return
			case <-time.After(10 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.logger.Warn("feed read failed", zap.Error(err))
			c.dropConn(conn)
			continue
		}

		reconnectDelay = c.config.ReconnectDelay

		bar, err := decodeBar(data, c.sub.Interval)
		if err != nil {
			if c.metrics != nil {
				c.metrics.FeedMessagesBad.Inc()
			}
			c.logger.Warn("feed message rejected", zap.Error(err))
			continue
		}
		if bar == nil {
			continue
		}

		// Block until the consumer takes the bar; bars are never dropped
		select {
		case c.bars <- bar:
		case <-c.done:
			return
		}
	}
}

func (c *Client) dropConn(conn *websocket.Conn) {
	c.connMu.Lock()
	if c.conn == conn {
		c.conn.Close()
		c.conn = nil
		if c.metrics != nil {
			c.metrics.FeedConnected.Set(0)
		}
	}
	c.connMu.Unlock()
}

// reconnect waits delay and dials again. A failed attempt leaves the
// connection nil so readLoop schedules the next one.
func (c *Client) reconnect(delay time.Duration) {
	defer c.wg.Done()
	defer c.reconnecting.Store(false)

	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	if c.metrics != nil {
		c.metrics.FeedReconnects.Inc()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		c.logger.Warn("feed reconnect failed", zap.Duration("delay", delay), zap.Error(err))
		return
	}
	if c.closed.Load() {
		c.connMu.Lock()
		c.conn.Close()
		c.connMu.Unlock()
		return
	}
	c.reconnects.Add(1)
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *Client) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					c.logger.Debug("feed ping failed", zap.Error(err))
				}
			}
			c.connMu.Unlock()
		}
	}
}
