// Package websocket is a push adapter over gorilla/websocket: it dials a
// server, decodes every text frame as a tick envelope, and reconnects with
// exponential backoff on disconnect, grounded on
// input/websocket.Input.clientConnectLoop's dial/read/backoff shape.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/csp/adapter"
	"github.com/c360/csp/edge"
	"github.com/c360/csp/errors"
	"github.com/c360/csp/metric"
	"github.com/c360/csp/pkg/retry"
	"github.com/c360/csp/value"
)

type tickEnvelope struct {
	Time  int64       `json:"time"`
	Value value.Value `json:"value"`
}

// unlimitedRetries stands in for "0 means unlimited" in ReconnectPolicy;
// retry.Config treats MaxAttempts<=0 as "try once", so unlimited is
// approximated as a very large, effectively unbounded attempt count.
const unlimitedRetries = 1 << 30

// ReconnectPolicy configures the client's exponential backoff, applied
// fresh (a new attempt budget) every time a previously-successful
// connection drops, mirroring input/websocket.Input's
// reconnectAttempts.Store(0) on every successful dial.
type ReconnectPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxRetries      int // 0 means unlimited
}

func (p ReconnectPolicy) retryConfig() retry.Config {
	maxAttempts := p.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = unlimitedRetries
	}
	return retry.Config{
		MaxAttempts:  maxAttempts,
		InitialDelay: p.InitialInterval,
		MaxDelay:     p.MaxInterval,
		Multiplier:   p.Multiplier,
		AddJitter:    true,
	}
}

// Config names the server URL and reconnect policy for Client.
type Config struct {
	URL       string
	Headers   map[string]string
	Reconnect ReconnectPolicy
}

// Client is a push adapter dialing a websocket server and forwarding every
// decoded tick envelope as a live tick.
type Client struct {
	cfg     Config
	metrics *metric.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	closing bool
}

// NewClient constructs a Client. metrics and logger may be nil.
func NewClient(cfg Config, metrics *metric.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, metrics: metrics, logger: logger}
}

// Start dials, reads, and reconnects until ctx is done or the reconnect
// policy's retry budget is exhausted.
func (c *Client) Start(ctx context.Context, sink adapter.Sink) error {
	dialer := &websocket.Dialer{HandshakeTimeout: 45 * time.Second}
	header := make(map[string][]string, len(c.cfg.Headers))
	for k, v := range c.cfg.Headers {
		header[k] = []string{v}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var conn *websocket.Conn
		dialErr := retry.Do(ctx, c.cfg.Reconnect.retryConfig(), func() error {
			cn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
			if err != nil {
				if c.metrics != nil {
					c.metrics.RecordAdapterReconnect(c.cfg.URL)
				}
				return err
			}
			conn = cn
			return nil
		})
		if dialErr != nil {
			return errors.WrapFatal(dialErr, "adapter/websocket", "Client.Start",
				"exhausted reconnect retries")
		}

		if c.metrics != nil {
			c.metrics.RecordAdapterConnected(c.cfg.URL, true)
		}
		c.mu.Lock()
		c.conn = conn
		closing := c.closing
		c.mu.Unlock()
		if closing {
			conn.Close()
			return nil
		}

		c.readLoop(conn, sink)

		c.mu.Lock()
		c.conn = nil
		closing = c.closing
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.RecordAdapterConnected(c.cfg.URL, false)
		}
		if closing {
			return nil
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn, sink adapter.Sink) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env tickEnvelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.logger.Warn("websocket client: undecodable frame", "error", err)
			continue
		}
		if err := sink.PushTick(edge.Time(env.Time), env.Value); err != nil {
			c.logger.Warn("websocket client: rejected tick", "error", err)
		}
	}
}

// Stop closes the active connection, if any, causing Start to return.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closing = true
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
