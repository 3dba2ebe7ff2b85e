package probe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

var ErrNotConnected = errors.New("probe relay not connected")

// HeaderProvider injects handshake headers.
type HeaderProvider func() map[string]string

// Client keeps a websocket session to the page relay and feeds envelopes to a Handler.
type Client struct {
	url     string
	handler Handler
	headers HeaderProvider
	logger  *zap.Logger

	conn  *websocket.Conn
	state State
	mu    sync.RWMutex
	wmu   sync.Mutex

	maxReconnectAttempts int
	reconnectDelay       time.Duration
	pingInterval         time.Duration
}

type Option func(*Client)

func WithHeaderProvider(h HeaderProvider) Option { return func(c *Client) { c.headers = h } }

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithReconnect limits reconnect attempts; 0 retries forever.
func WithReconnect(maxAttempts int, delay time.Duration) Option {
	return func(c *Client) {
		c.maxReconnectAttempts = maxAttempts
		if delay > 0 {
			c.reconnectDelay = delay
		}
	}
}

func WithPingInterval(d time.Duration) Option { return func(c *Client) { c.pingInterval = d } }

func NewClient(url string, handler Handler, opts ...Option) (*Client, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("probe url is required")
	}
	if handler == nil {
		return nil, errors.New("probe handler is required")
	}
	c := &Client{
		url:            url,
		handler:        handler,
		logger:         zap.NewNop(),
		state:          StateDisconnected,
		reconnectDelay: 500 * time.Millisecond,
		pingInterval:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) Connected() bool { return c.State() == StateConnected }

func (c *Client) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		c.logger.Info("probe_state", zap.String("from", string(prev)), zap.String("to", string(s)))
	}
}

// Run dials the relay and reconnects with exponential backoff until ctx ends
// or the reconnect budget is spent.
func (c *Client) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.reconnectDelay
	bo.MaxInterval = 30 * time.Second
	failures := 0
	for {
		c.setState(StateConnecting)
		conn, err := c.dial(ctx)
		if err == nil {
			bo.Reset()
			failures = 0
			err = c.session(ctx, conn)
		}
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return ctx.Err()
		}
		failures++
		c.logger.Warn("probe_disconnected", zap.Int("attempt", failures), zap.Error(err))
		if c.maxReconnectAttempts > 0 && failures > c.maxReconnectAttempts {
			c.setState(StateFailed)
			return fmt.Errorf("probe relay unreachable after %d attempts: %w", failures, err)
		}
		c.setState(StateReconnecting)
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			wait = bo.MaxInterval
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			c.setState(StateDisconnected)
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      c.buildHeaders(),
	})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(4 << 20)
	return conn, nil
}

func (c *Client) session(ctx context.Context, conn *websocket.Conn) error {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setState(StateConnected)
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "close")
	}()

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg conc.WaitGroup
	wg.Go(func() { c.pingLoop(sctx, conn, cancel) })
	err := c.readLoop(sctx, conn)
	cancel()
	wg.Wait()
	return err
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		var env Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			return err
		}
		if err := Dispatch(ctx, c.handler, env, c.logger); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("probe_dispatch_error", zap.String("type", env.Type), zap.Error(err))
		}
	}
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	if c.pingInterval <= 0 {
		return
	}
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, pcancel := context.WithTimeout(ctx, 3*time.Second)
			err := conn.Ping(pctx)
			pcancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				c.logger.Warn("probe_ping_failed", zap.Error(err))
				cancel()
				return
			}
		}
	}
}

// WriteJSON sends v to the relay. Writes are serialized.
func (c *Client) WriteJSON(ctx context.Context, v any) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return wsjson.Write(ctx, conn, v)
}

func (c *Client) buildHeaders() http.Header {
	hdr := http.Header{}
	if c.headers == nil {
		return hdr
	}
	for k, v := range c.headers() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}
