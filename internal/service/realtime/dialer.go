package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/jobchat/internal/service/session"
	"github.com/zhouzirui/jobchat/pkg/logging"
)

// Options configures the live-channel dialer.
type Options struct {
	BaseURL          string        // ws:// or wss:// origin of the chat server
	HandshakeTimeout time.Duration // bound for the upgrade handshake
	PingInterval     time.Duration // keepalive period, must be below PongWait
	PongWait         time.Duration // read deadline extended on every pong/frame
	WriteWait        time.Duration // per-write deadline
	// MaxMessageSize caps one inbound frame in bytes. A larger frame cannot
	// be skipped: the read fails with websocket.ErrReadLimit and the
	// connection ends.
	MaxMessageSize   int64
	Logger           *zerolog.Logger
}

// DefaultOptions returns keepalive settings for baseURL.
func DefaultOptions(baseURL string) Options {
	return Options{
		BaseURL:          baseURL,
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     54 * time.Second,
		PongWait:         60 * time.Second,
		WriteWait:        10 * time.Second,
		MaxMessageSize:   1 << 20,
	}
}

// Dialer opens chat and notification sockets.
type Dialer struct {
	base   *url.URL
	opts   Options
	ws     *websocket.Dialer
	logger zerolog.Logger
}

// NewDialer validates opts and builds a Dialer.
func NewDialer(opts Options) (*Dialer, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse websocket url: %w", err)
	}
	switch base.Scheme {
	case "ws", "wss":
	case "http":
		base.Scheme = "ws"
	case "https":
		base.Scheme = "wss"
	default:
		return nil, fmt.Errorf("websocket url %q needs a ws or wss scheme", opts.BaseURL)
	}

	defaults := DefaultOptions(opts.BaseURL)
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if opts.PongWait <= 0 {
		opts.PongWait = defaults.PongWait
	}
	if opts.PingInterval <= 0 || opts.PingInterval >= opts.PongWait {
		opts.PingInterval = opts.PongWait * 9 / 10
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaults.WriteWait
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaults.MaxMessageSize
	}

	logger := logging.L()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Dialer{
		base: base,
		opts: opts,
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		logger: logging.Component(logger, "realtime"),
	}, nil
}

// ChatURL builds the per-job socket address. The token travels as a query
// parameter because the socket is opened before any header-bearing request.
func (d *Dialer) ChatURL(jobID, token string) string {
	return d.endpoint("/ws/chat/"+url.PathEscape(jobID)+"/", token)
}

func (d *Dialer) endpoint(path, token string) string {
	u := *d.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	q := url.Values{}
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Dial opens the chat socket for jobID.
func (d *Dialer) Dial(ctx context.Context, jobID, token string) (session.Conn, error) {
	conn, err := d.dial(ctx, d.ChatURL(jobID, token))
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// DialPath opens an arbitrary socket path on the same server.
func (d *Dialer) DialPath(ctx context.Context, path, token string) (session.Conn, error) {
	conn, err := d.dial(ctx, d.endpoint(path, token))
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (d *Dialer) dial(ctx context.Context, target string) (*Conn, error) {
	ws, resp, err := d.ws.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, &HandshakeError{Status: resp.StatusCode, Err: err}
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	d.logger.Debug().Str("remote", ws.RemoteAddr().String()).Msg("websocket connected")
	return newConn(ws, d.opts, d.logger), nil
}

// HandshakeError reports an upgrade the server answered with a non-101 status.
type HandshakeError struct {
	Status int
	Err    error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("websocket dial failed with status %d: %v", e.Status, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// Conn is a live socket safe for one reader and many writers.
type Conn struct {
	ws     *websocket.Conn
	opts   Options
	logger zerolog.Logger

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newConn(ws *websocket.Conn, opts Options, logger zerolog.Logger) *Conn {
	c := &Conn{
		ws:     ws,
		opts:   opts,
		logger: logger,
		done:   make(chan struct{}),
	}

	ws.SetReadLimit(opts.MaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(opts.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(opts.PongWait))
	})

	go c.pingLoop()
	return c
}

// Read blocks for the next text or binary frame.
func (c *Conn) Read() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		if errors.Is(err, websocket.ErrReadLimit) {
			c.logger.Warn().Int64("limit", c.opts.MaxMessageSize).Msg("inbound frame exceeds size limit")
			return nil, err
		}
		if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !c.closed() {
			c.logger.Debug().Err(err).Msg("websocket read error")
		}
		return nil, err
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	return data, nil
}

// WriteJSON encodes v as one text frame.
func (c *Conn) WriteJSON(v any) error {
	if c.closed() {
		return websocket.ErrCloseSent
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	return c.ws.WriteJSON(v)
}

// Close sends a close frame and releases the socket. Repeated calls return
// the first result.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		deadline := time.Now().Add(c.opts.WriteWait)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.writeMu.Unlock()
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func (c *Conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

// IsRetryable reports whether err looks like a transient network drop rather
// than a deliberate close or rejected handshake. Server errors and rate
// limiting during the handshake count as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var he *HandshakeError
	if errors.As(err, &he) {
		return he.Status >= http.StatusInternalServerError || he.Status == http.StatusTooManyRequests
	}
	if errors.Is(err, websocket.ErrBadHandshake) {
		return false
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.ClosePolicyViolation) {
		return false
	}
	return true
}
