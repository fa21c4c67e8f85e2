// Package notify keeps the per-user notification socket open and turns its
// events into toasts.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/jobchat/internal/model/chat"
	"github.com/zhouzirui/jobchat/internal/service/session"
	"github.com/zhouzirui/jobchat/pkg/logging"
)

// Path is the notification socket route.
const Path = "/ws/notifications/"

// DefaultRetryDelay is the pause between reconnect attempts.
const DefaultRetryDelay = 3 * time.Second

const previewLen = 30

var ErrTokenRequired = errors.New("notification token is required")

// PathDialer opens a socket at a server path.
type PathDialer interface {
	DialPath(ctx context.Context, path, token string) (session.Conn, error)
}

// Sink displays toasts.
type Sink interface {
	Success(msg string)
	Info(msg string)
}

// Ringer is the audible cue played for every event.
type Ringer interface {
	Ring() bool
}

// Option customises a Listener.
type Option func(*Listener)

// WithRetryDelay overrides DefaultRetryDelay.
func WithRetryDelay(d time.Duration) Option {
	return func(l *Listener) {
		if d > 0 {
			l.delay = d
		}
	}
}

// WithAlert plays r on every event.
func WithAlert(r Ringer) Option {
	return func(l *Listener) { l.alert = r }
}

// WithRetryable stops Run with the dial error once fn rejects it.
func WithRetryable(fn func(error) bool) Option {
	return func(l *Listener) { l.retryable = fn }
}

// WithLogger sets the base logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Listener) { l.logger = logging.Component(logger, "notify") }
}

// Listener reads Notification frames until its context ends.
type Listener struct {
	dialer    PathDialer
	sink      Sink
	alert     Ringer
	delay     time.Duration
	retryable func(error) bool
	logger    zerolog.Logger
	connected atomic.Bool
}

// NewListener builds a Listener. It does not connect until Run.
func NewListener(dialer PathDialer, sink Sink, opts ...Option) *Listener {
	l := &Listener{
		dialer: dialer,
		sink:   sink,
		delay:  DefaultRetryDelay,
		logger: logging.Component(logging.L(), "notify"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Connected reports whether the socket is currently up.
func (l *Listener) Connected() bool {
	return l.connected.Load()
}

// Run blocks, reconnecting after every drop, until ctx is cancelled. It
// returns nil on cancellation.
func (l *Listener) Run(ctx context.Context, token string) error {
	if token == "" {
		return ErrTokenRequired
	}

	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		conn, err := l.dialer.DialPath(ctx, Path, token)
		if err != nil {
			if l.retryable != nil && !l.retryable(err) {
				l.logger.Error().Err(err).Msg("notification socket rejected")
				return backoff.Permanent(err)
			}
			l.logger.Warn().Err(err).Dur("retry_in", l.delay).Msg("notification socket dial failed")
			return err
		}

		l.connected.Store(true)
		l.logger.Info().Msg("notification socket connected")
		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		err = l.readLoop(conn)
		stop()
		_ = conn.Close()
		l.connected.Store(false)

		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		l.logger.Info().Err(err).Dur("retry_in", l.delay).Msg("notification socket closed")
		return fmt.Errorf("notification socket dropped: %w", err)
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.NewConstantBackOff(l.delay), ctx))
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (l *Listener) readLoop(conn session.Conn) error {
	for {
		raw, err := conn.Read()
		if err != nil {
			return err
		}
		var n chat.Notification
		if err := json.Unmarshal(raw, &n); err != nil {
			l.logger.Debug().Err(err).Msg("malformed notification frame")
			continue
		}
		l.Dispatch(n)
	}
}

// Dispatch shows n as a toast and plays the alert.
func (l *Listener) Dispatch(n chat.Notification) {
	switch n.Type {
	case chat.FrameRequestUpdate:
		l.sink.Success(n.Message)
	case chat.FrameJobUpdate:
		l.sink.Info(n.Message)
	case chat.FrameNewJob:
		l.sink.Info("New Job Available: " + n.Message)
	case chat.FrameChatMessage:
		l.sink.Info("New message: " + preview(n.Message) + "...")
	default:
		l.sink.Info(n.Message)
	}
	if l.alert != nil {
		l.alert.Ring()
	}
}

func preview(s string) string {
	if utf8.RuneCountInString(s) <= previewLen {
		return s
	}
	return string([]rune(s)[:previewLen])
}

// WriterSink prints toasts as lines.
type WriterSink struct {
	mu  sync.Mutex
	out io.Writer
}

// NewWriterSink writes to out.
func NewWriterSink(out io.Writer) *WriterSink {
	return &WriterSink{out: out}
}

func (s *WriterSink) Success(msg string) { s.write("ok", msg) }

func (s *WriterSink) Info(msg string) { s.write("info", msg) }

func (s *WriterSink) write(level, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "[%s] %s\n", level, msg)
}
