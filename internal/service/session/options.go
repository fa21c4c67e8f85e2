package session

import (
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/jobchat/internal/model/chat"
	"github.com/zhouzirui/jobchat/pkg/logging"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultHistoryTimeout   = 10 * time.Second
)

// Ordering decides where live frames that beat the history response land.
type Ordering int

const (
	// Buffered holds early live messages until history resolves, giving [history..., live...].
	Buffered Ordering = iota
	// Interleaved appends live messages on arrival, so an early frame precedes history.
	Interleaved
)

// ParseOrdering maps a config value onto an Ordering, defaulting to Buffered.
func ParseOrdering(s string) Ordering {
	if strings.EqualFold(strings.TrimSpace(s), "interleaved") {
		return Interleaved
	}
	return Buffered
}

// StateListener observes connection state transitions. err is set for
// transitions caused by a failure.
type StateListener func(state chat.ConnectionState, err error)

type options struct {
	logger           zerolog.Logger
	notifier         Notifier
	readMarker       ReadMarker
	handshakeTimeout time.Duration
	historyTimeout   time.Duration
	ordering         Ordering
	reconnect        *ReconnectPolicy
	retryable        func(error) bool
	onState          StateListener
	clock            func() time.Time
}

func defaultOptions() options {
	return options{
		logger:           logging.Component(logging.L(), "session"),
		handshakeTimeout: defaultHandshakeTimeout,
		historyTimeout:   defaultHistoryTimeout,
		ordering:         Buffered,
		clock:            time.Now,
	}
}

// Option configures a Controller.
type Option func(*options)

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = logging.Component(l, "session") }
}

// WithNotifier sets the side effect fired for messages from the counterpart.
func WithNotifier(n Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithReadMarker marks the job's messages read after history loads.
func WithReadMarker(m ReadMarker) Option {
	return func(o *options) { o.readMarker = m }
}

// WithHandshakeTimeout bounds the live connection handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.handshakeTimeout = d
		}
	}
}

// WithHistoryTimeout bounds the history request.
func WithHistoryTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.historyTimeout = d
		}
	}
}

// WithOrdering picks the history/live race policy.
func WithOrdering(ord Ordering) Option {
	return func(o *options) { o.ordering = ord }
}

// WithReconnect enables the Reconnecting state. A policy with MaxAttempts
// below one leaves reconnection disabled.
func WithReconnect(p ReconnectPolicy) Option {
	return func(o *options) {
		if p.MaxAttempts < 1 {
			o.reconnect = nil
			return
		}
		policy := p
		o.reconnect = &policy
	}
}

// WithRetryable decides which dial failures are worth another reconnect
// attempt. A failure it rejects closes the session at once. Without it every
// failure is retried.
func WithRetryable(fn func(error) bool) Option {
	return func(o *options) { o.retryable = fn }
}

// WithStateListener registers a transition observer. It may be called from
// any goroutine and must not block.
func WithStateListener(l StateListener) Option {
	return func(o *options) { o.onState = l }
}

// WithClock overrides the receipt clock for live messages.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.clock = now
		}
	}
}
