// Package session drives one real-time chat conversation for a job: it loads
// the history snapshot, keeps a live channel open, folds inbound frames into
// the transcript and tears everything down on close.
//
// Without a ReconnectPolicy a dropped live channel is terminal: the session
// stays Closed until the host calls Open (or Sync) again.
//
// Send never appends locally. The sender's own message is expected to come
// back over the live channel, so the server must broadcast chat frames to the
// sender as well as the counterpart.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/zhouzirui/jobchat/internal/model/chat"
)

var (
	ErrJobRequired      = errors.New("job id is required")
	ErrAnonymous        = errors.New("local user is required")
	ErrNotOpen          = errors.New("chat connection is not open")
	ErrEmptyMessage     = errors.New("message is empty")
	ErrHandshakeTimeout = errors.New("chat handshake timed out")
)

// HistoryFetcher retrieves the stored transcript for a job.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, jobID, token string) ([]chat.Message, error)
}

// ReadMarker flags a job's messages as read for the token's user.
type ReadMarker interface {
	MarkRead(ctx context.Context, jobID, token string) (int, error)
}

// Conn is an established live channel.
type Conn interface {
	Read() ([]byte, error)
	WriteJSON(v any) error
	Close() error
}

// Dialer opens a live channel for a job.
type Dialer interface {
	Dial(ctx context.Context, jobID, token string) (Conn, error)
}

// Notifier is fired for messages authored by someone else.
type Notifier interface {
	Notify(msg chat.Message)
}

// OpenParams identify a session. Token and LocalUserID are passed in rather
// than read from shared auth state.
type OpenParams struct {
	JobID       string
	Token       string
	LocalUserID string
	Participant *chat.Participant
}

// Props is the host-facing configuration reconciled by Sync.
type Props struct {
	OpenParams
	IsOpen bool
}

// Snapshot is a copy of the controller state for rendering.
type Snapshot struct {
	JobID         string
	Participant   string
	State         chat.ConnectionState
	Messages      []chat.Message
	HistoryLoaded bool
	Draft         string
	LastError     error
}

type session struct {
	params        OpenParams
	gen           uint64
	ctx           context.Context
	cancel        context.CancelFunc
	conn          Conn
	messages      []chat.Message
	pending       []chat.Message
	historyLoaded bool
}

// Controller owns at most one session at a time.
type Controller struct {
	history HistoryFetcher
	dialer  Dialer
	opts    options

	mu      sync.Mutex
	gen     uint64
	sess    *session
	state   chat.ConnectionState
	lastErr error
	draft   string
	props   Props
}

// New builds a Controller around its collaborators.
func New(history HistoryFetcher, dialer Dialer, opts ...Option) *Controller {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Controller{
		history: history,
		dialer:  dialer,
		opts:    o,
		state:   chat.StateClosed,
	}
}

// Open starts a session for p.JobID, replacing any active one. History
// retrieval and the live handshake run concurrently; Open returns once both
// are started.
func (c *Controller) Open(ctx context.Context, p OpenParams) error {
	p.JobID = strings.TrimSpace(p.JobID)
	p.LocalUserID = strings.TrimSpace(p.LocalUserID)
	if p.JobID == "" {
		return ErrJobRequired
	}
	if p.LocalUserID == "" {
		return ErrAnonymous
	}

	c.Close()

	c.mu.Lock()
	c.gen++
	sctx, cancel := context.WithCancel(ctx)
	s := &session{
		params: p,
		gen:    c.gen,
		ctx:    sctx,
		cancel: cancel,
	}
	c.sess = s
	c.props = Props{OpenParams: p, IsOpen: true}
	c.lastErr = nil
	emit := c.setStateLocked(chat.StateConnecting, nil)
	c.mu.Unlock()
	emit()

	// A cancelled parent context ends the session like an explicit Close.
	context.AfterFunc(sctx, func() { c.closeSession(s) })

	c.opts.logger.Debug().Str("job", p.JobID).Uint64("gen", s.gen).Msg("opening chat session")

	go c.loadHistory(s)
	go c.connect(s)
	return nil
}

// Close tears down the active session. It is safe to call repeatedly and on
// a controller that never opened.
func (c *Controller) Close() {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	s := c.sess
	c.sess = nil
	c.draft = ""
	if s == nil {
		emit := c.setStateLocked(chat.StateClosed, nil)
		c.mu.Unlock()
		emit()
		return
	}
	conn := s.conn
	s.conn = nil
	emit := c.setStateLocked(chat.StateClosing, nil)
	c.mu.Unlock()
	emit()

	s.cancel()
	if conn != nil {
		if err := conn.Close(); err != nil {
			c.opts.logger.Debug().Err(err).Str("job", s.params.JobID).Msg("close live channel")
		}
	}

	c.mu.Lock()
	if c.gen != gen {
		// Reopened while the old channel was closing.
		c.mu.Unlock()
		return
	}
	emit = c.setStateLocked(chat.StateClosed, nil)
	c.mu.Unlock()
	emit()

	c.opts.logger.Debug().Str("job", s.params.JobID).Msg("chat session closed")
}

// closeSession closes s only if it is still the active session.
func (c *Controller) closeSession(s *session) {
	c.mu.Lock()
	current := c.currentLocked(s)
	c.mu.Unlock()
	if current {
		c.Close()
	}
}

// Sync reconciles the controller with host props: closed when IsOpen is
// false, reopened when the job, token or user changes.
func (c *Controller) Sync(ctx context.Context, p Props) error {
	c.mu.Lock()
	prev := c.props
	c.props = p
	active := c.sess != nil
	same := sameIdentity(prev.OpenParams, p.OpenParams)
	// A session that already ended is reopened even for the same identity.
	if active && c.state != chat.StateClosed && p.IsOpen && prev.IsOpen && same {
		c.sess.params.Participant = p.Participant
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if !p.IsOpen {
		c.Close()
		return nil
	}
	if active && !same {
		c.Close()
	}
	return c.Open(ctx, p.OpenParams)
}

func sameIdentity(a, b OpenParams) bool {
	return strings.TrimSpace(a.JobID) == strings.TrimSpace(b.JobID) &&
		a.Token == b.Token &&
		strings.TrimSpace(a.LocalUserID) == strings.TrimSpace(b.LocalUserID)
}

// SetDraft stores the compose field contents.
func (c *Controller) SetDraft(text string) {
	c.mu.Lock()
	c.draft = text
	c.mu.Unlock()
}

// Draft returns the compose field contents.
func (c *Controller) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// Send transmits one chat frame with the trimmed text. It returns
// ErrEmptyMessage or ErrNotOpen without side effects when the preconditions
// fail; callers that want silent drops may ignore both.
func (c *Controller) Send(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	conn, err := c.sendableLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.write(conn, text)
}

// SendDraft clears the compose field before transmitting its contents.
func (c *Controller) SendDraft() error {
	c.mu.Lock()
	text := strings.TrimSpace(c.draft)
	if text == "" {
		c.mu.Unlock()
		return ErrEmptyMessage
	}
	conn, err := c.sendableLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.draft = ""
	c.mu.Unlock()

	return c.write(conn, text)
}

func (c *Controller) sendableLocked() (Conn, error) {
	if c.sess == nil || c.state != chat.StateOpen || c.sess.conn == nil {
		return nil, ErrNotOpen
	}
	return c.sess.conn, nil
}

func (c *Controller) write(conn Conn, text string) error {
	if err := conn.WriteJSON(chat.OutboundFrame{Message: text}); err != nil {
		c.opts.logger.Warn().Err(err).Msg("send chat frame failed")
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// State returns the current connection state.
func (c *Controller) State() chat.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CanSend reports whether the send control should be enabled.
func (c *Controller) CanSend() bool {
	return c.State() == chat.StateOpen
}

// LastError returns the failure behind the latest Closed transition, if any.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// JobID returns the active session's job, or "" when closed.
func (c *Controller) JobID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.params.JobID
}

// Messages returns a copy of the transcript in display order.
func (c *Controller) Messages() []chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	return append([]chat.Message(nil), c.sess.messages...)
}

// IsMine reports whether msg should render on the local user's side.
func (c *Controller) IsMine(msg chat.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil && msg.FromUser(c.sess.params.LocalUserID)
}

// Snapshot captures everything a renderer needs.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Participant: chat.DefaultParticipantName,
		State:       c.state,
		Draft:       c.draft,
		LastError:   c.lastErr,
	}
	if s := c.sess; s != nil {
		snap.JobID = s.params.JobID
		snap.Participant = s.params.Participant.Label()
		snap.Messages = append([]chat.Message(nil), s.messages...)
		snap.HistoryLoaded = s.historyLoaded
	}
	return snap
}

// currentLocked reports whether s is still the active session.
func (c *Controller) currentLocked(s *session) bool {
	return c.sess == s && c.gen == s.gen
}

// setStateLocked records a transition and returns the listener call to run
// once the lock is released.
func (c *Controller) setStateLocked(state chat.ConnectionState, err error) func() {
	if err != nil {
		c.lastErr = err
	}
	if c.state == state && err == nil {
		return func() {}
	}
	c.state = state
	listener := c.opts.onState
	if listener == nil {
		return func() {}
	}
	return func() { listener(state, err) }
}

func (c *Controller) loadHistory(s *session) {
	ctx, cancel := context.WithTimeout(s.ctx, c.opts.historyTimeout)
	defer cancel()

	log := c.opts.logger.With().Str("job", s.params.JobID).Logger()
	history, err := c.history.FetchHistory(ctx, s.params.JobID, s.params.Token)

	c.mu.Lock()
	if !c.currentLocked(s) {
		c.mu.Unlock()
		log.Debug().Uint64("gen", s.gen).Msg("discarding stale history response")
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("history fetch failed, continuing with empty transcript")
		history = nil
	}
	for i := range history {
		history[i].Origin = chat.OriginHistory
	}
	s.messages = append(s.messages, history...)
	s.messages = append(s.messages, s.pending...)
	s.pending = nil
	s.historyLoaded = true
	c.mu.Unlock()

	log.Debug().Int("count", len(history)).Msg("history loaded")

	if err == nil && c.opts.readMarker != nil {
		c.markRead(s)
	}
}

func (c *Controller) markRead(s *session) {
	ctx, cancel := context.WithTimeout(s.ctx, c.opts.historyTimeout)
	defer cancel()

	updated, err := c.opts.readMarker.MarkRead(ctx, s.params.JobID, s.params.Token)
	if err != nil {
		c.opts.logger.Debug().Err(err).Str("job", s.params.JobID).Msg("mark read failed")
		return
	}
	c.opts.logger.Debug().Str("job", s.params.JobID).Int("updated", updated).Msg("messages marked read")
}

func (c *Controller) connect(s *session) {
	conn, err := c.dial(s)

	c.mu.Lock()
	if !c.currentLocked(s) {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		emit := c.setStateLocked(chat.StateClosed, err)
		c.mu.Unlock()
		emit()
		c.opts.logger.Warn().Err(err).Str("job", s.params.JobID).Msg("chat connection failed")
		return
	}
	s.conn = conn
	emit := c.setStateLocked(chat.StateOpen, nil)
	c.mu.Unlock()
	emit()

	c.opts.logger.Info().Str("job", s.params.JobID).Msg("chat connected")
	go c.readLoop(s, conn)
}

type dialResult struct {
	conn Conn
	err  error
}

// dial runs the handshake under the handshake timeout. A dialer that ignores
// its context is still bounded: a connection that shows up late is closed.
func (c *Controller) dial(s *session) (Conn, error) {
	ctx, cancel := context.WithTimeout(s.ctx, c.opts.handshakeTimeout)
	defer cancel()

	done := make(chan dialResult, 1)
	go func() {
		conn, err := c.dialer.Dial(ctx, s.params.JobID, s.params.Token)
		done <- dialResult{conn: conn, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %v", ErrHandshakeTimeout, r.err)
			}
			return nil, fmt.Errorf("connect chat for job %s: %w", s.params.JobID, r.err)
		}
		return r.conn, nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				_ = r.conn.Close()
			}
		}()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrHandshakeTimeout
		}
		return nil, ctx.Err()
	}
}

func (c *Controller) readLoop(s *session, conn Conn) {
	for {
		data, err := conn.Read()
		if err != nil {
			c.handleDrop(s, conn, err)
			return
		}
		c.apply(s, data)
	}
}

// handleDrop reacts to the live channel failing underneath an open session.
func (c *Controller) handleDrop(s *session, conn Conn, cause error) {
	c.mu.Lock()
	if !c.currentLocked(s) || s.conn != conn {
		c.mu.Unlock()
		return
	}
	s.conn = nil

	if c.opts.reconnect == nil {
		emit := c.setStateLocked(chat.StateClosed, fmt.Errorf("chat connection lost: %w", cause))
		c.mu.Unlock()
		_ = conn.Close()
		emit()
		c.opts.logger.Warn().Err(cause).Str("job", s.params.JobID).Msg("chat connection lost")
		return
	}

	emit := c.setStateLocked(chat.StateReconnecting, nil)
	c.mu.Unlock()
	_ = conn.Close()
	emit()
	c.opts.logger.Info().Err(cause).Str("job", s.params.JobID).Msg("chat connection lost, reconnecting")
	go c.reconnect(s, *c.opts.reconnect)
}
