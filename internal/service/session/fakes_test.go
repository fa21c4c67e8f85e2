package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/zhouzirui/jobchat/internal/model/chat"
)

type historyReply struct {
	messages []chat.Message
	err      error
	gate     chan struct{}
}

// fakeHistory answers per job. A gated reply blocks until the gate closes,
// ignoring ctx, so the response can land after the session is gone.
type fakeHistory struct {
	mu       sync.Mutex
	replies  map[string]historyReply
	returned chan string
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{
		replies:  make(map[string]historyReply),
		returned: make(chan string, 16),
	}
}

func (f *fakeHistory) set(jobID string, reply historyReply) {
	f.mu.Lock()
	f.replies[jobID] = reply
	f.mu.Unlock()
}

func (f *fakeHistory) FetchHistory(_ context.Context, jobID, _ string) ([]chat.Message, error) {
	f.mu.Lock()
	reply := f.replies[jobID]
	f.mu.Unlock()

	if reply.gate != nil {
		<-reply.gate
	}
	defer func() { f.returned <- jobID }()
	if reply.err != nil {
		return nil, reply.err
	}
	return append([]chat.Message(nil), reply.messages...), nil
}

type fakeConn struct {
	inbound   chan []byte
	dropped   chan struct{}
	closed    chan struct{}
	dropOnce  sync.Once
	closeOnce sync.Once

	mu   sync.Mutex
	sent []chat.OutboundFrame
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		dropped: make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

func (f *fakeConn) Read() ([]byte, error) {
	select {
	case b := <-f.inbound:
		return b, nil
	case <-f.dropped:
		return nil, errors.New("connection reset by peer")
	case <-f.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (f *fakeConn) WriteJSON(v any) error {
	select {
	case <-f.closed:
		return errors.New("write on closed connection")
	default:
	}
	frame, ok := v.(chat.OutboundFrame)
	if !ok {
		return errors.New("unexpected frame type")
	}
	f.mu.Lock()
	f.sent = append(f.sent, frame)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeConn) push(v any) {
	data, _ := json.Marshal(v)
	f.inbound <- data
}

func (f *fakeConn) drop() {
	f.dropOnce.Do(func() { close(f.dropped) })
}

func (f *fakeConn) frames() []chat.OutboundFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chat.OutboundFrame(nil), f.sent...)
}

type dialFunc func(ctx context.Context, jobID, token string) (Conn, error)

type fakeDialer struct {
	mu    sync.Mutex
	fn    dialFunc
	conns []*fakeConn
	jobs  []string
	calls int
}

func (d *fakeDialer) Dial(ctx context.Context, jobID, token string) (Conn, error) {
	d.mu.Lock()
	d.calls++
	d.jobs = append(d.jobs, jobID)
	fn := d.fn
	d.mu.Unlock()

	if fn != nil {
		return fn(ctx, jobID, token)
	}
	conn := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

func (d *fakeDialer) setFunc(fn dialFunc) {
	d.mu.Lock()
	d.fn = fn
	d.mu.Unlock()
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

type countingNotifier struct {
	count atomic.Int32
	last  atomic.Value
}

func (n *countingNotifier) Notify(msg chat.Message) {
	n.count.Add(1)
	n.last.Store(msg)
}

type panicNotifier struct{}

func (panicNotifier) Notify(chat.Message) { panic("speaker unplugged") }

type fakeMarker struct {
	calls atomic.Int32
}

func (m *fakeMarker) MarkRead(context.Context, string, string) (int, error) {
	m.calls.Add(1)
	return 2, nil
}

type stateRecorder struct {
	mu     sync.Mutex
	states []chat.ConnectionState
}

func (r *stateRecorder) listen(state chat.ConnectionState, _ error) {
	r.mu.Lock()
	r.states = append(r.states, state)
	r.mu.Unlock()
}

func (r *stateRecorder) seen(state chat.ConnectionState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.states {
		if s == state {
			return true
		}
	}
	return false
}

func chatFrame(sender any, text string) map[string]any {
	return map[string]any{"type": "chat_message", "message": text, "sender_id": sender}
}

func rawFrame(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}
