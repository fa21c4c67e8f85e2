package notify

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/jobchat/internal/model/chat"
	"github.com/zhouzirui/jobchat/internal/service/session"
)

type toast struct {
	level string
	msg   string
}

type recordingSink struct {
	mu     sync.Mutex
	toasts []toast
}

func (s *recordingSink) Success(msg string) { s.add("success", msg) }
func (s *recordingSink) Info(msg string)    { s.add("info", msg) }

func (s *recordingSink) add(level, msg string) {
	s.mu.Lock()
	s.toasts = append(s.toasts, toast{level, msg})
	s.mu.Unlock()
}

func (s *recordingSink) all() []toast {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]toast(nil), s.toasts...)
}

type countingRinger struct{ n atomic.Int32 }

func (r *countingRinger) Ring() bool { r.n.Add(1); return true }

type fakeConn struct {
	inbound   chan []byte
	dropped   chan struct{}
	closed    chan struct{}
	dropOnce  sync.Once
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 8),
		dropped: make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Read() ([]byte, error) {
	select {
	case b := <-c.inbound:
		return b, nil
	case <-c.dropped:
		return nil, errors.New("reset")
	case <-c.closed:
		return nil, errors.New("closed")
	}
}

func (c *fakeConn) WriteJSON(any) error { return nil }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) drop() { c.dropOnce.Do(func() { close(c.dropped) }) }

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	paths []string
	fail  int
}

func (d *fakeDialer) DialPath(_ context.Context, path, token string) (session.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paths = append(d.paths, path+"?token="+token)
	if d.fail > 0 {
		d.fail--
		return nil, errors.New("refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func TestDispatchMapping(t *testing.T) {
	sink := &recordingSink{}
	ringer := &countingRinger{}
	l := NewListener(&fakeDialer{}, sink, WithAlert(ringer))

	long := strings.Repeat("x", 40)
	l.Dispatch(chat.Notification{Type: chat.FrameRequestUpdate, Message: "accepted"})
	l.Dispatch(chat.Notification{Type: chat.FrameJobUpdate, Message: "moved"})
	l.Dispatch(chat.Notification{Type: chat.FrameNewJob, Message: "Plumbing"})
	l.Dispatch(chat.Notification{Type: chat.FrameChatMessage, Message: long})
	l.Dispatch(chat.Notification{Type: chat.FrameChatMessage, Message: "short"})
	l.Dispatch(chat.Notification{Type: "weird", Message: "other"})

	assert.Equal(t, []toast{
		{"success", "accepted"},
		{"info", "moved"},
		{"info", "New Job Available: Plumbing"},
		{"info", "New message: " + strings.Repeat("x", 30) + "..."},
		{"info", "New message: short..."},
		{"info", "other"},
	}, sink.all())
	assert.EqualValues(t, 6, ringer.n.Load())
}

func TestRunRequiresToken(t *testing.T) {
	l := NewListener(&fakeDialer{}, &recordingSink{})
	require.ErrorIs(t, l.Run(context.Background(), ""), ErrTokenRequired)
}

func TestRunReadsAndReconnects(t *testing.T) {
	dialer := &fakeDialer{fail: 1}
	sink := &recordingSink{}
	l := NewListener(dialer, sink, WithRetryDelay(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx, "tok") }()

	require.Eventually(t, func() bool { return dialer.count() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, l.Connected, time.Second, 5*time.Millisecond)

	first := dialer.conn(0)
	first.inbound <- []byte(`not json`)
	first.inbound <- []byte(`{"type":"job_update","message":"moved","payload":{"job_id":3}}`)
	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, toast{"info", "moved"}, sink.all()[0])

	first.drop()
	require.Eventually(t, func() bool { return dialer.count() == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, l.Connected, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, l.Connected())

	dialer.mu.Lock()
	defer dialer.mu.Unlock()
	for _, p := range dialer.paths {
		assert.Equal(t, Path+"?token=tok", p)
	}
}

func TestRunStopsOnRejectedDial(t *testing.T) {
	dialer := &fakeDialer{fail: 5}
	l := NewListener(dialer, &recordingSink{},
		WithRetryDelay(5*time.Millisecond),
		WithRetryable(func(error) bool { return false }))

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background(), "tok") }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "refused")
	case <-time.After(time.Second):
		t.Fatal("Run kept retrying a rejected dial")
	}
	dialer.mu.Lock()
	defer dialer.mu.Unlock()
	assert.Len(t, dialer.paths, 1)
}

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewWriterSink(&buf)
	s.Success("done")
	s.Info("fyi")
	assert.Equal(t, "[ok] done\n[info] fyi\n", buf.String())
}
