package hub

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastReachesGroupMembers(t *testing.T) {
	h := New(DefaultConfig(), zerolog.Nop())
	a := h.NewClient(nil, "1")
	b := h.NewClient(nil, "2")
	h.Register(a, ChatGroup("7"), UserGroup("1"))
	h.Register(b, ChatGroup("7"), UserGroup("2"))

	n, err := h.Broadcast(ChatGroup("7"), map[string]string{"message": "hi"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.JSONEq(t, `{"message":"hi"}`, string(<-a.send))
	assert.JSONEq(t, `{"message":"hi"}`, string(<-b.send))

	n, err = h.Broadcast(UserGroup("2"), map[string]string{"type": "chat_message"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, a.send, 0)
	assert.Len(t, b.send, 1)
}

func TestUnregisterCleansGroups(t *testing.T) {
	h := New(DefaultConfig(), zerolog.Nop())
	c := h.NewClient(nil, "1")
	h.Register(c, ChatGroup("7"))
	assert.Equal(t, 1, h.GroupSize(ChatGroup("7")))

	h.Unregister(c)
	h.Unregister(c)
	assert.Equal(t, 0, h.GroupSize(ChatGroup("7")))

	_, ok := <-c.send
	assert.False(t, ok, "send queue should be closed")

	n, err := h.Broadcast(ChatGroup("7"), "late")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSlowClientIsDropped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SendBuffer = 1
	h := New(cfg, zerolog.Nop())
	c := h.NewClient(nil, "1")
	h.Register(c, ChatGroup("7"))

	n, _ := h.Broadcast(ChatGroup("7"), "one")
	assert.Equal(t, 1, n)
	n, _ = h.Broadcast(ChatGroup("7"), "two")
	assert.Zero(t, n)

	require.Eventually(t, func() bool { return h.GroupSize(ChatGroup("7")) == 0 }, time.Second, 5*time.Millisecond)
}

func TestBroadcastEncodeError(t *testing.T) {
	h := New(DefaultConfig(), zerolog.Nop())
	_, err := h.Broadcast("g", make(chan int))
	require.Error(t, err)
}

func TestNewClampsPing(t *testing.T) {
	h := New(Config{PongWait: time.Second, PingInterval: time.Minute}, zerolog.Nop())
	assert.Less(t, h.cfg.PingInterval, h.cfg.PongWait)
}
