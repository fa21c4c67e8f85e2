// Package hub fans socket frames out to named groups of connected clients.
package hub

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/jobchat/pkg/logging"
)

// Config holds per-connection keepalive settings.
type Config struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

// DefaultConfig mirrors the client-side keepalive defaults.
func DefaultConfig() Config {
	return Config{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingInterval:   54 * time.Second,
		MaxMessageSize: 64 << 10,
		SendBuffer:     256,
	}
}

// ChatGroup names the group of sockets attached to one job conversation.
func ChatGroup(jobID string) string { return "chat_" + jobID }

// UserGroup names the notification group of one user.
func UserGroup(userID string) string { return "user_" + userID }

// Hub tracks clients and their group memberships.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]map[string]struct{}
	groups  map[string]map[*Client]struct{}
	cfg     Config
	logger  zerolog.Logger
}

// New builds an empty Hub.
func New(cfg Config, logger zerolog.Logger) *Hub {
	def := DefaultConfig()
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	return &Hub{
		clients: make(map[*Client]map[string]struct{}),
		groups:  make(map[string]map[*Client]struct{}),
		cfg:     cfg,
		logger:  logging.Component(logger, "hub"),
	}
}

// Register adds c to the hub and to every listed group.
func (h *Hub) Register(c *Client, groups ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	memberships, ok := h.clients[c]
	if !ok {
		memberships = make(map[string]struct{}, len(groups))
		h.clients[c] = memberships
	}
	for _, g := range groups {
		if _, ok := h.groups[g]; !ok {
			h.groups[g] = make(map[*Client]struct{})
		}
		h.groups[g][c] = struct{}{}
		memberships[g] = struct{}{}
	}
	h.logger.Debug().Str("client_id", c.ID).Str("user", c.UserID).Strs("groups", groups).Msg("client registered")
}

// Unregister removes c everywhere and closes its send queue. It is safe to
// call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	memberships, ok := h.clients[c]
	if !ok {
		return
	}
	for g := range memberships {
		members := h.groups[g]
		delete(members, c)
		if len(members) == 0 {
			delete(h.groups, g)
		}
	}
	delete(h.clients, c)
	close(c.send)
	h.logger.Debug().Str("client_id", c.ID).Msg("client unregistered")
}

// Broadcast sends v to every member of group and returns how many queues
// accepted it. Members whose queue is full are dropped.
func (h *Hub) Broadcast(group string, v any) (int, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("encode broadcast: %w", err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for c := range h.groups[group] {
		select {
		case c.send <- data:
			delivered++
		default:
			h.logger.Warn().Str("client_id", c.ID).Str("group", group).Msg("send queue full, dropping client")
			go h.Unregister(c)
		}
	}
	return delivered, nil
}

// GroupSize returns the number of clients in group.
func (h *Hub) GroupSize(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}
