package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/jobchat/internal/middleware"
	"github.com/zhouzirui/jobchat/internal/model/chat"
	chatService "github.com/zhouzirui/jobchat/internal/service/chat"
	"github.com/zhouzirui/jobchat/internal/service/hub"
	"github.com/zhouzirui/jobchat/pkg/logging"
)

// RegisterWebSocketRoutes mounts the chat and notification sockets. Callers
// apply token auth.
func (h *Handler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/ws/chat/{jobID}/", h.handleChatSocket)
	r.Get("/ws/notifications/", h.handleNotificationSocket)
}

// handleChatSocket joins the caller to the job's group. Every saved message
// is broadcast to the whole group, the sender included.
func (h *Handler) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	userID := middleware.UserID(r.Context())
	log := logging.Ctx(r.Context()).With().Str("job", jobID).Str("user", userID).Logger()

	job, err := h.chatSvc.GetJob(r.Context(), jobID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if !job.Participant(userID) {
		respondServiceError(w, chatService.ErrNotParticipant)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("upgrade failed")
		return
	}

	client := h.hub.NewClient(conn, userID)
	h.hub.Register(client, hub.ChatGroup(jobID))
	log.Info().Msg("chat socket connected")

	ctx := context.WithoutCancel(r.Context())
	go client.WritePump()
	client.ReadPump(func(c *hub.Client, raw []byte) {
		h.handleChatFrame(ctx, job, c, raw)
	})
	log.Info().Msg("chat socket closed")
}

func (h *Handler) handleChatFrame(ctx context.Context, job chatService.Job, c *hub.Client, raw []byte) {
	var frame chat.OutboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		h.logger.Debug().Err(err).Str("client_id", c.ID).Msg("malformed chat frame")
		return
	}
	if strings.TrimSpace(frame.Message) == "" {
		return
	}

	record, err := h.chatSvc.SaveMessage(ctx, job.ID, c.UserID, frame.Message)
	if err != nil {
		h.logger.Warn().Err(err).Str("job", job.ID).Msg("save message failed")
		return
	}

	out := chat.InboundFrame{
		Type:      chat.FrameChatMessage,
		Message:   record.Content,
		SenderID:  record.Sender.ID,
		Timestamp: record.CreatedAt.Format(time.RFC3339Nano),
	}
	if _, err := h.hub.Broadcast(hub.ChatGroup(job.ID), out); err != nil {
		h.logger.Warn().Err(err).Msg("broadcast chat frame failed")
	}

	alert := chat.Notification{
		Type:    chat.FrameChatMessage,
		Message: record.Content,
		Payload: map[string]any{"job_id": job.ID, "sender_id": c.UserID},
	}
	if _, err := h.hub.Broadcast(hub.UserGroup(record.Receiver.String()), alert); err != nil {
		h.logger.Warn().Err(err).Msg("broadcast notification failed")
	}
}

// handleNotificationSocket subscribes the caller to their user group. Frames
// sent by the client are ignored.
func (h *Handler) handleNotificationSocket(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	log := logging.Ctx(r.Context()).With().Str("user", userID).Logger()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("upgrade failed")
		return
	}

	client := h.hub.NewClient(conn, userID)
	h.hub.Register(client, hub.UserGroup(userID))
	log.Info().Msg("notification socket connected")
	go client.WritePump()
	client.ReadPump(nil)
	log.Info().Msg("notification socket closed")
}
