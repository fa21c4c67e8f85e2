package chat

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/jobchat/internal/middleware"
	"github.com/zhouzirui/jobchat/internal/model/chat"
	chatService "github.com/zhouzirui/jobchat/internal/service/chat"
	"github.com/zhouzirui/jobchat/internal/service/hub"
	"github.com/zhouzirui/jobchat/pkg/logging"
	"github.com/zhouzirui/jobchat/pkg/utils"
)

// Handler serves the message REST endpoints and the chat sockets.
type Handler struct {
	chatSvc  *chatService.Service
	hub      *hub.Hub
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// New creates a chat handler.
func New(chatSvc *chatService.Service, h *hub.Hub, logger zerolog.Logger) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		hub:     h,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logging.Component(logger, "chat-handler"),
	}
}

// RegisterRoutes mounts the REST endpoints. Callers apply token auth.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/messages/", h.handleHistory)
	r.Post("/messages/mark_read/", h.handleMarkRead)
	r.Post("/notifications/", h.handlePushNotification)
}

// handleHistory returns the caller's view of a job conversation.
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(r.URL.Query().Get("job_id"))
	if jobID == "" {
		utils.RespondError(w, http.StatusBadRequest, "job_id is required")
		return
	}

	records, err := h.chatSvc.LoadTranscript(r.Context(), jobID, middleware.UserID(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, records)
}

// handleMarkRead flags the caller's received messages as read.
func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		JobID chat.ID `json:"job_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.JobID == "" {
		utils.RespondError(w, http.StatusBadRequest, "job_id is required")
		return
	}

	updated, err := h.chatSvc.MarkRead(r.Context(), payload.JobID.String(), middleware.UserID(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"status": "success", "updated": updated})
}

// handlePushNotification delivers a notification to one user's sockets. It
// lets local tooling trigger request and job updates.
func (h *Handler) handlePushNotification(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID chat.ID `json:"user_id"`
		chat.Notification
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.UserID == "" || payload.Type == "" {
		utils.RespondError(w, http.StatusBadRequest, "user_id and type are required")
		return
	}

	delivered, err := h.hub.Broadcast(hub.UserGroup(payload.UserID.String()), payload.Notification)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, map[string]int{"delivered": delivered})
}

func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatService.ErrJobNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chatService.ErrNotParticipant):
		utils.RespondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, chatService.ErrEmptyContent), errors.Is(err, chatService.ErrJobRequired):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	}
}
