package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/jobchat/internal/handler/chat"
	middlewarePkg "github.com/zhouzirui/jobchat/internal/middleware"
	chatService "github.com/zhouzirui/jobchat/internal/service/chat"
	"github.com/zhouzirui/jobchat/internal/service/hub"
	"github.com/zhouzirui/jobchat/pkg/utils"
)

// NewRouter wires HTTP and socket routes to the chat store and hub.
func NewRouter(chatSvc *chatService.Service, h *hub.Hub, auth middlewarePkg.Authenticator, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	chatHandler := chat.New(chatSvc, h, logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(authed chi.Router) {
		authed.Use(middlewarePkg.TokenAuth(auth))

		authed.Route("/api", func(api chi.Router) {
			chatHandler.RegisterRoutes(api)
		})
		chatHandler.RegisterWebSocketRoutes(authed)
	})

	return r
}
