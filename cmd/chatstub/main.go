package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/jobchat/internal/config"
	"github.com/zhouzirui/jobchat/internal/handler"
	"github.com/zhouzirui/jobchat/internal/middleware"
	"github.com/zhouzirui/jobchat/internal/service/chat"
	"github.com/zhouzirui/jobchat/internal/service/hub"
	"github.com/zhouzirui/jobchat/pkg/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		l := logging.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	logger := logging.Component(logging.L(), "chatstub")
	if envErr != nil {
		logger.Debug().Err(envErr).Msg("no .env file, using process environment only")
	}

	chatService := chat.NewService()
	seeds, err := cfg.Stub.JobSeeds()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid job seeds")
	}
	for _, seed := range seeds {
		if _, err := chatService.RegisterJob(ctx, seed.JobID, seed.CustomerID, seed.ProviderID); err != nil {
			logger.Fatal().Err(err).Str("job", seed.JobID).Msg("failed to seed job")
		}
		logger.Info().Str("job", seed.JobID).Str("customer", seed.CustomerID).Str("provider", seed.ProviderID).Msg("job seeded")
	}
	logger.Info().Int("tokens", len(cfg.Stub.Tokens)).Msg("static tokens loaded")

	chatHub := hub.New(hub.DefaultConfig(), logging.L())
	router := handler.NewRouter(chatService, chatHub, middleware.StaticTokens(cfg.Stub.Tokens), logging.L())

	startServer(ctx, cfg.Server, router, logger)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger zerolog.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info().Str("addr", addr).Msg("chat stub listening")
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
