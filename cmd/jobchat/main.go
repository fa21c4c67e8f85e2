package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/jobchat/internal/config"
	"github.com/zhouzirui/jobchat/internal/model/chat"
	"github.com/zhouzirui/jobchat/internal/service/alert"
	"github.com/zhouzirui/jobchat/internal/service/history"
	"github.com/zhouzirui/jobchat/internal/service/notify"
	"github.com/zhouzirui/jobchat/internal/service/realtime"
	"github.com/zhouzirui/jobchat/internal/service/session"
	"github.com/zhouzirui/jobchat/pkg/logging"
)

const quitCommand = "/quit"

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		l := logging.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logConfig(cfg.Log))
	logger := logging.Component(logging.L(), "jobchat")
	if envErr != nil {
		logger.Debug().Err(envErr).Msg("no .env file, using process environment only")
	}

	jobID := flag.String("job", "", "job id to chat about")
	token := flag.String("token", cfg.Client.Token, "API token (default $JOBCHAT_TOKEN)")
	userID := flag.String("user", cfg.Client.UserID, "local user id (default $JOBCHAT_USER_ID)")
	with := flag.String("with", "", "counterpart display name")
	withNotify := flag.Bool("notify", false, "also listen on the notification socket")
	flag.Parse()

	if strings.TrimSpace(*jobID) == "" {
		flag.Usage()
		logger.Fatal().Msg("-job is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = run(ctx, cfg.Client, runParams{
		JobID:   *jobID,
		Token:   *token,
		UserID:  *userID,
		With:    *with,
		Notify:  *withNotify,
		In:      os.Stdin,
		Out:     os.Stdout,
		Bell:    os.Stderr,
		Logger:  logger,
		Refresh: 200 * time.Millisecond,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("chat ended with error")
	}
}

func logConfig(c config.LogConfig) logging.Config {
	return logging.Config{Level: c.Level, Pretty: c.Pretty}
}

type runParams struct {
	JobID   string
	Token   string
	UserID  string
	With    string
	Notify  bool
	In      io.Reader
	Out     io.Writer
	Bell    io.Writer
	Logger  zerolog.Logger
	Refresh time.Duration
}

func run(parent context.Context, cfg config.ClientConfig, p runParams) error {
	hist, err := history.NewClient(cfg.APIURL, cfg.HistoryTimeout, nil)
	if err != nil {
		return err
	}
	hist = hist.WithLogger(p.Logger)
	dialer, err := realtime.NewDialer(realtime.Options{
		BaseURL:          cfg.WSURL,
		HandshakeTimeout: cfg.HandshakeTimeout,
		Logger:           &p.Logger,
	})
	if err != nil {
		return err
	}
	bell := alert.NewBell(p.Bell)

	opts := []session.Option{
		session.WithLogger(p.Logger),
		session.WithNotifier(bell),
		session.WithHandshakeTimeout(cfg.HandshakeTimeout),
		session.WithHistoryTimeout(cfg.HistoryTimeout),
		session.WithOrdering(session.ParseOrdering(cfg.Ordering)),
		session.WithReconnect(session.DefaultReconnectPolicy(cfg.ReconnectAttempts)),
		session.WithRetryable(realtime.IsRetryable),
		session.WithStateListener(func(state chat.ConnectionState, err error) {
			if err != nil {
				p.Logger.Warn().Err(err).Str("state", state.String()).Msg("connection state changed")
				return
			}
			p.Logger.Info().Str("state", state.String()).Msg("connection state changed")
		}),
	}
	if cfg.MarkRead {
		opts = append(opts, session.WithReadMarker(hist))
	}
	controller := session.New(hist, dialer, opts...)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var participant *chat.Participant
	if p.With != "" {
		participant = &chat.Participant{DisplayName: p.With}
	}
	if err := controller.Sync(ctx, session.Props{
		OpenParams: session.OpenParams{
			JobID:       p.JobID,
			Token:       p.Token,
			LocalUserID: p.UserID,
			Participant: participant,
		},
		IsOpen: true,
	}); err != nil {
		return err
	}
	defer controller.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return pumpInput(gctx, p.In, controller, p.Out)
	})
	g.Go(func() error {
		printTranscript(gctx, controller, p.Out, p.Refresh)
		return nil
	})
	if p.Notify {
		listener := notify.NewListener(dialer, notify.NewWriterSink(p.Out),
			notify.WithAlert(bell),
			notify.WithRetryDelay(cfg.NotifyRetryDelay),
			notify.WithRetryable(realtime.IsRetryable),
			notify.WithLogger(p.Logger))
		g.Go(func() error {
			return listener.Run(gctx, p.Token)
		})
	}
	return g.Wait()
}

// pumpInput sends each stdin line until EOF, the quit command or
// cancellation.
func pumpInput(ctx context.Context, in io.Reader, c *session.Controller, out io.Writer) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			if strings.TrimSpace(line) == quitCommand {
				return nil
			}
			c.SetDraft(line)
			switch err := c.SendDraft(); {
			case err == nil, errors.Is(err, session.ErrEmptyMessage):
			case errors.Is(err, session.ErrNotOpen):
				fmt.Fprintf(out, "(not connected: %s)\n", c.State())
			default:
				fmt.Fprintf(out, "(send failed: %v)\n", err)
			}
		}
	}
}

// printTranscript prints messages as the transcript grows. A reopened
// session restarts from the top.
func printTranscript(ctx context.Context, c *session.Controller, out io.Writer, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	printed := 0
	job := ""
	for {
		snap := c.Snapshot()
		if snap.JobID != job || len(snap.Messages) < printed {
			job = snap.JobID
			printed = 0
			if job != "" {
				fmt.Fprintf(out, "-- chat with %s (job %s) --\n", snap.Participant, job)
			}
		}
		for _, msg := range snap.Messages[printed:] {
			fmt.Fprintln(out, formatLine(msg, c.IsMine(msg), snap.Participant))
		}
		printed = len(snap.Messages)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func formatLine(msg chat.Message, mine bool, participant string) string {
	who := participant
	if mine {
		who = "you"
	}
	return fmt.Sprintf("[%s] %s: %s", msg.CreatedAt.Local().Format(time.Kitchen), who, msg.Content)
}
