package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Ordering values accepted by JOBCHAT_ORDERING.
const (
	OrderingBuffered    = "buffered"
	OrderingInterleaved = "interleaved"
)

// Config aggregates all configuration for the client and the stub server.
type Config struct {
	Server ServerConfig
	Client ClientConfig
	Stub   StubConfig
	Log    LogConfig
}

// ServerConfig describes the stub HTTP listener.
type ServerConfig struct {
	Port string `env:"PORT" envDefault:"8000"`
	Addr string
}

// ClientConfig describes how the chat client reaches its collaborators.
type ClientConfig struct {
	APIURL            string        `env:"JOBCHAT_API_URL" envDefault:"http://127.0.0.1:8000/api/"`
	WSURL             string        `env:"JOBCHAT_WS_URL" envDefault:"ws://127.0.0.1:8000"`
	Token             string        `env:"JOBCHAT_TOKEN"`
	UserID            string        `env:"JOBCHAT_USER_ID"`
	HandshakeTimeout  time.Duration `env:"JOBCHAT_HANDSHAKE_TIMEOUT" envDefault:"10s"`
	HistoryTimeout    time.Duration `env:"JOBCHAT_HISTORY_TIMEOUT" envDefault:"10s"`
	Ordering          string        `env:"JOBCHAT_ORDERING" envDefault:"buffered"`
	ReconnectAttempts int           `env:"JOBCHAT_RECONNECT_ATTEMPTS" envDefault:"0"`
	MarkRead          bool          `env:"JOBCHAT_MARK_READ" envDefault:"true"`
	NotifyRetryDelay  time.Duration `env:"JOBCHAT_NOTIFY_RETRY" envDefault:"3s"`
}

// StubConfig seeds the contract stub server.
type StubConfig struct {
	// Tokens maps auth token to user id, e.g. "tok-a:1,tok-b:2".
	Tokens map[string]string `env:"STUB_TOKENS" envDefault:"customer-token:1,provider-token:2"`
	// Jobs lists "job:customer:provider" triples.
	Jobs []string `env:"STUB_JOBS" envDefault:"1:1:2"`
}

// LogConfig controls the zerolog output.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Pretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

// JobSeed is one parsed STUB_JOBS entry.
type JobSeed struct {
	JobID      string
	CustomerID string
	ProviderID string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	addr, err := resolveAddr(cfg.Server.Port)
	if err != nil {
		return nil, err
	}
	cfg.Server.Addr = addr
	cfg.Client.Ordering = strings.ToLower(strings.TrimSpace(cfg.Client.Ordering))

	if err := cfg.Client.validate(); err != nil {
		return nil, err
	}
	if _, err := cfg.Stub.JobSeeds(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// resolveAddr turns PORT into a listen address.
func resolveAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8000"
	}

	if strings.Contains(port, ":") {
		// ":8000" and "127.0.0.1:8000" are passed through.
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

func (c ClientConfig) validate() error {
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("invalid JOBCHAT_HANDSHAKE_TIMEOUT value %q: must be positive", c.HandshakeTimeout)
	}
	if c.HistoryTimeout <= 0 {
		return fmt.Errorf("invalid JOBCHAT_HISTORY_TIMEOUT value %q: must be positive", c.HistoryTimeout)
	}
	if c.ReconnectAttempts < 0 {
		return fmt.Errorf("invalid JOBCHAT_RECONNECT_ATTEMPTS value %d: must not be negative", c.ReconnectAttempts)
	}
	switch c.Ordering {
	case OrderingBuffered, OrderingInterleaved:
	default:
		return fmt.Errorf("invalid JOBCHAT_ORDERING value %q: want %s or %s", c.Ordering, OrderingBuffered, OrderingInterleaved)
	}
	return nil
}

// JobSeeds parses the Jobs triples.
func (s StubConfig) JobSeeds() ([]JobSeed, error) {
	seeds := make([]JobSeed, 0, len(s.Jobs))
	for _, raw := range s.Jobs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parts := strings.Split(raw, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid STUB_JOBS entry %q: want job:customer:provider", raw)
		}
		seeds = append(seeds, JobSeed{
			JobID:      strings.TrimSpace(parts[0]),
			CustomerID: strings.TrimSpace(parts[1]),
			ProviderID: strings.TrimSpace(parts[2]),
		})
	}
	return seeds, nil
}
