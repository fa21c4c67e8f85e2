package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/jobchat/internal/model/chat"
	"github.com/zhouzirui/jobchat/pkg/logging"
)

const defaultTimeout = 10 * time.Second

// ErrUnauthorized is wrapped by StatusError for 401 responses.
var ErrUnauthorized = errors.New("token rejected")

// StatusError reports a non-2xx API response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("api returned status %d", e.Code)
	}
	return fmt.Sprintf("api returned status %d: %s", e.Code, e.Body)
}

// Unwrap maps 401 onto ErrUnauthorized.
func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

// Client talks to the marketplace message endpoints.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	logger  zerolog.Logger
}

// NewClient builds a client for baseURL (e.g. "http://host/api/"). A nil
// httpClient gets one with the given timeout.
func NewClient(baseURL string, timeout time.Duration, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("api url %q must be absolute", baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: u,
		http:    httpClient,
		logger:  logging.Component(logging.L(), "history"),
	}, nil
}

// WithLogger returns a copy using l.
func (c *Client) WithLogger(l zerolog.Logger) *Client {
	cp := *c
	cp.logger = logging.Component(l, "history")
	return &cp
}

// FetchHistory returns the job's messages in server order.
func (c *Client) FetchHistory(ctx context.Context, jobID, token string) ([]chat.Message, error) {
	endpoint := c.resolve("messages/")
	q := endpoint.Query()
	q.Set("job_id", jobID)
	endpoint.RawQuery = q.Encode()

	var records []chat.HistoryRecord
	if err := c.do(ctx, http.MethodGet, endpoint, token, nil, &records); err != nil {
		return nil, fmt.Errorf("fetch history for job %s: %w", jobID, err)
	}

	messages := make([]chat.Message, 0, len(records))
	for _, rec := range records {
		messages = append(messages, rec.ToMessage())
	}
	c.logger.Debug().Str("job", jobID).Int("count", len(messages)).Msg("history fetched")
	return messages, nil
}

// MarkRead marks every message in the job received by the token's user as
// read and returns how many changed.
func (c *Client) MarkRead(ctx context.Context, jobID, token string) (int, error) {
	var resp struct {
		Status  string `json:"status"`
		Updated int    `json:"updated"`
	}
	body := map[string]string{"job_id": jobID}
	if err := c.do(ctx, http.MethodPost, c.resolve("messages/mark_read/"), token, body, &resp); err != nil {
		return 0, fmt.Errorf("mark read for job %s: %w", jobID, err)
	}
	return resp.Updated, nil
}

func (c *Client) resolve(path string) *url.URL {
	return c.baseURL.ResolveReference(&url.URL{Path: path})
}

func (c *Client) do(ctx context.Context, method string, endpoint *url.URL, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
		switch {
		case resp.StatusCode == http.StatusForbidden:
			c.logger.Warn().Str("url", endpoint.Path).Msg("forbidden: no permission for this job")
		case resp.StatusCode >= 500:
			c.logger.Warn().Int("status", resp.StatusCode).Str("url", endpoint.Path).Msg("server error")
		}
		return statusErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
