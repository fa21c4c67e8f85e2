package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/jobchat/pkg/logging"
)

func authedRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(CORS)
	r.Use(TokenAuth(StaticTokens{"tok-a": "1"}))
	r.Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(UserID(r.Context())))
	})
	return r
}

func TestTokenAuth(t *testing.T) {
	r := authedRouter()

	cases := []struct {
		name   string
		target string
		header string
		status int
		body   string
	}{
		{"header", "/whoami", "Token tok-a", http.StatusOK, "1"},
		{"query", "/whoami?token=tok-a", "", http.StatusOK, "1"},
		{"missing", "/whoami", "", http.StatusUnauthorized, ""},
		{"unknown", "/whoami?token=nope", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "/whoami?token=tok-a", "Bearer tok-a", http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp := httptest.NewRecorder()
			r.ServeHTTP(resp, req)

			if resp.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, resp.Code)
			}
			if tc.body != "" && resp.Body.String() != tc.body {
				t.Fatalf("expected body %q, got %q", tc.body, resp.Body.String())
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	r := authedRouter()
	req := httptest.NewRequest(http.MethodOptions, "/whoami", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}

func TestRequestLoggerTagsRequestID(t *testing.T) {
	var buf bytes.Buffer
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(RequestLogger(zerolog.New(&buf)))
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		l := logging.Ctx(r.Context())
		l.Info().Msg("handled")
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(chimw.RequestIDHeader, "req-42")
	r.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	if !strings.Contains(out, `"request_id":"req-42"`) || !strings.Contains(out, `"message":"handled"`) {
		t.Fatalf("unexpected log output: %s", out)
	}
}
