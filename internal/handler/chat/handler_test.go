package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/jobchat/internal/middleware"
	"github.com/zhouzirui/jobchat/internal/model/chat"
	chatservice "github.com/zhouzirui/jobchat/internal/service/chat"
	"github.com/zhouzirui/jobchat/internal/service/hub"
)

var tokens = middleware.StaticTokens{"cust": "1", "prov": "2", "stranger": "9"}

func setupRouter(t *testing.T) (*chi.Mux, *chatservice.Service) {
	t.Helper()
	chatSvc := chatservice.NewService()
	if _, err := chatSvc.RegisterJob(context.Background(), "7", "1", "2"); err != nil {
		t.Fatalf("RegisterJob err: %v", err)
	}
	handler := New(chatSvc, hub.New(hub.DefaultConfig(), zerolog.Nop()), zerolog.Nop())

	r := chi.NewRouter()
	r.Use(middleware.TokenAuth(tokens))
	handler.RegisterRoutes(r)
	return r, chatSvc
}

func do(r http.Handler, method, target, token string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestHistoryReturnsRecords(t *testing.T) {
	r, svc := setupRouter(t)
	if _, err := svc.SaveMessage(context.Background(), "7", "1", "hello"); err != nil {
		t.Fatalf("SaveMessage err: %v", err)
	}

	resp := do(r, http.MethodGet, "/messages/?job_id=7", "prov", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var records []chat.HistoryRecord
	if err := json.Unmarshal(resp.Body.Bytes(), &records); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 1 || records[0].Content != "hello" || records[0].Sender.ID != "1" || records[0].Receiver != "2" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestHistoryErrors(t *testing.T) {
	r, _ := setupRouter(t)

	cases := []struct {
		name   string
		target string
		token  string
		status int
	}{
		{"anonymous", "/messages/?job_id=7", "", http.StatusUnauthorized},
		{"missing job", "/messages/", "cust", http.StatusBadRequest},
		{"unknown job", "/messages/?job_id=8", "cust", http.StatusNotFound},
		{"outsider", "/messages/?job_id=7", "stranger", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := do(r, http.MethodGet, tc.target, tc.token, nil)
			if resp.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, resp.Code)
			}
		})
	}
}

func TestMarkRead(t *testing.T) {
	r, svc := setupRouter(t)
	ctx := context.Background()
	_, _ = svc.SaveMessage(ctx, "7", "1", "one")
	_, _ = svc.SaveMessage(ctx, "7", "1", "two")

	resp := do(r, http.MethodPost, "/messages/mark_read/", "prov", []byte(`{"job_id":7}`))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body struct {
		Status  string `json:"status"`
		Updated int    `json:"updated"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "success" || body.Updated != 2 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestMarkReadInvalidBody(t *testing.T) {
	r, _ := setupRouter(t)

	if resp := do(r, http.MethodPost, "/messages/mark_read/", "prov", []byte(`nope`)); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if resp := do(r, http.MethodPost, "/messages/mark_read/", "prov", []byte(`{}`)); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestPushNotificationValidation(t *testing.T) {
	r, _ := setupRouter(t)

	resp := do(r, http.MethodPost, "/notifications/", "cust", []byte(`{"user_id":2,"type":"job_update","message":"moved"}`))
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.Code)
	}
	resp = do(r, http.MethodPost, "/notifications/", "cust", []byte(`{"message":"x"}`))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}
