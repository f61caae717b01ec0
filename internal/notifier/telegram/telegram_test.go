package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/newthinker/tradecore/internal/notifier"
)

func TestTelegram_ImplementsNotifier(t *testing.T) {
	var _ notifier.Notifier = (*Telegram)(nil)
}

func TestTelegram_New(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		chatID  string
		wantErr bool
	}{
		{"valid", "token", "chat", false},
		{"missing token", "", "chat", true},
		{"missing chat id", "token", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tg, err := New(tt.token, tt.chatID)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && tg.Name() != "telegram" {
				t.Errorf("expected 'telegram', got '%s'", tg.Name())
			}
		})
	}
}

func TestTelegram_Send(t *testing.T) {
	var receivedPayload map[string]any
	var receivedPath string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&receivedPayload)
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer server.Close()

	tg, _ := New("test-token", "test-chat", WithBaseURL(server.URL+"/"))

	msg := notifier.Message{
		Title:    "Emergency stop",
		Body:     "run cancelled",
		Severity: notifier.SeverityCritical,
		Time:     time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
	}
	if err := tg.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if receivedPath != "/bottest-token/sendMessage" {
		t.Errorf("unexpected path %s", receivedPath)
	}
	if receivedPayload["chat_id"] != "test-chat" {
		t.Errorf("expected chat_id test-chat, got %v", receivedPayload["chat_id"])
	}
	text, _ := receivedPayload["text"].(string)
	if !strings.Contains(text, "Emergency stop") || !strings.Contains(text, "run cancelled") {
		t.Errorf("unexpected text %q", text)
	}
}

func TestTelegram_Send_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "chat not found"})
	}))
	defer server.Close()

	tg, _ := New("token", "chat", WithBaseURL(server.URL))
	err := tg.Send(context.Background(), notifier.Message{Title: "x"})
	if err == nil {
		t.Fatal("expected error for API failure")
	}
	if !strings.Contains(err.Error(), "400") {
		t.Errorf("error should mention status: %v", err)
	}
}

func TestTelegram_Format(t *testing.T) {
	tg, _ := New("token", "chat")

	tests := []struct {
		name     string
		msg      notifier.Message
		contains []string
	}{
		{
			name: "critical with fields",
			msg: notifier.Message{
				Title:    "Circuit breaker tripped",
				Severity: notifier.SeverityCritical,
				Fields:   map[string]string{"losses": "5", "until": "13:00"},
				Time:     time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
			},
			contains: []string{"🚨", "*Circuit breaker tripped*", "losses: 5\nuntil: 13:00", "2024-01-15 10:30:00"},
		},
		{
			name:     "warning with symbol",
			msg:      notifier.Message{Title: "Order failed", Severity: notifier.SeverityWarning, Symbol: "ETHUSDT"},
			contains: []string{"⚠️", "Symbol: ETHUSDT"},
		},
		{
			name:     "info",
			msg:      notifier.Message{Title: "Breaker reset", Severity: notifier.SeverityInfo},
			contains: []string{"ℹ️"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tg.format(tt.msg)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("format() = %q, missing %q", got, want)
				}
			}
		})
	}
}
