package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/newthinker/tradecore/internal/notifier"
)

const defaultBaseURL = "https://api.telegram.org"

// Telegram sends messages through the Telegram Bot API.
type Telegram struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
}

// Option configures a Telegram notifier.
type Option func(*Telegram)

// WithBaseURL points the notifier at another Bot API host.
func WithBaseURL(url string) Option {
	return func(t *Telegram) { t.baseURL = strings.TrimRight(url, "/") }
}

// New creates a new Telegram notifier
func New(botToken, chatID string, opts ...Option) (*Telegram, error) {
	if botToken == "" {
		return nil, fmt.Errorf("telegram: bot_token is required")
	}
	if chatID == "" {
		return nil, fmt.Errorf("telegram: chat_id is required")
	}
	t := &Telegram{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  defaultBaseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *Telegram) Name() string {
	return "telegram"
}

func (t *Telegram) Send(ctx context.Context, msg notifier.Message) error {
	return t.sendMessage(ctx, t.format(msg))
}

func (t *Telegram) format(msg notifier.Message) string {
	var sb strings.Builder

	icon := "ℹ️"
	switch msg.Severity {
	case notifier.SeverityWarning:
		icon = "⚠️"
	case notifier.SeverityCritical:
		icon = "🚨"
	}

	sb.WriteString(fmt.Sprintf("%s *%s*\n", icon, msg.Title))
	if msg.Symbol != "" {
		sb.WriteString(fmt.Sprintf("Symbol: %s\n", msg.Symbol))
	}
	if msg.Body != "" {
		sb.WriteString(msg.Body)
		sb.WriteString("\n")
	}

	keys := make([]string, 0, len(msg.Fields))
	for k := range msg.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("%s: %s\n", k, msg.Fields[k]))
	}

	sb.WriteString(fmt.Sprintf("⏰ %s", msg.Time.UTC().Format("2006-01-02 15:04:05")))

	return sb.String()
}

func (t *Telegram) sendMessage(ctx context.Context, text string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)

	payload := map[string]any{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var result map[string]any
		json.NewDecoder(resp.Body).Decode(&result)
		return fmt.Errorf("telegram: API error (status %d): %v", resp.StatusCode, result)
	}

	return nil
}
