// Package email implements an SMTP-based email notifier
package email

import (
	"context"
	"fmt"
	"net/smtp"
	"sort"
	"strings"

	"github.com/newthinker/tradecore/internal/notifier"
)

// Config holds the SMTP settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Email sends each message as a plain-text mail.
type Email struct {
	cfg  Config
	send sendFunc
}

// New creates a new Email notifier
func New(cfg Config) (*Email, error) {
	if cfg.Host == "" || cfg.From == "" || len(cfg.To) == 0 {
		return nil, fmt.Errorf("email: host, from, and to are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &Email{cfg: cfg, send: smtp.SendMail}, nil
}

func (e *Email) Name() string { return "email" }

// Send delivers msg. net/smtp has no context support, so ctx is only
// checked before dialing.
func (e *Email) Send(ctx context.Context, msg notifier.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subject := fmt.Sprintf("[tradecore] %s: %s", strings.ToUpper(string(msg.Severity)), msg.Title)
	return e.sendEmail(subject, formatBody(msg))
}

func formatBody(msg notifier.Message) string {
	var sb strings.Builder
	sb.WriteString(msg.Title)
	sb.WriteString("\n\n")
	if msg.Body != "" {
		sb.WriteString(msg.Body)
		sb.WriteString("\n\n")
	}
	if msg.Symbol != "" {
		fmt.Fprintf(&sb, "Symbol: %s\n", msg.Symbol)
	}
	fmt.Fprintf(&sb, "Source: %s\n", msg.Source)

	keys := make([]string, 0, len(msg.Fields))
	for k := range msg.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s: %s\n", k, msg.Fields[k])
	}
	fmt.Fprintf(&sb, "Time: %s\n", msg.Time.UTC().Format("2006-01-02 15:04:05 MST"))
	return sb.String()
}

func (e *Email) sendEmail(subject, body string) error {
	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)

	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}

	msg := fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"MIME-Version: 1.0\r\n"+
		"Content-Type: text/plain; charset=UTF-8\r\n"+
		"\r\n"+
		"%s",
		e.cfg.From,
		strings.Join(e.cfg.To, ","),
		subject,
		body,
	)

	if err := e.send(addr, auth, e.cfg.From, e.cfg.To, []byte(msg)); err != nil {
		return fmt.Errorf("email: %w", err)
	}
	return nil
}
