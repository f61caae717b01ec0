// Package notifier delivers operator alerts to external channels.
package notifier

import (
	"context"
	"time"
)

// Severity ranks a message.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Message is one alert for a human.
type Message struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Severity Severity          `json:"severity"`
	Source   string            `json:"source"` // event kind or rule name
	Symbol   string            `json:"symbol,omitempty"`
	Time     time.Time         `json:"time"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// Notifier sends messages to one channel.
type Notifier interface {
	// Name returns the unique identifier for this notifier
	Name() string

	// Send delivers msg, honoring ctx cancellation where the channel allows
	Send(ctx context.Context, msg Message) error
}
