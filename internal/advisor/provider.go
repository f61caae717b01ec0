package advisor

import (
	"context"
	"fmt"
)

// Provider is a chat-completion backend.
type Provider interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ChatRequest holds the request parameters.
type ChatRequest struct {
	SystemPrompt string
	Messages     []Message
	MaxTokens    int
	Temperature  float64
	JSONMode     bool
}

// Message represents a chat message.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// ChatResponse holds the response from the model.
type ChatResponse struct {
	Content      string
	Usage        Usage
	FinishReason string
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

const defaultMaxTokens = 1024

// ProviderConfig selects and configures a Provider.
type ProviderConfig struct {
	Provider string // claude, openai, ollama
	APIKey   string
	Model    string
	// Endpoint overrides the API base URL.
	Endpoint string
}

// NewProvider creates a Provider from cfg.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Provider {
	case "claude":
		return NewClaude(cfg.APIKey, cfg.Model, cfg.Endpoint)
	case "openai":
		return NewOpenAI(cfg.APIKey, cfg.Model, cfg.Endpoint)
	case "ollama":
		return NewOllama(cfg.Endpoint, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown advisor provider: %q", cfg.Provider)
	}
}
