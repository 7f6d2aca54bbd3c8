package ai

import (
	"context"
	"net/http"
)

// Role identifies the speaker of a prompt message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of the conversation sent to a model.
type Message struct {
	Role    Role
	Content string
}

// Prompt is a provider-neutral completion request.
type Prompt struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Completer is a hosted text model.
type Completer interface {
	Name() string
	Complete(ctx context.Context, p Prompt) (string, error)
}

// ProviderConfig holds the settings shared by every provider client.
type ProviderConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	MaxRetries int
	HTTPClient *http.Client
}
