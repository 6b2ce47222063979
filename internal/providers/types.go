// Package providers defines the completion-client contract consumed by
// the host bridge and implements it for the Anthropic and OpenAI APIs.
package providers

import (
	"context"
	"errors"

	"github.com/haasonsaas/scripthost/pkg/models"
)

// Common sentinel errors for provider operations.
var (
	// ErrNoProvider indicates no completion client is configured.
	ErrNoProvider = errors.New("no completion client configured")

	// ErrUnknownProvider indicates the provider hint resolved nothing.
	ErrUnknownProvider = errors.New("unknown provider")
)

// CompletionRequest carries one model call.
type CompletionRequest struct {
	// Model selects the model; empty means the client's default.
	Model string `json:"model"`

	// Messages is the conversation, oldest first.
	Messages []Message `json:"messages"`

	// MaxTokens caps the generated response; 0 means client default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// Message is a single conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Choice is one candidate response.
type Choice struct {
	Message ChoiceMessage `json:"message"`
}

// ChoiceMessage holds the generated content of a choice.
type ChoiceMessage struct {
	Content string `json:"content"`
}

// Completion is the provider response with usage and realised cost.
type Completion struct {
	Model   string            `json:"model"`
	Usage   models.TokenUsage `json:"usage"`
	USDCost float64           `json:"usd_cost"`
	Choices []Choice          `json:"choices"`
}

// Text returns the content of the first choice, or "".
func (c *Completion) Text() string {
	if len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Message.Content
}

// CompletionClient is the narrow surface the bridge calls. The provider
// hint routes the request when multiple backends are configured; an
// empty hint means the default backend.
//
// Implementations must be safe for concurrent use.
type CompletionClient interface {
	CreateCompletion(ctx context.Context, providerHint string, req *CompletionRequest) (*Completion, error)
}

// Router fans CreateCompletion out to named clients. The zero value is
// unusable; use NewRouter.
type Router struct {
	clients     map[string]CompletionClient
	defaultName string
}

// NewRouter builds a router over named clients. defaultName selects the
// backend used when the hint is empty; a non-empty hint that names no
// client is an error.
func NewRouter(defaultName string, clients map[string]CompletionClient) *Router {
	return &Router{clients: clients, defaultName: defaultName}
}

// CreateCompletion routes to the hinted client, falling back to the
// default for an empty hint.
func (r *Router) CreateCompletion(ctx context.Context, providerHint string, req *CompletionRequest) (*Completion, error) {
	name := providerHint
	if name == "" {
		name = r.defaultName
	}
	client, ok := r.clients[name]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return client.CreateCompletion(ctx, providerHint, req)
}
