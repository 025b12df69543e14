package llm

import (
	"context"

	"github.com/sashabaranov/go-openai"
)

// Client is the subset of openai.Client used by the assistant; it is easy to mock in tests.
type Client interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Factory builds a Client for a credential. The assistant calls it again
// whenever the credential changes.
type Factory func(apiKey, baseURL string) Client
