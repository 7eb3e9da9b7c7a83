// Package llm contains the language-model side of the story pipeline: the
// chat-completion client plus the two generation stages (structured element
// extraction and prose synthesis).
//
// The package talks to any OpenAI-compatible endpoint through
// github.com/sashabaranov/go-openai. Services depend on the narrow
// ChatCompleter interface rather than the concrete client, which keeps the
// stages testable with an in-memory fake.
package llm

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tbourn/go-story-backend/internal/config"
)

// ErrNoAPIKey is returned by New when no credential is configured. The
// pipeline cannot run without one; there is no offline mode.
var ErrNoAPIKey = errors.New("llm: API key not configured")

// ChatCompleter is the minimal completion surface the stages need. It is
// satisfied by *openai.Client. Implementations must return an error on
// transport or auth failure; the pipeline treats any such error as fatal for
// the current run (no internal retry).
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// New builds an OpenAI-compatible client from configuration. A non-empty
// BaseURL redirects the client at a gateway (e.g. OpenRouter) without any
// other code change.
func New(cfg config.LLMConfig) (*openai.Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(oc), nil
}
