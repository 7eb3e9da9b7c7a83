// Package llm – synthesis stage.
//
// This file turns extracted StoryElements into narrative prose with a plain
// completion (no tools). The prompt embeds every element verbatim so the
// model writes against the exact metadata that will be persisted alongside
// the text.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

// Writer turns StoryElements into prose.
type Writer interface {
	Write(ctx context.Context, el StoryElements) (string, error)
}

const writeSystemPrompt = "You are a creative and talented storyteller. " +
	"Write engaging, vivid stories that captivate the reader."

// OpenAIWriter implements Writer against a chat-completion model.
type OpenAIWriter struct {
	Client      ChatCompleter
	Model       string
	Temperature float32
	MaxTokens   int
}

// Write requests a complete 300–500 word story built from the elements.
// Transport failure is returned as-is. An empty response (no choices, or a
// blank first choice) is NOT an error: the pipeline persists an empty
// narrative rather than discarding the extracted metadata.
func (w *OpenAIWriter) Write(ctx context.Context, el StoryElements) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: w.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: writeSystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildStoryPrompt(el),
			},
		},
		Temperature: w.Temperature,
		MaxTokens:   w.MaxTokens,
	}

	resp, err := w.Client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		log.Warn().Msg("synthesis: model returned no choices, story body will be empty")
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// buildStoryPrompt embeds the elements verbatim, characters comma-joined,
// followed by the fixed length/tone instruction.
func buildStoryPrompt(el StoryElements) string {
	return fmt.Sprintf(`
You are a master storyteller. Based on the following image analysis and story elements, write a compelling and engaging story.

Image Description: %s
Title: %s
Genre: %s
Mood: %s
Characters: %s
Setting: %s

Write a complete story (300-500 words) that incorporates these elements. Make it engaging, vivid, and emotionally resonant. The story should feel inspired by the image.
`,
		el.ImageDescription,
		el.Title,
		el.Genre,
		el.Mood,
		strings.Join(el.Characters, ", "),
		el.Setting,
	)
}
