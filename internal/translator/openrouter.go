package translator

import (
	"fmt"

	"termgate/internal/models"
	"termgate/internal/provider"
)

// ChatMessage is one message in the OpenAI-compatible wire schema used by
// OpenRouter.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest is the request payload for a streaming completion.
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// StreamChunk is one SSE data payload from a streaming completion.
type StreamChunk struct {
	Choices []StreamChoice `json:"choices"`
}

// StreamChoice holds the incremental delta for one choice.
type StreamChoice struct {
	Delta        StreamDelta `json:"delta"`
	FinishReason string      `json:"finish_reason"`
}

// StreamDelta carries the text fragment added by a chunk.
type StreamDelta struct {
	Content string `json:"content"`
}

// Fragment returns the text fragment carried by the chunk, if any.
func (c *StreamChunk) Fragment() string {
	if len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Delta.Content
}

// ToOpenRouterMessages validates and converts an ordered unified conversation
// into OpenAI-compatible messages. Roles pass through as user/assistant;
// order and count are preserved.
func ToOpenRouterMessages(messages []models.Message) ([]ChatMessage, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("%w: conversation must not be empty", provider.ErrInvalidInput)
	}

	wire := make([]ChatMessage, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleUser, models.RoleAssistant:
			wire = append(wire, ChatMessage{
				Role:    string(msg.Role),
				Content: msg.Content,
			})
		default:
			return nil, fmt.Errorf("%w: unsupported role %q", provider.ErrInvalidInput, msg.Role)
		}
	}

	return wire, nil
}
