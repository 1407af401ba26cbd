package translator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"termgate/internal/models"
	"termgate/internal/provider"
)

func TestToOpenRouterMessagesPreservesOrderAndCount(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleUser, Content: "hello"},
		{Role: models.RoleAssistant, Content: "hi"},
	}

	wire, err := ToOpenRouterMessages(messages)
	require.NoError(t, err)
	require.Len(t, wire, 2)

	assert.Equal(t, ChatMessage{Role: "user", Content: "hello"}, wire[0])
	assert.Equal(t, ChatMessage{Role: "assistant", Content: "hi"}, wire[1])
}

func TestToOpenRouterMessagesRejectsEmptyConversation(t *testing.T) {
	_, err := ToOpenRouterMessages([]models.Message{})
	assert.ErrorIs(t, err, provider.ErrInvalidInput)
}

func TestToOpenRouterMessagesRejectsUnknownRole(t *testing.T) {
	_, err := ToOpenRouterMessages([]models.Message{
		{Role: "tool", Content: "{}"},
	})
	assert.ErrorIs(t, err, provider.ErrInvalidInput)
}

func TestStreamChunkFragment(t *testing.T) {
	chunk := StreamChunk{
		Choices: []StreamChoice{{Delta: StreamDelta{Content: "tok"}}},
	}
	assert.Equal(t, "tok", chunk.Fragment())

	empty := StreamChunk{}
	assert.Empty(t, empty.Fragment())
}
