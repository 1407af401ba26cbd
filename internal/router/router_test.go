package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"termgate/internal/models"
	"termgate/internal/provider"
)

type fakeGemini struct {
	responses map[string]string // modelID -> text
	failWith  map[string]error  // modelID -> error
	calls     []string          // modelIDs in call order
}

func (f *fakeGemini) Generate(ctx context.Context, credential, modelID string, messages []models.Message) (string, error) {
	f.calls = append(f.calls, modelID)
	if err, ok := f.failWith[modelID]; ok {
		return "", err
	}
	return f.responses[modelID], nil
}

type fakeStream struct {
	fragments []string
	err       error
	gotModel  string
}

func (f *fakeStream) StreamChat(ctx context.Context, credential, modelID string, messages []models.Message, onFragment func(string) error) (string, error) {
	f.gotModel = modelID
	if f.err != nil {
		return "", f.err
	}
	var full string
	for _, fragment := range f.fragments {
		full += fragment
		if onFragment != nil {
			if err := onFragment(fragment); err != nil {
				return "", err
			}
		}
	}
	return full, nil
}

func defaults() Defaults {
	return Defaults{
		GeminiModel:     "gemini-1.5-flash",
		OpenRouterModel: "deepseek/deepseek-r1",
		ProbeCandidates: []string{"gemini-1.5-flash", "gemini-1.5-pro", "gemini-pro"},
	}
}

func conversation() []models.Message {
	return []models.Message{{Role: models.RoleUser, Content: "hello"}}
}

func TestChatGeminiPathReturnsUnifiedResult(t *testing.T) {
	gemini := &fakeGemini{responses: map[string]string{"gemini-1.5-flash": "hi there"}}
	rt := New(gemini, &fakeStream{}, defaults())

	var fragments []string
	result, err := rt.Chat(context.Background(), models.ChatRequest{
		Backend:    models.BackendGemini,
		Messages:   conversation(),
		Credential: "secret",
	}, func(fragment string) error {
		fragments = append(fragments, fragment)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, "hi there", result.Text)
	assert.Equal(t, []string{"hi there"}, fragments, "sync path forwards one fragment with the whole text")
	assert.Equal(t, []string{"gemini-1.5-flash"}, gemini.calls, "default model applied")
}

func TestChatOpenRouterPathStreamsFragments(t *testing.T) {
	stream := &fakeStream{fragments: []string{"hel", "lo"}}
	rt := New(&fakeGemini{}, stream, defaults())

	var fragments []string
	result, err := rt.Chat(context.Background(), models.ChatRequest{
		Backend:    models.BackendOpenRouter,
		ModelID:    "custom-model",
		Messages:   conversation(),
		Credential: "secret",
	}, func(fragment string) error {
		fragments = append(fragments, fragment)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, "hello", result.Text)
	assert.Equal(t, []string{"hel", "lo"}, fragments)
	assert.Equal(t, "custom-model", stream.gotModel)
}

func TestChatRejectsUnknownBackend(t *testing.T) {
	rt := New(&fakeGemini{}, &fakeStream{}, defaults())

	_, err := rt.Chat(context.Background(), models.ChatRequest{
		Backend:    "anthropic",
		Messages:   conversation(),
		Credential: "secret",
	}, nil)

	assert.ErrorIs(t, err, provider.ErrInvalidInput)
}

func TestChatRejectsMissingCredential(t *testing.T) {
	gemini := &fakeGemini{}
	rt := New(gemini, &fakeStream{}, defaults())

	_, err := rt.Chat(context.Background(), models.ChatRequest{
		Backend:  models.BackendGemini,
		Messages: conversation(),
	}, nil)

	assert.ErrorIs(t, err, provider.ErrMissingCredential)
	assert.Empty(t, gemini.calls)
}

func TestChatRejectsEmptyConversation(t *testing.T) {
	rt := New(&fakeGemini{}, &fakeStream{}, defaults())

	_, err := rt.Chat(context.Background(), models.ChatRequest{
		Backend:    models.BackendGemini,
		Credential: "secret",
	}, nil)

	assert.ErrorIs(t, err, provider.ErrInvalidInput)
}

func TestProbeModelPicksFirstWorkingCandidate(t *testing.T) {
	gemini := &fakeGemini{
		responses: map[string]string{"gemini-1.5-pro": "API working!"},
		failWith: map[string]error{
			"gemini-1.5-flash": &provider.UpstreamError{Status: 404, Message: "model not found"},
		},
	}
	rt := New(gemini, &fakeStream{}, defaults())

	result, err := rt.ProbeModel(context.Background(), "secret")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "gemini-1.5-pro", result.ModelID)
	assert.Equal(t, []string{"gemini-1.5-flash", "gemini-1.5-pro"}, gemini.calls,
		"probing stops at the first success")
}

func TestProbeModelIsIdempotent(t *testing.T) {
	gemini := &fakeGemini{responses: map[string]string{"gemini-1.5-flash": "API working!"}}
	rt := New(gemini, &fakeStream{}, defaults())

	first, err := rt.ProbeModel(context.Background(), "secret")
	require.NoError(t, err)
	second, err := rt.ProbeModel(context.Background(), "secret")
	require.NoError(t, err)

	assert.Equal(t, first.ModelID, second.ModelID)
}

func TestProbeModelExhaustionIsNotAnError(t *testing.T) {
	gemini := &fakeGemini{
		failWith: map[string]error{
			"gemini-1.5-flash": &provider.UpstreamError{Status: 403},
			"gemini-1.5-pro":   &provider.UpstreamError{Status: 403},
			"gemini-pro":       &provider.UpstreamError{Status: 403},
		},
	}
	rt := New(gemini, &fakeStream{}, defaults())

	result, err := rt.ProbeModel(context.Background(), "secret")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Empty(t, result.ModelID)
	assert.NotEmpty(t, result.Message)
}

func TestProbeModelRequiresCredential(t *testing.T) {
	gemini := &fakeGemini{}
	rt := New(gemini, &fakeStream{}, defaults())

	_, err := rt.ProbeModel(context.Background(), " ")
	assert.ErrorIs(t, err, provider.ErrMissingCredential)
	assert.Empty(t, gemini.calls)
}
