package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"termgate/internal/models"
	"termgate/internal/provider"
)

// GeminiBackend serves synchronous chat completions.
type GeminiBackend interface {
	Generate(ctx context.Context, credential, modelID string, messages []models.Message) (string, error)
}

// StreamBackend serves incremental chat completions.
type StreamBackend interface {
	StreamChat(ctx context.Context, credential, modelID string, messages []models.Message, onFragment func(string) error) (string, error)
}

// Defaults supplies fallback model identifiers and the prober candidate list.
type Defaults struct {
	GeminiModel     string
	OpenRouterModel string
	ProbeCandidates []string
}

// Router presents one chat operation over two incompatible backend
// protocols. Selection is driven solely by the request's backend
// discriminator; the router never infers the protocol from payload shape.
type Router struct {
	gemini     GeminiBackend
	openrouter StreamBackend
	defaults   Defaults
}

// New constructs a router over the two chat backends.
func New(gemini GeminiBackend, openrouter StreamBackend, defaults Defaults) *Router {
	return &Router{
		gemini:     gemini,
		openrouter: openrouter,
		defaults:   defaults,
	}
}

// Chat dispatches one chat turn and returns the unified result. For the
// streaming backend each fragment is forwarded through onFragment as it
// arrives; for the synchronous backend onFragment is invoked once with the
// whole text, so callers consume both protocols through one code path.
// Exactly one outbound call is made per invocation.
func (r *Router) Chat(ctx context.Context, req models.ChatRequest, onFragment func(string) error) (*models.UnifiedChatResult, error) {
	if strings.TrimSpace(req.Credential) == "" {
		return nil, provider.ErrMissingCredential
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("%w: conversation must not be empty", provider.ErrInvalidInput)
	}

	switch req.Backend {
	case models.BackendGemini:
		modelID := req.ModelID
		if modelID == "" {
			modelID = r.defaults.GeminiModel
		}
		text, err := r.gemini.Generate(ctx, req.Credential, modelID, req.Messages)
		if err != nil {
			return nil, fmt.Errorf("gemini chat: %w", err)
		}
		if onFragment != nil {
			if err := onFragment(text); err != nil {
				return nil, err
			}
		}
		return &models.UnifiedChatResult{Text: text}, nil

	case models.BackendOpenRouter:
		modelID := req.ModelID
		if modelID == "" {
			modelID = r.defaults.OpenRouterModel
		}
		text, err := r.openrouter.StreamChat(ctx, req.Credential, modelID, req.Messages, onFragment)
		if err != nil {
			return nil, fmt.Errorf("openrouter chat: %w", err)
		}
		return &models.UnifiedChatResult{Text: text}, nil

	default:
		return nil, fmt.Errorf("%w: unknown backend %q", provider.ErrInvalidInput, req.Backend)
	}
}

const probePrompt = "Hello, this is a test message. Please respond with 'API working!'"

// ProbeModel tries the fixed candidate list against the synchronous chat
// path and reports the first model that answers successfully. Each candidate
// gets exactly one attempt. An empty-handed walk is a normal outcome.
func (r *Router) ProbeModel(ctx context.Context, credential string) (models.ProbeResult, error) {
	if strings.TrimSpace(credential) == "" {
		return models.ProbeResult{}, provider.ErrMissingCredential
	}

	probeMessages := []models.Message{{Role: models.RoleUser, Content: probePrompt}}

	for _, candidate := range r.defaults.ProbeCandidates {
		text, err := r.gemini.Generate(ctx, credential, candidate, probeMessages)
		if err != nil {
			if ctx.Err() != nil {
				return models.ProbeResult{}, ctx.Err()
			}
			slog.Warn("model probe failed", "model", candidate, "err", err)
			continue
		}

		return models.ProbeResult{
			Success:  true,
			ModelID:  candidate,
			Response: text,
			Message:  fmt.Sprintf("Working with model: %s", candidate),
		}, nil
	}

	return models.ProbeResult{
		Success: false,
		Message: "No working models found. Check your API key and try again.",
	}, nil
}
