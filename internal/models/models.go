package models

// Role identifies the author of a conversational message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Backend selects which upstream chat protocol serves a request.
type Backend string

const (
	// BackendGemini is the synchronous-JSON generateContent protocol.
	BackendGemini Backend = "gemini"
	// BackendOpenRouter is the OpenAI-compatible token-streaming protocol.
	BackendOpenRouter Backend = "openrouter"
)

// Valid reports whether the backend is one of the supported protocols.
func (b Backend) Valid() bool {
	switch b {
	case BackendGemini, BackendOpenRouter:
		return true
	default:
		return false
	}
}

// Message represents a single conversational message in the unified schema.
// The conversation is an append-only ordered sequence replayed verbatim to
// the backend on every turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the canonical representation of one chat turn.
// It is constructed fresh per call and never persisted.
type ChatRequest struct {
	Backend    Backend
	ModelID    string
	Messages   []Message
	Credential string
}

// UnifiedChatResult is the single normalized output of either chat protocol,
// whether the text arrived as one JSON payload or as an accumulated stream.
type UnifiedChatResult struct {
	Text string
}

// ImageGenerationResult is the terminal value of one generation request.
// Exhaustion of the fallback chain yields Success=false with a nil ImageURL;
// that is a normal outcome, not an error.
type ImageGenerationResult struct {
	Success     bool    `json:"success"`
	ImageURL    *string `json:"imageUrl"`
	ServiceName string  `json:"serviceName,omitempty"`
	Message     string  `json:"message"`
	Prompt      string  `json:"prompt,omitempty"`
	Seed        int     `json:"seed,omitempty"`
}

// ProbeResult reports the first candidate model that answered successfully.
// Success=false means no candidate worked; it is a normal outcome.
type ProbeResult struct {
	Success  bool   `json:"success"`
	ModelID  string `json:"modelId,omitempty"`
	Response string `json:"response,omitempty"`
	Message  string `json:"message"`
}
