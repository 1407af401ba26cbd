package translator

import (
	"fmt"

	"termgate/internal/models"
	"termgate/internal/provider"
)

const (
	geminiRoleUser  = "user"
	geminiRoleModel = "model"
)

// Content is one conversational unit in the Gemini wire schema.
type Content struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// Part carries either text or inline binary data.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inline_data,omitempty"`
}

// InlineData embeds a base64 payload such as an image.
type InlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

// GenerationConfig tunes Gemini sampling parameters.
type GenerationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	TopK            int     `json:"topK,omitempty"`
	TopP            float64 `json:"topP,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

// GenerateContentRequest is the request envelope for generateContent.
type GenerateContentRequest struct {
	Contents         []Content         `json:"contents"`
	GenerationConfig *GenerationConfig `json:"generationConfig,omitempty"`
}

// GenerateContentResponse is the response envelope for generateContent.
type GenerateContentResponse struct {
	Candidates []Candidate `json:"candidates"`
}

// Candidate is one generated answer inside the response envelope.
type Candidate struct {
	Content *Content `json:"content"`
}

// ToGeminiContents converts an ordered unified conversation into Gemini
// contents. Assistant turns map to the "model" role, user turns to "user";
// each message becomes exactly one content unit, preserving order and count.
func ToGeminiContents(messages []models.Message) ([]Content, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("%w: conversation must not be empty", provider.ErrInvalidInput)
	}

	contents := make([]Content, 0, len(messages))
	for _, msg := range messages {
		var role string
		switch msg.Role {
		case models.RoleUser:
			role = geminiRoleUser
		case models.RoleAssistant:
			role = geminiRoleModel
		default:
			return nil, fmt.Errorf("%w: unsupported role %q", provider.ErrInvalidInput, msg.Role)
		}

		contents = append(contents, Content{
			Role:  role,
			Parts: []Part{{Text: msg.Content}},
		})
	}

	return contents, nil
}

// FirstText descends candidates[0].content.parts[0].text and returns the
// extracted answer. Any absent level of that path is a malformed envelope.
// Both the chat and vision adapters extract through this single path.
func (r *GenerateContentResponse) FirstText() (string, error) {
	if len(r.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates", provider.ErrMalformedResponse)
	}

	content := r.Candidates[0].Content
	if content == nil {
		return "", fmt.Errorf("%w: candidate missing content", provider.ErrMalformedResponse)
	}
	if len(content.Parts) == 0 {
		return "", fmt.Errorf("%w: candidate content missing parts", provider.ErrMalformedResponse)
	}

	return content.Parts[0].Text, nil
}
