package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"termgate/internal/models"
	"termgate/internal/provider"
	"termgate/internal/translator"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := New(srv.URL, "gemini-1.5-flash", srv.Client())
	require.NoError(t, err)
	return client, srv
}

func envelopeWithText(text string) translator.GenerateContentResponse {
	return translator.GenerateContentResponse{
		Candidates: []translator.Candidate{{
			Content: &translator.Content{
				Role:  "model",
				Parts: []translator.Part{{Text: text}},
			},
		}},
	}
}

func TestGenerateReturnsExtractedText(t *testing.T) {
	var gotPath, gotKey string
	var gotBody translator.GenerateContentRequest

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(envelopeWithText("hi there"))
	})

	text, err := client.Generate(context.Background(), "secret", "gemini-1.5-flash", []models.Message{
		{Role: models.RoleUser, Content: "hello"},
	})
	require.NoError(t, err)

	assert.Equal(t, "hi there", text)
	assert.Equal(t, "/models/gemini-1.5-flash:generateContent", gotPath)
	assert.Equal(t, "secret", gotKey)
	require.Len(t, gotBody.Contents, 1)
	assert.Equal(t, "user", gotBody.Contents[0].Role)
	assert.Equal(t, "hello", gotBody.Contents[0].Parts[0].Text)
}

func TestGenerateRequiresCredentialBeforeDialing(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	_, err := client.Generate(context.Background(), "", "gemini-1.5-flash", []models.Message{
		{Role: models.RoleUser, Content: "hello"},
	})
	assert.ErrorIs(t, err, provider.ErrMissingCredential)
	assert.Zero(t, calls.Load())
}

func TestGenerateSurfacesUpstreamError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"API key not valid","status":"PERMISSION_DENIED"}}`))
	})

	_, err := client.Generate(context.Background(), "bad", "gemini-1.5-flash", []models.Message{
		{Role: models.RoleUser, Content: "hello"},
	})

	var upstream *provider.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusForbidden, upstream.Status)
	assert.Equal(t, "API key not valid", upstream.Message)
}

func TestGenerateRejectsMalformedEnvelope(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := client.Generate(context.Background(), "secret", "gemini-1.5-flash", []models.Message{
		{Role: models.RoleUser, Content: "hello"},
	})
	assert.ErrorIs(t, err, provider.ErrMalformedResponse)
}

func TestAnalyzeImageRequiresCredentialWithZeroCalls(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	_, err := client.AnalyzeImage(context.Background(), "", "data:image/png;base64,AAAA", "")
	assert.ErrorIs(t, err, provider.ErrMissingCredential)
	assert.Zero(t, calls.Load())
}

func TestAnalyzeImageStripsDataURIAndDefaultsInstruction(t *testing.T) {
	var gotBody translator.GenerateContentRequest
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(envelopeWithText("a red square"))
	})

	text, err := client.AnalyzeImage(context.Background(), "secret", "data:image/png;base64,AAAA", "")
	require.NoError(t, err)
	assert.Equal(t, "a red square", text)

	require.Len(t, gotBody.Contents, 1)
	parts := gotBody.Contents[0].Parts
	require.Len(t, parts, 2)
	assert.Equal(t, defaultInstruction, parts[0].Text)
	require.NotNil(t, parts[1].InlineData)
	assert.Equal(t, "image/png", parts[1].InlineData.MimeType)
	assert.Equal(t, "AAAA", parts[1].InlineData.Data)
}

func TestAnalyzeImageRejectsEmptyImage(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	_, err := client.AnalyzeImage(context.Background(), "secret", "", "what is this?")
	assert.ErrorIs(t, err, provider.ErrInvalidInput)
}

func TestSplitDataURIWithoutPrefix(t *testing.T) {
	mimeType, data, err := splitDataURI("AAAA")
	require.NoError(t, err)
	assert.Equal(t, defaultMimeType, mimeType)
	assert.Equal(t, "AAAA", data)
}
