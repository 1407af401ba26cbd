package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"termgate/internal/models"
	"termgate/internal/provider"
	"termgate/internal/translator"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "termgate/0.1"

	defaultInstruction = "Describe this image in detail and explain what you see."
	defaultMimeType    = "image/jpeg"

	chatMaxOutputTokens   = 8192
	visionMaxOutputTokens = 4096
)

// Client calls the Gemini generateContent API. One outbound request per
// invocation; the credential travels as a query parameter per the Gemini
// REST convention.
type Client struct {
	baseURL     string
	visionModel string
	client      *http.Client
}

// New constructs a Gemini client.
func New(baseURL, visionModel string, client *http.Client) (*Client, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}

	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}
	if strings.TrimSpace(visionModel) == "" {
		return nil, errors.New("vision model must not be empty")
	}

	return &Client{
		baseURL:     baseURL,
		visionModel: visionModel,
		client:      client,
	}, nil
}

// Generate performs one synchronous chat completion and returns the plain
// text answer extracted from the response envelope.
func (c *Client) Generate(ctx context.Context, credential, modelID string, messages []models.Message) (string, error) {
	if strings.TrimSpace(credential) == "" {
		return "", provider.ErrMissingCredential
	}

	contents, err := translator.ToGeminiContents(messages)
	if err != nil {
		return "", err
	}

	payload := translator.GenerateContentRequest{
		Contents: contents,
		GenerationConfig: &translator.GenerationConfig{
			Temperature:     0.7,
			TopK:            40,
			TopP:            0.95,
			MaxOutputTokens: chatMaxOutputTokens,
		},
	}

	return c.generate(ctx, credential, modelID, payload)
}

// AnalyzeImage sends one image plus an instruction and returns the textual
// description. The image arrives as a data-URI string; its prefix is stripped
// before upload. An empty instruction falls back to a generic description
// prompt.
func (c *Client) AnalyzeImage(ctx context.Context, credential, imageData, instruction string) (string, error) {
	if strings.TrimSpace(credential) == "" {
		return "", provider.ErrMissingCredential
	}

	mimeType, data, err := splitDataURI(imageData)
	if err != nil {
		return "", err
	}

	if strings.TrimSpace(instruction) == "" {
		instruction = defaultInstruction
	}

	payload := translator.GenerateContentRequest{
		Contents: []translator.Content{{
			Role: "user",
			Parts: []translator.Part{
				{Text: instruction},
				{InlineData: &translator.InlineData{
					MimeType: mimeType,
					Data:     data,
				}},
			},
		}},
		GenerationConfig: &translator.GenerationConfig{
			Temperature:     0.7,
			TopK:            40,
			TopP:            0.95,
			MaxOutputTokens: visionMaxOutputTokens,
		},
	}

	return c.generate(ctx, credential, c.visionModel, payload)
}

func (c *Client) generate(ctx context.Context, credential, modelID string, payload translator.GenerateContentRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		c.baseURL, url.PathEscape(modelID), url.QueryEscape(credential))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", parseAPIError(resp)
	}

	var envelope translator.GenerateContentResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", fmt.Errorf("%w: %v", provider.ErrMalformedResponse, err)
	}

	return envelope.FirstText()
}

// splitDataURI strips the data-URI prefix from imageData and reports the
// declared mime type, defaulting to JPEG when no prefix is present.
func splitDataURI(imageData string) (mimeType, data string, err error) {
	if strings.TrimSpace(imageData) == "" {
		return "", "", fmt.Errorf("%w: image data is required", provider.ErrInvalidInput)
	}

	mimeType = defaultMimeType
	data = imageData

	if strings.HasPrefix(imageData, "data:") {
		idx := strings.Index(imageData, ",")
		if idx < 0 {
			return "", "", fmt.Errorf("%w: data URI missing payload", provider.ErrInvalidInput)
		}
		header := strings.TrimPrefix(imageData[:idx], "data:")
		data = imageData[idx+1:]

		if semi := strings.Index(header, ";"); semi >= 0 {
			header = header[:semi]
		}
		if header != "" {
			mimeType = header
		}
	}

	if data == "" {
		return "", "", fmt.Errorf("%w: image payload is empty", provider.ErrInvalidInput)
	}
	return mimeType, data, nil
}

type apiErrorResponse struct {
	Error apiErrorObject `json:"error"`
}

type apiErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func parseAPIError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return &provider.UpstreamError{Status: resp.StatusCode, Message: "failed to read error body"}
	}

	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return &provider.UpstreamError{Status: resp.StatusCode, Message: apiErr.Error.Message}
	}

	return &provider.UpstreamError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}
