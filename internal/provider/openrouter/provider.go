package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"termgate/internal/models"
	"termgate/internal/provider"
	"termgate/internal/translator"
)

const (
	contentTypeJSON = "application/json"
	contentTypeSSE  = "text/event-stream"
	userAgent       = "termgate/0.1"

	defaultTemperature = 0.7
	defaultMaxTokens   = 8192
)

// Client calls the OpenRouter chat completions API in streaming mode.
type Client struct {
	baseURL string
	client  *http.Client
}

// New constructs an OpenRouter client.
func New(baseURL string, client *http.Client) (*Client, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}

	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}

	return &Client{
		baseURL: baseURL,
		client:  client,
	}, nil
}

// StreamChat issues one streaming completion request and forwards each text
// fragment to onFragment in arrival order, with no deduplication or
// reordering. It returns the full concatenation once the stream ends. A
// stream that terminates before any fragment arrives is an empty response.
// Cancelling ctx aborts the open upstream call.
func (c *Client) StreamChat(ctx context.Context, credential, modelID string, messages []models.Message, onFragment func(string) error) (string, error) {
	if strings.TrimSpace(credential) == "" {
		return "", provider.ErrMissingCredential
	}

	wireMessages, err := translator.ToOpenRouterMessages(messages)
	if err != nil {
		return "", err
	}

	payload := translator.ChatCompletionRequest{
		Model:       modelID,
		Messages:    wireMessages,
		Stream:      true,
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeSSE)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("openrouter request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", parseAPIError(resp)
	}

	scanner := newSSEScanner(resp.Body)
	var full strings.Builder
	fragments := 0

	for {
		data, err := scanner.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("read stream: %w", err)
		}

		var chunk translator.StreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return "", fmt.Errorf("%w: %v", provider.ErrMalformedResponse, err)
		}

		fragment := chunk.Fragment()
		if fragment == "" {
			continue
		}

		fragments++
		full.WriteString(fragment)
		if onFragment != nil {
			if err := onFragment(fragment); err != nil {
				return "", err
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if fragments == 0 {
		return "", provider.ErrEmptyResponse
	}

	return full.String(), nil
}

type apiErrorResponse struct {
	Error apiErrorObject `json:"error"`
}

type apiErrorObject struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
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
