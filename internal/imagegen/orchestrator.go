package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"

	"termgate/internal/models"
	"termgate/internal/provider"
)

const (
	contentTypeJSON = "application/json"

	// Some free image hosts reject non-browser user agents.
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

	imageWidth    = 1024
	imageHeight   = 1024
	maxImageBytes = 10 << 20
)

// ResponseKind classifies how a service hands back its image.
type ResponseKind string

const (
	// ResponseBinary means the body is raw image bytes to embed as a data URL.
	ResponseBinary ResponseKind = "binary"
	// ResponseDirectURL means the request URL itself is the image.
	ResponseDirectURL ResponseKind = "direct-url"
	// ResponseRedirectURL means the service redirects to the image.
	ResponseRedirectURL ResponseKind = "redirect-url"
)

// Service kinds select the request descriptor builder. Each service has its
// own URL shape, method and body encoding; there is no shared schema.
const (
	KindHuggingFace  = "huggingface"
	KindPollinations = "pollinations"
	KindPicsum       = "picsum"
)

// Service describes one candidate image-generation backend.
type Service struct {
	Name     string
	Kind     string
	BaseURL  string
	Response ResponseKind
}

// Orchestrator walks a fixed, ordered list of candidate services until one
// yields a usable image. Attempts are strictly serial; per-candidate failure
// is an expected branch, not an error. No health state is kept between calls.
type Orchestrator struct {
	services []Service
	client   *http.Client

	// seedFn is overridable in tests.
	seedFn func() int
}

// New constructs an orchestrator over the given candidate order.
func New(services []Service, client *http.Client) (*Orchestrator, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}
	if len(services) == 0 {
		return nil, errors.New("at least one image service must be configured")
	}

	for _, service := range services {
		if _, err := buildRequest(context.Background(), service, "probe", 0); err != nil {
			return nil, fmt.Errorf("service %q: %w", service.Name, err)
		}
		switch service.Response {
		case ResponseBinary, ResponseDirectURL, ResponseRedirectURL:
		default:
			return nil, fmt.Errorf("service %q: unsupported response kind %q", service.Name, service.Response)
		}
	}

	return &Orchestrator{
		services: services,
		client:   client,
		seedFn:   func() int { return rand.Intn(1000000) },
	}, nil
}

// Generate tries each candidate in declared order and stops at the first
// success. Exhausting every candidate is a normal terminal state reported as
// an unsuccessful result, not an error.
func (o *Orchestrator) Generate(ctx context.Context, prompt string) (models.ImageGenerationResult, error) {
	if strings.TrimSpace(prompt) == "" {
		return models.ImageGenerationResult{}, fmt.Errorf("%w: prompt is required", provider.ErrInvalidInput)
	}

	seed := o.seedFn()

	for _, service := range o.services {
		result, err := o.attempt(ctx, service, prompt, seed)
		if err != nil {
			if ctx.Err() != nil {
				return models.ImageGenerationResult{}, ctx.Err()
			}
			slog.Warn("image service failed, trying next candidate",
				"service", service.Name, "err", err)
			continue
		}

		slog.Info("image generated", "service", service.Name, "seed", seed)
		result.Prompt = prompt
		result.Seed = seed
		return result, nil
	}

	return models.ImageGenerationResult{
		Success: false,
		Message: "All image generation services are currently unavailable. Please try again later.",
	}, nil
}

func (o *Orchestrator) attempt(ctx context.Context, service Service, prompt string, seed int) (models.ImageGenerationResult, error) {
	req, err := buildRequest(ctx, service, prompt, seed)
	if err != nil {
		return models.ImageGenerationResult{}, err
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return models.ImageGenerationResult{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return models.ImageGenerationResult{}, &provider.UpstreamError{Status: resp.StatusCode}
	}

	switch service.Response {
	case ResponseBinary:
		contentType := resp.Header.Get("Content-Type")
		if !strings.HasPrefix(contentType, "image/") {
			return models.ImageGenerationResult{}, fmt.Errorf("%w: unexpected content type %q", provider.ErrMalformedResponse, contentType)
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
		if err != nil {
			return models.ImageGenerationResult{}, fmt.Errorf("read image body: %w", err)
		}
		if len(data) == 0 {
			return models.ImageGenerationResult{}, fmt.Errorf("%w: empty image body", provider.ErrMalformedResponse)
		}
		dataURL := fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(data))
		return success(service.Name, dataURL), nil

	case ResponseDirectURL:
		return success(service.Name, req.URL.String()), nil

	case ResponseRedirectURL:
		// The client has followed redirects; the final URL is the image.
		return success(service.Name, resp.Request.URL.String()), nil

	default:
		return models.ImageGenerationResult{}, fmt.Errorf("unsupported response kind %q", service.Response)
	}
}

func success(serviceName, imageURL string) models.ImageGenerationResult {
	return models.ImageGenerationResult{
		Success:     true,
		ImageURL:    &imageURL,
		ServiceName: serviceName,
		Message:     fmt.Sprintf("Image generated successfully with %s!", serviceName),
	}
}

type huggingFacePayload struct {
	Inputs     string                `json:"inputs"`
	Parameters huggingFaceParameters `json:"parameters"`
}

type huggingFaceParameters struct {
	NumInferenceSteps int     `json:"num_inference_steps"`
	GuidanceScale     float64 `json:"guidance_scale"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
}

func buildRequest(ctx context.Context, service Service, prompt string, seed int) (*http.Request, error) {
	base := strings.TrimRight(service.BaseURL, "/")
	if base == "" {
		return nil, errors.New("base url must not be empty")
	}

	var req *http.Request
	switch service.Kind {
	case KindHuggingFace:
		payload := huggingFacePayload{
			Inputs: prompt,
			Parameters: huggingFaceParameters{
				NumInferenceSteps: 20,
				GuidanceScale:     7.5,
				Width:             imageWidth,
				Height:            imageHeight,
			},
		}
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, base, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("construct request: %w", err)
		}
		req.Header.Set("Content-Type", contentTypeJSON)

	case KindPollinations:
		endpoint := fmt.Sprintf("%s/prompt/%s?width=%d&height=%d&seed=%d&enhance=true&nologo=true",
			base, url.PathEscape(prompt), imageWidth, imageHeight, seed)
		var err error
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("construct request: %w", err)
		}

	case KindPicsum:
		endpoint := fmt.Sprintf("%s/%d/%d?random=%d", base, imageWidth, imageHeight, seed)
		var err error
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("construct request: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported service kind %q", service.Kind)
	}

	req.Header.Set("User-Agent", defaultUserAgent)
	return req, nil
}
