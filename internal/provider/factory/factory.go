package factory

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"termgate/internal/config"
	"termgate/internal/imagegen"
	"termgate/internal/provider/gemini"
	"termgate/internal/provider/openrouter"
)

const (
	defaultHTTPTimeout     = 60 * time.Second
	streamHTTPTimeout      = 5 * time.Minute
	imageHTTPTimeout       = 2 * time.Minute
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// Components bundles the upstream-facing pieces of the gateway.
type Components struct {
	Gemini     *gemini.Client
	OpenRouter *openrouter.Client
	Images     *imagegen.Orchestrator
	// ProxyClient serves the image proxy route.
	ProxyClient *http.Client
}

// Build constructs all upstream clients from configuration. Each backend
// family gets its own HTTP client; the streaming client carries a longer
// timeout because the call stays open for the duration of generation.
func Build(cfg config.Config) (*Components, error) {
	geminiClient, err := gemini.New(cfg.Chat.Gemini.BaseURL, cfg.Vision.Model, newHTTPClient(defaultHTTPTimeout))
	if err != nil {
		return nil, fmt.Errorf("initialise gemini client: %w", err)
	}

	openRouterClient, err := openrouter.New(cfg.Chat.OpenRouter.BaseURL, newHTTPClient(streamHTTPTimeout))
	if err != nil {
		return nil, fmt.Errorf("initialise openrouter client: %w", err)
	}

	services := make([]imagegen.Service, 0, len(cfg.Images.Services))
	for _, service := range cfg.Images.Services {
		services = append(services, imagegen.Service{
			Name:     service.Name,
			Kind:     service.Kind,
			BaseURL:  service.BaseURL,
			Response: imagegen.ResponseKind(service.Response),
		})
	}

	orchestrator, err := imagegen.New(services, newHTTPClient(imageHTTPTimeout))
	if err != nil {
		return nil, fmt.Errorf("initialise image orchestrator: %w", err)
	}

	return &Components{
		Gemini:      geminiClient,
		OpenRouter:  openRouterClient,
		Images:      orchestrator,
		ProxyClient: newHTTPClient(defaultHTTPTimeout),
	}, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
