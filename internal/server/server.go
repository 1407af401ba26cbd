package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"termgate/internal/cancel"
	"termgate/internal/config"
	"termgate/internal/models"
	"termgate/internal/provider"
)

const (
	maxBodyBytes        = 1 << 20 // 1 MiB
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	writeTimeout        = 5 * time.Minute // streaming chat keeps the response open
	idleTimeout         = 120 * time.Second

	headerSessionID = "X-Session-Id"

	// stopIndicator is the neutral body sent for a turn cancelled before any
	// text was delivered. Cancellation is never reported as failure text.
	stopIndicator = "[stopped]"

	proxyUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

// ChatDispatcher routes unified chat turns and model probes.
type ChatDispatcher interface {
	Chat(ctx context.Context, req models.ChatRequest, onFragment func(string) error) (*models.UnifiedChatResult, error)
	ProbeModel(ctx context.Context, credential string) (models.ProbeResult, error)
}

// VisionAnalyzer describes a single image given an instruction.
type VisionAnalyzer interface {
	AnalyzeImage(ctx context.Context, credential, imageData, instruction string) (string, error)
}

// ImageGenerator resolves a prompt through the fallback chain.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (models.ImageGenerationResult, error)
}

type Server struct {
	cfg      config.Config
	chats    ChatDispatcher
	vision   VisionAnalyzer
	images   ImageGenerator
	sessions *cancel.Registry
	proxy    *http.Client
	app      *echo.Echo
	address  string
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg config.Config, chats ChatDispatcher, vision VisionAnalyzer, images ImageGenerator, proxy *http.Client) (*Server, error) {
	if chats == nil || vision == nil || images == nil {
		return nil, errors.New("chat, vision and image components must not be nil")
	}
	if proxy == nil {
		proxy = http.DefaultClient
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = gatewayErrorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"error", v.Error,
			)
			return nil
		},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		HSTSMaxAge:         31536000,
	}))

	srv := &Server{
		cfg:      cfg,
		chats:    chats,
		vision:   vision,
		images:   images,
		sessions: cancel.NewRegistry(),
		proxy:    proxy,
		app:      e,
		address:  fmt.Sprintf(":%d", cfg.Server.Port),
	}

	srv.registerRoutes()

	return srv, nil
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	printStartupBanner(s.cfg.Server.Port)
	slog.Info("starting server", "addr", s.address)

	httpServer := &http.Server{
		Addr:         s.address,
		Handler:      s.app,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancelFn := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancelFn()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		slog.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)
	s.app.POST("/api/chat", s.handleChat)
	s.app.POST("/api/cancel", s.handleCancel)
	s.app.POST("/api/analyze-image", s.handleAnalyzeImage)
	s.app.POST("/api/generate-image", s.handleGenerateImage)
	s.app.POST("/api/test-model", s.handleTestModel)
	s.app.GET("/api/proxy-image", s.handleProxyImage)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type chatRequest struct {
	Messages   []models.Message `json:"messages"`
	Credential string           `json:"credential"`
	Backend    string           `json:"backend"`
	ModelID    string           `json:"modelId"`
	SessionID  string           `json:"sessionId"`
}

// handleChat serves one chat turn as text/plain. Streaming-backend fragments
// are flushed to the client as they arrive; the synchronous backend writes
// one block. The session ID travels back in a response header so the client
// can cancel its in-flight turn.
func (s *Server) handleChat(c echo.Context) error {
	var req chatRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	backend := models.BackendOpenRouter
	if req.Backend != "" {
		backend = models.Backend(req.Backend)
	}
	if !backend.Valid() {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("unknown backend %q", req.Backend),
			Type:    "invalid_request_error",
		}
	}
	if strings.TrimSpace(req.Credential) == "" {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "credential is required",
			Type:    "invalid_request_error",
		}
	}
	if len(req.Messages) == 0 {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "messages must not be empty",
			Type:    "invalid_request_error",
		}
	}

	sessionID, ctrl := s.sessions.Acquire(req.SessionID)
	ctx, token, err := ctrl.Start(c.Request().Context())
	if err != nil {
		return toHTTPError(err)
	}

	header := c.Response().Header()
	header.Set(echo.HeaderContentType, echo.MIMETextPlainCharsetUTF8)
	header.Set(headerSessionID, sessionID)

	writer := c.Response().Writer
	flusher, _ := writer.(http.Flusher)
	started := false

	onFragment := func(fragment string) error {
		if !started {
			c.Response().WriteHeader(http.StatusOK)
			started = true
		}
		if _, err := io.WriteString(writer, fragment); err != nil {
			return fmt.Errorf("write fragment: %w", err)
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	_, err = s.chats.Chat(ctx, models.ChatRequest{
		Backend:    backend,
		ModelID:    req.ModelID,
		Messages:   req.Messages,
		Credential: req.Credential,
	}, onFragment)

	if err != nil {
		if !token.Fail() {
			// The turn was cancelled; answer with a neutral stop indication.
			if !started {
				c.Response().WriteHeader(http.StatusOK)
				_, _ = io.WriteString(writer, stopIndicator)
			}
			return nil
		}
		if started {
			// Headers are already on the wire; all we can do is stop.
			slog.Error("chat stream aborted after partial delivery", "err", err)
			return nil
		}
		return toHTTPError(err)
	}

	token.Complete()
	return nil
}

type cancelRequest struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) handleCancel(c echo.Context) error {
	var req cancelRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	if strings.TrimSpace(req.SessionID) == "" {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "sessionId is required",
			Type:    "invalid_request_error",
		}
	}

	stopped := s.sessions.Cancel(req.SessionID)
	return c.JSON(http.StatusOK, map[string]bool{"stopped": stopped})
}

type analyzeImageRequest struct {
	ImageData   string `json:"imageData"`
	Instruction string `json:"instruction"`
	Credential  string `json:"credential"`
}

type analyzeImageResponse struct {
	Description     string `json:"description"`
	IsImageAnalysis bool   `json:"isImageAnalysis"`
}

func (s *Server) handleAnalyzeImage(c echo.Context) error {
	var req analyzeImageRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	description, err := s.vision.AnalyzeImage(c.Request().Context(), req.Credential, req.ImageData, req.Instruction)
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, analyzeImageResponse{
		Description:     description,
		IsImageAnalysis: true,
	})
}

type generateImageRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleGenerateImage(c echo.Context) error {
	var req generateImageRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	if strings.TrimSpace(req.Prompt) == "" {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "prompt is required",
			Type:    "invalid_request_error",
		}
	}

	result, err := s.images.Generate(c.Request().Context(), req.Prompt)
	if err != nil {
		return toHTTPError(err)
	}

	// Exhaustion of the fallback chain is a normal terminal state.
	return c.JSON(http.StatusOK, result)
}

type testModelRequest struct {
	Credential string `json:"credential"`
}

func (s *Server) handleTestModel(c echo.Context) error {
	var req testModelRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	result, err := s.chats.ProbeModel(c.Request().Context(), req.Credential)
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleProxyImage(c echo.Context) error {
	rawURL := c.QueryParam("url")
	if rawURL == "" {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "url parameter is required",
			Type:    "invalid_request_error",
		}
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "url must be an absolute http or https URL",
			Type:    "invalid_request_error",
		}
	}

	req, err := http.NewRequestWithContext(c.Request().Context(), http.MethodGet, parsed.String(), nil)
	if err != nil {
		return fmt.Errorf("construct proxy request: %w", err)
	}
	req.Header.Set("User-Agent", proxyUserAgent)
	req.Header.Set("Accept", "image/*")

	resp, err := s.proxy.Do(req)
	if err != nil {
		return requestError{
			Status:  http.StatusBadGateway,
			Message: fmt.Sprintf("failed to fetch image: %v", err),
			Type:    "upstream_error",
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return requestError{
			Status:  http.StatusBadGateway,
			Message: fmt.Sprintf("failed to fetch image: upstream status %d", resp.StatusCode),
			Type:    "upstream_error",
		}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	c.Response().Header().Set("Cache-Control", "public, max-age=31536000")

	return c.Stream(http.StatusOK, contentType, resp.Body)
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return requestError{
				Status:  http.StatusBadRequest,
				Message: "request body is required",
				Type:    "invalid_request_error",
			}
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid JSON payload: %v", err),
			Type:    "invalid_request_error",
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
			Type:    "invalid_request_error",
		}
	}
	return nil
}

type requestError struct {
	Status  int
	Message string
	Type    string
	Code    string
}

func (e requestError) Error() string {
	return e.Message
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

func writeError(c echo.Context, status int, message, errType, code string) error {
	var payload errorBody
	payload.Error.Message = message
	payload.Error.Type = errType
	payload.Error.Code = code
	return c.JSON(status, payload)
}

func gatewayErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = writeError(c, reqErr.Status, reqErr.Message, reqErr.Type, reqErr.Code)
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		_ = writeError(c, he.Code, fmt.Sprintf("%v", he.Message), "invalid_request_error", "")
		return
	}

	_ = writeError(c, http.StatusInternalServerError, "internal server error", "server_error", "")
}

// toHTTPError maps the gateway error taxonomy onto transport status codes.
// Pre-network validation failures are 400-class; upstream failures surface
// as 502 with a human-readable message, never a silent empty success.
func toHTTPError(err error) error {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		return reqErr
	}

	if errors.Is(err, provider.ErrMissingCredential) || errors.Is(err, provider.ErrInvalidInput) {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: err.Error(),
			Type:    "invalid_request_error",
		}
	}
	if errors.Is(err, cancel.ErrConcurrentRequest) {
		return requestError{
			Status:  http.StatusConflict,
			Message: err.Error(),
			Type:    "invalid_request_error",
		}
	}

	var upstream *provider.UpstreamError
	if errors.As(err, &upstream) {
		return requestError{
			Status:  http.StatusBadGateway,
			Message: upstream.Error(),
			Type:    "upstream_error",
		}
	}
	if errors.Is(err, provider.ErrMalformedResponse) || errors.Is(err, provider.ErrEmptyResponse) {
		return requestError{
			Status:  http.StatusBadGateway,
			Message: err.Error(),
			Type:    "upstream_error",
		}
	}

	return requestError{
		Status:  http.StatusInternalServerError,
		Message: "internal server error",
		Type:    "server_error",
	}
}

func printStartupBanner(port int) {
	host := "127.0.0.1"
	fmt.Println()
	fmt.Println("termgate ready")
	fmt.Printf("Listening on http://%s:%d\n", host, port)
	fmt.Println("Endpoints:")
	fmt.Println("  GET  /health")
	fmt.Println("  POST /api/chat")
	fmt.Println("  POST /api/cancel")
	fmt.Println("  POST /api/analyze-image")
	fmt.Println("  POST /api/generate-image")
	fmt.Println("  POST /api/test-model")
	fmt.Println("  GET  /api/proxy-image")
	fmt.Printf("Chat example:\n  curl http://%s:%d/api/chat -H 'Content-Type: application/json' -d '{\"backend\":\"gemini\",\"credential\":\"<key>\",\"messages\":[{\"role\":\"user\",\"content\":\"hello\"}]}'\n\n", host, port)
}
