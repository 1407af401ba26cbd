package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration parsed from YAML.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Chat   ChatConfig   `yaml:"chat"`
	Vision VisionConfig `yaml:"vision"`
	Images ImagesConfig `yaml:"images"`
	Probe  ProbeConfig  `yaml:"probe"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// ChatConfig catalogues the two chat backend families.
type ChatConfig struct {
	Gemini     BackendConfig `yaml:"gemini"`
	OpenRouter BackendConfig `yaml:"openrouter"`
}

// BackendConfig captures routing info for one chat backend. Credentials are
// supplied per request, never stored in configuration.
type BackendConfig struct {
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

// VisionConfig selects the model used for image analysis.
type VisionConfig struct {
	Model string `yaml:"model"`
}

// ImagesConfig declares the image-generation fallback chain. Order is
// load-bearing: earlier entries are tried first on every call.
type ImagesConfig struct {
	Services []ImageServiceConfig `yaml:"services"`
}

// ImageServiceConfig describes one candidate image service.
type ImageServiceConfig struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"`
	BaseURL  string `yaml:"base_url"`
	Response string `yaml:"response"`
}

// ProbeConfig lists the candidate model identifiers for capability probing.
type ProbeConfig struct {
	Candidates []string `yaml:"candidates"`
}

const (
	defaultGeminiBaseURL     = "https://generativelanguage.googleapis.com/v1beta"
	defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	defaultGeminiModel       = "gemini-1.5-flash"
	defaultOpenRouterModel   = "deepseek/deepseek-r1"
	defaultVisionModel       = "gemini-1.5-flash"
)

var validServiceKinds = map[string]bool{
	"huggingface":  true,
	"pollinations": true,
	"picsum":       true,
}

var validResponseKinds = map[string]bool{
	"binary":       true,
	"direct-url":   true,
	"redirect-url": true,
}

// Load reads YAML configuration from disk, expands ${VAR} references from
// the environment, applies defaults and validates the result.
func Load(path string) (Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Chat.Gemini.BaseURL == "" {
		c.Chat.Gemini.BaseURL = defaultGeminiBaseURL
	}
	if c.Chat.Gemini.DefaultModel == "" {
		c.Chat.Gemini.DefaultModel = defaultGeminiModel
	}
	if c.Chat.OpenRouter.BaseURL == "" {
		c.Chat.OpenRouter.BaseURL = defaultOpenRouterBaseURL
	}
	if c.Chat.OpenRouter.DefaultModel == "" {
		c.Chat.OpenRouter.DefaultModel = defaultOpenRouterModel
	}
	if c.Vision.Model == "" {
		c.Vision.Model = defaultVisionModel
	}
	if len(c.Images.Services) == 0 {
		c.Images.Services = DefaultImageServices()
	}
	if len(c.Probe.Candidates) == 0 {
		c.Probe.Candidates = []string{"gemini-1.5-flash", "gemini-1.5-pro", "gemini-pro"}
	}
}

// DefaultImageServices is the built-in fallback chain, tried in this order.
func DefaultImageServices() []ImageServiceConfig {
	return []ImageServiceConfig{
		{
			Name:     "Hugging Face",
			Kind:     "huggingface",
			BaseURL:  "https://api-inference.huggingface.co/models/stabilityai/stable-diffusion-xl-base-1.0",
			Response: "binary",
		},
		{
			Name:     "Pollinations",
			Kind:     "pollinations",
			BaseURL:  "https://image.pollinations.ai",
			Response: "direct-url",
		},
		{
			Name:     "Picsum",
			Kind:     "picsum",
			BaseURL:  "https://picsum.photos",
			Response: "redirect-url",
		},
	}
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}

	if err := validateBackend("chat.gemini", c.Chat.Gemini); err != nil {
		return err
	}
	if err := validateBackend("chat.openrouter", c.Chat.OpenRouter); err != nil {
		return err
	}
	if strings.TrimSpace(c.Vision.Model) == "" {
		return fmt.Errorf("vision.model must not be empty")
	}

	if len(c.Images.Services) == 0 {
		return fmt.Errorf("images.services must declare at least one candidate")
	}
	for i, service := range c.Images.Services {
		if strings.TrimSpace(service.Name) == "" {
			return fmt.Errorf("images.services[%d]: name must not be empty", i)
		}
		if !validServiceKinds[service.Kind] {
			return fmt.Errorf("images.services[%d]: unsupported kind %q", i, service.Kind)
		}
		if strings.TrimSpace(service.BaseURL) == "" {
			return fmt.Errorf("images.services[%d]: base_url must not be empty", i)
		}
		if !validResponseKinds[service.Response] {
			return fmt.Errorf("images.services[%d]: unsupported response kind %q", i, service.Response)
		}
	}

	if len(c.Probe.Candidates) == 0 {
		return fmt.Errorf("probe.candidates must declare at least one model")
	}
	for i, candidate := range c.Probe.Candidates {
		if strings.TrimSpace(candidate) == "" {
			return fmt.Errorf("probe.candidates[%d]: model id must not be empty", i)
		}
	}

	return nil
}

func validateBackend(name string, backend BackendConfig) error {
	if strings.TrimSpace(backend.BaseURL) == "" {
		return fmt.Errorf("%s: base_url must not be empty", name)
	}
	if strings.TrimSpace(backend.DefaultModel) == "" {
		return fmt.Errorf("%s: default_model must not be empty", name)
	}
	return nil
}
