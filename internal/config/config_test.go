package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8080\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, defaultGeminiBaseURL, cfg.Chat.Gemini.BaseURL)
	assert.Equal(t, defaultOpenRouterModel, cfg.Chat.OpenRouter.DefaultModel)
	assert.Equal(t, defaultVisionModel, cfg.Vision.Model)
	require.Len(t, cfg.Images.Services, 3)
	assert.Equal(t, "Hugging Face", cfg.Images.Services[0].Name)
	assert.Equal(t, []string{"gemini-1.5-flash", "gemini-1.5-pro", "gemini-pro"}, cfg.Probe.Candidates)
}

func TestLoadExpandsEnvironmentReferences(t *testing.T) {
	t.Setenv("GEMINI_BASE", "https://gemini.example.com/v1beta")
	path := writeConfig(t, `
server:
  port: 8080
chat:
  gemini:
    base_url: ${GEMINI_BASE}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://gemini.example.com/v1beta", cfg.Chat.Gemini.BaseURL)
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 0\n")

	_, err := Load(path)
	assert.ErrorContains(t, err, "server.port")
}

func TestLoadRejectsUnknownServiceKind(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
images:
  services:
    - name: Mystery
      kind: dalle
      base_url: https://example.com
      response: binary
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "unsupported kind")
}

func TestLoadRejectsUnknownResponseKind(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
images:
  services:
    - name: HF
      kind: huggingface
      base_url: https://example.com
      response: blob
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "unsupported response kind")
}

func TestLoadPreservesServiceOrder(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
images:
  services:
    - name: Second-first
      kind: pollinations
      base_url: https://example.com
      response: direct-url
    - name: HF
      kind: huggingface
      base_url: https://example.com
      response: binary
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Images.Services, 2)
	assert.Equal(t, "Second-first", cfg.Images.Services[0].Name)
}
