// Package ollama implements the provider adapter for a local Ollama server.
// No API key is involved: Initialize is a no-op, IsInitialized always
// reports true, and key validation degrades to a server reachability check.
package ollama

import (
	"context"
	"net/http"
	"time"

	"github.com/valyala/fasthttp"

	providerUtils "github.com/keyloom/keyloom/providers/utils"
	schemas "github.com/keyloom/keyloom/schemas"
)

const defaultBaseURL = "http://localhost:11434"

// Config customizes an Ollama provider instance.
type Config struct {
	// BaseURL points at the Ollama server, default http://localhost:11434.
	BaseURL string
	Timeout time.Duration
	Logger  schemas.Logger
}

// OllamaProvider implements the schemas.Provider interface against a local
// Ollama server.
type OllamaProvider struct {
	logger       schemas.Logger
	client       *fasthttp.Client
	streamClient *http.Client
	baseURL      string
}

// New builds an Ollama provider.
func New(cfg Config) *OllamaProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = providerUtils.DefaultRequestTimeout
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &OllamaProvider{
		logger: providerUtils.EnsureLogger(cfg.Logger),
		client: &fasthttp.Client{
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
		streamClient: &http.Client{},
		baseURL:      baseURL,
	}
}

func (p *OllamaProvider) Config() schemas.ProviderConfig {
	return schemas.ProviderConfig{
		ID:          schemas.Ollama,
		Name:        "Ollama (Local)",
		BaseURL:     p.baseURL,
		RequiresKey: false,
		DocsURL:     "https://github.com/ollama/ollama/blob/main/docs/api.md",
	}
}

func (p *OllamaProvider) Capabilities() schemas.ProviderCapabilities {
	return schemas.ProviderCapabilities{
		Streaming: true,
		Vision:    true,
		Thinking:  true,
	}
}

// Initialize is a no-op, the server needs no credential.
func (p *OllamaProvider) Initialize(string) {}

func (p *OllamaProvider) IsInitialized() bool { return true }

// ValidateKey ignores the key and checks that the server is reachable by
// listing local models.
func (p *OllamaProvider) ValidateKey(ctx context.Context, _ string) *schemas.KeyValidationResult {
	models, err := p.ListModels(ctx)
	if err != nil {
		return &schemas.KeyValidationResult{
			Valid:     false,
			Error:     "cannot connect to Ollama server: " + err.Message,
			ErrorCode: schemas.ValidationErrNetworkError,
		}
	}
	return &schemas.KeyValidationResult{Valid: true, Models: models}
}

// CheckConnection reports whether the server answers at all.
func (p *OllamaProvider) CheckConnection(ctx context.Context) bool {
	_, err := p.ListModels(ctx)
	return err == nil
}
