// Package gemini implements the provider adapter for Google's Gemini API
// (generativelanguage.googleapis.com).
package gemini

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"

	providerUtils "github.com/keyloom/keyloom/providers/utils"
	schemas "github.com/keyloom/keyloom/schemas"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Config customizes a GeminiProvider.
type Config struct {
	BaseURL      string
	ExtraHeaders map[string]string
	Timeout      time.Duration

	Logger schemas.Logger
}

// GeminiProvider implements the schemas.Provider interface for Gemini. The
// API authenticates with the key as a query parameter rather than a header.
type GeminiProvider struct {
	logger       schemas.Logger
	client       *fasthttp.Client
	streamClient *http.Client
	baseURL      string
	extraHeaders map[string]string

	mu  sync.RWMutex
	key string
}

// New creates a Gemini provider instance.
func New(cfg Config) *GeminiProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = providerUtils.DefaultRequestTimeout
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &GeminiProvider{
		logger: providerUtils.EnsureLogger(cfg.Logger),
		client: &fasthttp.Client{
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
		streamClient: &http.Client{},
		baseURL:      baseURL,
		extraHeaders: cfg.ExtraHeaders,
	}
}

func (p *GeminiProvider) Config() schemas.ProviderConfig {
	return schemas.ProviderConfig{
		ID:             schemas.Gemini,
		Name:           "Google Gemini",
		BaseURL:        p.baseURL,
		RequiresKey:    true,
		KeyPlaceholder: "AIza...",
		DocsURL:        "https://ai.google.dev/gemini-api/docs",
	}
}

func (p *GeminiProvider) Capabilities() schemas.ProviderCapabilities {
	return schemas.ProviderCapabilities{Streaming: true, Vision: true, Tools: true, Thinking: true}
}

func (p *GeminiProvider) Initialize(key string) {
	p.mu.Lock()
	p.key = key
	p.mu.Unlock()
}

func (p *GeminiProvider) IsInitialized() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.key != ""
}

func (p *GeminiProvider) apiKey() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.key
}

// endpoint builds a URL with the key and extra query parameters attached.
// The key travels in the query string, so URLs must never be logged.
func (p *GeminiProvider) endpoint(path, key string, params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("key", key)
	return p.baseURL + path + "?" + params.Encode()
}

// ValidateKey lists models, which proves the key and yields the catalog.
func (p *GeminiProvider) ValidateKey(ctx context.Context, key string) *schemas.KeyValidationResult {
	models, err := p.fetchModels(ctx, key)
	if err != nil {
		return providerUtils.ValidationResultFromError(err)
	}
	return &schemas.KeyValidationResult{Valid: true, Models: models}
}

// ListModels fetches /models with the initialized key.
func (p *GeminiProvider) ListModels(ctx context.Context) ([]schemas.ModelInfo, *schemas.Error) {
	key := p.apiKey()
	if key == "" {
		return nil, schemas.NewProviderError(schemas.Gemini, schemas.ErrCodeNoKey, "no API key set")
	}
	return p.fetchModels(ctx, key)
}

func (p *GeminiProvider) fetchModels(ctx context.Context, key string) ([]schemas.ModelInfo, *schemas.Error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	params := url.Values{}
	params.Set("pageSize", "1000")
	req.SetRequestURI(p.endpoint("/models", key, params))
	req.Header.SetMethod(fasthttp.MethodGet)
	providerUtils.SetExtraHeaders(req, p.extraHeaders, nil)

	if err := providerUtils.MakeRequestWithContext(ctx, p.client, req, resp); err != nil {
		return nil, err.WithProvider(schemas.Gemini)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, parseAPIError(resp)
	}

	var list modelListResponse
	if err := sonic.Unmarshal(resp.Body(), &list); err != nil {
		return nil, schemas.NewOperationError(schemas.ErrCodeDecode, "failed to decode model list", err).WithProvider(schemas.Gemini)
	}
	return buildCatalog(&list), nil
}
