// Package openai implements the provider adapter for the OpenAI API,
// including the Responses endpoint reasoning models stream through.
package openai

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"

	providerUtils "github.com/keyloom/keyloom/providers/utils"
	schemas "github.com/keyloom/keyloom/schemas"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Config customizes an OpenAIProvider.
type Config struct {
	BaseURL      string
	Organization string
	ExtraHeaders map[string]string
	Timeout      time.Duration

	Logger schemas.Logger
}

// OpenAIProvider implements the schemas.Provider interface for OpenAI.
type OpenAIProvider struct {
	logger       schemas.Logger
	client       *fasthttp.Client
	streamClient *http.Client
	baseURL      string
	organization string
	extraHeaders map[string]string

	mu  sync.RWMutex
	key string
}

// New creates an OpenAI provider instance.
func New(cfg Config) *OpenAIProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = providerUtils.DefaultRequestTimeout
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &OpenAIProvider{
		logger: providerUtils.EnsureLogger(cfg.Logger),
		client: &fasthttp.Client{
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
		streamClient: &http.Client{},
		baseURL:      baseURL,
		organization: cfg.Organization,
		extraHeaders: cfg.ExtraHeaders,
	}
}

func (p *OpenAIProvider) Config() schemas.ProviderConfig {
	return schemas.ProviderConfig{
		ID:             schemas.OpenAI,
		Name:           "OpenAI",
		BaseURL:        p.baseURL,
		RequiresKey:    true,
		KeyPlaceholder: "sk-...",
		DocsURL:        "https://platform.openai.com/docs/api-reference",
	}
}

func (p *OpenAIProvider) Capabilities() schemas.ProviderCapabilities {
	return schemas.ProviderCapabilities{Streaming: true, Vision: true, Tools: true, Thinking: true}
}

func (p *OpenAIProvider) Initialize(key string) {
	p.mu.Lock()
	p.key = key
	p.mu.Unlock()
}

func (p *OpenAIProvider) IsInitialized() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.key != ""
}

func (p *OpenAIProvider) apiKey() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.key
}

func (p *OpenAIProvider) setHeaders(req *fasthttp.Request, key string) {
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+key)
	if p.organization != "" {
		req.Header.Set("OpenAI-Organization", p.organization)
	}
	providerUtils.SetExtraHeaders(req, p.extraHeaders, nil)
}

func (p *OpenAIProvider) streamHeaders(key string) map[string]string {
	headers := map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer " + key,
		"Accept":        "text/event-stream",
		"Cache-Control": "no-cache",
	}
	if p.organization != "" {
		headers["OpenAI-Organization"] = p.organization
	}
	for k, v := range p.extraHeaders {
		if _, exists := headers[k]; !exists {
			headers[k] = v
		}
	}
	return headers
}

// isReasoningModel reports whether the model belongs to the o-series and
// must use the Responses endpoint for thinking.
func isReasoningModel(model string) bool {
	return strings.HasPrefix(model, "o1") ||
		strings.HasPrefix(model, "o3") ||
		strings.HasPrefix(model, "o4")
}

// ValidateKey lists models, which both proves the key and yields the catalog
// in one round trip.
func (p *OpenAIProvider) ValidateKey(ctx context.Context, key string) *schemas.KeyValidationResult {
	models, err := p.fetchModels(ctx, key)
	if err != nil {
		return providerUtils.ValidationResultFromError(err)
	}
	return &schemas.KeyValidationResult{Valid: true, Models: models}
}

// ListModels fetches /models with the initialized key.
func (p *OpenAIProvider) ListModels(ctx context.Context) ([]schemas.ModelInfo, *schemas.Error) {
	key := p.apiKey()
	if key == "" {
		return nil, schemas.NewProviderError(schemas.OpenAI, schemas.ErrCodeNoKey, "no API key set")
	}
	return p.fetchModels(ctx, key)
}

func (p *OpenAIProvider) fetchModels(ctx context.Context, key string) ([]schemas.ModelInfo, *schemas.Error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(p.baseURL + "/models")
	req.Header.SetMethod(fasthttp.MethodGet)
	p.setHeaders(req, key)

	if err := providerUtils.MakeRequestWithContext(ctx, p.client, req, resp); err != nil {
		return nil, err.WithProvider(schemas.OpenAI)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, parseAPIError(resp)
	}

	var list modelListResponse
	if err := sonic.Unmarshal(resp.Body(), &list); err != nil {
		return nil, schemas.NewOperationError(schemas.ErrCodeDecode, "failed to decode model list", err).WithProvider(schemas.OpenAI)
	}
	ids := make([]string, 0, len(list.Data))
	for _, model := range list.Data {
		ids = append(ids, model.ID)
	}
	return buildCatalog(ids), nil
}
