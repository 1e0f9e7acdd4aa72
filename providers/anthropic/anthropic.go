// Package anthropic implements the provider adapter for Anthropic's Claude
// API (the Messages endpoint).
package anthropic

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/valyala/fasthttp"

	providerUtils "github.com/keyloom/keyloom/providers/utils"
	schemas "github.com/keyloom/keyloom/schemas"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"

	// validationModel is the cheapest model used for the one-token
	// validation probe.
	validationModel = "claude-3-5-haiku-20241022"
)

// Config customizes an AnthropicProvider.
type Config struct {
	// BaseURL overrides the API root, for proxies or compatible gateways.
	BaseURL string
	// ExtraHeaders are added to every request without overriding adapter
	// headers.
	ExtraHeaders map[string]string
	// Timeout bounds non-streaming requests; DefaultRequestTimeout if zero.
	Timeout time.Duration
	// DangerousDirectBrowserAccess sets the header Anthropic requires for
	// requests straight out of a browser context.
	DangerousDirectBrowserAccess bool

	Logger schemas.Logger
}

// AnthropicProvider implements the schemas.Provider interface for Claude.
type AnthropicProvider struct {
	logger       schemas.Logger
	client       *fasthttp.Client
	streamClient *http.Client
	baseURL      string
	extraHeaders map[string]string
	browserMode  bool

	mu  sync.RWMutex
	key string
}

// New creates an Anthropic provider instance.
func New(cfg Config) *AnthropicProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = providerUtils.DefaultRequestTimeout
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &AnthropicProvider{
		logger: providerUtils.EnsureLogger(cfg.Logger),
		client: &fasthttp.Client{
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
		streamClient: &http.Client{},
		baseURL:      baseURL,
		extraHeaders: cfg.ExtraHeaders,
		browserMode:  cfg.DangerousDirectBrowserAccess,
	}
}

func (p *AnthropicProvider) Config() schemas.ProviderConfig {
	return schemas.ProviderConfig{
		ID:             schemas.Anthropic,
		Name:           "Anthropic",
		BaseURL:        p.baseURL,
		RequiresKey:    true,
		KeyPlaceholder: "sk-ant-...",
		DocsURL:        "https://docs.anthropic.com/en/api/getting-started",
	}
}

func (p *AnthropicProvider) Capabilities() schemas.ProviderCapabilities {
	return schemas.ProviderCapabilities{Streaming: true, Vision: true, Tools: true, Thinking: true}
}

func (p *AnthropicProvider) Initialize(key string) {
	p.mu.Lock()
	p.key = key
	p.mu.Unlock()
}

func (p *AnthropicProvider) IsInitialized() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.key != ""
}

func (p *AnthropicProvider) apiKey() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.key
}

// setHeaders applies the auth and version headers Anthropic expects.
func (p *AnthropicProvider) setHeaders(req *fasthttp.Request, key string) {
	req.Header.SetContentType("application/json")
	req.Header.Set("x-api-key", key)
	req.Header.Set("anthropic-version", apiVersion)
	if p.browserMode {
		req.Header.Set("anthropic-dangerous-direct-browser-access", "true")
	}
	providerUtils.SetExtraHeaders(req, p.extraHeaders, nil)
}

func (p *AnthropicProvider) streamHeaders(key string) map[string]string {
	headers := map[string]string{
		"Content-Type":      "application/json",
		"x-api-key":         key,
		"anthropic-version": apiVersion,
		"Accept":            "text/event-stream",
		"Cache-Control":     "no-cache",
	}
	if p.browserMode {
		headers["anthropic-dangerous-direct-browser-access"] = "true"
	}
	for k, v := range p.extraHeaders {
		if _, exists := headers[k]; !exists {
			headers[k] = v
		}
	}
	return headers
}

// ValidateKey probes the Messages endpoint with a one-token request. The
// model catalog is static, so a successful probe returns it directly.
func (p *AnthropicProvider) ValidateKey(ctx context.Context, key string) *schemas.KeyValidationResult {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	body, merr := marshalMessageRequest(&messageRequest{
		Model:     validationModel,
		MaxTokens: 1,
		Messages:  []messageParam{{Role: "user", Content: []contentBlock{{Type: "text", Text: "hi"}}}},
	})
	if merr != nil {
		return providerUtils.ValidationResultFromError(merr)
	}

	req.SetRequestURI(p.baseURL + "/v1/messages")
	req.Header.SetMethod(fasthttp.MethodPost)
	p.setHeaders(req, key)
	req.SetBody(body)

	if err := providerUtils.MakeRequestWithContext(ctx, p.client, req, resp); err != nil {
		return providerUtils.ValidationResultFromError(err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return providerUtils.ValidationResultFromError(parseAPIError(resp))
	}
	return &schemas.KeyValidationResult{Valid: true, Models: catalog()}
}

// ListModels returns the curated Claude catalog. The vendor listing endpoint
// reports neither context windows nor pricing, so a static table is kept
// instead.
func (p *AnthropicProvider) ListModels(_ context.Context) ([]schemas.ModelInfo, *schemas.Error) {
	return catalog(), nil
}
