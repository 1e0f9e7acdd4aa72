// Package openaicompat implements one provider adapter for the family of
// vendors exposing OpenAI-compatible chat completion APIs. Vendor
// differences (base URL, catalogs, capability tables, extra headers) live in
// a Profile; the request and stream handling is shared by composition rather
// than one subclass per vendor.
package openaicompat

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/valyala/fasthttp"

	providerUtils "github.com/keyloom/keyloom/providers/utils"
	schemas "github.com/keyloom/keyloom/schemas"
)

// Profile carries everything vendor-specific.
type Profile struct {
	ID             schemas.ProviderID
	Name           string
	BaseURL        string
	KeyPlaceholder string
	DocsURL        string
	Capabilities   schemas.ProviderCapabilities

	// ExtraHeaders are sent on every request, e.g. OpenRouter attribution.
	ExtraHeaders map[string]string

	// ParseModelList decodes the vendor's /models body. Vendors that stray
	// from the standard {"data":[...]} shape override the whole parse.
	ParseModelList func(body []byte) ([]schemas.ModelInfo, *schemas.Error)
}

// Config customizes a compat provider instance.
type Config struct {
	BaseURL      string
	ExtraHeaders map[string]string
	Timeout      time.Duration

	// Referer and AppTitle feed OpenRouter's attribution headers; other
	// profiles ignore them.
	Referer  string
	AppTitle string

	Logger schemas.Logger
}

// CompatProvider implements the schemas.Provider interface for an
// OpenAI-compatible vendor described by its Profile.
type CompatProvider struct {
	profile      Profile
	logger       schemas.Logger
	client       *fasthttp.Client
	streamClient *http.Client
	baseURL      string
	extraHeaders map[string]string

	mu  sync.RWMutex
	key string
}

// New builds a provider from a profile. Most callers use the per-vendor
// constructors instead.
func New(profile Profile, cfg Config) *CompatProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = providerUtils.DefaultRequestTimeout
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = profile.BaseURL
	}

	extraHeaders := make(map[string]string)
	for k, v := range profile.ExtraHeaders {
		extraHeaders[k] = v
	}
	for k, v := range cfg.ExtraHeaders {
		extraHeaders[k] = v
	}

	return &CompatProvider{
		profile: profile,
		logger:  providerUtils.EnsureLogger(cfg.Logger),
		client: &fasthttp.Client{
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
		streamClient: &http.Client{},
		baseURL:      baseURL,
		extraHeaders: extraHeaders,
	}
}

func (p *CompatProvider) Config() schemas.ProviderConfig {
	return schemas.ProviderConfig{
		ID:             p.profile.ID,
		Name:           p.profile.Name,
		BaseURL:        p.baseURL,
		RequiresKey:    true,
		KeyPlaceholder: p.profile.KeyPlaceholder,
		DocsURL:        p.profile.DocsURL,
	}
}

func (p *CompatProvider) Capabilities() schemas.ProviderCapabilities {
	return p.profile.Capabilities
}

func (p *CompatProvider) Initialize(key string) {
	p.mu.Lock()
	p.key = key
	p.mu.Unlock()
}

func (p *CompatProvider) IsInitialized() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.key != ""
}

func (p *CompatProvider) apiKey() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.key
}

func (p *CompatProvider) setHeaders(req *fasthttp.Request, key string) {
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+key)
	providerUtils.SetExtraHeaders(req, p.extraHeaders, nil)
}

func (p *CompatProvider) streamHeaders(key string) map[string]string {
	headers := map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer " + key,
		"Accept":        "text/event-stream",
		"Cache-Control": "no-cache",
	}
	for k, v := range p.extraHeaders {
		if _, exists := headers[k]; !exists {
			headers[k] = v
		}
	}
	return headers
}

// ValidateKey lists models, proving the key and returning the catalog.
func (p *CompatProvider) ValidateKey(ctx context.Context, key string) *schemas.KeyValidationResult {
	models, err := p.fetchModels(ctx, key)
	if err != nil {
		return providerUtils.ValidationResultFromError(err)
	}
	return &schemas.KeyValidationResult{Valid: true, Models: models}
}

// ListModels fetches /models with the initialized key.
func (p *CompatProvider) ListModels(ctx context.Context) ([]schemas.ModelInfo, *schemas.Error) {
	key := p.apiKey()
	if key == "" {
		return nil, schemas.NewProviderError(p.profile.ID, schemas.ErrCodeNoKey, "no API key set")
	}
	return p.fetchModels(ctx, key)
}

func (p *CompatProvider) fetchModels(ctx context.Context, key string) ([]schemas.ModelInfo, *schemas.Error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(p.baseURL + "/models")
	req.Header.SetMethod(fasthttp.MethodGet)
	p.setHeaders(req, key)

	if err := providerUtils.MakeRequestWithContext(ctx, p.client, req, resp); err != nil {
		return nil, err.WithProvider(p.profile.ID)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, p.parseAPIError(resp)
	}
	return p.profile.ParseModelList(resp.Body())
}
