package schemas

import "context"

// ProviderID identifies a supported LLM vendor.
type ProviderID string

const (
	Anthropic  ProviderID = "anthropic"
	OpenAI     ProviderID = "openai"
	Gemini     ProviderID = "gemini"
	Groq       ProviderID = "groq"
	Mistral    ProviderID = "mistral"
	Together   ProviderID = "together"
	OpenRouter ProviderID = "openrouter"
	Ollama     ProviderID = "ollama"
)

// StandardProviders lists every built-in provider in registration order.
var StandardProviders = []ProviderID{
	Anthropic, OpenAI, Gemini, Groq, Mistral, Together, OpenRouter, Ollama,
}

// ProviderConfig describes the static identity of a provider adapter.
type ProviderConfig struct {
	ID   ProviderID `json:"id"`
	Name string     `json:"name"` // human readable display name

	// BaseURL is the API root the adapter talks to. Overridable per instance
	// for self-hosted or proxied deployments.
	BaseURL string `json:"base_url"`

	// RequiresKey is false for local runtimes such as Ollama.
	RequiresKey    bool   `json:"requires_key"`
	KeyPlaceholder string `json:"key_placeholder,omitempty"` // e.g. "sk-ant-..."
	DocsURL        string `json:"docs_url,omitempty"`
}

// ProviderCapabilities advertises which features the vendor supports at all.
// Per-model support is reported on ModelInfo.
type ProviderCapabilities struct {
	Streaming bool `json:"streaming"`
	Vision    bool `json:"vision"`
	Tools     bool `json:"tools"`
	Thinking  bool `json:"thinking"`
}

// Capability names a single model capability, used by model filters.
type Capability string

const (
	CapabilityStreaming Capability = "streaming"
	CapabilityVision    Capability = "vision"
	CapabilityTools     Capability = "tools"
	CapabilityThinking  Capability = "thinking"
)

// ModelFilter narrows a provider's model list. Include patterns run first,
// then exclude patterns, then capability requirements, then the custom
// predicate. Patterns are glob-style: `*` matches any run of characters,
// every other character is literal.
type ModelFilter struct {
	Include             []string             `json:"include,omitempty" yaml:"include"`
	Exclude             []string             `json:"exclude,omitempty" yaml:"exclude"`
	RequireCapabilities []Capability         `json:"require_capabilities,omitempty" yaml:"require_capabilities"`
	Custom              func(ModelInfo) bool `json:"-" yaml:"-"`
}

// ProviderModelConfig carries the per-provider knobs a client accepts.
type ProviderModelConfig struct {
	Filter       *ModelFilter `json:"filter,omitempty" yaml:"filter"`
	DefaultModel string       `json:"default_model,omitempty" yaml:"default_model"`
}

// Provider is the adapter contract every vendor integration implements.
// Adapters are stateless apart from the key handed to Initialize; all
// network operations accept a context for cancellation.
type Provider interface {
	// Config returns the adapter's static identity.
	Config() ProviderConfig

	// Capabilities reports vendor-level feature support.
	Capabilities() ProviderCapabilities

	// Initialize hands the adapter its API key. It performs no I/O.
	Initialize(key string)

	// IsInitialized reports whether the adapter is ready to serve requests.
	// Always true for providers that require no key.
	IsInitialized() bool

	// ValidateKey checks the key against the vendor with a cheap live call.
	// A definitive vendor rejection is reported in the result, not as an
	// error; the error return is reserved for transport-level failures that
	// already have a classified result attached.
	ValidateKey(ctx context.Context, key string) *KeyValidationResult

	// ListModels fetches (or synthesizes) the vendor's model catalog.
	ListModels(ctx context.Context) ([]ModelInfo, *Error)

	// Chat performs a blocking completion.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, *Error)

	// ChatStream performs a streaming completion. The returned channel is
	// closed after the terminal done or error chunk.
	ChatStream(ctx context.Context, req *ChatRequest) (<-chan *ChatStreamChunk, *Error)
}
