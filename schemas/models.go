package schemas

// ModelPricing holds USD cost per million tokens. Zero values mean unknown.
type ModelPricing struct {
	InputPerMTok  float64 `json:"input_per_mtok,omitempty"`
	OutputPerMTok float64 `json:"output_per_mtok,omitempty"`
}

// ModelInfo describes a single model as exposed by a provider catalog.
type ModelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// ContextWindow is the total token window; 0 when the vendor does not
	// report one and no table entry exists.
	ContextWindow int `json:"context_window,omitempty"`
	MaxOutput     int `json:"max_output,omitempty"`

	SupportsVision   bool `json:"supports_vision"`
	SupportsTools    bool `json:"supports_tools"`
	SupportsThinking bool `json:"supports_thinking"`

	Pricing    *ModelPricing `json:"pricing,omitempty"`
	Deprecated bool          `json:"deprecated,omitempty"`
}

// HasCapability reports whether the model supports the named capability.
// Streaming is a vendor-level property and always passes at the model level.
func (m ModelInfo) HasCapability(c Capability) bool {
	switch c {
	case CapabilityVision:
		return m.SupportsVision
	case CapabilityTools:
		return m.SupportsTools
	case CapabilityThinking:
		return m.SupportsThinking
	case CapabilityStreaming:
		return true
	default:
		return false
	}
}
