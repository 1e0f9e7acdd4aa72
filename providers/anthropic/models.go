package anthropic

import schemas "github.com/keyloom/keyloom/schemas"

// claudeCatalog is the curated model table. Context windows, output caps and
// pricing track the published model cards.
var claudeCatalog = []schemas.ModelInfo{
	{
		ID: "claude-sonnet-4-5-20250929", Name: "Claude Sonnet 4.5",
		ContextWindow: 200000, MaxOutput: 64000,
		SupportsVision: true, SupportsTools: true, SupportsThinking: true,
		Pricing: &schemas.ModelPricing{InputPerMTok: 3, OutputPerMTok: 15},
	},
	{
		ID: "claude-opus-4-1-20250805", Name: "Claude Opus 4.1",
		ContextWindow: 200000, MaxOutput: 32000,
		SupportsVision: true, SupportsTools: true, SupportsThinking: true,
		Pricing: &schemas.ModelPricing{InputPerMTok: 15, OutputPerMTok: 75},
	},
	{
		ID: "claude-haiku-4-5-20251001", Name: "Claude Haiku 4.5",
		ContextWindow: 200000, MaxOutput: 64000,
		SupportsVision: true, SupportsTools: true, SupportsThinking: true,
		Pricing: &schemas.ModelPricing{InputPerMTok: 1, OutputPerMTok: 5},
	},
	{
		ID: "claude-3-7-sonnet-20250219", Name: "Claude 3.7 Sonnet",
		ContextWindow: 200000, MaxOutput: 64000,
		SupportsVision: true, SupportsTools: true, SupportsThinking: true,
		Pricing: &schemas.ModelPricing{InputPerMTok: 3, OutputPerMTok: 15},
	},
	{
		ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku",
		ContextWindow: 200000, MaxOutput: 8192,
		SupportsVision: true, SupportsTools: true, SupportsThinking: false,
		Pricing: &schemas.ModelPricing{InputPerMTok: 0.8, OutputPerMTok: 4},
	},
}

// catalog returns a copy so callers can filter in place.
func catalog() []schemas.ModelInfo {
	models := make([]schemas.ModelInfo, len(claudeCatalog))
	copy(models, claudeCatalog)
	return models
}
