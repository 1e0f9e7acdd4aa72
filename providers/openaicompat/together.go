package openaicompat

import (
	"sort"
	"strings"

	"github.com/bytedance/sonic"

	schemas "github.com/keyloom/keyloom/schemas"
)

// togetherModel is one entry of Together's listing, which is a bare JSON
// array rather than the standard {"data":[...]} envelope.
type togetherModel struct {
	ID            string `json:"id"`
	DisplayName   string `json:"display_name"`
	Type          string `json:"type"`
	ContextLength int    `json:"context_length"`
	Pricing       struct {
		Input  float64 `json:"input"`
		Output float64 `json:"output"`
	} `json:"pricing"`
}

func togetherParseModels(body []byte) ([]schemas.ModelInfo, *schemas.Error) {
	var list []togetherModel
	if err := sonic.Unmarshal(body, &list); err != nil {
		return nil, schemas.NewOperationError(schemas.ErrCodeDecode, "failed to decode model list", err).WithProvider(schemas.Together)
	}

	var models []schemas.ModelInfo
	for _, m := range list {
		if m.Type != "chat" {
			continue
		}
		lower := strings.ToLower(m.ID)
		name := m.DisplayName
		if name == "" {
			name = m.ID
		}
		info := schemas.ModelInfo{
			ID:               m.ID,
			Name:             name,
			ContextWindow:    m.ContextLength,
			SupportsVision:   strings.Contains(lower, "vision") || strings.Contains(lower, "-vl") || strings.Contains(lower, "llama-4"),
			SupportsTools:    true,
			SupportsThinking: strings.Contains(lower, "deepseek-r1") || strings.Contains(lower, "qwq"),
		}
		if m.Pricing.Input > 0 || m.Pricing.Output > 0 {
			info.Pricing = &schemas.ModelPricing{
				InputPerMTok:  m.Pricing.Input,
				OutputPerMTok: m.Pricing.Output,
			}
		}
		models = append(models, info)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// TogetherProfile describes Together AI's endpoint.
func TogetherProfile() Profile {
	return Profile{
		ID:             schemas.Together,
		Name:           "Together AI",
		BaseURL:        "https://api.together.xyz/v1",
		KeyPlaceholder: "...",
		DocsURL:        "https://docs.together.ai",
		Capabilities: schemas.ProviderCapabilities{
			Streaming: true,
			Vision:    true,
			Tools:     true,
			Thinking:  true,
		},
		ParseModelList: togetherParseModels,
	}
}

// NewTogether builds a Together AI provider.
func NewTogether(cfg Config) *CompatProvider {
	return New(TogetherProfile(), cfg)
}
