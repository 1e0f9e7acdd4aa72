package openaicompat

import (
	"slices"
	"sort"
	"strconv"

	"github.com/bytedance/sonic"

	schemas "github.com/keyloom/keyloom/schemas"
)

// openrouterModelList is OpenRouter's own listing schema. Prices come back
// as decimal strings in USD per token.
type openrouterModelList struct {
	Data []struct {
		ID            string `json:"id"`
		Name          string `json:"name"`
		ContextLength int    `json:"context_length"`
		Pricing       struct {
			Prompt     string `json:"prompt"`
			Completion string `json:"completion"`
		} `json:"pricing"`
		Architecture struct {
			InputModalities []string `json:"input_modalities"`
		} `json:"architecture"`
		SupportedParameters []string `json:"supported_parameters"`
	} `json:"data"`
}

func perMTok(perToken string) float64 {
	v, err := strconv.ParseFloat(perToken, 64)
	if err != nil {
		return 0
	}
	return v * 1e6
}

func openrouterParseModels(body []byte) ([]schemas.ModelInfo, *schemas.Error) {
	var list openrouterModelList
	if err := sonic.Unmarshal(body, &list); err != nil {
		return nil, schemas.NewOperationError(schemas.ErrCodeDecode, "failed to decode model list", err).WithProvider(schemas.OpenRouter)
	}

	var models []schemas.ModelInfo
	for _, m := range list.Data {
		name := m.Name
		if name == "" {
			name = m.ID
		}
		info := schemas.ModelInfo{
			ID:               m.ID,
			Name:             name,
			ContextWindow:    m.ContextLength,
			SupportsVision:   slices.Contains(m.Architecture.InputModalities, "image"),
			SupportsTools:    slices.Contains(m.SupportedParameters, "tools"),
			SupportsThinking: slices.Contains(m.SupportedParameters, "reasoning") || slices.Contains(m.SupportedParameters, "include_reasoning"),
		}
		input, output := perMTok(m.Pricing.Prompt), perMTok(m.Pricing.Completion)
		if input > 0 || output > 0 {
			info.Pricing = &schemas.ModelPricing{InputPerMTok: input, OutputPerMTok: output}
		}
		models = append(models, info)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// OpenRouterProfile describes the OpenRouter aggregator endpoint.
func OpenRouterProfile() Profile {
	return Profile{
		ID:             schemas.OpenRouter,
		Name:           "OpenRouter",
		BaseURL:        "https://openrouter.ai/api/v1",
		KeyPlaceholder: "sk-or-...",
		DocsURL:        "https://openrouter.ai/docs",
		Capabilities: schemas.ProviderCapabilities{
			Streaming: true,
			Vision:    true,
			Tools:     true,
			Thinking:  true,
		},
		ParseModelList: openrouterParseModels,
	}
}

// NewOpenRouter builds an OpenRouter provider. Referer and AppTitle, when
// set, become the HTTP-Referer and X-Title attribution headers OpenRouter
// uses for app rankings.
func NewOpenRouter(cfg Config) *CompatProvider {
	if cfg.Referer != "" || cfg.AppTitle != "" {
		headers := make(map[string]string, len(cfg.ExtraHeaders)+2)
		for k, v := range cfg.ExtraHeaders {
			headers[k] = v
		}
		if cfg.Referer != "" {
			headers["HTTP-Referer"] = cfg.Referer
		}
		if cfg.AppTitle != "" {
			headers["X-Title"] = cfg.AppTitle
		}
		cfg.ExtraHeaders = headers
	}
	return New(OpenRouterProfile(), cfg)
}
