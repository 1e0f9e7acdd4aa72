package openaicompat

import (
	"sort"
	"strings"

	"github.com/bytedance/sonic"

	schemas "github.com/keyloom/keyloom/schemas"
)

// mistralModelList extends the standard listing shape with Mistral's
// capability block.
type mistralModelList struct {
	Data []struct {
		ID            string `json:"id"`
		Name          string `json:"name"`
		MaxContextLen int    `json:"max_context_length"`
		Capabilities  struct {
			CompletionChat  bool `json:"completion_chat"`
			FunctionCalling bool `json:"function_calling"`
			Vision          bool `json:"vision"`
		} `json:"capabilities"`
		Deprecation string `json:"deprecation"`
	} `json:"data"`
}

func mistralParseModels(body []byte) ([]schemas.ModelInfo, *schemas.Error) {
	var list mistralModelList
	if err := sonic.Unmarshal(body, &list); err != nil {
		return nil, schemas.NewOperationError(schemas.ErrCodeDecode, "failed to decode model list", err).WithProvider(schemas.Mistral)
	}

	var models []schemas.ModelInfo
	for _, m := range list.Data {
		if !m.Capabilities.CompletionChat {
			continue
		}
		lower := strings.ToLower(m.ID)
		name := m.Name
		if name == "" {
			name = m.ID
		}
		models = append(models, schemas.ModelInfo{
			ID:               m.ID,
			Name:             name,
			ContextWindow:    m.MaxContextLen,
			SupportsVision:   m.Capabilities.Vision || strings.Contains(lower, "pixtral"),
			SupportsTools:    m.Capabilities.FunctionCalling,
			SupportsThinking: strings.Contains(lower, "magistral"),
			Deprecated:       m.Deprecation != "",
		})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// MistralProfile describes Mistral's La Plateforme endpoint.
func MistralProfile() Profile {
	return Profile{
		ID:             schemas.Mistral,
		Name:           "Mistral",
		BaseURL:        "https://api.mistral.ai/v1",
		KeyPlaceholder: "...",
		DocsURL:        "https://docs.mistral.ai",
		Capabilities: schemas.ProviderCapabilities{
			Streaming: true,
			Vision:    true,
			Tools:     true,
			Thinking:  true,
		},
		ParseModelList: mistralParseModels,
	}
}

// NewMistral builds a Mistral provider.
func NewMistral(cfg Config) *CompatProvider {
	return New(MistralProfile(), cfg)
}
