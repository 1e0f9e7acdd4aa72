package openaicompat

import (
	"sort"
	"strings"

	"github.com/bytedance/sonic"

	schemas "github.com/keyloom/keyloom/schemas"
)

// groqContextWindows fills in windows the listing endpoint omits.
var groqContextWindows = map[string]int{
	"llama-3.3-70b-versatile":                       131072,
	"llama-3.1-8b-instant":                          131072,
	"meta-llama/llama-4-scout-17b-16e-instruct":     131072,
	"meta-llama/llama-4-maverick-17b-128e-instruct": 131072,
	"deepseek-r1-distill-llama-70b":                 131072,
	"qwen/qwen3-32b":                                131072,
	"moonshotai/kimi-k2-instruct":                   131072,
	"gemma2-9b-it":                                  8192,
}

// groqExcludedFragments drops non-chat models from the catalog.
var groqExcludedFragments = []string{"whisper", "tts", "guard", "prompt-guard", "embed"}

func groqParseModels(body []byte) ([]schemas.ModelInfo, *schemas.Error) {
	var list standardModelList
	if err := sonic.Unmarshal(body, &list); err != nil {
		return nil, schemas.NewOperationError(schemas.ErrCodeDecode, "failed to decode model list", err).WithProvider(schemas.Groq)
	}

	var models []schemas.ModelInfo
	for _, m := range list.Data {
		lower := strings.ToLower(m.ID)
		excluded := false
		for _, frag := range groqExcludedFragments {
			if strings.Contains(lower, frag) {
				excluded = true
				break
			}
		}
		if excluded {
			continue
		}
		window := m.ContextWindow
		if window == 0 {
			window = groqContextWindows[m.ID]
		}
		models = append(models, schemas.ModelInfo{
			ID:               m.ID,
			Name:             m.ID,
			ContextWindow:    window,
			SupportsVision:   strings.Contains(lower, "llama-4") || strings.Contains(lower, "vision"),
			SupportsTools:    true,
			SupportsThinking: strings.Contains(lower, "r1") || strings.Contains(lower, "qwen3") || strings.Contains(lower, "qwq"),
		})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// GroqProfile describes Groq's OpenAI-compatible endpoint.
func GroqProfile() Profile {
	return Profile{
		ID:             schemas.Groq,
		Name:           "Groq",
		BaseURL:        "https://api.groq.com/openai/v1",
		KeyPlaceholder: "gsk_...",
		DocsURL:        "https://console.groq.com/docs",
		Capabilities: schemas.ProviderCapabilities{
			Streaming: true,
			Vision:    true,
			Tools:     true,
			Thinking:  true,
		},
		ParseModelList: groqParseModels,
	}
}

// NewGroq builds a Groq provider.
func NewGroq(cfg Config) *CompatProvider {
	return New(GroqProfile(), cfg)
}
