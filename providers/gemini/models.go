package gemini

import (
	"slices"
	"strings"

	schemas "github.com/keyloom/keyloom/schemas"
)

// supportsThinkingModel reports whether the model family emits thought
// parts. 2.5-era and newer Gemini models do, as do the explicit thinking
// previews.
func supportsThinkingModel(id string) bool {
	return strings.Contains(id, "-2.5") || strings.Contains(id, "-3") ||
		strings.Contains(id, "thinking")
}

func supportsVisionModel(id string) bool {
	// Text-only variants carry an explicit marker; everything else in the
	// generateContent family is multimodal.
	return !strings.Contains(id, "text-only") && !strings.Contains(id, "aqa")
}

// buildCatalog converts the raw listing, keeping only chat-capable models.
func buildCatalog(list *modelListResponse) []schemas.ModelInfo {
	var models []schemas.ModelInfo
	for _, model := range list.Models {
		if !slices.Contains(model.SupportedGenerationMethods, "generateContent") {
			continue
		}
		id := strings.TrimPrefix(model.Name, "models/")
		name := model.DisplayName
		if name == "" {
			name = id
		}
		models = append(models, schemas.ModelInfo{
			ID:               id,
			Name:             name,
			ContextWindow:    model.InputTokenLimit,
			MaxOutput:        model.OutputTokenLimit,
			SupportsVision:   supportsVisionModel(id),
			SupportsTools:    true,
			SupportsThinking: supportsThinkingModel(id),
		})
	}
	return models
}
