package openai

import (
	"sort"
	"strings"

	schemas "github.com/keyloom/keyloom/schemas"
)

// contextWindows maps model id prefixes to total token windows. Longest
// prefix wins.
var contextWindows = map[string]int{
	"gpt-5":         400000,
	"gpt-4.1":       1047576,
	"gpt-4o":        128000,
	"gpt-4-turbo":   128000,
	"gpt-4":         8192,
	"gpt-3.5-turbo": 16385,
	"chatgpt-4o":    128000,
	"o1-mini":       128000,
	"o1":            200000,
	"o3":            200000,
	"o4":            200000,
}

// excludedFragments marks non-chat model families the /models listing mixes
// into the catalog.
var excludedFragments = []string{
	"instruct", "embed", "whisper", "tts", "dall-e", "audio", "realtime",
	"moderation", "search", "transcribe", "davinci", "babbage", "image",
}

// familyRank orders the listing by usefulness for chat, newest families
// first. Lower ranks sort earlier.
var familyRank = []string{"gpt-5", "gpt-4.1", "gpt-4o", "o4", "o3", "o1", "chatgpt", "gpt-4", "gpt-3.5"}

func isChatModel(id string) bool {
	if !strings.HasPrefix(id, "gpt-") && !strings.HasPrefix(id, "chatgpt-") && !isReasoningModel(id) {
		return false
	}
	for _, fragment := range excludedFragments {
		if strings.Contains(id, fragment) {
			return false
		}
	}
	return true
}

func contextWindowFor(id string) int {
	bestLen, best := 0, 0
	for prefix, window := range contextWindows {
		if strings.HasPrefix(id, prefix) && len(prefix) > bestLen {
			bestLen, best = len(prefix), window
		}
	}
	return best
}

func rankFor(id string) int {
	for i, family := range familyRank {
		if strings.HasPrefix(id, family) {
			return i
		}
	}
	return len(familyRank)
}

func supportsVision(id string) bool {
	switch {
	case strings.HasPrefix(id, "gpt-5"), strings.HasPrefix(id, "gpt-4.1"),
		strings.HasPrefix(id, "gpt-4o"), strings.HasPrefix(id, "chatgpt-4o"),
		strings.HasPrefix(id, "o3"), strings.HasPrefix(id, "o4"),
		strings.Contains(id, "vision"):
		return true
	default:
		return false
	}
}

func supportsTools(id string) bool {
	// Early o1 snapshots had no tool support.
	return id != "o1-mini" && id != "o1-preview" && !strings.HasPrefix(id, "gpt-3.5")
}

// buildCatalog filters raw listing ids down to chat-capable models and
// enriches them from the static tables.
func buildCatalog(ids []string) []schemas.ModelInfo {
	var models []schemas.ModelInfo
	for _, id := range ids {
		if !isChatModel(id) {
			continue
		}
		models = append(models, schemas.ModelInfo{
			ID:               id,
			Name:             id,
			ContextWindow:    contextWindowFor(id),
			SupportsVision:   supportsVision(id),
			SupportsTools:    supportsTools(id),
			SupportsThinking: isReasoningModel(id),
		})
	}
	sort.SliceStable(models, func(i, j int) bool {
		ri, rj := rankFor(models[i].ID), rankFor(models[j].ID)
		if ri != rj {
			return ri < rj
		}
		return models[i].ID < models[j].ID
	})
	return models
}
