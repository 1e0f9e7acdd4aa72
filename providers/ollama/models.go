package ollama

import (
	"context"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"

	providerUtils "github.com/keyloom/keyloom/providers/utils"
	schemas "github.com/keyloom/keyloom/schemas"
)

var visionFragments = []string{"llava", "bakllava", "moondream", "cogvlm", "vision"}

var thinkingFragments = []string{"deepseek-r1", "qwen3", "qwq", "-think"}

func supportsVision(m localModel) bool {
	lower := strings.ToLower(m.Name)
	for _, frag := range visionFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	// Multimodal models advertise a projector family alongside the LLM.
	for _, family := range m.Details.Families {
		if family == "clip" || family == "mllama" {
			return true
		}
	}
	return false
}

func supportsThinking(name string) bool {
	lower := strings.ToLower(name)
	for _, frag := range thinkingFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// estimateContextWindow guesses a window from the parameter count, since
// /api/tags does not report one.
func estimateContextWindow(paramSize string) int {
	size, err := strconv.ParseFloat(strings.TrimSuffix(paramSize, "B"), 64)
	if err != nil {
		return 4096
	}
	switch {
	case size >= 70:
		return 32768
	case size >= 30:
		return 16384
	case size >= 7:
		return 8192
	default:
		return 4096
	}
}

// formatModelName turns "llama3:8b" into "Llama 3 (8B)".
func formatModelName(name string) string {
	base, variant, hasVariant := strings.Cut(name, ":")
	var b strings.Builder
	prevDigit := false
	for i, r := range base {
		// Keep dotted versions like "3.1" together.
		digit := (r >= '0' && r <= '9') || r == '.'
		if i > 0 && digit != prevDigit {
			b.WriteByte(' ')
		}
		prevDigit = digit
		b.WriteRune(r)
	}
	words := strings.Fields(strings.NewReplacer("-", " ", "_", " ").Replace(b.String()))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	formatted := strings.Join(words, " ")
	if hasVariant {
		return formatted + " (" + strings.ToUpper(variant) + ")"
	}
	return formatted
}

// ListModels lists the models installed on the server.
func (p *OllamaProvider) ListModels(ctx context.Context) ([]schemas.ModelInfo, *schemas.Error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(p.baseURL + "/api/tags")
	req.Header.SetMethod(fasthttp.MethodGet)

	if err := providerUtils.MakeRequestWithContext(ctx, p.client, req, resp); err != nil {
		return nil, err.WithProvider(schemas.Ollama)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, parseAPIError(resp)
	}

	var tags tagsResponse
	if err := sonic.Unmarshal(resp.Body(), &tags); err != nil {
		return nil, schemas.NewOperationError(schemas.ErrCodeDecode, "failed to decode model list", err).WithProvider(schemas.Ollama)
	}

	models := make([]schemas.ModelInfo, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, schemas.ModelInfo{
			ID:               m.Name,
			Name:             formatModelName(m.Name),
			ContextWindow:    estimateContextWindow(m.Details.ParameterSize),
			SupportsVision:   supportsVision(m),
			SupportsThinking: supportsThinking(m.Name),
		})
	}
	return models, nil
}
