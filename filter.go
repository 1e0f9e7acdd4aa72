package keyloom

import (
	"regexp"
	"strings"

	schemas "github.com/keyloom/keyloom/schemas"
)

// compilePattern translates a glob into an anchored regexp: `*` matches any
// run of characters, every other regexp metacharacter is escaped.
func compilePattern(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteByte('^')
	for _, part := range strings.Split(pattern, "*") {
		if b.Len() > 1 {
			b.WriteString(".*")
		}
		b.WriteString(regexp.QuoteMeta(part))
	}
	b.WriteByte('$')
	return regexp.MustCompile(b.String())
}

func matchesPattern(id, pattern string) bool {
	return compilePattern(pattern).MatchString(id)
}

func matchesAny(id string, patterns []string) bool {
	for _, pattern := range patterns {
		if matchesPattern(id, pattern) {
			return true
		}
	}
	return false
}

// applyFilter runs one filter stage: include, then exclude, then required
// capabilities, then the custom predicate.
func applyFilter(models []schemas.ModelInfo, filter *schemas.ModelFilter) []schemas.ModelInfo {
	if filter == nil {
		return models
	}
	result := models
	if len(filter.Include) > 0 {
		var kept []schemas.ModelInfo
		for _, m := range result {
			if matchesAny(m.ID, filter.Include) {
				kept = append(kept, m)
			}
		}
		result = kept
	}
	if len(filter.Exclude) > 0 {
		var kept []schemas.ModelInfo
		for _, m := range result {
			if !matchesAny(m.ID, filter.Exclude) {
				kept = append(kept, m)
			}
		}
		result = kept
	}
	if len(filter.RequireCapabilities) > 0 {
		var kept []schemas.ModelInfo
		for _, m := range result {
			ok := true
			for _, cap := range filter.RequireCapabilities {
				if !m.HasCapability(cap) {
					ok = false
					break
				}
			}
			if ok {
				kept = append(kept, m)
			}
		}
		result = kept
	}
	if filter.Custom != nil {
		var kept []schemas.ModelInfo
		for _, m := range result {
			if filter.Custom(m) {
				kept = append(kept, m)
			}
		}
		result = kept
	}
	return result
}

// applyModelFilters runs the two-stage pipeline: the global filter first,
// then the provider's own.
func (c *BYOKClient) applyModelFilters(provider schemas.ProviderID, models []schemas.ModelInfo) []schemas.ModelInfo {
	result := applyFilter(models, c.globalFilter)
	if cfg, ok := c.modelConfig[provider]; ok {
		result = applyFilter(result, cfg.Filter)
	}
	return result
}

// defaultModel picks the model to preselect after validation: the configured
// default when it survived filtering, else the first model.
func (c *BYOKClient) defaultModel(provider schemas.ProviderID, models []schemas.ModelInfo) string {
	if len(models) == 0 {
		return ""
	}
	if cfg, ok := c.modelConfig[provider]; ok && cfg.DefaultModel != "" {
		for _, m := range models {
			if m.ID == cfg.DefaultModel {
				return m.ID
			}
		}
	}
	return models[0].ID
}
