package openaicompat

import (
	"net/http"

	"github.com/valyala/fasthttp"

	providerUtils "github.com/keyloom/keyloom/providers/utils"
	schemas "github.com/keyloom/keyloom/schemas"
)

// apiError is the OpenAI-style error envelope the whole family uses. Some
// vendors flatten message to a bare string, covered by the raw fallback in
// the shared handler.
type apiError struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func (p *CompatProvider) parseAPIError(resp *fasthttp.Response) *schemas.Error {
	var envelope apiError
	return providerUtils.HandleProviderAPIError(p.profile.ID, resp, &envelope, func() string {
		if envelope.Error != nil {
			return envelope.Error.Message
		}
		return ""
	})
}

func (p *CompatProvider) parseStreamAPIError(resp *http.Response) *schemas.Error {
	var envelope apiError
	return providerUtils.HandleStreamAPIError(p.profile.ID, resp, &envelope, func() string {
		if envelope.Error != nil {
			return envelope.Error.Message
		}
		return ""
	})
}
