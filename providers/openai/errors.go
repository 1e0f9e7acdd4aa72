package openai

import (
	"net/http"

	"github.com/valyala/fasthttp"

	providerUtils "github.com/keyloom/keyloom/providers/utils"
	schemas "github.com/keyloom/keyloom/schemas"
)

// apiError is OpenAI's error envelope, shared by every endpoint.
type apiError struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func parseAPIError(resp *fasthttp.Response) *schemas.Error {
	var envelope apiError
	return providerUtils.HandleProviderAPIError(schemas.OpenAI, resp, &envelope, func() string {
		if envelope.Error != nil {
			return envelope.Error.Message
		}
		return ""
	})
}

func parseStreamAPIError(resp *http.Response) *schemas.Error {
	var envelope apiError
	return providerUtils.HandleStreamAPIError(schemas.OpenAI, resp, &envelope, func() string {
		if envelope.Error != nil {
			return envelope.Error.Message
		}
		return ""
	})
}
