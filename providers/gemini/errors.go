package gemini

import (
	"net/http"

	"github.com/valyala/fasthttp"

	providerUtils "github.com/keyloom/keyloom/providers/utils"
	schemas "github.com/keyloom/keyloom/schemas"
)

// apiError is the Google API error envelope.
type apiError struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func parseAPIError(resp *fasthttp.Response) *schemas.Error {
	var envelope apiError
	return providerUtils.HandleProviderAPIError(schemas.Gemini, resp, &envelope, func() string {
		if envelope.Error != nil {
			return envelope.Error.Message
		}
		return ""
	})
}

func parseStreamAPIError(resp *http.Response) *schemas.Error {
	var envelope apiError
	return providerUtils.HandleStreamAPIError(schemas.Gemini, resp, &envelope, func() string {
		if envelope.Error != nil {
			return envelope.Error.Message
		}
		return ""
	})
}
