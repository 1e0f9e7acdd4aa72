package anthropic

import (
	"net/http"

	"github.com/valyala/fasthttp"

	providerUtils "github.com/keyloom/keyloom/providers/utils"
	schemas "github.com/keyloom/keyloom/schemas"
)

// apiError is Anthropic's error envelope.
type apiError struct {
	Type  string          `json:"type"`
	Error *apiErrorDetail `json:"error"`
}

type apiErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func parseAPIError(resp *fasthttp.Response) *schemas.Error {
	var envelope apiError
	return providerUtils.HandleProviderAPIError(schemas.Anthropic, resp, &envelope, func() string {
		if envelope.Error != nil {
			return envelope.Error.Message
		}
		return ""
	})
}

func parseStreamAPIError(resp *http.Response) *schemas.Error {
	var envelope apiError
	return providerUtils.HandleStreamAPIError(schemas.Anthropic, resp, &envelope, func() string {
		if envelope.Error != nil {
			return envelope.Error.Message
		}
		return ""
	})
}
