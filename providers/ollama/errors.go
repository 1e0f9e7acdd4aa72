package ollama

import (
	"net/http"

	"github.com/valyala/fasthttp"

	providerUtils "github.com/keyloom/keyloom/providers/utils"
	schemas "github.com/keyloom/keyloom/schemas"
)

func parseAPIError(resp *fasthttp.Response) *schemas.Error {
	var envelope apiError
	return providerUtils.HandleProviderAPIError(schemas.Ollama, resp, &envelope, func() string {
		return envelope.Error
	})
}

func parseStreamAPIError(resp *http.Response) *schemas.Error {
	var envelope apiError
	return providerUtils.HandleStreamAPIError(schemas.Ollama, resp, &envelope, func() string {
		return envelope.Error
	})
}
