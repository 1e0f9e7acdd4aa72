// Package utils provides shared helpers for provider adapters: context-aware
// fasthttp execution, vendor error envelope handling, and validation error
// classification.
package utils

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"
	"slices"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"

	schemas "github.com/keyloom/keyloom/schemas"
)

// DefaultRequestTimeout bounds non-streaming provider calls when the caller
// supplies no deadline.
const DefaultRequestTimeout = 30 * time.Second

// MakeRequestWithContext executes a fasthttp request with context
// cancellation support. fasthttp.Client.Do has no context variant, so the
// call runs on its own goroutine while we watch ctx.
func MakeRequestWithContext(ctx context.Context, client *fasthttp.Client, req *fasthttp.Request, resp *fasthttp.Response) *schemas.Error {
	errChan := make(chan error, 1)

	go func() {
		// client.Do blocks; it reports completion (or failure) on errChan.
		errChan <- client.Do(req, resp)
	}()

	select {
	case <-ctx.Done():
		return schemas.NewOperationError(schemas.ErrCodeCanceled,
			fmt.Sprintf("request cancelled or timed out by context: %v", ctx.Err()), ctx.Err())
	case err := <-errChan:
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return schemas.NewOperationError(schemas.ErrCodeCanceled, "request cancelled", err)
			}
			if errors.Is(err, fasthttp.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				return schemas.NewOperationError(schemas.ErrCodeNetwork, "request timed out", err)
			}
			return schemas.NewOperationError(schemas.ErrCodeNetwork, "request failed", err)
		}
		return nil
	}
}

// SetExtraHeaders applies optional extra headers without letting them
// overwrite headers the adapter already set. Authorization is always skipped.
func SetExtraHeaders(req *fasthttp.Request, extraHeaders map[string]string, skipHeaders []string) {
	for key, value := range extraHeaders {
		if key == "Authorization" {
			continue
		}
		if slices.Contains(skipHeaders, key) {
			continue
		}
		canonicalKey := textproto.CanonicalMIMEHeaderKey(key)
		if len(req.Header.Peek(canonicalKey)) == 0 {
			req.Header.Set(canonicalKey, value)
		}
	}
}

// HandleProviderAPIError decodes a non-2xx vendor body into errorResp and
// returns the classified error. Bodies that fail to parse fall back to the
// raw text so callers still see what the vendor said.
func HandleProviderAPIError(provider schemas.ProviderID, resp *fasthttp.Response, errorResp any, extractMessage func() string) *schemas.Error {
	statusCode := resp.StatusCode()
	body := resp.Body()

	if err := sonic.Unmarshal(body, errorResp); err != nil {
		return schemas.NewProviderAPIError(provider, statusCode, fmt.Sprintf("provider API error: %s", string(body)))
	}
	message := ""
	if extractMessage != nil {
		message = extractMessage()
	}
	if message == "" {
		message = fmt.Sprintf("provider API error (HTTP %d)", statusCode)
	}
	return schemas.NewProviderAPIError(provider, statusCode, message)
}

// ClassifyValidationError maps a request failure to a validation error code.
// Auth-shaped failures report invalid_key, throttling reports rate_limited,
// transport failures report network_error.
func ClassifyValidationError(err *schemas.Error) schemas.KeyValidationErrorCode {
	if err == nil {
		return ""
	}
	switch err.Code {
	case schemas.ErrCodeInvalidKey:
		return schemas.ValidationErrInvalidKey
	case schemas.ErrCodeRateLimited:
		return schemas.ValidationErrRateLimited
	case schemas.ErrCodeNetwork, schemas.ErrCodeCanceled:
		return schemas.ValidationErrNetworkError
	}
	msg := strings.ToLower(err.Message)
	switch {
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "api key"),
		strings.Contains(msg, "authentication"), strings.Contains(msg, "invalid key"):
		return schemas.ValidationErrInvalidKey
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return schemas.ValidationErrRateLimited
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "connection"),
		strings.Contains(msg, "no such host"):
		return schemas.ValidationErrNetworkError
	default:
		return schemas.ValidationErrUnknown
	}
}

// ValidationResultFromError converts a request failure into the result shape
// ValidateKey returns.
func ValidationResultFromError(err *schemas.Error) *schemas.KeyValidationResult {
	return &schemas.KeyValidationResult{
		Valid:     false,
		Error:     err.Message,
		ErrorCode: ClassifyValidationError(err),
	}
}
