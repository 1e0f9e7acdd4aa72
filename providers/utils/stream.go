package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/bytedance/sonic"

	schemas "github.com/keyloom/keyloom/schemas"
)

// MakeStreamRequestWithContext opens a streaming HTTP request. On success the
// caller owns resp.Body; non-2xx statuses are returned as a response for the
// adapter to classify with its own error envelope.
func MakeStreamRequestWithContext(ctx context.Context, client *http.Client, method, url string, body []byte, headers map[string]string) (*http.Response, *schemas.Error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, schemas.NewOperationError(schemas.ErrCodeInternal, "failed to build stream request", err)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, schemas.NewOperationError(schemas.ErrCodeCanceled, "request cancelled", err)
		}
		return nil, schemas.NewOperationError(schemas.ErrCodeNetwork, "stream request failed", err)
	}
	return resp, nil
}

// HandleStreamAPIError drains a failed stream response and classifies it.
// errorResp receives the vendor envelope; extractMessage pulls the vendor's
// message out of it after a successful parse.
func HandleStreamAPIError(provider schemas.ProviderID, resp *http.Response, errorResp any, extractMessage func() string) *schemas.Error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if err := sonic.Unmarshal(body, errorResp); err != nil {
		return schemas.NewProviderAPIError(provider, resp.StatusCode, fmt.Sprintf("provider API error: %s", string(body)))
	}
	message := ""
	if extractMessage != nil {
		message = extractMessage()
	}
	if message == "" {
		message = fmt.Sprintf("provider API error (HTTP %d)", resp.StatusCode)
	}
	return schemas.NewProviderAPIError(provider, resp.StatusCode, message)
}

// StreamChunkCapacity sizes the buffered chunk channels adapters return.
const StreamChunkCapacity = 64

// SendChunk delivers a chunk unless the context is done. It reports whether
// the stream should continue.
func SendChunk(ctx context.Context, ch chan<- *schemas.ChatStreamChunk, chunk *schemas.ChatStreamChunk) bool {
	select {
	case <-ctx.Done():
		return false
	case ch <- chunk:
		return true
	}
}
