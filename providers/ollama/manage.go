package ollama

import (
	"bufio"
	"context"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"

	providerUtils "github.com/keyloom/keyloom/providers/utils"
	schemas "github.com/keyloom/keyloom/schemas"
)

// PullProgress reports one status line of a model download.
type PullProgress struct {
	Status    string
	Total     int64
	Completed int64
}

// PullModel downloads a model from the Ollama library, invoking onProgress
// for each status line the server streams. onProgress may be nil.
func (p *OllamaProvider) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) *schemas.Error {
	body, err := sonic.Marshal(map[string]string{"name": name})
	if err != nil {
		return schemas.NewOperationError(schemas.ErrCodeInternal, "failed to encode request", err).WithProvider(schemas.Ollama)
	}

	resp, kerr := providerUtils.MakeStreamRequestWithContext(ctx, p.streamClient,
		http.MethodPost, p.baseURL+"/api/pull", body,
		map[string]string{"Content-Type": "application/json"})
	if kerr != nil {
		return kerr.WithProvider(schemas.Ollama)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return parseStreamAPIError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var progress pullProgress
		if err := sonic.Unmarshal(line, &progress); err != nil {
			continue
		}
		if onProgress != nil {
			onProgress(PullProgress(progress))
		}
	}
	if err := scanner.Err(); err != nil {
		return schemas.NewOperationError(schemas.ErrCodeNetwork, "pull stream read failed", err).WithProvider(schemas.Ollama)
	}
	return nil
}

// DeleteModel removes a local model from the server.
func (p *OllamaProvider) DeleteModel(ctx context.Context, name string) *schemas.Error {
	body, err := sonic.Marshal(map[string]string{"name": name})
	if err != nil {
		return schemas.NewOperationError(schemas.ErrCodeInternal, "failed to encode request", err).WithProvider(schemas.Ollama)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(p.baseURL + "/api/delete")
	req.Header.SetMethod(fasthttp.MethodDelete)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	if kerr := providerUtils.MakeRequestWithContext(ctx, p.client, req, resp); kerr != nil {
		return kerr.WithProvider(schemas.Ollama)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return parseAPIError(resp)
	}
	return nil
}
