package ollama

import (
	"bufio"
	"context"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	providerUtils "github.com/keyloom/keyloom/providers/utils"
	schemas "github.com/keyloom/keyloom/schemas"
)

func toChatRequest(req *schemas.ChatRequest) (*chatRequest, *schemas.Error) {
	if len(req.Tools) > 0 {
		return nil, schemas.NewProviderError(schemas.Ollama, schemas.ErrCodeNotSupported, "tool calling is not supported")
	}

	out := &chatRequest{Model: req.Model}
	if req.System != "" {
		out.Messages = append(out.Messages, chatMessage{Role: "system", Content: req.System})
	}
	for _, msg := range req.Messages {
		converted := chatMessage{Role: string(msg.Role)}
		var texts []string
		for _, part := range msg.Content {
			switch part.Type {
			case schemas.ContentPartText:
				texts = append(texts, part.Text)
			case schemas.ContentPartImage:
				if part.Image == nil {
					continue
				}
				if part.Image.Base64Data == "" {
					return nil, schemas.NewProviderError(schemas.Ollama, schemas.ErrCodeNotSupported, "URL images are not supported, inline the image as base64")
				}
				converted.Images = append(converted.Images, part.Image.Base64Data)
			}
		}
		for i, t := range texts {
			if i > 0 {
				converted.Content += "\n"
			}
			converted.Content += t
		}
		out.Messages = append(out.Messages, converted)
	}

	if req.Thinking != nil && req.Thinking.Enabled {
		out.Think = true
	}
	if req.Temperature != nil || req.TopP != nil || req.TopK != nil || req.MaxTokens > 0 || len(req.StopSequences) > 0 {
		out.Options = &modelOptions{
			Temperature: req.Temperature,
			TopP:        req.TopP,
			TopK:        req.TopK,
			NumPredict:  req.MaxTokens,
			Stop:        req.StopSequences,
		}
	}
	return out, nil
}

func mapDoneReason(reason string) schemas.FinishReason {
	switch reason {
	case "", "stop":
		return schemas.FinishStop
	case "length":
		return schemas.FinishLength
	default:
		return schemas.FinishUnknown
	}
}

// Chat performs a blocking completion. The server returns no response id,
// so one is synthesized.
func (p *OllamaProvider) Chat(ctx context.Context, request *schemas.ChatRequest) (*schemas.ChatResponse, *schemas.Error) {
	wireReq, kerr := toChatRequest(request)
	if kerr != nil {
		return nil, kerr
	}
	body, err := sonic.Marshal(wireReq)
	if err != nil {
		return nil, schemas.NewOperationError(schemas.ErrCodeInternal, "failed to encode request", err).WithProvider(schemas.Ollama)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(p.baseURL + "/api/chat")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	if kerr := providerUtils.MakeRequestWithContext(ctx, p.client, req, resp); kerr != nil {
		return nil, kerr.WithProvider(schemas.Ollama)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, parseAPIError(resp)
	}

	var wireResp chatResponse
	raw := append([]byte(nil), resp.Body()...)
	if uerr := sonic.Unmarshal(raw, &wireResp); uerr != nil {
		return nil, schemas.NewOperationError(schemas.ErrCodeDecode, "failed to decode response", uerr).WithProvider(schemas.Ollama)
	}

	return &schemas.ChatResponse{
		ID:           "ollama-" + uuid.NewString(),
		Model:        wireResp.Model,
		Content:      wireResp.Message.Content,
		Thinking:     wireResp.Message.Thinking,
		FinishReason: mapDoneReason(wireResp.DoneReason),
		Usage: schemas.TokenUsage{
			InputTokens:  wireResp.PromptEvalCount,
			OutputTokens: wireResp.EvalCount,
		},
		Raw: raw,
	}, nil
}

// ChatStream performs a streaming completion. Ollama streams newline
// delimited JSON objects rather than SSE.
func (p *OllamaProvider) ChatStream(ctx context.Context, request *schemas.ChatRequest) (<-chan *schemas.ChatStreamChunk, *schemas.Error) {
	wireReq, kerr := toChatRequest(request)
	if kerr != nil {
		return nil, kerr
	}
	wireReq.Stream = true
	body, err := sonic.Marshal(wireReq)
	if err != nil {
		return nil, schemas.NewOperationError(schemas.ErrCodeInternal, "failed to encode request", err).WithProvider(schemas.Ollama)
	}

	resp, kerr := providerUtils.MakeStreamRequestWithContext(ctx, p.streamClient,
		http.MethodPost, p.baseURL+"/api/chat", body,
		map[string]string{"Content-Type": "application/json"})
	if kerr != nil {
		return nil, kerr.WithProvider(schemas.Ollama)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseStreamAPIError(resp)
	}

	chunks := make(chan *schemas.ChatStreamChunk, providerUtils.StreamChunkCapacity)
	go p.consumeStream(ctx, resp, chunks)
	return chunks, nil
}

func (p *OllamaProvider) consumeStream(ctx context.Context, resp *http.Response, chunks chan<- *schemas.ChatStreamChunk) {
	defer close(chunks)
	defer resp.Body.Close()

	var (
		started    bool
		inThinking bool
		thinking   string
		response   schemas.ChatResponse
	)

	closeThinking := func() bool {
		if !inThinking {
			return true
		}
		inThinking = false
		response.Thinking += thinking
		ok := providerUtils.SendChunk(ctx, chunks, &schemas.ChatStreamChunk{
			Type: schemas.StreamChunkThinkingComplete, Thinking: thinking,
		})
		thinking = ""
		return ok
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var chunk chatResponse
		if err := sonic.Unmarshal(line, &chunk); err != nil {
			p.logger.Warn("ollama: skipping malformed stream line")
			continue
		}

		if !started {
			started = true
			response.ID = "ollama-" + uuid.NewString()
			response.Model = chunk.Model
			if !providerUtils.SendChunk(ctx, chunks, &schemas.ChatStreamChunk{
				Type: schemas.StreamChunkStart, ID: response.ID, Model: chunk.Model,
			}) {
				return
			}
		}
		if chunk.Message.Thinking != "" {
			inThinking = true
			thinking += chunk.Message.Thinking
			if !providerUtils.SendChunk(ctx, chunks, &schemas.ChatStreamChunk{
				Type: schemas.StreamChunkThinkingDelta, Text: chunk.Message.Thinking,
			}) {
				return
			}
		}
		if chunk.Message.Content != "" {
			if !closeThinking() {
				return
			}
			response.Content += chunk.Message.Content
			if !providerUtils.SendChunk(ctx, chunks, &schemas.ChatStreamChunk{
				Type: schemas.StreamChunkDelta, Text: chunk.Message.Content,
			}) {
				return
			}
		}
		if chunk.Done {
			if !closeThinking() {
				return
			}
			usage := schemas.TokenUsage{
				InputTokens:  chunk.PromptEvalCount,
				OutputTokens: chunk.EvalCount,
			}
			response.Usage = usage
			response.FinishReason = mapDoneReason(chunk.DoneReason)
			if !providerUtils.SendChunk(ctx, chunks, &schemas.ChatStreamChunk{
				Type: schemas.StreamChunkUsage, Usage: &usage,
			}) {
				return
			}
			final := response
			providerUtils.SendChunk(ctx, chunks, &schemas.ChatStreamChunk{
				Type: schemas.StreamChunkDone, FinishReason: final.FinishReason, Response: &final,
			})
			return
		}
	}

	if err := scanner.Err(); err != nil {
		providerUtils.SendChunk(ctx, chunks, &schemas.ChatStreamChunk{
			Type:  schemas.StreamChunkError,
			Error: schemas.NewOperationError(schemas.ErrCodeNetwork, "stream read failed", err).WithProvider(schemas.Ollama),
		})
		return
	}
	// Stream ended without a done marker.
	providerUtils.SendChunk(ctx, chunks, &schemas.ChatStreamChunk{
		Type:  schemas.StreamChunkError,
		Error: schemas.NewProviderError(schemas.Ollama, schemas.ErrCodeProviderAPI, "stream ended before completion"),
	})
}
