package openai

import (
	"context"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"

	providerUtils "github.com/keyloom/keyloom/providers/utils"
	schemas "github.com/keyloom/keyloom/schemas"
)

func mapFinishReason(reason string) schemas.FinishReason {
	switch reason {
	case "stop":
		return schemas.FinishStop
	case "length":
		return schemas.FinishLength
	case "tool_calls", "function_call":
		return schemas.FinishToolUse
	case "content_filter":
		return schemas.FinishContentFilter
	case "":
		return schemas.FinishUnknown
	default:
		return schemas.FinishUnknown
	}
}

func fromWireUsage(u *wireUsage) schemas.TokenUsage {
	if u == nil {
		return schemas.TokenUsage{}
	}
	usage := schemas.TokenUsage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
	}
	if u.PromptTokensDetails != nil {
		usage.CacheReadTokens = u.PromptTokensDetails.CachedTokens
	}
	if u.CompletionTokensDetails != nil {
		usage.ThinkingTokens = u.CompletionTokensDetails.ReasoningTokens
	}
	return usage
}

// toChatMessage translates one unified message to chat-completions format.
func toChatMessage(msg schemas.Message) chatMessage {
	out := chatMessage{Role: string(msg.Role)}

	hasImage := false
	for _, part := range msg.Content {
		if part.Type == schemas.ContentPartImage {
			hasImage = true
			break
		}
	}
	if hasImage {
		var parts []chatContentPart
		for _, part := range msg.Content {
			switch part.Type {
			case schemas.ContentPartText:
				parts = append(parts, chatContentPart{Type: "text", Text: part.Text})
			case schemas.ContentPartImage:
				if part.Image == nil {
					continue
				}
				url := part.Image.URL
				if url == "" {
					url = "data:" + part.Image.MediaType + ";base64," + part.Image.Base64Data
				}
				parts = append(parts, chatContentPart{Type: "image_url", ImageURL: &chatImageURL{URL: url}})
			}
		}
		out.Content = parts
	} else if text := msg.Text(); text != "" {
		out.Content = text
	}

	for _, call := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, wireToolCall{
			ID: call.ID, Type: "function",
			Function: wireToolFunction{Name: call.Name, Arguments: call.Arguments},
		})
	}
	out.ToolCallID = msg.ToolCallID
	return out
}

func toChatCompletionRequest(req *schemas.ChatRequest) *chatCompletionRequest {
	out := &chatCompletionRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
	}
	// o-series models reject max_tokens and sampling overrides.
	if isReasoningModel(req.Model) {
		out.MaxCompletionTokens = req.MaxTokens
		out.Temperature = nil
		out.TopP = nil
	} else {
		out.MaxTokens = req.MaxTokens
	}

	if req.System != "" {
		out.Messages = append(out.Messages, chatMessage{Role: "system", Content: req.System})
	}
	for _, msg := range req.Messages {
		out.Messages = append(out.Messages, toChatMessage(msg))
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, chatTool{
			Type: "function",
			Function: chatToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	if req.ToolChoice != nil {
		switch req.ToolChoice.Type {
		case schemas.ToolChoiceAuto, schemas.ToolChoiceNone, schemas.ToolChoiceRequired:
			out.ToolChoice = string(req.ToolChoice.Type)
		case schemas.ToolChoiceTool:
			out.ToolChoice = map[string]any{
				"type":     "function",
				"function": map[string]any{"name": req.ToolChoice.Name},
			}
		}
	}
	return out
}

// usesResponsesAPI reports whether the request must route to /responses:
// reasoning models expose their summarized thinking only there.
func usesResponsesAPI(req *schemas.ChatRequest) bool {
	return isReasoningModel(req.Model) && req.Thinking != nil && req.Thinking.Enabled
}

// Chat performs a blocking completion, routing reasoning-with-thinking
// requests through the Responses endpoint.
func (p *OpenAIProvider) Chat(ctx context.Context, request *schemas.ChatRequest) (*schemas.ChatResponse, *schemas.Error) {
	key := p.apiKey()
	if key == "" {
		return nil, schemas.NewProviderError(schemas.OpenAI, schemas.ErrCodeNoKey, "no API key set")
	}
	if usesResponsesAPI(request) {
		return p.chatViaResponses(ctx, key, request)
	}

	body, err := sonic.Marshal(toChatCompletionRequest(request))
	if err != nil {
		return nil, schemas.NewOperationError(schemas.ErrCodeInternal, "failed to encode request", err).WithProvider(schemas.OpenAI)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(p.baseURL + "/chat/completions")
	req.Header.SetMethod(fasthttp.MethodPost)
	p.setHeaders(req, key)
	req.SetBody(body)

	if kerr := providerUtils.MakeRequestWithContext(ctx, p.client, req, resp); kerr != nil {
		return nil, kerr.WithProvider(schemas.OpenAI)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, parseAPIError(resp)
	}

	var wireResp chatCompletionResponse
	raw := append([]byte(nil), resp.Body()...)
	if uerr := sonic.Unmarshal(raw, &wireResp); uerr != nil {
		return nil, schemas.NewOperationError(schemas.ErrCodeDecode, "failed to decode response", uerr).WithProvider(schemas.OpenAI)
	}
	if len(wireResp.Choices) == 0 {
		return nil, schemas.NewProviderError(schemas.OpenAI, schemas.ErrCodeDecode, "response contained no choices")
	}

	choice := wireResp.Choices[0]
	out := &schemas.ChatResponse{
		ID:           wireResp.ID,
		Model:        wireResp.Model,
		Content:      choice.Message.Content,
		FinishReason: mapFinishReason(choice.FinishReason),
		Usage:        fromWireUsage(wireResp.Usage),
		Raw:          raw,
	}
	for _, call := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, schemas.ToolCall{
			ID: call.ID, Name: call.Function.Name, Arguments: call.Function.Arguments,
		})
	}
	return out, nil
}

// ChatStream performs a streaming completion.
func (p *OpenAIProvider) ChatStream(ctx context.Context, request *schemas.ChatRequest) (<-chan *schemas.ChatStreamChunk, *schemas.Error) {
	key := p.apiKey()
	if key == "" {
		return nil, schemas.NewProviderError(schemas.OpenAI, schemas.ErrCodeNoKey, "no API key set")
	}
	if usesResponsesAPI(request) {
		return p.streamViaResponses(ctx, key, request)
	}

	wireReq := toChatCompletionRequest(request)
	wireReq.Stream = true
	wireReq.StreamOptions = &streamOptions{IncludeUsage: true}
	body, err := sonic.Marshal(wireReq)
	if err != nil {
		return nil, schemas.NewOperationError(schemas.ErrCodeInternal, "failed to encode request", err).WithProvider(schemas.OpenAI)
	}

	resp, kerr := providerUtils.MakeStreamRequestWithContext(ctx, p.streamClient,
		fasthttp.MethodPost, p.baseURL+"/chat/completions", body, p.streamHeaders(key))
	if kerr != nil {
		return nil, kerr.WithProvider(schemas.OpenAI)
	}
	if resp.StatusCode != fasthttp.StatusOK {
		return nil, parseStreamAPIError(resp)
	}

	chunks := make(chan *schemas.ChatStreamChunk, providerUtils.StreamChunkCapacity)
	go p.consumeChatStream(ctx, resp, chunks)
	return chunks, nil
}

func (p *OpenAIProvider) consumeChatStream(ctx context.Context, resp *http.Response, chunks chan<- *schemas.ChatStreamChunk) {
	defer close(chunks)
	defer resp.Body.Close()

	var (
		started   bool
		response  schemas.ChatResponse
		usage     schemas.TokenUsage
		toolCalls = make(map[int]*schemas.ToolCall)
		finish    = schemas.FinishUnknown
	)

	scanner := providerUtils.NewSSEScanner(resp.Body)
	for {
		sse, ok := scanner.Next()
		if !ok {
			break
		}
		if sse.Data == providerUtils.SSEDoneSentinel {
			break
		}
		var chunk chatCompletionChunk
		if err := sonic.Unmarshal([]byte(sse.Data), &chunk); err != nil {
			p.logger.Warn("openai: skipping malformed stream chunk")
			continue
		}

		if !started && chunk.ID != "" {
			started = true
			response.ID = chunk.ID
			response.Model = chunk.Model
			if !providerUtils.SendChunk(ctx, chunks, &schemas.ChatStreamChunk{
				Type: schemas.StreamChunkStart, ID: chunk.ID, Model: chunk.Model,
			}) {
				return
			}
		}
		if chunk.Usage != nil {
			usage = fromWireUsage(chunk.Usage)
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			response.Content += choice.Delta.Content
			if !providerUtils.SendChunk(ctx, chunks, &schemas.ChatStreamChunk{
				Type: schemas.StreamChunkDelta, Text: choice.Delta.Content,
			}) {
				return
			}
		}
		for _, delta := range choice.Delta.ToolCalls {
			call, ok := toolCalls[delta.Index]
			if !ok {
				call = &schemas.ToolCall{}
				toolCalls[delta.Index] = call
			}
			if delta.ID != "" {
				call.ID = delta.ID
			}
			if delta.Function.Name != "" {
				call.Name = delta.Function.Name
			}
			call.Arguments += delta.Function.Arguments
		}
		if choice.FinishReason != "" {
			finish = mapFinishReason(choice.FinishReason)
		}
	}

	if err := scanner.Err(); err != nil {
		providerUtils.SendChunk(ctx, chunks, &schemas.ChatStreamChunk{
			Type:  schemas.StreamChunkError,
			Error: schemas.NewOperationError(schemas.ErrCodeNetwork, "stream read failed", err).WithProvider(schemas.OpenAI),
		})
		return
	}

	for i := 0; i < len(toolCalls); i++ {
		if call := toolCalls[i]; call != nil {
			response.ToolCalls = append(response.ToolCalls, *call)
		}
	}
	response.FinishReason = finish
	response.Usage = usage

	if !providerUtils.SendChunk(ctx, chunks, &schemas.ChatStreamChunk{
		Type: schemas.StreamChunkUsage, Usage: &usage,
	}) {
		return
	}
	providerUtils.SendChunk(ctx, chunks, &schemas.ChatStreamChunk{
		Type:         schemas.StreamChunkDone,
		FinishReason: finish,
		Response:     &response,
	})
}
