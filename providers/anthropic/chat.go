package anthropic

import (
	"context"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"

	providerUtils "github.com/keyloom/keyloom/providers/utils"
	schemas "github.com/keyloom/keyloom/schemas"
)

const defaultMaxTokens = 4096

// toMessageRequest translates the unified request into Messages wire format.
func toMessageRequest(req *schemas.ChatRequest) (*messageRequest, *schemas.Error) {
	out := &messageRequest{
		Model:         req.Model,
		MaxTokens:     req.MaxTokens,
		System:        req.System,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
		StopSequences: req.StopSequences,
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = defaultMaxTokens
	}

	if req.Thinking != nil && req.Thinking.Enabled {
		budget := req.Thinking.BudgetTokens
		if budget == 0 {
			budget = 1024
		}
		out.Thinking = &thinkingParam{Type: "enabled", BudgetTokens: budget}
		// The API requires max_tokens to exceed the thinking budget and
		// rejects temperature alongside thinking.
		if out.MaxTokens <= budget {
			out.MaxTokens = budget + defaultMaxTokens
		}
		out.Temperature = nil
	}

	for _, msg := range req.Messages {
		param, err := toMessageParam(msg)
		if err != nil {
			return nil, err
		}
		out.Messages = append(out.Messages, param)
	}

	for _, tool := range req.Tools {
		schema := tool.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		out.Tools = append(out.Tools, toolParam{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	if req.ToolChoice != nil {
		switch req.ToolChoice.Type {
		case schemas.ToolChoiceAuto:
			out.ToolChoice = &toolChoiceParam{Type: "auto"}
		case schemas.ToolChoiceNone:
			out.ToolChoice = &toolChoiceParam{Type: "none"}
		case schemas.ToolChoiceRequired:
			out.ToolChoice = &toolChoiceParam{Type: "any"}
		case schemas.ToolChoiceTool:
			out.ToolChoice = &toolChoiceParam{Type: "tool", Name: req.ToolChoice.Name}
		}
	}
	return out, nil
}

func toMessageParam(msg schemas.Message) (messageParam, *schemas.Error) {
	switch msg.Role {
	case schemas.RoleTool:
		// Tool results travel as user-authored tool_result blocks.
		return messageParam{
			Role: "user",
			Content: []contentBlock{{
				Type:      "tool_result",
				ToolUseID: msg.ToolCallID,
				Content:   msg.Text(),
			}},
		}, nil
	case schemas.RoleAssistant:
		param := messageParam{Role: "assistant"}
		for _, part := range msg.Content {
			if part.Type == schemas.ContentPartText && part.Text != "" {
				param.Content = append(param.Content, contentBlock{Type: "text", Text: part.Text})
			}
		}
		for _, call := range msg.ToolCalls {
			var input map[string]any
			if call.Arguments != "" {
				if err := sonic.Unmarshal([]byte(call.Arguments), &input); err != nil {
					return messageParam{}, schemas.NewProviderError(schemas.Anthropic, schemas.ErrCodeInternal,
						"tool call arguments are not a JSON object")
				}
			}
			param.Content = append(param.Content, contentBlock{
				Type: "tool_use", ID: call.ID, Name: call.Name, Input: input,
			})
		}
		return param, nil
	default:
		param := messageParam{Role: "user"}
		for _, part := range msg.Content {
			switch part.Type {
			case schemas.ContentPartText:
				param.Content = append(param.Content, contentBlock{Type: "text", Text: part.Text})
			case schemas.ContentPartImage:
				if part.Image == nil {
					continue
				}
				source := &imageSource{}
				if part.Image.URL != "" {
					source.Type = "url"
					source.URL = part.Image.URL
				} else {
					source.Type = "base64"
					source.MediaType = part.Image.MediaType
					source.Data = part.Image.Base64Data
				}
				param.Content = append(param.Content, contentBlock{Type: "image", Source: source})
			}
		}
		return param, nil
	}
}

func mapStopReason(reason string) schemas.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return schemas.FinishStop
	case "max_tokens":
		return schemas.FinishLength
	case "tool_use":
		return schemas.FinishToolUse
	case "refusal":
		return schemas.FinishContentFilter
	default:
		return schemas.FinishUnknown
	}
}

func toUsage(u usage) schemas.TokenUsage {
	return schemas.TokenUsage{
		InputTokens:      u.InputTokens,
		OutputTokens:     u.OutputTokens,
		CacheReadTokens:  u.CacheReadInputTokens,
		CacheWriteTokens: u.CacheCreationInputTokens,
	}
}

func toChatResponse(resp *messageResponse, raw []byte) (*schemas.ChatResponse, *schemas.Error) {
	out := &schemas.ChatResponse{
		ID:           resp.ID,
		Model:        resp.Model,
		FinishReason: mapStopReason(resp.StopReason),
		Usage:        toUsage(resp.Usage),
		Raw:          raw,
	}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "thinking":
			out.Thinking += block.Thinking
		case "tool_use":
			args, err := sonic.Marshal(block.Input)
			if err != nil {
				return nil, schemas.NewOperationError(schemas.ErrCodeDecode, "failed to decode tool call input", err)
			}
			out.ToolCalls = append(out.ToolCalls, schemas.ToolCall{
				ID: block.ID, Name: block.Name, Arguments: string(args),
			})
		}
	}
	return out, nil
}

// Chat performs a blocking Messages call.
func (p *AnthropicProvider) Chat(ctx context.Context, request *schemas.ChatRequest) (*schemas.ChatResponse, *schemas.Error) {
	key := p.apiKey()
	if key == "" {
		return nil, schemas.NewProviderError(schemas.Anthropic, schemas.ErrCodeNoKey, "no API key set")
	}
	wireReq, kerr := toMessageRequest(request)
	if kerr != nil {
		return nil, kerr
	}
	body, kerr := marshalMessageRequest(wireReq)
	if kerr != nil {
		return nil, kerr
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(p.baseURL + "/v1/messages")
	req.Header.SetMethod(fasthttp.MethodPost)
	p.setHeaders(req, key)
	req.SetBody(body)

	if err := providerUtils.MakeRequestWithContext(ctx, p.client, req, resp); err != nil {
		return nil, err.WithProvider(schemas.Anthropic)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, parseAPIError(resp)
	}

	var wireResp messageResponse
	raw := append([]byte(nil), resp.Body()...)
	if err := sonic.Unmarshal(raw, &wireResp); err != nil {
		return nil, schemas.NewOperationError(schemas.ErrCodeDecode, "failed to decode response", err).WithProvider(schemas.Anthropic)
	}
	return toChatResponse(&wireResp, raw)
}

// ChatStream performs a streaming Messages call and normalizes the event
// stream. Pre-flight failures are returned directly; failures after the
// stream opens surface as a terminal error chunk.
func (p *AnthropicProvider) ChatStream(ctx context.Context, request *schemas.ChatRequest) (<-chan *schemas.ChatStreamChunk, *schemas.Error) {
	key := p.apiKey()
	if key == "" {
		return nil, schemas.NewProviderError(schemas.Anthropic, schemas.ErrCodeNoKey, "no API key set")
	}
	wireReq, kerr := toMessageRequest(request)
	if kerr != nil {
		return nil, kerr
	}
	wireReq.Stream = true
	body, kerr := marshalMessageRequest(wireReq)
	if kerr != nil {
		return nil, kerr
	}

	resp, kerr := providerUtils.MakeStreamRequestWithContext(ctx, p.streamClient,
		fasthttp.MethodPost, p.baseURL+"/v1/messages", body, p.streamHeaders(key))
	if kerr != nil {
		return nil, kerr.WithProvider(schemas.Anthropic)
	}
	if resp.StatusCode != fasthttp.StatusOK {
		return nil, parseStreamAPIError(resp)
	}

	chunks := make(chan *schemas.ChatStreamChunk, providerUtils.StreamChunkCapacity)
	go p.consumeStream(ctx, resp, chunks)
	return chunks, nil
}

// streamState accumulates the response while events arrive.
type streamState struct {
	response   schemas.ChatResponse
	usage      schemas.TokenUsage
	blockTypes map[int]string
	thinking   map[int]string
	toolJSON   map[int]string
	toolCalls  map[int]*schemas.ToolCall
}

func (p *AnthropicProvider) consumeStream(ctx context.Context, resp *http.Response, chunks chan<- *schemas.ChatStreamChunk) {
	defer close(chunks)
	defer resp.Body.Close()

	state := &streamState{
		blockTypes: make(map[int]string),
		thinking:   make(map[int]string),
		toolJSON:   make(map[int]string),
		toolCalls:  make(map[int]*schemas.ToolCall),
	}
	state.response.FinishReason = schemas.FinishUnknown

	scanner := providerUtils.NewSSEScanner(resp.Body)
	for {
		sse, ok := scanner.Next()
		if !ok {
			break
		}
		var event streamEvent
		if err := sonic.Unmarshal([]byte(sse.Data), &event); err != nil {
			p.logger.Warn("anthropic: skipping malformed stream event")
			continue
		}
		if done := p.handleStreamEvent(ctx, &event, state, chunks); done {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		providerUtils.SendChunk(ctx, chunks, &schemas.ChatStreamChunk{
			Type:  schemas.StreamChunkError,
			Error: schemas.NewOperationError(schemas.ErrCodeNetwork, "stream read failed", err).WithProvider(schemas.Anthropic),
		})
		return
	}
	// Stream ended without message_stop; emit done with what we have.
	p.finishStream(ctx, state, chunks)
}

// handleStreamEvent normalizes one event, reporting true once the stream is
// terminated.
func (p *AnthropicProvider) handleStreamEvent(ctx context.Context, event *streamEvent, state *streamState, chunks chan<- *schemas.ChatStreamChunk) bool {
	switch event.Type {
	case "message_start":
		if event.Message != nil {
			state.response.ID = event.Message.ID
			state.response.Model = event.Message.Model
			state.usage = toUsage(event.Message.Usage)
			return !providerUtils.SendChunk(ctx, chunks, &schemas.ChatStreamChunk{
				Type: schemas.StreamChunkStart, ID: event.Message.ID, Model: event.Message.Model,
			})
		}

	case "content_block_start":
		if event.ContentBlock != nil {
			state.blockTypes[event.Index] = event.ContentBlock.Type
			if event.ContentBlock.Type == "tool_use" {
				state.toolCalls[event.Index] = &schemas.ToolCall{
					ID: event.ContentBlock.ID, Name: event.ContentBlock.Name,
				}
			}
		}

	case "content_block_delta":
		if event.Delta == nil {
			return false
		}
		switch event.Delta.Type {
		case "text_delta":
			state.response.Content += event.Delta.Text
			return !providerUtils.SendChunk(ctx, chunks, &schemas.ChatStreamChunk{
				Type: schemas.StreamChunkDelta, Text: event.Delta.Text,
			})
		case "thinking_delta":
			state.thinking[event.Index] += event.Delta.Thinking
			return !providerUtils.SendChunk(ctx, chunks, &schemas.ChatStreamChunk{
				Type: schemas.StreamChunkThinkingDelta, Text: event.Delta.Thinking,
			})
		case "input_json_delta":
			state.toolJSON[event.Index] += event.Delta.PartialJSON
		}

	case "content_block_stop":
		switch state.blockTypes[event.Index] {
		case "thinking":
			full := state.thinking[event.Index]
			state.response.Thinking += full
			return !providerUtils.SendChunk(ctx, chunks, &schemas.ChatStreamChunk{
				Type: schemas.StreamChunkThinkingComplete, Thinking: full,
			})
		case "tool_use":
			if call := state.toolCalls[event.Index]; call != nil {
				call.Arguments = state.toolJSON[event.Index]
				state.response.ToolCalls = append(state.response.ToolCalls, *call)
			}
		}

	case "message_delta":
		if event.Delta != nil && event.Delta.StopReason != "" {
			state.response.FinishReason = mapStopReason(event.Delta.StopReason)
		}
		if event.Usage != nil {
			state.usage.OutputTokens = event.Usage.OutputTokens
			if event.Usage.InputTokens > 0 {
				state.usage.InputTokens = event.Usage.InputTokens
			}
		}

	case "message_stop":
		p.finishStream(ctx, state, chunks)
		return true

	case "error":
		message := "stream error"
		if event.Error != nil {
			message = event.Error.Message
		}
		providerUtils.SendChunk(ctx, chunks, &schemas.ChatStreamChunk{
			Type:  schemas.StreamChunkError,
			Error: schemas.NewProviderError(schemas.Anthropic, schemas.ErrCodeProviderAPI, message),
		})
		return true

	case "ping":
		// Keepalive, nothing to do.
	}
	return false
}

func (p *AnthropicProvider) finishStream(ctx context.Context, state *streamState, chunks chan<- *schemas.ChatStreamChunk) {
	state.response.Usage = state.usage
	if !providerUtils.SendChunk(ctx, chunks, &schemas.ChatStreamChunk{
		Type: schemas.StreamChunkUsage, Usage: &state.usage,
	}) {
		return
	}
	response := state.response
	providerUtils.SendChunk(ctx, chunks, &schemas.ChatStreamChunk{
		Type:         schemas.StreamChunkDone,
		FinishReason: response.FinishReason,
		Response:     &response,
	})
}
