package gemini

import (
	"context"
	"net/http"
	"net/url"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	providerUtils "github.com/keyloom/keyloom/providers/utils"
	schemas "github.com/keyloom/keyloom/schemas"
)

// toGenerateRequest translates the unified request. URL-based images fail
// fast: the API only accepts inline data, and deferring the failure to the
// vendor yields an opaque 400.
func toGenerateRequest(req *schemas.ChatRequest) (*generateRequest, *schemas.Error) {
	out := &generateRequest{}

	if req.System != "" {
		out.SystemInstruction = &content{Parts: []part{{Text: req.System}}}
	}

	config := &generationConfig{
		Temperature:     req.Temperature,
		TopP:            req.TopP,
		TopK:            req.TopK,
		MaxOutputTokens: req.MaxTokens,
		StopSequences:   req.StopSequences,
	}
	if req.Thinking != nil && req.Thinking.Enabled {
		config.ThinkingConfig = &thinkingConfig{
			ThinkingBudget:  req.Thinking.BudgetTokens,
			IncludeThoughts: true,
		}
	}
	out.GenerationConfig = config

	for _, msg := range req.Messages {
		converted, err := toContent(msg)
		if err != nil {
			return nil, err
		}
		out.Contents = append(out.Contents, converted)
	}

	if len(req.Tools) > 0 {
		tool := wireTool{}
		for _, def := range req.Tools {
			tool.FunctionDeclarations = append(tool.FunctionDeclarations, functionDeclaration{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			})
		}
		out.Tools = []wireTool{tool}
	}
	if req.ToolChoice != nil {
		config := &functionCallingConfig{}
		switch req.ToolChoice.Type {
		case schemas.ToolChoiceAuto:
			config.Mode = "AUTO"
		case schemas.ToolChoiceNone:
			config.Mode = "NONE"
		case schemas.ToolChoiceRequired:
			config.Mode = "ANY"
		case schemas.ToolChoiceTool:
			config.Mode = "ANY"
			config.AllowedFunctionNames = []string{req.ToolChoice.Name}
		}
		out.ToolConfig = &toolConfig{FunctionCallingConfig: config}
	}
	return out, nil
}

func toContent(msg schemas.Message) (content, *schemas.Error) {
	switch msg.Role {
	case schemas.RoleTool:
		// Results are matched by function name; adapters set tool call ids
		// to the function name since the API has none of its own.
		var response map[string]any
		text := msg.Text()
		if err := sonic.Unmarshal([]byte(text), &response); err != nil {
			response = map[string]any{"result": text}
		}
		return content{
			Role:  "user",
			Parts: []part{{FunctionResponse: &functionResponse{Name: msg.ToolCallID, Response: response}}},
		}, nil
	case schemas.RoleAssistant:
		converted := content{Role: "model"}
		for _, p := range msg.Content {
			if p.Type == schemas.ContentPartText && p.Text != "" {
				converted.Parts = append(converted.Parts, part{Text: p.Text})
			}
		}
		for _, call := range msg.ToolCalls {
			var args map[string]any
			if call.Arguments != "" {
				if err := sonic.Unmarshal([]byte(call.Arguments), &args); err != nil {
					return content{}, schemas.NewProviderError(schemas.Gemini, schemas.ErrCodeInternal,
						"tool call arguments are not a JSON object")
				}
			}
			converted.Parts = append(converted.Parts, part{FunctionCall: &functionCall{Name: call.Name, Args: args}})
		}
		return converted, nil
	default:
		converted := content{Role: "user"}
		for _, p := range msg.Content {
			switch p.Type {
			case schemas.ContentPartText:
				converted.Parts = append(converted.Parts, part{Text: p.Text})
			case schemas.ContentPartImage:
				if p.Image == nil {
					continue
				}
				if p.Image.URL != "" {
					return content{}, schemas.NewProviderError(schemas.Gemini, schemas.ErrCodeNotSupported,
						"Gemini requires base64-encoded image data; URL references are not supported")
				}
				converted.Parts = append(converted.Parts, part{InlineData: &inlineData{
					MimeType: p.Image.MediaType,
					Data:     p.Image.Base64Data,
				}})
			}
		}
		return converted, nil
	}
}

func mapFinishReason(reason string, hasToolCalls bool) schemas.FinishReason {
	switch reason {
	case "STOP":
		if hasToolCalls {
			return schemas.FinishToolUse
		}
		return schemas.FinishStop
	case "MAX_TOKENS":
		return schemas.FinishLength
	case "SAFETY", "RECITATION", "PROHIBITED_CONTENT", "BLOCKLIST", "SPII":
		return schemas.FinishContentFilter
	case "":
		return schemas.FinishUnknown
	default:
		return schemas.FinishUnknown
	}
}

func fromUsageMetadata(u *usageMetadata) schemas.TokenUsage {
	if u == nil {
		return schemas.TokenUsage{}
	}
	return schemas.TokenUsage{
		InputTokens:     u.PromptTokenCount,
		OutputTokens:    u.CandidatesTokenCount,
		ThinkingTokens:  u.ThoughtsTokenCount,
		CacheReadTokens: u.CachedContentTokenCount,
	}
}

// Chat performs a blocking generateContent call. Response ids are
// synthesized; the API does not return one.
func (p *GeminiProvider) Chat(ctx context.Context, request *schemas.ChatRequest) (*schemas.ChatResponse, *schemas.Error) {
	key := p.apiKey()
	if key == "" {
		return nil, schemas.NewProviderError(schemas.Gemini, schemas.ErrCodeNoKey, "no API key set")
	}
	wireReq, kerr := toGenerateRequest(request)
	if kerr != nil {
		return nil, kerr
	}
	body, err := sonic.Marshal(wireReq)
	if err != nil {
		return nil, schemas.NewOperationError(schemas.ErrCodeInternal, "failed to encode request", err).WithProvider(schemas.Gemini)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(p.endpoint("/models/"+request.Model+":generateContent", key, nil))
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	providerUtils.SetExtraHeaders(req, p.extraHeaders, nil)
	req.SetBody(body)

	if kerr := providerUtils.MakeRequestWithContext(ctx, p.client, req, resp); kerr != nil {
		return nil, kerr.WithProvider(schemas.Gemini)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, parseAPIError(resp)
	}

	var wireResp generateResponse
	raw := append([]byte(nil), resp.Body()...)
	if uerr := sonic.Unmarshal(raw, &wireResp); uerr != nil {
		return nil, schemas.NewOperationError(schemas.ErrCodeDecode, "failed to decode response", uerr).WithProvider(schemas.Gemini)
	}
	if len(wireResp.Candidates) == 0 {
		return nil, schemas.NewProviderError(schemas.Gemini, schemas.ErrCodeDecode, "response contained no candidates")
	}

	out := &schemas.ChatResponse{
		ID:    "gemini-" + uuid.NewString(),
		Model: request.Model,
		Usage: fromUsageMetadata(wireResp.UsageMetadata),
		Raw:   raw,
	}
	cand := wireResp.Candidates[0]
	if cand.Content != nil {
		for _, p := range cand.Content.Parts {
			switch {
			case p.FunctionCall != nil:
				args, merr := sonic.Marshal(p.FunctionCall.Args)
				if merr != nil {
					return nil, schemas.NewOperationError(schemas.ErrCodeDecode, "failed to decode tool call args", merr).WithProvider(schemas.Gemini)
				}
				out.ToolCalls = append(out.ToolCalls, schemas.ToolCall{
					ID: p.FunctionCall.Name, Name: p.FunctionCall.Name, Arguments: string(args),
				})
			case p.Thought:
				out.Thinking += p.Text
			default:
				out.Content += p.Text
			}
		}
	}
	out.FinishReason = mapFinishReason(cand.FinishReason, len(out.ToolCalls) > 0)
	return out, nil
}

// ChatStream performs a streaming call via streamGenerateContent. Thought
// parts have no explicit end marker; a thinking_complete chunk is
// synthesized when output transitions from thought to answer text, and at
// stream end if the model was still mid-thought.
func (p *GeminiProvider) ChatStream(ctx context.Context, request *schemas.ChatRequest) (<-chan *schemas.ChatStreamChunk, *schemas.Error) {
	key := p.apiKey()
	if key == "" {
		return nil, schemas.NewProviderError(schemas.Gemini, schemas.ErrCodeNoKey, "no API key set")
	}
	wireReq, kerr := toGenerateRequest(request)
	if kerr != nil {
		return nil, kerr
	}
	body, err := sonic.Marshal(wireReq)
	if err != nil {
		return nil, schemas.NewOperationError(schemas.ErrCodeInternal, "failed to encode request", err).WithProvider(schemas.Gemini)
	}

	params := url.Values{}
	params.Set("alt", "sse")
	headers := map[string]string{
		"Content-Type":  "application/json",
		"Accept":        "text/event-stream",
		"Cache-Control": "no-cache",
	}
	for k, v := range p.extraHeaders {
		if _, exists := headers[k]; !exists {
			headers[k] = v
		}
	}

	resp, kerr := providerUtils.MakeStreamRequestWithContext(ctx, p.streamClient, fasthttp.MethodPost,
		p.endpoint("/models/"+request.Model+":streamGenerateContent", key, params), body, headers)
	if kerr != nil {
		return nil, kerr.WithProvider(schemas.Gemini)
	}
	if resp.StatusCode != fasthttp.StatusOK {
		return nil, parseStreamAPIError(resp)
	}

	chunks := make(chan *schemas.ChatStreamChunk, providerUtils.StreamChunkCapacity)
	go p.consumeStream(ctx, request.Model, resp, chunks)
	return chunks, nil
}

func (p *GeminiProvider) consumeStream(ctx context.Context, model string, resp *http.Response, chunks chan<- *schemas.ChatStreamChunk) {
	defer close(chunks)
	defer resp.Body.Close()

	var (
		started    bool
		inThinking bool
		thinking   string
		response   = schemas.ChatResponse{ID: "gemini-" + uuid.NewString(), Model: model}
		usage      schemas.TokenUsage
		finish     = schemas.FinishUnknown
	)

	// closeThinking emits the synthesized thinking_complete chunk.
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

	scanner := providerUtils.NewSSEScanner(resp.Body)
	for {
		sse, ok := scanner.Next()
		if !ok {
			break
		}
		var record generateResponse
		if err := sonic.Unmarshal([]byte(sse.Data), &record); err != nil {
			p.logger.Warn("gemini: skipping malformed stream record")
			continue
		}

		if !started {
			started = true
			if !providerUtils.SendChunk(ctx, chunks, &schemas.ChatStreamChunk{
				Type: schemas.StreamChunkStart, ID: response.ID, Model: model,
			}) {
				return
			}
		}
		if record.UsageMetadata != nil {
			usage = fromUsageMetadata(record.UsageMetadata)
		}
		if len(record.Candidates) == 0 {
			continue
		}

		cand := record.Candidates[0]
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				switch {
				case part.FunctionCall != nil:
					args, merr := sonic.Marshal(part.FunctionCall.Args)
					if merr != nil {
						continue
					}
					response.ToolCalls = append(response.ToolCalls, schemas.ToolCall{
						ID: part.FunctionCall.Name, Name: part.FunctionCall.Name, Arguments: string(args),
					})
				case part.Thought:
					inThinking = true
					thinking += part.Text
					if !providerUtils.SendChunk(ctx, chunks, &schemas.ChatStreamChunk{
						Type: schemas.StreamChunkThinkingDelta, Text: part.Text,
					}) {
						return
					}
				case part.Text != "":
					if !closeThinking() {
						return
					}
					response.Content += part.Text
					if !providerUtils.SendChunk(ctx, chunks, &schemas.ChatStreamChunk{
						Type: schemas.StreamChunkDelta, Text: part.Text,
					}) {
						return
					}
				}
			}
		}
		if cand.FinishReason != "" {
			finish = mapFinishReason(cand.FinishReason, len(response.ToolCalls) > 0)
		}
	}

	if err := scanner.Err(); err != nil {
		providerUtils.SendChunk(ctx, chunks, &schemas.ChatStreamChunk{
			Type:  schemas.StreamChunkError,
			Error: schemas.NewOperationError(schemas.ErrCodeNetwork, "stream read failed", err).WithProvider(schemas.Gemini),
		})
		return
	}
	if !closeThinking() {
		return
	}

	response.Usage = usage
	response.FinishReason = finish
	if !providerUtils.SendChunk(ctx, chunks, &schemas.ChatStreamChunk{
		Type: schemas.StreamChunkUsage, Usage: &usage,
	}) {
		return
	}
	final := response
	providerUtils.SendChunk(ctx, chunks, &schemas.ChatStreamChunk{
		Type: schemas.StreamChunkDone, FinishReason: finish, Response: &final,
	})
}
