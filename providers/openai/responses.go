package openai

import (
	"context"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"

	providerUtils "github.com/keyloom/keyloom/providers/utils"
	schemas "github.com/keyloom/keyloom/schemas"
)

// toResponsesRequest translates the unified request to the Responses wire
// shape. Summarized reasoning is always requested; the raw chain of thought
// is not exposed by the API.
func toResponsesRequest(req *schemas.ChatRequest) *responsesRequest {
	out := &responsesRequest{
		Model:           req.Model,
		Instructions:    req.System,
		MaxOutputTokens: req.MaxTokens,
		Reasoning:       &reasoningParam{Summary: "auto"},
	}
	if req.Thinking != nil {
		if req.Thinking.SummaryLevel != "" {
			out.Reasoning.Summary = req.Thinking.SummaryLevel
		}
		switch {
		case req.Thinking.Effort != "":
			out.Reasoning.Effort = req.Thinking.Effort
		case req.Thinking.BudgetTokens > 0:
			// The endpoint has no token budget; approximate with effort tiers.
			switch {
			case req.Thinking.BudgetTokens <= 2048:
				out.Reasoning.Effort = "low"
			case req.Thinking.BudgetTokens <= 16384:
				out.Reasoning.Effort = "medium"
			default:
				out.Reasoning.Effort = "high"
			}
		}
	}

	for _, msg := range req.Messages {
		role := string(msg.Role)
		if msg.Role == schemas.RoleTool {
			role = "user"
		}
		input := responseInput{Role: role}
		for _, part := range msg.Content {
			switch part.Type {
			case schemas.ContentPartText:
				input.Content = append(input.Content, responseInputPart{Type: "input_text", Text: part.Text})
			case schemas.ContentPartImage:
				if part.Image == nil {
					continue
				}
				url := part.Image.URL
				if url == "" {
					url = "data:" + part.Image.MediaType + ";base64," + part.Image.Base64Data
				}
				input.Content = append(input.Content, responseInputPart{Type: "input_image", ImageURL: url})
			}
		}
		if len(input.Content) > 0 {
			out.Input = append(out.Input, input)
		}
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, responseTool{
			Type: "function", Name: tool.Name,
			Description: tool.Description, Parameters: tool.Parameters,
		})
	}
	return out
}

func responsesFinishReason(resp *responsesResponse) schemas.FinishReason {
	if resp.IncompleteDetails != nil && resp.IncompleteDetails.Reason == "max_output_tokens" {
		return schemas.FinishLength
	}
	switch resp.Status {
	case "completed":
		return schemas.FinishStop
	case "failed":
		return schemas.FinishError
	default:
		return schemas.FinishUnknown
	}
}

func fromResponsesUsage(u *responsesUsage) schemas.TokenUsage {
	if u == nil {
		return schemas.TokenUsage{}
	}
	usage := schemas.TokenUsage{InputTokens: u.InputTokens, OutputTokens: u.OutputTokens}
	if u.OutputTokensDetails != nil {
		usage.ThinkingTokens = u.OutputTokensDetails.ReasoningTokens
	}
	return usage
}

func fromResponsesResponse(resp *responsesResponse, raw []byte) *schemas.ChatResponse {
	out := &schemas.ChatResponse{
		ID:           resp.ID,
		Model:        resp.Model,
		FinishReason: responsesFinishReason(resp),
		Usage:        fromResponsesUsage(resp.Usage),
		Raw:          raw,
	}
	for _, item := range resp.Output {
		switch item.Type {
		case "reasoning":
			for _, summary := range item.Summary {
				out.Thinking += summary.Text
			}
		case "message":
			for _, content := range item.Content {
				if content.Type == "output_text" {
					out.Content += content.Text
				}
			}
		case "function_call":
			out.ToolCalls = append(out.ToolCalls, schemas.ToolCall{
				ID: item.CallID, Name: item.Name, Arguments: item.Arguments,
			})
		}
	}
	if len(out.ToolCalls) > 0 && out.FinishReason == schemas.FinishStop {
		out.FinishReason = schemas.FinishToolUse
	}
	return out
}

func (p *OpenAIProvider) chatViaResponses(ctx context.Context, key string, request *schemas.ChatRequest) (*schemas.ChatResponse, *schemas.Error) {
	body, err := sonic.Marshal(toResponsesRequest(request))
	if err != nil {
		return nil, schemas.NewOperationError(schemas.ErrCodeInternal, "failed to encode request", err).WithProvider(schemas.OpenAI)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(p.baseURL + "/responses")
	req.Header.SetMethod(fasthttp.MethodPost)
	p.setHeaders(req, key)
	req.SetBody(body)

	if kerr := providerUtils.MakeRequestWithContext(ctx, p.client, req, resp); kerr != nil {
		return nil, kerr.WithProvider(schemas.OpenAI)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, parseAPIError(resp)
	}

	var wireResp responsesResponse
	raw := append([]byte(nil), resp.Body()...)
	if uerr := sonic.Unmarshal(raw, &wireResp); uerr != nil {
		return nil, schemas.NewOperationError(schemas.ErrCodeDecode, "failed to decode response", uerr).WithProvider(schemas.OpenAI)
	}
	return fromResponsesResponse(&wireResp, raw), nil
}

func (p *OpenAIProvider) streamViaResponses(ctx context.Context, key string, request *schemas.ChatRequest) (<-chan *schemas.ChatStreamChunk, *schemas.Error) {
	wireReq := toResponsesRequest(request)
	wireReq.Stream = true
	body, err := sonic.Marshal(wireReq)
	if err != nil {
		return nil, schemas.NewOperationError(schemas.ErrCodeInternal, "failed to encode request", err).WithProvider(schemas.OpenAI)
	}

	resp, kerr := providerUtils.MakeStreamRequestWithContext(ctx, p.streamClient,
		fasthttp.MethodPost, p.baseURL+"/responses", body, p.streamHeaders(key))
	if kerr != nil {
		return nil, kerr.WithProvider(schemas.OpenAI)
	}
	if resp.StatusCode != fasthttp.StatusOK {
		return nil, parseStreamAPIError(resp)
	}

	chunks := make(chan *schemas.ChatStreamChunk, providerUtils.StreamChunkCapacity)
	go p.consumeResponsesStream(ctx, resp, chunks)
	return chunks, nil
}

func (p *OpenAIProvider) consumeResponsesStream(ctx context.Context, resp *http.Response, chunks chan<- *schemas.ChatStreamChunk) {
	defer close(chunks)
	defer resp.Body.Close()

	var (
		response schemas.ChatResponse
		thinking string
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
		var event responsesStreamEvent
		if err := sonic.Unmarshal([]byte(sse.Data), &event); err != nil {
			p.logger.Warn("openai: skipping malformed responses event")
			continue
		}

		switch event.Type {
		case "response.created":
			if event.Response != nil {
				response.ID = event.Response.ID
				response.Model = event.Response.Model
				if !providerUtils.SendChunk(ctx, chunks, &schemas.ChatStreamChunk{
					Type: schemas.StreamChunkStart, ID: event.Response.ID, Model: event.Response.Model,
				}) {
					return
				}
			}

		case "response.reasoning_summary_text.delta":
			thinking += event.Delta
			if !providerUtils.SendChunk(ctx, chunks, &schemas.ChatStreamChunk{
				Type: schemas.StreamChunkThinkingDelta, Text: event.Delta,
			}) {
				return
			}

		case "response.reasoning_summary_text.done":
			full := event.Text
			if full == "" {
				full = thinking
			}
			response.Thinking += full
			if !providerUtils.SendChunk(ctx, chunks, &schemas.ChatStreamChunk{
				Type: schemas.StreamChunkThinkingComplete, Thinking: full,
			}) {
				return
			}
			thinking = ""

		case "response.output_text.delta":
			response.Content += event.Delta
			if !providerUtils.SendChunk(ctx, chunks, &schemas.ChatStreamChunk{
				Type: schemas.StreamChunkDelta, Text: event.Delta,
			}) {
				return
			}

		case "response.output_item.done":
			if event.Item != nil && event.Item.Type == "function_call" {
				response.ToolCalls = append(response.ToolCalls, schemas.ToolCall{
					ID: event.Item.CallID, Name: event.Item.Name, Arguments: event.Item.Arguments,
				})
			}

		case "response.completed":
			usage := schemas.TokenUsage{}
			finish := schemas.FinishStop
			if event.Response != nil {
				usage = fromResponsesUsage(event.Response.Usage)
				finish = responsesFinishReason(event.Response)
			}
			if len(response.ToolCalls) > 0 && finish == schemas.FinishStop {
				finish = schemas.FinishToolUse
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
			return

		case "response.failed", "error":
			providerUtils.SendChunk(ctx, chunks, &schemas.ChatStreamChunk{
				Type:  schemas.StreamChunkError,
				Error: schemas.NewProviderError(schemas.OpenAI, schemas.ErrCodeProviderAPI, "response failed"),
			})
			return
		}
	}

	if err := scanner.Err(); err != nil {
		providerUtils.SendChunk(ctx, chunks, &schemas.ChatStreamChunk{
			Type:  schemas.StreamChunkError,
			Error: schemas.NewOperationError(schemas.ErrCodeNetwork, "stream read failed", err).WithProvider(schemas.OpenAI),
		})
		return
	}
	// Stream ended without response.completed.
	final := response
	final.FinishReason = schemas.FinishUnknown
	providerUtils.SendChunk(ctx, chunks, &schemas.ChatStreamChunk{
		Type: schemas.StreamChunkDone, FinishReason: schemas.FinishUnknown, Response: &final,
	})
}
