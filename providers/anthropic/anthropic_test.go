package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	schemas "github.com/keyloom/keyloom/schemas"
)

func newTestProvider(t *testing.T, handler http.Handler) *AnthropicProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(Config{BaseURL: server.URL})
}

func TestValidateKey(t *testing.T) {
	t.Run("valid key returns static catalog", func(t *testing.T) {
		p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1/messages" {
				t.Errorf("path = %s, want /v1/messages", r.URL.Path)
			}
			if got := r.Header.Get("x-api-key"); got != "sk-ant-good" {
				t.Errorf("x-api-key = %q", got)
			}
			if got := r.Header.Get("anthropic-version"); got != apiVersion {
				t.Errorf("anthropic-version = %q", got)
			}
			fmt.Fprint(w, `{"id":"msg_1","model":"claude-3-5-haiku-20241022","content":[{"type":"text","text":"Hi"}],"stop_reason":"max_tokens","usage":{"input_tokens":1,"output_tokens":1}}`)
		}))

		result := p.ValidateKey(context.Background(), "sk-ant-good")
		if !result.Valid {
			t.Fatalf("Valid = false, error %q", result.Error)
		}
		if len(result.Models) == 0 {
			t.Fatal("validation did not return the model catalog")
		}
	})

	t.Run("rejected key classified as invalid", func(t *testing.T) {
		p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
		}))

		result := p.ValidateKey(context.Background(), "sk-ant-bad")
		if result.Valid {
			t.Fatal("Valid = true for rejected key")
		}
		if result.ErrorCode != schemas.ValidationErrInvalidKey {
			t.Errorf("ErrorCode = %q, want invalid_key", result.ErrorCode)
		}
	})
}

func TestChat(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"id":"msg_42","model":"claude-sonnet-4-5-20250929",
			"content":[
				{"type":"thinking","thinking":"consider the options"},
				{"type":"text","text":"Hello there"},
				{"type":"tool_use","id":"toolu_1","name":"get_weather","input":{"city":"Oslo"}}
			],
			"stop_reason":"tool_use",
			"usage":{"input_tokens":12,"output_tokens":34,"cache_read_input_tokens":5}
		}`)
	}))
	p.Initialize("sk-ant-test")

	resp, err := p.Chat(context.Background(), &schemas.ChatRequest{
		Model:    "claude-sonnet-4-5-20250929",
		Messages: []schemas.Message{schemas.TextMessage(schemas.RoleUser, "hi")},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.ID != "msg_42" || resp.Content != "Hello there" {
		t.Errorf("response = %+v", resp)
	}
	if resp.Thinking != "consider the options" {
		t.Errorf("Thinking = %q", resp.Thinking)
	}
	if resp.FinishReason != schemas.FinishToolUse {
		t.Errorf("FinishReason = %q, want tool_use", resp.FinishReason)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "get_weather" {
		t.Fatalf("ToolCalls = %+v", resp.ToolCalls)
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.CacheReadTokens != 5 {
		t.Errorf("Usage = %+v", resp.Usage)
	}
}

func TestChatWithoutKey(t *testing.T) {
	p := New(Config{})
	_, err := p.Chat(context.Background(), &schemas.ChatRequest{Model: "claude-3-5-haiku-20241022"})
	if err == nil || err.Code != schemas.ErrCodeNoKey {
		t.Fatalf("err = %v, want no_key", err)
	}
}

func TestChatStream(t *testing.T) {
	events := []string{
		`event: message_start
data: {"type":"message_start","message":{"id":"msg_s1","model":"claude-sonnet-4-5-20250929","content":[],"usage":{"input_tokens":10,"output_tokens":0}}}`,
		`event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"thinking"}}`,
		`event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"step one"}}`,
		`event: content_block_stop
data: {"type":"content_block_stop","index":0}`,
		`event: content_block_start
data: {"type":"content_block_start","index":1,"content_block":{"type":"text"}}`,
		`event: content_block_delta
data: {"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"Hello"}}`,
		`event: content_block_delta
data: {"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":" world"}}`,
		`event: content_block_stop
data: {"type":"content_block_stop","index":1}`,
		`event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":7}}`,
		`event: message_stop
data: {"type":"message_stop"}`,
	}

	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, event := range events {
			fmt.Fprint(w, event+"\n\n")
			flusher.Flush()
		}
	}))
	p.Initialize("sk-ant-test")

	chunks, err := p.ChatStream(context.Background(), &schemas.ChatRequest{
		Model:    "claude-sonnet-4-5-20250929",
		Messages: []schemas.Message{schemas.TextMessage(schemas.RoleUser, "hi")},
		Thinking: &schemas.ThinkingConfig{Enabled: true},
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	var got []*schemas.ChatStreamChunk
	for chunk := range chunks {
		got = append(got, chunk)
	}

	wantTypes := []schemas.StreamChunkType{
		schemas.StreamChunkStart,
		schemas.StreamChunkThinkingDelta,
		schemas.StreamChunkThinkingComplete,
		schemas.StreamChunkDelta,
		schemas.StreamChunkDelta,
		schemas.StreamChunkUsage,
		schemas.StreamChunkDone,
	}
	if len(got) != len(wantTypes) {
		t.Fatalf("got %d chunks, want %d: %+v", len(got), len(wantTypes), got)
	}
	for i, want := range wantTypes {
		if got[i].Type != want {
			t.Errorf("chunk %d type = %q, want %q", i, got[i].Type, want)
		}
	}

	if got[0].ID != "msg_s1" {
		t.Errorf("start chunk id = %q", got[0].ID)
	}
	if got[2].Thinking != "step one" {
		t.Errorf("thinking_complete = %q, want full thinking text", got[2].Thinking)
	}
	if got[5].Usage == nil || got[5].Usage.OutputTokens != 7 || got[5].Usage.InputTokens != 10 {
		t.Errorf("usage chunk = %+v", got[5].Usage)
	}
	done := got[len(got)-1]
	if done.FinishReason != schemas.FinishStop {
		t.Errorf("done finish reason = %q, want stop", done.FinishReason)
	}
	if done.Response == nil || done.Response.Content != "Hello world" {
		t.Errorf("done response = %+v", done.Response)
	}
}

func TestChatStreamAuthError(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	}))
	p.Initialize("sk-ant-bad")

	_, err := p.ChatStream(context.Background(), &schemas.ChatRequest{
		Model:    "claude-3-5-haiku-20241022",
		Messages: []schemas.Message{schemas.TextMessage(schemas.RoleUser, "hi")},
	})
	if err == nil || err.Code != schemas.ErrCodeInvalidKey {
		t.Fatalf("err = %v, want invalid_key", err)
	}
}

func TestMapStopReason(t *testing.T) {
	tests := []struct {
		in   string
		want schemas.FinishReason
	}{
		{"end_turn", schemas.FinishStop},
		{"stop_sequence", schemas.FinishStop},
		{"max_tokens", schemas.FinishLength},
		{"tool_use", schemas.FinishToolUse},
		{"refusal", schemas.FinishContentFilter},
		{"something_new", schemas.FinishUnknown},
	}
	for _, tt := range tests {
		if got := mapStopReason(tt.in); got != tt.want {
			t.Errorf("mapStopReason(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestToMessageRequestThinking(t *testing.T) {
	temp := 0.7
	req, err := toMessageRequest(&schemas.ChatRequest{
		Model:       "claude-sonnet-4-5-20250929",
		Temperature: &temp,
		MaxTokens:   512,
		Thinking:    &schemas.ThinkingConfig{Enabled: true, BudgetTokens: 2048},
		Messages:    []schemas.Message{schemas.TextMessage(schemas.RoleUser, "hi")},
	})
	if err != nil {
		t.Fatalf("toMessageRequest: %v", err)
	}
	if req.Thinking == nil || req.Thinking.BudgetTokens != 2048 {
		t.Fatalf("Thinking = %+v", req.Thinking)
	}
	if req.Temperature != nil {
		t.Error("temperature must be dropped when thinking is enabled")
	}
	if req.MaxTokens <= req.Thinking.BudgetTokens {
		t.Errorf("MaxTokens = %d, must exceed thinking budget", req.MaxTokens)
	}
}

func TestToMessageRequestSampling(t *testing.T) {
	topP := 0.9
	topK := 40
	req, err := toMessageRequest(&schemas.ChatRequest{
		Model:    "claude-sonnet-4-5-20250929",
		TopP:     &topP,
		TopK:     &topK,
		Messages: []schemas.Message{schemas.TextMessage(schemas.RoleUser, "hi")},
	})
	if err != nil {
		t.Fatalf("toMessageRequest: %v", err)
	}
	if req.TopP == nil || *req.TopP != 0.9 {
		t.Errorf("TopP = %v, want 0.9", req.TopP)
	}
	if req.TopK == nil || *req.TopK != 40 {
		t.Errorf("TopK = %v, want 40", req.TopK)
	}
}

func TestToMessageParamImages(t *testing.T) {
	param, err := toMessageParam(schemas.Message{
		Role: schemas.RoleUser,
		Content: []schemas.ContentPart{
			{Type: schemas.ContentPartImage, Image: &schemas.ImageSource{Base64Data: "aGk=", MediaType: "image/png"}},
			{Type: schemas.ContentPartImage, Image: &schemas.ImageSource{URL: "https://example.com/cat.png"}},
		},
	})
	if err != nil {
		t.Fatalf("toMessageParam: %v", err)
	}
	if len(param.Content) != 2 {
		t.Fatalf("content blocks = %d, want 2", len(param.Content))
	}
	if param.Content[0].Source.Type != "base64" || param.Content[0].Source.MediaType != "image/png" {
		t.Errorf("base64 source = %+v", param.Content[0].Source)
	}
	if param.Content[1].Source.Type != "url" || param.Content[1].Source.URL == "" {
		t.Errorf("url source = %+v", param.Content[1].Source)
	}
}

func TestToolResultMessage(t *testing.T) {
	param, err := toMessageParam(schemas.Message{
		Role:       schemas.RoleTool,
		ToolCallID: "toolu_1",
		Content:    []schemas.ContentPart{{Type: schemas.ContentPartText, Text: `{"temp":3}`}},
	})
	if err != nil {
		t.Fatalf("toMessageParam: %v", err)
	}
	if param.Role != "user" {
		t.Errorf("role = %q, want user", param.Role)
	}
	if len(param.Content) != 1 || param.Content[0].Type != "tool_result" || param.Content[0].ToolUseID != "toolu_1" {
		t.Errorf("content = %+v", param.Content)
	}
}
