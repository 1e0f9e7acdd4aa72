package openaicompat

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	schemas "github.com/keyloom/keyloom/schemas"
)

func newTestProvider(t *testing.T, profile Profile, cfg Config, handler http.Handler) *CompatProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	cfg.BaseURL = server.URL
	return New(profile, cfg)
}

func collectChunks(t *testing.T, ch <-chan *schemas.ChatStreamChunk) []*schemas.ChatStreamChunk {
	t.Helper()
	var chunks []*schemas.ChatStreamChunk
	for chunk := range ch {
		chunks = append(chunks, chunk)
	}
	return chunks
}

func TestProfiles(t *testing.T) {
	tests := []struct {
		profile Profile
		id      schemas.ProviderID
		baseURL string
	}{
		{GroqProfile(), schemas.Groq, "https://api.groq.com/openai/v1"},
		{MistralProfile(), schemas.Mistral, "https://api.mistral.ai/v1"},
		{TogetherProfile(), schemas.Together, "https://api.together.xyz/v1"},
		{OpenRouterProfile(), schemas.OpenRouter, "https://openrouter.ai/api/v1"},
	}
	for _, tt := range tests {
		t.Run(string(tt.id), func(t *testing.T) {
			if tt.profile.ID != tt.id {
				t.Errorf("ID = %q, want %q", tt.profile.ID, tt.id)
			}
			if tt.profile.BaseURL != tt.baseURL {
				t.Errorf("BaseURL = %q, want %q", tt.profile.BaseURL, tt.baseURL)
			}
			if tt.profile.ParseModelList == nil {
				t.Error("ParseModelList is nil")
			}
			if !tt.profile.Capabilities.Streaming {
				t.Error("Streaming capability missing")
			}
		})
	}
}

func TestGroqParseModels(t *testing.T) {
	body := `{"data":[
		{"id":"llama-3.3-70b-versatile"},
		{"id":"whisper-large-v3"},
		{"id":"llama-guard-3-8b"},
		{"id":"deepseek-r1-distill-llama-70b"},
		{"id":"meta-llama/llama-4-scout-17b-16e-instruct","context_window":131072}
	]}`
	models, err := groqParseModels([]byte(body))
	if err != nil {
		t.Fatalf("groqParseModels: %v", err)
	}
	if len(models) != 3 {
		t.Fatalf("got %d models, want 3 (whisper and guard excluded): %+v", len(models), models)
	}
	byID := make(map[string]schemas.ModelInfo)
	for _, m := range models {
		byID[m.ID] = m
	}
	if m := byID["llama-3.3-70b-versatile"]; m.ContextWindow != 131072 {
		t.Errorf("table fallback window = %d, want 131072", m.ContextWindow)
	}
	if m := byID["deepseek-r1-distill-llama-70b"]; !m.SupportsThinking {
		t.Error("r1 distill should report thinking")
	}
	if m := byID["meta-llama/llama-4-scout-17b-16e-instruct"]; !m.SupportsVision {
		t.Error("llama-4 should report vision")
	}
}

func TestMistralParseModels(t *testing.T) {
	body := `{"data":[
		{"id":"mistral-large-latest","max_context_length":131072,"capabilities":{"completion_chat":true,"function_calling":true}},
		{"id":"pixtral-large-latest","max_context_length":131072,"capabilities":{"completion_chat":true,"function_calling":true,"vision":true}},
		{"id":"mistral-embed","max_context_length":8192,"capabilities":{"completion_chat":false}},
		{"id":"open-mistral-7b","max_context_length":32768,"capabilities":{"completion_chat":true},"deprecation":"2025-03-30"}
	]}`
	models, err := mistralParseModels([]byte(body))
	if err != nil {
		t.Fatalf("mistralParseModels: %v", err)
	}
	if len(models) != 3 {
		t.Fatalf("got %d models, want 3 (embed excluded): %+v", len(models), models)
	}
	byID := make(map[string]schemas.ModelInfo)
	for _, m := range models {
		byID[m.ID] = m
	}
	if !byID["pixtral-large-latest"].SupportsVision {
		t.Error("pixtral should report vision")
	}
	if byID["mistral-large-latest"].SupportsVision {
		t.Error("mistral-large should not report vision")
	}
	if !byID["open-mistral-7b"].Deprecated {
		t.Error("deprecation date should mark the model deprecated")
	}
}

func TestTogetherParseModels(t *testing.T) {
	body := `[
		{"id":"meta-llama/Llama-3.3-70B-Instruct-Turbo","type":"chat","context_length":131072,"pricing":{"input":0.88,"output":0.88}},
		{"id":"BAAI/bge-large-en-v1.5","type":"embedding","context_length":512},
		{"id":"deepseek-ai/DeepSeek-R1","type":"chat","context_length":163840}
	]`
	models, err := togetherParseModels([]byte(body))
	if err != nil {
		t.Fatalf("togetherParseModels: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("got %d models, want 2 (embedding excluded): %+v", len(models), models)
	}
	byID := make(map[string]schemas.ModelInfo)
	for _, m := range models {
		byID[m.ID] = m
	}
	llama := byID["meta-llama/Llama-3.3-70B-Instruct-Turbo"]
	if llama.Pricing == nil || llama.Pricing.InputPerMTok != 0.88 {
		t.Errorf("Pricing = %+v", llama.Pricing)
	}
	if !byID["deepseek-ai/DeepSeek-R1"].SupportsThinking {
		t.Error("DeepSeek-R1 should report thinking")
	}
}

func TestOpenRouterParseModels(t *testing.T) {
	body := `{"data":[
		{"id":"anthropic/claude-sonnet-4.5","name":"Claude Sonnet 4.5","context_length":1000000,
		 "pricing":{"prompt":"0.000003","completion":"0.000015"},
		 "architecture":{"input_modalities":["text","image"]},
		 "supported_parameters":["tools","reasoning"]},
		{"id":"meta-llama/llama-3.3-70b-instruct","context_length":131072,
		 "pricing":{"prompt":"0","completion":"0"},
		 "architecture":{"input_modalities":["text"]},
		 "supported_parameters":["temperature"]}
	]}`
	models, err := openrouterParseModels([]byte(body))
	if err != nil {
		t.Fatalf("openrouterParseModels: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("got %d models: %+v", len(models), models)
	}
	byID := make(map[string]schemas.ModelInfo)
	for _, m := range models {
		byID[m.ID] = m
	}
	claude := byID["anthropic/claude-sonnet-4.5"]
	if claude.Name != "Claude Sonnet 4.5" {
		t.Errorf("Name = %q", claude.Name)
	}
	if claude.Pricing == nil || claude.Pricing.InputPerMTok != 3 || claude.Pricing.OutputPerMTok != 15 {
		t.Errorf("Pricing = %+v, want 3/15 per MTok", claude.Pricing)
	}
	if !claude.SupportsVision || !claude.SupportsTools || !claude.SupportsThinking {
		t.Errorf("capabilities = %+v", claude)
	}
	llama := byID["meta-llama/llama-3.3-70b-instruct"]
	if llama.SupportsVision || llama.SupportsTools || llama.Pricing != nil {
		t.Errorf("free text model = %+v", llama)
	}
}

func TestValidateKey(t *testing.T) {
	p := newTestProvider(t, GroqProfile(), Config{}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path = %s, want /models", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer gsk_good" {
			t.Errorf("Authorization = %q", got)
		}
		fmt.Fprint(w, `{"data":[{"id":"llama-3.1-8b-instant"}]}`)
	}))

	result := p.ValidateKey(context.Background(), "gsk_good")
	if !result.Valid {
		t.Fatalf("Valid = false, error %q", result.Error)
	}
	if len(result.Models) != 1 || result.Models[0].ID != "llama-3.1-8b-instant" {
		t.Fatalf("Models = %+v", result.Models)
	}
}

func TestValidateKeyRejected(t *testing.T) {
	p := newTestProvider(t, MistralProfile(), Config{}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"Unauthorized","type":"invalid_request_error"}}`)
	}))

	result := p.ValidateKey(context.Background(), "bad")
	if result.Valid {
		t.Fatal("Valid = true for rejected key")
	}
	if result.ErrorCode != schemas.ValidationErrInvalidKey {
		t.Errorf("ErrorCode = %q, want invalid_key", result.ErrorCode)
	}
}

func TestChat(t *testing.T) {
	p := newTestProvider(t, GroqProfile(), Config{}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s, want /chat/completions", r.URL.Path)
		}
		fmt.Fprint(w, `{
			"id":"chatcmpl-1","model":"deepseek-r1-distill-llama-70b",
			"choices":[{"message":{"content":"four","reasoning":"2 plus 2 is 4"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":9,"completion_tokens":3}
		}`)
	}))
	p.Initialize("gsk_test")

	resp, err := p.Chat(context.Background(), &schemas.ChatRequest{
		Model:    "deepseek-r1-distill-llama-70b",
		Messages: []schemas.Message{schemas.TextMessage(schemas.RoleUser, "2+2?")},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "four" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Thinking != "2 plus 2 is 4" {
		t.Errorf("Thinking = %q", resp.Thinking)
	}
	if resp.Usage.InputTokens != 9 || resp.Usage.OutputTokens != 3 {
		t.Errorf("Usage = %+v", resp.Usage)
	}
}

func TestChatWithoutKey(t *testing.T) {
	p := New(TogetherProfile(), Config{})
	_, err := p.Chat(context.Background(), &schemas.ChatRequest{Model: "deepseek-ai/DeepSeek-R1"})
	if err == nil || err.Code != schemas.ErrCodeNoKey {
		t.Fatalf("err = %v, want no_key", err)
	}
}

func TestChatToolCalls(t *testing.T) {
	p := newTestProvider(t, MistralProfile(), Config{}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"id":"chatcmpl-2","model":"mistral-large-latest",
			"choices":[{"message":{"content":"","tool_calls":[
				{"id":"call_1","type":"function","function":{"name":"get_weather","arguments":"{\"city\":\"Oslo\"}"}}
			]},"finish_reason":"tool_calls"}],
			"usage":{"prompt_tokens":20,"completion_tokens":8}
		}`)
	}))
	p.Initialize("key")

	resp, err := p.Chat(context.Background(), &schemas.ChatRequest{
		Model:    "mistral-large-latest",
		Messages: []schemas.Message{schemas.TextMessage(schemas.RoleUser, "weather in Oslo")},
		Tools: []schemas.ToolDefinition{{
			Name:       "get_weather",
			Parameters: map[string]any{"type": "object"},
		}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.FinishReason != schemas.FinishToolUse {
		t.Errorf("FinishReason = %q, want tool_use", resp.FinishReason)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "call_1" || resp.ToolCalls[0].Name != "get_weather" {
		t.Fatalf("ToolCalls = %+v", resp.ToolCalls)
	}
}

func TestChatStream(t *testing.T) {
	events := []string{
		`{"id":"chatcmpl-s1","model":"deepseek-r1-distill-llama-70b","choices":[{"delta":{"reasoning":"think "}}]}`,
		`{"id":"chatcmpl-s1","choices":[{"delta":{"reasoning":"harder"}}]}`,
		`{"id":"chatcmpl-s1","choices":[{"delta":{"content":"Hello"}}]}`,
		`{"id":"chatcmpl-s1","choices":[{"delta":{"content":" world"},"finish_reason":"stop"}]}`,
		`{"id":"chatcmpl-s1","choices":[],"usage":{"prompt_tokens":7,"completion_tokens":11}}`,
	}
	p := newTestProvider(t, GroqProfile(), Config{}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, e := range events {
			fmt.Fprintf(w, "data: %s\n\n", e)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	p.Initialize("gsk_test")

	ch, err := p.ChatStream(context.Background(), &schemas.ChatRequest{
		Model:    "deepseek-r1-distill-llama-70b",
		Messages: []schemas.Message{schemas.TextMessage(schemas.RoleUser, "hi")},
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	chunks := collectChunks(t, ch)

	want := []schemas.StreamChunkType{
		schemas.StreamChunkStart,
		schemas.StreamChunkThinkingDelta,
		schemas.StreamChunkThinkingDelta,
		schemas.StreamChunkThinkingComplete,
		schemas.StreamChunkDelta,
		schemas.StreamChunkDelta,
		schemas.StreamChunkUsage,
		schemas.StreamChunkDone,
	}
	if len(chunks) != len(want) {
		t.Fatalf("got %d chunks, want %d: %+v", len(chunks), len(want), chunks)
	}
	for i, typ := range want {
		if chunks[i].Type != typ {
			t.Errorf("chunk[%d].Type = %q, want %q", i, chunks[i].Type, typ)
		}
	}
	if chunks[3].Thinking != "think harder" {
		t.Errorf("thinking_complete = %q", chunks[3].Thinking)
	}
	done := chunks[len(chunks)-1]
	if done.FinishReason != schemas.FinishStop {
		t.Errorf("FinishReason = %q", done.FinishReason)
	}
	if done.Response == nil || done.Response.Content != "Hello world" || done.Response.Thinking != "think harder" {
		t.Errorf("Response = %+v", done.Response)
	}
	if done.Response.Usage.InputTokens != 7 || done.Response.Usage.OutputTokens != 11 {
		t.Errorf("Usage = %+v", done.Response.Usage)
	}
}

func TestChatStreamAuthError(t *testing.T) {
	p := newTestProvider(t, OpenRouterProfile(), Config{}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"No auth credentials found","code":401}}`)
	}))
	p.Initialize("sk-or-bad")

	_, err := p.ChatStream(context.Background(), &schemas.ChatRequest{Model: "anthropic/claude-sonnet-4.5"})
	if err == nil || err.Code != schemas.ErrCodeInvalidKey {
		t.Fatalf("err = %v, want invalid_key", err)
	}
}

func TestOpenRouterAttributionHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("HTTP-Referer"); got != "https://example.com" {
			t.Errorf("HTTP-Referer = %q", got)
		}
		if got := r.Header.Get("X-Title"); got != "Example App" {
			t.Errorf("X-Title = %q", got)
		}
		fmt.Fprint(w, `{"data":[]}`)
	}))
	t.Cleanup(server.Close)

	p := NewOpenRouter(Config{
		BaseURL:  server.URL,
		Referer:  "https://example.com",
		AppTitle: "Example App",
	})
	p.Initialize("sk-or-test")
	if _, err := p.ListModels(context.Background()); err != nil {
		t.Fatalf("ListModels: %v", err)
	}
}
