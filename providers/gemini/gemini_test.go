package gemini

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	schemas "github.com/keyloom/keyloom/schemas"
)

func newTestProvider(t *testing.T, handler http.Handler) *GeminiProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(Config{BaseURL: server.URL})
}

func TestValidateKey(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path = %s, want /models", r.URL.Path)
		}
		if got := r.URL.Query().Get("key"); got != "AIza-good" {
			t.Errorf("key query param = %q", got)
		}
		fmt.Fprint(w, `{"models":[
			{"name":"models/gemini-2.5-flash","displayName":"Gemini 2.5 Flash","inputTokenLimit":1048576,"outputTokenLimit":65536,"supportedGenerationMethods":["generateContent","countTokens"]},
			{"name":"models/gemini-2.0-flash","displayName":"Gemini 2.0 Flash","inputTokenLimit":1048576,"outputTokenLimit":8192,"supportedGenerationMethods":["generateContent"]},
			{"name":"models/text-embedding-004","displayName":"Embedding","inputTokenLimit":2048,"outputTokenLimit":0,"supportedGenerationMethods":["embedContent"]}
		]}`)
	}))

	result := p.ValidateKey(context.Background(), "AIza-good")
	if !result.Valid {
		t.Fatalf("Valid = false, error %q", result.Error)
	}
	if len(result.Models) != 2 {
		t.Fatalf("models = %+v, want the 2 generateContent models", result.Models)
	}
	flash := result.Models[0]
	if flash.ID != "gemini-2.5-flash" {
		t.Errorf("id = %q, want models/ prefix stripped", flash.ID)
	}
	if !flash.SupportsThinking {
		t.Error("gemini-2.5-flash must support thinking")
	}
	if result.Models[1].SupportsThinking {
		t.Error("gemini-2.0-flash must not support thinking")
	}
	if flash.ContextWindow != 1048576 {
		t.Errorf("context window = %d", flash.ContextWindow)
	}
}

func TestValidateKeyRejected(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"code":400,"message":"API key not valid. Please pass a valid API key.","status":"INVALID_ARGUMENT"}}`)
	}))

	result := p.ValidateKey(context.Background(), "AIza-bad")
	if result.Valid {
		t.Fatal("Valid = true for rejected key")
	}
	if result.ErrorCode != schemas.ValidationErrInvalidKey {
		t.Errorf("ErrorCode = %q, want invalid_key", result.ErrorCode)
	}
}

func TestChat(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, `{
			"candidates":[{"content":{"role":"model","parts":[
				{"text":"let me think","thought":true},
				{"text":"The answer is 4"}
			]},"finishReason":"STOP"}],
			"usageMetadata":{"promptTokenCount":8,"candidatesTokenCount":12,"thoughtsTokenCount":5}
		}`)
	}))
	p.Initialize("AIza-test")

	resp, err := p.Chat(context.Background(), &schemas.ChatRequest{
		Model:    "gemini-2.5-flash",
		Messages: []schemas.Message{schemas.TextMessage(schemas.RoleUser, "2+2?")},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "The answer is 4" || resp.Thinking != "let me think" {
		t.Errorf("response = %+v", resp)
	}
	if resp.ID == "" {
		t.Error("response id must be synthesized")
	}
	if resp.Usage.ThinkingTokens != 5 {
		t.Errorf("ThinkingTokens = %d", resp.Usage.ThinkingTokens)
	}
}

func TestChatRejectsURLImages(t *testing.T) {
	p := New(Config{})
	p.Initialize("AIza-test")

	_, err := p.Chat(context.Background(), &schemas.ChatRequest{
		Model: "gemini-2.5-flash",
		Messages: []schemas.Message{{
			Role: schemas.RoleUser,
			Content: []schemas.ContentPart{
				{Type: schemas.ContentPartImage, Image: &schemas.ImageSource{URL: "https://example.com/cat.png"}},
			},
		}},
	})
	if err == nil || err.Code != schemas.ErrCodeNotSupported {
		t.Fatalf("err = %v, want not_supported before any network call", err)
	}
}

func TestChatStreamThinkingTransition(t *testing.T) {
	records := []string{
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"step one ","thought":true}]}}]}`,
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"step two","thought":true}]}}]}`,
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"Answer: "}]}}]}`,
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"42"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":5,"candidatesTokenCount":9,"thoughtsTokenCount":4}}`,
	}
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("alt"); got != "sse" {
			t.Errorf("alt = %q, want sse", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, record := range records {
			fmt.Fprintf(w, "data: %s\n\n", record)
			flusher.Flush()
		}
	}))
	p.Initialize("AIza-test")

	chunks, err := p.ChatStream(context.Background(), &schemas.ChatRequest{
		Model:    "gemini-2.5-flash",
		Thinking: &schemas.ThinkingConfig{Enabled: true},
		Messages: []schemas.Message{schemas.TextMessage(schemas.RoleUser, "hi")},
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
		schemas.StreamChunkThinkingDelta,
		schemas.StreamChunkThinkingComplete, // synthesized at the thought -> text transition
		schemas.StreamChunkDelta,
		schemas.StreamChunkDelta,
		schemas.StreamChunkUsage,
		schemas.StreamChunkDone,
	}
	if len(got) != len(wantTypes) {
		t.Fatalf("got %d chunks %+v, want %d", len(got), got, len(wantTypes))
	}
	for i, want := range wantTypes {
		if got[i].Type != want {
			t.Errorf("chunk %d = %q, want %q", i, got[i].Type, want)
		}
	}
	if got[3].Thinking != "step one step two" {
		t.Errorf("thinking_complete = %q", got[3].Thinking)
	}
	done := got[len(got)-1]
	if done.Response == nil || done.Response.Content != "Answer: 42" {
		t.Errorf("done = %+v", done.Response)
	}
}

func TestChatStreamThinkingCompleteAtFinish(t *testing.T) {
	// The model hit its output limit while still mid-thought; the adapter
	// must still close the thinking block before done.
	records := []string{
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"endless pondering","thought":true}]},"finishReason":"MAX_TOKENS"}],"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":0,"thoughtsTokenCount":7}}`,
	}
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, record := range records {
			fmt.Fprintf(w, "data: %s\n\n", record)
			flusher.Flush()
		}
	}))
	p.Initialize("AIza-test")

	chunks, err := p.ChatStream(context.Background(), &schemas.ChatRequest{
		Model:    "gemini-2.5-flash",
		Thinking: &schemas.ThinkingConfig{Enabled: true},
		Messages: []schemas.Message{schemas.TextMessage(schemas.RoleUser, "hi")},
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
		schemas.StreamChunkUsage,
		schemas.StreamChunkDone,
	}
	if len(got) != len(wantTypes) {
		t.Fatalf("got %d chunks %+v, want %d", len(got), got, len(wantTypes))
	}
	for i, want := range wantTypes {
		if got[i].Type != want {
			t.Errorf("chunk %d = %q, want %q", i, got[i].Type, want)
		}
	}
	if got[len(got)-1].FinishReason != schemas.FinishLength {
		t.Errorf("finish = %q, want length", got[len(got)-1].FinishReason)
	}
}

func TestMapFinishReason(t *testing.T) {
	tests := []struct {
		reason    string
		toolCalls bool
		want      schemas.FinishReason
	}{
		{"STOP", false, schemas.FinishStop},
		{"STOP", true, schemas.FinishToolUse},
		{"MAX_TOKENS", false, schemas.FinishLength},
		{"SAFETY", false, schemas.FinishContentFilter},
		{"RECITATION", false, schemas.FinishContentFilter},
		{"WEIRD", false, schemas.FinishUnknown},
	}
	for _, tt := range tests {
		if got := mapFinishReason(tt.reason, tt.toolCalls); got != tt.want {
			t.Errorf("mapFinishReason(%q, %v) = %q, want %q", tt.reason, tt.toolCalls, got, tt.want)
		}
	}
}

func TestToGenerateRequestSampling(t *testing.T) {
	temp := 0.3
	topK := 64
	req, err := toGenerateRequest(&schemas.ChatRequest{
		Model:       "gemini-2.5-flash",
		Temperature: &temp,
		TopK:        &topK,
		Messages:    []schemas.Message{schemas.TextMessage(schemas.RoleUser, "hi")},
	})
	if err != nil {
		t.Fatalf("toGenerateRequest: %v", err)
	}
	config := req.GenerationConfig
	if config.Temperature == nil || *config.Temperature != 0.3 {
		t.Errorf("Temperature = %v, want 0.3", config.Temperature)
	}
	if config.TopK == nil || *config.TopK != 64 {
		t.Errorf("TopK = %v, want 64", config.TopK)
	}
}

func TestToGenerateRequestToolChoice(t *testing.T) {
	req, err := toGenerateRequest(&schemas.ChatRequest{
		Model:      "gemini-2.5-flash",
		Messages:   []schemas.Message{schemas.TextMessage(schemas.RoleUser, "hi")},
		Tools:      []schemas.ToolDefinition{{Name: "lookup"}},
		ToolChoice: &schemas.ToolChoice{Type: schemas.ToolChoiceTool, Name: "lookup"},
	})
	if err != nil {
		t.Fatalf("toGenerateRequest: %v", err)
	}
	config := req.ToolConfig.FunctionCallingConfig
	if config.Mode != "ANY" || len(config.AllowedFunctionNames) != 1 || config.AllowedFunctionNames[0] != "lookup" {
		t.Errorf("functionCallingConfig = %+v", config)
	}
}
