package keyloom

import (
	"context"
	"sync"
	"testing"
	"time"

	providerUtils "github.com/keyloom/keyloom/providers/utils"
	schemas "github.com/keyloom/keyloom/schemas"
	"github.com/keyloom/keyloom/storage"
)

// fakeProvider is a scriptable adapter for client tests.
type fakeProvider struct {
	id          schemas.ProviderID
	requiresKey bool
	validation  *schemas.KeyValidationResult

	mu            sync.Mutex
	key           string
	validateCalls int
	chatCalls     int
}

func newFakeProvider(id schemas.ProviderID, validation *schemas.KeyValidationResult) *fakeProvider {
	return &fakeProvider{id: id, requiresKey: true, validation: validation}
}

func (f *fakeProvider) Config() schemas.ProviderConfig {
	return schemas.ProviderConfig{ID: f.id, Name: string(f.id), RequiresKey: f.requiresKey}
}

func (f *fakeProvider) Capabilities() schemas.ProviderCapabilities {
	return schemas.ProviderCapabilities{Streaming: true}
}

func (f *fakeProvider) Initialize(key string) {
	f.mu.Lock()
	f.key = key
	f.mu.Unlock()
}

func (f *fakeProvider) IsInitialized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.requiresKey || f.key != ""
}

func (f *fakeProvider) ValidateKey(context.Context, string) *schemas.KeyValidationResult {
	f.mu.Lock()
	f.validateCalls++
	f.mu.Unlock()
	return f.validation
}

func (f *fakeProvider) ListModels(context.Context) ([]schemas.ModelInfo, *schemas.Error) {
	return f.validation.Models, nil
}

func (f *fakeProvider) Chat(context.Context, *schemas.ChatRequest) (*schemas.ChatResponse, *schemas.Error) {
	f.mu.Lock()
	f.chatCalls++
	f.mu.Unlock()
	return &schemas.ChatResponse{ID: "fake-1", Content: "ok", FinishReason: schemas.FinishStop}, nil
}

func (f *fakeProvider) ChatStream(context.Context, *schemas.ChatRequest) (<-chan *schemas.ChatStreamChunk, *schemas.Error) {
	ch := make(chan *schemas.ChatStreamChunk, 2)
	ch <- &schemas.ChatStreamChunk{Type: schemas.StreamChunkStart, ID: "fake-1"}
	ch <- &schemas.ChatStreamChunk{Type: schemas.StreamChunkDone, FinishReason: schemas.FinishStop}
	close(ch)
	return ch, nil
}

func (f *fakeProvider) counts() (validate, chat int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.validateCalls, f.chatCalls
}

func validResult(models ...string) *schemas.KeyValidationResult {
	result := &schemas.KeyValidationResult{Valid: true}
	for _, m := range models {
		result.Models = append(result.Models, schemas.ModelInfo{ID: m, Name: m})
	}
	return result
}

func newTestClient(providers ...schemas.Provider) (*BYOKClient, *storage.MemoryStorage) {
	store := storage.NewMemoryStorage()
	off := false
	c := New(ClientOptions{
		Providers:    providers,
		Storage:      store,
		AutoValidate: &off,
		Logger:       providerUtils.NopLogger{},
	})
	return c, store
}

func TestSetKeyValidPersistsAndInitializes(t *testing.T) {
	fake := newFakeProvider(schemas.Anthropic, validResult("claude-sonnet-4-5", "claude-haiku-4-5"))
	c, store := newTestClient(fake)

	var events []schemas.EventType
	c.Subscribe(func(e schemas.Event) { events = append(events, e.Type) })

	result, err := c.SetKey(context.Background(), schemas.Anthropic, "sk-ant-test-1234", nil)
	if err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	if !result.Valid {
		t.Fatal("result.Valid = false")
	}

	stored, serr := store.Get(context.Background(), schemas.Anthropic)
	if serr != nil || stored == nil || stored.Key != "sk-ant-test-1234" {
		t.Fatalf("stored = %+v, %v", stored, serr)
	}
	if !fake.IsInitialized() {
		t.Error("adapter was not initialized")
	}

	status, _ := c.KeyStatus(schemas.Anthropic)
	if !status.HasKey || status.IsValid == nil || !*status.IsValid || status.IsValidating {
		t.Errorf("status = %+v", status)
	}
	if status.LastFour != "1234" {
		t.Errorf("LastFour = %q", status.LastFour)
	}
	if status.SelectedModel != "claude-sonnet-4-5" {
		t.Errorf("SelectedModel = %q, want first model", status.SelectedModel)
	}

	var saw []schemas.EventType
	for _, typ := range events {
		if typ != schemas.EventStateChanged {
			saw = append(saw, typ)
		}
	}
	want := []schemas.EventType{schemas.EventKeyValidating, schemas.EventKeySet, schemas.EventKeyValidated}
	if len(saw) != len(want) {
		t.Fatalf("events = %v, want %v", saw, want)
	}
	for i := range want {
		if saw[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, saw[i], want[i])
		}
	}
}

func TestSetKeyInvalidDoesNotPersist(t *testing.T) {
	fake := newFakeProvider(schemas.OpenAI, &schemas.KeyValidationResult{
		Valid: false, Error: "Incorrect API key provided", ErrorCode: schemas.ValidationErrInvalidKey,
	})
	c, store := newTestClient(fake)

	result, err := c.SetKey(context.Background(), schemas.OpenAI, "sk-bad", nil)
	if err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	if result.Valid {
		t.Fatal("result.Valid = true for rejected key")
	}

	stored, _ := store.Get(context.Background(), schemas.OpenAI)
	if stored != nil {
		t.Error("rejected key was persisted")
	}
	status, _ := c.KeyStatus(schemas.OpenAI)
	if status.HasKey || status.IsValid == nil || *status.IsValid || status.IsValidating {
		t.Errorf("status = %+v", status)
	}
	if status.Error == "" {
		t.Error("status.Error is empty")
	}
}

func TestSetKeyUnknownProvider(t *testing.T) {
	c, _ := newTestClient()
	_, err := c.SetKey(context.Background(), schemas.Gemini, "key", nil)
	if err == nil || err.Code != schemas.ErrCodeUnknownProvider {
		t.Fatalf("err = %v, want unknown_provider", err)
	}
}

func TestChatRequiresInitializedProvider(t *testing.T) {
	fake := newFakeProvider(schemas.Anthropic, validResult("claude-haiku-4-5"))
	c, _ := newTestClient(fake)

	_, err := c.Chat(context.Background(), schemas.Anthropic, &schemas.ChatRequest{Model: "claude-haiku-4-5"})
	if err == nil || err.Code != schemas.ErrCodeNoKey {
		t.Fatalf("err = %v, want no_key", err)
	}
	if _, chats := fake.counts(); chats != 0 {
		t.Errorf("chat reached the adapter %d times before a key was set", chats)
	}

	if _, serr := c.SetKey(context.Background(), schemas.Anthropic, "sk-ant-good", nil); serr != nil {
		t.Fatalf("SetKey: %v", serr)
	}
	if _, cerr := c.Chat(context.Background(), schemas.Anthropic, &schemas.ChatRequest{Model: "claude-haiku-4-5"}); cerr != nil {
		t.Fatalf("Chat after SetKey: %v", cerr)
	}
}

func TestChatKeylessProvider(t *testing.T) {
	fake := newFakeProvider(schemas.Ollama, validResult("llama3:8b"))
	fake.requiresKey = false
	c, _ := newTestClient(fake)

	if _, err := c.Chat(context.Background(), schemas.Ollama, &schemas.ChatRequest{Model: "llama3:8b"}); err != nil {
		t.Fatalf("Chat on keyless provider: %v", err)
	}
}

func TestRemoveKeyResetsStatus(t *testing.T) {
	fake := newFakeProvider(schemas.Anthropic, validResult("claude-haiku-4-5"))
	c, store := newTestClient(fake)

	if _, err := c.SetKey(context.Background(), schemas.Anthropic, "sk-ant-good", nil); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	if err := c.RemoveKey(context.Background(), schemas.Anthropic); err != nil {
		t.Fatalf("RemoveKey: %v", err)
	}

	stored, _ := store.Get(context.Background(), schemas.Anthropic)
	if stored != nil {
		t.Error("key still in storage after RemoveKey")
	}
	status, _ := c.KeyStatus(schemas.Anthropic)
	if status.HasKey || status.IsValid != nil || status.SelectedModel != "" {
		t.Errorf("status = %+v, want zero value", status)
	}
}

func TestValidateKeyUsesCache(t *testing.T) {
	fake := newFakeProvider(schemas.Mistral, validResult("mistral-large-latest"))
	c, _ := newTestClient(fake)

	if _, err := c.SetKey(context.Background(), schemas.Mistral, "key", nil); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	if _, err := c.ValidateKey(context.Background(), schemas.Mistral); err != nil {
		t.Fatalf("ValidateKey: %v", err)
	}
	if validations, _ := fake.counts(); validations != 1 {
		t.Errorf("validateCalls = %d, want 1 (second check served from cache)", validations)
	}
}

func TestValidateKeyExpiredCacheRevalidates(t *testing.T) {
	fake := newFakeProvider(schemas.Mistral, validResult("mistral-large-latest"))
	store := storage.NewMemoryStorage()
	off := false
	c := New(ClientOptions{
		Providers:     []schemas.Provider{fake},
		Storage:       store,
		AutoValidate:  &off,
		ValidationTTL: time.Nanosecond,
		Logger:        providerUtils.NopLogger{},
	})

	if _, err := c.SetKey(context.Background(), schemas.Mistral, "key", nil); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	time.Sleep(time.Millisecond)
	if _, err := c.ValidateKey(context.Background(), schemas.Mistral); err != nil {
		t.Fatalf("ValidateKey: %v", err)
	}
	if validations, _ := fake.counts(); validations != 2 {
		t.Errorf("validateCalls = %d, want 2 after TTL expiry", validations)
	}
}

func TestSelectModelUnknownLeavesSelectionIntact(t *testing.T) {
	fake := newFakeProvider(schemas.Anthropic, validResult("claude-sonnet-4-5", "claude-haiku-4-5"))
	c, _ := newTestClient(fake)

	if _, err := c.SetKey(context.Background(), schemas.Anthropic, "sk-ant-good", nil); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	if err := c.SelectModel(schemas.Anthropic, "nonexistent"); err == nil || err.Code != schemas.ErrCodeModelNotFound {
		t.Fatalf("err = %v, want model_not_found", err)
	}
	if got := c.SelectedModel(schemas.Anthropic); got != "claude-sonnet-4-5" {
		t.Errorf("SelectedModel = %q, selection mutated by failed call", got)
	}

	if err := c.SelectModel(schemas.Anthropic, "claude-haiku-4-5"); err != nil {
		t.Fatalf("SelectModel: %v", err)
	}
	if got := c.SelectedModel(schemas.Anthropic); got != "claude-haiku-4-5" {
		t.Errorf("SelectedModel = %q", got)
	}
}

func TestDefaultModelConfigured(t *testing.T) {
	fake := newFakeProvider(schemas.Anthropic, validResult("claude-sonnet-4-5", "claude-haiku-4-5"))
	store := storage.NewMemoryStorage()
	off := false
	c := New(ClientOptions{
		Providers:    []schemas.Provider{fake},
		Storage:      store,
		AutoValidate: &off,
		ModelConfig: map[schemas.ProviderID]schemas.ProviderModelConfig{
			schemas.Anthropic: {DefaultModel: "claude-haiku-4-5"},
		},
		Logger: providerUtils.NopLogger{},
	})

	if _, err := c.SetKey(context.Background(), schemas.Anthropic, "sk-ant-good", nil); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	if got := c.SelectedModel(schemas.Anthropic); got != "claude-haiku-4-5" {
		t.Errorf("SelectedModel = %q, want configured default", got)
	}
}

func TestRefreshModelsReappliesFilters(t *testing.T) {
	fake := newFakeProvider(schemas.OpenAI, validResult("gpt-5", "gpt-4o", "gpt-3.5-turbo"))
	store := storage.NewMemoryStorage()
	off := false
	c := New(ClientOptions{
		Providers:    []schemas.Provider{fake},
		Storage:      store,
		AutoValidate: &off,
		GlobalModelFilter: &schemas.ModelFilter{
			Exclude: []string{"gpt-3.5*"},
		},
		Logger: providerUtils.NopLogger{},
	})

	if _, err := c.SetKey(context.Background(), schemas.OpenAI, "sk-good", nil); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	models, err := c.RefreshModels(context.Background(), schemas.OpenAI)
	if err != nil {
		t.Fatalf("RefreshModels: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("models = %+v, want gpt-3.5 filtered out", models)
	}
}

func TestInitializeIdempotent(t *testing.T) {
	fake := newFakeProvider(schemas.Anthropic, validResult("claude-haiku-4-5"))
	store := storage.NewMemoryStorage()
	if err := store.Set(context.Background(), schemas.Anthropic, schemas.StoredKey{
		Key:      "sk-ant-stored",
		Metadata: schemas.KeyMetadata{CreatedAt: time.Now()},
	}); err != nil {
		t.Fatalf("seed storage: %v", err)
	}

	off := false
	c := New(ClientOptions{
		Providers:    []schemas.Provider{fake},
		Storage:      store,
		AutoValidate: &off,
		Logger:       providerUtils.NopLogger{},
	})

	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !fake.IsInitialized() {
		t.Error("stored key was not handed to the adapter")
	}
	status, _ := c.KeyStatus(schemas.Anthropic)
	if !status.HasKey || status.LastFour != "ored" {
		t.Errorf("status = %+v", status)
	}

	var events int
	c.Subscribe(func(schemas.Event) { events++ })
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
	if events != 0 {
		t.Errorf("second Initialize emitted %d events, want 0", events)
	}
}

func TestDestroyClearsStateNotStorage(t *testing.T) {
	fake := newFakeProvider(schemas.Anthropic, validResult("claude-haiku-4-5"))
	c, store := newTestClient(fake)

	if _, err := c.SetKey(context.Background(), schemas.Anthropic, "sk-ant-good", nil); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	c.Destroy()

	if _, ok := c.KeyStatus(schemas.Anthropic); ok {
		t.Error("key status survived Destroy")
	}
	if len(c.Providers()) != 0 {
		t.Error("providers survived Destroy")
	}
	stored, _ := store.Get(context.Background(), schemas.Anthropic)
	if stored == nil {
		t.Error("Destroy wiped persisted storage")
	}
}
