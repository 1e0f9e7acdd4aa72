// Package keyloom implements the BYOK (bring your own key) client core: a
// provider-agnostic layer over hosted LLM APIs that unifies key storage and
// validation, model discovery and filtering, and a normalized chat and
// streaming protocol.
package keyloom

import (
	"context"
	"fmt"
	"sync"
	"time"

	schemas "github.com/keyloom/keyloom/schemas"
	"github.com/keyloom/keyloom/storage"
)

// DefaultValidationTTL is how long a validation verdict is trusted before
// ValidateKey goes back to the vendor.
const DefaultValidationTTL = time.Hour

// ClientOptions configures a BYOKClient.
type ClientOptions struct {
	// Providers are registered in order; registration order is preserved in
	// State. A duplicate id replaces the earlier adapter with a warning.
	Providers []schemas.Provider

	// Storage defaults to an in-memory store.
	Storage storage.KeyStorage

	// AutoValidate re-validates stored keys in the background during
	// Initialize. Defaults to true.
	AutoValidate *bool

	// ValidationTTL defaults to DefaultValidationTTL.
	ValidationTTL time.Duration

	// GlobalModelFilter applies to every provider's catalog before the
	// per-provider filter in ModelConfig.
	GlobalModelFilter *schemas.ModelFilter

	// ModelConfig carries per-provider filters and default model choices.
	ModelConfig map[schemas.ProviderID]schemas.ProviderModelConfig

	Logger schemas.Logger
}

// BYOKClient orchestrates provider adapters, key storage, and the
// per-provider key state machine. All methods are safe for concurrent use.
type BYOKClient struct {
	storage       storage.KeyStorage
	logger        schemas.Logger
	emitter       *eventEmitter
	autoValidate  bool
	validationTTL time.Duration
	globalFilter  *schemas.ModelFilter
	modelConfig   map[schemas.ProviderID]schemas.ProviderModelConfig

	mu          sync.RWMutex
	providers   map[schemas.ProviderID]schemas.Provider
	order       []schemas.ProviderID
	keys        map[schemas.ProviderID]schemas.KeyStatus
	initialized bool
}

// New builds a client and registers the given providers.
func New(opts ClientOptions) *BYOKClient {
	logger := opts.Logger
	if logger == nil {
		logger = NewDefaultLogger(schemas.LogLevelInfo)
	}
	store := opts.Storage
	if store == nil {
		store = storage.NewMemoryStorage()
	}
	autoValidate := true
	if opts.AutoValidate != nil {
		autoValidate = *opts.AutoValidate
	}
	ttl := opts.ValidationTTL
	if ttl == 0 {
		ttl = DefaultValidationTTL
	}

	c := &BYOKClient{
		storage:       store,
		logger:        logger,
		emitter:       newEventEmitter(logger),
		autoValidate:  autoValidate,
		validationTTL: ttl,
		globalFilter:  opts.GlobalModelFilter,
		modelConfig:   opts.ModelConfig,
		providers:     make(map[schemas.ProviderID]schemas.Provider),
		keys:          make(map[schemas.ProviderID]schemas.KeyStatus),
	}
	for _, provider := range opts.Providers {
		c.registerProvider(provider)
	}
	return c
}

func (c *BYOKClient) registerProvider(provider schemas.Provider) {
	id := provider.Config().ID

	c.mu.Lock()
	if _, exists := c.providers[id]; exists {
		c.logger.Warn(fmt.Sprintf("provider %s already registered, replacing", id))
	} else {
		c.order = append(c.order, id)
	}
	c.providers[id] = provider
	c.keys[id] = schemas.KeyStatus{}
	c.mu.Unlock()

	c.emitter.Emit(schemas.Event{Type: schemas.EventProviderAdded, Provider: id})
	c.emitStateChanged()
}

// Provider returns the registered adapter for id.
func (c *BYOKClient) Provider(id schemas.ProviderID) (schemas.Provider, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.providers[id]
	return p, ok
}

// Providers returns the registered adapters in registration order.
func (c *BYOKClient) Providers() []schemas.Provider {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]schemas.Provider, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.providers[id])
	}
	return out
}

// Subscribe registers an event listener and returns its unsubscribe
// function. Listeners run synchronously on the goroutine that triggered the
// event.
func (c *BYOKClient) Subscribe(listener schemas.EventListener) func() {
	return c.emitter.Subscribe(listener)
}

// State returns a snapshot of the whole client.
func (c *BYOKClient) State() schemas.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stateLocked()
}

func (c *BYOKClient) stateLocked() schemas.State {
	snapshot := schemas.State{
		Providers:   append([]schemas.ProviderID(nil), c.order...),
		Keys:        make(map[schemas.ProviderID]schemas.KeyStatus, len(c.keys)),
		Initialized: c.initialized,
	}
	for id, status := range c.keys {
		snapshot.Keys[id] = status
	}
	return snapshot
}

func (c *BYOKClient) emitStateChanged() {
	state := c.State()
	c.emitter.Emit(schemas.Event{Type: schemas.EventStateChanged, State: &state})
}

// setStatus replaces a provider's KeyStatus and emits state:changed.
func (c *BYOKClient) setStatus(id schemas.ProviderID, status schemas.KeyStatus) {
	c.mu.Lock()
	c.keys[id] = status
	c.mu.Unlock()
	c.emitStateChanged()
}

func lastFour(key string) string {
	if len(key) <= 4 {
		return key
	}
	return key[len(key)-4:]
}

// SetKey validates the key against the vendor and, only on success,
// persists it and initializes the adapter. The returned result mirrors what
// key:validated carries.
func (c *BYOKClient) SetKey(ctx context.Context, id schemas.ProviderID, key string, metadata *schemas.KeyMetadata) (*schemas.KeyValidationResult, *schemas.Error) {
	provider, ok := c.Provider(id)
	if !ok {
		return nil, schemas.NewProviderError(id, schemas.ErrCodeUnknownProvider, fmt.Sprintf("provider %s not registered", id))
	}

	c.setStatus(id, schemas.KeyStatus{HasKey: true, IsValidating: true, LastFour: lastFour(key)})
	c.emitter.Emit(schemas.Event{Type: schemas.EventKeyValidating, Provider: id})

	result := provider.ValidateKey(ctx, key)
	if result == nil {
		result = &schemas.KeyValidationResult{Valid: false, Error: "validation returned no result", ErrorCode: schemas.ValidationErrUnknown}
	}

	if !result.Valid {
		c.setStatus(id, schemas.KeyStatus{
			IsValid: schemas.BoolPtr(false),
			Error:   result.Error,
		})
		c.emitter.Emit(schemas.Event{Type: schemas.EventKeySet, Provider: id, Valid: schemas.BoolPtr(false)})
		c.emitter.Emit(schemas.Event{Type: schemas.EventKeyValidated, Provider: id, Valid: schemas.BoolPtr(false)})
		return result, nil
	}

	now := time.Now()
	meta := schemas.KeyMetadata{CreatedAt: now, LastValidated: now}
	if metadata != nil {
		meta = *metadata
		if meta.CreatedAt.IsZero() {
			meta.CreatedAt = now
		}
		meta.LastValidated = now
	}
	if err := c.storage.Set(ctx, id, schemas.StoredKey{Key: key, Metadata: meta}); err != nil {
		c.setStatus(id, schemas.KeyStatus{
			IsValid: schemas.BoolPtr(false),
			Error:   err.Message,
		})
		return nil, err
	}

	provider.Initialize(key)

	models := c.applyModelFilters(id, result.Models)
	c.setStatus(id, schemas.KeyStatus{
		HasKey:        true,
		IsValid:       schemas.BoolPtr(true),
		LastValidated: now,
		LastFour:      lastFour(key),
		Models:        models,
		SelectedModel: c.defaultModel(id, models),
	})
	c.emitter.Emit(schemas.Event{Type: schemas.EventKeySet, Provider: id, Valid: schemas.BoolPtr(true)})
	c.emitter.Emit(schemas.Event{Type: schemas.EventKeyValidated, Provider: id, Valid: schemas.BoolPtr(true)})
	return result, nil
}

// RemoveKey deletes the stored key and resets the provider's status,
// regardless of current validity.
func (c *BYOKClient) RemoveKey(ctx context.Context, id schemas.ProviderID) *schemas.Error {
	if _, ok := c.Provider(id); !ok {
		return schemas.NewProviderError(id, schemas.ErrCodeUnknownProvider, fmt.Sprintf("provider %s not registered", id))
	}
	if err := c.storage.Remove(ctx, id); err != nil {
		return err
	}
	c.setStatus(id, schemas.KeyStatus{})
	c.emitter.Emit(schemas.Event{Type: schemas.EventKeyRemoved, Provider: id})
	return nil
}

// HasKey reports whether the provider currently holds a key.
func (c *BYOKClient) HasKey(id schemas.ProviderID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.keys[id].HasKey
}

// KeyStatus returns the provider's current status snapshot.
func (c *BYOKClient) KeyStatus(id schemas.ProviderID) (schemas.KeyStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	status, ok := c.keys[id]
	return status, ok
}

// ValidateKey checks the stored key for a provider. A verdict younger than
// the validation TTL is returned from cache without touching the network.
func (c *BYOKClient) ValidateKey(ctx context.Context, id schemas.ProviderID) (*schemas.KeyValidationResult, *schemas.Error) {
	if _, ok := c.Provider(id); !ok {
		return nil, schemas.NewProviderError(id, schemas.ErrCodeUnknownProvider, fmt.Sprintf("provider %s not registered", id))
	}

	stored, err := c.storage.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return &schemas.KeyValidationResult{
			Valid: false, Error: "no key stored for this provider", ErrorCode: schemas.ValidationErrUnknown,
		}, nil
	}

	c.mu.RLock()
	status := c.keys[id]
	c.mu.RUnlock()
	if status.IsValid != nil && !status.LastValidated.IsZero() &&
		time.Since(status.LastValidated) < c.validationTTL {
		return &schemas.KeyValidationResult{Valid: *status.IsValid, Error: status.Error}, nil
	}

	return c.SetKey(ctx, id, stored.Key, &stored.Metadata)
}

func (c *BYOKClient) initializedProvider(id schemas.ProviderID) (schemas.Provider, *schemas.Error) {
	provider, ok := c.Provider(id)
	if !ok {
		return nil, schemas.NewProviderError(id, schemas.ErrCodeUnknownProvider, fmt.Sprintf("provider %s not registered", id))
	}
	if provider.Config().RequiresKey && !provider.IsInitialized() {
		return nil, schemas.NewProviderError(id, schemas.ErrCodeNoKey, fmt.Sprintf("provider %s not initialized with an API key", id))
	}
	return provider, nil
}

// Chat dispatches a blocking completion to the provider. It fails before
// any network call when the provider is unregistered or keyless.
func (c *BYOKClient) Chat(ctx context.Context, id schemas.ProviderID, req *schemas.ChatRequest) (*schemas.ChatResponse, *schemas.Error) {
	provider, err := c.initializedProvider(id)
	if err != nil {
		return nil, err
	}
	return provider.Chat(ctx, req)
}

// ChatStream dispatches a streaming completion to the provider.
func (c *BYOKClient) ChatStream(ctx context.Context, id schemas.ProviderID, req *schemas.ChatRequest) (<-chan *schemas.ChatStreamChunk, *schemas.Error) {
	provider, err := c.initializedProvider(id)
	if err != nil {
		return nil, err
	}
	return provider.ChatStream(ctx, req)
}

// Models returns the provider's cached, filtered model list.
func (c *BYOKClient) Models(id schemas.ProviderID) []schemas.ModelInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.keys[id].Models
}

// SelectModel picks the active model for a provider. The model must be in
// the cached filtered list; no network call is made.
func (c *BYOKClient) SelectModel(id schemas.ProviderID, modelID string) *schemas.Error {
	c.mu.Lock()
	status, ok := c.keys[id]
	if !ok {
		c.mu.Unlock()
		return schemas.NewProviderError(id, schemas.ErrCodeUnknownProvider, fmt.Sprintf("provider %s not registered", id))
	}
	found := false
	for _, m := range status.Models {
		if m.ID == modelID {
			found = true
			break
		}
	}
	if !found {
		c.mu.Unlock()
		return schemas.NewProviderError(id, schemas.ErrCodeModelNotFound, fmt.Sprintf("model %s not available for provider %s", modelID, id))
	}
	status.SelectedModel = modelID
	c.keys[id] = status
	c.mu.Unlock()

	c.emitStateChanged()
	c.emitter.Emit(schemas.Event{Type: schemas.EventModelSelected, Provider: id, Model: modelID})
	return nil
}

// SelectedModel returns the provider's active model id, empty when none.
func (c *BYOKClient) SelectedModel(id schemas.ProviderID) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.keys[id].SelectedModel
}

// RefreshModels refetches the provider's catalog, reapplies filters, and
// caches the result.
func (c *BYOKClient) RefreshModels(ctx context.Context, id schemas.ProviderID) ([]schemas.ModelInfo, *schemas.Error) {
	provider, err := c.initializedProvider(id)
	if err != nil {
		return nil, err
	}
	models, err := provider.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	filtered := c.applyModelFilters(id, models)

	c.mu.Lock()
	status := c.keys[id]
	status.Models = filtered
	if status.SelectedModel != "" {
		kept := false
		for _, m := range filtered {
			if m.ID == status.SelectedModel {
				kept = true
				break
			}
		}
		if !kept {
			status.SelectedModel = c.defaultModel(id, filtered)
		}
	}
	c.keys[id] = status
	c.mu.Unlock()

	c.emitStateChanged()
	c.emitter.Emit(schemas.Event{Type: schemas.EventModelsRefreshed, Provider: id, ModelCount: len(filtered)})
	return filtered, nil
}

// Initialize loads persisted keys, eagerly initializes matching adapters,
// and optionally kicks off background re-validation. It is idempotent; a
// second call is a no-op.
func (c *BYOKClient) Initialize(ctx context.Context) *schemas.Error {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return nil
	}
	c.initialized = true
	c.mu.Unlock()

	ids, err := c.storage.List(ctx)
	if err != nil {
		return err
	}

	var revalidate []schemas.ProviderID
	for _, id := range ids {
		provider, ok := c.Provider(id)
		if !ok {
			c.logger.Debug(fmt.Sprintf("skipping stored key for unregistered provider %s", id))
			continue
		}
		stored, err := c.storage.Get(ctx, id)
		if err != nil || stored == nil {
			continue
		}
		provider.Initialize(stored.Key)
		c.setStatus(id, schemas.KeyStatus{
			HasKey:        true,
			LastValidated: stored.Metadata.LastValidated,
			LastFour:      lastFour(stored.Key),
		})
		if c.autoValidate {
			revalidate = append(revalidate, id)
		}
	}

	// Background re-validation must not block Initialize; failures are
	// logged and surfaced as error events only.
	for _, id := range revalidate {
		go func(id schemas.ProviderID) {
			if _, err := c.ValidateKey(context.WithoutCancel(ctx), id); err != nil {
				c.logger.Warn(fmt.Sprintf("background validation for %s failed: %s", id, err.Message))
				c.emitter.Emit(schemas.Event{Type: schemas.EventError, Provider: id, Err: err})
			}
		}(id)
	}

	c.emitStateChanged()
	return nil
}

// Destroy clears listeners and in-memory state. Persisted keys are left
// untouched.
func (c *BYOKClient) Destroy() {
	c.emitter.Clear()
	c.mu.Lock()
	c.providers = make(map[schemas.ProviderID]schemas.Provider)
	c.order = nil
	c.keys = make(map[schemas.ProviderID]schemas.KeyStatus)
	c.initialized = false
	c.mu.Unlock()
}
