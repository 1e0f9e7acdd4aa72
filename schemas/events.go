package schemas

// EventType names the client lifecycle events observers can subscribe to.
type EventType string

const (
	// EventKeySet fires after a key validates successfully and is persisted.
	EventKeySet EventType = "key:set"
	// EventKeyRemoved fires after a key is removed from storage and state.
	EventKeyRemoved EventType = "key:removed"
	// EventKeyValidating fires when a validation round-trip begins.
	EventKeyValidating EventType = "key:validating"
	// EventKeyValidated fires when a validation round-trip finishes, whether
	// the key proved valid or not.
	EventKeyValidated EventType = "key:validated"
	// EventProviderAdded fires when a provider adapter is registered.
	EventProviderAdded EventType = "provider:added"
	// EventModelSelected fires when the active model for a provider changes.
	EventModelSelected EventType = "model:selected"
	// EventModelsRefreshed fires after a provider's model list is refetched.
	EventModelsRefreshed EventType = "models:refreshed"
	// EventStateChanged fires after any mutation of the client state.
	EventStateChanged EventType = "state:changed"
	// EventError fires for failures surfaced asynchronously, such as
	// background auto-validation.
	EventError EventType = "error"
)

// Event is the payload delivered to subscribers. Fields beyond Type are set
// per event kind: Provider for provider-scoped events, Valid for
// key:validated, Model for model:selected, ModelCount for models:refreshed,
// State for state:changed, Err for error events.
type Event struct {
	Type     EventType  `json:"type"`
	Provider ProviderID `json:"provider,omitempty"`

	Valid      *bool  `json:"valid,omitempty"`
	Model      string `json:"model,omitempty"`
	ModelCount int    `json:"model_count,omitempty"`

	State *State `json:"state,omitempty"`
	Err   *Error `json:"error,omitempty"`
}

// EventListener receives client events. Listeners run synchronously on the
// emitting goroutine; panics are recovered and logged, never propagated.
type EventListener func(Event)
