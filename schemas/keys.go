package schemas

import "time"

// StoredKey is the persisted record for one provider's key material.
type StoredKey struct {
	Key      string      `json:"key"`
	Metadata KeyMetadata `json:"metadata"`
}

// KeyMetadata carries bookkeeping persisted alongside a key.
type KeyMetadata struct {
	CreatedAt     time.Time `json:"created_at"`
	LastValidated time.Time `json:"last_validated,omitzero"`
	Label         string    `json:"label,omitempty"`
}

// KeyValidationErrorCode classifies why a key failed validation.
type KeyValidationErrorCode string

const (
	ValidationErrInvalidKey   KeyValidationErrorCode = "invalid_key"
	ValidationErrRateLimited  KeyValidationErrorCode = "rate_limited"
	ValidationErrNetworkError KeyValidationErrorCode = "network_error"
	ValidationErrUnknown      KeyValidationErrorCode = "unknown"
)

// RateLimitInfo reports vendor rate-limit headers observed during validation,
// when the vendor exposes them.
type RateLimitInfo struct {
	RequestsRemaining int       `json:"requests_remaining,omitempty"`
	TokensRemaining   int       `json:"tokens_remaining,omitempty"`
	ResetsAt          time.Time `json:"resets_at,omitzero"`
}

// KeyValidationResult is the outcome of a live key check. Models is set when
// validation fetched the catalog as a side effect, sparing a second call.
type KeyValidationResult struct {
	Valid     bool                   `json:"valid"`
	Error     string                 `json:"error,omitempty"`
	ErrorCode KeyValidationErrorCode `json:"error_code,omitempty"`
	Models    []ModelInfo            `json:"models,omitempty"`
	RateLimit *RateLimitInfo         `json:"rate_limit,omitempty"`
}

// KeyStatus is the client's view of one provider's key state machine.
// IsValid is a tri-state: nil means not yet validated, a pointer to true or
// false records the last validation outcome.
type KeyStatus struct {
	HasKey       bool  `json:"has_key"`
	IsValid      *bool `json:"is_valid"`
	IsValidating bool  `json:"is_validating"`

	LastValidated time.Time `json:"last_validated,omitzero"`
	Error         string    `json:"error,omitempty"`

	// LastFour is the key's tail for masked display, empty when no key is set.
	LastFour string `json:"last_four,omitempty"`

	Models        []ModelInfo `json:"models,omitempty"`
	SelectedModel string      `json:"selected_model,omitempty"`
}

// State is a snapshot of the whole client: per-provider key statuses in
// registration order.
type State struct {
	Providers   []ProviderID             `json:"providers"`
	Keys        map[ProviderID]KeyStatus `json:"keys"`
	Initialized bool                     `json:"initialized"`
}

// BoolPtr returns a pointer to b, for tri-state fields.
func BoolPtr(b bool) *bool { return &b }
