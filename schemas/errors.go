package schemas

import "fmt"

// ErrorCode classifies keyloom errors for programmatic handling.
type ErrorCode string

const (
	// ErrCodeNoKey means the operation needs an API key that is not set.
	ErrCodeNoKey ErrorCode = "no_key"
	// ErrCodeInvalidKey means the vendor rejected the key.
	ErrCodeInvalidKey ErrorCode = "invalid_key"
	// ErrCodeRateLimited means the vendor throttled the request.
	ErrCodeRateLimited ErrorCode = "rate_limited"
	// ErrCodeNetwork covers transport failures: DNS, TLS, timeouts, resets.
	ErrCodeNetwork ErrorCode = "network_error"
	// ErrCodeProviderAPI is a non-2xx vendor response other than auth or
	// rate-limit failures.
	ErrCodeProviderAPI ErrorCode = "provider_error"
	// ErrCodeUnknownProvider means the provider id is not registered.
	ErrCodeUnknownProvider ErrorCode = "unknown_provider"
	// ErrCodeModelNotFound means the requested model is not in the
	// provider's filtered list.
	ErrCodeModelNotFound ErrorCode = "model_not_found"
	// ErrCodeNotSupported means the provider or model lacks the requested
	// feature.
	ErrCodeNotSupported ErrorCode = "not_supported"
	// ErrCodeStorage covers key storage backend failures.
	ErrCodeStorage ErrorCode = "storage_error"
	// ErrCodeEncryption covers encrypted storage failures, including a
	// missing encryption key.
	ErrCodeEncryption ErrorCode = "encryption_error"
	// ErrCodeCanceled means the context was canceled or its deadline passed.
	ErrCodeCanceled ErrorCode = "canceled"
	// ErrCodeDecode means a vendor payload could not be parsed.
	ErrCodeDecode ErrorCode = "decode_error"
	// ErrCodeInternal is the fallback for unclassified failures.
	ErrCodeInternal ErrorCode = "internal_error"
)

// Error is the structured error envelope returned by every keyloom
// operation. Provider is empty for errors that are not tied to a vendor,
// StatusCode is zero unless the error came from an HTTP response.
type Error struct {
	Code       ErrorCode  `json:"code"`
	Provider   ProviderID `json:"provider,omitempty"`
	Message    string     `json:"message"`
	StatusCode int        `json:"status_code,omitempty"`
	Err        error      `json:"-"`
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Provider != "" {
		msg = fmt.Sprintf("%s: %s", e.Provider, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the cause for errors.Is and errors.As.
func (e *Error) Unwrap() error { return e.Err }

// NewError creates an Error with a code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewOperationError wraps a cause for a failed operation.
func NewOperationError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// NewProviderError creates an Error attributed to a provider.
func NewProviderError(provider ProviderID, code ErrorCode, message string) *Error {
	return &Error{Code: code, Provider: provider, Message: message}
}

// NewProviderAPIError records a non-2xx vendor response. The code is derived
// from the HTTP status: 401/403 map to invalid_key, 429 to rate_limited,
// everything else to provider_error.
func NewProviderAPIError(provider ProviderID, statusCode int, message string) *Error {
	code := ErrCodeProviderAPI
	switch statusCode {
	case 401, 403:
		code = ErrCodeInvalidKey
	case 429:
		code = ErrCodeRateLimited
	}
	return &Error{Code: code, Provider: provider, Message: message, StatusCode: statusCode}
}

// WithProvider returns a copy of the error attributed to the provider.
// Errors already carrying a provider id are returned unchanged.
func (e *Error) WithProvider(provider ProviderID) *Error {
	if e == nil || e.Provider != "" {
		return e
	}
	clone := *e
	clone.Provider = provider
	return &clone
}
