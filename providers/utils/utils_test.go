package utils

import (
	"testing"

	schemas "github.com/keyloom/keyloom/schemas"
)

func TestClassifyValidationError(t *testing.T) {
	tests := []struct {
		name string
		err  *schemas.Error
		want schemas.KeyValidationErrorCode
	}{
		{
			name: "code invalid_key",
			err:  &schemas.Error{Code: schemas.ErrCodeInvalidKey, Message: "bad key"},
			want: schemas.ValidationErrInvalidKey,
		},
		{
			name: "code rate_limited",
			err:  &schemas.Error{Code: schemas.ErrCodeRateLimited, Message: "slow down"},
			want: schemas.ValidationErrRateLimited,
		},
		{
			name: "code network",
			err:  &schemas.Error{Code: schemas.ErrCodeNetwork, Message: "dial tcp: timeout"},
			want: schemas.ValidationErrNetworkError,
		},
		{
			name: "message mentions api key",
			err:  &schemas.Error{Code: schemas.ErrCodeProviderAPI, Message: "Invalid API key provided"},
			want: schemas.ValidationErrInvalidKey,
		},
		{
			name: "message mentions rate limit",
			err:  &schemas.Error{Code: schemas.ErrCodeProviderAPI, Message: "Rate limit reached for requests"},
			want: schemas.ValidationErrRateLimited,
		},
		{
			name: "message mentions connection",
			err:  &schemas.Error{Code: schemas.ErrCodeProviderAPI, Message: "connection refused"},
			want: schemas.ValidationErrNetworkError,
		},
		{
			name: "unclassifiable",
			err:  &schemas.Error{Code: schemas.ErrCodeProviderAPI, Message: "something odd happened"},
			want: schemas.ValidationErrUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyValidationError(tt.err); got != tt.want {
				t.Errorf("ClassifyValidationError() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidationResultFromError(t *testing.T) {
	err := schemas.NewProviderAPIError(schemas.OpenAI, 401, "Incorrect API key provided")
	result := ValidationResultFromError(err)
	if result.Valid {
		t.Fatal("Valid = true, want false")
	}
	if result.ErrorCode != schemas.ValidationErrInvalidKey {
		t.Errorf("ErrorCode = %q, want invalid_key", result.ErrorCode)
	}
	if result.Error == "" {
		t.Error("Error message is empty")
	}
}
