package utils

import schemas "github.com/keyloom/keyloom/schemas"

// NopLogger discards everything. Adapters fall back to it when constructed
// without a logger.
type NopLogger struct{}

func (NopLogger) Debug(string) {}
func (NopLogger) Info(string)  {}
func (NopLogger) Warn(string)  {}
func (NopLogger) Error(error)  {}

// EnsureLogger substitutes a NopLogger for nil.
func EnsureLogger(logger schemas.Logger) schemas.Logger {
	if logger == nil {
		return NopLogger{}
	}
	return logger
}
