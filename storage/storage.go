// Package storage provides the pluggable key stores keyloom persists API
// keys with. Every backend speaks the same KeyStorage contract: one JSON
// document per provider under a namespaced identifier.
package storage

import (
	"context"

	schemas "github.com/keyloom/keyloom/schemas"
)

// DefaultPrefix namespaces stored entries so multiple clients can share a
// backend without collisions.
const DefaultPrefix = "keyloom_"

// saltEntry is the reserved identifier the encrypted backend persists its
// KDF salt under. It never appears in List results.
const saltEntry = "__salt__"

// KeyStorage is the contract every key store implements. Get returns
// (nil, nil) for absent providers; corrupted entries are evicted and treated
// as absent rather than surfaced as errors.
type KeyStorage interface {
	Get(ctx context.Context, provider schemas.ProviderID) (*schemas.StoredKey, *schemas.Error)
	Set(ctx context.Context, provider schemas.ProviderID, key schemas.StoredKey) *schemas.Error
	Remove(ctx context.Context, provider schemas.ProviderID) *schemas.Error
	List(ctx context.Context) ([]schemas.ProviderID, *schemas.Error)
	Clear(ctx context.Context) *schemas.Error
}

// EncryptedKeyStorage extends KeyStorage with passphrase management. Data
// operations fail with ErrCodeEncryption until SetEncryptionKey succeeds.
type EncryptedKeyStorage interface {
	KeyStorage

	IsEncrypted() bool
	SetEncryptionKey(passphrase string) *schemas.Error
	ClearEncryptionKey()
}

// Backend selects a storage implementation in Options.
type Backend string

const (
	BackendMemory    Backend = "memory"
	BackendFile      Backend = "file"
	BackendEncrypted Backend = "encrypted"
)

// Options configures the New factory.
type Options struct {
	// Backend defaults to BackendMemory.
	Backend Backend `yaml:"backend"`
	// Prefix namespaces entries, DefaultPrefix when empty.
	Prefix string `yaml:"prefix"`
	// Dir is the directory file-based backends write to. Required for
	// BackendFile and BackendEncrypted.
	Dir string `yaml:"dir"`
}

// New builds a key store from options. Encrypted stores still need
// SetEncryptionKey before use.
func New(opts Options) (KeyStorage, *schemas.Error) {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	switch opts.Backend {
	case BackendMemory, "":
		return NewMemoryStorage(), nil
	case BackendFile:
		return NewFileStorage(opts.Dir, prefix)
	case BackendEncrypted:
		return NewEncryptedFileStorage(opts.Dir, prefix)
	default:
		return nil, schemas.NewError(schemas.ErrCodeStorage, "unknown storage backend: "+string(opts.Backend))
	}
}
