package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bytedance/sonic"

	schemas "github.com/keyloom/keyloom/schemas"
)

// FileStorage persists one plaintext JSON document per provider in a
// directory, named "<prefix><provider>.json". Entries that fail to parse are
// evicted and reported as absent.
type FileStorage struct {
	mu     sync.Mutex
	dir    string
	prefix string
}

// NewFileStorage creates the directory if needed and returns a file-backed
// key store.
func NewFileStorage(dir, prefix string) (*FileStorage, *schemas.Error) {
	if dir == "" {
		return nil, schemas.NewError(schemas.ErrCodeStorage, "file storage requires a directory")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, schemas.NewOperationError(schemas.ErrCodeStorage, "failed to create storage directory", err)
	}
	return &FileStorage{dir: dir, prefix: prefix}, nil
}

func (s *FileStorage) path(name string) string {
	return filepath.Join(s.dir, s.prefix+name+".json")
}

func (s *FileStorage) Get(_ context.Context, provider schemas.ProviderID) (*schemas.StoredKey, *schemas.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path(string(provider)))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, schemas.NewOperationError(schemas.ErrCodeStorage, "failed to read key entry", err)
	}
	var key schemas.StoredKey
	if err := sonic.Unmarshal(data, &key); err != nil || key.Key == "" {
		// Corrupted entry, evict it.
		_ = os.Remove(s.path(string(provider)))
		return nil, nil
	}
	return &key, nil
}

func (s *FileStorage) Set(_ context.Context, provider schemas.ProviderID, key schemas.StoredKey) *schemas.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := sonic.Marshal(key)
	if err != nil {
		return schemas.NewOperationError(schemas.ErrCodeStorage, "failed to encode key entry", err)
	}
	return s.write(string(provider), data)
}

// write replaces the entry atomically via a temp file rename.
func (s *FileStorage) write(name string, data []byte) *schemas.Error {
	target := s.path(name)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return schemas.NewOperationError(schemas.ErrCodeStorage, "failed to write key entry", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return schemas.NewOperationError(schemas.ErrCodeStorage, "failed to persist key entry", err)
	}
	return nil
}

func (s *FileStorage) Remove(_ context.Context, provider schemas.ProviderID) *schemas.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(string(provider))); err != nil && !os.IsNotExist(err) {
		return schemas.NewOperationError(schemas.ErrCodeStorage, "failed to remove key entry", err)
	}
	return nil
}

func (s *FileStorage) List(_ context.Context) ([]schemas.ProviderID, *schemas.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listEntries()
}

func (s *FileStorage) listEntries() ([]schemas.ProviderID, *schemas.Error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, schemas.NewOperationError(schemas.ErrCodeStorage, "failed to list storage directory", err)
	}
	var providers []schemas.ProviderID
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, s.prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, s.prefix), ".json")
		if id == "" || id == saltEntry {
			continue
		}
		providers = append(providers, schemas.ProviderID(id))
	}
	return providers, nil
}

func (s *FileStorage) Clear(ctx context.Context) *schemas.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	providers, kerr := s.listEntries()
	if kerr != nil {
		return kerr
	}
	for _, provider := range providers {
		if err := os.Remove(s.path(string(provider))); err != nil && !os.IsNotExist(err) {
			return schemas.NewOperationError(schemas.ErrCodeStorage, "failed to clear key entries", err)
		}
	}
	return nil
}
