package storage

import (
	"context"
	"sync"

	schemas "github.com/keyloom/keyloom/schemas"
)

// MemoryStorage keeps keys in process memory. Contents are lost when the
// process exits; it is the default backend and the one tests use.
type MemoryStorage struct {
	mu   sync.RWMutex
	keys map[schemas.ProviderID]schemas.StoredKey
}

// NewMemoryStorage creates an empty in-memory key store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{keys: make(map[schemas.ProviderID]schemas.StoredKey)}
}

func (s *MemoryStorage) Get(_ context.Context, provider schemas.ProviderID) (*schemas.StoredKey, *schemas.Error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[provider]
	if !ok {
		return nil, nil
	}
	clone := key
	return &clone, nil
}

func (s *MemoryStorage) Set(_ context.Context, provider schemas.ProviderID, key schemas.StoredKey) *schemas.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[provider] = key
	return nil
}

func (s *MemoryStorage) Remove(_ context.Context, provider schemas.ProviderID) *schemas.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, provider)
	return nil
}

func (s *MemoryStorage) List(_ context.Context) ([]schemas.ProviderID, *schemas.Error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	providers := make([]schemas.ProviderID, 0, len(s.keys))
	for provider := range s.keys {
		providers = append(providers, provider)
	}
	return providers, nil
}

func (s *MemoryStorage) Clear(_ context.Context) *schemas.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = make(map[schemas.ProviderID]schemas.StoredKey)
	return nil
}
