package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	schemas "github.com/keyloom/keyloom/schemas"
)

// RedisStorage keeps keys in Redis, one JSON value per provider under
// "<prefix><provider>". Useful when several processes share one key set,
// e.g. a fleet of workers behind a single operator-supplied key.
type RedisStorage struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStorage wraps an existing Redis client. The caller owns the
// client's lifecycle.
func NewRedisStorage(client redis.UniversalClient, prefix string) *RedisStorage {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisStorage{client: client, prefix: prefix}
}

func (s *RedisStorage) key(provider schemas.ProviderID) string {
	return s.prefix + string(provider)
}

func (s *RedisStorage) Get(ctx context.Context, provider schemas.ProviderID) (*schemas.StoredKey, *schemas.Error) {
	data, err := s.client.Get(ctx, s.key(provider)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, schemas.NewOperationError(schemas.ErrCodeStorage, "failed to read key entry", err)
	}
	var key schemas.StoredKey
	if uerr := sonic.Unmarshal(data, &key); uerr != nil || key.Key == "" {
		_ = s.client.Del(ctx, s.key(provider)).Err()
		return nil, nil
	}
	return &key, nil
}

func (s *RedisStorage) Set(ctx context.Context, provider schemas.ProviderID, key schemas.StoredKey) *schemas.Error {
	data, err := sonic.Marshal(key)
	if err != nil {
		return schemas.NewOperationError(schemas.ErrCodeStorage, "failed to encode key entry", err)
	}
	if err := s.client.Set(ctx, s.key(provider), data, 0).Err(); err != nil {
		return schemas.NewOperationError(schemas.ErrCodeStorage, "failed to persist key entry", err)
	}
	return nil
}

func (s *RedisStorage) Remove(ctx context.Context, provider schemas.ProviderID) *schemas.Error {
	if err := s.client.Del(ctx, s.key(provider)).Err(); err != nil {
		return schemas.NewOperationError(schemas.ErrCodeStorage, "failed to remove key entry", err)
	}
	return nil
}

func (s *RedisStorage) List(ctx context.Context) ([]schemas.ProviderID, *schemas.Error) {
	var providers []schemas.ProviderID
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		id := strings.TrimPrefix(iter.Val(), s.prefix)
		if id == "" || id == saltEntry {
			continue
		}
		providers = append(providers, schemas.ProviderID(id))
	}
	if err := iter.Err(); err != nil {
		return nil, schemas.NewOperationError(schemas.ErrCodeStorage, "failed to scan key entries", err)
	}
	return providers, nil
}

func (s *RedisStorage) Clear(ctx context.Context) *schemas.Error {
	providers, kerr := s.List(ctx)
	if kerr != nil {
		return kerr
	}
	for _, provider := range providers {
		if err := s.Remove(ctx, provider); err != nil {
			return err
		}
	}
	return nil
}
