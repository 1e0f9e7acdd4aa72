// Package config loads client configuration from YAML files: storage
// backend selection, validation policy, logging and per-provider model
// filters. Provider adapters themselves are constructed by the caller; the
// file only carries the knobs that make sense as deployment configuration.
package config

import (
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	keyloom "github.com/keyloom/keyloom"
	schemas "github.com/keyloom/keyloom/schemas"
	"github.com/keyloom/keyloom/storage"
)

// BackendRedis selects the Redis key store, which needs the redis section
// of the file in addition to the shared storage options.
const BackendRedis storage.Backend = "redis"

// RedisConfig carries connection settings for the Redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LoggingConfig selects the log level and output format.
type LoggingConfig struct {
	Level  schemas.LogLevel         `yaml:"level"`
	Format keyloom.LoggerOutputType `yaml:"format"`
}

// File is the parsed YAML document.
type File struct {
	Storage storage.Options `yaml:"storage"`
	Redis   *RedisConfig    `yaml:"redis"`

	AutoValidate  *bool  `yaml:"auto_validate"`
	ValidationTTL string `yaml:"validation_ttl"` // Go duration string, e.g. "1h"

	Logging LoggingConfig `yaml:"logging"`

	ModelFilter *schemas.ModelFilter                   `yaml:"model_filter"`
	Providers   map[string]schemas.ProviderModelConfig `yaml:"providers"`

	// ProxyURL is handed to provider constructors that support routing
	// through an HTTP proxy. Empty means direct.
	ProxyURL string `yaml:"proxy_url"`
}

// Environment variables that override where key material lives, taking
// precedence over the file so deployments can relocate secrets without
// editing shipped configuration.
const (
	EnvStorageDir = "KEYLOOM_STORAGE_DIR"
	EnvRedisAddr  = "KEYLOOM_REDIS_ADDR"
)

// Load reads and parses a YAML config file, applying environment
// overrides.
func Load(path string) (*File, *schemas.Error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, schemas.NewOperationError(schemas.ErrCodeStorage, "failed to read config file "+path, err)
	}
	file, parseErr := Parse(data)
	if parseErr != nil {
		return nil, parseErr
	}
	if dir := os.Getenv(EnvStorageDir); dir != "" {
		file.Storage.Dir = dir
	}
	if addr := os.Getenv(EnvRedisAddr); addr != "" {
		if file.Redis == nil {
			file.Redis = &RedisConfig{}
		}
		file.Redis.Addr = addr
	}
	return file, nil
}

// Parse decodes and validates a YAML config document.
func Parse(data []byte) (*File, *schemas.Error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, schemas.NewOperationError(schemas.ErrCodeDecode, "invalid config file", err)
	}

	for name := range file.Providers {
		if !knownProvider(schemas.ProviderID(name)) {
			return nil, schemas.NewError(schemas.ErrCodeUnknownProvider, "unknown provider in config: "+name)
		}
	}
	if file.ValidationTTL != "" {
		if _, err := time.ParseDuration(file.ValidationTTL); err != nil {
			return nil, schemas.NewOperationError(schemas.ErrCodeDecode, "invalid validation_ttl", err)
		}
	}
	if file.Storage.Backend == BackendRedis && (file.Redis == nil || file.Redis.Addr == "") {
		return nil, schemas.NewError(schemas.ErrCodeStorage, "redis backend requires a redis.addr setting")
	}
	return &file, nil
}

func knownProvider(id schemas.ProviderID) bool {
	for _, known := range schemas.StandardProviders {
		if id == known {
			return true
		}
	}
	return false
}

// ClientOptions materializes the file into options for keyloom.New,
// constructing the configured storage backend and logger. Providers are
// left empty for the caller to fill in.
func (f *File) ClientOptions() (keyloom.ClientOptions, *schemas.Error) {
	opts := keyloom.ClientOptions{
		AutoValidate:      f.AutoValidate,
		GlobalModelFilter: f.ModelFilter,
	}

	if f.ValidationTTL != "" {
		ttl, err := time.ParseDuration(f.ValidationTTL)
		if err != nil {
			return keyloom.ClientOptions{}, schemas.NewOperationError(schemas.ErrCodeDecode, "invalid validation_ttl", err)
		}
		opts.ValidationTTL = ttl
	}

	if len(f.Providers) > 0 {
		opts.ModelConfig = make(map[schemas.ProviderID]schemas.ProviderModelConfig, len(f.Providers))
		for name, cfg := range f.Providers {
			opts.ModelConfig[schemas.ProviderID(name)] = cfg
		}
	}

	store, err := f.buildStorage()
	if err != nil {
		return keyloom.ClientOptions{}, err
	}
	opts.Storage = store

	if f.Logging.Level != "" {
		logger := keyloom.NewDefaultLogger(f.Logging.Level)
		if f.Logging.Format != "" {
			logger.SetOutputType(f.Logging.Format)
		}
		opts.Logger = logger
	}
	return opts, nil
}

func (f *File) buildStorage() (storage.KeyStorage, *schemas.Error) {
	if f.Storage.Backend == BackendRedis {
		prefix := f.Storage.Prefix
		client := redis.NewClient(&redis.Options{
			Addr:     f.Redis.Addr,
			Password: f.Redis.Password,
			DB:       f.Redis.DB,
		})
		return storage.NewRedisStorage(client, prefix), nil
	}
	return storage.New(f.Storage)
}
