package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	schemas "github.com/keyloom/keyloom/schemas"
	"github.com/keyloom/keyloom/storage"
)

const sampleConfig = `
storage:
  backend: file
  prefix: "acme_"
  dir: "%s"
auto_validate: false
validation_ttl: "30m"
logging:
  level: debug
  format: pretty
model_filter:
  exclude: ["*-preview"]
providers:
  openai:
    default_model: gpt-4o
    filter:
      include: ["gpt-4*"]
      require_capabilities: [tools]
  anthropic:
    default_model: claude-sonnet-4-20250514
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "keyloom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(sampleConfig, dir)), 0o600))
	return path
}

func TestLoadRoundTrip(t *testing.T) {
	file, err := Load(writeSample(t))
	require.Nil(t, err)

	assert.Equal(t, storage.BackendFile, file.Storage.Backend)
	assert.Equal(t, "acme_", file.Storage.Prefix)
	require.NotNil(t, file.AutoValidate)
	assert.False(t, *file.AutoValidate)
	require.Len(t, file.Providers, 2)

	opts, err := file.ClientOptions()
	require.Nil(t, err)

	assert.Equal(t, 30*time.Minute, opts.ValidationTTL)
	require.NotNil(t, opts.GlobalModelFilter)
	assert.Equal(t, []string{"*-preview"}, opts.GlobalModelFilter.Exclude)
	require.NotNil(t, opts.Storage)
	require.NotNil(t, opts.Logger)

	openai := opts.ModelConfig[schemas.OpenAI]
	assert.Equal(t, "gpt-4o", openai.DefaultModel)
	require.NotNil(t, openai.Filter)
	assert.Equal(t, []string{"gpt-4*"}, openai.Filter.Include)
	assert.Equal(t, []schemas.Capability{schemas.CapabilityTools}, openai.Filter.RequireCapabilities)
	assert.Equal(t, "claude-sonnet-4-20250514", opts.ModelConfig[schemas.Anthropic].DefaultModel)
}

func TestParseUnknownProvider(t *testing.T) {
	_, err := Parse([]byte("providers:\n  cohere:\n    default_model: command-r\n"))
	require.NotNil(t, err)
	assert.Equal(t, schemas.ErrCodeUnknownProvider, err.Code)
	assert.Contains(t, err.Message, "cohere")
}

func TestParseInvalidTTL(t *testing.T) {
	_, err := Parse([]byte("validation_ttl: soon\n"))
	require.NotNil(t, err)
	assert.Equal(t, schemas.ErrCodeDecode, err.Code)
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("storage: ["))
	require.NotNil(t, err)
	assert.Equal(t, schemas.ErrCodeDecode, err.Code)
}

func TestParseRedisRequiresAddr(t *testing.T) {
	_, err := Parse([]byte("storage:\n  backend: redis\n"))
	require.NotNil(t, err)
	assert.Equal(t, schemas.ErrCodeStorage, err.Code)
}

func TestRedisBackendConstruction(t *testing.T) {
	file, err := Parse([]byte("storage:\n  backend: redis\nredis:\n  addr: localhost:6379\n"))
	require.Nil(t, err)

	opts, err := file.ClientOptions()
	require.Nil(t, err)
	assert.IsType(t, &storage.RedisStorage{}, opts.Storage)
}

func TestLoadEnvOverrides(t *testing.T) {
	override := t.TempDir()
	t.Setenv(EnvStorageDir, override)
	t.Setenv(EnvRedisAddr, "redis.internal:6380")

	file, err := Load(writeSample(t))
	require.Nil(t, err)
	assert.Equal(t, override, file.Storage.Dir)
	require.NotNil(t, file.Redis)
	assert.Equal(t, "redis.internal:6380", file.Redis.Addr)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NotNil(t, err)
	assert.Equal(t, schemas.ErrCodeStorage, err.Code)
}
