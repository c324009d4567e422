package replayflow

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 3, cfg.Resolver.MaxFrameDepth)
	assert.Equal(t, 5, cfg.Resolver.MaxCandidates)
	assert.Equal(t, 30*time.Second, cfg.Wait.DefaultTimeout)
	assert.Equal(t, 400*time.Millisecond, cfg.Wait.PollInterval)
	assert.NotEmpty(t, cfg.Auth.URLPatterns)
	assert.NoError(t, cfg.Validate())
}

func TestDefaultConfig_AuthListsAreCopies(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth.URLPatterns[0] = "changed"
	assert.NotEqual(t, "changed", DefaultAuthConfig.URLPatterns[0])
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_YAMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
workers: 2
resolver:
  selector_timeout: 2s
auth:
  url_patterns: ["sso.example.edu"]
  title_keywords: ["Log in"]
store:
  backend: dynamodb
  table_name: runs
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 2*time.Second, cfg.Resolver.SelectorTimeout)
	assert.Equal(t, 3*time.Second, cfg.Resolver.HeuristicTimeout, "unset fields keep defaults")
	assert.Equal(t, []string{"sso.example.edu"}, cfg.Auth.URLPatterns)
	assert.Equal(t, "runs", cfg.Store.TableName)
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Store.Backend = "dynamodb"
	assert.Error(t, cfg.Validate(), "dynamodb requires a table name")

	cfg = DefaultConfig()
	cfg.Events.Backend = "kafka"
	assert.Error(t, cfg.Validate(), "kafka requires brokers")
}
