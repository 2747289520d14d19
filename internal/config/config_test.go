package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite3", cfg.Store.Driver)
	assert.Equal(t, "docsync.db", cfg.Store.DSN)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, time.Second, cfg.Channel.RetryBaseDelay)
	assert.Equal(t, 5*time.Minute, cfg.Channel.RetryMaxDelay)
	assert.Equal(t, 5, cfg.Channel.MaxFailures)
	assert.Equal(t, 500*time.Millisecond, cfg.Channel.OutboxDebounce)
	assert.Equal(t, 25, cfg.Channel.OutboxMaxQueued)
	assert.Equal(t, 100, cfg.Indexer.PageSize)
	assert.Empty(t, cfg.Cursors.RedisURL)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  driver: pgx
  dsn: postgres://localhost/docsync
reactor:
  name: replica-a
channel:
  poll_interval: 250ms
  max_failures: 3
`), 0o644))
	t.Setenv("DOCSYNC_HTTP_ADDR", "127.0.0.1:9000")
	t.Setenv("DOCSYNC_CHANNEL_MAX_FAILURES", "7")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "pgx", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/docsync", cfg.Store.DSN)
	assert.Equal(t, "replica-a", cfg.Reactor.Name)
	assert.Equal(t, 250*time.Millisecond, cfg.Channel.PollInterval)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTP.Addr)
	assert.Equal(t, 7, cfg.Channel.MaxFailures, "environment overrides the file")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	v := New("")
	v.Set("store.driver", "mysql")
	v.Set("channel.max_failures", 0)
	v.Set("indexer.page_size", 0)

	_, err := FromViper(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
	assert.Contains(t, err.Error(), "channel.max_failures")
	assert.Contains(t, err.Error(), "indexer.page_size")
}

func TestChannelConfig_Request(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	req := cfg.Channel.Request()
	assert.Equal(t, cfg.Channel.RetryBaseDelay, req.RetryBaseDelay)
	assert.Equal(t, cfg.Channel.OutboxMaxQueued, req.OutboxMaxQueued)
	assert.Empty(t, req.URL)
}
