package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsFromEnvOnly(t *testing.T) {
	cfg, err := Load("", true)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, "mongo", cfg.Storage.Driver)
	require.Equal(t, "skin_sync", cfg.Mongo.DBName)
	require.Equal(t, "Asia/Shanghai", cfg.Time.Source)
	require.Equal(t, "Asia/Ho_Chi_Minh", cfg.Time.Display)
	require.Equal(t, "*/10 * * * *", cfg.Sync.Cron)
	require.True(t, cfg.Browser.Headless)
	require.Equal(t, 12*time.Hour, cfg.Target.TokenTTL)

	opts := cfg.Fetch.Options()
	require.Equal(t, 800*time.Millisecond, opts.PageDelay)
	require.Equal(t, 2*time.Second, opts.ErrorDelay)
	require.Equal(t, 5, opts.MaxFetchRetries)
	require.Equal(t, 5000, opts.MaxPages)
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
storage:
  driver: memory
mongo:
  host: db:27017
  dbname: skins
target:
  username: alice
fetch:
  pageDelay: 100ms
  maxFetchRetries: 2
`), 0o600))
	t.Setenv("SKIN_TARGET_PASSWORD", "from-env")
	t.Setenv("SKIN_SERVER_ADDR", ":7070")

	cfg, err := Load(path, false)
	require.NoError(t, err)
	require.Equal(t, ":7070", cfg.Server.Addr)
	require.Equal(t, "memory", cfg.Storage.Driver)
	require.Equal(t, "db:27017", cfg.Mongo.Host)
	require.Equal(t, "skins", cfg.Mongo.DBName)
	require.Equal(t, "alice", cfg.Target.Username)
	require.Equal(t, "from-env", cfg.Target.Password)
	require.Equal(t, 100*time.Millisecond, cfg.Fetch.PageDelay)
	require.Equal(t, 2, cfg.Fetch.MaxFetchRetries)
	require.Equal(t, 5, cfg.Fetch.EmptyPageStop)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), false)
	require.Error(t, err)
}
