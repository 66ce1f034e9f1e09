package configs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigFrom_Defaults(t *testing.T) {
	cfg, err := LoadConfigFrom(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, "8080", cfg.Server.Port)
	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "@every 30s", cfg.Scheduler.ReconcileSpec)
	require.Equal(t, "log", cfg.Broker.Kind)
	require.Equal(t, "authjs.session-token", cfg.Auth.CookieName)
	require.Equal(t, 30*time.Second, cfg.PingInterval())
}

func TestLoadConfigFrom_SubstitutesEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := "server:\n  port: ${TEST_AUCTION_PORT}\n  logLevel: info\ndatabase:\n  driver: memory\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("TEST_AUCTION_PORT", "9090")

	cfg, err := LoadConfigFrom(dir)
	require.NoError(t, err)
	require.Equal(t, "9090", cfg.Server.Port)
	require.Equal(t, "info", cfg.Server.LogLevel)
	require.Equal(t, "memory", cfg.Database.Driver)
}

func TestLoadConfigFrom_EmptyEnvKeepsDefault(t *testing.T) {
	dir := t.TempDir()
	yaml := "server:\n  port: ${TEST_AUCTION_UNSET_PORT}\nscheduler:\n  reconcileSpec: ${TEST_AUCTION_UNSET_SPEC}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("TEST_AUCTION_UNSET_PORT", "")

	cfg, err := LoadConfigFrom(dir)
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Server.Port)
	require.Equal(t, "@every 30s", cfg.Scheduler.ReconcileSpec)
}

func TestPingInterval_Invalid(t *testing.T) {
	cfg := &Config{}
	cfg.WebSocket.PingInterval = "soon"
	require.Equal(t, 30*time.Second, cfg.PingInterval())
}
