package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveWSURL(t *testing.T) {
	ws, err := DeriveWSURL("http://node:26657")
	require.NoError(t, err)
	assert.Equal(t, "ws://node:26657/websocket", ws)

	ws, err = DeriveWSURL("https://rpc.example.com/")
	require.NoError(t, err)
	assert.Equal(t, "wss://rpc.example.com/websocket", ws)

	_, err = DeriveWSURL("tcp://node:26657")
	assert.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RPC_URL", "")
	t.Setenv("WS_URL", "")
	t.Setenv("TARGET_HEIGHT", "")
	t.Setenv("POLL_INTERVAL", "")
	t.Setenv("DEBUG", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DASHBOARD_NO_EMOJI", "")

	cfg := Load()
	assert.Equal(t, DefaultRPCURL, cfg.RPCURL)
	assert.False(t, cfg.DashboardNoEmoji)
	assert.Equal(t, "ws://localhost:26657/websocket", cfg.WSURL)
	assert.Equal(t, DefaultPostTargetBlocks, cfg.PostTargetBlocks)
	assert.Equal(t, DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, DefaultResultDir, cfg.ResultDir)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.DBDialect)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RPC_URL", "https://rpc.example.com/")
	t.Setenv("WS_URL", "")
	t.Setenv("TARGET_HEIGHT", "1200")
	t.Setenv("POST_TARGET_BLOCKS", "3")
	t.Setenv("POLL_INTERVAL", "250ms")
	t.Setenv("DEBUG", "yes")
	t.Setenv("DATABASE_URL", "postgresql://user:secret@db:5432/obs")
	t.Setenv("DASHBOARD_NO_EMOJI", "on")

	cfg := Load()
	assert.True(t, cfg.DashboardNoEmoji)
	assert.Equal(t, "https://rpc.example.com", cfg.RPCURL)
	assert.Equal(t, "wss://rpc.example.com/websocket", cfg.WSURL)
	assert.Equal(t, int64(1200), cfg.TargetHeight)
	assert.Equal(t, 3, cfg.PostTargetBlocks)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, DatabaseSchemePostgres, cfg.DBDialect)
	assert.NotContains(t, cfg.DebugString(), "secret")
}

func TestValidate(t *testing.T) {
	base := Config{RPCURL: DefaultRPCURL, WSURL: "ws://localhost:26657/websocket"}

	cfg := base
	assert.Error(t, cfg.Validate(), "needs a target, save all or no save")

	cfg = base
	cfg.TargetHeight = 10
	assert.NoError(t, cfg.Validate())

	cfg = base
	cfg.SaveAll = true
	assert.NoError(t, cfg.Validate())

	cfg = base
	cfg.NoSave = true
	assert.NoError(t, cfg.Validate())

	cfg.SaveAll = true
	assert.Error(t, cfg.Validate())

	cfg = base
	cfg.NoSave = true
	cfg.TargetHeight = 5
	assert.Error(t, cfg.Validate())

	cfg = base
	cfg.Dashboard = true
	assert.NoError(t, cfg.Validate())
}

func TestMaskDSN(t *testing.T) {
	assert.Equal(t, "postgres://user@db/obs", maskDSN(DatabaseSchemePostgres, "postgres://user:pw@db/obs"))
	assert.Equal(t, "host=db password=*** user=u", maskDSN(DatabaseSchemePostgres, "host=db password=pw user=u"))
}
