package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "3001", cfg.Server.Port)
	assert.Equal(t, 30, cfg.Auction.RoundSeconds)
	assert.Equal(t, 5, cfg.Auction.LeaderboardSize)
	assert.False(t, cfg.NATS.Enabled)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9000"
auction:
  round_seconds: 60
  leaderboard_size: 10
nats:
  enabled: true
  url: nats://queue:4222
  subject_prefix: lobby.events
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, 60, cfg.Auction.RoundSeconds)
	assert.Equal(t, 10, cfg.Auction.LeaderboardSize)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "nats://queue:4222", cfg.NATS.URL)
	assert.Equal(t, "lobby.events", cfg.NATS.SubjectPrefix)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("ROUND_SECONDS", "15")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 15, cfg.Auction.RoundSeconds)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsNonPositiveRound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("auction:\n  round_seconds: 0\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
