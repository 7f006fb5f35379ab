package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, StorageDriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, 6, cfg.Game.DefaultRows)
	assert.Equal(t, 7, cfg.Game.DefaultCols)
	assert.Equal(t, 1200, cfg.Rating.DefaultRating)
	require.NotNil(t, cfg.Rating.Floor)
	assert.Equal(t, 100, *cfg.Rating.Floor)
	assert.Len(t, cfg.Rating.KFactors, 3)
	assert.Equal(t, 5*time.Second, cfg.Postgres.LockTimeout)
	assert.Equal(t, "game-settlements", cfg.Kafka.Topic)
}

func TestLoadRatingTable(t *testing.T) {
	path := writeConfig(t, `
storage:
  driver: memory
rating:
  default_rating: 1200
  floor: 800
  k_factors:
    - {max_games: 10, k: 40}
    - {max_games: 30, k: 24}
    - {k: 16}
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	table := cfg.Rating.Table()
	assert.Equal(t, 800, table.Floor)
	assert.Equal(t, 24.0, table.KFactors.K(12, 1500))
	assert.Equal(t, 16.0, table.KFactors.K(31, 1500))
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("POWER4_API_KEY", "secret")
	cfg, err := Load(writeConfig(t, "auth:\n  api_key: ${POWER4_API_KEY}\n"))
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.Auth.APIKey)
}

func TestLoadRejectsBadSettings(t *testing.T) {
	_, err := Load(writeConfig(t, "storage:\n  driver: sqlite\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "rating:\n  default_rating: 1000\n  floor: 1000\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "rating:\n  k_factors:\n    - {k: 0}\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "rating:\n  floor: -5\n"))
	assert.Error(t, err)
}

func TestLoadKeepsZeroFloor(t *testing.T) {
	cfg, err := Load(writeConfig(t, "rating:\n  floor: 0\n"))
	require.NoError(t, err)

	require.NotNil(t, cfg.Rating.Floor)
	assert.Equal(t, 0, *cfg.Rating.Floor)
	assert.Equal(t, 0, cfg.Rating.Table().Floor)
	assert.Equal(t, 1200, cfg.Rating.DefaultRating)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.Sync.Enabled)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "postgres://:@localhost:5432/?sslmode=disable", cfg.Postgres.ConnectionString())
}
