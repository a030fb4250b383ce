package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/scrypster/buddy/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_DefaultHostIsLocalhost(t *testing.T) {
	_ = os.Unsetenv("BUDDY_HOST")
	cfg, err := config.LoadConfig()
	assert.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host,
		"Default host must be 127.0.0.1 for security")
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 8484, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Storage.StorageEngine)
	assert.Equal(t, "./data", cfg.Storage.DataPath)
	assert.Equal(t, 1500*time.Millisecond, cfg.Gateway.Cooldown)
	assert.Equal(t, "gemini-3-pro-preview", cfg.Gateway.FullModel)
	assert.Equal(t, "Zephyr", cfg.Voice.DefaultVoice)
	assert.Equal(t, "development", cfg.Security.SecurityMode)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("BUDDY_PORT", "9999")
	t.Setenv("BUDDY_STORAGE_ENGINE", "postgres")
	t.Setenv("BUDDY_COOLDOWN", "2s")
	t.Setenv("BUDDY_FULL_MODEL", "gemini-next")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Storage.StorageEngine)
	assert.Equal(t, 2*time.Second, cfg.Gateway.Cooldown)
	assert.Equal(t, "gemini-next", cfg.Gateway.FullModel)
}

func TestLoadConfig_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("BUDDY_PORT", "not-a-number")
	t.Setenv("BUDDY_COOLDOWN", "soon")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 8484, cfg.Server.Port)
	assert.Equal(t, 1500*time.Millisecond, cfg.Gateway.Cooldown)
}

func TestApplyModelsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte("full: gemini-4-pro\nimage: imagen-x\n"), 0o600))

	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	require.NoError(t, cfg.ApplyModelsFile(path))

	// Overridden fields change, the rest keep their defaults.
	assert.Equal(t, "gemini-4-pro", cfg.Gateway.FullModel)
	assert.Equal(t, "imagen-x", cfg.Gateway.ImageModel)
	assert.Equal(t, "gemini-flash-lite-latest", cfg.Gateway.FastModel)
}

func TestApplyModelsFile_Missing(t *testing.T) {
	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	err = cfg.ApplyModelsFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestApplyModelsFile_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0o600))

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Error(t, cfg.ApplyModelsFile(path))
}
